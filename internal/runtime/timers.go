package runtime

import (
	"time"

	"github.com/dop251/goja"
)

type timer struct {
	id       int64
	seq      int64
	due      time.Time
	interval time.Duration
	repeat   bool
	fn       goja.Callable
	args     []goja.Value
}

// timerQueue holds pending setTimeout/setInterval callbacks. Callbacks with
// the same due time fire in scheduling order.
type timerQueue struct {
	nextID  int64
	nextSeq int64
	pending map[int64]*timer
}

func newTimerQueue() *timerQueue {
	return &timerQueue{pending: make(map[int64]*timer)}
}

func (q *timerQueue) add(fn goja.Callable, delay time.Duration, repeat bool, args []goja.Value) int64 {
	if delay < 0 {
		delay = 0
	}
	q.nextID++
	q.nextSeq++
	q.pending[q.nextID] = &timer{
		id:       q.nextID,
		seq:      q.nextSeq,
		due:      time.Now().Add(delay),
		interval: delay,
		repeat:   repeat,
		fn:       fn,
		args:     args,
	}
	return q.nextID
}

func (q *timerQueue) remove(id int64) {
	delete(q.pending, id)
}

// next pops the earliest timer. Intervals are rescheduled before their
// callback runs so clearInterval inside the callback removes them.
func (q *timerQueue) next() (*timer, bool) {
	var earliest *timer
	for _, t := range q.pending {
		if earliest == nil || t.due.Before(earliest.due) ||
			(t.due.Equal(earliest.due) && t.seq < earliest.seq) {
			earliest = t
		}
	}
	if earliest == nil {
		return nil, false
	}
	if earliest.repeat {
		q.nextSeq++
		next := *earliest
		next.seq = q.nextSeq
		next.due = earliest.due.Add(earliest.interval)
		if next.interval == 0 {
			next.due = time.Now()
		}
		q.pending[earliest.id] = &next
	} else {
		delete(q.pending, earliest.id)
	}
	return earliest, true
}

func (q *timerQueue) len() int {
	return len(q.pending)
}
