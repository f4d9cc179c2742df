package harness

import (
	"context"
	"fmt"
	"sync"
)

// termination ends a run. Text, when set, is appended to the error
// category before the run stops. err is returned by Run; cause is only
// reported on the Result.
type termination struct {
	code  int
	err   error
	text  string
	cause error
}

type event struct {
	msg  *ConsoleMessage
	term *termination
}

// sequencer serializes console rendering. Events are queued in arrival
// order and drained by a single goroutine that finishes rendering and
// appending one message before starting the next, so slow renders never
// reorder output. A termination travels through the same queue and thus
// lands after every message that arrived before it.
type sequencer struct {
	mu      sync.Mutex
	queue   []event
	stopped bool
	wake    chan struct{}

	output   OutputCollection
	onAppend func(category, text string)
	done     chan termination
}

func newSequencer(onAppend func(category, text string)) *sequencer {
	return &sequencer{
		wake:     make(chan struct{}, 1),
		onAppend: onAppend,
		done:     make(chan termination, 1),
	}
}

// push queues a console message. Messages after a termination are dropped.
func (s *sequencer) push(msg ConsoleMessage) {
	s.enqueue(event{msg: &msg})
}

// terminate queues the end of the run. Only the first termination counts.
func (s *sequencer) terminate(t termination) {
	s.enqueue(event{term: &t})
}

func (s *sequencer) enqueue(e event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if e.term != nil {
		s.stopped = true
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *sequencer) pop() (event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return event{}, false
	}
	e := s.queue[0]
	s.queue[0] = event{}
	s.queue = s.queue[1:]
	return e, true
}

// run drains the queue until a termination is processed, then reports it on
// done. Render calls receive ctx; once ctx is cancelled messages whose
// rendering fails are dropped.
func (s *sequencer) run(ctx context.Context) {
	for {
		e, ok := s.pop()
		if !ok {
			<-s.wake
			continue
		}

		if e.term != nil {
			if e.term.text != "" {
				s.append(CategoryError, e.term.text)
			}
			s.done <- *e.term
			return
		}

		text, err := e.msg.Render(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			text = fmt.Sprintf("<%s: %v>", e.msg.Type, err)
		}
		s.append(Category(e.msg.Type), text)
	}
}

func (s *sequencer) append(category, text string) {
	s.output.append(category, text)
	if s.onAppend != nil {
		s.onAppend(category, text)
	}
}
