package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StructuredLoggerConfig holds configuration for structured logging
type StructuredLoggerConfig struct {
	// SkipPaths are paths that should not be logged
	SkipPaths []string
	// Logger is the zerolog logger to use (defaults to global log)
	Logger *zerolog.Logger
	// SlowRequestThreshold logs slow requests with WARN level (0 = disabled)
	SlowRequestThreshold time.Duration
}

// DefaultStructuredLoggerConfig returns default configuration
func DefaultStructuredLoggerConfig() StructuredLoggerConfig {
	return StructuredLoggerConfig{
		SkipPaths:            []string{"/favicon.ico"},
		SlowRequestThreshold: 1 * time.Second,
	}
}

// StructuredLogger returns a middleware that logs requests with structured
// logging. Served files are logged at debug level; server errors and slow
// requests stand out at error and warn level.
func StructuredLogger(config ...StructuredLoggerConfig) fiber.Handler {
	cfg := DefaultStructuredLoggerConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		path := c.Path()
		if _, ok := skip[path]; ok {
			return c.Next()
		}

		logger := log.Logger
		if cfg.Logger != nil {
			logger = *cfg.Logger
		}

		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		status := responseStatus(c, err)

		var logEvent *zerolog.Event
		switch {
		case status >= 500:
			logEvent = logger.Error()
		case cfg.SlowRequestThreshold > 0 && duration > cfg.SlowRequestThreshold:
			logEvent = logger.Warn().Bool("slow_request", true)
		default:
			logEvent = logger.Debug()
		}

		logEvent = logEvent.
			Str("method", c.Method()).
			Str("path", path).
			Int("status", status).
			Int64("duration_ms", duration.Milliseconds())
		if err == nil {
			logEvent = logEvent.Int("response_bytes", len(c.Response().Body()))
		} else {
			logEvent = logEvent.Str("error", err.Error())
		}
		logEvent.Msg("HTTP request")

		return err
	}
}

// responseStatus is the status the client will see. An error returned down
// the chain has not been through the error handler yet.
func responseStatus(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}
