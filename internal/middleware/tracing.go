// Package middleware holds the fiber middleware of the harness static
// server.
package middleware

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig holds configuration for the tracing middleware
type TracingConfig struct {
	// Parent is the context request spans are children of, typically the
	// harness run. Defaults to context.Background().
	Parent context.Context

	// TracerName names the instrumentation scope
	TracerName string
}

// Tracing returns a Fiber middleware that creates a span per request
func Tracing(cfg TracingConfig) fiber.Handler {
	parent := cfg.Parent
	if parent == nil {
		parent = context.Background()
	}
	name := cfg.TracerName
	if name == "" {
		name = "bundage-http"
	}
	tracer := otel.Tracer(name)

	return func(c *fiber.Ctx) error {
		ctx, span := tracer.Start(parent, fmt.Sprintf("%s %s", c.Method(), c.Path()),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPMethod(c.Method()),
				semconv.HTTPURL(c.OriginalURL()),
				semconv.HTTPRoute(c.Route().Path),
			),
		)
		defer span.End()
		c.SetUserContext(ctx)

		err := c.Next()

		statusCode := responseStatus(c, err)
		span.SetAttributes(semconv.HTTPStatusCode(statusCode))
		if err == nil {
			span.SetAttributes(attribute.Int("http.response_size", len(c.Response().Body())))
		}

		if statusCode >= 400 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", statusCode))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		if err != nil {
			span.RecordError(err)
		}
		return err
	}
}
