package harness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/selfage/bundler-cli/internal/middleware"
	"github.com/selfage/bundler-cli/internal/paths"
)

// DefaultContentTypes covers what bundled web apps usually load.
func DefaultContentTypes() map[string]string {
	return map[string]string{
		".html":  "text/html; charset=utf-8",
		".js":    "text/javascript; charset=utf-8",
		".mjs":   "text/javascript; charset=utf-8",
		".css":   "text/css; charset=utf-8",
		".json":  "application/json",
		".map":   "application/json",
		".png":   "image/png",
		".jpg":   "image/jpeg",
		".jpeg":  "image/jpeg",
		".gif":   "image/gif",
		".svg":   "image/svg+xml",
		".webp":  "image/webp",
		".ico":   "image/x-icon",
		".txt":   "text/plain; charset=utf-8",
		".wasm":  "application/wasm",
		".woff":  "font/woff",
		".woff2": "font/woff2",
	}
}

// StaticServer serves files under a root. A request for an extension
// missing from the table is a configuration error: the request fails and
// the error is reported once on Fatal.
type StaticServer struct {
	app          *fiber.App
	root         paths.Root
	contentTypes map[string]string
	listener     net.Listener
	fatal        chan error
}

// ServerOption configures a StaticServer
type ServerOption func(*serverOptions)

type serverOptions struct {
	traceParent context.Context
}

// WithTraceParent makes request spans children of the span in ctx.
func WithTraceParent(ctx context.Context) ServerOption {
	return func(o *serverOptions) { o.traceParent = ctx }
}

// NewStaticServer builds the fiber app. Nothing is bound until Start.
func NewStaticServer(root paths.Root, contentTypes map[string]string, opts ...ServerOption) *StaticServer {
	if contentTypes == nil {
		contentTypes = DefaultContentTypes()
	}
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}
	s := &StaticServer{
		root:         root,
		contentTypes: contentTypes,
		fatal:        make(chan error, 1),
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "bundage harness",
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	s.app.Use(middleware.Tracing(middleware.TracingConfig{Parent: o.traceParent}))
	s.app.Use(middleware.StructuredLogger())
	s.app.Get("/*", s.serve)
	return s
}

// App exposes the fiber app for in-process requests.
func (s *StaticServer) App() *fiber.App {
	return s.app
}

// Fatal delivers the first unsupported content type error.
func (s *StaticServer) Fatal() <-chan error {
	return s.fatal
}

func (s *StaticServer) serve(c *fiber.Ctx) error {
	rel, err := url.PathUnescape(c.Params("*"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "Not found")
	}
	file, err := s.root.Resolve(rel)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "Not found")
	}
	info, err := os.Stat(file)
	if err != nil || info.IsDir() {
		return fiber.NewError(fiber.StatusNotFound, "Not found")
	}

	ext := filepath.Ext(file)
	contentType, ok := s.contentTypes[ext]
	if !ok {
		err := fmt.Errorf("%w: %q for /%s", ErrUnsupportedContentType, ext, rel)
		select {
		case s.fatal <- err:
		default:
		}
		return err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "Not found")
	}
	c.Set(fiber.HeaderContentType, contentType)
	return c.Send(data)
}

func (s *StaticServer) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).SendString(fe.Message)
	}
	return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
}

// Start binds host:port and serves in the background. It returns the base
// URL, with the actual port when port is 0.
func (s *StaticServer) Start(host string, port int) (string, error) {
	if host == "" {
		host = "localhost"
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return "", fmt.Errorf("failed to bind static server: %w", err)
	}
	s.listener = ln

	go func() {
		if err := s.app.Listener(ln); err != nil && !strings.Contains(err.Error(), "closed") {
			log.Warn().Err(err).Msg("Static server stopped")
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	base := fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(addr.Port)))
	log.Debug().Str("url", base).Str("root", s.root.Dir()).Msg("Static server started")
	return base, nil
}

// Shutdown stops the server.
func (s *StaticServer) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	return s.app.ShutdownWithContext(ctx)
}
