package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoggedApp(t *testing.T, cfg StructuredLoggerConfig) (*fiber.App, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	cfg.Logger = &logger

	app := fiber.New()
	app.Use(StructuredLogger(cfg))
	app.Get("/app/main.js", func(c *fiber.Ctx) error {
		return c.SendString("console.log(1)")
	})
	app.Get("/missing.png", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not found")
	})
	app.Get("/data.xyz", func(c *fiber.Ctx) error {
		return errors.New("unsupported content type")
	})
	app.Get("/slow.js", func(c *fiber.Ctx) error {
		time.Sleep(20 * time.Millisecond)
		return c.SendString("")
	})
	app.Get("/favicon.ico", func(c *fiber.Ctx) error {
		return c.SendString("")
	})
	return app, &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestDefaultStructuredLoggerConfig(t *testing.T) {
	cfg := DefaultStructuredLoggerConfig()

	assert.Equal(t, []string{"/favicon.ico"}, cfg.SkipPaths)
	assert.Nil(t, cfg.Logger)
	assert.Equal(t, 1*time.Second, cfg.SlowRequestThreshold)
}

func TestStructuredLogger_Levels(t *testing.T) {
	tests := []struct {
		path       string
		wantStatus int
		wantLevel  string
	}{
		{path: "/app/main.js", wantStatus: 200, wantLevel: "debug"},
		{path: "/missing.png", wantStatus: 404, wantLevel: "debug"},
		{path: "/data.xyz", wantStatus: 500, wantLevel: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			app, buf := newLoggedApp(t, DefaultStructuredLoggerConfig())

			resp, err := app.Test(httptest.NewRequest("GET", tt.path, nil))
			require.NoError(t, err)
			defer resp.Body.Close()

			entry := lastEntry(t, buf)
			assert.Equal(t, "HTTP request", entry["message"])
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, tt.path, entry["path"])
			assert.Equal(t, "GET", entry["method"])
			assert.EqualValues(t, tt.wantStatus, entry["status"])
		})
	}
}

func TestStructuredLogger_ResponseBytesAndError(t *testing.T) {
	app, buf := newLoggedApp(t, DefaultStructuredLoggerConfig())

	resp, err := app.Test(httptest.NewRequest("GET", "/app/main.js", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.EqualValues(t, len("console.log(1)"), lastEntry(t, buf)["response_bytes"])

	resp, err = app.Test(httptest.NewRequest("GET", "/data.xyz", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "unsupported content type", lastEntry(t, buf)["error"])
}

func TestStructuredLogger_SlowRequest(t *testing.T) {
	app, buf := newLoggedApp(t, StructuredLoggerConfig{SlowRequestThreshold: time.Millisecond})

	resp, err := app.Test(httptest.NewRequest("GET", "/slow.js", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	entry := lastEntry(t, buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, true, entry["slow_request"])
}

func TestStructuredLogger_SkipPaths(t *testing.T) {
	app, buf := newLoggedApp(t, DefaultStructuredLoggerConfig())

	resp, err := app.Test(httptest.NewRequest("GET", "/favicon.ico", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	assert.Empty(t, buf.String())
}
