package bundler

import (
	"errors"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Common errors for the bundler package
var (
	// ErrBundleResolution is returned when esbuild fails to parse or link the entry units
	ErrBundleResolution = errors.New("bundle failed")

	// ErrMinifyFailure is returned when the minifier rejects the assembled artifact
	ErrMinifyFailure = errors.New("minify failed")

	// ErrInvalidOptions is returned when a bundle request is malformed
	ErrInvalidOptions = errors.New("invalid bundle options")

	// ErrManifest is returned when the asset extension manifest cannot be read
	ErrManifest = errors.New("invalid asset manifest")
)

var scratchPathPattern = regexp.MustCompile(`\S*bundage-(?:bundle|minify)-[A-Za-z0-9]+/`)

// formatMessages renders esbuild diagnostics without terminal colors. Scratch
// directory prefixes are dropped so the text points at user files only.
func formatMessages(msgs []api.Message, kind api.MessageKind) string {
	formatted := api.FormatMessages(msgs, api.FormatMessagesOptions{
		Kind:          kind,
		TerminalWidth: 0,
	})
	text := strings.TrimSpace(strings.Join(formatted, ""))
	return scratchPathPattern.ReplaceAllString(text, "")
}
