// Package output formats command results for the bundage CLI.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Format represents the output format
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	// FormatPaths prints produced files one per line and nothing else, for
	// piping into other tools.
	FormatPaths Format = "paths"
)

// ParseFormat parses a format string
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "paths":
		return FormatPaths, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (valid: table, json, yaml, paths)", s)
	}
}

// Structured reports whether results are printed as whole documents
// instead of through PrintFiles and PrintKeyValue.
func (f Format) Structured() bool {
	return f == FormatJSON || f == FormatYAML
}

// Formatter prints command results. Quiet suppresses results but never the
// program output of nrun and prun, which does not go through a Formatter.
type Formatter struct {
	Format    Format
	NoHeaders bool
	Quiet     bool
	Writer    io.Writer
}

// NewFormatter creates a formatter writing to stdout
func NewFormatter(format Format, noHeaders, quiet bool) *Formatter {
	return &Formatter{
		Format:    format,
		NoHeaders: noHeaders,
		Quiet:     quiet,
		Writer:    os.Stdout,
	}
}

// Print outputs a structured result as YAML in yaml mode and as indented
// JSON otherwise.
func (f *Formatter) Print(data interface{}) error {
	if f.Quiet {
		return nil
	}
	if f.Format == FormatYAML {
		encoder := yaml.NewEncoder(f.Writer)
		encoder.SetIndent(2)
		defer func() { _ = encoder.Close() }()
		return encoder.Encode(data)
	}
	encoder := json.NewEncoder(f.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// FileRow is one file a command produced, required or inspected. Kind is
// free-form ("asset", "web", "input") and may be empty.
type FileRow struct {
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Path string `json:"file" yaml:"file"`
}

// PrintFiles lists rows in command order. The KIND column is left out when
// no row has a kind. Paths are printed with forward slashes in every format.
func (f *Formatter) PrintFiles(rows []FileRow) error {
	if f.Quiet {
		return nil
	}

	normalized := make([]FileRow, len(rows))
	withKind := false
	for i, r := range rows {
		normalized[i] = FileRow{Kind: r.Kind, Path: strings.ReplaceAll(r.Path, "\\", "/")}
		withKind = withKind || r.Kind != ""
	}

	switch f.Format {
	case FormatJSON, FormatYAML:
		return f.Print(normalized)
	case FormatPaths:
		for _, r := range normalized {
			if _, err := fmt.Fprintln(f.Writer, r.Path); err != nil {
				return err
			}
		}
		return nil
	}

	if len(normalized) == 0 {
		return nil
	}
	headers := []string{"FILE"}
	if withKind {
		headers = []string{"KIND", "FILE"}
	}
	cells := make([][]string, len(normalized))
	for i, r := range normalized {
		if withKind {
			cells[i] = []string{r.Kind, r.Path}
		} else {
			cells[i] = []string{r.Path}
		}
	}
	f.renderTable(headers, cells)
	return nil
}

func (f *Formatter) renderTable(headers []string, rows [][]string) {
	table := tablewriter.NewWriter(f.Writer)
	if !f.NoHeaders {
		table.SetHeader(headers)
	}

	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)

	table.AppendBulk(rows)
	table.Render()
}

// PrintSuccess prints a one-line summary in table mode
func (f *Formatter) PrintSuccess(message string) {
	if f.Quiet || f.Format != FormatTable {
		return
	}
	_, _ = fmt.Fprintln(f.Writer, message)
}

// PrintKeyValue prints "key: value" in table mode. Structured and paths
// output carry the same facts in the result document or not at all.
func (f *Formatter) PrintKeyValue(key, value string) {
	if f.Quiet || f.Format != FormatTable {
		return
	}
	_, _ = fmt.Fprintf(f.Writer, "%s: %s\n", key, value)
}
