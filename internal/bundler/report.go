package bundler

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// WriteReport prints one analysis. Without details only the ten largest
// inputs are listed.
func WriteReport(w io.Writer, a *Analysis, details bool) {
	_, _ = fmt.Fprintf(w, "\n=== %s (%s) ===\n", a.Name, a.Target)
	_, _ = fmt.Fprintf(w, "Bundled size:  %s\n", FormatBytes(a.TotalBytes))
	_, _ = fmt.Fprintf(w, "Artifact size: %s\n", FormatBytes(a.ArtifactBytes))

	if len(a.ExternalImports) > 0 {
		_, _ = fmt.Fprintln(w, "\nExternal modules:")
		for _, imp := range a.ExternalImports {
			_, _ = fmt.Fprintf(w, "  - %s\n", imp)
		}
	}

	if len(a.Inputs) > 0 {
		_, _ = fmt.Fprintln(w, "\nInputs:")
		limit := 10
		if details || limit > len(a.Inputs) {
			limit = len(a.Inputs)
		}

		width := 0
		for _, in := range a.Inputs[:limit] {
			if n := len(shortenPath(in.Path, 50)); n > width {
				width = n
			}
		}
		for _, in := range a.Inputs[:limit] {
			p := shortenPath(in.Path, 50)
			marker := ""
			if in.Asset {
				marker = "  (asset stub)"
			}
			_, _ = fmt.Fprintf(w, "  %s%s  %9s  %5.1f%%%s\n",
				p, strings.Repeat(" ", width-len(p)), FormatBytes(in.BytesInOutput), in.Percentage, marker)
		}
		if rest := len(a.Inputs) - limit; rest > 0 {
			_, _ = fmt.Fprintf(w, "  ... and %d more\n", rest)
		}
	}

	if len(a.Assets) > 0 {
		_, _ = fmt.Fprintln(w, "\nAssets:")
		for _, asset := range a.Assets {
			_, _ = fmt.Fprintf(w, "  - %s\n", asset.RelPath)
		}
	}
	_, _ = fmt.Fprintln(w)
}

// WriteSummary prints one line per analysis, largest artifact first.
func WriteSummary(w io.Writer, analyses []*Analysis) {
	if len(analyses) == 0 {
		return
	}
	sorted := append([]*Analysis(nil), analyses...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ArtifactBytes > sorted[j].ArtifactBytes
	})

	width := len("ARTIFACT")
	for _, a := range sorted {
		if len(a.Name) > width {
			width = len(a.Name)
		}
	}
	rule := fmt.Sprintf("%s  ----------  -----  ------\n", strings.Repeat("-", width))

	_, _ = fmt.Fprintf(w, "\nARTIFACT%s  SIZE        FILES  ASSETS\n", strings.Repeat(" ", width-len("ARTIFACT")))
	_, _ = fmt.Fprint(w, rule)
	total := 0
	for _, a := range sorted {
		total += a.ArtifactBytes
		_, _ = fmt.Fprintf(w, "%s%s  %10s  %5d  %6d\n",
			a.Name, strings.Repeat(" ", width-len(a.Name)), FormatBytes(a.ArtifactBytes), len(a.Inputs), len(a.Assets))
	}
	_, _ = fmt.Fprint(w, rule)
	_, _ = fmt.Fprintf(w, "TOTAL%s  %10s\n\n", strings.Repeat(" ", width-len("TOTAL")), FormatBytes(total))
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int) string {
	const (
		kib = 1024
		mib = 1024 * kib
	)
	switch {
	case n >= mib:
		return fmt.Sprintf("%.2f MiB", float64(n)/mib)
	case n >= kib:
		return fmt.Sprintf("%.2f KiB", float64(n)/kib)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func shortenPath(p string, max int) string {
	if len(p) <= max {
		return p
	}
	return "..." + p[len(p)-max+3:]
}
