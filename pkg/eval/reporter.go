package eval

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Reporter formats and outputs parity results.
type Reporter struct {
	writer io.Writer
}

// NewReporter creates a new reporter that writes to the given writer.
func NewReporter(w io.Writer) *Reporter {
	if w == nil {
		w = os.Stdout
	}
	return &Reporter{writer: w}
}

// PrintSummary prints a human-readable summary of results.
func (r *Reporter) PrintSummary(result *Result) {
	w := r.writer

	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║              Forseti Golden-Corpus Parity Results              ║")
	fmt.Fprintln(w, "╚════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)

	fmt.Fprintf(w, "📊 Suite: %s\n", result.SuiteName)
	fmt.Fprintf(w, "📅 Time:  %s\n", result.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "⏱️  Duration: %v\n", result.Duration.Round(time.Millisecond))
	fmt.Fprintln(w)

	passRate := float64(result.Passed) / float64(result.Total) * 100
	statusIcon := "✅"
	if result.Failed > 0 {
		statusIcon = "⚠️"
	}
	if passRate < 50 {
		statusIcon = "❌"
	}
	fmt.Fprintf(w, "%s Parity: %d/%d cases byte-identical (%.1f%%)\n",
		statusIcon, result.Passed, result.Total, passRate)
	fmt.Fprintln(w)

	// Per-case rows, failures with their diff
	for _, cr := range result.Results {
		mark := "✅"
		if !cr.Passed {
			mark = "❌"
		}
		fmt.Fprintf(w, "  %s %-40s %8v  %s\n", mark, cr.Name, cr.Duration.Round(time.Microsecond), cr.Status)
		if cr.Error != "" {
			fmt.Fprintf(w, "       error: %s\n", cr.Error)
		}
		if !cr.Passed && cr.Diff != "" {
			fmt.Fprintf(w, "       diff (-golden +engine):\n")
			fmt.Fprintln(w, indent(cr.Diff, "         "))
		}
	}
	fmt.Fprintln(w)
}

// SaveJSON writes the full result as JSON for trend tracking.
func (r *Reporter) SaveJSON(path string, result *Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func indent(s, prefix string) string {
	out := prefix
	for _, c := range s {
		out += string(c)
		if c == '\n' {
			out += prefix
		}
	}
	return out
}
