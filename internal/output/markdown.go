package output

import (
	"io"

	"github.com/dshills/vibe/internal/engine"
	"github.com/dshills/vibe/internal/format"
	"github.com/dshills/vibe/internal/review"
)

// MarkdownWriter outputs the run summary document.
type MarkdownWriter struct{}

func (m *MarkdownWriter) Write(w io.Writer, res *engine.Result) error {
	ew := &errWriter{w: w}

	ew.printf("## vibe review summary\n\n")
	ew.printf("- Run: `%s`\n", res.RunID)
	ew.printf("- Attempts: %d/%d\n", res.AttemptsUsed, res.MaxAttempts)
	ew.printf("- Termination: %s\n", res.Reason.Display())
	if res.DryRun {
		ew.printf("- Mode: dry run (no remote changes)\n")
	}
	ew.println("")

	lc := res.Lifecycle
	counts := format.NewTable(format.Markdown)
	counts.Header("Observed", "Unresolved", "Resolved")
	counts.Row(lc.Observed, lc.Unresolved, lc.Resolved)
	ew.printf("### Lifecycle\n\n%s\n\n", counts.String())

	sev := format.NewTable(format.Markdown)
	sev.Header("Severity", "Unresolved")
	for _, s := range review.Severities {
		sev.Row(string(s), lc.Severity.Get(s))
	}
	ew.printf("### Unresolved by severity\n\n%s\n\n", sev.String())

	passes := format.NewTable(format.Markdown)
	passes.Header("Pass", "Total", "Unresolved", "Resolved")
	for _, p := range res.Passes {
		passes.Row(string(p.Pass), p.Total, p.Unresolved, p.Resolved)
	}
	ew.printf("### Passes\n\n%s\n\n", passes.String())

	ew.printf("### Unresolved findings\n\n")
	if len(res.Unresolved) == 0 {
		ew.println("None. :white_check_mark:")
	}
	for _, f := range res.Unresolved {
		ew.printf("- **[%s]** `%s` — %s\n", f.Severity, f.Location(), f.Title)
	}
	ew.println("")

	if len(res.Resolved) > 0 {
		ew.printf("<details>\n<summary>Resolved findings (%d)</summary>\n\n", len(res.Resolved))
		for _, f := range res.Resolved {
			ew.printf("- `%s` — %s\n", f.Location(), f.Title)
		}
		ew.printf("\n</details>\n\n")
	}

	if lines := followUpLines(res); len(lines) > 0 {
		ew.printf("### Follow-up\n\n")
		for _, l := range lines {
			ew.printf("- %s\n", l)
		}
		ew.println("")
	}

	if len(res.Warnings) > 0 {
		ew.printf("### Warnings\n\n")
		for _, wr := range res.Warnings {
			ew.printf("- :warning: %s\n", wr)
		}
		ew.println("")
	}
	return ew.err
}
