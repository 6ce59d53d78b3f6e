package output

import (
	"io"
	"strconv"
	"strings"

	"github.com/dshills/vibe/internal/engine"
	"github.com/dshills/vibe/internal/format"
	"github.com/dshills/vibe/internal/review"
)

// TextWriter outputs a human-readable terminal summary.
type TextWriter struct{}

func (t *TextWriter) Write(w io.Writer, res *engine.Result) error {
	ew := &errWriter{w: w}

	ew.printf("vibe review: run %s\n", res.RunID)
	if res.Target.Repo != "" {
		ew.printf("Repository: %s", res.Target.Repo)
		if res.Target.PR.Number > 0 {
			ew.printf(" (PR #%d)", res.Target.PR.Number)
		}
		ew.println("")
	}
	ew.println(strings.Repeat("─", 60))
	ew.printf("Attempts: %d/%d  Termination: %s\n", res.AttemptsUsed, res.MaxAttempts, res.Reason.Display())
	if res.DryRun {
		ew.println("Dry run: no remote changes were made")
	}
	ew.println(strings.Repeat("─", 60))

	lc := res.Lifecycle
	tb := format.NewTable(format.Terminal)
	tb.Header("Pass", "Total", "Unresolved", "Resolved")
	for _, p := range res.Passes {
		tb.Row(string(p.Pass), p.Total, p.Unresolved, p.Resolved)
	}
	tb.Footer("lifecycle", lc.Observed, lc.Unresolved, lc.Resolved)
	tb.AlignRight(2, 3, 4)
	ew.println(tb.String())

	var sev []string
	for _, s := range review.Severities {
		sev = append(sev, string(s)+"="+strconv.Itoa(lc.Severity.Get(s)))
	}
	ew.printf("Unresolved by severity: %s\n", strings.Join(sev, " "))

	if len(res.Unresolved) == 0 {
		ew.println("\nNo unresolved findings.")
	} else {
		ew.printf("\nUnresolved (%d)\n", len(res.Unresolved))
		for _, f := range res.Unresolved {
			ew.printf("  %s %s\n", severityIcon(f.Severity), format.Truncate(findingLine(f), 100))
		}
	}
	if len(res.Resolved) > 0 {
		ew.printf("\nResolved (%d)\n", len(res.Resolved))
		for _, f := range res.Resolved {
			ew.printf("  [ok] %s\n", format.Truncate(findingLine(f), 100))
		}
	}

	if lines := followUpLines(res); len(lines) > 0 {
		ew.println("\nFollow-up")
		for _, l := range lines {
			ew.printf("  %s\n", l)
		}
	}
	if len(res.Warnings) > 0 {
		ew.println("\nWarnings")
		for _, wr := range res.Warnings {
			ew.printf("  ! %s\n", wr)
		}
	}
	return ew.err
}

func severityIcon(s review.Severity) string {
	switch s {
	case review.SeverityP0:
		return "[!!!]"
	case review.SeverityP1:
		return "[!!]"
	case review.SeverityP2:
		return "[!]"
	default:
		return "[-]"
	}
}
