package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dshills/vibe/internal/engine"
	"github.com/dshills/vibe/internal/review"
)

func TestMarkdownWriter(t *testing.T) {
	var buf bytes.Buffer
	if err := (&MarkdownWriter{}).Write(&buf, sampleResult()); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"## vibe review summary",
		"`run-42`",
		"Attempts: 5/5",
		"Termination: early-stop (reason=max-attempts)",
		"| 4 | 2 | 2 |",
		"| P1 | 1 |",
		"| security | 1 | 1 | 0 |",
		"`src/a.ts:10` — Token logged",
		"`(no location)` — Add runbook",
		"Resolved findings (1)",
		"`src/b.ts:4` — Slow loop",
		"created #41 (label bug): https://github.com/acme/widgets/issues/41",
		"closed duplicate #39",
		":warning: lifecycle totals unavailable",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestMarkdownWriter_Completed(t *testing.T) {
	res := &engine.Result{RunID: "r", AttemptsUsed: 1, MaxAttempts: 5, Reason: review.ReasonCompleted}
	var buf bytes.Buffer
	if err := (&MarkdownWriter{}).Write(&buf, res); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Termination: completed\n") {
		t.Errorf("completed reason should render verbatim:\n%s", out)
	}
	if !strings.Contains(out, "None. :white_check_mark:") {
		t.Errorf("expected empty unresolved marker:\n%s", out)
	}
	if strings.Contains(out, "### Warnings") || strings.Contains(out, "### Follow-up") {
		t.Errorf("empty sections should be omitted:\n%s", out)
	}
}
