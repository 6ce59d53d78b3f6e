package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/dshills/vibe/internal/review"
)

const roundJSON = `{"version":1,"run_id":"run-1","passes":[
{"name":"implementation","summary":"","findings":[{"id":"f1","pass":"implementation","severity":"P1","title":"X","body":"b","file":"src/a.ts","line":10}]},
{"name":"security","summary":"","findings":[]},
{"name":"quality","summary":"","findings":[]},
{"name":"ux","summary":"","findings":[]},
{"name":"ops","summary":"","findings":[]}],
"autofix":{"applied":true,"changed_files":["src/a.ts"]}}`

// script writes an executable shell script and returns its path.
func script(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "agent.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func input() review.RoundInput {
	return review.RoundInput{
		Target:      review.Target{Repo: "acme/widgets", Issue: review.IssueRef{ID: 34}, Branch: "vibe/34", BaseBranch: "main"},
		Attempt:     2,
		MaxAttempts: 5,
		Autofix:     true,
		Passes:      review.Passes,
	}
}

func TestRunRound(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.json")
	path := script(t, "cat > "+inPath+"\ncat <<'EOF'\n"+roundJSON+"\nEOF\n")

	c := &Command{Path: path}
	out, err := c.RunRound(context.Background(), input())
	if err != nil {
		t.Fatalf("RunRound error: %v", err)
	}
	if out.RunID != "run-1" || len(out.Findings()) != 1 || !out.Autofix.Applied {
		t.Errorf("out = %+v", out)
	}

	data, err := os.ReadFile(inPath)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("stdin was not JSON: %v\n%s", err, data)
	}
	if got["repo"] != "acme/widgets" || got["base_branch"] != "main" || got["attempt"] != float64(2) || got["max_attempts"] != float64(5) {
		t.Errorf("input = %v", got)
	}
	if passes, _ := got["passes"].([]any); len(passes) != 5 {
		t.Errorf("passes = %v", got["passes"])
	}
}

func TestRunRound_Env(t *testing.T) {
	path := script(t, "cat >/dev/null\nif [ \"$VIBE_ATTEMPT\" != 2 ] || [ \"$EXTRA\" != yes ]; then exit 3; fi\ncat <<'EOF'\n"+roundJSON+"\nEOF\n")
	c := &Command{Path: path, Env: []string{"EXTRA=yes"}}
	if _, err := c.RunRound(context.Background(), input()); err != nil {
		t.Fatalf("RunRound error: %v", err)
	}
}

func TestRunRound_Malformed(t *testing.T) {
	path := script(t, "cat >/dev/null\necho '{\"version\":2}'\n")
	c := &Command{Path: path}
	_, err := c.RunRound(context.Background(), input())
	if !errors.Is(err, review.ErrMalformedRound) {
		t.Errorf("err = %v, want ErrMalformedRound", err)
	}
}

func TestRunRound_ExitError(t *testing.T) {
	path := script(t, "cat >/dev/null\necho 'model quota exceeded' >&2\nexit 1\n")
	c := &Command{Path: path}
	_, err := c.RunRound(context.Background(), input())
	if err == nil || !strings.Contains(err.Error(), "model quota exceeded") {
		t.Errorf("err = %v", err)
	}
	if errors.Is(err, review.ErrMalformedRound) {
		t.Error("exit failure should not be reported as malformed output")
	}
}

func TestNew(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for empty argv")
	}
	c, err := New([]string{"codex", "review", "--json"})
	if err != nil || c.Path != "codex" || len(c.Args) != 2 {
		t.Errorf("New = %+v, %v", c, err)
	}
}
