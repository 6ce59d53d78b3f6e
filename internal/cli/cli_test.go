package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dshills/vibe/internal/config"
	"github.com/dshills/vibe/internal/retry"
	"github.com/dshills/vibe/internal/review"
	"github.com/dshills/vibe/internal/threads"
)

// resetFlags restores every flag of the command tree to its default.
func resetFlags() {
	var reset func(c *cobra.Command)
	reset = func(c *cobra.Command) {
		visit := func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
		c.Flags().VisitAll(visit)
		c.PersistentFlags().VisitAll(visit)
		for _, sub := range c.Commands() {
			reset(sub)
		}
	}
	reset(rootCmd)
	rootCmd.SetOut(nil)
}

// isolate points config and credentials at an empty environment.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{"GITHUB_TOKEN", "GH_TOKEN", "GITLAB_TOKEN", "VIBE_TRACKER", "VIBE_FORMAT",
		"VIBE_MAX_ATTEMPTS", "VIBE_AUTOFIX", "VIBE_PUBLISH", "VIBE_STRICT", "VIBE_OTEL_ENDPOINT"} {
		t.Setenv(k, "")
	}
	resetFlags()
	t.Cleanup(resetFlags)
}

const emptyPasses = `{"name":"implementation","summary":"ok","findings":[]},
{"name":"security","summary":"ok","findings":[]},
{"name":"quality","summary":"ok","findings":[]},
{"name":"ux","summary":"ok","findings":[]},
{"name":"ops","summary":"ok","findings":[]}`

const onePFinding = `{"name":"implementation","summary":"","findings":[{"id":"f1","pass":"implementation","severity":"P1","title":"Nil map write","body":"","file":"a.go","line":3}]},
{"name":"security","summary":"ok","findings":[]},
{"name":"quality","summary":"ok","findings":[]},
{"name":"ux","summary":"ok","findings":[]},
{"name":"ops","summary":"ok","findings":[]}`

// agentScript writes an executable that drains stdin and prints stdout.
func agentScript(t *testing.T, stdout string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("agent scripts need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "agent.sh")
	script := "#!/bin/sh\ncat >/dev/null\ncat <<'JSON'\n" + stdout + "\nJSON\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func roundJSON(passes string) string {
	return fmt.Sprintf(`{"version":1,"run_id":"run-1","passes":[%s],"autofix":{"applied":false,"changed_files":[]}}`, passes)
}

func TestAgentArgv(t *testing.T) {
	tests := []struct {
		name    string
		dash    int
		args    []string
		want    []string
		wantErr bool
	}{
		{"after dash", 0, []string{"codex", "review", "--json"}, []string{"codex", "review", "--json"}, false},
		{"no dash", -1, []string{"codex"}, nil, true},
		{"dash with nothing after", 0, nil, nil, true},
		{"stray args before dash", 1, []string{"oops", "codex"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := agentArgv(tt.dash, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("agentArgv error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("agentArgv (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildRunOverrides(t *testing.T) {
	isolate(t)
	if err := runCmd.ParseFlags([]string{"--tracker", "gitlab", "--publish", "--max-attempts", "3", "--repo", "o/r"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	want := map[string]string{"tracker": "gitlab", "publish": "true", "maxAttempts": "3"}
	if diff := cmp.Diff(want, buildRunOverrides(runCmd)); diff != "" {
		t.Errorf("overrides (-want +got):\n%s", diff)
	}
}

func TestBuildRunOverrides_ExplicitFalse(t *testing.T) {
	isolate(t)
	if err := runCmd.ParseFlags([]string{"--publish=false"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if got := buildRunOverrides(runCmd)["publish"]; got != "false" {
		t.Errorf("publish override = %q, want false", got)
	}
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"auth", &retry.AuthError{Message: "401 Bad credentials"}, ExitAuthError},
		{"wrapped auth", fmt.Errorf("ensuring follow-up issue: %w", &retry.AuthError{Message: "403"}), ExitAuthError},
		{"malformed round", fmt.Errorf("agent x: %w", review.ErrMalformedRound), ExitRuntimeError},
		{"other", errors.New("boom"), ExitRuntimeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRoundSchema(t *testing.T) {
	data, err := roundSchema(false)
	if err != nil {
		t.Fatalf("roundSchema: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	props, _ := doc["properties"].(map[string]any)
	for _, key := range []string{"version", "run_id", "passes", "autofix"} {
		if _, ok := props[key]; !ok {
			t.Errorf("schema missing property %q", key)
		}
	}
	for _, want := range []string{`"P3"`, `"implementation"`, `"changed_files"`} {
		if !bytes.Contains(data, []byte(want)) {
			t.Errorf("schema missing %s", want)
		}
	}

	in, err := roundSchema(true)
	if err != nil {
		t.Fatalf("roundSchema(input): %v", err)
	}
	if !bytes.Contains(in, []byte(`"max_attempts"`)) || !bytes.Contains(in, []byte("vibe round input")) {
		t.Errorf("input schema:\n%s", in)
	}
}

func TestRun_Converged(t *testing.T) {
	isolate(t)
	agent := agentScript(t, roundJSON(emptyPasses))
	out := filepath.Join(t.TempDir(), "result.json")

	code := execute([]string{"run", "--format", "json", "--out", out, "--", agent})
	if code != ExitSuccess {
		t.Fatalf("exit code = %d, want %d", code, ExitSuccess)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	var res struct {
		AttemptsUsed int              `json:"attemptsUsed"`
		Unresolved   []review.Finding `json:"unresolvedFindings"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("decoding output: %v\n%s", err, data)
	}
	if res.AttemptsUsed != 1 || len(res.Unresolved) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestRun_StrictUnresolved(t *testing.T) {
	isolate(t)
	agent := agentScript(t, roundJSON(onePFinding))
	out := filepath.Join(t.TempDir(), "summary.md")

	if code := execute([]string{"run", "--max-attempts", "1", "--out", out, "--", agent}); code != ExitSuccess {
		t.Errorf("non-strict exit code = %d, want %d", code, ExitSuccess)
	}
	if code := execute([]string{"run", "--max-attempts", "1", "--strict", "--out", out, "--", agent}); code != ExitUnresolved {
		t.Errorf("strict exit code = %d, want %d", code, ExitUnresolved)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !strings.Contains(string(data), "a.go:3") {
		t.Errorf("summary missing the unresolved finding:\n%s", data)
	}
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name string
		args func(t *testing.T) []string
		want int
	}{
		{"missing agent command", func(t *testing.T) []string { return []string{"run", "--pr", "1"} }, ExitUsageError},
		{"unknown format", func(t *testing.T) []string {
			return []string{"run", "--format", "yaml", "--", "true"}
		}, ExitUsageError},
		{"malformed agent output", func(t *testing.T) []string {
			return []string{"run", "--", agentScript(t, "not json at all")}
		}, ExitRuntimeError},
		{"missing token", func(t *testing.T) []string {
			return []string{"run", "--repo", "acme/widgets", "--pr", "12", "--", agentScript(t, roundJSON(emptyPasses))}
		}, ExitAuthError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			if got := execute(tt.args(t)); got != tt.want {
				t.Errorf("exit code = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestVersion(t *testing.T) {
	isolate(t)
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	if code := execute([]string{"version"}); code != ExitSuccess {
		t.Fatalf("exit code = %d", code)
	}
	if got := buf.String(); got != "vibe version "+version+"\n" {
		t.Errorf("version output = %q", got)
	}
}

func TestConfigSet(t *testing.T) {
	isolate(t)
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)

	if code := execute([]string{"config", "set", "tracker", "gitlab"}); code != ExitSuccess {
		t.Fatalf("config set exit code = %d", code)
	}
	cfg := config.Default()
	if err := config.LoadFile(&cfg); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Tracker != config.TrackerGitLab {
		t.Errorf("tracker = %q, want gitlab", cfg.Tracker)
	}

	if code := execute([]string{"config", "set", "tracker", "bitbucket"}); code != ExitUsageError {
		t.Errorf("invalid tracker exit code = %d, want %d", code, ExitUsageError)
	}
	if code := execute([]string{"config", "set", "nope", "x"}); code != ExitUsageError {
		t.Errorf("unknown key exit code = %d, want %d", code, ExitUsageError)
	}
}

func TestConfigShow_HidesTokens(t *testing.T) {
	isolate(t)
	t.Setenv("GITHUB_TOKEN", "ghp_secretvalue")
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)

	if code := execute([]string{"config", "show"}); code != ExitSuccess {
		t.Fatalf("exit code = %d", code)
	}
	out := buf.String()
	if strings.Contains(out, "ghp_secretvalue") {
		t.Errorf("token leaked:\n%s", out)
	}
	if !strings.Contains(out, "# github token: set") || !strings.Contains(out, "# gitlab token: unset") {
		t.Errorf("token state missing:\n%s", out)
	}
}

func TestWriteThreads(t *testing.T) {
	fp := strings.Repeat("c", 64)
	ts := []threads.Thread{
		{ID: "T1", Path: "a.go", Line: 3, Comments: []threads.Comment{{Author: "vibe", Body: threads.FingerprintMarker(fp) + "\n**[P1] X**"}}},
		{ID: "T2", Resolved: true, Comments: []threads.Comment{{Author: "alice", Body: "nit"}}},
	}
	var buf bytes.Buffer
	writeThreads(&buf, ts, threads.Policy{})

	out := buf.String()
	for _, want := range []string{"T1", "a.go:3", fp[:12], "yes", "resolved", "2 thread(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteResolveReport(t *testing.T) {
	var buf bytes.Buffer
	writeResolveReport(&buf, threads.Report{Candidates: 3, Resolved: []string{"T1", "T2"}, Failed: []string{"T3"}, DryRun: true})
	out := buf.String()
	if !strings.Contains(out, "Would resolve 2 of 3") || !strings.Contains(out, "failed: T3") {
		t.Errorf("output:\n%s", out)
	}
}

func TestThreadsRequiresPR(t *testing.T) {
	isolate(t)
	if code := execute([]string{"threads", "list"}); code != ExitUsageError {
		t.Errorf("exit code = %d, want %d", code, ExitUsageError)
	}
}
