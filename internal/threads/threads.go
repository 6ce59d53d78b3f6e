package threads

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Comment is a single comment in a discussion thread.
type Comment struct {
	ID     string `json:"id"`
	Author string `json:"author"`
	Body   string `json:"body"`
}

// Thread is a remote discussion thread anchored to a change.
type Thread struct {
	ID       string    `json:"id"`
	Resolved bool      `json:"resolved"`
	Path     string    `json:"path,omitempty"`
	Line     int       `json:"line,omitempty"`
	Comments []Comment `json:"comments"`
}

// Fingerprint returns the finding fingerprint carried by the first comment.
func (t Thread) Fingerprint() (string, bool) {
	if len(t.Comments) == 0 {
		return "", false
	}
	return ParseFingerprint(t.Comments[0].Body)
}

// LastComment returns the most recent comment, if any.
func (t Thread) LastComment() (Comment, bool) {
	if len(t.Comments) == 0 {
		return Comment{}, false
	}
	return t.Comments[len(t.Comments)-1], true
}

// Ops is the remote thread capability. Implementations apply their own
// retry policy; each call resolves or fails once from the caller's view.
type Ops interface {
	ListThreads(ctx context.Context, pr int) ([]Thread, error)
	Reply(ctx context.Context, pr int, threadID, body string) error
	Resolve(ctx context.Context, pr int, threadID string) error
}

// DefaultAutomationAuthors are review bots whose threads the engine may close.
var DefaultAutomationAuthors = []string{
	"github-actions",
	"chatgpt-codex-connector",
	"copilot-pull-request-reviewer",
}

// Policy decides which threads are vibe-managed.
type Policy struct {
	AutomationAuthors []string
}

// IsAutomation reports whether author is a known external-automation identity.
// Bot logins match with or without the "[bot]" suffix.
func (p Policy) IsAutomation(author string) bool {
	a := normalizeLogin(author)
	if a == "" {
		return false
	}
	for _, known := range p.AutomationAuthors {
		if normalizeLogin(known) == a {
			return true
		}
	}
	return false
}

// VibeManaged reports whether t may be auto-resolved: its first comment is a
// finding comment or automation-authored, and every reply is either the
// engine's resolved reply or automation-authored. Any other reply means a
// human has joined the conversation and the thread is left alone.
func (p Policy) VibeManaged(t Thread) bool {
	if len(t.Comments) == 0 {
		return false
	}
	first := t.Comments[0]
	if _, ok := ParseFingerprint(first.Body); !ok && !p.IsAutomation(first.Author) {
		return false
	}
	for _, c := range t.Comments[1:] {
		if strings.Contains(c.Body, ResolvedReplyMarker) || p.IsAutomation(c.Author) {
			continue
		}
		return false
	}
	return true
}

func normalizeLogin(login string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(login)), "[bot]")
}

// Report summarizes a resolution pass.
type Report struct {
	Candidates int      `json:"candidates"`
	Resolved   []string `json:"resolved,omitempty"`
	Failed     []string `json:"failed,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	DryRun     bool     `json:"dryRun,omitempty"`
}

// Resolver closes vibe-managed threads once a review converges.
type Resolver struct {
	Ops    Ops
	Policy Policy
	Logger *zap.Logger
	DryRun bool
}

// ResolveConverged replies to and resolves every unresolved vibe-managed
// thread on the PR. Already-resolved threads are skipped and the reply is not
// repeated when it is already the last comment, so the call can be re-run.
// Per-thread failures become warnings; only a listing failure is returned.
func (r *Resolver) ResolveConverged(ctx context.Context, pr int, runID string) (Report, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	report := Report{DryRun: r.DryRun}

	all, err := r.Ops.ListThreads(ctx, pr)
	if err != nil {
		return report, fmt.Errorf("listing review threads: %w", err)
	}

	for _, t := range all {
		if t.Resolved || !r.Policy.VibeManaged(t) {
			continue
		}
		report.Candidates++
		if r.DryRun {
			logger.Info("dry run: would resolve thread", zap.String("thread", t.ID))
			continue
		}

		if last, ok := t.LastComment(); !ok || !strings.Contains(last.Body, ResolvedReplyMarker) {
			if err := r.Ops.Reply(ctx, pr, t.ID, ResolvedReply(runID)); err != nil {
				report.Failed = append(report.Failed, t.ID)
				report.Warnings = append(report.Warnings, fmt.Sprintf("thread %s: reply failed: %v", t.ID, err))
				continue
			}
		}
		if err := r.Ops.Resolve(ctx, pr, t.ID); err != nil {
			report.Failed = append(report.Failed, t.ID)
			report.Warnings = append(report.Warnings, fmt.Sprintf("thread %s: resolve failed: %v", t.ID, err))
			continue
		}
		report.Resolved = append(report.Resolved, t.ID)
	}

	logger.Info("thread resolution finished",
		zap.Int("pr", pr),
		zap.Int("candidates", report.Candidates),
		zap.Int("resolved", len(report.Resolved)),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}
