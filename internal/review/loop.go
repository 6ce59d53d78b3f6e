package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Attempt budget bounds.
const (
	DefaultMaxAttempts = 5
	MaxAttemptsLimit   = 20
)

// ClampMaxAttempts maps a requested budget into [1, MaxAttemptsLimit].
// Zero means "unset" and yields DefaultMaxAttempts.
func ClampMaxAttempts(n int) int {
	switch {
	case n == 0:
		return DefaultMaxAttempts
	case n < 1:
		return 1
	case n > MaxAttemptsLimit:
		return MaxAttemptsLimit
	default:
		return n
	}
}

// IssueRef identifies the source issue a run works on.
type IssueRef struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// PRRef identifies the pull request under review.
type PRRef struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// Target describes what a run reviews. Resolving it is the caller's job.
type Target struct {
	Repo       string   `json:"repo"`
	Issue      IssueRef `json:"issue"`
	Branch     string   `json:"branch"`
	BaseBranch string   `json:"base_branch"`
	PR         PRRef    `json:"pr"`
}

// RoundInput is the payload handed to the pass-round capability.
type RoundInput struct {
	Target
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	Autofix     bool   `json:"autofix"`
	Passes      []Pass `json:"passes"`
}

// RoundRunner executes one review round. Implementations block until the
// round finishes; any timeout policy lives with the caller's context.
type RoundRunner interface {
	RunRound(ctx context.Context, in RoundInput) (RoundOutput, error)
}

// RoundRunnerFunc adapts a function to RoundRunner.
type RoundRunnerFunc func(ctx context.Context, in RoundInput) (RoundOutput, error)

func (f RoundRunnerFunc) RunRound(ctx context.Context, in RoundInput) (RoundOutput, error) {
	return f(ctx, in)
}

// Attempt records one executed round.
type Attempt struct {
	Number         int           `json:"number"`
	Output         RoundOutput   `json:"output"`
	FindingCount   int           `json:"findingCount"`
	FingerprintKey string        `json:"-"`
	Duration       time.Duration `json:"durationNs"`
}

// LoopOptions configures a single run of the attempt loop.
type LoopOptions struct {
	Target      Target
	MaxAttempts int
	Autofix     bool
}

// LoopResult is the outcome of the attempt loop.
type LoopResult struct {
	RunID        string            `json:"runId"`
	Attempts     []Attempt         `json:"attempts"`
	AttemptsUsed int               `json:"attemptsUsed"`
	MaxAttempts  int               `json:"maxAttempts"`
	Reason       TerminationReason `json:"terminationReason"`
	// AllFindings holds every distinct finding observed in the run, in order
	// of first observation. The text of the first occurrence is kept.
	AllFindings []Finding `json:"allFindings"`
	// Unresolved holds the findings of the final round, deduplicated by
	// fingerprint and carrying first-occurrence text.
	Unresolved []Finding `json:"unresolvedFindings"`
}

// Resolved returns the findings observed earlier in the run that the final
// round no longer reports.
func (r *LoopResult) Resolved() []Finding {
	open := make(map[string]bool, len(r.Unresolved))
	for _, f := range r.Unresolved {
		open[Fingerprint(f)] = true
	}
	var out []Finding
	for _, f := range r.AllFindings {
		if !open[Fingerprint(f)] {
			out = append(out, f)
		}
	}
	return out
}

// Loop drives review rounds until the termination policy stops it.
type Loop struct {
	Runner RoundRunner
	Logger *zap.Logger
}

// Run executes attempts 1..N sequentially. A runner error or a round output
// that fails validation aborts the run; there is no retry at this level.
func (l *Loop) Run(ctx context.Context, opts LoopOptions) (*LoopResult, error) {
	if l.Runner == nil {
		return nil, errors.New("review loop: no round runner configured")
	}
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := otel.Tracer("github.com/dshills/vibe/internal/review")

	maxAttempts := ClampMaxAttempts(opts.MaxAttempts)
	result := &LoopResult{MaxAttempts: maxAttempts}

	all := make(map[string]Finding)
	prevKey := ""
	hasPrev := false

	for attempt := 1; ; attempt++ {
		in := RoundInput{
			Target:      opts.Target,
			Attempt:     attempt,
			MaxAttempts: maxAttempts,
			Autofix:     opts.Autofix,
			Passes:      append([]Pass(nil), Passes...),
		}

		attemptCtx, span := tracer.Start(ctx, "review.attempt",
			trace.WithAttributes(attribute.Int("attempt", attempt), attribute.Int("max_attempts", maxAttempts)))
		start := time.Now()
		out, err := l.Runner.RunRound(attemptCtx, in)
		if err == nil {
			err = Validate(out)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "round failed")
			span.End()
			return nil, fmt.Errorf("attempt %d: %w", attempt, err)
		}

		findings := out.Findings()
		key := FingerprintKey(findings)
		for _, f := range findings {
			fp := Fingerprint(f)
			if _, ok := all[fp]; !ok {
				all[fp] = f
				result.AllFindings = append(result.AllFindings, f)
			}
		}

		result.RunID = out.RunID
		result.AttemptsUsed = attempt
		result.Attempts = append(result.Attempts, Attempt{
			Number:         attempt,
			Output:         out,
			FindingCount:   len(findings),
			FingerprintKey: key,
			Duration:       time.Since(start),
		})
		span.SetAttributes(attribute.Int("findings", len(findings)), attribute.Bool("autofix.applied", out.Autofix.Applied))
		span.End()

		logger.Info("review attempt finished",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.String("run_id", out.RunID),
			zap.Int("findings", len(findings)),
			zap.Bool("autofix_applied", out.Autofix.Applied),
			zap.Int("changed_files", len(out.Autofix.ChangedFiles)),
		)

		reason, stop := decide(attempt, maxAttempts, opts.Autofix, out, key, prevKey, hasPrev)
		if stop {
			result.Reason = reason
			result.Unresolved = unresolvedFrom(findings, all)
			logger.Info("review loop stopped",
				zap.String("reason", string(reason)),
				zap.Int("attempts_used", attempt),
				zap.Int("unresolved", len(result.Unresolved)))
			return result, nil
		}
		prevKey, hasPrev = key, true
	}
}

// decide applies the termination policy in its fixed priority order. An
// autofixed round that repeats the previous round's fingerprints stops as
// same-fingerprints even on the last attempt, so a stalled fix never counts
// as an exhausted budget.
func decide(attempt, maxAttempts int, autofixRequested bool, out RoundOutput, key, prevKey string, hasPrev bool) (TerminationReason, bool) {
	fixed := autofixRequested && out.Autofix.Applied && len(out.Autofix.ChangedFiles) > 0
	switch {
	case len(out.Findings()) == 0:
		return ReasonCompleted, true
	case fixed && hasPrev && key == prevKey:
		return ReasonSameFingerprints, true
	case attempt >= maxAttempts:
		return ReasonMaxAttempts, true
	case !autofixRequested || !out.Autofix.Applied:
		return ReasonNoAutofix, true
	case len(out.Autofix.ChangedFiles) == 0:
		return ReasonNoAutofixChanges, true
	default:
		return "", false
	}
}

// unresolvedFrom dedupes the final round's findings by fingerprint and maps
// each onto its first-observed text.
func unresolvedFrom(findings []Finding, all map[string]Finding) []Finding {
	seen := make(map[string]bool, len(findings))
	var out []Finding
	for _, f := range findings {
		fp := Fingerprint(f)
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, all[fp])
	}
	return out
}
