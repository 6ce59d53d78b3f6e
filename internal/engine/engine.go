package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/dshills/vibe/internal/followup"
	"github.com/dshills/vibe/internal/lifecycle"
	"github.com/dshills/vibe/internal/review"
	"github.com/dshills/vibe/internal/threads"
)

// Options configures a run.
type Options struct {
	Target      review.Target
	MaxAttempts int
	Autofix     bool
	// Publish enables posting findings and resolving threads on the change.
	Publish bool
	DryRun  bool
	// Root is the workspace root findings are relativized against.
	Root string
}

// Deps are the collaborators of a run. Only Runner is required.
type Deps struct {
	Runner    review.RoundRunner
	Totals    lifecycle.Fetcher
	Publisher *threads.Publisher
	Resolver  *threads.Resolver
	FollowUps *followup.Manager
	Logger    *zap.Logger
}

// PassSummary counts one pass's findings over the run.
type PassSummary struct {
	Pass       review.Pass `json:"pass"`
	Total      int         `json:"total"`
	Unresolved int         `json:"unresolved"`
	Resolved   int         `json:"resolved"`
}

// Result is everything a run decided and did.
type Result struct {
	Target       review.Target            `json:"target"`
	RunID        string                   `json:"runId"`
	AttemptsUsed int                      `json:"attemptsUsed"`
	MaxAttempts  int                      `json:"maxAttempts"`
	Reason       review.TerminationReason `json:"terminationReason"`
	Attempts     []review.Attempt         `json:"-"`
	AllFindings  []review.Finding         `json:"allFindings"`
	Unresolved   []review.Finding         `json:"unresolvedFindings"`
	Resolved     []review.Finding         `json:"resolvedFindings"`
	Lifecycle    lifecycle.Merged         `json:"lifecycle"`
	Passes       []PassSummary            `json:"passes"`
	Publication  *threads.PublishReport   `json:"publication,omitempty"`
	FollowUp     *followup.EnsureResult   `json:"followUp,omitempty"`
	Closures     *followup.CloseResult    `json:"followUpClosures,omitempty"`
	Threads      *threads.Report          `json:"threads,omitempty"`
	Warnings     []string                 `json:"warnings,omitempty"`
	DryRun       bool                     `json:"dryRun,omitempty"`
	// Root is the workspace root finding paths are relative to.
	Root string `json:"root,omitempty"`
}

// Converged reports whether the final round left nothing unresolved.
func (r *Result) Converged() bool {
	return len(r.Unresolved) == 0
}

func (r *Result) warn(logger *zap.Logger, msg string) {
	logger.Warn(msg)
	r.Warnings = append(r.Warnings, msg)
}

// Run executes the attempt loop and then drives the remote lifecycle. A
// malformed round aborts the run with an error wrapping
// review.ErrMalformedRound. A failed follow-up ensure is returned as an error
// together with the otherwise complete result; every other remote failure is
// recorded as a warning.
func Run(ctx context.Context, deps Deps, opts Options) (*Result, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Runner == nil {
		return nil, errors.New("engine: no round runner configured")
	}

	ctx, span := otel.Tracer("github.com/dshills/vibe/internal/engine").Start(ctx, "review.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("repo", opts.Target.Repo),
		attribute.Int("issue", opts.Target.Issue.ID),
		attribute.Int("pr", opts.Target.PR.Number),
	)

	loop := &review.Loop{Runner: deps.Runner, Logger: logger}
	lr, err := loop.Run(ctx, review.LoopOptions{Target: opts.Target, MaxAttempts: opts.MaxAttempts, Autofix: opts.Autofix})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempt loop failed")
		return nil, err
	}

	res := &Result{
		Target:       opts.Target,
		RunID:        lr.RunID,
		AttemptsUsed: lr.AttemptsUsed,
		MaxAttempts:  lr.MaxAttempts,
		Reason:       lr.Reason,
		Attempts:     lr.Attempts,
		AllFindings:  lr.AllFindings,
		Unresolved:   lr.Unresolved,
		Resolved:     lr.Resolved(),
		Passes:       summarizePasses(lr.AllFindings, lr.Unresolved),
		DryRun:       opts.DryRun,
		Root:         opts.Root,
	}
	span.SetAttributes(
		attribute.String("run_id", res.RunID),
		attribute.String("termination_reason", string(res.Reason)),
		attribute.Int("unresolved", len(res.Unresolved)),
	)

	res.Lifecycle = reconcile(ctx, deps, opts, res, logger)
	pr := opts.Target.PR.Number

	if opts.Publish && deps.Publisher != nil && pr > 0 && len(res.Unresolved) > 0 {
		report, err := deps.Publisher.Publish(ctx, pr, res.RunID, res.Unresolved)
		if err != nil {
			res.warn(logger, fmt.Sprintf("publishing findings failed: %v", err))
		} else {
			res.Publication = &report
		}
	}

	if err := followUp(ctx, deps, opts, res, logger); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "follow-up failed")
		return res, err
	}

	if opts.Publish && !opts.DryRun && deps.Resolver != nil && pr > 0 && res.Converged() {
		report, err := deps.Resolver.ResolveConverged(ctx, pr, res.RunID)
		if err != nil {
			res.warn(logger, fmt.Sprintf("thread auto-resolution failed: %v", err))
		} else {
			res.Threads = &report
			res.Warnings = append(res.Warnings, report.Warnings...)
		}
	}

	logger.Info("review run finished",
		zap.String("run_id", res.RunID),
		zap.String("reason", string(res.Reason)),
		zap.Int("attempts_used", res.AttemptsUsed),
		zap.Int("unresolved", len(res.Unresolved)),
		zap.Int("warnings", len(res.Warnings)))
	return res, nil
}

// reconcile merges the run with the change's remote history, falling back
// to the run alone when the history cannot be read.
func reconcile(ctx context.Context, deps Deps, opts Options, res *Result, logger *zap.Logger) lifecycle.Merged {
	in := lifecycle.Input{All: res.AllFindings, Unresolved: res.Unresolved, Root: opts.Root}
	pr := opts.Target.PR.Number
	if deps.Totals == nil || pr <= 0 {
		return lifecycle.CurrentOnly(in)
	}
	remote, err := deps.Totals.FetchTotals(ctx, pr)
	if err != nil {
		merged := lifecycle.CurrentOnly(in)
		merged.Warning = fmt.Sprintf("lifecycle totals unavailable, using current run only: %v", err)
		res.warn(logger, merged.Warning)
		return merged
	}
	return lifecycle.Reconcile(in, remote)
}

// followUp runs the ensure path or the close path; never both.
func followUp(ctx context.Context, deps Deps, opts Options, res *Result, logger *zap.Logger) error {
	source := opts.Target.Issue
	if deps.FollowUps == nil || source.ID <= 0 {
		return nil
	}
	switch {
	case followup.ShouldEnsure(len(res.Unresolved), res.Reason):
		er, err := deps.FollowUps.Ensure(ctx, followup.EnsureRequest{
			Source:       source,
			PR:           opts.Target.PR,
			RunID:        res.RunID,
			AttemptsUsed: res.AttemptsUsed,
			MaxAttempts:  res.MaxAttempts,
			Reason:       res.Reason,
			Unresolved:   res.Unresolved,
		})
		if err != nil {
			return fmt.Errorf("ensuring follow-up issue: %w", err)
		}
		res.FollowUp = &er
		res.Warnings = append(res.Warnings, er.Warnings...)
	case followup.ShouldClose(len(res.Unresolved), opts.DryRun):
		cr, err := deps.FollowUps.CloseResolved(ctx, source.ID, res.RunID)
		if err != nil {
			res.warn(logger, fmt.Sprintf("follow-up close skipped: %v", err))
			return nil
		}
		res.Closures = &cr
		res.Warnings = append(res.Warnings, cr.Warnings...)
	}
	return nil
}

func summarizePasses(all, unresolved []review.Finding) []PassSummary {
	byPass := make(map[review.Pass]*PassSummary, len(review.Passes))
	out := make([]PassSummary, len(review.Passes))
	for i, p := range review.Passes {
		out[i].Pass = p
		byPass[p] = &out[i]
	}
	for _, f := range all {
		if s, ok := byPass[f.Pass]; ok {
			s.Total++
		}
	}
	for _, f := range unresolved {
		if s, ok := byPass[f.Pass]; ok {
			s.Unresolved++
		}
	}
	for i := range out {
		out[i].Resolved = out[i].Total - out[i].Unresolved
	}
	return out
}
