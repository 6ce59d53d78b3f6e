package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/vibe/internal/agent"
	"github.com/dshills/vibe/internal/config"
	"github.com/dshills/vibe/internal/engine"
	"github.com/dshills/vibe/internal/followup"
	"github.com/dshills/vibe/internal/gitctx"
	"github.com/dshills/vibe/internal/lifecycle"
	"github.com/dshills/vibe/internal/output"
	"github.com/dshills/vibe/internal/review"
	"github.com/dshills/vibe/internal/telemetry"
	"github.com/dshills/vibe/internal/threads"
)

var (
	flagRepo        string
	flagIssue       int
	flagIssueTitle  string
	flagIssueURL    string
	flagPR          int
	flagPRURL       string
	flagBranch      string
	flagBase        string
	flagMaxAttempts int
	flagAutofix     bool
	flagPublish     bool
	flagDryRun      bool
	flagStrict      bool
	flagTracker     string
	flagLabel       string
	flagFormat      string
	flagOut         string
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <agent command> [args...]",
	Short: "Run the review loop against an agent command",
	Long: "Run the five review passes through the agent command until the findings converge or the " +
		"attempt budget runs out, then reconcile the change's threads and follow-up issues.",
	RunE: func(cmd *cobra.Command, args []string) error {
		argv, err := agentArgv(cmd.ArgsLenAtDash(), args)
		if err != nil {
			return err
		}
		if err := config.LoadDotEnv("."); err != nil {
			return err
		}
		cfg, err := config.Load(buildRunOverrides(cmd))
		if err != nil {
			return err
		}
		if _, err := output.GetWriter(cfg.Format, version); err != nil {
			return err
		}
		runReview(cmd.Context(), cfg, argv)
		return nil
	},
}

// agentArgv returns the agent command given after "--".
func agentArgv(dash int, args []string) ([]string, error) {
	if dash < 0 || dash >= len(args) {
		return nil, errors.New("missing agent command: vibe run [flags] -- <agent command> [args...]")
	}
	if dash > 0 {
		return nil, fmt.Errorf("unexpected arguments before --: %v", args[:dash])
	}
	return args[dash:], nil
}

// buildRunOverrides collects config keys for the flags set on the command line.
func buildRunOverrides(cmd *cobra.Command) map[string]string {
	m := make(map[string]string)
	changed := cmd.Flags().Changed
	if changed("tracker") {
		m["tracker"] = flagTracker
	}
	if changed("format") {
		m["format"] = flagFormat
	}
	if changed("max-attempts") {
		m["maxAttempts"] = strconv.Itoa(flagMaxAttempts)
	}
	if changed("autofix") {
		m["autofix"] = strconv.FormatBool(flagAutofix)
	}
	if changed("publish") {
		m["publish"] = strconv.FormatBool(flagPublish)
	}
	if changed("strict") {
		m["strict"] = strconv.FormatBool(flagStrict)
	}
	if changed("label") {
		m["label"] = flagLabel
	}
	return m
}

func runReview(ctx context.Context, cfg config.Config, argv []string) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger(cfg)
	if err != nil {
		fail(err)
		return
	}
	defer func() { _ = logger.Sync() }()

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("flushing traces", zap.Error(err))
		}
	}()

	target, root := resolveTarget(ctx, logger)

	runner, err := agent.New(argv)
	if err != nil {
		fail(err)
		return
	}
	runner.Dir = root
	runner.Logger = logger

	deps := engine.Deps{Runner: runner, Logger: logger}
	if target.Issue.ID > 0 || target.PR.Number > 0 {
		be, err := newBackend(cfg, target.Repo, logger)
		if err != nil {
			fail(err)
			return
		}
		wireBackend(&deps, be, cfg, root)
	}

	res, err := engine.Run(ctx, deps, engine.Options{
		Target:      target,
		MaxAttempts: cfg.MaxAttempts,
		Autofix:     cfg.Autofix,
		Publish:     cfg.Publish,
		DryRun:      flagDryRun,
		Root:        root,
	})
	if res != nil {
		if werr := output.WriteResult(res, cfg.Format, version, flagOut); werr != nil {
			fmt.Fprintf(os.Stderr, "Error writing output: %v\n", werr)
			exitCode = ExitRuntimeError
			return
		}
	}
	if err != nil {
		fail(err)
		return
	}
	if cfg.Strict && len(res.Unresolved) > 0 {
		fmt.Fprintf(os.Stderr, "%d unresolved finding(s) remain after %d attempt(s)\n", len(res.Unresolved), res.AttemptsUsed)
		exitCode = ExitUnresolved
	}
}

// resolveTarget fills the run target from flags, falling back to the local
// clone for repository and branch.
func resolveTarget(ctx context.Context, logger *zap.Logger) (review.Target, string) {
	target := review.Target{
		Repo:       flagRepo,
		Issue:      review.IssueRef{ID: flagIssue, Title: flagIssueTitle, URL: flagIssueURL},
		Branch:     flagBranch,
		BaseBranch: flagBase,
		PR:         review.PRRef{Number: flagPR, URL: flagPRURL},
	}
	root, _ := filepath.Abs(".")
	meta, err := gitctx.GetRepoMeta(ctx, ".")
	if err != nil {
		logger.Debug("not inside a git repository", zap.Error(err))
		return target, root
	}
	root = meta.Root
	if target.Repo == "" {
		target.Repo = meta.Slug
	}
	if target.Branch == "" {
		target.Branch = meta.Branch
	}
	return target, root
}

// wireBackend attaches the tracker-backed collaborators to deps.
func wireBackend(deps *engine.Deps, be backend, cfg config.Config, root string) {
	policy := threads.Policy{AutomationAuthors: cfg.AutomationAuthors}
	deps.Totals = &lifecycle.ThreadFetcher{Lister: be, Policy: policy, Root: root}
	deps.Publisher = &threads.Publisher{
		Ops:         be,
		Logger:      deps.Logger,
		DryRun:      flagDryRun,
		RedactPaths: cfg.Privacy.RedactPaths,
		Root:        root,
	}
	deps.Resolver = &threads.Resolver{Ops: be, Policy: policy, Logger: deps.Logger, DryRun: flagDryRun}
	deps.FollowUps = &followup.Manager{
		Tracker:       be,
		Logger:        deps.Logger,
		DryRun:        flagDryRun,
		LabelOverride: cfg.Label,
		RedactPaths:   cfg.Privacy.RedactPaths,
	}
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&flagRepo, "repo", "", "Repository slug (owner/name or GitLab project path); defaults to the origin remote")
	f.IntVar(&flagIssue, "issue", 0, "Source issue number")
	f.StringVar(&flagIssueTitle, "issue-title", "", "Source issue title")
	f.StringVar(&flagIssueURL, "issue-url", "", "Source issue URL")
	f.IntVar(&flagPR, "pr", 0, "Pull or merge request number")
	f.StringVar(&flagPRURL, "pr-url", "", "Pull or merge request URL")
	f.StringVar(&flagBranch, "branch", "", "Branch under review; defaults to the current branch")
	f.StringVar(&flagBase, "base", "main", "Base branch")
	f.IntVar(&flagMaxAttempts, "max-attempts", 5, "Attempt budget (clamped to 1..20)")
	f.BoolVar(&flagAutofix, "autofix", false, "Let the agent apply fixes between attempts")
	f.BoolVar(&flagPublish, "publish", false, "Post findings to the change and resolve converged threads")
	f.BoolVar(&flagDryRun, "dry-run", false, "Report tracker mutations without performing them")
	f.BoolVar(&flagStrict, "strict", false, "Exit 1 when unresolved findings remain")
	f.StringVar(&flagTracker, "tracker", "", "Tracker backend: github, gitlab")
	f.StringVar(&flagLabel, "label", "", "Override the follow-up issue label")
	f.StringVar(&flagFormat, "format", "", "Output format: markdown, text, json, sarif")
	f.StringVarP(&flagOut, "out", "o", "", "Write output to file instead of stdout")
}
