package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/vibe/internal/config"
	"github.com/dshills/vibe/internal/format"
	"github.com/dshills/vibe/internal/gitctx"
	"github.com/dshills/vibe/internal/threads"
)

var (
	flagThreadsRepo    string
	flagThreadsPR      int
	flagThreadsTracker string
	flagThreadsDryRun  bool
	flagThreadsRunID   string
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Inspect and resolve review threads on a change",
}

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review threads and whether vibe manages them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, be, logger, err := threadsSetup(cmd)
		if errors.Is(err, errHandled) {
			return nil
		}
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ts, err := be.ListThreads(cmd.Context(), flagThreadsPR)
		if err != nil {
			fail(err)
			return nil
		}
		writeThreads(cmd.OutOrStdout(), ts, threads.Policy{AutomationAuthors: cfg.AutomationAuthors})
		return nil
	},
}

var threadsResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Reply to and resolve every open vibe-managed thread",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, be, logger, err := threadsSetup(cmd)
		if errors.Is(err, errHandled) {
			return nil
		}
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		r := &threads.Resolver{
			Ops:    be,
			Policy: threads.Policy{AutomationAuthors: cfg.AutomationAuthors},
			Logger: logger,
			DryRun: flagThreadsDryRun,
		}
		report, err := r.ResolveConverged(cmd.Context(), flagThreadsPR, flagThreadsRunID)
		if err != nil {
			fail(err)
			return nil
		}
		writeResolveReport(cmd.OutOrStdout(), report)
		return nil
	},
}

// threadsSetup loads config and builds the backend for the threads
// subcommands. Errors other than errHandled are usage errors.
func threadsSetup(cmd *cobra.Command) (config.Config, backend, *zap.Logger, error) {
	if flagThreadsPR <= 0 {
		return config.Config{}, nil, nil, errors.New("--pr is required")
	}
	if err := config.LoadDotEnv("."); err != nil {
		return config.Config{}, nil, nil, err
	}
	overrides := map[string]string{}
	if cmd.Flags().Changed("tracker") {
		overrides["tracker"] = flagThreadsTracker
	}
	cfg, err := config.Load(overrides)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	repo := flagThreadsRepo
	if repo == "" {
		if meta, err := gitctx.GetRepoMeta(context.Background(), "."); err == nil {
			repo = meta.Slug
		}
	}
	be, err := newBackend(cfg, repo, logger)
	if err != nil {
		fail(err)
		return config.Config{}, nil, nil, errHandled
	}
	return cfg, be, logger, nil
}

// errHandled marks a failure already reported through fail.
var errHandled = errors.New("handled")

func writeThreads(w io.Writer, ts []threads.Thread, policy threads.Policy) {
	tb := format.NewTable(format.Terminal)
	tb.Header("Thread", "State", "Managed", "Location", "Finding")
	for _, t := range ts {
		state := "open"
		if t.Resolved {
			state = "resolved"
		}
		managed := "no"
		if policy.VibeManaged(t) {
			managed = "yes"
		}
		loc := t.Path
		if t.Line > 0 {
			loc = fmt.Sprintf("%s:%d", t.Path, t.Line)
		}
		finding := ""
		if fp, ok := t.Fingerprint(); ok {
			finding = fp[:12]
		}
		tb.Row(t.ID, state, managed, loc, finding)
	}
	fmt.Fprintln(w, tb.String())
	fmt.Fprintf(w, "%d thread(s)\n", len(ts))
}

func writeResolveReport(w io.Writer, report threads.Report) {
	verb := "Resolved"
	if report.DryRun {
		verb = "Would resolve"
	}
	fmt.Fprintf(w, "%s %d of %d vibe-managed thread(s)\n", verb, len(report.Resolved), report.Candidates)
	for _, id := range report.Failed {
		fmt.Fprintf(w, "  failed: %s\n", id)
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}
}

func init() {
	for _, c := range []*cobra.Command{threadsListCmd, threadsResolveCmd} {
		c.Flags().StringVar(&flagThreadsRepo, "repo", "", "Repository slug; defaults to the origin remote")
		c.Flags().IntVar(&flagThreadsPR, "pr", 0, "Pull or merge request number")
		c.Flags().StringVar(&flagThreadsTracker, "tracker", "", "Tracker backend: github, gitlab")
	}
	threadsResolveCmd.Flags().BoolVar(&flagThreadsDryRun, "dry-run", false, "Report without replying or resolving")
	threadsResolveCmd.Flags().StringVar(&flagThreadsRunID, "run-id", "manual", "Run id quoted in the resolved reply")
	threadsCmd.AddCommand(threadsListCmd, threadsResolveCmd)
}
