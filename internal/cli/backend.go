package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/vibe/internal/config"
	"github.com/dshills/vibe/internal/followup"
	"github.com/dshills/vibe/internal/github"
	"github.com/dshills/vibe/internal/gitlab"
	"github.com/dshills/vibe/internal/logging"
	"github.com/dshills/vibe/internal/retry"
	"github.com/dshills/vibe/internal/threads"
)

// backend is everything a run needs from the tracker.
type backend interface {
	threads.Ops
	threads.PublishOps
	followup.Tracker
}

func retryPolicy(cfg config.Config) retry.Policy {
	return retry.Policy{
		Attempts:  cfg.Retry.Attempts,
		BaseDelay: time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
	}
}

// newBackend builds the tracker client for repo.
func newBackend(cfg config.Config, repo string, logger *zap.Logger) (backend, error) {
	if repo == "" {
		return nil, errors.New("no repository: pass --repo or run inside a clone with an origin remote")
	}
	switch cfg.Tracker {
	case config.TrackerGitLab:
		c, err := gitlab.NewClient(gitlab.Options{
			Token:   cfg.GitLab.Token,
			BaseURL: cfg.GitLab.BaseURL,
			Project: repo,
			Retry:   retryPolicy(cfg),
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		c, err := github.NewClient(github.Options{
			Token:  cfg.GitHub.Token,
			APIURL: cfg.GitHub.APIURL,
			Repo:   repo,
			Retry:  retryPolicy(cfg),
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log.Level, flagDebug)
}

// exitCodeFor maps a failure to its process exit code. Malformed agent output
// and every other fatal error are runtime failures.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case retry.IsAuthError(err):
		return ExitAuthError
	default:
		return ExitRuntimeError
	}
}

// fail reports err and records its exit code.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	exitCode = exitCodeFor(err)
}
