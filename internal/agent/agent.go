// Package agent runs the external review agent as a subprocess. Each round
// writes the round input as JSON to the agent's stdin and parses its stdout
// as the round output contract.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/vibe/internal/review"
)

// maxStderr bounds how much agent stderr is quoted in errors.
const maxStderr = 4 << 10

// Command is a review.RoundRunner backed by an external command.
type Command struct {
	Path string
	Args []string
	// Dir is the working directory; empty inherits the caller's.
	Dir string
	// Env is appended to the current environment.
	Env    []string
	Logger *zap.Logger
}

// New builds a Command from argv.
func New(argv []string) (*Command, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("agent command is empty")
	}
	return &Command{Path: argv[0], Args: argv[1:]}, nil
}

// RunRound implements review.RoundRunner. A non-zero exit is a runner error;
// output that does not match the contract wraps review.ErrMalformedRound.
func (c *Command) RunRound(ctx context.Context, in review.RoundInput) (review.RoundOutput, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return review.RoundOutput{}, fmt.Errorf("encoding round input: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("VIBE_ATTEMPT=%d", in.Attempt),
		fmt.Sprintf("VIBE_MAX_ATTEMPTS=%d", in.MaxAttempts),
	)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if c.Logger != nil {
		c.Logger.Debug("starting agent", zap.String("path", c.Path), zap.Strings("args", c.Args), zap.Int("attempt", in.Attempt))
	}
	if err := cmd.Run(); err != nil {
		return review.RoundOutput{}, fmt.Errorf("agent %s: %w%s", c.Path, err, stderrTail(stderr.Bytes()))
	}

	out, err := review.ParseRoundOutput(stdout.Bytes())
	if err != nil {
		return review.RoundOutput{}, fmt.Errorf("agent %s: %w", c.Path, err)
	}
	return out, nil
}

func stderrTail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return ""
	}
	if len(s) > maxStderr {
		s = "..." + s[len(s)-maxStderr:]
	}
	return ": " + s
}
