package gitlab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gl "gitlab.com/gitlab-org/api/client-go"
	"go.uber.org/zap"

	"github.com/dshills/vibe/internal/retry"
)

// Options configures a Client.
type Options struct {
	Token string
	// BaseURL is the instance root, e.g. https://gitlab.example.com. Empty
	// means gitlab.com.
	BaseURL string
	// Project is the project ID or its full path ("group/sub/name").
	Project    string
	HTTPClient *http.Client
	Retry      retry.Policy
	Logger     *zap.Logger
}

// Client provides access to one GitLab project.
type Client struct {
	api     *gl.Client
	project string
	retry   retry.Policy
	logger  *zap.Logger
}

// NewClient creates a Client for opts.Project.
func NewClient(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, &retry.AuthError{Message: "GITLAB_TOKEN is not set"}
	}
	if strings.TrimSpace(opts.Project) == "" {
		return nil, errors.New("gitlab: project is required")
	}

	clientOpts := []gl.ClientOptionFunc{gl.WithoutRetries()}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, gl.WithBaseURL(strings.TrimSuffix(opts.BaseURL, "/")+"/api/v4"))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, gl.WithHTTPClient(opts.HTTPClient))
	}
	api, err := gl.NewClient(opts.Token, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}

	policy := opts.Retry
	if policy.Attempts == 0 {
		policy = retry.DefaultPolicy
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, project: opts.Project, retry: policy, logger: logger}, nil
}

// do runs fn under the retry policy and normalizes its error.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return classify(fn(ctx))
	})
	if err != nil {
		c.logger.Debug("gitlab call failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// mutate is do for calls that create something. applied is consulted before
// any resend of a call that may have reached GitLab.
func (c *Client) mutate(ctx context.Context, op string, fn func(ctx context.Context) error, applied func(ctx context.Context) (bool, error)) error {
	err := retry.Mutate(ctx, c.retry, func(ctx context.Context) error {
		return classify(fn(ctx))
	}, applied)
	if err != nil {
		c.logger.Debug("gitlab call failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var er *gl.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		switch er.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &retry.AuthError{Message: er.Message}
		case http.StatusTooManyRequests:
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	return err
}

// setLine stores v into a client option field, whatever its integer width.
func setLine[T ~int | ~int64](dst **T, v int) {
	x := T(v)
	*dst = &x
}
