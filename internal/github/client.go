package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v68/github"
	"go.uber.org/zap"

	"github.com/dshills/vibe/internal/gitctx"
	"github.com/dshills/vibe/internal/retry"
)

const defaultAPIURL = "https://api.github.com"

// Options configures a Client.
type Options struct {
	Token string
	// APIURL is the REST root, e.g. https://ghe.example.com/api/v3 for GitHub
	// Enterprise. Empty means api.github.com.
	APIURL string
	// GraphQLURL overrides the GraphQL endpoint derived from APIURL.
	GraphQLURL string
	// Repo is "owner/name".
	Repo       string
	HTTPClient *http.Client
	Retry      retry.Policy
	Logger     *zap.Logger
}

// Client provides access to one GitHub repository.
type Client struct {
	rest       *gh.Client
	token      string
	graphqlURL string
	httpCli    *http.Client
	owner      string
	repo       string
	retry      retry.Policy
	logger     *zap.Logger
}

// NewClient creates a Client for opts.Repo.
func NewClient(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, &retry.AuthError{Message: "GITHUB_TOKEN is not set"}
	}
	owner, repo, err := gitctx.SplitSlug(opts.Repo)
	if err != nil {
		return nil, err
	}

	httpCli := opts.HTTPClient
	if httpCli == nil {
		httpCli = &http.Client{Timeout: 60 * time.Second}
	}
	apiURL := strings.TrimRight(opts.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	base, err := url.Parse(apiURL + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub API URL %q: %w", apiURL, err)
	}

	rest := gh.NewClient(httpCli).WithAuthToken(opts.Token)
	rest.BaseURL = base

	graphqlURL := opts.GraphQLURL
	if graphqlURL == "" {
		graphqlURL = graphQLEndpoint(apiURL)
	}

	policy := opts.Retry
	if policy.Attempts == 0 {
		policy = retry.DefaultPolicy
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		rest:       rest,
		token:      opts.Token,
		graphqlURL: graphqlURL,
		httpCli:    httpCli,
		owner:      owner,
		repo:       repo,
		retry:      policy,
		logger:     logger,
	}, nil
}

// graphQLEndpoint maps a REST root to its GraphQL endpoint: api.github.com
// serves /graphql, Enterprise serves /api/graphql next to /api/v3.
func graphQLEndpoint(apiURL string) string {
	if strings.HasSuffix(apiURL, "/api/v3") {
		return strings.TrimSuffix(apiURL, "/v3") + "/graphql"
	}
	return apiURL + "/graphql"
}

// do runs fn under the retry policy and normalizes its error.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return classify(fn(ctx))
	})
	if err != nil {
		c.logger.Debug("github call failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// mutate is do for calls that create something. applied reports whether a
// call that failed in flight reached GitHub anyway; it is consulted before any
// resend so a lost response never duplicates an issue or comment.
func (c *Client) mutate(ctx context.Context, op string, fn func(ctx context.Context) error, applied func(ctx context.Context) (bool, error)) error {
	var check func(ctx context.Context) (bool, error)
	if applied != nil {
		check = func(ctx context.Context) (bool, error) {
			ok, err := applied(ctx)
			if err != nil {
				c.logger.Debug("github mutation check failed", zap.String("op", op), zap.Error(err))
			}
			return ok, err
		}
	}
	err := retry.Mutate(ctx, c.retry, func(ctx context.Context) error {
		return classify(fn(ctx))
	}, check)
	if err != nil {
		c.logger.Debug("github call failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// classify turns credential failures into retry.AuthError. Rate limiting is
// reported with 403 too and stays retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rl *gh.RateLimitError
	var abuse *gh.AbuseRateLimitError
	if errors.As(err, &rl) || errors.As(err, &abuse) {
		return err
	}
	var er *gh.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		switch er.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &retry.AuthError{Message: er.Message}
		}
	}
	return err
}
