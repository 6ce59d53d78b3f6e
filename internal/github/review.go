package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v68/github"
	"go.uber.org/zap"

	"github.com/dshills/vibe/internal/threads"
)

// ListReviewBodies implements threads.PublishOps.
func (c *Client) ListReviewBodies(ctx context.Context, pr int) ([]string, error) {
	var out []string
	opts := &gh.ListOptions{PerPage: 100}
	for {
		var page []*gh.PullRequestReview
		var resp *gh.Response
		err := c.do(ctx, "listing reviews", func(ctx context.Context) error {
			var err error
			page, resp, err = c.rest.PullRequests.ListReviews(ctx, c.owner, c.repo, pr, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, r := range page {
			if b := r.GetBody(); b != "" {
				out = append(out, b)
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// PRFiles returns the set of files changed in a pull request.
func (c *Client) PRFiles(ctx context.Context, pr int) (map[string]bool, error) {
	files := make(map[string]bool)
	opts := &gh.ListOptions{PerPage: 100}
	for {
		var page []*gh.CommitFile
		var resp *gh.Response
		err := c.do(ctx, "listing PR files", func(ctx context.Context) error {
			var err error
			page, resp, err = c.rest.PullRequests.ListFiles(ctx, c.owner, c.repo, pr, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, f := range page {
			files[f.GetFilename()] = true
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return files, nil
}

// CreateReview implements threads.PublishOps. Comments on files outside the
// PR diff are folded into the review body. If GitHub still rejects an inline
// anchor (422), the review is re-posted with every comment in the body.
func (c *Client) CreateReview(ctx context.Context, pr int, draft threads.ReviewDraft) error {
	diffFiles, err := c.PRFiles(ctx, pr)
	if err != nil {
		return err
	}
	req := BuildReviewRequest(draft, diffFiles)
	err = c.postReview(ctx, pr, req)
	if err == nil || !isUnprocessable(err) || len(req.Comments) == 0 {
		return err
	}
	c.logger.Warn("inline review rejected, posting findings in review body", zap.Int("pr", pr), zap.Error(err))
	return c.postReview(ctx, pr, BuildReviewRequest(draft, nil))
}

func (c *Client) postReview(ctx context.Context, pr int, req *gh.PullRequestReviewRequest) error {
	return c.mutate(ctx, "posting review", func(ctx context.Context) error {
		_, _, err := c.rest.PullRequests.CreateReview(ctx, c.owner, c.repo, pr, req)
		return err
	}, func(ctx context.Context) (bool, error) {
		bodies, err := c.ListReviewBodies(ctx, pr)
		if err != nil {
			return false, err
		}
		want := strings.TrimSpace(req.GetBody())
		for _, b := range bodies {
			if strings.TrimSpace(b) == want {
				return true, nil
			}
		}
		return false, nil
	})
}

// BuildReviewRequest converts a draft into a COMMENT review. Only comments on
// files in diffFiles stay inline.
func BuildReviewRequest(draft threads.ReviewDraft, diffFiles map[string]bool) *gh.PullRequestReviewRequest {
	var sb strings.Builder
	sb.WriteString(draft.Body)

	var comments []*gh.DraftReviewComment
	var folded []threads.DraftComment
	for _, dc := range draft.Comments {
		if diffFiles[dc.Path] && dc.Line > 0 {
			comments = append(comments, &gh.DraftReviewComment{
				Path: gh.Ptr(dc.Path),
				Line: gh.Ptr(dc.Line),
				Side: gh.Ptr("RIGHT"),
				Body: gh.Ptr(dc.Body),
			})
			continue
		}
		folded = append(folded, dc)
	}
	if len(folded) > 0 {
		sb.WriteString("\n### Findings outside the diff\n\n")
		for _, dc := range folded {
			fmt.Fprintf(&sb, "`%s:%d`\n\n%s\n---\n\n", dc.Path, dc.Line, dc.Body)
		}
	}

	return &gh.PullRequestReviewRequest{
		Body:     gh.Ptr(sb.String()),
		Event:    gh.Ptr("COMMENT"),
		Comments: comments,
	}
}

func isUnprocessable(err error) bool {
	var er *gh.ErrorResponse
	return errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusUnprocessableEntity
}
