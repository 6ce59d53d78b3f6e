package github

import (
	"context"
	"strings"

	gh "github.com/google/go-github/v68/github"

	"github.com/dshills/vibe/internal/followup"
)

// ListOpenIssues implements followup.Tracker. Pull requests, which the
// issues endpoint also returns, are skipped.
func (c *Client) ListOpenIssues(ctx context.Context, marker string) ([]followup.Issue, error) {
	var out []followup.Issue
	opts := &gh.IssueListByRepoOptions{
		State:       "open",
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		var page []*gh.Issue
		var resp *gh.Response
		err := c.do(ctx, "listing issues", func(ctx context.Context) error {
			var err error
			page, resp, err = c.rest.Issues.ListByRepo(ctx, c.owner, c.repo, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, is := range page {
			if is.IsPullRequest() || !strings.Contains(is.GetBody(), marker) {
				continue
			}
			out = append(out, toIssue(is))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// CreateIssue implements followup.Tracker.
func (c *Client) CreateIssue(ctx context.Context, req followup.IssueRequest) (followup.Issue, error) {
	var created *gh.Issue
	err := c.mutate(ctx, "creating issue", func(ctx context.Context) error {
		var err error
		created, _, err = c.rest.Issues.Create(ctx, c.owner, c.repo, issueRequest(req))
		return err
	}, func(ctx context.Context) (bool, error) {
		is, err := c.findRecentIssue(ctx, req)
		if is != nil {
			created = is
		}
		return is != nil, err
	})
	if err != nil {
		return followup.Issue{}, err
	}
	return toIssue(created), nil
}

// UpdateIssue implements followup.Tracker.
func (c *Client) UpdateIssue(ctx context.Context, number int, req followup.IssueRequest) (followup.Issue, error) {
	var updated *gh.Issue
	err := c.do(ctx, "updating issue", func(ctx context.Context) error {
		var err error
		updated, _, err = c.rest.Issues.Edit(ctx, c.owner, c.repo, number, issueRequest(req))
		return err
	})
	if err != nil {
		return followup.Issue{}, err
	}
	return toIssue(updated), nil
}

// CloseIssue implements followup.Tracker. The comment is posted first so a
// closed issue always explains why.
func (c *Client) CloseIssue(ctx context.Context, number int, comment string) error {
	if comment != "" {
		err := c.mutate(ctx, "commenting on issue", func(ctx context.Context) error {
			_, _, err := c.rest.Issues.CreateComment(ctx, c.owner, c.repo, number, &gh.IssueComment{Body: gh.Ptr(comment)})
			return err
		}, func(ctx context.Context) (bool, error) {
			return c.hasIssueComment(ctx, number, comment)
		})
		if err != nil {
			return err
		}
	}
	return c.do(ctx, "closing issue", func(ctx context.Context) error {
		_, _, err := c.rest.Issues.Edit(ctx, c.owner, c.repo, number, &gh.IssueRequest{
			State:       gh.Ptr("closed"),
			StateReason: gh.Ptr("completed"),
		})
		return err
	})
}

// findRecentIssue looks for an open issue matching req among the most
// recently created ones.
func (c *Client) findRecentIssue(ctx context.Context, req followup.IssueRequest) (*gh.Issue, error) {
	page, _, err := c.rest.Issues.ListByRepo(ctx, c.owner, c.repo, &gh.IssueListByRepoOptions{
		State:       "open",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: 30},
	})
	if err != nil {
		return nil, err
	}
	for _, is := range page {
		if is.IsPullRequest() {
			continue
		}
		if is.GetTitle() == req.Title && strings.TrimSpace(is.GetBody()) == strings.TrimSpace(req.Body) {
			return is, nil
		}
	}
	return nil, nil
}

func (c *Client) hasIssueComment(ctx context.Context, number int, body string) (bool, error) {
	want := strings.TrimSpace(body)
	opts := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	for {
		page, resp, err := c.rest.Issues.ListComments(ctx, c.owner, c.repo, number, opts)
		if err != nil {
			return false, err
		}
		for _, cm := range page {
			if strings.TrimSpace(cm.GetBody()) == want {
				return true, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return false, nil
		}
		opts.Page = resp.NextPage
	}
}

func issueRequest(req followup.IssueRequest) *gh.IssueRequest {
	r := &gh.IssueRequest{
		Title: gh.Ptr(req.Title),
		Body:  gh.Ptr(req.Body),
	}
	if req.Labels != nil {
		labels := append([]string(nil), req.Labels...)
		r.Labels = &labels
	}
	return r
}

func toIssue(is *gh.Issue) followup.Issue {
	out := followup.Issue{
		Number: is.GetNumber(),
		URL:    is.GetHTMLURL(),
		Title:  is.GetTitle(),
		Body:   is.GetBody(),
	}
	for _, l := range is.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	return out
}
