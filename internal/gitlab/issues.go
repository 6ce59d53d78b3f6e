package gitlab

import (
	"context"
	"strings"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/dshills/vibe/internal/followup"
)

// ListOpenIssues implements followup.Tracker.
func (c *Client) ListOpenIssues(ctx context.Context, marker string) ([]followup.Issue, error) {
	var out []followup.Issue
	opts := &gl.ListProjectIssuesOptions{State: gl.Ptr("opened")}
	opts.PerPage = 100
	for {
		var page []*gl.Issue
		var resp *gl.Response
		err := c.do(ctx, "listing issues", func(ctx context.Context) error {
			var err error
			page, resp, err = c.api.Issues.ListProjectIssues(c.project, opts, gl.WithContext(ctx))
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, is := range page {
			if is == nil || !strings.Contains(is.Description, marker) {
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
	opts := &gl.CreateIssueOptions{
		Title:       gl.Ptr(req.Title),
		Description: gl.Ptr(req.Body),
	}
	if req.Labels != nil {
		opts.Labels = gl.Ptr(gl.LabelOptions(req.Labels))
	}
	var created *gl.Issue
	err := c.mutate(ctx, "creating issue", func(ctx context.Context) error {
		var err error
		created, _, err = c.api.Issues.CreateIssue(c.project, opts, gl.WithContext(ctx))
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
	opts := &gl.UpdateIssueOptions{
		Title:       gl.Ptr(req.Title),
		Description: gl.Ptr(req.Body),
	}
	if req.Labels != nil {
		opts.Labels = gl.Ptr(gl.LabelOptions(req.Labels))
	}
	var updated *gl.Issue
	err := c.do(ctx, "updating issue", func(ctx context.Context) error {
		var err error
		updated, _, err = c.api.Issues.UpdateIssue(c.project, int64(number), opts, gl.WithContext(ctx))
		return err
	})
	if err != nil {
		return followup.Issue{}, err
	}
	return toIssue(updated), nil
}

// CloseIssue implements followup.Tracker.
func (c *Client) CloseIssue(ctx context.Context, number int, comment string) error {
	if comment != "" {
		err := c.mutate(ctx, "commenting on issue", func(ctx context.Context) error {
			_, _, err := c.api.Notes.CreateIssueNote(c.project, int64(number), &gl.CreateIssueNoteOptions{Body: gl.Ptr(comment)}, gl.WithContext(ctx))
			return err
		}, func(ctx context.Context) (bool, error) {
			return c.hasIssueNote(ctx, number, comment)
		})
		if err != nil {
			return err
		}
	}
	return c.do(ctx, "closing issue", func(ctx context.Context) error {
		_, _, err := c.api.Issues.UpdateIssue(c.project, int64(number), &gl.UpdateIssueOptions{StateEvent: gl.Ptr("close")}, gl.WithContext(ctx))
		return err
	})
}

// findRecentIssue looks for an open issue matching req among the most
// recently created ones.
func (c *Client) findRecentIssue(ctx context.Context, req followup.IssueRequest) (*gl.Issue, error) {
	opts := &gl.ListProjectIssuesOptions{
		State:   gl.Ptr("opened"),
		OrderBy: gl.Ptr("created_at"),
		Sort:    gl.Ptr("desc"),
	}
	opts.PerPage = 30
	page, _, err := c.api.Issues.ListProjectIssues(c.project, opts, gl.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	for _, is := range page {
		if is != nil && is.Title == req.Title && strings.TrimSpace(is.Description) == strings.TrimSpace(req.Body) {
			return is, nil
		}
	}
	return nil, nil
}

func (c *Client) hasIssueNote(ctx context.Context, number int, body string) (bool, error) {
	want := strings.TrimSpace(body)
	opts := &gl.ListIssueNotesOptions{}
	opts.PerPage = 100
	for {
		page, resp, err := c.api.Notes.ListIssueNotes(c.project, int64(number), opts, gl.WithContext(ctx))
		if err != nil {
			return false, err
		}
		for _, n := range page {
			if n != nil && strings.TrimSpace(n.Body) == want {
				return true, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return false, nil
		}
		opts.Page = resp.NextPage
	}
}

func toIssue(is *gl.Issue) followup.Issue {
	out := followup.Issue{
		Number: int(is.IID),
		URL:    is.WebURL,
		Title:  is.Title,
		Body:   is.Description,
	}
	for _, l := range is.Labels {
		out.Labels = append(out.Labels, l)
	}
	return out
}
