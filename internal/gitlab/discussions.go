package gitlab

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	gl "gitlab.com/gitlab-org/api/client-go"
	"go.uber.org/zap"

	"github.com/dshills/vibe/internal/threads"
)

// ListThreads implements threads.Ops. Only resolvable discussions are
// threads; plain notes and system events are skipped.
func (c *Client) ListThreads(ctx context.Context, mr int) ([]threads.Thread, error) {
	var out []threads.Thread
	opts := &gl.ListMergeRequestDiscussionsOptions{}
	opts.PerPage = 100
	for {
		var page []*gl.Discussion
		var resp *gl.Response
		err := c.do(ctx, "listing discussions", func(ctx context.Context) error {
			var err error
			page, resp, err = c.api.Discussions.ListMergeRequestDiscussions(c.project, int64(mr), opts, gl.WithContext(ctx))
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, d := range page {
			if t, ok := toThread(d); ok {
				out = append(out, t)
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func toThread(d *gl.Discussion) (threads.Thread, bool) {
	if d == nil || len(d.Notes) == 0 {
		return threads.Thread{}, false
	}
	t := threads.Thread{ID: d.ID, Resolved: true}
	resolvable := false
	for _, n := range d.Notes {
		if n == nil || n.System {
			continue
		}
		if n.Resolvable {
			resolvable = true
			if !n.Resolved {
				t.Resolved = false
			}
		}
		if t.Path == "" && n.Position != nil {
			t.Path = n.Position.NewPath
			t.Line = int(n.Position.NewLine)
		}
		t.Comments = append(t.Comments, threads.Comment{
			ID:     strconv.FormatInt(int64(n.ID), 10),
			Author: n.Author.Username,
			Body:   n.Body,
		})
	}
	if !resolvable || len(t.Comments) == 0 {
		return threads.Thread{}, false
	}
	return t, true
}

// Reply implements threads.Ops.
func (c *Client) Reply(ctx context.Context, mr int, threadID, body string) error {
	return c.mutate(ctx, "replying to discussion", func(ctx context.Context) error {
		_, _, err := c.api.Discussions.AddMergeRequestDiscussionNote(c.project, int64(mr), threadID,
			&gl.AddMergeRequestDiscussionNoteOptions{Body: gl.Ptr(body)}, gl.WithContext(ctx))
		return err
	}, func(ctx context.Context) (bool, error) {
		d, _, err := c.api.Discussions.GetMergeRequestDiscussion(c.project, int64(mr), threadID, gl.WithContext(ctx))
		if err != nil {
			return false, err
		}
		want := strings.TrimSpace(body)
		for _, n := range d.Notes {
			if n != nil && strings.TrimSpace(n.Body) == want {
				return true, nil
			}
		}
		return false, nil
	})
}

// Resolve implements threads.Ops.
func (c *Client) Resolve(ctx context.Context, mr int, threadID string) error {
	return c.do(ctx, "resolving discussion", func(ctx context.Context) error {
		_, _, err := c.api.Discussions.ResolveMergeRequestDiscussion(c.project, int64(mr), threadID,
			&gl.ResolveMergeRequestDiscussionOptions{Resolved: gl.Ptr(true)}, gl.WithContext(ctx))
		return err
	})
}

// ListReviewBodies implements threads.PublishOps using the merge request's
// user notes.
func (c *Client) ListReviewBodies(ctx context.Context, mr int) ([]string, error) {
	var out []string
	opts := &gl.ListMergeRequestNotesOptions{}
	opts.PerPage = 100
	for {
		var page []*gl.Note
		var resp *gl.Response
		err := c.do(ctx, "listing notes", func(ctx context.Context) error {
			var err error
			page, resp, err = c.api.Notes.ListMergeRequestNotes(c.project, int64(mr), opts, gl.WithContext(ctx))
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, n := range page {
			if n != nil && !n.System && n.Body != "" {
				out = append(out, n.Body)
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// CreateReview implements threads.PublishOps. Each inline comment opens a
// positioned discussion against the merge request's diff refs; a comment
// GitLab refuses to anchor is folded into the summary note instead.
func (c *Client) CreateReview(ctx context.Context, mr int, draft threads.ReviewDraft) error {
	var folded []string
	if len(draft.Comments) > 0 {
		var m *gl.MergeRequest
		err := c.do(ctx, "getting merge request", func(ctx context.Context) error {
			var err error
			m, _, err = c.api.MergeRequests.GetMergeRequest(c.project, int64(mr), nil, gl.WithContext(ctx))
			return err
		})
		if err != nil {
			return err
		}
		for _, dc := range draft.Comments {
			if err := c.createPositioned(ctx, mr, m, dc); err != nil {
				c.logger.Warn("inline discussion rejected, folding into summary",
					zap.String("path", dc.Path), zap.Int("line", dc.Line), zap.Error(err))
				folded = append(folded, fmt.Sprintf("`%s:%d`\n\n%s", dc.Path, dc.Line, dc.Body))
			}
		}
	}

	body := draft.Body
	if len(folded) > 0 {
		body += "\n### Findings outside the diff\n\n" + strings.Join(folded, "\n---\n\n") + "\n"
	}
	return c.mutate(ctx, "creating note", func(ctx context.Context) error {
		_, _, err := c.api.Notes.CreateMergeRequestNote(c.project, int64(mr),
			&gl.CreateMergeRequestNoteOptions{Body: gl.Ptr(body)}, gl.WithContext(ctx))
		return err
	}, func(ctx context.Context) (bool, error) {
		bodies, err := c.ListReviewBodies(ctx, mr)
		if err != nil {
			return false, err
		}
		return containsTrimmed(bodies, body), nil
	})
}

func (c *Client) createPositioned(ctx context.Context, mr int, m *gl.MergeRequest, dc threads.DraftComment) error {
	pos := &gl.PositionOptions{
		BaseSHA:      gl.Ptr(m.DiffRefs.BaseSha),
		HeadSHA:      gl.Ptr(m.DiffRefs.HeadSha),
		StartSHA:     gl.Ptr(m.DiffRefs.StartSha),
		PositionType: gl.Ptr("text"),
		NewPath:      gl.Ptr(dc.Path),
		OldPath:      gl.Ptr(dc.Path),
	}
	setLine(&pos.NewLine, dc.Line)
	return c.mutate(ctx, "creating discussion", func(ctx context.Context) error {
		_, _, err := c.api.Discussions.CreateMergeRequestDiscussion(c.project, int64(mr),
			&gl.CreateMergeRequestDiscussionOptions{Body: gl.Ptr(dc.Body), Position: pos}, gl.WithContext(ctx))
		return err
	}, func(ctx context.Context) (bool, error) {
		existing, err := c.ListThreads(ctx, mr)
		if err != nil {
			return false, err
		}
		for _, t := range existing {
			if t.Path == dc.Path && len(t.Comments) > 0 && containsTrimmed([]string{t.Comments[0].Body}, dc.Body) {
				return true, nil
			}
		}
		return false, nil
	})
}

func containsTrimmed(bodies []string, body string) bool {
	want := strings.TrimSpace(body)
	for _, b := range bodies {
		if strings.TrimSpace(b) == want {
			return true
		}
	}
	return false
}
