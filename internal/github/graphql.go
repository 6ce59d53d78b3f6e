package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dshills/vibe/internal/retry"
	"github.com/dshills/vibe/internal/threads"
)

const listThreadsQuery = `query($owner: String!, $name: String!, $number: Int!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    pullRequest(number: $number) {
      reviewThreads(first: 100, after: $cursor) {
        pageInfo { hasNextPage endCursor }
        nodes {
          id
          isResolved
          path
          line
          originalLine
          comments(first: 100) {
            pageInfo { hasNextPage endCursor }
            nodes { id body author { login } }
          }
        }
      }
    }
  }
}`

const threadCommentsQuery = `query($thread: ID!, $cursor: String) {
  node(id: $thread) {
    ... on PullRequestReviewThread {
      comments(first: 100, after: $cursor) {
        pageInfo { hasNextPage endCursor }
        nodes { id body author { login } }
      }
    }
  }
}`

const replyMutation = `mutation($thread: ID!, $body: String!) {
  addPullRequestReviewThreadReply(input: {pullRequestReviewThreadId: $thread, body: $body}) {
    comment { id }
  }
}`

const resolveMutation = `mutation($thread: ID!) {
  resolveReviewThread(input: {threadId: $thread}) {
    thread { id isResolved }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

type commentConnection struct {
	PageInfo pageInfo `json:"pageInfo"`
	Nodes    []struct {
		ID     string `json:"id"`
		Body   string `json:"body"`
		Author *struct {
			Login string `json:"login"`
		} `json:"author"`
	} `json:"nodes"`
}

func (cc commentConnection) comments() []threads.Comment {
	out := make([]threads.Comment, 0, len(cc.Nodes))
	for _, cm := range cc.Nodes {
		author := ""
		if cm.Author != nil {
			author = cm.Author.Login
		}
		out = append(out, threads.Comment{ID: cm.ID, Author: author, Body: cm.Body})
	}
	return out
}

type threadCommentsPayload struct {
	Node *struct {
		Comments commentConnection `json:"comments"`
	} `json:"node"`
}

type threadsPayload struct {
	Repository struct {
		PullRequest *struct {
			ReviewThreads struct {
				PageInfo pageInfo `json:"pageInfo"`
				Nodes    []struct {
					ID           string            `json:"id"`
					IsResolved   bool              `json:"isResolved"`
					Path         string            `json:"path"`
					Line         *int              `json:"line"`
					OriginalLine *int              `json:"originalLine"`
					Comments     commentConnection `json:"comments"`
				} `json:"nodes"`
			} `json:"reviewThreads"`
		} `json:"pullRequest"`
	} `json:"repository"`
}

// ListThreads implements threads.Ops.
func (c *Client) ListThreads(ctx context.Context, pr int) ([]threads.Thread, error) {
	var out []threads.Thread
	vars := map[string]any{"owner": c.owner, "name": c.repo, "number": pr, "cursor": nil}
	for {
		var payload threadsPayload
		if err := c.graphql(ctx, "listing review threads", listThreadsQuery, vars, &payload); err != nil {
			return nil, err
		}
		prData := payload.Repository.PullRequest
		if prData == nil {
			return nil, fmt.Errorf("pull request #%d not found in %s/%s", pr, c.owner, c.repo)
		}
		for _, n := range prData.ReviewThreads.Nodes {
			t := threads.Thread{ID: n.ID, Resolved: n.IsResolved, Path: n.Path}
			switch {
			case n.Line != nil:
				t.Line = *n.Line
			case n.OriginalLine != nil:
				t.Line = *n.OriginalLine
			}
			t.Comments = n.Comments.comments()
			if n.Comments.PageInfo.HasNextPage {
				rest, err := c.threadComments(ctx, n.ID, n.Comments.PageInfo.EndCursor, c.graphql)
				if err != nil {
					return nil, err
				}
				t.Comments = append(t.Comments, rest...)
			}
			out = append(out, t)
		}
		if !prData.ReviewThreads.PageInfo.HasNextPage {
			break
		}
		vars["cursor"] = prData.ReviewThreads.PageInfo.EndCursor
	}
	return out, nil
}

type graphqlFunc func(ctx context.Context, op, query string, vars map[string]any, out any) error

// threadComments pages through a thread's comments starting after cursor.
// An empty cursor starts from the first comment.
func (c *Client) threadComments(ctx context.Context, threadID, cursor string, query graphqlFunc) ([]threads.Comment, error) {
	var out []threads.Comment
	vars := map[string]any{"thread": threadID, "cursor": nil}
	if cursor != "" {
		vars["cursor"] = cursor
	}
	for {
		var payload threadCommentsPayload
		if err := query(ctx, "listing thread comments", threadCommentsQuery, vars, &payload); err != nil {
			return nil, err
		}
		if payload.Node == nil {
			return nil, fmt.Errorf("review thread %s not found", threadID)
		}
		conn := payload.Node.Comments
		out = append(out, conn.comments()...)
		if !conn.PageInfo.HasNextPage {
			return out, nil
		}
		vars["cursor"] = conn.PageInfo.EndCursor
	}
}

// Reply implements threads.Ops. A reply whose response was lost is looked
// up on the thread before it is sent again.
func (c *Client) Reply(ctx context.Context, _ int, threadID, body string) error {
	send, err := c.graphqlCall("replying to thread", replyMutation, map[string]any{"thread": threadID, "body": body}, nil)
	if err != nil {
		return err
	}
	return c.mutate(ctx, "replying to thread", send, func(ctx context.Context) (bool, error) {
		comments, err := c.threadComments(ctx, threadID, "", c.graphqlOnce)
		if err != nil {
			return false, err
		}
		want := strings.TrimSpace(body)
		for _, cm := range comments {
			if strings.TrimSpace(cm.Body) == want {
				return true, nil
			}
		}
		return false, nil
	})
}

// Resolve implements threads.Ops.
func (c *Client) Resolve(ctx context.Context, _ int, threadID string) error {
	return c.graphql(ctx, "resolving thread", resolveMutation, map[string]any{"thread": threadID}, nil)
}

// graphql posts one GraphQL operation under the retry policy and decodes
// data into out. Only queries and idempotent mutations go through it.
func (c *Client) graphql(ctx context.Context, op, query string, vars map[string]any, out any) error {
	call, err := c.graphqlCall(op, query, vars, out)
	if err != nil {
		return err
	}
	return c.do(ctx, op, call)
}

// graphqlOnce is graphql without retries.
func (c *Client) graphqlOnce(ctx context.Context, op, query string, vars map[string]any, out any) error {
	call, err := c.graphqlCall(op, query, vars, out)
	if err != nil {
		return err
	}
	return call(ctx)
}

// graphqlCall builds a single attempt of a GraphQL operation.
func (c *Client) graphqlCall(op, query string, vars map[string]any, out any) (func(ctx context.Context) error, error) {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("marshaling %s request: %w", op, err)
	}

	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, "POST", c.graphqlURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpCli.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return &retry.AuthError{Message: string(body)}
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("GitHub GraphQL error (status %d): %s", resp.StatusCode, string(body))
		}

		var gr graphQLResponse
		if err := json.Unmarshal(body, &gr); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
		if len(gr.Errors) > 0 {
			msgs := make([]string, len(gr.Errors))
			for i, e := range gr.Errors {
				msgs[i] = e.Message
			}
			err := fmt.Errorf("GitHub GraphQL: %s", strings.Join(msgs, "; "))
			if gr.Errors[0].Type == "FORBIDDEN" {
				return &retry.AuthError{Message: err.Error()}
			}
			return err
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(gr.Data, out); err != nil {
			return fmt.Errorf("parsing data: %w", err)
		}
		return nil
	}, nil
}
