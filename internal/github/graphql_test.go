package github

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/vibe/internal/retry"
	"github.com/dshills/vibe/internal/threads"
)

func decodeGraphQL(t *testing.T, r *http.Request) graphQLRequest {
	t.Helper()
	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return req
}

func TestListThreads(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		calls++
		req := decodeGraphQL(t, r)
		if req.Variables["owner"] != "acme" || req.Variables["name"] != "widgets" || req.Variables["number"] != float64(12) {
			t.Errorf("variables = %v", req.Variables)
		}
		if req.Variables["cursor"] == nil {
			w.Write([]byte(`{"data":{"repository":{"pullRequest":{"reviewThreads":{
				"pageInfo":{"hasNextPage":true,"endCursor":"c1"},
				"nodes":[{"id":"T1","isResolved":false,"path":"src/a.go","line":10,
					"comments":{"nodes":[{"id":"C1","body":"first","author":{"login":"vibe-bot"}},{"id":"C2","body":"reply","author":null}]}}]}}}}}`))
			return
		}
		if req.Variables["cursor"] != "c1" {
			t.Errorf("cursor = %v", req.Variables["cursor"])
		}
		w.Write([]byte(`{"data":{"repository":{"pullRequest":{"reviewThreads":{
			"pageInfo":{"hasNextPage":false,"endCursor":""},
			"nodes":[{"id":"T2","isResolved":true,"path":"b.go","line":null,"originalLine":4,"comments":{"nodes":[]}}]}}}}}`))
	})
	c := newTestClient(t, mux)

	got, err := c.ListThreads(context.Background(), 12)
	if err != nil {
		t.Fatalf("ListThreads: %v", err)
	}
	want := []threads.Thread{
		{ID: "T1", Path: "src/a.go", Line: 10, Comments: []threads.Comment{
			{ID: "C1", Author: "vibe-bot", Body: "first"},
			{ID: "C2", Body: "reply"},
		}},
		{ID: "T2", Resolved: true, Path: "b.go", Line: 4},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListThreads (-want +got):\n%s", diff)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestListThreads_PRNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"repository":{"pullRequest":null}}}`))
	})
	c := newTestClient(t, mux)
	if _, err := c.ListThreads(context.Background(), 99); err == nil || !strings.Contains(err.Error(), "#99") {
		t.Errorf("err = %v", err)
	}
}

func TestReplyAndResolve(t *testing.T) {
	var ops []string
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		req := decodeGraphQL(t, r)
		switch {
		case strings.Contains(req.Query, "addPullRequestReviewThreadReply"):
			ops = append(ops, "reply:"+req.Variables["thread"].(string)+":"+req.Variables["body"].(string))
		case strings.Contains(req.Query, "resolveReviewThread"):
			ops = append(ops, "resolve:"+req.Variables["thread"].(string))
		}
		w.Write([]byte(`{"data":{}}`))
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	if err := c.Reply(ctx, 12, "T1", "done"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if err := c.Resolve(ctx, 12, "T1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if diff := cmp.Diff([]string{"reply:T1:done", "resolve:T1"}, ops); diff != "" {
		t.Errorf("ops (-want +got):\n%s", diff)
	}
}

func TestGraphQL_Errors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		req := decodeGraphQL(t, r)
		if req.Variables["thread"] == "forbidden" {
			w.Write([]byte(`{"errors":[{"type":"FORBIDDEN","message":"Resource not accessible by integration"}]}`))
			return
		}
		w.Write([]byte(`{"errors":[{"message":"Could not resolve to a node"}]}`))
	})
	c := newTestClient(t, mux)

	err := c.Resolve(context.Background(), 1, "missing")
	if err == nil || !strings.Contains(err.Error(), "Could not resolve") {
		t.Errorf("err = %v", err)
	}
	if err := c.Resolve(context.Background(), 1, "forbidden"); !retry.IsAuthError(err) {
		t.Errorf("err = %v, want AuthError", err)
	}
}

func TestListThreads_PaginatesComments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		req := decodeGraphQL(t, r)
		if strings.Contains(req.Query, "node(id: $thread)") {
			if req.Variables["thread"] != "T1" || req.Variables["cursor"] != "k1" {
				t.Errorf("variables = %v", req.Variables)
			}
			w.Write([]byte(`{"data":{"node":{"comments":{
				"pageInfo":{"hasNextPage":false,"endCursor":"k2"},
				"nodes":[{"id":"C101","body":"please keep this","author":{"login":"alice"}}]}}}}`))
			return
		}
		w.Write([]byte(`{"data":{"repository":{"pullRequest":{"reviewThreads":{
			"pageInfo":{"hasNextPage":false,"endCursor":""},
			"nodes":[{"id":"T1","isResolved":false,"path":"a.go","line":3,
				"comments":{"pageInfo":{"hasNextPage":true,"endCursor":"k1"},
					"nodes":[{"id":"C1","body":"first","author":{"login":"vibe-bot"}}]}}]}}}}}`))
	})
	c := newTestClient(t, mux)

	got, err := c.ListThreads(context.Background(), 12)
	if err != nil {
		t.Fatalf("ListThreads: %v", err)
	}
	want := []threads.Thread{{ID: "T1", Path: "a.go", Line: 3, Comments: []threads.Comment{
		{ID: "C1", Author: "vibe-bot", Body: "first"},
		{ID: "C101", Author: "alice", Body: "please keep this"},
	}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListThreads (-want +got):\n%s", diff)
	}
}

func TestReply_LostResponse(t *testing.T) {
	tests := []struct {
		name        string
		onThread    string
		wantReplies int
	}{
		{name: "posted reply is not resent", onThread: "done", wantReplies: 1},
		{name: "missing reply is resent", onThread: "something else", wantReplies: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			replies := 0
			mux := http.NewServeMux()
			mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
				req := decodeGraphQL(t, r)
				if strings.Contains(req.Query, "addPullRequestReviewThreadReply") {
					replies++
					if replies == 1 {
						w.WriteHeader(http.StatusBadGateway)
						w.Write([]byte(`bad gateway`))
						return
					}
					w.Write([]byte(`{"data":{}}`))
					return
				}
				w.Write([]byte(`{"data":{"node":{"comments":{"pageInfo":{"hasNextPage":false},
					"nodes":[{"id":"C1","body":"` + tt.onThread + `","author":{"login":"vibe-bot"}}]}}}}`))
			})
			c := newTestClient(t, mux)

			if err := c.Reply(context.Background(), 12, "T1", "done"); err != nil {
				t.Fatalf("Reply: %v", err)
			}
			if replies != tt.wantReplies {
				t.Errorf("reply mutations = %d, want %d", replies, tt.wantReplies)
			}
		})
	}
}
