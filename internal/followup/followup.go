package followup

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/vibe/internal/format"
	"github.com/dshills/vibe/internal/redact"
	"github.com/dshills/vibe/internal/review"
)

// Labels a follow-up issue may carry.
const (
	LabelBug         = "bug"
	LabelEnhancement = "enhancement"
)

var sourceMarkerRe = regexp.MustCompile(`<!--\s*vibe:followup-source:(\d+)\s*-->`)

// SourceMarker returns the hidden marker identifying the follow-up of a
// source issue.
func SourceMarker(source int) string {
	return "<!-- vibe:followup-source:" + strconv.Itoa(source) + " -->"
}

// ParseSourceMarker extracts the source issue number from an issue body.
func ParseSourceMarker(body string) (int, bool) {
	m := sourceMarkerRe.FindStringSubmatch(body)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Issue is a tracker issue as seen by the manager.
type Issue struct {
	Number int      `json:"number"`
	URL    string   `json:"url"`
	Title  string   `json:"title"`
	Body   string   `json:"-"`
	Labels []string `json:"labels,omitempty"`
}

// IssueRequest is the desired content of a follow-up issue.
type IssueRequest struct {
	Title  string
	Body   string
	Labels []string
}

// Tracker is the remote issue capability. ListOpenIssues returns only OPEN
// issues whose body contains marker. Implementations apply their own retry
// policy.
type Tracker interface {
	ListOpenIssues(ctx context.Context, marker string) ([]Issue, error)
	CreateIssue(ctx context.Context, req IssueRequest) (Issue, error)
	UpdateIssue(ctx context.Context, number int, req IssueRequest) (Issue, error)
	CloseIssue(ctx context.Context, number int, comment string) error
}

// ChooseLabel picks the follow-up label: an explicit override, else bug when
// any finding is a defect, regression or security kind, else bug when any is
// P0 or P1, else enhancement.
func ChooseLabel(override string, findings []review.Finding) string {
	if o := strings.TrimSpace(override); o != "" {
		return o
	}
	for _, f := range findings {
		switch strings.ToLower(strings.TrimSpace(f.Kind)) {
		case review.KindDefect, review.KindRegression, review.KindSecurity:
			return LabelBug
		}
	}
	for _, f := range findings {
		if f.Severity == review.SeverityP0 || f.Severity == review.SeverityP1 {
			return LabelBug
		}
	}
	return LabelEnhancement
}

// ShouldEnsure reports whether a run must create or update its follow-up:
// findings remain and the attempt budget ran out.
func ShouldEnsure(unresolved int, reason review.TerminationReason) bool {
	return unresolved > 0 && reason == review.ReasonMaxAttempts
}

// ShouldClose reports whether a run must close its follow-ups.
func ShouldClose(unresolved int, dryRun bool) bool {
	return unresolved == 0 && !dryRun
}

// EnsureRequest describes the run a follow-up is ensured for.
type EnsureRequest struct {
	Source       review.IssueRef
	PR           review.PRRef
	RunID        string
	AttemptsUsed int
	MaxAttempts  int
	Reason       review.TerminationReason
	Unresolved   []review.Finding
}

// Ensure actions.
const (
	ActionCreated     = "created"
	ActionUpdated     = "updated"
	ActionWouldCreate = "would-create"
	ActionWouldUpdate = "would-update"
)

// EnsureResult reports what Ensure did.
type EnsureResult struct {
	Action string `json:"action"`
	Issue  Issue  `json:"issue"`
	Label  string `json:"label"`
	// Superseded lists extra open follow-ups for the same source that were
	// closed in favour of Issue.
	Superseded []int    `json:"superseded,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// CloseResult reports what CloseResolved did.
type CloseResult struct {
	Closed   []int    `json:"closed,omitempty"`
	Failed   []int    `json:"failed,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Manager keeps at most one open follow-up issue per source issue.
type Manager struct {
	Tracker       Tracker
	Logger        *zap.Logger
	DryRun        bool
	LabelOverride string
	RedactPaths   []string
}

func (m *Manager) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

// Ensure creates the follow-up for req.Source, or updates the open one
// already carrying its marker. Calling it repeatedly converges on a single
// open issue. When more than one open issue carries the marker, the lowest
// numbered is kept and the rest are closed as superseded.
func (m *Manager) Ensure(ctx context.Context, req EnsureRequest) (EnsureResult, error) {
	if m.Tracker == nil {
		return EnsureResult{}, errors.New("follow-up: no tracker configured")
	}
	if req.Source.ID <= 0 {
		return EnsureResult{}, fmt.Errorf("follow-up: invalid source issue %d", req.Source.ID)
	}
	marker := SourceMarker(req.Source.ID)
	label := ChooseLabel(m.LabelOverride, req.Unresolved)
	res := EnsureResult{Label: label}

	existing, err := m.Tracker.ListOpenIssues(ctx, marker)
	if err != nil {
		return res, fmt.Errorf("looking up follow-up for #%d: %w", req.Source.ID, err)
	}
	existing = matching(existing, req.Source.ID)

	body := Body(req, m.RedactPaths)
	title := Title(req.Source)

	if len(existing) == 0 {
		issueReq := IssueRequest{Title: title, Body: body, Labels: []string{label}}
		if m.DryRun {
			res.Action = ActionWouldCreate
			res.Issue = Issue{Title: title, Labels: issueReq.Labels}
			m.logger().Info("dry run: would create follow-up", zap.Int("source", req.Source.ID), zap.String("label", label))
			return res, nil
		}
		created, err := m.Tracker.CreateIssue(ctx, issueReq)
		if err != nil {
			return res, fmt.Errorf("creating follow-up for #%d: %w", req.Source.ID, err)
		}
		res.Action = ActionCreated
		res.Issue = created
		m.logger().Info("follow-up created", zap.Int("source", req.Source.ID), zap.Int("issue", created.Number))
		return res, nil
	}

	keep := existing[0]
	issueReq := IssueRequest{Title: title, Body: body, Labels: mergeLabels(keep.Labels, label)}
	if m.DryRun {
		res.Action = ActionWouldUpdate
		res.Issue = keep
		m.logger().Info("dry run: would update follow-up", zap.Int("issue", keep.Number))
		return res, nil
	}
	updated, err := m.Tracker.UpdateIssue(ctx, keep.Number, issueReq)
	if err != nil {
		return res, fmt.Errorf("updating follow-up #%d: %w", keep.Number, err)
	}
	res.Action = ActionUpdated
	res.Issue = updated
	m.logger().Info("follow-up updated", zap.Int("source", req.Source.ID), zap.Int("issue", updated.Number))

	for _, dup := range existing[1:] {
		comment := fmt.Sprintf("Superseded by #%d (review run `%s`).", keep.Number, req.RunID)
		if err := m.Tracker.CloseIssue(ctx, dup.Number, comment); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("closing duplicate follow-up #%d: %v", dup.Number, err))
			continue
		}
		res.Superseded = append(res.Superseded, dup.Number)
	}
	return res, nil
}

// CloseResolved closes every open follow-up of source, commenting with the
// run id. A failed close is a warning and the rest are still attempted; only
// a failed lookup is returned as an error.
func (m *Manager) CloseResolved(ctx context.Context, source int, runID string) (CloseResult, error) {
	var res CloseResult
	if m.Tracker == nil {
		return res, errors.New("follow-up: no tracker configured")
	}
	existing, err := m.Tracker.ListOpenIssues(ctx, SourceMarker(source))
	if err != nil {
		return res, fmt.Errorf("looking up follow-ups for #%d: %w", source, err)
	}
	comment := fmt.Sprintf("Closing: review run `%s` for #%d finished with no unresolved findings.", runID, source)
	for _, is := range matching(existing, source) {
		if err := m.Tracker.CloseIssue(ctx, is.Number, comment); err != nil {
			res.Failed = append(res.Failed, is.Number)
			res.Warnings = append(res.Warnings, fmt.Sprintf("closing follow-up #%d: %v", is.Number, err))
			continue
		}
		res.Closed = append(res.Closed, is.Number)
		m.logger().Info("follow-up closed", zap.Int("source", source), zap.Int("issue", is.Number))
	}
	return res, nil
}

// matching keeps issues whose marker names source, lowest number first.
// Tracker search is substring based, so #3 must not pick up #34's follow-up.
func matching(issues []Issue, source int) []Issue {
	var out []Issue
	for _, is := range issues {
		if n, ok := ParseSourceMarker(is.Body); ok && n == source {
			out = append(out, is)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// mergeLabels swaps any previous follow-up label for label and keeps the rest.
func mergeLabels(existing []string, label string) []string {
	out := []string{label}
	for _, l := range existing {
		if l == label || l == LabelBug || l == LabelEnhancement {
			continue
		}
		out = append(out, l)
	}
	return out
}

// Title renders the follow-up issue title.
func Title(source review.IssueRef) string {
	if t := strings.TrimSpace(source.Title); t != "" {
		return fmt.Sprintf("Follow-up: unresolved review findings for #%d (%s)", source.ID, format.Truncate(t, 80))
	}
	return fmt.Sprintf("Follow-up: unresolved review findings for #%d", source.ID)
}

// Body renders the follow-up issue body. Finding text is redacted; the
// marker is always the first line.
func Body(req EnsureRequest, redactPaths []string) string {
	var sb strings.Builder
	sb.WriteString(SourceMarker(req.Source.ID))
	sb.WriteString("\n\n## Unresolved review findings\n\n")
	fmt.Fprintf(&sb, "Source issue: #%d", req.Source.ID)
	if req.Source.URL != "" {
		fmt.Fprintf(&sb, " (%s)", req.Source.URL)
	}
	sb.WriteString("\n")
	if req.PR.Number > 0 {
		fmt.Fprintf(&sb, "Pull request: #%d", req.PR.Number)
		if req.PR.URL != "" {
			fmt.Fprintf(&sb, " (%s)", req.PR.URL)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Review run `%s` stopped after %d/%d attempts (%s).\n\n",
		req.RunID, req.AttemptsUsed, req.MaxAttempts, req.Reason.Display())

	tb := format.NewTable(format.Markdown)
	tb.Header("Severity", "Pass", "Location", "Title")
	for _, f := range sortedBySeverity(req.Unresolved) {
		f = redact.Finding(f, redactPaths)
		tb.Row(string(f.Severity), string(f.Pass), "`"+f.Location()+"`", oneLine(f.Title))
	}
	sb.WriteString(tb.String())
	sb.WriteString("\n")
	return sb.String()
}

func sortedBySeverity(findings []review.Finding) []review.Finding {
	out := append([]review.Finding(nil), findings...)
	sort.SliceStable(out, func(i, j int) bool {
		return review.SeverityRank(out[i].Severity) > review.SeverityRank(out[j].Severity)
	})
	return out
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
