package threads

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/vibe/internal/redact"
	"github.com/dshills/vibe/internal/review"
)

// DraftComment is an inline comment anchored to a file line.
type DraftComment struct {
	Path string
	Line int
	Body string
}

// ReviewDraft is one review to post on a change. Backends that cannot anchor
// a comment fold it into Body.
type ReviewDraft struct {
	Body     string
	Comments []DraftComment
}

// PublishOps is the remote capability needed to post findings.
type PublishOps interface {
	ListThreads(ctx context.Context, pr int) ([]Thread, error)
	// ListReviewBodies returns the top-level bodies of earlier reviews or
	// notes, where findings without a location were posted.
	ListReviewBodies(ctx context.Context, pr int) ([]string, error)
	CreateReview(ctx context.Context, pr int, draft ReviewDraft) error
}

// PublishReport summarizes a publication pass.
type PublishReport struct {
	Posted  int  `json:"posted"`
	Skipped int  `json:"skipped"`
	Inline  int  `json:"inline"`
	General int  `json:"general"`
	DryRun  bool `json:"dryRun,omitempty"`
}

// Publisher posts findings that are not yet on the change as a single review.
type Publisher struct {
	Ops         PublishOps
	Logger      *zap.Logger
	DryRun      bool
	RedactPaths []string
	// Root relativizes absolute finding paths to repository paths.
	Root string
}

// Publish posts every finding whose fingerprint is not already carried by a
// thread or an earlier review body. Findings with a file and line become
// inline comments; the rest go into the review body.
func (p *Publisher) Publish(ctx context.Context, pr int, runID string, findings []review.Finding) (PublishReport, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	report := PublishReport{DryRun: p.DryRun}

	known, err := p.knownFingerprints(ctx, pr)
	if err != nil {
		return report, err
	}

	var draft ReviewDraft
	var general []string
	seen := make(map[string]bool)
	for _, f := range findings {
		fp := review.Fingerprint(f)
		if known[fp] || seen[fp] {
			report.Skipped++
			continue
		}
		seen[fp] = true
		body := CommentBody(fp, review.CanonicalKey(f, p.Root), redact.Finding(f, p.RedactPaths))
		if f.File != "" && f.Line > 0 {
			draft.Comments = append(draft.Comments, DraftComment{
				Path: review.RelativePath(f.File, p.Root),
				Line: f.Line,
				Body: body,
			})
			report.Inline++
		} else {
			general = append(general, body)
			report.General++
		}
	}
	report.Posted = report.Inline + report.General
	if report.Posted == 0 {
		return report, nil
	}

	draft.Body = reviewBody(runID, report.Posted, general)
	if p.DryRun {
		logger.Info("dry run: would publish findings", zap.Int("pr", pr), zap.Int("findings", report.Posted))
		return report, nil
	}
	if err := p.Ops.CreateReview(ctx, pr, draft); err != nil {
		return report, fmt.Errorf("posting review on #%d: %w", pr, err)
	}
	logger.Info("findings published",
		zap.Int("pr", pr),
		zap.Int("inline", report.Inline),
		zap.Int("general", report.General),
		zap.Int("skipped", report.Skipped))
	return report, nil
}

func (p *Publisher) knownFingerprints(ctx context.Context, pr int) (map[string]bool, error) {
	known := make(map[string]bool)
	ts, err := p.Ops.ListThreads(ctx, pr)
	if err != nil {
		return nil, fmt.Errorf("listing threads on #%d: %w", pr, err)
	}
	for _, t := range ts {
		for _, c := range t.Comments {
			for _, fp := range ParseFingerprints(c.Body) {
				known[fp] = true
			}
		}
	}
	bodies, err := p.Ops.ListReviewBodies(ctx, pr)
	if err != nil {
		return nil, fmt.Errorf("listing reviews on #%d: %w", pr, err)
	}
	for _, b := range bodies {
		for _, fp := range ParseFingerprints(b) {
			known[fp] = true
		}
	}
	return known, nil
}

func reviewBody(runID string, posted int, general []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## vibe review\n\nRun `%s` reported %d new finding(s).\n", runID, posted)
	if len(general) > 0 {
		sort.Strings(general)
		sb.WriteString("\n### General findings\n\n")
		for _, g := range general {
			sb.WriteString(g)
			sb.WriteString("\n---\n\n")
		}
	}
	return sb.String()
}
