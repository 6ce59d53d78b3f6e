package threads

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dshills/vibe/internal/review"
)

// ResolvedReplyMarker tags the reply the engine posts before resolving a thread.
const ResolvedReplyMarker = "<!-- vibe:auto-resolved -->"

var (
	fingerprintRe = regexp.MustCompile(`<!--\s*vibe:fingerprint:([0-9a-f]{64})\s*-->`)
	canonicalRe   = regexp.MustCompile(`<!--\s*vibe:canonical:([0-9a-f]{64})\s*-->`)
	headingRe     = regexp.MustCompile(`\*\*\[(P[0-3])\]\s+(.+?)\*\*`)
)

// FingerprintMarker returns the hidden marker embedded in finding comments.
func FingerprintMarker(fingerprint string) string {
	return "<!-- vibe:fingerprint:" + fingerprint + " -->"
}

// ParseFingerprint extracts the fingerprint marker from a comment body.
func ParseFingerprint(body string) (string, bool) {
	m := fingerprintRe.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// CanonicalMarker returns the hidden marker holding a canonical key digest.
func CanonicalMarker(digest string) string {
	return "<!-- vibe:canonical:" + digest + " -->"
}

// ParseCanonicalDigest extracts the canonical key digest from a comment body.
func ParseCanonicalDigest(body string) (string, bool) {
	m := canonicalRe.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseFingerprints returns every fingerprint marker in body, in order.
func ParseFingerprints(body string) []string {
	var out []string
	for _, m := range fingerprintRe.FindAllStringSubmatch(body, -1) {
		out = append(out, m[1])
	}
	return out
}

// ParseHeading extracts the severity and title from a finding comment
// heading of the form **[P1] Title**.
func ParseHeading(body string) (review.Severity, string, bool) {
	m := headingRe.FindStringSubmatch(body)
	if m == nil {
		return "", "", false
	}
	return review.Severity(m[1]), strings.TrimSpace(m[2]), true
}

// CommentBody renders the inline comment posted for a finding. The
// fingerprint and canonical key are passed separately because f may already
// have had its title and body redacted, which would change both. An empty
// canonical key adds no canonical marker.
func CommentBody(fingerprint, canonical string, f review.Finding) string {
	var sb strings.Builder
	sb.WriteString(FingerprintMarker(fingerprint))
	sb.WriteString("\n")
	if canonical != "" {
		sb.WriteString(CanonicalMarker(review.CanonicalDigest(canonical)))
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "**[%s] %s** (%s", f.Severity, oneLine(f.Title), f.Pass)
	if f.Kind != "" {
		fmt.Fprintf(&sb, ", %s", f.Kind)
	}
	sb.WriteString(")\n")
	if body := strings.TrimSpace(f.Body); body != "" {
		sb.WriteString("\n")
		sb.WriteString(body)
		sb.WriteString("\n")
	}
	return sb.String()
}

// ResolvedReply renders the reply posted when a thread is auto-resolved.
func ResolvedReply(runID string) string {
	return fmt.Sprintf("%s\nResolved automatically: review run `%s` converged with no unresolved findings.", ResolvedReplyMarker, runID)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
