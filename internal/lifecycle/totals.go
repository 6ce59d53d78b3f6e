package lifecycle

import (
	"context"
	"fmt"
	"sort"

	"github.com/dshills/vibe/internal/review"
	"github.com/dshills/vibe/internal/threads"
)

// ThreadKeyPrefix prefixes the fallback key of a thread without a fingerprint.
const ThreadKeyPrefix = "thread:"

// Totals is the remote, cross-run view of finding lifecycle on a PR.
// Keys are fingerprints, or ThreadKeyPrefix+threadID when the originating
// record carried none.
type Totals struct {
	Observed                int                        `json:"observed"`
	Unresolved              int                        `json:"unresolved"`
	Resolved                int                        `json:"resolved"`
	UnresolvedSeverityByKey map[string]review.Severity `json:"unresolvedSeverityByKey"`
	UnresolvedKeys          []string                   `json:"unresolvedKeys"`
	ResolvedKeys            []string                   `json:"resolvedKeys"`
	// CanonicalByKey holds the canonical key of each remote record, or its
	// digest when the comment carried one, used to match records whose
	// fingerprint differs from this run's.
	CanonicalByKey map[string]string `json:"canonicalByKey,omitempty"`
}

// Fetcher loads lifecycle totals for a PR.
type Fetcher interface {
	FetchTotals(ctx context.Context, pr int) (Totals, error)
}

// ThreadLister lists a PR's review threads.
type ThreadLister interface {
	ListThreads(ctx context.Context, pr int) ([]threads.Thread, error)
}

// ThreadFetcher derives Totals from the vibe-managed review threads of a PR.
type ThreadFetcher struct {
	Lister ThreadLister
	Policy threads.Policy
	Root   string
}

// FetchTotals implements Fetcher.
func (f *ThreadFetcher) FetchTotals(ctx context.Context, pr int) (Totals, error) {
	ts, err := f.Lister.ListThreads(ctx, pr)
	if err != nil {
		return Totals{}, fmt.Errorf("listing threads for PR #%d: %w", pr, err)
	}
	return FromThreads(ts, f.Policy, f.Root), nil
}

// FromThreads builds Totals from the vibe-managed threads in ts. A key that
// appears in several threads is unresolved if any of them is.
func FromThreads(ts []threads.Thread, policy threads.Policy, root string) Totals {
	unresolved := make(map[string]bool)
	resolved := make(map[string]bool)
	totals := Totals{
		UnresolvedSeverityByKey: make(map[string]review.Severity),
		CanonicalByKey:          make(map[string]string),
	}

	for _, t := range ts {
		if !policy.VibeManaged(t) {
			continue
		}
		key, ok := t.Fingerprint()
		if !ok {
			key = ThreadKeyPrefix + t.ID
		}

		sev, title, _ := threads.ParseHeading(t.Comments[0].Body)
		canon, ok := threads.ParseCanonicalDigest(t.Comments[0].Body)
		if !ok {
			canon = review.CanonicalKeyOf(t.Path, t.Line, title, root)
		}
		if canon != "" {
			if _, seen := totals.CanonicalByKey[key]; !seen {
				totals.CanonicalByKey[key] = canon
			}
		}

		if t.Resolved {
			resolved[key] = true
			continue
		}
		unresolved[key] = true
		if sev.Valid() {
			if _, seen := totals.UnresolvedSeverityByKey[key]; !seen {
				totals.UnresolvedSeverityByKey[key] = sev
			}
		}
	}

	for key := range unresolved {
		totals.UnresolvedKeys = append(totals.UnresolvedKeys, key)
		delete(resolved, key)
	}
	for key := range resolved {
		totals.ResolvedKeys = append(totals.ResolvedKeys, key)
	}
	sort.Strings(totals.UnresolvedKeys)
	sort.Strings(totals.ResolvedKeys)

	totals.Unresolved = len(totals.UnresolvedKeys)
	totals.Resolved = len(totals.ResolvedKeys)
	totals.Observed = totals.Unresolved + totals.Resolved
	return totals
}
