package lifecycle

import (
	"sort"

	"github.com/dshills/vibe/internal/review"
)

// Input is this run's view of its findings.
type Input struct {
	All        []review.Finding
	Unresolved []review.Finding
	// Root is the workspace root used to relativize paths for canonical keys.
	Root string
}

// Merged is the reconciled lifecycle view across the run and remote history.
type Merged struct {
	Observed       int                   `json:"observed"`
	Unresolved     int                   `json:"unresolved"`
	Resolved       int                   `json:"resolved"`
	Severity       review.SeverityCounts `json:"unresolvedSeverity"`
	UnresolvedKeys []string              `json:"unresolvedKeys"`
	ResolvedKeys   []string              `json:"resolvedKeys"`
	// Remapped maps remote keys onto the current fingerprint they coalesced with.
	Remapped map[string]string `json:"remapped,omitempty"`
	// Ambiguous lists remote keys whose canonical key matched several current
	// findings and were therefore left under their own identity.
	Ambiguous     []string `json:"ambiguous,omitempty"`
	RemoteApplied bool     `json:"remoteApplied"`
	Warning       string   `json:"warning,omitempty"`
}

type keySet map[string]bool

func (s keySet) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// current holds fingerprint sets for this run.
type current struct {
	observed   keySet
	unresolved keySet
	resolved   keySet
	byCanon    map[string]keySet
}

func indexCurrent(in Input) current {
	c := current{
		observed:   keySet{},
		unresolved: keySet{},
		resolved:   keySet{},
		byCanon:    make(map[string]keySet),
	}
	for _, f := range in.All {
		fp := review.Fingerprint(f)
		c.observed[fp] = true
		if canon := review.CanonicalKey(f, in.Root); canon != "" {
			for _, k := range []string{canon, review.CanonicalDigest(canon)} {
				if c.byCanon[k] == nil {
					c.byCanon[k] = keySet{}
				}
				c.byCanon[k][fp] = true
			}
		}
	}
	for _, f := range in.Unresolved {
		c.unresolved[review.Fingerprint(f)] = true
	}
	for fp := range c.observed {
		if !c.unresolved[fp] {
			c.resolved[fp] = true
		}
	}
	return c
}

// CurrentOnly returns totals computed from this run alone.
func CurrentOnly(in Input) Merged {
	c := indexCurrent(in)
	m := Merged{
		Observed:       len(c.observed),
		Unresolved:     len(c.unresolved),
		Resolved:       len(c.resolved),
		Severity:       review.CountSeverities(dedupe(in.Unresolved)),
		UnresolvedKeys: c.unresolved.sorted(),
		ResolvedKeys:   c.resolved.sorted(),
	}
	return m
}

// Reconcile merges this run's findings with remote totals.
//
// Remote keys that are not fingerprints seen in this run fall back to their
// canonical key: a single matching current finding absorbs the remote
// record, none or several leave it under its own identity. Unresolved always
// wins over resolved, and the resolved count never drops below
// observed minus unresolved.
func Reconcile(in Input, remote Totals) Merged {
	c := indexCurrent(in)
	m := Merged{
		Remapped:      make(map[string]string),
		RemoteApplied: true,
	}
	ambiguous := keySet{}

	remap := func(key string) string {
		if c.observed[key] {
			return key
		}
		canon := remote.CanonicalByKey[key]
		if canon == "" {
			return key
		}
		matches := c.byCanon[canon]
		switch len(matches) {
		case 0:
			return key
		case 1:
			for fp := range matches {
				m.Remapped[key] = fp
				return fp
			}
		}
		ambiguous[key] = true
		return key
	}

	observed := keySet{}
	unresolved := keySet{}
	resolved := keySet{}
	for fp := range c.observed {
		observed[fp] = true
	}
	for fp := range c.unresolved {
		unresolved[fp] = true
	}
	for fp := range c.resolved {
		resolved[fp] = true
	}

	remoteUnresolved := make([]string, 0, len(remote.UnresolvedKeys))
	for _, key := range remote.UnresolvedKeys {
		target := remap(key)
		remoteUnresolved = append(remoteUnresolved, target)
		observed[target] = true
		unresolved[target] = true
	}
	for _, key := range remote.ResolvedKeys {
		target := remap(key)
		observed[target] = true
		resolved[target] = true
	}
	for key := range unresolved {
		delete(resolved, key)
	}

	// Remote resolved records counted but not keyed still contribute to observed.
	m.Observed = len(observed) + max(0, remote.Resolved-len(remote.ResolvedKeys))
	m.Unresolved = len(unresolved)
	m.Resolved = max(len(resolved), m.Observed-m.Unresolved)
	m.UnresolvedKeys = unresolved.sorted()
	m.ResolvedKeys = resolved.sorted()
	m.Ambiguous = ambiguous.sorted()
	if len(m.Ambiguous) == 0 {
		m.Ambiguous = nil
	}

	m.Severity = review.CountSeverities(dedupe(in.Unresolved))
	counted := keySet{}
	for fp := range c.unresolved {
		counted[fp] = true
	}
	for i, key := range remote.UnresolvedKeys {
		target := remoteUnresolved[i]
		if counted[target] {
			continue
		}
		counted[target] = true
		m.Severity.Add(remote.UnresolvedSeverityByKey[key])
	}
	return m
}

// dedupe drops repeated fingerprints, keeping the first.
func dedupe(findings []review.Finding) []review.Finding {
	seen := keySet{}
	var out []review.Finding
	for _, f := range findings {
		fp := review.Fingerprint(f)
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, f)
	}
	return out
}
