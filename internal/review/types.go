package review

import "strconv"

// Pass names the fixed review passes a round must report on.
type Pass string

const (
	PassImplementation Pass = "implementation"
	PassSecurity       Pass = "security"
	PassQuality        Pass = "quality"
	PassUX             Pass = "ux"
	PassOps            Pass = "ops"
)

// Passes is the fixed, ordered set of pass names in every round.
var Passes = []Pass{PassImplementation, PassSecurity, PassQuality, PassUX, PassOps}

// Valid reports whether p is one of the fixed pass names.
func (p Pass) Valid() bool {
	for _, known := range Passes {
		if p == known {
			return true
		}
	}
	return false
}

// Severity represents the priority of a finding. P0 is the most severe.
type Severity string

const (
	SeverityP0 Severity = "P0"
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
)

// Severities lists severities from most to least severe.
var Severities = []Severity{SeverityP0, SeverityP1, SeverityP2, SeverityP3}

// SeverityRank returns a numeric rank for sorting (higher = more severe).
func SeverityRank(s Severity) int {
	switch s {
	case SeverityP0:
		return 4
	case SeverityP1:
		return 3
	case SeverityP2:
		return 2
	case SeverityP3:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return SeverityRank(s) > 0
}

// Finding kinds that mark a finding as a defect rather than an improvement.
const (
	KindDefect     = "defect"
	KindRegression = "regression"
	KindSecurity   = "security"
)

// Finding represents a single issue reported by a review pass.
// Its identity is derived by Fingerprint and CanonicalKey; ID is whatever
// the agent chose and is never used for matching.
type Finding struct {
	ID       string   `json:"id"`
	Pass     Pass     `json:"pass" jsonschema:"enum=implementation,enum=security,enum=quality,enum=ux,enum=ops"`
	Severity Severity `json:"severity" jsonschema:"enum=P0,enum=P1,enum=P2,enum=P3"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Kind     string   `json:"kind,omitempty"`
}

// Location renders the finding position as file:line, omitting what is unknown.
func (f Finding) Location() string {
	switch {
	case f.File != "" && f.Line > 0:
		return f.File + ":" + strconv.Itoa(f.Line)
	case f.File != "":
		return f.File
	case f.Line > 0:
		return "line " + strconv.Itoa(f.Line)
	default:
		return "(no location)"
	}
}

// PassResult is one pass's report within a round.
type PassResult struct {
	Name     Pass      `json:"name" jsonschema:"enum=implementation,enum=security,enum=quality,enum=ux,enum=ops"`
	Summary  string    `json:"summary"`
	Findings []Finding `json:"findings"`
}

// Autofix describes whether the agent changed the workspace during a round.
type Autofix struct {
	Applied      bool     `json:"applied"`
	ChangedFiles []string `json:"changed_files"`
}

// RoundOutputVersion is the only round contract version accepted.
const RoundOutputVersion = 1

// RoundOutput is the structured result of one review round.
type RoundOutput struct {
	Version int          `json:"version" jsonschema:"minimum=1,maximum=1"`
	RunID   string       `json:"run_id"`
	Passes  []PassResult `json:"passes"`
	Autofix Autofix      `json:"autofix"`
}

// Findings returns every finding across all passes in pass order.
func (o RoundOutput) Findings() []Finding {
	var out []Finding
	for _, p := range o.Passes {
		out = append(out, p.Findings...)
	}
	return out
}

// SeverityCounts holds counts by severity level.
type SeverityCounts struct {
	P0 int `json:"P0"`
	P1 int `json:"P1"`
	P2 int `json:"P2"`
	P3 int `json:"P3"`
}

// Add increments the bucket for s. Unknown severities are ignored.
func (c *SeverityCounts) Add(s Severity) {
	switch s {
	case SeverityP0:
		c.P0++
	case SeverityP1:
		c.P1++
	case SeverityP2:
		c.P2++
	case SeverityP3:
		c.P3++
	}
}

// Get returns the count for s.
func (c SeverityCounts) Get(s Severity) int {
	switch s {
	case SeverityP0:
		return c.P0
	case SeverityP1:
		return c.P1
	case SeverityP2:
		return c.P2
	case SeverityP3:
		return c.P3
	default:
		return 0
	}
}

// Total returns the sum over all severities.
func (c SeverityCounts) Total() int {
	return c.P0 + c.P1 + c.P2 + c.P3
}

// CountSeverities tallies findings by severity.
func CountSeverities(findings []Finding) SeverityCounts {
	var c SeverityCounts
	for _, f := range findings {
		c.Add(f.Severity)
	}
	return c
}

// TerminationReason is why the attempt loop stopped.
type TerminationReason string

const (
	ReasonCompleted        TerminationReason = "completed"
	ReasonMaxAttempts      TerminationReason = "max-attempts"
	ReasonNoAutofix        TerminationReason = "no-autofix"
	ReasonNoAutofixChanges TerminationReason = "no-autofix-changes"
	ReasonSameFingerprints TerminationReason = "same-fingerprints"
)

// EarlyStop reports whether the loop stopped without the round converging
// to zero findings.
func (r TerminationReason) EarlyStop() bool {
	return r != ReasonCompleted
}

// Display renders the reason for summaries: "completed" verbatim, any other
// reason as "early-stop (reason=X)".
func (r TerminationReason) Display() string {
	if !r.EarlyStop() {
		return string(r)
	}
	return "early-stop (reason=" + string(r) + ")"
}
