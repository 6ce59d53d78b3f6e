package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dshills/vibe/internal/engine"
	"github.com/dshills/vibe/internal/review"
)

// SARIFWriter outputs the unresolved findings in SARIF v2.1.0 format, one
// rule per review pass.
type SARIFWriter struct {
	Version string
}

func (s *SARIFWriter) Write(w io.Writer, res *engine.Result) error {
	sarif := buildSARIF(res, s.Version)
	data, err := json.MarshalIndent(sarif, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling SARIF: %w", err)
	}
	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("writing SARIF: %w", err)
	}
	_, err = fmt.Fprintln(w)
	return err
}

// SARIF schema types (v2.1.0)

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool              sarifTool        `json:"tool"`
	AutomationDetails *sarifAutomation `json:"automationDetails,omitempty"`
	Results           []sarifResult    `json:"results"`
}

type sarifAutomation struct {
	ID string `json:"id"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version,omitempty"`
	InformationURI string      `json:"informationUri"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	ShortDescription sarifMessage `json:"shortDescription"`
}

type sarifResult struct {
	RuleID              string            `json:"ruleId"`
	Level               string            `json:"level"`
	Message             sarifMessage      `json:"message"`
	Locations           []sarifLocation   `json:"locations,omitempty"`
	PartialFingerprints map[string]string `json:"partialFingerprints"`
	Properties          sarifProperties   `json:"properties"`
}

type sarifProperties struct {
	Severity review.Severity `json:"severity"`
	Kind     string          `json:"kind,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           *sarifRegion          `json:"region,omitempty"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine int `json:"startLine"`
}

var passDescriptions = map[review.Pass]string{
	review.PassImplementation: "Correctness of the implementation",
	review.PassSecurity:       "Security review",
	review.PassQuality:        "Code quality and maintainability",
	review.PassUX:             "User-facing behaviour",
	review.PassOps:            "Operability and deployment",
}

func buildSARIF(res *engine.Result, version string) sarifLog {
	rules := make([]sarifRule, 0, len(review.Passes))
	for _, p := range review.Passes {
		rules = append(rules, sarifRule{
			ID:               ruleID(p),
			Name:             string(p),
			ShortDescription: sarifMessage{Text: passDescriptions[p]},
		})
	}

	results := make([]sarifResult, 0, len(res.Unresolved))
	for _, f := range res.Unresolved {
		text := f.Title
		if f.Body != "" {
			text += "\n\n" + f.Body
		}
		result := sarifResult{
			RuleID:              ruleID(f.Pass),
			Level:               severityToLevel(f.Severity),
			Message:             sarifMessage{Text: text},
			PartialFingerprints: map[string]string{"vibeFingerprint/v1": review.Fingerprint(f)},
			Properties:          sarifProperties{Severity: f.Severity, Kind: f.Kind},
		}
		if f.File != "" {
			loc := sarifLocation{PhysicalLocation: sarifPhysicalLocation{
				ArtifactLocation: sarifArtifactLocation{URI: review.RelativePath(f.File, res.Root)},
			}}
			if f.Line > 0 {
				loc.PhysicalLocation.Region = &sarifRegion{StartLine: f.Line}
			}
			result.Locations = append(result.Locations, loc)
		}
		results = append(results, result)
	}

	run := sarifRun{
		Tool: sarifTool{
			Driver: sarifDriver{
				Name:           "vibe",
				Version:        version,
				InformationURI: "https://github.com/dshills/vibe",
				Rules:          rules,
			},
		},
		Results: results,
	}
	if res.RunID != "" {
		run.AutomationDetails = &sarifAutomation{ID: "vibe/" + res.RunID}
	}
	return sarifLog{
		Version: "2.1.0",
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/main/sarif-2.1/schema/sarif-schema-2.1.0.json",
		Runs:    []sarifRun{run},
	}
}

// severityToLevel maps a finding severity to a SARIF level.
func severityToLevel(s review.Severity) string {
	switch s {
	case review.SeverityP0, review.SeverityP1:
		return "error"
	case review.SeverityP2:
		return "warning"
	default:
		return "note"
	}
}

func ruleID(p review.Pass) string {
	return "vibe/" + string(p)
}
