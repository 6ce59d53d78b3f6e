package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedRound marks a round output that does not satisfy the contract.
// It is fatal to the run: the loop never retries a malformed round.
var ErrMalformedRound = errors.New("malformed round output")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedRound, fmt.Sprintf(format, args...))
}

// ParseRoundOutput decodes and validates the agent's round output.
// Markdown code fences around the JSON are tolerated. Findings that omit
// their pass inherit the name of the pass result that contains them.
func ParseRoundOutput(content []byte) (RoundOutput, error) {
	text := stripFences(string(content))
	if text == "" {
		return RoundOutput{}, malformed("empty output")
	}

	var out RoundOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return RoundOutput{}, malformed("invalid JSON: %v", err)
	}
	for i := range out.Passes {
		for j := range out.Passes[i].Findings {
			if out.Passes[i].Findings[j].Pass == "" {
				out.Passes[i].Findings[j].Pass = out.Passes[i].Name
			}
		}
	}

	if err := Validate(out); err != nil {
		return RoundOutput{}, err
	}
	return out, nil
}

// Validate checks a decoded round output against the contract: version 1,
// a run id, exactly one result per fixed pass name, well-formed findings and
// a changed_files array.
func Validate(out RoundOutput) error {
	if out.Version != RoundOutputVersion {
		return malformed("version = %d, want %d", out.Version, RoundOutputVersion)
	}
	if strings.TrimSpace(out.RunID) == "" {
		return malformed("run_id is empty")
	}
	if len(out.Passes) != len(Passes) {
		return malformed("got %d passes, want %d", len(out.Passes), len(Passes))
	}

	seen := make(map[Pass]bool, len(Passes))
	for _, p := range out.Passes {
		if !p.Name.Valid() {
			return malformed("unknown pass %q", p.Name)
		}
		if seen[p.Name] {
			return malformed("duplicate pass %q", p.Name)
		}
		seen[p.Name] = true

		for i, f := range p.Findings {
			if err := validateFinding(f); err != nil {
				return malformed("pass %s finding[%d]: %v", p.Name, i, err)
			}
		}
	}

	if out.Autofix.ChangedFiles == nil {
		return malformed("autofix.changed_files must be a string array")
	}
	for i, file := range out.Autofix.ChangedFiles {
		if strings.TrimSpace(file) == "" {
			return malformed("autofix.changed_files[%d] is empty", i)
		}
	}
	return nil
}

func validateFinding(f Finding) error {
	if !f.Pass.Valid() {
		return fmt.Errorf("unknown pass %q", f.Pass)
	}
	if !f.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", f.Severity)
	}
	if strings.TrimSpace(f.Title) == "" {
		return errors.New("title is empty")
	}
	if f.Line < 0 {
		return fmt.Errorf("line %d is negative", f.Line)
	}
	return nil
}

// stripFences removes a surrounding markdown code fence, if present.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) < 2 {
		return content
	}
	end := len(lines)
	if strings.TrimSpace(lines[end-1]) == "```" {
		end--
	}
	return strings.TrimSpace(strings.Join(lines[1:end], "\n"))
}
