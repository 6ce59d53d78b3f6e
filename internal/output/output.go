package output

import (
	"fmt"
	"io"
	"os"

	"github.com/dshills/vibe/internal/engine"
	"github.com/dshills/vibe/internal/review"
)

// Writer writes a run result in a specific format.
type Writer interface {
	Write(w io.Writer, res *engine.Result) error
}

// Formats lists the accepted format names.
var Formats = []string{"markdown", "text", "json", "sarif"}

// GetWriter returns a writer for the specified format. version is reported
// as the tool version where the format has a place for it.
func GetWriter(format, version string) (Writer, error) {
	switch format {
	case "markdown", "md", "":
		return &MarkdownWriter{}, nil
	case "text":
		return &TextWriter{}, nil
	case "json":
		return &JSONWriter{}, nil
	case "sarif":
		return &SARIFWriter{Version: version}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteResult writes res to outPath, or to stdout when outPath is empty.
func WriteResult(res *engine.Result, format, version, outPath string) error {
	writer, err := GetWriter(format, version)
	if err != nil {
		return err
	}

	var w io.Writer
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	} else {
		w = os.Stdout
	}

	return writer.Write(w, res)
}

// errWriter wraps an io.Writer and captures the first error.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func (ew *errWriter) println(s string) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintln(ew.w, s)
}

// findingLine renders a finding as "file:line — title".
func findingLine(f review.Finding) string {
	return f.Location() + " — " + f.Title
}

// followUpLines describes the follow-up decision of a run, if any.
func followUpLines(res *engine.Result) []string {
	var lines []string
	if fu := res.FollowUp; fu != nil {
		switch {
		case fu.Issue.Number > 0 && fu.Issue.URL != "":
			lines = append(lines, fmt.Sprintf("%s #%d (label %s): %s", fu.Action, fu.Issue.Number, fu.Label, fu.Issue.URL))
		case fu.Issue.Number > 0:
			lines = append(lines, fmt.Sprintf("%s #%d (label %s)", fu.Action, fu.Issue.Number, fu.Label))
		default:
			lines = append(lines, fmt.Sprintf("%s (label %s)", fu.Action, fu.Label))
		}
		for _, n := range fu.Superseded {
			lines = append(lines, fmt.Sprintf("closed duplicate #%d", n))
		}
	}
	if cl := res.Closures; cl != nil {
		if len(cl.Closed) == 0 && len(cl.Failed) == 0 {
			lines = append(lines, "no open follow-up to close")
		}
		for _, n := range cl.Closed {
			lines = append(lines, fmt.Sprintf("closed #%d", n))
		}
		for _, n := range cl.Failed {
			lines = append(lines, fmt.Sprintf("failed to close #%d", n))
		}
	}
	return lines
}
