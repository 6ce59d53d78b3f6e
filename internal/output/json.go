package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dshills/vibe/internal/engine"
)

// JSONWriter outputs the full run result as JSON.
type JSONWriter struct{}

func (j *JSONWriter) Write(w io.Writer, res *engine.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("writing JSON: %w", err)
	}
	_, err = fmt.Fprintln(w)
	return err
}
