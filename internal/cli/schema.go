package cli

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/dshills/vibe/internal/review"
)

var flagSchemaInput bool

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of the agent round contract",
	Long: "Print the JSON Schema an agent command's stdout must satisfy. With --input, print the " +
		"schema of the JSON vibe writes to the agent's stdin instead.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := roundSchema(flagSchemaInput)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

// roundSchema reflects the round output contract, or the round input when
// input is set.
func roundSchema(input bool) ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	var s *jsonschema.Schema
	if input {
		s = reflector.Reflect(&review.RoundInput{})
		s.Title = "vibe round input"
	} else {
		s = reflector.Reflect(&review.RoundOutput{})
		s.Title = "vibe round output"
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding schema: %w", err)
	}
	return data, nil
}

func init() {
	schemaCmd.Flags().BoolVar(&flagSchemaInput, "input", false, "Print the round input schema")
}
