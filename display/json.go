// Package display formats command output for terminals and scripts.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// OutputEnv selects machine output for every command when set to "json"
const OutputEnv = "RECAP_OUTPUT"

// ShouldOutputJSON reports whether a command should print JSON.
// An explicit --json flag wins over RECAP_OUTPUT.
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd != nil && cmd.Flags().Lookup("json") != nil && cmd.Flags().Changed("json") {
		on, _ := cmd.Flags().GetBool("json")
		return on
	}
	return strings.EqualFold(os.Getenv(OutputEnv), "json")
}

// OutputJSON writes v as indented JSON followed by a newline
func OutputJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
