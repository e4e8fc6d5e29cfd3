package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/recap/am"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage recap configuration",
	Long: `am - Manage recap configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (RECAP_* prefix)
2. Project config (./am.toml)
3. User config (~/.recap/am.toml)
4. Default values

API keys are redacted in every output format.

Examples:
  recap am show                    # Show current configuration
  recap am show --format json      # Show configuration in JSON format
  recap am validate                # Validate current configuration
  recap am where                   # Show which file is active`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runAmWhere,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	rendered, err := cfg.RenderTOML()
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}

	out := cmd.OutOrStdout()
	if configFormat == "toml" {
		fmt.Fprintf(out, "# recap configuration\n%s", rendered)
		return nil
	}

	// json and yaml are derived from the redacted TOML so keys never leak
	var tree map[string]interface{}
	if err := toml.Unmarshal([]byte(rendered), &tree); err != nil {
		return fmt.Errorf("failed to re-read rendered config: %w", err)
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(tree, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Fprintln(out, string(data))
	case "yaml":
		data, err := yaml.Marshal(tree)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Fprintf(out, "# recap configuration\n%s", string(data))
	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	path := am.ActiveConfigPath()
	if path == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "No config file found; using defaults and RECAP_* environment")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Active config: %s\n", path)
	return nil
}
