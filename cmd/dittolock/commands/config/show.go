package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dittolock/internal/cli/output"
	"github.com/marmos91/dittolock/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display effective configuration",
	Long: `Display the effective dittolock configuration: the file merged with
environment overrides (DITTOLOCK_*) and defaults.

By default outputs YAML format. Use --output to change format.

Examples:
  # Show default config as YAML
  dittolock config show

  # Show as JSON
  dittolock config show --output json

  # Show the effect of an override
  DITTOLOCK_LOCK_BUCKETS=512 dittolock config show`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	default:
		return output.PrintYAML(cmd.OutOrStdout(), cfg)
	}
}
