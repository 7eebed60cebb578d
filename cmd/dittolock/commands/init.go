package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittolock/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample dittolock configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/dittolock/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  dittolock init

  # Initialize with custom path
  dittolock init --config /etc/dittolock/config.yaml

  # Force overwrite existing config
  dittolock init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Edit the configuration file to tune the lock manager")
	_, _ = fmt.Fprintln(out, "  2. Start the server with: dittolock start")
	_, _ = fmt.Fprintln(out, "  3. Or run a local stress test: dittolock stress")
	return nil
}
