package commands

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/marmos91/dittolock/internal/cli/output"
	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/pkg/config"
)

// loadConfig loads the configuration named by --config. Without --config and
// without a file at the default location the built-in defaults are used, so
// stress and locks work out of the box.
func loadConfig() (*config.Config, error) {
	if GetConfigFile() == "" && !config.DefaultConfigExists() {
		return config.GetDefaultConfig(), nil
	}
	return config.MustLoad(GetConfigFile())
}

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// newPrinter builds a stdout printer for the --output flag value. Color is
// used only when stdout is a terminal.
func newPrinter(format string) (*output.Printer, error) {
	f, err := output.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(os.Stdout, f, term.IsTerminal(int(os.Stdout.Fd()))), nil
}
