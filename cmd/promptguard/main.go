package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/raaihank/promptguard/internal/config"
	"github.com/raaihank/promptguard/internal/logger"
	"github.com/raaihank/promptguard/internal/proxy"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Set up by the root command before any subcommand runs
	cfg    *config.Config
	appLog *logger.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "promptguard",
	Short: "PromptGuard - keeps sensitive data out of AI chat prompts",
	Long: `PromptGuard scans what users are about to send to AI chat services and
stops prompts, pastes, form posts and API requests that carry personal data
or credentials until the user confirms them.

Run "promptguard serve" for the inspecting API proxy and dashboard, or
"promptguard browse <url>" to guard a live Chrome tab.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		loggerConfig := logger.Config{
			Level:  level,
			Format: cfg.Logging.Format,
		}
		if cfg.Logging.File.Enabled {
			loggerConfig.File = &logger.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			}
		}

		appLog, err = logger.New(loggerConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appLog != nil {
			_ = appLog.Sync()
		}
	},
}

func init() {
	proxy.Version = version

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd, browseCmd, scanCmd, evalCmd, versionCmd, healthCheckCmd)
}

func main() {
	err := rootCmd.Execute()
	if errors.Is(err, errFindings) {
		os.Exit(2)
	}
	if err != nil {
		os.Exit(1)
	}
}
