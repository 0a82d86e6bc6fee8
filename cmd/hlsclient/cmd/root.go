// Package cmd implements the CLI commands for hlsclient.
package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmylchreest/hlsclient/internal/config"
	"github.com/jmylchreest/hlsclient/internal/observability"
	"github.com/jmylchreest/hlsclient/internal/version"
	"github.com/spf13/cobra"
)

var (
	// cfgFile holds the config file path from CLI flag.
	cfgFile string

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "hlsclient",
	Short:   "Adaptive HTTP Live Streaming client",
	Version: version.Short(),
	Long: `hlsclient downloads HTTP Live Streaming playlists and their media
segments, switching between variant streams as measured bandwidth changes.

Segments encrypted with AES-128 are decrypted on the fly. Live playlists
are reloaded until the stream ends or the client is interrupted.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// Set here to avoid an initialization cycle through rootCmd.PersistentFlags.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		return initLogging(cmd)
	}

	// Logging flags are not bound to viper. They override config and env
	// only when set explicitly, so CLI flag > env var > config > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.hlsclient.yaml or $HOME/.hlsclient.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

func initConfig() error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg = loaded
	return nil
}

// initLogging installs the default logger. Priority (highest to lowest):
//  1. CLI flags (--log-level, --log-format) when explicitly provided
//  2. Environment variables (HLSCLIENT_LOGGING_LEVEL, HLSCLIENT_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults
func initLogging(cmd *cobra.Command) error {
	logCfg := cfg.Logging

	flags := cmd.Root().PersistentFlags()
	if flags.Changed("log-level") {
		level, _ := flags.GetString("log-level")
		logCfg.Level = strings.ToLower(level)
	}
	if flags.Changed("log-format") {
		format, _ := flags.GetString("log-format")
		logCfg.Format = strings.ToLower(format)
	}
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}
	cfg.Logging = logCfg

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	slog.SetDefault(observability.NewLogger(logCfg))
	return nil
}
