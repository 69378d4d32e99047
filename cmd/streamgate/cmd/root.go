// Package cmd implements the CLI commands for streamgate.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/streamgate/streamgate/internal/config"
	"github.com/streamgate/streamgate/internal/observability"
	"github.com/streamgate/streamgate/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "streamgate",
	Short:   "HLS streaming front door",
	Version: version.Short(),
	Long: `streamgate serves live HLS streams behind cookie sessions and
pluggable authentication, and multiplexes several streamers onto one
public port through its porter.

Run "streamgate serve" to start a streamer and "streamgate porter" to
start the front-door port multiplexer. A streamer with
porter_client.enabled takes its client connections from a porter over
the control socket instead of binding its own port.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Global flags.
	// These are NOT bound to viper: we check Changed() and only then
	// override the loaded value. This preserves the priority
	// CLI flag > env var > config file > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/streamgate, $HOME/.streamgate)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// loadConfig reads configuration from file and environment, then layers
// explicitly set CLI flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if level, ok := flagString(rootCmd.PersistentFlags(), "log-level"); ok {
		cfg.Logging.Level = strings.ToLower(level)
	}
	if format, ok := flagString(rootCmd.PersistentFlags(), "log-format"); ok {
		cfg.Logging.Format = strings.ToLower(format)
	}
	// "warning" is accepted as an alias for "warn".
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}

	return cfg, nil
}

// flagString returns a string flag's value and whether the user set it
// explicitly.
func flagString(flags *pflag.FlagSet, name string) (string, bool) {
	if !flags.Changed(name) {
		return "", false
	}
	v, _ := flags.GetString(name)
	return v, true
}

// flagInt returns an int flag's value and whether the user set it
// explicitly.
func flagInt(flags *pflag.FlagSet, name string) (int, bool) {
	if !flags.Changed(name) {
		return 0, false
	}
	v, _ := flags.GetInt(name)
	return v, true
}

// setupLogger builds the process logger from the resolved configuration
// and installs it as the slog default.
func setupLogger(cfg *config.Config, app string) *slog.Logger {
	logger := observability.NewLogger(cfg.Logging)
	logger = observability.WithApp(logger, app)
	observability.SetDefault(logger)
	return logger
}
