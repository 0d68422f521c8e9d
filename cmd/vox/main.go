// Command vox is a terminal client for the vox notes service.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/voxhq/vox/internal/config"
)

var version = "dev"

var (
	cfg         *config.Config
	cfgPath     string
	endpointArg string
	logLevelArg string
)

var rootCmd = &cobra.Command{
	Use:   "vox",
	Short: "Capture a session and watch its notes being written",
	Long: `vox drives a recording session on the vox notes service and shows the
notes it produces as they are generated.

Run without a subcommand to open the terminal UI.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevelArg != "" {
			cfg.LogLevel = logLevelArg
		}
		if _, err := cfg.SlogLevel(); err != nil {
			return err
		}
		setupLogging(os.Stderr)
		return nil
	},
	RunE: runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default is "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().StringVar(&endpointArg, "endpoint", "", "notes service endpoint, overrides the configured one")
	rootCmd.PersistentFlags().StringVar(&logLevelArg, "log-level", "", "log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setupLogging installs a text handler at the configured level writing to w.
func setupLogging(w io.Writer) {
	level, _ := cfg.SlogLevel()
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// openLogFile opens the log file for appending, creating its directory.
func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// configPath is the config file in use.
func configPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.DefaultPath()
}
