// Package cmd implements the CLI commands for aicg.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aicg/aicg/internal/config"
	"github.com/aicg/aicg/internal/observability"
	"github.com/aicg/aicg/internal/version"
)

// Exit codes. Config problems and unreachable dependencies get their own
// codes so supervisors can tell a bad deploy from a flapping backend.
const (
	exitOK         = 0
	exitGeneric    = 1
	exitConfig     = 2
	exitDependency = 3
)

// exitError carries a process exit code alongside the cause.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// configErr marks err as a configuration problem (exit 2).
func configErr(err error) error {
	return &exitError{code: exitConfig, err: err}
}

// depErr marks err as an unreachable dependency (exit 3).
func depErr(err error) error {
	return &exitError{code: exitDependency, err: err}
}

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "aicg",
	Short:   "AI video generation pipeline",
	Version: version.Short(),
	Long: `aicg turns chapter text into finished video through staged AI
generation: script extraction, image and speech synthesis, transition
video generation and FFmpeg assembly.

The serve command exposes the REST API, worker consumes generation
tasks, and sweeper polls asynchronous provider results.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		return exitGeneric
	}
	return exitOK
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/aicg, $HOME/.aicg)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// loadConfig reads the configuration; failures are config errors (exit 2).
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, configErr(err)
	}
	return cfg, nil
}

// buildLogger creates the process logger from config, honoring explicit
// CLI flag overrides, and installs it as the slog default.
func buildLogger(cfg *config.Config) *slog.Logger {
	logCfg := cfg.Logging
	if rootCmd.PersistentFlags().Changed("log-level") {
		logCfg.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		logCfg.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}
	logCfg.Level = strings.ToLower(logCfg.Level)
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	slog.SetDefault(logger)
	return logger
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
