// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/telemcap/internal/config"
	"firestige.xyz/telemcap/internal/log"
	"firestige.xyz/telemcap/internal/metrics"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "telemcap",
	Short: "telemcap - record and replay UDP racing telemetry",
	Long: `telemcap captures the UDP telemetry stream a racing game broadcasts,
writes every datagram to a newline-delimited JSON capture log, and replays
captured sessions to any UDP listener with the original pacing.

Settings come from defaults, an optional YAML file (--config), TELEMCAP_*
environment variables and command-line flags, in increasing precedence.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it. SIGINT
// and SIGTERM cancel the command context for a graceful stop. Log files
// opened during the run are closed before it returns.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer log.Close()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (YAML, root key telemcap)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(validateCmd)
}

// bind maps flags of cmd, by name, onto config keys.
func bind(cmd *cobra.Command, keys map[string]string) []config.FlagBinding {
	out := make([]config.FlagBinding, 0, len(keys)+2)
	out = append(out,
		config.FlagBinding{Key: "log.level", Flag: cmd.Flag("log-level")},
		config.FlagBinding{Key: "log.format", Flag: cmd.Flag("log-format")},
	)
	for flag, key := range keys {
		out = append(out, config.FlagBinding{Key: key, Flag: cmd.Flag(flag)})
	}
	return out
}

// setup loads configuration and initializes logging for a command.
func setup(cmd *cobra.Command, keys map[string]string) (*config.Config, error) {
	cfg, err := config.Load(configFile, bind(cmd, keys)...)
	if err != nil {
		return nil, err
	}
	if err := log.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return cfg, nil
}

// startMetrics serves /metrics when enabled and returns its stop function.
func startMetrics(ctx context.Context, mc config.MetricsConfig) (func(), error) {
	if !mc.Enabled {
		return func() {}, nil
	}
	srv := metrics.NewServer(mc.Listen, mc.Path)
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(stopCtx); err != nil {
			slog.Warn("metrics server stop failed", "error", err)
		}
	}, nil
}
