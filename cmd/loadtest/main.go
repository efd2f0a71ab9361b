package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flavio-simonelli/proxchat/internal/config"
	"github.com/flavio-simonelli/proxchat/internal/loadtest"
	"github.com/flavio-simonelli/proxchat/internal/loadtest/writer"
	"github.com/flavio-simonelli/proxchat/internal/logger"
	zapfactory "github.com/flavio-simonelli/proxchat/internal/logger/zap"
)

func main() {
	var (
		configPath      string
		addrOverride    string
		clientsOverride int
	)

	root := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive simulated clients against a proxchatd instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, addrOverride, clientsOverride)
		},
	}
	root.Flags().StringVar(&configPath, "config", "config/loadtest/config.yaml", "path to load test configuration file")
	root.Flags().StringVar(&addrOverride, "addr", "", "override target.addr")
	root.Flags().IntVar(&clientsOverride, "clients", 0, "override clients.count (0 keeps config value)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, addrOverride string, clientsOverride int) error {
	cfg, err := loadtest.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration from %q: %w", configPath, err)
	}
	cfg.ApplyEnvOverrides()
	if addrOverride != "" {
		cfg.Target.Addr = addrOverride
	}
	if clientsOverride > 0 {
		cfg.Clients.Count = clientsOverride
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	zapLog, err := zapfactory.New(config.LoggerConfig{Active: true, Level: "info", Encoding: "console", Mode: "stdout"})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = zapLog.Sync() }()
	lgr := zapfactory.NewAdapter(zapLog)

	var csv *writer.CSVWriter
	if cfg.CSV.Enabled {
		csv, err = writer.NewCSVWriter(cfg.CSV.Path)
		if err != nil {
			return fmt.Errorf("failed to open csv output: %w", err)
		}
		defer func() { _ = csv.Close() }()
	}

	lgr.Info("starting load test",
		logger.F("target", cfg.Target.Addr),
		logger.F("clients", cfg.Clients.Count),
		logger.F("duration", cfg.Simulation.Duration.String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tester := loadtest.New(*cfg, lgr, csv)
	if err := tester.Run(ctx); err != nil {
		return fmt.Errorf("load test run failed: %w", err)
	}
	return nil
}
