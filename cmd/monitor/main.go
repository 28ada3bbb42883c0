// Package main provides the entry point for the contract source monitor.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/affiliatedkat/sourcify/monitor"
	"github.com/affiliatedkat/sourcify/monitor/pkg/config"
	"github.com/affiliatedkat/sourcify/monitor/pkg/infoserver"
	"github.com/affiliatedkat/sourcify/monitor/pkg/logging"
	"github.com/affiliatedkat/sourcify/monitor/pkg/monitoring"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

const (
	ConfigPathEnv   = "MONITOR_CONFIG_PATH"
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "monitor",
		Short:        "Watches chains for contract deployments and collects their published sources",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			if env := os.Getenv(ConfigPathEnv); env != "" && !cmd.Flags().Changed("config") {
				configFile = env
			}
			return runMonitor(configFile)
		},
	}
	cmd.Flags().String("config", "monitor.toml", "path to config file")
	return cmd
}

func runMonitor(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logCfg, err := logging.Config(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	lggr, err := logger.NewWith(logCfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	lggr = logger.Named(lggr, "monitor")

	var mon monitoring.Monitoring = monitoring.NewNoopMonitoring()
	if cfg.Monitoring.Enabled {
		mon = monitoring.NewPrometheusMonitoring()
	}
	if cfg.Monitoring.PyroscopeURL != "" {
		profiler, err := monitoring.StartProfiling("monitor", cfg.Monitoring.PyroscopeURL)
		if err != nil {
			lggr.Errorw("Failed to start pyroscope", "error", err)
		} else {
			defer func() { _ = profiler.Stop() }()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, err := monitor.NewFromConfig(ctx, cfg, lggr, mon.Metrics())
	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}

	info := infoserver.New(fmt.Sprintf(":%d", cfg.Monitoring.Port), m, cfg.Monitoring.Enabled, lggr)

	var g run.Group

	g.Add(func() error {
		if err := m.Start(ctx); err != nil {
			return err
		}
		info.SetPhase(infoserver.PhaseActive)
		<-ctx.Done()
		return nil
	}, func(error) {
		info.SetPhase(infoserver.PhaseStopping)
		cancel()
		if err := m.Close(); err != nil {
			lggr.Errorw("Failed to stop monitor", "error", err)
		}
	})

	g.Add(func() error {
		if err := info.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("info server: %w", err)
		}
		return nil
	}, func(error) {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := info.Shutdown(shutdownCtx); err != nil {
			lggr.Errorw("Failed to shut down info server", "error", err)
		}
	})

	sigCh := make(chan os.Signal, 1)
	done := make(chan struct{})
	g.Add(func() error {
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			lggr.Infow("Received signal, shutting down", "signal", sig)
		case <-done:
		}
		return nil
	}, func(error) {
		signal.Stop(sigCh)
		close(done)
	})

	return g.Run()
}
