package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"ids-bench/artifacts"
	"ids-bench/config"
	"ids-bench/driver"
	"ids-bench/envinfo"
	"ids-bench/iteration"
	"ids-bench/report"
	"ids-bench/runlog"
	"ids-bench/supervise"
)

const appVersion = "1.0.0"

// App represents the main application
type App struct {
	flags *Flags
}

// NewApp creates a new application instance
func NewApp() *App {
	return &App{flags: NewFlags()}
}

// Run executes the main application logic
func (a *App) Run() error {
	if *a.flags.Version {
		fmt.Printf("ids-bench version %s\n", appVersion)
		return nil
	}

	// Process supervision, emulator control and detector binding all
	// need root. Nothing has been acquired yet, so this is a plain
	// abort with no cleanup.
	if os.Geteuid() != 0 {
		return fmt.Errorf("ids-bench must run as root (effective uid %d)", os.Geteuid())
	}

	cfg, err := config.Load(*a.flags.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.Paths.ResultsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create results dir: %w", err)
	}

	logger, closeLog, err := runlog.Setup(cfg.Paths.LogDir, *a.flags.Verbose)
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Infof("loaded configuration %q from %s", cfg.Name, *a.flags.ConfigFile)
	if cfg.Description != "" {
		logger.Info(cfg.Description)
	}

	aggregator := report.NewAggregator(logger)

	if *a.flags.ReportOnly {
		text, err := aggregator.Generate(cfg.Paths.ResultsDir, cfg.Tests)
		if err != nil {
			return err
		}
		fmt.Print(text)
		return nil
	}

	a.recordEnvironment(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.setupSignalHandling(cancel, logger)

	sup := supervise.NewSupervisor(logger, cfg.Delays.StopGrace)
	collector := artifacts.NewCollector(cfg, logger)
	runner := iteration.NewRunner(cfg, logger, iteration.WrapSupervisor(sup), collector)
	drv := driver.New(cfg, logger, runner)

	start := time.Now()
	counters := drv.Run(ctx)
	logger.Infof("trial matrix finished in %v", time.Since(start).Round(time.Second))

	text, err := aggregator.Generate(cfg.Paths.ResultsDir, cfg.Tests)
	if err != nil {
		return err
	}
	fmt.Print(text)

	// Individual trial failures are recorded, not fatal: the report
	// was produced, so the run is a success.
	logger.Infof("done: %d/%d trials completed", counters.Completed, counters.Total)
	return nil
}

// recordEnvironment persists the host snapshot; failure is advisory.
func (a *App) recordEnvironment(cfg *config.Config, logger *logrus.Logger) {
	snap, err := envinfo.Collect()
	if err != nil {
		logger.Warnf("environment snapshot incomplete: %v", err)
		if snap == nil {
			return
		}
	}
	path := filepath.Join(cfg.Paths.ResultsDir, "environment.json")
	if err := snap.Write(path); err != nil {
		logger.Warnf("environment snapshot not written: %v", err)
	}
}

// setupSignalHandling configures graceful shutdown. Cancellation stops
// the driver before its next trial; the in-flight trial still runs its
// teardown and the driver its final clean.
func (a *App) setupSignalHandling(cancel context.CancelFunc, logger *logrus.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Warnf("received signal %v, shutting down after cleanup", sig)
		cancel()
	}()
}
