package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/viorelcanja/v86-1/internal/adapters/docker"
	"github.com/viorelcanja/v86-1/internal/adapters/duckdb"
	"github.com/viorelcanja/v86-1/internal/adapters/fsdiscovery"
	"github.com/viorelcanja/v86-1/internal/adapters/process"
	"github.com/viorelcanja/v86-1/internal/config"
	"github.com/viorelcanja/v86-1/internal/core/domain"
	"github.com/viorelcanja/v86-1/internal/core/ports"
	"github.com/viorelcanja/v86-1/internal/core/services"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		config.Usage(os.Stdout)
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "gen-fixtures: %v\n\n", err)
		config.Usage(os.Stderr)
		os.Exit(2)
	}

	logger := newLogger(cfg, os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("interrupted, stopping workers")
		cancel()
	}()

	code := run(ctx, logger, cfg, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Verbose {
		opts.Level = slog.LevelDebug
	}
	if cfg.LogFormat == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// run executes one batch and returns the process exit code: 0 when every
// worker succeeded, the first failing worker's code otherwise, and 1 for
// errors outside the workers.
func run(ctx context.Context, logger *slog.Logger, cfg config.Config, stdout, stderr io.Writer) int {
	launcher, closeLauncher, err := newLauncher(ctx, logger, cfg)
	if err != nil {
		logger.Error("failed to init worker runtime", "runtime", cfg.Runtime, "error", err)
		return 1
	}
	defer closeLauncher()

	items, err := fsdiscovery.NewSource(cfg.BuildDir).Discover(ctx)
	if err != nil {
		logger.Error("failed to discover test binaries", "dir", cfg.BuildDir, "error", err)
		return 1
	}

	scheduler := services.NewScheduler(services.SchedulerConfig{
		MaxWorkers:           cfg.MaxWorkers,
		AvailableParallelism: cfg.AvailableCPUs,
	}, services.DebuggerTemplate{
		Debugger: cfg.Debugger,
		Script:   cfg.Script,
		BuildDir: cfg.BuildDir,
	})

	var relay *services.Relay
	if cfg.Verbose {
		relay = services.NewRelay(stdout, stderr)
	}

	orchestrator := services.NewOrchestrator(logger, launcher, scheduler, services.OrchestratorConfig{
		CancelOnFailure: cfg.CancelOnFailure,
		Relay:           relay,
	})

	result, runErr := orchestrator.Run(ctx, items)
	historyErr := recordHistory(logger, cfg.HistoryDB, result)

	switch {
	case runErr != nil:
		logger.Error("batch aborted", "batch_id", result.ID, "error", runErr)
		if result.ExitCode != 0 {
			return result.ExitCode
		}
		return 1
	case !result.Succeeded():
		logger.Error("batch failed", "batch_id", result.ID, "error", result.Err())
		return result.ExitCode
	case historyErr != nil:
		return 1
	}

	logger.Info("batch succeeded", "batch_id", result.ID, "items", result.ItemCount,
		"workers", len(result.Workers), "elapsed", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
	return 0
}

func newLauncher(ctx context.Context, logger *slog.Logger, cfg config.Config) (ports.Launcher, func(), error) {
	if cfg.Runtime != config.RuntimeDocker {
		return process.NewLauncher(logger, cfg.Grace), func() {}, nil
	}

	mgr, err := docker.NewManager(logger, cfg.Image, cfg.Grace)
	if err != nil {
		return nil, nil, err
	}
	if n, err := mgr.ReapStale(ctx); err != nil {
		logger.Warn("stale container cleanup failed (non-fatal)", "error", err)
	} else if n > 0 {
		logger.Info("stale worker containers removed", "count", n)
	}
	return mgr, func() { _ = mgr.Close() }, nil
}

// recordHistory persists the batch when a history database is configured.
// It runs detached from the batch context so an interrupted batch is still recorded.
func recordHistory(logger *slog.Logger, path string, result domain.BatchResult) error {
	if path == "" {
		return nil
	}

	repo, err := duckdb.NewRepository(path)
	if err != nil {
		logger.Error("failed to open history database", "path", path, "error", err)
		return err
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := repo.SaveBatch(ctx, result); err != nil {
		logger.Error("failed to record batch history", "batch_id", result.ID, "error", err)
		return err
	}
	logger.Debug("batch history recorded", "batch_id", result.ID, "path", path)
	return nil
}
