package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/viorelcanja/v86-1/internal/core/domain"
	"github.com/viorelcanja/v86-1/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

type OrchestratorConfig struct {
	// CancelOnFailure stops sibling workers once one has failed. The batch
	// outcome is the same either way; only the time to reach it changes.
	CancelOnFailure bool
	// Relay receives worker output. Nil leaves output uncaptured.
	Relay *Relay
}

// Orchestrator fans one batch out over worker processes and folds their exit
// codes back into a single result.
type Orchestrator struct {
	logger    *slog.Logger
	launcher  ports.Launcher
	scheduler *Scheduler
	cfg       OrchestratorConfig
}

func NewOrchestrator(
	logger *slog.Logger,
	launcher ports.Launcher,
	scheduler *Scheduler,
	cfg OrchestratorConfig,
) *Orchestrator {
	return &Orchestrator{
		logger:    logger,
		launcher:  launcher,
		scheduler: scheduler,
		cfg:       cfg,
	}
}

// Run plans items over the selected number of workers and executes the plan.
// An empty item list succeeds without launching anything.
func (o *Orchestrator) Run(ctx context.Context, items []domain.WorkItem) (domain.BatchResult, error) {
	if len(items) == 0 {
		result := domain.NewBatchResult(0)
		result.FinishedAt = time.Now().UTC()
		o.logger.Info("no work items found, nothing to do", "batch_id", result.ID)
		return result, nil
	}

	plan := o.scheduler.Plan(items)
	o.logger.Info("using workers to generate fixtures", "workers", len(plan), "items", len(items))
	return o.Execute(ctx, len(items), plan)
}

// Execute launches one worker per non-empty assignment, in order, and blocks
// until every launched worker has been reaped.
//
// The first worker observed to exit non-zero decides the batch exit code. A
// spawn failure aborts the batch: running workers are cancelled and reaped,
// and the spawn error is returned.
func (o *Orchestrator) Execute(ctx context.Context, itemCount int, plan []Assignment) (domain.BatchResult, error) {
	result := domain.NewBatchResult(itemCount)
	result.Workers = make([]domain.WorkerOutcome, len(plan))
	for i, a := range plan {
		result.Workers[i] = domain.WorkerOutcome{
			Worker: i,
			Items:  a.Items,
			State:  domain.WorkerStatePending,
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		g        errgroup.Group
		exits    = make(chan domain.WorkerExit, len(plan))
		launched    int
		spawnErr    error
		interrupted bool
	)

	for i, a := range plan {
		out := &result.Workers[i]
		if len(a.Items) == 0 {
			out.State = domain.WorkerStateSkipped
			o.logger.Debug("skipping empty partition", "worker", i)
			continue
		}

		inv := a.Invocation
		inv.Labels = map[string]string{
			domain.LabelBatch:  string(result.ID),
			domain.LabelWorker: strconv.Itoa(i),
		}
		o.logger.Debug("launching worker", "worker", i, "items", len(a.Items),
			"command", strings.Join(inv.Argv(), " "))

		// A launch against a cancelled context fails for reasons unrelated to the worker.
		if runCtx.Err() != nil {
			interrupted = true
			break
		}

		out.State = domain.WorkerStateLaunched
		out.StartedAt = time.Now().UTC()
		proc, err := o.launcher.Launch(runCtx, inv, o.cfg.Relay != nil)
		if err != nil && runCtx.Err() != nil {
			out.State = domain.WorkerStateSkipped
			out.StartedAt = time.Time{}
			interrupted = true
			break
		}
		if err != nil {
			out.State = domain.WorkerStateSpawnFailed
			out.ExitCode = 1
			out.Error = err.Error()
			out.FinishedAt = time.Now().UTC()
			result.FailedWorker = i
			spawnErr = fmt.Errorf("worker %d: %w: %w", i, domain.ErrSpawn, err)
			break
		}

		out.State = domain.WorkerStateRunning
		launched++
		o.watch(&g, i, proc, exits)
	}

	if spawnErr != nil {
		o.logger.Error("spawn failed, stopping running workers", "error", spawnErr, "running", launched)
	}
	if interrupted {
		o.logger.Warn("interrupted while launching, stopping running workers", "running", launched)
	}
	if spawnErr != nil || interrupted {
		for i := range result.Workers {
			if result.Workers[i].State == domain.WorkerStatePending {
				result.Workers[i].State = domain.WorkerStateSkipped
			}
		}
		cancel()
	}

	// Single writer: only this loop touches the outcome table once workers run.
	for reported := 0; reported < launched; reported++ {
		exit := <-exits
		out := &result.Workers[exit.Worker]
		out.ExitCode = exit.Code
		out.FinishedAt = exit.ExitedAt
		if exit.Err != nil {
			out.Error = exit.Err.Error()
		}

		if exit.Code == 0 {
			out.State = domain.WorkerStateSucceeded
			o.logger.Info("worker exited", "worker", exit.Worker, "code", exit.Code, "duration", out.Duration())
			continue
		}

		out.State = domain.WorkerStateFailed
		o.logger.Warn("worker exited", "worker", exit.Worker, "code", exit.Code,
			"duration", out.Duration(), "error", out.Error)

		if spawnErr != nil || result.FailedWorker >= 0 {
			continue
		}
		result.FailedWorker = exit.Worker
		result.ExitCode = exit.Code
		if o.cfg.CancelOnFailure {
			o.logger.Warn("failing fast, cancelling remaining workers", "worker", exit.Worker)
			cancel()
		}
	}

	if err := g.Wait(); err != nil {
		o.logger.Warn("worker output relay failed", "error", err)
	}
	result.FinishedAt = time.Now().UTC()

	if spawnErr != nil {
		result.ExitCode = 1
		return result, spawnErr
	}
	if err := ctx.Err(); err != nil {
		if result.ExitCode == 0 {
			result.ExitCode = 1
		}
		return result, fmt.Errorf("batch interrupted: %w", err)
	}
	return result, nil
}

// watch reaps one worker, draining its captured output alongside, and sends
// exactly one completion signal.
func (o *Orchestrator) watch(g *errgroup.Group, worker int, proc ports.Process, exits chan<- domain.WorkerExit) {
	g.Go(func() error {
		var streams errgroup.Group
		if o.cfg.Relay != nil {
			if r := proc.Stdout(); r != nil {
				streams.Go(func() error { return o.cfg.Relay.Stream(worker, StreamStdout, r) })
			}
			if r := proc.Stderr(); r != nil {
				streams.Go(func() error { return o.cfg.Relay.Stream(worker, StreamStderr, r) })
			}
		}

		code, err := proc.Wait()
		relayErr := streams.Wait()
		if err != nil && code == 0 {
			code = 1
		}

		exits <- domain.WorkerExit{
			Worker:   worker,
			Code:     code,
			Err:      err,
			ExitedAt: time.Now().UTC(),
		}
		return relayErr
	})
}
