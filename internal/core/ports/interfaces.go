package ports

import (
	"context"
	"io"

	"github.com/viorelcanja/v86-1/internal/core/domain"
)

// Launcher abstracts the worker runtime (local processes, Docker, ...)
type Launcher interface {
	// Launch starts one worker bound to inv. The returned error means the
	// worker never started. Cancelling ctx asks a running worker to stop.
	Launch(ctx context.Context, inv domain.Invocation, capture bool) (Process, error)
}

// Process is a live worker handle.
type Process interface {
	// Stdout and Stderr are nil unless output was captured at launch.
	// Captured streams must be drained while Wait runs; they reach EOF once
	// Wait has returned.
	Stdout() io.Reader
	Stderr() io.Reader

	// Wait blocks until the worker terminates and returns its exit code.
	// The error is reserved for failures to observe the worker.
	Wait() (int, error)
}

// ItemSource discovers the work items of a batch.
type ItemSource interface {
	Discover(ctx context.Context) ([]domain.WorkItem, error)
}

// HistoryRepository abstracts the persistent run history (DuckDB)
type HistoryRepository interface {
	SaveBatch(ctx context.Context, batch domain.BatchResult) error
	GetBatch(ctx context.Context, id domain.BatchID) (domain.BatchResult, error)
	ListBatches(ctx context.Context, limit int) ([]domain.BatchResult, error)
}
