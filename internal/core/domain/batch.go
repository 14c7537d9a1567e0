package domain

import (
	"time"

	"github.com/google/uuid"
)

type BatchID string

// NewBatchID returns a random batch identifier.
func NewBatchID() BatchID {
	return BatchID(uuid.New().String())
}

// WorkerOutcome is the record kept for one partition of a batch.
type WorkerOutcome struct {
	Worker     int         `json:"worker"`
	Items      []WorkItem  `json:"items"`
	State      WorkerState `json:"state"`
	ExitCode   int         `json:"exit_code"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// Duration is zero until the worker has finished.
func (o WorkerOutcome) Duration() time.Duration {
	if o.StartedAt.IsZero() || o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// BatchResult aggregates every worker of one run.
// ExitCode is 0 iff every worker succeeded, otherwise the code of the
// first worker observed to fail. FailedWorker is -1 when nothing failed.
type BatchResult struct {
	ID           BatchID         `json:"id"`
	Workers      []WorkerOutcome `json:"workers"`
	ItemCount    int             `json:"item_count"`
	ExitCode     int             `json:"exit_code"`
	FailedWorker int             `json:"failed_worker"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
}

// NewBatchResult starts an empty, successful batch.
func NewBatchResult(items int) BatchResult {
	return BatchResult{
		ID:           NewBatchID(),
		Workers:      []WorkerOutcome{},
		ItemCount:    items,
		FailedWorker: -1,
		StartedAt:    time.Now().UTC(),
	}
}

func (r BatchResult) Succeeded() bool {
	return r.ExitCode == 0
}

// Err describes the failure that decided the exit code, or nil.
func (r BatchResult) Err() error {
	if r.Succeeded() {
		return nil
	}
	return &WorkerError{Worker: r.FailedWorker, Code: r.ExitCode}
}

// Complete reports whether every worker reached a terminal state.
func (r BatchResult) Complete() bool {
	for _, w := range r.Workers {
		if !w.State.Terminal() {
			return false
		}
	}
	return true
}
