package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// WorkItem is the base name shared by a binary and the fixture extracted from it.
type WorkItem string

// Input returns the path of the binary the debugger loads.
func (w WorkItem) Input(dir string) string {
	return filepath.Join(dir, string(w)+".bin")
}

// Output returns the path the extracted fixture is written to.
func (w WorkItem) Output(dir string) string {
	return filepath.Join(dir, string(w)+".fixture")
}

// WorkerState represents the lifecycle position of a worker
type WorkerState string

const (
	WorkerStatePending     WorkerState = "PENDING"
	WorkerStateSkipped     WorkerState = "SKIPPED"
	WorkerStateLaunched    WorkerState = "LAUNCHED"
	WorkerStateRunning     WorkerState = "RUNNING"
	WorkerStateSucceeded   WorkerState = "SUCCEEDED"
	WorkerStateFailed      WorkerState = "FAILED"
	WorkerStateSpawnFailed WorkerState = "SPAWN_FAILED"
)

// Terminal reports whether no further transition is possible.
func (s WorkerState) Terminal() bool {
	switch s {
	case WorkerStateSkipped, WorkerStateSucceeded, WorkerStateFailed, WorkerStateSpawnFailed:
		return true
	default:
		return false
	}
}

// Labels attached to every worker so runtimes can find it again.
const (
	LabelManaged = "fixturegen.managed"
	LabelBatch   = "fixturegen.batch"
	LabelWorker  = "fixturegen.worker"
)

// Invocation defines how a worker process should be spawned
type Invocation struct {
	Program string            `json:"program"`
	Args    []string          `json:"args"`
	Dir     string            `json:"dir,omitempty"`
	Mounts  []string          `json:"mounts,omitempty"` // host paths the container runtime must expose
	Labels  map[string]string `json:"labels,omitempty"`
}

// Argv returns the full command line, program first.
func (i Invocation) Argv() []string {
	return append([]string{i.Program}, i.Args...)
}

// WorkerExit is the completion signal a worker sends exactly once.
type WorkerExit struct {
	Worker   int
	Code     int
	Err      error
	ExitedAt time.Time
}

var (
	ErrSpawn         = errors.New("worker spawn failed")
	ErrBatchNotFound = errors.New("batch not found")
)

// WorkerError reports a worker that exited with a non-zero code.
type WorkerError struct {
	Worker int
	Code   int
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %d exited with code %d", e.Worker, e.Code)
}
