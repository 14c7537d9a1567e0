package services

import (
	"runtime"

	"github.com/viorelcanja/v86-1/internal/core/domain"
)

// DefaultMaxWorkers caps concurrently spawned workers when nothing else is configured.
const DefaultMaxWorkers = 32

// SchedulerConfig defines concurrency limits
type SchedulerConfig struct {
	MaxWorkers int
	// AvailableParallelism overrides runtime.NumCPU; zero means detect.
	AvailableParallelism int
}

// Assignment binds one partition to the worker that will process it.
// Empty partitions carry a zero Invocation and are never launched.
type Assignment struct {
	Worker     int
	Items      []domain.WorkItem
	Invocation domain.Invocation
}

type Scheduler struct {
	ceiling   int
	available int
	builder   InvocationBuilder
}

func NewScheduler(cfg SchedulerConfig, builder InvocationBuilder) *Scheduler {
	limit := cfg.MaxWorkers
	if limit <= 0 {
		limit = DefaultMaxWorkers
	}

	available := cfg.AvailableParallelism
	if available <= 0 {
		available = runtime.NumCPU()
	}

	return &Scheduler{
		ceiling:   limit,
		available: available,
		builder:   builder,
	}
}

// SelectWorkers returns min(available, items, ceiling). An unknown (non-positive)
// parallelism counts as 1, and zero items always select zero workers.
func SelectWorkers(available, items, ceiling int) int {
	if items <= 0 {
		return 0
	}
	return min(max(available, 1), items, ceiling)
}

// Plan selects the worker count for items and assigns one partition to each worker.
func (s *Scheduler) Plan(items []domain.WorkItem) []Assignment {
	workers := SelectWorkers(s.available, len(items), s.ceiling)
	if workers == 0 {
		return nil
	}
	return s.Assign(items, workers)
}

// Assign partitions items over exactly k workers.
func (s *Scheduler) Assign(items []domain.WorkItem, k int) []Assignment {
	groups := Partition(items, k)
	plan := make([]Assignment, len(groups))
	for i, group := range groups {
		plan[i] = Assignment{Worker: i, Items: group}
		if len(group) > 0 {
			plan[i].Invocation = s.builder.Build(group)
		}
	}
	return plan
}
