package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viorelcanja/v86-1/internal/core/domain"
)

func TestSelectWorkers(t *testing.T) {
	tests := []struct {
		name                      string
		available, items, ceiling int
		want                      int
	}{
		{"bounded by items", 4, 2, 32, 2},
		{"bounded by ceiling", 64, 1000, 32, 32},
		{"unknown parallelism", 0, 5, 32, 1},
		{"negative parallelism", -1, 5, 32, 1},
		{"bounded by cpus", 8, 100, 32, 8},
		{"no items", 8, 0, 32, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectWorkers(tt.available, tt.items, tt.ceiling))
		})
	}
}

func TestNewScheduler_DefaultsCeiling(t *testing.T) {
	s := NewScheduler(SchedulerConfig{AvailableParallelism: 1000}, testTemplate())

	plan := s.Plan(makeItems(100))

	assert.Len(t, plan, DefaultMaxWorkers)
}

func TestScheduler_Plan(t *testing.T) {
	s := NewScheduler(SchedulerConfig{MaxWorkers: 32, AvailableParallelism: 3}, testTemplate())

	plan := s.Plan(makeItems(7))

	require.Len(t, plan, 3)
	assert.Equal(t, []domain.WorkItem{"t0", "t1"}, plan[0].Items)
	assert.Equal(t, []domain.WorkItem{"t2", "t3"}, plan[1].Items)
	assert.Equal(t, []domain.WorkItem{"t4", "t5", "t6"}, plan[2].Items)
	for i, a := range plan {
		assert.Equal(t, i, a.Worker)
		assert.Equal(t, "gdb", a.Invocation.Program)
		assert.Len(t, a.Invocation.Args, 2+len(a.Items))
	}
}

func TestScheduler_PlanNoItems(t *testing.T) {
	s := NewScheduler(SchedulerConfig{AvailableParallelism: 4}, testTemplate())

	assert.Empty(t, s.Plan(nil))
}

func TestScheduler_AssignLeavesEmptyPartitionsUnbuilt(t *testing.T) {
	s := NewScheduler(SchedulerConfig{AvailableParallelism: 4}, testTemplate())

	plan := s.Assign(makeItems(2), 4)

	require.Len(t, plan, 4)
	assert.Empty(t, plan[0].Invocation.Program)
	assert.Empty(t, plan[1].Invocation.Program)
	assert.Equal(t, "gdb", plan[2].Invocation.Program)
	assert.Equal(t, "gdb", plan[3].Invocation.Program)
}
