package duckdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viorelcanja/v86-1/internal/core/domain"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleBatch(started time.Time) domain.BatchResult {
	batch := domain.NewBatchResult(3)
	batch.StartedAt = started
	batch.FinishedAt = started.Add(2 * time.Second)
	batch.ExitCode = 3
	batch.FailedWorker = 1
	batch.Workers = []domain.WorkerOutcome{
		{
			Worker:     0,
			Items:      []domain.WorkItem{"add", "mov"},
			State:      domain.WorkerStateSucceeded,
			StartedAt:  started,
			FinishedAt: started.Add(time.Second),
		},
		{
			Worker:     1,
			Items:      []domain.WorkItem{"sub"},
			State:      domain.WorkerStateFailed,
			ExitCode:   3,
			Error:      "exit status 3",
			StartedAt:  started,
			FinishedAt: started.Add(2 * time.Second),
		},
		{
			Worker: 2,
			State:  domain.WorkerStateSkipped,
		},
	}
	return batch
}

func TestRepository_SaveAndGetBatch(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	started := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	batch := sampleBatch(started)

	require.NoError(t, repo.SaveBatch(ctx, batch))

	fetched, err := repo.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.ID, fetched.ID)
	assert.Equal(t, 3, fetched.ItemCount)
	assert.Equal(t, 3, fetched.ExitCode)
	assert.Equal(t, 1, fetched.FailedWorker)
	assert.WithinDuration(t, batch.StartedAt, fetched.StartedAt, time.Millisecond)
	assert.WithinDuration(t, batch.FinishedAt, fetched.FinishedAt, time.Millisecond)

	require.Len(t, fetched.Workers, 3)
	assert.Equal(t, []domain.WorkItem{"add", "mov"}, fetched.Workers[0].Items)
	assert.Equal(t, domain.WorkerStateSucceeded, fetched.Workers[0].State)
	assert.Equal(t, "exit status 3", fetched.Workers[1].Error)
	assert.Equal(t, 3, fetched.Workers[1].ExitCode)
	assert.Equal(t, domain.WorkerStateSkipped, fetched.Workers[2].State)
	assert.Empty(t, fetched.Workers[2].Items)
	assert.True(t, fetched.Workers[2].StartedAt.IsZero())
}

func TestRepository_SaveBatchIsUpsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	batch := sampleBatch(time.Now().UTC())
	require.NoError(t, repo.SaveBatch(ctx, batch))

	batch.ExitCode = 0
	batch.FailedWorker = -1
	batch.Workers[1].State = domain.WorkerStateSucceeded
	batch.Workers[1].ExitCode = 0
	require.NoError(t, repo.SaveBatch(ctx, batch))

	fetched, err := repo.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, fetched.ExitCode)
	assert.Equal(t, -1, fetched.FailedWorker)
	assert.Equal(t, domain.WorkerStateSucceeded, fetched.Workers[1].State)

	all, err := repo.ListBatches(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRepository_GetMissingBatch(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetBatch(context.Background(), domain.BatchID("missing"))

	assert.ErrorIs(t, err, domain.ErrBatchNotFound)
}

func TestRepository_ListBatchesNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	older := sampleBatch(base)
	newer := sampleBatch(base.Add(time.Hour))
	require.NoError(t, repo.SaveBatch(ctx, older))
	require.NoError(t, repo.SaveBatch(ctx, newer))

	batches, err := repo.ListBatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, newer.ID, batches[0].ID)
	assert.Equal(t, older.ID, batches[1].ID)
	assert.Len(t, batches[0].Workers, 3)

	limited, err := repo.ListBatches(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, newer.ID, limited[0].ID)
}
