package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/viorelcanja/v86-1/internal/core/domain"
	"github.com/viorelcanja/v86-1/internal/core/ports"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS batches (
		id            VARCHAR PRIMARY KEY,
		item_count    INTEGER NOT NULL,
		worker_count  INTEGER NOT NULL,
		exit_code     INTEGER NOT NULL,
		failed_worker INTEGER NOT NULL,
		started_at    TIMESTAMP NOT NULL,
		finished_at   TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS batch_workers (
		batch_id    VARCHAR NOT NULL,
		worker      INTEGER NOT NULL,
		state       VARCHAR NOT NULL,
		exit_code   INTEGER NOT NULL,
		error_msg   VARCHAR,
		items       VARCHAR NOT NULL,
		started_at  TIMESTAMP,
		finished_at TIMESTAMP,
		PRIMARY KEY (batch_id, worker)
	)`,
}

// Repository keeps the history of fixture batches in a DuckDB file.
type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the database at path. An empty path
// gives an in-memory database.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	r := &Repository{db: db}
	if err := r.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Ensure Repository implements HistoryRepository interface
var _ ports.HistoryRepository = (*Repository)(nil)

func (r *Repository) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// SaveBatch upserts the batch row and one row per worker in a single transaction.
func (r *Repository) SaveBatch(ctx context.Context, batch domain.BatchResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches (id, item_count, worker_count, exit_code, failed_worker, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			item_count    = excluded.item_count,
			worker_count  = excluded.worker_count,
			exit_code     = excluded.exit_code,
			failed_worker = excluded.failed_worker,
			finished_at   = excluded.finished_at`,
		string(batch.ID),
		batch.ItemCount,
		len(batch.Workers),
		batch.ExitCode,
		batch.FailedWorker,
		batch.StartedAt,
		batch.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}

	for _, w := range batch.Workers {
		items := w.Items
		if items == nil {
			items = []domain.WorkItem{}
		}
		itemsJSON, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("encode items of worker %d: %w", w.Worker, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO batch_workers (batch_id, worker, state, exit_code, error_msg, items, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (batch_id, worker) DO UPDATE SET
				state       = excluded.state,
				exit_code   = excluded.exit_code,
				error_msg   = excluded.error_msg,
				finished_at = excluded.finished_at`,
			string(batch.ID),
			w.Worker,
			string(w.State),
			w.ExitCode,
			nullString(w.Error),
			string(itemsJSON),
			nullTime(w.StartedAt),
			nullTime(w.FinishedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert worker %d: %w", w.Worker, err)
		}
	}

	return tx.Commit()
}

func (r *Repository) GetBatch(ctx context.Context, id domain.BatchID) (domain.BatchResult, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, item_count, exit_code, failed_worker, started_at, finished_at
		FROM batches WHERE id = ?`, string(id))

	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BatchResult{}, domain.ErrBatchNotFound
	}
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("get batch: %w", err)
	}

	if batch.Workers, err = r.listWorkers(ctx, batch.ID); err != nil {
		return domain.BatchResult{}, err
	}
	return batch, nil
}

// ListBatches returns the most recent batches first. limit <= 0 means all.
func (r *Repository) ListBatches(ctx context.Context, limit int) ([]domain.BatchResult, error) {
	query := `SELECT id, item_count, exit_code, failed_worker, started_at, finished_at
		FROM batches ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []domain.BatchResult
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	rows.Close()

	for i := range batches {
		if batches[i].Workers, err = r.listWorkers(ctx, batches[i].ID); err != nil {
			return nil, err
		}
	}
	return batches, nil
}

func (r *Repository) listWorkers(ctx context.Context, id domain.BatchID) ([]domain.WorkerOutcome, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT worker, state, exit_code, error_msg, items, started_at, finished_at
		FROM batch_workers WHERE batch_id = ? ORDER BY worker`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	workers := []domain.WorkerOutcome{}
	for rows.Next() {
		var (
			w         domain.WorkerOutcome
			state     string
			errMsg    sql.NullString
			itemsJSON string
			started   sql.NullTime
			finished  sql.NullTime
		)
		if err := rows.Scan(&w.Worker, &state, &w.ExitCode, &errMsg, &itemsJSON, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		if err := json.Unmarshal([]byte(itemsJSON), &w.Items); err != nil {
			return nil, fmt.Errorf("decode items of worker %d: %w", w.Worker, err)
		}
		w.State = domain.WorkerState(state)
		w.Error = errMsg.String
		w.StartedAt = started.Time
		w.FinishedAt = finished.Time
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(s scanner) (domain.BatchResult, error) {
	var (
		b  domain.BatchResult
		id string
	)
	if err := s.Scan(&id, &b.ItemCount, &b.ExitCode, &b.FailedWorker, &b.StartedAt, &b.FinishedAt); err != nil {
		return domain.BatchResult{}, err
	}
	b.ID = domain.BatchID(id)
	return b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
