// Package archive keeps a durable, best-effort record of tasks in
// Postgres. The broker's result store stays authoritative and
// TTL-bound; the archive is the ops trail that outlives it.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inferno-ml/inferno/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id      TEXT PRIMARY KEY,
	model        TEXT NOT NULL,
	priority     TEXT NOT NULL,
	callback_url TEXT,
	status       TEXT NOT NULL,
	error        TEXT,
	timing       JSONB,
	submitted_at TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS tasks_status_idx ON tasks (status);
`

// Archive wraps a pgx pool. A nil *Archive is a no-op sink, so callers
// can hold one unconditionally.
type Archive struct {
	pool *pgxpool.Pool
}

// Connect opens the pool and ensures the schema.
func Connect(ctx context.Context, connString string) (*Archive, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, err
	}
	return &Archive{pool: pool}, nil
}

// Close releases the pool.
func (a *Archive) Close() {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.Close()
}

// RecordSubmission inserts the accepted task. Errors are logged, not
// returned: the archive never blocks a 202.
func (a *Archive) RecordSubmission(ctx context.Context, taskID, model, priority, callbackURL string) {
	if a == nil || a.pool == nil {
		return
	}
	query := `
		INSERT INTO tasks (task_id, model, priority, callback_url, status, submitted_at)
		VALUES ($1, $2, $3, $4, 'PENDING', NOW())
		ON CONFLICT (task_id) DO NOTHING
	`
	if _, err := a.pool.Exec(ctx, query, taskID, model, priority, callbackURL); err != nil {
		log.Logger.Error().Err(err).Str("task_id", taskID).Msg("archive submission failed")
	}
}

// RecordOutcome updates the task with its terminal state.
func (a *Archive) RecordOutcome(ctx context.Context, taskID, status, errMsg string, timing map[string]float64) {
	if a == nil || a.pool == nil {
		return
	}
	var timingJSON []byte
	if timing != nil {
		timingJSON, _ = json.Marshal(timing)
	}
	query := `
		UPDATE tasks SET status = $2, error = NULLIF($3, ''), timing = $4, finished_at = NOW()
		WHERE task_id = $1
	`
	if _, err := a.pool.Exec(ctx, query, taskID, status, errMsg, timingJSON); err != nil {
		log.Logger.Error().Err(err).Str("task_id", taskID).Msg("archive outcome failed")
	}
}

// TaskRow is one archived task.
type TaskRow struct {
	TaskID      string
	Model       string
	Priority    string
	Status      string
	Error       string
	SubmittedAt time.Time
}

// GetTask reads one archived task; nil when absent.
func (a *Archive) GetTask(ctx context.Context, taskID string) (*TaskRow, error) {
	if a == nil || a.pool == nil {
		return nil, nil
	}
	query := `
		SELECT task_id, model, priority, status, COALESCE(error, ''), submitted_at
		FROM tasks WHERE task_id = $1
	`
	var row TaskRow
	err := a.pool.QueryRow(ctx, query, taskID).Scan(
		&row.TaskID, &row.Model, &row.Priority, &row.Status, &row.Error, &row.SubmittedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
