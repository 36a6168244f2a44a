package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/falconq/falconq/pkg/types"
)

// PgConfig configures the Postgres-backed gateway's connection pool.
type PgConfig struct {
	ConnString     string
	MaxConns       int32
	ConnectTimeout time.Duration
}

func (c *PgConfig) defaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// PgGateway is the Gateway implementation backed by a pgx connection pool.
type PgGateway struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPgGateway opens a connection pool and verifies connectivity.
func NewPgGateway(ctx context.Context, cfg PgConfig, logger *slog.Logger) (*PgGateway, error) {
	cfg.defaults()
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("store: connection string is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("store: parse connection string: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(timeoutCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(timeoutCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &PgGateway{pool: pool, logger: logger.With("component", "store")}, nil
}

// Close releases the underlying connection pool.
func (g *PgGateway) Close() {
	g.pool.Close()
}

// Insert writes a Submitted task and, in the same transaction, notifies the
// new_task channel so the insert is never visible to a subscriber before it
// is visible to every other reader.
func (g *PgGateway) Insert(ctx context.Context, task *types.Task) error {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO tasks (id, created_at, status, execution_time, task_type)
		VALUES ($1, $2, $3, $4, $5)`,
		task.ID, task.CreatedAt, types.StatusSubmitted, task.ExecutionTime, task.TaskType,
	)
	if err != nil {
		return fmt.Errorf("store: insert task: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify('new_task', $1)`, task.ID.String()); err != nil {
		return fmt.Errorf("store: notify new_task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit insert: %w", err)
	}
	task.Status = types.StatusSubmitted
	return nil
}

func (g *PgGateway) Get(ctx context.Context, id uuid.UUID) (*types.Task, error) {
	row := g.pool.QueryRow(ctx, `
		SELECT id, created_at, status, execution_time, task_type,
		       started_executing_at, completed_at, failed_at, deleted_at,
		       worker_id, retry_count
		FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

func (g *PgGateway) List(ctx context.Context, filter Filter) ([]*types.Task, error) {
	where := []string{"1=1"}
	args := []any{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.TaskType != "" {
		args = append(args, filter.TaskType)
		where = append(where, fmt.Sprintf("task_type = $%d", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT id, created_at, status, execution_time, task_type,
		       started_executing_at, completed_at, failed_at, deleted_at,
		       worker_id, retry_count
		FROM tasks WHERE %s`, strings.Join(where, " AND "))

	rows, err := g.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	var out []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// DeleteIfSubmitted is the conditional transition Submitted -> Deleted.
func (g *PgGateway) DeleteIfSubmitted(ctx context.Context, id uuid.UUID) (DeleteOutcome, types.Status, error) {
	tag, err := g.pool.Exec(ctx, `
		UPDATE tasks SET status = $2, deleted_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, types.StatusDeleted, types.StatusSubmitted,
	)
	if err != nil {
		return NotFoundOutcome, "", fmt.Errorf("store: delete if submitted: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return Deleted, types.StatusDeleted, nil
	}

	current, err := g.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return NotFoundOutcome, "", nil
	}
	if err != nil {
		return NotFoundOutcome, "", err
	}
	return NotDeletable, current.Status, nil
}

// FindUpcoming returns ids of Submitted tasks due within window, bounded by
// limit; extra rows are left for the next poll.
func (g *PgGateway) FindUpcoming(ctx context.Context, window time.Duration, limit int) ([]uuid.UUID, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT id FROM tasks
		WHERE status = $1 AND execution_time <= $2
		ORDER BY execution_time ASC
		LIMIT $3`,
		types.StatusSubmitted, time.Now().Add(window), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: find upcoming: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan upcoming id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Claim is the exactly-once choke point: SELECT ... FOR UPDATE SKIP LOCKED
// followed by a conditional transition, inside one transaction. Exactly one
// concurrent caller wins; every other caller gets ErrLost.
func (g *PgGateway) Claim(ctx context.Context, id uuid.UUID, workerID string) (*types.Task, error) {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT id, created_at, status, execution_time, task_type,
		       started_executing_at, completed_at, failed_at, deleted_at,
		       worker_id, retry_count
		FROM tasks WHERE id = $1
		FOR UPDATE SKIP LOCKED`, id)

	task, err := scanTask(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrLost
	}
	if err != nil {
		return nil, err
	}
	if task.Status != types.StatusSubmitted {
		return nil, ErrLost
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE tasks SET status = $2, started_executing_at = $3, worker_id = $4
		WHERE id = $1`,
		id, types.StatusStartedExecuting, now, workerID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: mark started executing: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		// A concurrent committer may have won the row between our SELECT and
		// our COMMIT under some isolation levels; treat as lost rather than
		// surfacing a spurious error to the caller.
		return nil, ErrLost
	}

	task.Status = types.StatusStartedExecuting
	task.StartedExecutingAt = &now
	task.WorkerID = workerID
	return task, nil
}

func (g *PgGateway) MarkDone(ctx context.Context, id uuid.UUID) error {
	tag, err := g.pool.Exec(ctx, `
		UPDATE tasks SET status = $2, completed_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, types.StatusDone, types.StatusStartedExecuting,
	)
	if err != nil {
		return fmt.Errorf("store: mark done: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: mark done: %w", ErrNotFound)
	}
	return nil
}

func (g *PgGateway) MarkFailed(ctx context.Context, id uuid.UUID) error {
	tag, err := g.pool.Exec(ctx, `
		UPDATE tasks SET status = $2, failed_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, types.StatusFailed, types.StatusStartedExecuting,
	)
	if err != nil {
		return fmt.Errorf("store: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: mark failed: %w", ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var t types.Task
	var workerID *string
	err := row.Scan(
		&t.ID, &t.CreatedAt, &t.Status, &t.ExecutionTime, &t.TaskType,
		&t.StartedExecutingAt, &t.CompletedAt, &t.FailedAt, &t.DeletedAt,
		&workerID, &t.RetryCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		return nil, fmt.Errorf("store: scan task: %w", err)
	}
	if workerID != nil {
		t.WorkerID = *workerID
	}
	return &t, nil
}
