package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var _ RunRepository = (*RunRepo)(nil)

var runColumns = []string{
	"id", "source", "trigger_type", "status", "message", "started_at", "finished_at", "duration_ms",
	"items_new", "items_updated", "items_skipped", "items_deleted", "items_published",
	"items_needs_review", "items_pruned", "posts_pruned", "errors", "metadata",
}

type RunRepo struct {
	db querier
}

func NewRunRepository(db *DB) *RunRepo {
	return &RunRepo{db: db.DB}
}

func (r *RunRepo) CreateRun(ctx context.Context, source, trigger string, startedAt time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_runs (source, trigger_type, status, started_at) VALUES (?, ?, 'running', ?)
	`, source, trigger, utc(startedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to create run: %w", err)
	}

	return result.LastInsertId()
}

func (r *RunRepo) CreateSkippedRun(ctx context.Context, source, trigger, message string, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_runs (source, trigger_type, status, message, started_at, finished_at)
		VALUES (?, ?, 'skipped', ?, ?, ?)
	`, source, trigger, message, utc(at), utc(at))
	if err != nil {
		return 0, fmt.Errorf("failed to create skipped run: %w", err)
	}

	return result.LastInsertId()
}

// FinishRun finalizes a running record. Records already finalized are left as they are.
func (r *RunRepo) FinishRun(ctx context.Context, id int64, status RunStatus, message string, counters RunCounters, metadata string, finishedAt time.Time) error {
	var startedAt time.Time
	err := r.db.QueryRowContext(ctx, `SELECT started_at FROM sync_runs WHERE id = ?`, id).Scan(&startedAt)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	if metadata == "" {
		metadata = "{}"
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE sync_runs SET
			status = ?, message = ?, finished_at = ?, duration_ms = ?,
			items_new = ?, items_updated = ?, items_skipped = ?, items_deleted = ?,
			items_published = ?, items_needs_review = ?, items_pruned = ?, posts_pruned = ?,
			errors = ?, metadata = ?
		WHERE id = ? AND status = 'running'
	`, string(status), message, utc(finishedAt), finishedAt.Sub(startedAt).Milliseconds(),
		counters.ItemsNew, counters.ItemsUpdated, counters.ItemsSkipped, counters.ItemsDeleted,
		counters.ItemsPublished, counters.ItemsNeedsReview, counters.ItemsPruned, counters.PostsPruned,
		counters.Errors, metadata, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	return nil
}

func (r *RunRepo) GetRun(ctx context.Context, id int64) (*RunRecord, error) {
	return r.getOne(ctx, builder.Select(runColumns...).From("sync_runs").Where(sq.Eq{"id": id}))
}

func (r *RunRepo) LastRun(ctx context.Context, source string) (*RunRecord, error) {
	return r.getOne(ctx, builder.Select(runColumns...).From("sync_runs").
		Where(sq.Eq{"source": source}).
		OrderBy("started_at DESC", "id DESC"))
}

func (r *RunRepo) getOne(ctx context.Context, q sq.SelectBuilder) (*RunRecord, error) {
	query, args, err := q.Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build run query: %w", err)
	}

	run, err := scanRun(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

func (r *RunRepo) ListRuns(ctx context.Context, source string, limit int) ([]RunRecord, error) {
	q := builder.Select(runColumns...).From("sync_runs").OrderBy("started_at DESC", "id DESC")
	if source != "" {
		q = q.Where(sq.Eq{"source": source})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build run query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var run RunRecord
	var status string
	var finishedAt sql.NullTime
	c := &run.Counters

	err := row.Scan(
		&run.ID, &run.Source, &run.Trigger, &status, &run.Message, &run.StartedAt, &finishedAt, &run.DurationMs,
		&c.ItemsNew, &c.ItemsUpdated, &c.ItemsSkipped, &c.ItemsDeleted, &c.ItemsPublished,
		&c.ItemsNeedsReview, &c.ItemsPruned, &c.PostsPruned, &c.Errors, &run.Metadata,
	)
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = timePtr(finishedAt)

	return &run, nil
}
