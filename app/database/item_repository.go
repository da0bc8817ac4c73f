package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var _ ItemRepository = (*ItemRepo)(nil)

var itemColumns = []string{
	"id", "source", "guid", "url", "stable_key", "title", "summary",
	"translated_title", "translated_summary", "translation_status", "translation_error", "translated_at",
	"source_published_at", "fetched_at", "status", "review_reason", "scheduled_for",
	"post_id", "posted_at", "reviewed_by", "reviewed_at", "review_note", "last_error",
	"created_at", "updated_at",
}

// unpublished matches items the retention and deletion rules may remove.
const unpublished = "status != 'published' AND post_id IS NULL"

type ItemRepo struct {
	db querier
}

func NewItemRepository(db *DB) *ItemRepo {
	return &ItemRepo{db: db.DB}
}

func (r *ItemRepo) GetItem(ctx context.Context, id int64) (*FeedItem, error) {
	return r.getOne(ctx, sq.Eq{"id": id})
}

func (r *ItemRepo) GetItemByStableKey(ctx context.Context, stableKey string) (*FeedItem, error) {
	return r.getOne(ctx, sq.Eq{"stable_key": stableKey})
}

func (r *ItemRepo) getOne(ctx context.Context, where sq.Eq) (*FeedItem, error) {
	query, args, err := builder.Select(itemColumns...).From("feed_items").Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build item query: %w", err)
	}

	item, err := scanItem(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	return item, nil
}

func (r *ItemRepo) ListItems(ctx context.Context, filter ItemFilter) ([]FeedItem, error) {
	q := builder.Select(itemColumns...).From("feed_items").OrderBy("id DESC")

	if filter.Source != "" {
		q = q.Where(sq.Eq{"source": filter.Source})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where(sq.Eq{"status": statuses})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
		if filter.Offset > 0 {
			q = q.Offset(uint64(filter.Offset))
		}
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build item query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []FeedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}

	return items, nil
}

func (r *ItemRepo) ListSourceKeys(ctx context.Context, source string) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT stable_key, id FROM feed_items WHERE source = ?`, source)
	if err != nil {
		return nil, fmt.Errorf("failed to list item keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]int64)
	for rows.Next() {
		var key string
		var id int64
		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("failed to scan item key: %w", err)
		}
		keys[key] = id
	}

	return keys, rows.Err()
}

func (r *ItemRepo) ListTranslationBacklog(ctx context.Context, source string) ([]int64, error) {
	return r.listIDs(ctx, `
		SELECT id FROM feed_items
		WHERE source = ? AND translation_status IN ('pending', 'failed')
		ORDER BY id
	`, source)
}

func (r *ItemRepo) ListDueScheduled(ctx context.Context, now time.Time) ([]int64, error) {
	return r.listIDs(ctx, `
		SELECT id FROM feed_items
		WHERE status = 'scheduled' AND scheduled_for IS NOT NULL AND scheduled_for <= ?
		ORDER BY scheduled_for, id
	`, utc(now))
}

func (r *ItemRepo) listIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list item ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan item id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (r *ItemRepo) CountByStatus(ctx context.Context) (map[ItemStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM feed_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	defer rows.Close()

	counts := make(map[ItemStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan item count: %w", err)
		}
		counts[ItemStatus(status)] = count
	}

	return counts, rows.Err()
}

func (r *ItemRepo) CreateItem(ctx context.Context, source, stableKey string, content ItemContent, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO feed_items (
			source, guid, url, stable_key, title, summary,
			translation_status, source_published_at, fetched_at, status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?, 'draft', ?, ?)
	`, source, content.GUID, content.URL, stableKey, content.Title, content.Summary,
		nullTime(content.SourcePublishedAt), utc(now), utc(now), utc(now))
	if err != nil {
		return 0, fmt.Errorf("failed to create item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get item id: %w", err)
	}

	return id, nil
}

// UpdateItemContent stores changed feed text and resets translation. Items
// not yet published or rejected go back to draft.
func (r *ItemRepo) UpdateItemContent(ctx context.Context, id int64, content ItemContent, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE feed_items SET
			guid = ?, url = ?, title = ?, summary = ?,
			source_published_at = ?, fetched_at = ?,
			translated_title = NULL, translated_summary = NULL,
			translation_status = 'pending', translation_error = NULL, translated_at = NULL,
			last_error = NULL,
			review_reason = CASE WHEN status IN ('published', 'rejected') THEN review_reason ELSE NULL END,
			scheduled_for = CASE WHEN status IN ('published', 'rejected') THEN scheduled_for ELSE NULL END,
			status = CASE WHEN status IN ('published', 'rejected') THEN status ELSE 'draft' END,
			updated_at = ?
		WHERE id = ?
	`, content.GUID, content.URL, content.Title, content.Summary,
		nullTime(content.SourcePublishedAt), utc(now), utc(now), id)
	if err != nil {
		return fmt.Errorf("failed to update item content: %w", err)
	}

	return nil
}

func (r *ItemRepo) DeleteUnpublishedItems(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := builder.Delete("feed_items").
		Where(sq.Eq{"id": ids}).
		Where(unpublished).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build delete query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete items: %w", err)
	}

	return rowsAffected(result), nil
}

// SaveTranslation applies a translation only if the item still holds the text
// it was made from and is not already translated.
func (r *ItemRepo) SaveTranslation(ctx context.Context, id int64, sourceTitle, sourceSummary, title, summary string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE feed_items SET
			translated_title = ?, translated_summary = ?,
			translation_status = 'done', translation_error = NULL, translated_at = ?,
			updated_at = ?
		WHERE id = ? AND title = ? AND summary = ? AND translation_status != 'done'
	`, title, summary, utc(now), utc(now), id, sourceTitle, sourceSummary)
	if err != nil {
		return false, fmt.Errorf("failed to save translation: %w", err)
	}

	return rowsAffected(result) > 0, nil
}

func (r *ItemRepo) MarkTranslationFailed(ctx context.Context, id int64, sourceTitle, sourceSummary, code string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE feed_items SET translation_status = 'failed', translation_error = ?, updated_at = ?
		WHERE id = ? AND title = ? AND summary = ? AND translation_status != 'done'
	`, code, utc(now), id, sourceTitle, sourceSummary)
	if err != nil {
		return fmt.Errorf("failed to mark translation failed: %w", err)
	}

	return nil
}

// MarkNeedsReview sends the item to review if it is still in one of the from
// statuses. It reports whether the item changed.
func (r *ItemRepo) MarkNeedsReview(ctx context.Context, id int64, reason, lastError string, from []ItemStatus, now time.Time) (bool, error) {
	return r.transition(ctx, "mark item for review", id, from, sq.Eq{
		"status":        string(StatusNeedsReview),
		"review_reason": nullString(reason),
		"last_error":    nullString(lastError),
		"scheduled_for": nil,
		"updated_at":    utc(now),
	})
}

// MarkError records a failure if the item is still in one of the from statuses.
func (r *ItemRepo) MarkError(ctx context.Context, id int64, lastError string, from []ItemStatus, now time.Time) (bool, error) {
	return r.transition(ctx, "mark item error", id, from, sq.Eq{
		"status":     string(StatusError),
		"last_error": nullString(lastError),
		"updated_at": utc(now),
	})
}

// transition updates an item only while its status is one of from, so a
// decision taken on a stale read cannot overwrite a newer state.
func (r *ItemRepo) transition(ctx context.Context, operation string, id int64, from []ItemStatus, set sq.Eq) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("failed to %s: no source statuses given", operation)
	}

	statuses := make([]string, len(from))
	for i, status := range from {
		statuses[i] = string(status)
	}

	query, args, err := builder.Update("feed_items").
		SetMap(set).
		Where(sq.Eq{"id": id, "status": statuses}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build %s query: %w", operation, err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", operation, err)
	}

	return rowsAffected(result) > 0, nil
}

func (r *ItemRepo) MarkApproved(ctx context.Context, id int64, reviewer, note string, now time.Time) error {
	return r.exec(ctx, "approve item", `
		UPDATE feed_items SET status = 'approved', reviewed_by = ?, reviewed_at = ?, review_note = ?, updated_at = ?
		WHERE id = ?
	`, nullString(reviewer), utc(now), nullString(note), utc(now), id)
}

func (r *ItemRepo) MarkScheduled(ctx context.Context, id int64, when, now time.Time) error {
	return r.exec(ctx, "schedule item", `
		UPDATE feed_items SET status = 'scheduled', scheduled_for = ?, updated_at = ?
		WHERE id = ?
	`, utc(when), utc(now), id)
}

func (r *ItemRepo) MarkRejected(ctx context.Context, id int64, reason, reviewer string, now time.Time) error {
	return r.exec(ctx, "reject item", `
		UPDATE feed_items SET status = 'rejected', review_note = ?, reviewed_by = ?, reviewed_at = ?, scheduled_for = NULL, updated_at = ?
		WHERE id = ?
	`, nullString(reason), nullString(reviewer), utc(now), utc(now), id)
}

func (r *ItemRepo) MarkPublished(ctx context.Context, id, postID int64, now time.Time) error {
	return r.exec(ctx, "mark item published", `
		UPDATE feed_items SET status = 'published', post_id = ?, posted_at = ?, last_error = NULL, scheduled_for = NULL, updated_at = ?
		WHERE id = ?
	`, postID, utc(now), utc(now), id)
}

func (r *ItemRepo) PruneUnpublishedOlderThan(ctx context.Context, source string, cutoff time.Time) (int64, error) {
	query, args, err := builder.Delete("feed_items").
		Where(sq.Eq{"source": source}).
		Where(unpublished).
		Where(sq.Lt{"COALESCE(source_published_at, fetched_at)": utc(cutoff)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build prune query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to prune items by age: %w", err)
	}

	return rowsAffected(result), nil
}

func (r *ItemRepo) PruneUnpublishedBeyondCount(ctx context.Context, source string, keep int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM feed_items WHERE id IN (
			SELECT id FROM feed_items
			WHERE source = ? AND `+unpublished+`
			ORDER BY COALESCE(source_published_at, fetched_at) DESC, id DESC
			LIMIT -1 OFFSET ?
		)
	`, source, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune items by count: %w", err)
	}

	return rowsAffected(result), nil
}

func (r *ItemRepo) exec(ctx context.Context, operation, query string, args ...any) error {
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to %s: %w", operation, err)
	}
	return nil
}

func scanItem(row rowScanner) (*FeedItem, error) {
	var item FeedItem
	var translatedTitle, translatedSummary, translationError sql.NullString
	var reviewReason, reviewedBy, reviewNote, lastError sql.NullString
	var translatedAt, sourcePublishedAt, scheduledFor, postedAt, reviewedAt sql.NullTime
	var postID sql.NullInt64
	var translationStatus, status string

	err := row.Scan(
		&item.ID, &item.Source, &item.GUID, &item.URL, &item.StableKey, &item.Title, &item.Summary,
		&translatedTitle, &translatedSummary, &translationStatus, &translationError, &translatedAt,
		&sourcePublishedAt, &item.FetchedAt, &status, &reviewReason, &scheduledFor,
		&postID, &postedAt, &reviewedBy, &reviewedAt, &reviewNote, &lastError,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.TranslatedTitle = translatedTitle.String
	item.TranslatedSummary = translatedSummary.String
	item.TranslationStatus = TranslationStatus(translationStatus)
	item.TranslationError = translationError.String
	item.TranslatedAt = timePtr(translatedAt)
	item.SourcePublishedAt = timePtr(sourcePublishedAt)
	item.FetchedAt = item.FetchedAt.UTC()
	item.Status = ItemStatus(status)
	item.ReviewReason = reviewReason.String
	item.ScheduledFor = timePtr(scheduledFor)
	item.PostID = int64Ptr(postID)
	item.PostedAt = timePtr(postedAt)
	item.ReviewedBy = reviewedBy.String
	item.ReviewedAt = timePtr(reviewedAt)
	item.ReviewNote = reviewNote.String
	item.LastError = lastError.String
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()

	return &item, nil
}
