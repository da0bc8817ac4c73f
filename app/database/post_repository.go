package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var _ PostRepository = (*PostRepo)(nil)

// sourcePosts selects the ids of posts created from items of one source.
const sourcePosts = `
	SELECT p.id FROM feed_posts p
	JOIN feed_items i ON i.stable_key = p.source_uid
	WHERE p.source_name = 'astrobot' AND i.source = ?`

type PostRepo struct {
	db querier
}

func NewPostRepository(db *DB) *PostRepo {
	return &PostRepo{db: db.DB}
}

const postColumns = `
	p.id, p.source_name, p.source_uid, p.title, p.content, p.source_url,
	p.original_title, p.original_summary, p.translated_title, p.translated_summary,
	p.source_published_at, p.expires_at, p.created_at, p.updated_at`

func (r *PostRepo) GetPost(ctx context.Context, id int64) (*FeedPost, error) {
	post, err := scanPost(r.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM feed_posts p WHERE p.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return post, nil
}

// ListPosts returns the unexpired posts of a source, newest first.
func (r *PostRepo) ListPosts(ctx context.Context, source string, now time.Time, limit int) ([]FeedPost, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM feed_posts p
		JOIN feed_items i ON i.stable_key = p.source_uid
		WHERE p.source_name = ? AND i.source = ?
		AND (p.expires_at IS NULL OR p.expires_at > ?)
		ORDER BY COALESCE(p.source_published_at, p.created_at) DESC, p.id DESC
		LIMIT ?
	`, PostSourceName, source, utc(now), max(limit, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []FeedPost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, *post)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	return posts, nil
}

func scanPost(row rowScanner) (*FeedPost, error) {
	var post FeedPost
	var translatedTitle, translatedSummary sql.NullString
	var sourcePublishedAt, expiresAt sql.NullTime

	err := row.Scan(
		&post.ID, &post.SourceName, &post.SourceUID, &post.Title, &post.Content, &post.SourceURL,
		&post.OriginalTitle, &post.OriginalSummary, &translatedTitle, &translatedSummary,
		&sourcePublishedAt, &expiresAt, &post.CreatedAt, &post.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	post.TranslatedTitle = translatedTitle.String
	post.TranslatedSummary = translatedSummary.String
	post.SourcePublishedAt = timePtr(sourcePublishedAt)
	post.ExpiresAt = timePtr(expiresAt)
	post.CreatedAt = post.CreatedAt.UTC()
	post.UpdatedAt = post.UpdatedAt.UTC()

	return &post, nil
}

// UpsertPost creates the post for (source name, source uid) or overwrites its
// mutable fields, returning the post id either way.
func (r *PostRepo) UpsertPost(ctx context.Context, post FeedPost, now time.Time) (int64, error) {
	if post.SourceName == "" {
		post.SourceName = PostSourceName
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO feed_posts (
			source_name, source_uid, title, content, source_url,
			original_title, original_summary, translated_title, translated_summary,
			source_published_at, expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_name, source_uid) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			source_url = excluded.source_url,
			original_title = excluded.original_title,
			original_summary = excluded.original_summary,
			translated_title = excluded.translated_title,
			translated_summary = excluded.translated_summary,
			source_published_at = excluded.source_published_at,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
		RETURNING id
	`, post.SourceName, post.SourceUID, post.Title, post.Content, post.SourceURL,
		post.OriginalTitle, post.OriginalSummary, nullString(post.TranslatedTitle), nullString(post.TranslatedSummary),
		nullTime(post.SourcePublishedAt), nullTime(post.ExpiresAt), utc(now), utc(now)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert post: %w", err)
	}

	return id, nil
}

func (r *PostRepo) CountPosts(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feed_posts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return count, nil
}

func (r *PostRepo) PrunePostsOlderThan(ctx context.Context, source string, cutoff time.Time) (int64, error) {
	return r.prune(ctx, "by age", `
		DELETE FROM feed_posts
		WHERE id IN (`+sourcePosts+`)
		AND COALESCE(source_published_at, created_at) < ?
	`, source, utc(cutoff))
}

func (r *PostRepo) PrunePostsBeyondCount(ctx context.Context, source string, keep int) (int64, error) {
	return r.prune(ctx, "by count", `
		DELETE FROM feed_posts WHERE id IN (`+sourcePosts+`
			ORDER BY COALESCE(p.source_published_at, p.created_at) DESC, p.id DESC
			LIMIT -1 OFFSET ?
		)
	`, source, keep)
}

func (r *PostRepo) PruneExpiredPosts(ctx context.Context, source string, now time.Time) (int64, error) {
	return r.prune(ctx, "by expiry", `
		DELETE FROM feed_posts
		WHERE id IN (`+sourcePosts+`)
		AND expires_at IS NOT NULL AND expires_at <= ?
	`, source, utc(now))
}

func (r *PostRepo) prune(ctx context.Context, rule, query string, args ...any) (int64, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to prune posts %s: %w", rule, err)
	}
	return rowsAffected(result), nil
}
