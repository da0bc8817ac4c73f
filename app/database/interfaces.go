package database

import (
	"context"
	"time"
)

type ItemRepository interface {
	// GetItem and GetItemByStableKey return nil, nil when the item does not exist.
	GetItem(ctx context.Context, id int64) (*FeedItem, error)
	GetItemByStableKey(ctx context.Context, stableKey string) (*FeedItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]FeedItem, error)
	ListSourceKeys(ctx context.Context, source string) (map[string]int64, error)
	ListTranslationBacklog(ctx context.Context, source string) ([]int64, error)
	ListDueScheduled(ctx context.Context, now time.Time) ([]int64, error)
	CountByStatus(ctx context.Context) (map[ItemStatus]int, error)

	CreateItem(ctx context.Context, source, stableKey string, content ItemContent, now time.Time) (int64, error)
	UpdateItemContent(ctx context.Context, id int64, content ItemContent, now time.Time) error
	DeleteUnpublishedItems(ctx context.Context, ids []int64) (int64, error)

	SaveTranslation(ctx context.Context, id int64, sourceTitle, sourceSummary, title, summary string, now time.Time) (bool, error)
	MarkTranslationFailed(ctx context.Context, id int64, sourceTitle, sourceSummary, code string, now time.Time) error

	// MarkNeedsReview and MarkError only apply while the item is in one of the
	// from statuses and report whether it changed.
	MarkNeedsReview(ctx context.Context, id int64, reason, lastError string, from []ItemStatus, now time.Time) (bool, error)
	MarkError(ctx context.Context, id int64, lastError string, from []ItemStatus, now time.Time) (bool, error)
	MarkApproved(ctx context.Context, id int64, reviewer, note string, now time.Time) error
	MarkScheduled(ctx context.Context, id int64, when, now time.Time) error
	MarkRejected(ctx context.Context, id int64, reason, reviewer string, now time.Time) error
	MarkPublished(ctx context.Context, id, postID int64, now time.Time) error

	PruneUnpublishedOlderThan(ctx context.Context, source string, cutoff time.Time) (int64, error)
	PruneUnpublishedBeyondCount(ctx context.Context, source string, keep int) (int64, error)
}

type PostRepository interface {
	GetPost(ctx context.Context, id int64) (*FeedPost, error)
	ListPosts(ctx context.Context, source string, now time.Time, limit int) ([]FeedPost, error)
	UpsertPost(ctx context.Context, post FeedPost, now time.Time) (int64, error)
	CountPosts(ctx context.Context) (int, error)

	PrunePostsOlderThan(ctx context.Context, source string, cutoff time.Time) (int64, error)
	PrunePostsBeyondCount(ctx context.Context, source string, keep int) (int64, error)
	PruneExpiredPosts(ctx context.Context, source string, now time.Time) (int64, error)
}

type RunRepository interface {
	CreateRun(ctx context.Context, source, trigger string, startedAt time.Time) (int64, error)
	CreateSkippedRun(ctx context.Context, source, trigger, message string, at time.Time) (int64, error)
	FinishRun(ctx context.Context, id int64, status RunStatus, message string, counters RunCounters, metadata string, finishedAt time.Time) error
	GetRun(ctx context.Context, id int64) (*RunRecord, error)
	ListRuns(ctx context.Context, source string, limit int) ([]RunRecord, error)
	LastRun(ctx context.Context, source string) (*RunRecord, error)
}

// TxRunner runs a unit of work against item and post repositories in one transaction.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(items ItemRepository, posts PostRepository) error) error
}
