package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/lysyi3m/astrobot/app/database"
	"github.com/lysyi3m/astrobot/app/feed"
)

type PruneResult struct {
	Items int
	Posts int
}

// Pruner bounds storage per source. Unpublished items and published posts are
// pruned by separate rules; neither rule touches the other's records.
type Pruner struct {
	items database.ItemRepository
	posts database.PostRepository
	clock Clock
}

func NewPruner(items database.ItemRepository, posts database.PostRepository, clock Clock) *Pruner {
	return &Pruner{
		items: items,
		posts: posts,
		clock: clock,
	}
}

func (p *Pruner) Prune(ctx context.Context, source string, settings feed.RetentionSettings) (PruneResult, error) {
	var result PruneResult
	now := p.clock.Now()

	if settings.ItemsMaxAgeDays > 0 {
		n, err := p.items.PruneUnpublishedOlderThan(ctx, source, now.Add(-days(settings.ItemsMaxAgeDays)))
		if err != nil {
			return result, fmt.Errorf("failed to prune items by age: %w", err)
		}
		result.Items += int(n)
	}

	if settings.ItemsMaxCount > 0 {
		n, err := p.items.PruneUnpublishedBeyondCount(ctx, source, settings.ItemsMaxCount)
		if err != nil {
			return result, fmt.Errorf("failed to prune items by count: %w", err)
		}
		result.Items += int(n)
	}

	if settings.PostsKeepDays > 0 {
		n, err := p.posts.PrunePostsOlderThan(ctx, source, now.Add(-days(settings.PostsKeepDays)))
		if err != nil {
			return result, fmt.Errorf("failed to prune posts by age: %w", err)
		}
		result.Posts += int(n)
	}

	if settings.PostsKeepCount > 0 {
		n, err := p.posts.PrunePostsBeyondCount(ctx, source, settings.PostsKeepCount)
		if err != nil {
			return result, fmt.Errorf("failed to prune posts by count: %w", err)
		}
		result.Posts += int(n)
	}

	n, err := p.posts.PruneExpiredPosts(ctx, source, now)
	if err != nil {
		return result, fmt.Errorf("failed to prune expired posts: %w", err)
	}
	result.Posts += int(n)

	return result, nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
