package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lysyi3m/astrobot/app/database"
	"github.com/lysyi3m/astrobot/app/feed"
)

const ReasonPublishFailed = "publish_failed"

type PublishDueResult struct {
	Published int
	Failed    int
	// Skipped counts items that left the scheduled state after the sweep listed them.
	Skipped int
}

type Publisher struct {
	tx      database.TxRunner
	items   database.ItemRepository
	configs ConfigProvider
	clock   Clock
	metrics Metrics
}

func NewPublisher(tx database.TxRunner, items database.ItemRepository, configs ConfigProvider, clock Clock, metrics Metrics) *Publisher {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Publisher{
		tx:      tx,
		items:   items,
		configs: configs,
		clock:   clock,
		metrics: metrics,
	}
}

// Publish materializes the item as a post and marks it published, in one
// transaction. Publishing twice updates the same post.
func (p *Publisher) Publish(ctx context.Context, itemID int64) error {
	return p.publish(ctx, itemID, "manual", nil)
}

// publish runs inside one transaction. ready, when set, must also accept the
// item as it is read there.
func (p *Publisher) publish(ctx context.Context, itemID int64, trigger string, ready func(*database.FeedItem) bool) error {
	err := p.tx.WithinTx(ctx, func(items database.ItemRepository, posts database.PostRepository) error {
		item, err := loadItem(ctx, items, itemID)
		if err != nil {
			return err
		}
		if !canPublish(item) || (ready != nil && !ready(item)) {
			return &InvalidStateError{ItemID: item.ID, Status: item.Status, Action: "publish"}
		}

		now := p.clock.Now()
		postID, err := posts.UpsertPost(ctx, p.buildPost(item, now), now)
		if err != nil {
			return err
		}

		return items.MarkPublished(ctx, item.ID, postID, now)
	})
	p.metrics.ObservePublish(trigger, err)
	if err != nil {
		return err
	}

	slog.Info("Item published", "item_id", itemID, "trigger", trigger)
	return nil
}

// Approve records the review and publishes. The approval survives a failed
// publish so a later run can retry it.
func (p *Publisher) Approve(ctx context.Context, itemID int64, reviewer, note string) error {
	err := p.tx.WithinTx(ctx, func(items database.ItemRepository, _ database.PostRepository) error {
		item, err := loadItem(ctx, items, itemID)
		if err != nil {
			return err
		}
		if !canPublish(item) {
			return &InvalidStateError{ItemID: item.ID, Status: item.Status, Action: "approve"}
		}
		return items.MarkApproved(ctx, item.ID, reviewer, note, p.clock.Now())
	})
	if err != nil {
		return err
	}

	return p.publish(ctx, itemID, "approve", nil)
}

func (p *Publisher) Schedule(ctx context.Context, itemID int64, when time.Time) error {
	return p.tx.WithinTx(ctx, func(items database.ItemRepository, _ database.PostRepository) error {
		item, err := loadItem(ctx, items, itemID)
		if err != nil {
			return err
		}
		if item.Status == database.StatusPublished || item.Status == database.StatusRejected {
			return &InvalidStateError{ItemID: item.ID, Status: item.Status, Action: "schedule"}
		}
		return items.MarkScheduled(ctx, item.ID, when, p.clock.Now())
	})
}

func (p *Publisher) Reject(ctx context.Context, itemID int64, reason, reviewer string) error {
	return p.tx.WithinTx(ctx, func(items database.ItemRepository, _ database.PostRepository) error {
		item, err := loadItem(ctx, items, itemID)
		if err != nil {
			return err
		}
		if item.Status == database.StatusPublished {
			return &InvalidStateError{ItemID: item.ID, Status: item.Status, Action: "reject"}
		}
		return items.MarkRejected(ctx, item.ID, reason, reviewer, p.clock.Now())
	})
}

// PublishDue publishes every scheduled item that is due. A failing item is
// sent back to review and the sweep continues. Items a reviewer moved in the
// meantime are skipped.
func (p *Publisher) PublishDue(ctx context.Context) (PublishDueResult, error) {
	var result PublishDueResult

	now := p.clock.Now()
	ids, err := p.items.ListDueScheduled(ctx, now)
	if err != nil {
		return result, err
	}

	due := func(item *database.FeedItem) bool {
		return item.Status == database.StatusScheduled && item.ScheduledFor != nil && !item.ScheduledFor.After(now)
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		err := p.publish(ctx, id, "schedule", due)
		switch {
		case err == nil:
			result.Published++
			continue
		case errors.Is(err, ErrItemNotFound) || isInvalidState(err):
			result.Skipped++
			slog.Debug("Scheduled item changed before publish, skipping", "item_id", id, "error", err)
			continue
		}

		result.Failed++
		slog.Warn("Scheduled publish failed, sending item to review", "item_id", id, "error", err)
		demoted, markErr := p.items.MarkNeedsReview(ctx, id, ReasonPublishFailed, err.Error(),
			[]database.ItemStatus{database.StatusScheduled}, now)
		if markErr != nil {
			slog.Error("Failed to demote item", "item_id", id, "error", markErr)
		} else if !demoted {
			slog.Debug("Scheduled item changed before demotion", "item_id", id)
		}
	}

	return result, nil
}

func (p *Publisher) buildPost(item *database.FeedItem, now time.Time) database.FeedPost {
	title := firstNonBlank(item.TranslatedTitle, item.Title)
	summary := firstNonBlank(item.TranslatedSummary, item.Summary)

	var content strings.Builder
	content.WriteString(summary)
	if item.URL != "" {
		if content.Len() > 0 {
			content.WriteString("\n\n")
		}
		content.WriteString(item.URL)
	}

	post := database.FeedPost{
		SourceName:        database.PostSourceName,
		SourceUID:         item.StableKey,
		Title:             title,
		Content:           content.String(),
		SourceURL:         item.URL,
		OriginalTitle:     item.Title,
		OriginalSummary:   item.Summary,
		TranslatedTitle:   item.TranslatedTitle,
		TranslatedSummary: item.TranslatedSummary,
		SourcePublishedAt: item.SourcePublishedAt,
	}

	if ttl := p.postTTL(item.Source); ttl > 0 {
		expiresAt := now.Add(ttl)
		post.ExpiresAt = &expiresAt
	}

	return post
}

func (p *Publisher) postTTL(source string) time.Duration {
	feedConfig, err := p.configs.GetConfig(source)
	if err != nil || feedConfig == nil {
		return time.Duration(feed.DefaultPostTTLHours) * time.Hour
	}
	return feedConfig.Publish.PostTTL()
}

func loadItem(ctx context.Context, items database.ItemRepository, itemID int64) (*database.FeedItem, error) {
	item, err := items.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("failed to load item %d: %w", itemID, ErrItemNotFound)
	}
	return item, nil
}

func canPublish(item *database.FeedItem) bool {
	switch {
	case item.Status == database.StatusRejected:
		return false
	case item.Status == database.StatusPublished && item.HasPost():
		return false
	}
	return true
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func isInvalidState(err error) bool {
	var stateErr *InvalidStateError
	return errors.As(err, &stateErr)
}
