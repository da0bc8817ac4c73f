package pipeline

import (
	"context"
	"slices"
	"strings"

	"github.com/lysyi3m/astrobot/app/database"
	"github.com/lysyi3m/astrobot/app/feed"
)

type Outcome int

// evaluable are the statuses the policy may move an item out of.
var evaluable = []database.ItemStatus{database.StatusDraft, database.StatusError}

const (
	OutcomeUntouched Outcome = iota
	OutcomePublished
	OutcomeNeedsReview
	OutcomeFailed
)

// Evaluator applies the publish policy to staged items.
type Evaluator struct {
	items     database.ItemRepository
	publisher *Publisher
	clock     Clock
}

func NewEvaluator(items database.ItemRepository, publisher *Publisher, clock Clock) *Evaluator {
	return &Evaluator{
		items:     items,
		publisher: publisher,
		clock:     clock,
	}
}

// Apply evaluates a draft or error item. Items waiting for translation are
// left untouched unless auto-publish is off, in which case they go to review.
func (e *Evaluator) Apply(ctx context.Context, item *database.FeedItem, settings feed.PublishSettings) (Outcome, error) {
	if item.Status != database.StatusDraft && item.Status != database.StatusError {
		return OutcomeUntouched, nil
	}

	now := e.clock.Now()

	if !settings.AutoPublish {
		return e.sendToReview(ctx, item.ID, feed.ReasonAutoPublishDisabled)
	}

	if item.TranslationStatus != database.TranslationDone {
		return OutcomeUntouched, nil
	}

	decision, reason := feed.Evaluate(policyInput(item), settings, now)
	if decision == feed.DecisionNeedsReview {
		return e.sendToReview(ctx, item.ID, reason)
	}

	err := e.publisher.publish(ctx, item.ID, "auto", func(current *database.FeedItem) bool {
		return slices.Contains(evaluable, current.Status)
	})
	switch {
	case err == nil:
		return OutcomePublished, nil
	case isInvalidState(err):
		return OutcomeUntouched, nil
	}

	if _, markErr := e.items.MarkError(ctx, item.ID, err.Error(), evaluable, e.clock.Now()); markErr != nil {
		return OutcomeFailed, markErr
	}
	return OutcomeFailed, err
}

// sendToReview leaves the item alone when a reviewer or another run moved it
// after it was listed.
func (e *Evaluator) sendToReview(ctx context.Context, itemID int64, reason string) (Outcome, error) {
	changed, err := e.items.MarkNeedsReview(ctx, itemID, reason, "", evaluable, e.clock.Now())
	if err != nil {
		return OutcomeFailed, err
	}
	if !changed {
		return OutcomeUntouched, nil
	}
	return OutcomeNeedsReview, nil
}

// policyInput checks risk keywords against both the original and the
// translated text.
func policyInput(item *database.FeedItem) feed.PolicyInput {
	return feed.PolicyInput{
		URL:         item.URL,
		Title:       joinNonBlank(item.Title, item.TranslatedTitle),
		Summary:     joinNonBlank(item.Summary, item.TranslatedSummary),
		PublishedAt: item.SourcePublishedAt,
	}
}

func joinNonBlank(values ...string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n")
}
