package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/astrobot/app/database"
	"github.com/lysyi3m/astrobot/app/translate"
)

const codeTranslationFailed = "translation_error"

type TranslationPipeline struct {
	items      database.ItemRepository
	translator Translator
	clock      Clock
	metrics    Metrics
}

func NewTranslationPipeline(items database.ItemRepository, translator Translator, clock Clock, metrics Metrics) *TranslationPipeline {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &TranslationPipeline{
		items:      items,
		translator: translator,
		clock:      clock,
		metrics:    metrics,
	}
}

// Translate translates an item's title and summary. It is a no-op for missing
// or already translated items and safe to call repeatedly.
func (p *TranslationPipeline) Translate(ctx context.Context, itemID int64) error {
	item, err := p.items.GetItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("failed to load item %d: %w", itemID, err)
	}
	if item == nil {
		slog.Debug("Item gone, skipping translation", "item_id", itemID)
		return nil
	}
	if item.TranslationStatus == database.TranslationDone {
		return nil
	}

	title, err := p.translator.Translate(ctx, item.Title)
	if err != nil {
		return p.fail(ctx, item, err)
	}

	summary, err := p.translator.Translate(ctx, item.Summary)
	if err != nil {
		return p.fail(ctx, item, err)
	}

	saved, err := p.items.SaveTranslation(ctx, item.ID, item.Title, item.Summary, title, summary, p.clock.Now())
	if err != nil {
		return err
	}
	if !saved {
		slog.Debug("Item changed during translation, result discarded", "item_id", item.ID)
		return nil
	}

	p.metrics.ObserveTranslation(database.TranslationDone)
	slog.Debug("Item translated", "item_id", item.ID, "source", item.Source)

	return nil
}

func (p *TranslationPipeline) fail(ctx context.Context, item *database.FeedItem, cause error) error {
	code := codeTranslationFailed
	var translateErr *translate.Error
	if errors.As(cause, &translateErr) {
		code = translateErr.Code
	}

	if err := p.items.MarkTranslationFailed(ctx, item.ID, item.Title, item.Summary, code, p.clock.Now()); err != nil {
		slog.Error("Failed to record translation failure", "item_id", item.ID, "error", err)
	}
	p.metrics.ObserveTranslation(database.TranslationFailed)

	return &TranslationError{ItemID: item.ID, Code: code, Err: cause}
}
