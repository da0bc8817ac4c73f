package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/astrobot/app/database"
	"github.com/lysyi3m/astrobot/app/feed"
)

type IngestResult struct {
	New     int
	Updated int
	Skipped int
	Deleted int
	Errors  int
	// Dispatched lists items queued for translation during this ingest.
	Dispatched []int64
}

type Ingestor struct {
	items      database.ItemRepository
	dispatcher Dispatcher
	clock      Clock
}

func NewIngestor(items database.ItemRepository, dispatcher Dispatcher, clock Clock) *Ingestor {
	return &Ingestor{
		items:      items,
		dispatcher: dispatcher,
		clock:      clock,
	}
}

// Ingest upserts fetched entries by stable key. Items missing from a complete,
// non-empty fetch are deleted unless they were published.
func (i *Ingestor) Ingest(ctx context.Context, source string, fetched *feed.FetchResult) (IngestResult, error) {
	var result IngestResult

	entries := feed.AssignStableKeys(fetched.Entries)
	seen := make(map[string]bool, len(entries))
	now := i.clock.Now()

	for _, entry := range entries {
		seen[entry.StableKey] = true

		content := database.ItemContent{
			GUID:              entry.GUID,
			URL:               entry.Link,
			Title:             entry.Title,
			Summary:           entry.Summary,
			SourcePublishedAt: entry.PublishedAt,
		}

		existing, err := i.items.GetItemByStableKey(ctx, entry.StableKey)
		if err != nil {
			slog.Error("Failed to look up item", "source", source, "guid", entry.GUID, "error", err)
			result.Errors++
			continue
		}

		if existing == nil {
			id, err := i.items.CreateItem(ctx, source, entry.StableKey, content, now)
			if err != nil {
				slog.Error("Failed to create item", "source", source, "guid", entry.GUID, "error", err)
				result.Errors++
				continue
			}
			result.New++
			i.dispatch(source, id, &result)
			continue
		}

		if existing.Title == content.Title && existing.Summary == content.Summary {
			result.Skipped++
			continue
		}

		if err := i.items.UpdateItemContent(ctx, existing.ID, content, now); err != nil {
			slog.Error("Failed to update item", "source", source, "item_id", existing.ID, "error", err)
			result.Errors++
			continue
		}
		result.Updated++
		i.dispatch(source, existing.ID, &result)
	}

	if fetched.Truncated || len(fetched.Entries) == 0 {
		return result, nil
	}

	known, err := i.items.ListSourceKeys(ctx, source)
	if err != nil {
		return result, fmt.Errorf("failed to list source items: %w", err)
	}

	var stale []int64
	for key, id := range known {
		if !seen[key] {
			stale = append(stale, id)
		}
	}

	deleted, err := i.items.DeleteUnpublishedItems(ctx, stale)
	if err != nil {
		return result, fmt.Errorf("failed to delete stale items: %w", err)
	}
	result.Deleted = int(deleted)

	return result, nil
}

func (i *Ingestor) dispatch(source string, itemID int64, result *IngestResult) {
	if err := i.dispatcher.DispatchTranslation(itemID); err != nil {
		slog.Warn("Failed to dispatch translation", "source", source, "item_id", itemID, "error", err)
		return
	}
	result.Dispatched = append(result.Dispatched, itemID)
}
