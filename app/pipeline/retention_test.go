package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/lysyi3m/astrobot/app/database"
	"github.com/lysyi3m/astrobot/app/feed"
)

func TestPrunerIsScopedByStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := timeRef(testNow.Add(-30 * 24 * time.Hour))

	published := h.createItem(t, "guid-1", "https://www.nasa.gov/news/1", "Old published", old)
	if err := h.pipe.Publisher.Publish(ctx, published); err != nil {
		t.Fatal(err)
	}
	draft := h.createItem(t, "guid-2", "https://www.nasa.gov/news/2", "Old draft", old)
	fresh := h.createItem(t, "guid-3", "https://www.nasa.gov/news/3", "Fresh draft", timeRef(testNow))

	pruner := h.pipe.Orchestrator.pruner

	result, err := pruner.Prune(ctx, "nasa", feed.RetentionSettings{ItemsMaxAgeDays: 7})
	if err != nil {
		t.Fatal(err)
	}
	if result.Items != 1 || result.Posts != 0 {
		t.Errorf("Expected 1 item and 0 posts pruned, got %+v", result)
	}
	if h.getItem(t, draft) != nil {
		t.Error("Expected old draft to be pruned")
	}
	if h.getItem(t, fresh) == nil {
		t.Error("Expected fresh draft to survive")
	}
	item := h.getItem(t, published)
	if item == nil || item.PostID == nil {
		t.Fatal("Expected published item and its post to survive item retention")
	}

	result, err = pruner.Prune(ctx, "nasa", feed.RetentionSettings{PostsKeepDays: 7})
	if err != nil {
		t.Fatal(err)
	}
	if result.Posts != 1 || result.Items != 0 {
		t.Errorf("Expected 1 post and 0 items pruned, got %+v", result)
	}
	if count, _ := h.posts.CountPosts(ctx); count != 0 {
		t.Errorf("Expected no posts left, got %d", count)
	}
	item = h.getItem(t, published)
	if item == nil || item.Status != database.StatusPublished {
		t.Error("Expected published item to remain after its post is pruned")
	}
	if h.getItem(t, fresh) == nil {
		t.Error("Expected unpublished item to survive post retention")
	}
}

func TestPrunerEvictsExpiredPosts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id := h.createItem(t, "guid-1", "https://www.nasa.gov/news/1", "Short lived", timeRef(testNow))
	if err := h.pipe.Publisher.Publish(ctx, id); err != nil {
		t.Fatal(err)
	}

	pruner := h.pipe.Orchestrator.pruner

	result, err := pruner.Prune(ctx, "nasa", feed.RetentionSettings{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Posts != 0 {
		t.Errorf("Expected live post to be kept, got %d pruned", result.Posts)
	}

	h.clock.Advance(169 * time.Hour)

	result, err = pruner.Prune(ctx, "nasa", feed.RetentionSettings{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Posts != 1 {
		t.Errorf("Expected expired post to be pruned, got %d", result.Posts)
	}
}

func TestPrunerCountCap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i, guid := range []string{"guid-1", "guid-2", "guid-3"} {
		h.createItem(t, guid, "https://www.nasa.gov/news/"+guid, guid, timeRef(testNow.Add(time.Duration(i)*time.Hour)))
	}

	result, err := h.pipe.Orchestrator.pruner.Prune(ctx, "nasa", feed.RetentionSettings{ItemsMaxCount: 2})
	if err != nil {
		t.Fatal(err)
	}
	if result.Items != 1 {
		t.Errorf("Expected 1 item pruned, got %d", result.Items)
	}
	if h.itemByGUID(t, "guid-1") != nil {
		t.Error("Expected oldest item to be pruned")
	}
	if h.itemByGUID(t, "guid-3") == nil {
		t.Error("Expected newest item to be kept")
	}
}
