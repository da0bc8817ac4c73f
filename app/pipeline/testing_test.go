package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/astrobot/app/database"
	"github.com/lysyi3m/astrobot/app/feed"
	"github.com/lysyi3m/astrobot/app/lock"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubFetcher struct {
	result *feed.FetchResult
	err    error
	panic  any
	calls  int
}

func (f *stubFetcher) Fetch(ctx context.Context, feedConfig *feed.Config) (*feed.FetchResult, error) {
	f.calls++
	if f.panic != nil {
		panic(f.panic)
	}
	return f.result, f.err
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []int64
}

func (d *recordingDispatcher) DispatchTranslation(itemID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, itemID)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ids)
}

type stubTranslator struct {
	err    error
	calls  int
	before func()
}

func (s *stubTranslator) Translate(ctx context.Context, text string) (string, error) {
	s.calls++
	if s.before != nil {
		s.before()
	}
	if s.err != nil {
		return "", s.err
	}
	return "SK " + text, nil
}

type recordingMetrics struct {
	runs []database.RunStatus
}

func (m *recordingMetrics) ObserveRun(source string, status database.RunStatus, duration time.Duration, counters database.RunCounters) {
	m.runs = append(m.runs, status)
}
func (m *recordingMetrics) ObserveTranslation(database.TranslationStatus) {}
func (m *recordingMetrics) ObservePublish(string, error)                   {}

type harness struct {
	db         *database.DB
	items      *database.ItemRepo
	posts      *database.PostRepo
	runs       *database.RunRepo
	configs    *feed.ConfigCache
	fetcher    *stubFetcher
	dispatcher *recordingDispatcher
	translator *stubTranslator
	locker     *lock.MemoryLocker
	clock      *fakeClock
	metrics    *recordingMetrics
	pipe       *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	h := &harness{
		db:         db,
		items:      database.NewItemRepository(db),
		posts:      database.NewPostRepository(db),
		runs:       database.NewRunRepository(db),
		configs:    feed.NewConfigCache(""),
		fetcher:    &stubFetcher{result: &feed.FetchResult{}},
		dispatcher: &recordingDispatcher{},
		translator: &stubTranslator{},
		locker:     lock.NewMemoryLocker(),
		clock:      &fakeClock{now: testNow},
		metrics:    &recordingMetrics{},
	}

	h.configs.Set(&feed.Config{
		Name: "nasa",
		URL:  "https://www.nasa.gov/rss/dyn/breaking_news.rss",
		Settings: feed.ConfigSettings{
			Enabled: true,
		},
		Publish: feed.PublishSettings{
			AutoPublish:     true,
			DomainWhitelist: []string{"nasa.gov"},
			PostTTLHours:    168,
		},
	})

	h.build(h.dispatcher)

	return h
}

func (h *harness) build(dispatcher Dispatcher) {
	h.pipe = New(Options{
		Configs:    h.configs,
		Fetcher:    h.fetcher,
		Translator: h.translator,
		Dispatcher: dispatcher,
		Items:      h.items,
		Posts:      h.posts,
		Runs:       h.runs,
		Tx:         h.db,
		Locker:     h.locker,
		LockTTL:    time.Minute,
		Clock:      h.clock,
		Metrics:    h.metrics,
	})
}

// translateInline makes dispatched translations run synchronously.
func (h *harness) translateInline() {
	h.build(DispatcherFunc(func(itemID int64) error {
		return h.pipe.Translation.Translate(context.Background(), itemID)
	}))
}

func (h *harness) config(t *testing.T) *feed.Config {
	t.Helper()
	feedConfig, err := h.configs.GetConfig("nasa")
	if err != nil {
		t.Fatal(err)
	}
	return feedConfig
}

func (h *harness) itemByGUID(t *testing.T, guid string) *database.FeedItem {
	t.Helper()
	item, err := h.items.GetItemByStableKey(context.Background(), feed.Fingerprint(guid, "", "", nil))
	if err != nil {
		t.Fatal(err)
	}
	return item
}

// createItem stores an item the way ingestion does.
func (h *harness) createItem(t *testing.T, guid, url, title string, published *time.Time) int64 {
	t.Helper()
	id, err := h.items.CreateItem(context.Background(), "nasa", feed.Fingerprint(guid, url, title, published), database.ItemContent{
		GUID:              guid,
		URL:               url,
		Title:             title,
		Summary:           title + " summary",
		SourcePublishedAt: published,
	}, h.clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func (h *harness) getItem(t *testing.T, id int64) *database.FeedItem {
	t.Helper()
	item, err := h.items.GetItem(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return item
}

func entry(guid, link, title string, published *time.Time) feed.Entry {
	return feed.Entry{
		GUID:        guid,
		Link:        link,
		Title:       title,
		Summary:     title + " summary",
		PublishedAt: published,
	}
}

func fetched(entries ...feed.Entry) *feed.FetchResult {
	return &feed.FetchResult{Entries: entries, Total: len(entries)}
}

func timeRef(t time.Time) *time.Time {
	return &t
}
