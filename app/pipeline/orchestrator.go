package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/astrobot/app/database"
	"github.com/lysyi3m/astrobot/app/feed"
	"github.com/lysyi3m/astrobot/app/lock"
)

const (
	lockKeyPrefix  = "astrobot:sync:"
	DefaultLockTTL = 10 * time.Minute

	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerStartup  = "startup"
	TriggerOnce     = "once"
)

type runMetadata struct {
	Entries      int                    `json:"entries"`
	Total        int                    `json:"total"`
	Truncated    bool                   `json:"truncated"`
	Redispatched int                    `json:"translations_redispatched"`
	Retention    feed.RetentionSettings `json:"retention"`
}

// Orchestrator runs one sync of a source: fetch, ingest, translate, evaluate,
// publish and prune. At most one run per source holds the lock at a time.
type Orchestrator struct {
	configs    ConfigProvider
	fetcher    Fetcher
	ingestor   *Ingestor
	evaluator  *Evaluator
	publisher  *Publisher
	pruner     *Pruner
	items      database.ItemRepository
	runs       database.RunRepository
	dispatcher Dispatcher
	locker     lock.Locker
	lockTTL    time.Duration
	clock      Clock
	metrics    Metrics
}

func LockKey(source string) string {
	return lockKeyPrefix + source
}

// Run syncs a source and returns its finalized run record. A failed run is
// returned together with the error that ended it.
func (o *Orchestrator) Run(ctx context.Context, source, trigger string) (*database.RunRecord, error) {
	feedConfig, err := o.configs.GetConfig(source)
	if err != nil || feedConfig == nil {
		return nil, fmt.Errorf("failed to load config for %s: %w", source, ErrSourceNotFound)
	}

	if !feedConfig.Settings.Enabled {
		id, err := o.runs.CreateSkippedRun(ctx, source, trigger, "source disabled", o.clock.Now())
		if err != nil {
			return nil, err
		}
		o.metrics.ObserveRun(source, database.RunSkipped, 0, database.RunCounters{})
		slog.Info("Source disabled, sync skipped", "source", source, "trigger", trigger)
		return o.runs.GetRun(ctx, id)
	}

	lease, err := o.locker.TryAcquire(ctx, LockKey(source), o.lockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, &SyncInProgressError{Source: source}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	defer o.release(ctx, lease)

	startedAt := o.clock.Now()
	runID, err := o.runs.CreateRun(ctx, source, trigger, startedAt)
	if err != nil {
		return nil, err
	}

	counters, metadata, runErr := o.execute(ctx, feedConfig)

	status := database.RunSuccess
	message := ""
	if runErr != nil {
		status = database.RunError
		message = runErr.Error()
	}

	encoded, err := json.Marshal(metadata)
	if err != nil {
		encoded = []byte("{}")
	}

	finishCtx := context.WithoutCancel(ctx)
	finishedAt := o.clock.Now()
	if err := o.runs.FinishRun(finishCtx, runID, status, message, counters, string(encoded), finishedAt); err != nil {
		slog.Error("Failed to finalize run record", "source", source, "run_id", runID, "error", err)
	}

	duration := finishedAt.Sub(startedAt)
	o.metrics.ObserveRun(source, status, duration, counters)

	if runErr != nil {
		slog.Error("Sync failed", "source", source, "trigger", trigger, "duration", duration, "error", runErr)
	} else {
		slog.Info("Sync completed", "source", source, "trigger", trigger, "duration", duration,
			"new", counters.ItemsNew, "updated", counters.ItemsUpdated, "deleted", counters.ItemsDeleted,
			"published", counters.ItemsPublished, "needs_review", counters.ItemsNeedsReview, "errors", counters.Errors)
	}

	run, err := o.runs.GetRun(finishCtx, runID)
	if err != nil {
		return nil, errors.Join(runErr, err)
	}
	if runErr != nil {
		return run, fmt.Errorf("sync %s failed: %w", source, runErr)
	}
	return run, nil
}

func (o *Orchestrator) execute(ctx context.Context, feedConfig *feed.Config) (counters database.RunCounters, metadata runMetadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during sync: %v", r)
		}
	}()

	source := feedConfig.Name
	metadata.Retention = feedConfig.Retention

	fetched, err := o.fetcher.Fetch(ctx, feedConfig)
	if err != nil {
		return counters, metadata, fmt.Errorf("failed to fetch feed: %w", err)
	}
	metadata.Entries = len(fetched.Entries)
	metadata.Total = fetched.Total
	metadata.Truncated = fetched.Truncated

	ingested, err := o.ingestor.Ingest(ctx, source, fetched)
	counters.ItemsNew = ingested.New
	counters.ItemsUpdated = ingested.Updated
	counters.ItemsSkipped = ingested.Skipped
	counters.ItemsDeleted = ingested.Deleted
	counters.Errors = ingested.Errors
	if err != nil {
		return counters, metadata, err
	}

	metadata.Redispatched, err = o.redispatch(ctx, source, ingested.Dispatched)
	if err != nil {
		return counters, metadata, err
	}

	if err := o.evaluate(ctx, feedConfig, &counters); err != nil {
		return counters, metadata, err
	}

	pruned, err := o.pruner.Prune(ctx, source, feedConfig.Retention)
	counters.ItemsPruned = pruned.Items
	counters.PostsPruned = pruned.Posts
	if err != nil {
		return counters, metadata, err
	}

	return counters, metadata, nil
}

// redispatch queues translations that are still pending or failed, which
// covers lost jobs and exhausted retries.
func (o *Orchestrator) redispatch(ctx context.Context, source string, alreadyQueued []int64) (int, error) {
	backlog, err := o.items.ListTranslationBacklog(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("failed to list translation backlog: %w", err)
	}

	queued := make(map[int64]bool, len(alreadyQueued))
	for _, id := range alreadyQueued {
		queued[id] = true
	}

	count := 0
	for _, id := range backlog {
		if queued[id] {
			continue
		}
		if err := o.dispatcher.DispatchTranslation(id); err != nil {
			slog.Warn("Failed to re-dispatch translation", "source", source, "item_id", id, "error", err)
			continue
		}
		count++
	}

	return count, nil
}

func (o *Orchestrator) evaluate(ctx context.Context, feedConfig *feed.Config, counters *database.RunCounters) error {
	candidates, err := o.items.ListItems(ctx, database.ItemFilter{
		Source:   feedConfig.Name,
		Statuses: []database.ItemStatus{database.StatusDraft, database.StatusError, database.StatusApproved},
	})
	if err != nil {
		return fmt.Errorf("failed to list items for evaluation: %w", err)
	}

	for i := range candidates {
		item := &candidates[i]

		if item.Status == database.StatusApproved {
			err := o.publisher.publish(ctx, item.ID, "retry", func(current *database.FeedItem) bool {
				return current.Status == database.StatusApproved
			})
			switch {
			case err == nil:
				counters.ItemsPublished++
			case !isInvalidState(err):
				slog.Warn("Failed to publish approved item", "source", feedConfig.Name, "item_id", item.ID, "error", err)
				counters.Errors++
			}
			continue
		}

		outcome, err := o.evaluator.Apply(ctx, item, feedConfig.Publish)
		switch outcome {
		case OutcomePublished:
			counters.ItemsPublished++
		case OutcomeNeedsReview:
			counters.ItemsNeedsReview++
		case OutcomeFailed:
			slog.Warn("Failed to evaluate item", "source", feedConfig.Name, "item_id", item.ID, "error", err)
			counters.Errors++
		}
	}

	return nil
}

func (o *Orchestrator) release(ctx context.Context, lease *lock.Lease) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := o.locker.Release(releaseCtx, lease); err != nil {
		slog.Warn("Failed to release sync lock", "key", lease.Key, "error", err)
	}
}
