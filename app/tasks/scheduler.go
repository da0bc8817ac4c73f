package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/astrobot/app/pipeline"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type Deps struct {
	Configs     SourceProvider
	Runs        RunHistory
	Runner      SyncRunner
	Translation ItemTranslator
	Publisher   DuePublisher
}

type Scheduler struct {
	deps        Deps
	interval    time.Duration
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface

	mu      sync.Mutex
	pending map[string]bool
}

func NewScheduler(deps Deps, workerCount int, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		deps:        deps,
		interval:    interval,
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, 300),
		pending:     make(map[string]bool),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueStartupTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) DispatchTranslation(itemID int64) error {
	return s.EnqueueTask(NewTranslateItemTask(itemID, s.deps.Translation))
}

func (s *Scheduler) enqueueStartupTasks() {
	sourceConfigs := s.deps.Configs.GetEnabledConfigs()
	if len(sourceConfigs) == 0 {
		slog.Debug("No enabled sources found")
		return
	}

	slog.Debug("Enqueuing startup syncs", "count", len(sourceConfigs))

	for name := range sourceConfigs {
		s.enqueueSync(name, pipeline.TriggerStartup)
	}
}

func (s *Scheduler) enqueueTasks() {
	now := time.Now().UTC()

	for name, sourceConfig := range s.deps.Configs.GetEnabledConfigs() {
		lastRun, err := s.deps.Runs.LastRun(s.ctx, name)
		if err != nil {
			slog.Warn("Failed to load last run, skipping", "source", name, "error", err)
			continue
		}

		if lastRun != nil {
			nextRunAt := lastRun.StartedAt.Add(sourceConfig.Settings.RefreshEvery())
			if nextRunAt.After(now) {
				slog.Debug("Source not due for sync yet", "source", name, "next_run_at", nextRunAt)
				continue
			}
		}

		s.enqueueSync(name, pipeline.TriggerSchedule)
	}

	if err := s.EnqueueTask(NewPublishScheduledTask(s.deps.Publisher)); err != nil {
		slog.Warn("Failed to enqueue PublishScheduledTask", "error", err)
	}
}

// enqueueSync queues a sync unless one for the source is already waiting or running.
func (s *Scheduler) enqueueSync(source, trigger string) {
	s.mu.Lock()
	if s.pending[source] {
		s.mu.Unlock()
		slog.Debug("Sync already queued", "source", source)
		return
	}
	s.pending[source] = true
	s.mu.Unlock()

	if err := s.EnqueueTask(NewSyncSourceTask(source, trigger, s.deps.Runner)); err != nil {
		s.clearPending(source)
		slog.Warn("Failed to enqueue SyncSourceTask", "source", source, "error", err)
	}
}

func (s *Scheduler) clearPending(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, source)
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	if task.GetType() == TaskTypeSyncSource {
		defer s.clearPending(task.GetSource())
	}

	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		return
	}

	var inProgress *pipeline.SyncInProgressError
	if errors.As(err, &inProgress) {
		slog.Info("Sync already running elsewhere, skipping", "source", inProgress.Source, "id", task.GetID())
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() {
		if task.GetMaxRetries() > 0 {
			slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
		return
	}

	task.IncrementRetryCount()
	retryDelay := retryDelay(task.GetRetryCount())

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "source", task.GetSource(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
		case <-time.After(retryDelay):
			if retryErr := s.EnqueueTask(task); retryErr != nil {
				slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
			}
		}
	}()
}

func retryDelay(retryCount int) time.Duration {
	delay := time.Duration(1<<uint(retryCount-1)) * time.Second
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}
