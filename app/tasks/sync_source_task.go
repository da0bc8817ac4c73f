package tasks

import (
	"context"
	"log/slog"

	"github.com/lysyi3m/astrobot/app/database"
)

type SyncSourceTask struct {
	Task
	Trigger string
	runner  SyncRunner
}

// NewSyncSourceTask is not retried by the queue; the next due tick runs it again.
func NewSyncSourceTask(source, trigger string, runner SyncRunner) *SyncSourceTask {
	task := NewTask(TaskTypeSyncSource, source)
	task.MaxRetries = 0

	return &SyncSourceTask{
		Task:    task,
		Trigger: trigger,
		runner:  runner,
	}
}

func (t *SyncSourceTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	run, err := t.runner.Run(ctx, t.Source, t.Trigger)
	if err != nil {
		return err
	}

	counters := database.RunCounters{}
	status := database.RunSkipped
	if run != nil {
		counters = run.Counters
		status = run.Status
	}

	slog.Info("Task completed",
		"type", string(t.Type),
		"source", t.Source,
		"trigger", t.Trigger,
		"status", string(status),
		"duration", t.GetDuration(),
		"new", counters.ItemsNew,
		"updated", counters.ItemsUpdated,
		"deleted", counters.ItemsDeleted,
		"published", counters.ItemsPublished)

	return nil
}
