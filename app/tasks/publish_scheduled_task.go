package tasks

import (
	"context"
	"fmt"
	"log/slog"
)

type PublishScheduledTask struct {
	Task
	publisher DuePublisher
}

func NewPublishScheduledTask(publisher DuePublisher) *PublishScheduledTask {
	task := NewTask(TaskTypePublishScheduled, "")
	task.MaxRetries = 0

	return &PublishScheduledTask{
		Task:      task,
		publisher: publisher,
	}
}

func (t *PublishScheduledTask) Execute(ctx context.Context) error {
	result, err := t.publisher.PublishDue(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish scheduled items: %w", err)
	}

	if result.Published == 0 && result.Failed == 0 && result.Skipped == 0 {
		return nil
	}

	slog.Info("Task completed",
		"type", string(t.Type),
		"duration", t.GetDuration(),
		"published", result.Published,
		"failed", result.Failed,
		"skipped", result.Skipped)

	return nil
}
