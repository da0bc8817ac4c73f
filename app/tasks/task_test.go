package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/lysyi3m/astrobot/app/pipeline"
)

func TestNewTask(t *testing.T) {
	first := NewTask(TaskTypeTranslateItem, "")
	second := NewTask(TaskTypeTranslateItem, "")

	if first.ID == "" || first.ID == second.ID {
		t.Errorf("Expected unique task IDs, got '%s' and '%s'", first.ID, second.ID)
	}
	if first.MaxRetries != DefaultMaxRetries {
		t.Errorf("Expected max retries %d, got %d", DefaultMaxRetries, first.MaxRetries)
	}
	if first.GetDuration() != 0 {
		t.Error("Expected zero duration before start")
	}

	first.IncrementRetryCount()
	first.IncrementRetryCount()
	first.IncrementRetryCount()
	if first.CanRetry() {
		t.Error("Expected task to be out of retries")
	}
}

func TestSyncSourceTaskExecute(t *testing.T) {
	runner := &MockRunner{}
	task := NewSyncSourceTask("nasa", pipeline.TriggerStartup, runner)
	task.Start()

	if task.CanRetry() {
		t.Error("Expected sync tasks not to be retried by the queue")
	}

	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(runner.calls) != 1 || runner.calls[0] != "nasa:startup" {
		t.Errorf("Expected one startup run for nasa, got %v", runner.calls)
	}
}

func TestSyncSourceTaskCancelled(t *testing.T) {
	runner := &MockRunner{}
	task := NewSyncSourceTask("nasa", pipeline.TriggerSchedule, runner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := task.Execute(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("Expected no run, got %v", runner.calls)
	}
}

func TestTranslateItemTaskPropagatesError(t *testing.T) {
	translator := &MockTranslator{errs: []error{errors.New("boom")}}
	task := NewTranslateItemTask(3, translator)

	if err := task.Execute(context.Background()); err == nil {
		t.Error("Expected error to propagate for retry")
	}
	if err := task.Execute(context.Background()); err != nil {
		t.Errorf("Expected second attempt to succeed, got: %v", err)
	}
	if len(translator.calls) != 2 || translator.calls[0] != 3 {
		t.Errorf("Expected two calls for item 3, got %v", translator.calls)
	}
}

func TestPublishScheduledTaskExecute(t *testing.T) {
	publisher := &MockPublisher{}
	task := NewPublishScheduledTask(publisher)

	if err := task.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if publisher.calls != 1 {
		t.Errorf("Expected 1 sweep, got %d", publisher.calls)
	}
}
