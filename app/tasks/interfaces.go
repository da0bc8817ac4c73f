package tasks

import (
	"context"

	"github.com/lysyi3m/astrobot/app/database"
	"github.com/lysyi3m/astrobot/app/feed"
	"github.com/lysyi3m/astrobot/app/pipeline"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// The pipeline also uses the scheduler as its translation dispatcher.
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	DispatchTranslation(itemID int64) error
}

type SyncRunner interface {
	Run(ctx context.Context, source, trigger string) (*database.RunRecord, error)
}

type ItemTranslator interface {
	Translate(ctx context.Context, itemID int64) error
}

type DuePublisher interface {
	PublishDue(ctx context.Context) (pipeline.PublishDueResult, error)
}

type SourceProvider interface {
	GetEnabledConfigs() map[string]*feed.Config
}

type RunHistory interface {
	LastRun(ctx context.Context, source string) (*database.RunRecord, error)
}
