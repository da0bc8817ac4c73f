package api

import (
	"context"
	"net/http"
	"time"

	"github.com/lysyi3m/astrobot/app/database"
	"github.com/lysyi3m/astrobot/app/feed"
	"github.com/lysyi3m/astrobot/app/pipeline"
)

type ReviewService interface {
	Publish(ctx context.Context, itemID int64) error
	Approve(ctx context.Context, itemID int64, reviewer, note string) error
	Schedule(ctx context.Context, itemID int64, when time.Time) error
	Reject(ctx context.Context, itemID int64, reason, reviewer string) error
}

type SyncRunner interface {
	Run(ctx context.Context, source, trigger string) (*database.RunRecord, error)
}

var (
	_ ReviewService = (*pipeline.Publisher)(nil)
	_ SyncRunner    = (*pipeline.Orchestrator)(nil)
)

type Handler struct {
	configCache *feed.ConfigCache
	itemRepo    database.ItemRepository
	postRepo    database.PostRepository
	runRepo     database.RunRepository
	publisher   ReviewService
	runner      SyncRunner
	metrics     http.Handler
	generator   *feed.Generator
}

type approveRequest struct {
	Reviewer string `json:"reviewer" binding:"required"`
	Note     string `json:"note"`
}

type scheduleRequest struct {
	ScheduledFor time.Time `json:"scheduled_for" binding:"required"`
}

type rejectRequest struct {
	Reason   string `json:"reason" binding:"required"`
	Reviewer string `json:"reviewer" binding:"required"`
}
