package database

import (
	"time"
)

type ItemStatus string

const (
	StatusDraft       ItemStatus = "draft"
	StatusPending     ItemStatus = "pending"
	StatusApproved    ItemStatus = "approved"
	StatusNeedsReview ItemStatus = "needs_review"
	StatusScheduled   ItemStatus = "scheduled"
	StatusPublished   ItemStatus = "published"
	StatusRejected    ItemStatus = "rejected"
	StatusError       ItemStatus = "error"
)

type TranslationStatus string

const (
	TranslationPending TranslationStatus = "pending"
	TranslationDone    TranslationStatus = "done"
	TranslationFailed  TranslationStatus = "failed"
)

type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
	RunSkipped RunStatus = "skipped"
)

// PostSourceName is the source_name of every post this service creates.
const PostSourceName = "astrobot"

// FeedItem is a staged entry from a source feed.
type FeedItem struct {
	ID                int64
	Source            string
	GUID              string
	URL               string
	StableKey         string
	Title             string
	Summary           string
	TranslatedTitle   string
	TranslatedSummary string
	TranslationStatus TranslationStatus
	TranslationError  string
	TranslatedAt      *time.Time
	SourcePublishedAt *time.Time
	FetchedAt         time.Time
	Status            ItemStatus
	ReviewReason      string
	ScheduledFor      *time.Time
	PostID            *int64
	PostedAt          *time.Time
	ReviewedBy        string
	ReviewedAt        *time.Time
	ReviewNote        string
	LastError         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (i *FeedItem) HasPost() bool {
	return i.PostID != nil
}

// ItemContent is the feed-provided part of an item.
type ItemContent struct {
	GUID              string
	URL               string
	Title             string
	Summary           string
	SourcePublishedAt *time.Time
}

// FeedPost is the published output record of an item.
type FeedPost struct {
	ID                int64
	SourceName        string
	SourceUID         string
	Title             string
	Content           string
	SourceURL         string
	OriginalTitle     string
	OriginalSummary   string
	TranslatedTitle   string
	TranslatedSummary string
	SourcePublishedAt *time.Time
	ExpiresAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type RunCounters struct {
	ItemsNew         int `json:"items_new"`
	ItemsUpdated     int `json:"items_updated"`
	ItemsSkipped     int `json:"items_skipped"`
	ItemsDeleted     int `json:"items_deleted"`
	ItemsPublished   int `json:"items_published"`
	ItemsNeedsReview int `json:"items_needs_review"`
	ItemsPruned      int `json:"items_pruned"`
	PostsPruned      int `json:"posts_pruned"`
	Errors           int `json:"errors"`
}

// RunRecord audits one orchestrator run.
type RunRecord struct {
	ID         int64
	Source     string
	Trigger    string
	Status     RunStatus
	Message    string
	StartedAt  time.Time
	FinishedAt *time.Time
	DurationMs int64
	Counters   RunCounters
	Metadata   string
}

// ItemFilter narrows item listings. Zero values mean no restriction.
type ItemFilter struct {
	Source   string
	Statuses []ItemStatus
	Limit    int
	Offset   int
}
