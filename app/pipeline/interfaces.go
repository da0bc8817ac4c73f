package pipeline

import (
	"context"
	"time"

	"github.com/lysyi3m/astrobot/app/database"
	"github.com/lysyi3m/astrobot/app/feed"
)

type ConfigProvider interface {
	GetConfig(name string) (*feed.Config, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, feedConfig *feed.Config) (*feed.FetchResult, error)
}

type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Dispatcher queues an item for translation. Delivery is at least once.
type Dispatcher interface {
	DispatchTranslation(itemID int64) error
}

type DispatcherFunc func(itemID int64) error

func (f DispatcherFunc) DispatchTranslation(itemID int64) error {
	return f(itemID)
}

type Metrics interface {
	ObserveRun(source string, status database.RunStatus, duration time.Duration, counters database.RunCounters)
	ObserveTranslation(status database.TranslationStatus)
	ObservePublish(trigger string, err error)
}

type nopMetrics struct{}

func (nopMetrics) ObserveRun(string, database.RunStatus, time.Duration, database.RunCounters) {}
func (nopMetrics) ObserveTranslation(database.TranslationStatus)                           {}
func (nopMetrics) ObservePublish(string, error)                                             {}
