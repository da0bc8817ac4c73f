package pipeline

import (
	"time"

	"github.com/lysyi3m/astrobot/app/database"
	"github.com/lysyi3m/astrobot/app/lock"
)

type Options struct {
	Configs    ConfigProvider
	Fetcher    Fetcher
	Translator Translator
	Dispatcher Dispatcher
	Items      database.ItemRepository
	Posts      database.PostRepository
	Runs       database.RunRepository
	Tx         database.TxRunner
	Locker     lock.Locker
	LockTTL    time.Duration
	Clock      Clock
	Metrics    Metrics
}

// Pipeline groups the components that share one set of repositories.
type Pipeline struct {
	Orchestrator *Orchestrator
	Publisher    *Publisher
	Translation  *TranslationPipeline
}

func New(opts Options) *Pipeline {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}

	publisher := NewPublisher(opts.Tx, opts.Items, opts.Configs, opts.Clock, opts.Metrics)

	orchestrator := &Orchestrator{
		configs:    opts.Configs,
		fetcher:    opts.Fetcher,
		ingestor:   NewIngestor(opts.Items, opts.Dispatcher, opts.Clock),
		evaluator:  NewEvaluator(opts.Items, publisher, opts.Clock),
		publisher:  publisher,
		pruner:     NewPruner(opts.Items, opts.Posts, opts.Clock),
		items:      opts.Items,
		runs:       opts.Runs,
		dispatcher: opts.Dispatcher,
		locker:     opts.Locker,
		lockTTL:    opts.LockTTL,
		clock:      opts.Clock,
		metrics:    opts.Metrics,
	}

	return &Pipeline{
		Orchestrator: orchestrator,
		Publisher:    publisher,
		Translation:  NewTranslationPipeline(opts.Items, opts.Translator, opts.Clock, opts.Metrics),
	}
}
