package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lysyi3m/astrobot/app/database"
	"github.com/lysyi3m/astrobot/app/pipeline"
)

const namespace = "astrobot"

var _ pipeline.Metrics = (*Collector)(nil)

// Collector holds the pipeline metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	itemsTotal    *prometheus.CounterVec
	prunedTotal   *prometheus.CounterVec
	translations  *prometheus.CounterVec
	publications  *prometheus.CounterVec
	lastSuccessAt *prometheus.GaugeVec
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Total sync runs by source and final status",
		}, []string{"source", "status"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_run_duration_seconds",
			Help:      "Duration of sync runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"source"}),
		itemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Feed items processed by sync runs, by result",
		}, []string{"source", "result"}), // new, updated, skipped, deleted, published, needs_review, error
		prunedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_total",
			Help:      "Records removed by retention",
		}, []string{"source", "kind"}),
		translations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translations_total",
			Help:      "Translation attempts by outcome",
		}, []string{"status"}),
		publications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publications_total",
			Help:      "Publish attempts by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		lastSuccessAt: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful sync",
		}, []string{"source"}),
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ObserveRun(source string, status database.RunStatus, duration time.Duration, counters database.RunCounters) {
	c.runsTotal.WithLabelValues(source, string(status)).Inc()

	if status == database.RunSkipped {
		return
	}

	c.runDuration.WithLabelValues(source).Observe(duration.Seconds())

	results := map[string]int{
		"new":          counters.ItemsNew,
		"updated":      counters.ItemsUpdated,
		"skipped":      counters.ItemsSkipped,
		"deleted":      counters.ItemsDeleted,
		"published":    counters.ItemsPublished,
		"needs_review": counters.ItemsNeedsReview,
		"error":        counters.Errors,
	}
	for result, n := range results {
		c.itemsTotal.WithLabelValues(source, result).Add(float64(n))
	}

	c.prunedTotal.WithLabelValues(source, "item").Add(float64(counters.ItemsPruned))
	c.prunedTotal.WithLabelValues(source, "post").Add(float64(counters.PostsPruned))

	if status == database.RunSuccess {
		c.lastSuccessAt.WithLabelValues(source).SetToCurrentTime()
	}
}

func (c *Collector) ObserveTranslation(status database.TranslationStatus) {
	c.translations.WithLabelValues(string(status)).Inc()
}

func (c *Collector) ObservePublish(trigger string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.publications.WithLabelValues(trigger, outcome).Inc()
}
