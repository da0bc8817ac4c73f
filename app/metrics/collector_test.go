package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lysyi3m/astrobot/app/database"
)

func TestCollectorObserveRun(t *testing.T) {
	c := NewCollector()

	c.ObserveRun("nasa", database.RunSuccess, 2*time.Second, database.RunCounters{
		ItemsNew:       3,
		ItemsPublished: 2,
		PostsPruned:    1,
	})
	c.ObserveRun("nasa", database.RunSkipped, 0, database.RunCounters{})

	if got := testutil.ToFloat64(c.runsTotal.WithLabelValues("nasa", "success")); got != 1 {
		t.Errorf("Expected 1 successful run, got %v", got)
	}
	if got := testutil.ToFloat64(c.runsTotal.WithLabelValues("nasa", "skipped")); got != 1 {
		t.Errorf("Expected 1 skipped run, got %v", got)
	}
	if got := testutil.ToFloat64(c.itemsTotal.WithLabelValues("nasa", "new")); got != 3 {
		t.Errorf("Expected 3 new items, got %v", got)
	}
	if got := testutil.ToFloat64(c.itemsTotal.WithLabelValues("nasa", "published")); got != 2 {
		t.Errorf("Expected 2 published items, got %v", got)
	}
	if got := testutil.ToFloat64(c.prunedTotal.WithLabelValues("nasa", "post")); got != 1 {
		t.Errorf("Expected 1 pruned post, got %v", got)
	}
	if got := testutil.ToFloat64(c.lastSuccessAt.WithLabelValues("nasa")); got == 0 {
		t.Error("Expected last success timestamp to be set")
	}
}

func TestCollectorTranslationsAndPublications(t *testing.T) {
	c := NewCollector()

	c.ObserveTranslation(database.TranslationDone)
	c.ObserveTranslation(database.TranslationFailed)
	c.ObserveTranslation(database.TranslationFailed)
	c.ObservePublish("auto", nil)
	c.ObservePublish("schedule", errors.New("boom"))

	if got := testutil.ToFloat64(c.translations.WithLabelValues("failed")); got != 2 {
		t.Errorf("Expected 2 failed translations, got %v", got)
	}
	if got := testutil.ToFloat64(c.publications.WithLabelValues("auto", "success")); got != 1 {
		t.Errorf("Expected 1 auto publication, got %v", got)
	}
	if got := testutil.ToFloat64(c.publications.WithLabelValues("schedule", "error")); got != 1 {
		t.Errorf("Expected 1 failed scheduled publication, got %v", got)
	}
}

func TestCollectorHandler(t *testing.T) {
	c := NewCollector()
	c.ObservePublish("manual", nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "astrobot_publications_total") {
		t.Error("Expected exposition to include astrobot_publications_total")
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("Expected exposition to include Go runtime metrics")
	}
}
