package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchSuccess()
	c.RecordFetchSuccess()
	c.RecordFetchFailure("transport")
	c.RecordFetchFailure("transport")
	c.RecordFetchFailure("parse")
	c.RecordPostsIngested(5)
	c.RecordPostsDuplicate(3)
	c.RecordTickSkipped()
	c.SetScheduledJobs(4)

	if got := testutil.ToFloat64(c.fetchSuccess); got != 2 {
		t.Errorf("fetch_success_total = %f, want 2", got)
	}
	if got := testutil.ToFloat64(c.fetchFail.WithLabelValues("transport")); got != 2 {
		t.Errorf("fetch_fail_total{reason=transport} = %f, want 2", got)
	}
	if got := testutil.ToFloat64(c.fetchFail.WithLabelValues("parse")); got != 1 {
		t.Errorf("fetch_fail_total{reason=parse} = %f, want 1", got)
	}
	if got := testutil.ToFloat64(c.postsIngested); got != 5 {
		t.Errorf("posts_ingested_total = %f, want 5", got)
	}
	if got := testutil.ToFloat64(c.postsDuplicate); got != 3 {
		t.Errorf("posts_duplicate_total = %f, want 3", got)
	}
	if got := testutil.ToFloat64(c.tickSkipped); got != 1 {
		t.Errorf("tick_skipped_total = %f, want 1", got)
	}
	if got := testutil.ToFloat64(c.scheduledJobs); got != 4 {
		t.Errorf("scheduled_jobs = %f, want 4", got)
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchSuccess()
	c.RecordFetchLatency(150 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	for _, metric := range []string{
		"nitterpost_fetch_success_total 1",
		"nitterpost_fetch_latency_seconds_count 1",
		"nitterpost_scheduled_jobs 0",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("メトリクス出力に %q が含まれない", metric)
		}
	}
}
