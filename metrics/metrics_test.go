package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()

	m.RecordFetched("GASGOO", 10)
	m.RecordMatched("GASGOO", "ALIAS")
	m.RecordMatched("GASGOO", "ALIAS")
	m.RecordDropped("GASGOO")
	m.RecordWritten("sales", "GASGOO", 2)
	m.SyncFinished("SALES", "PARTIAL", 3*time.Second)

	if got := testutil.ToFloat64(m.recordsFetched.WithLabelValues("GASGOO")); got != 10 {
		t.Errorf("fetched = %v", got)
	}
	if got := testutil.ToFloat64(m.recordsMatched.WithLabelValues("GASGOO", "ALIAS")); got != 2 {
		t.Errorf("matched = %v", got)
	}
	if got := testutil.ToFloat64(m.syncRuns.WithLabelValues("SALES", "PARTIAL")); got != 1 {
		t.Errorf("runs = %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.CacheLookup("market", true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `evsales_analytics_cache_lookups_total{kind="market",result="hit"} 1`) {
		t.Error("cache lookup counter missing from exposition")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordFetched("X", 1)
	m.WindowFailed("X")
	m.SyncFinished("SALES", "SUCCESS", time.Second)
	m.CacheLookup("x", false)
	m.ModelClassified("TABLE")
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}
