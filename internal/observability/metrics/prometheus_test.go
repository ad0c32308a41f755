package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordAndExpose(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveReconcile("updated", "changed", 20*time.Millisecond)
	m.HistoryAppended("Started", "Doctor", 2)
	m.HistoryAppended("Modified", "Doctor", 0)
	m.ExtractionWarning("pastHistory")
	m.BreakerState("directory", 1)

	if got := testutil.ToFloat64(m.Reconciliations.WithLabelValues("updated", "changed")); got != 1 {
		t.Errorf("reconciliations = %v", got)
	}
	if got := testutil.ToFloat64(m.HistoryEvents.WithLabelValues("Started", "Doctor")); got != 2 {
		t.Errorf("history events = %v", got)
	}
	if got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("directory")); got != 1 {
		t.Errorf("breaker state = %v", got)
	}

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "medsched_extraction_warnings_total") {
		t.Error("expected extraction warnings in exposition")
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveReconcile("created", "changed", time.Second)
	m.HistoryAppended("Stopped", "User", 1)
	m.SetOutboxPending(3)
}
