package telemetry

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordCacheLookup("text", true)
	m.RecordLLMCall("openai", "gpt-4-0613", time.Second, nil)
	m.RecordRetry("openai")
	m.RecordTokens("openai", 1, 2)
	m.RecordDispatch("reply", nil)
	m.RecordOCR(errors.New("boom"))
	m.RecordAction("checkAnswer", time.Millisecond, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("expected 404 from nil metrics handler, got %d", rec.Code)
	}
}

func TestRecordCacheLookup(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCacheLookup("structured", true)
	m.RecordCacheLookup("structured", true)
	m.RecordCacheLookup("text", false)

	if got := testutil.ToFloat64(m.CacheHits.WithLabelValues("structured")); got != 2 {
		t.Errorf("expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(m.CacheMisses.WithLabelValues("text")); got != 1 {
		t.Errorf("expected 1 miss, got %v", got)
	}
}

func TestRecordDispatchStatus(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordDispatch("evaluateCorrectness", nil)
	m.RecordDispatch("evaluateCorrectness", errors.New("bad args"))

	if got := testutil.ToFloat64(m.Dispatches.WithLabelValues("evaluateCorrectness", StatusOK)); got != 1 {
		t.Errorf("expected 1 ok dispatch, got %v", got)
	}
	if got := testutil.ToFloat64(m.Dispatches.WithLabelValues("evaluateCorrectness", StatusError)); got != 1 {
		t.Errorf("expected 1 failed dispatch, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordAction("generateQuestions", 2*time.Second, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `tutor_actions_total{status="ok",type="generateQuestions"} 1`) {
		t.Errorf("expected action counter in output:\n%s", body)
	}
}
