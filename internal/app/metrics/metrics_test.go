package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTransitionIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(transitions.WithLabelValues("READY", "PUBLISHED", "false", "applied"))
	RecordTransition("READY", "PUBLISHED", false, "applied")
	after := testutil.ToFloat64(transitions.WithLabelValues("READY", "PUBLISHED", "false", "applied"))
	if after != before+1 {
		t.Fatalf("expected counter to grow by one, got %v -> %v", before, after)
	}
}

func TestSetSessionsByStatusResetsStaleLabels(t *testing.T) {
	SetSessionsByStatus(map[string]int{"DRAFT": 3, "READY": 1})
	SetSessionsByStatus(map[string]int{"DRAFT": 2})
	if got := testutil.CollectAndCount(sessionsByStatus); got != 1 {
		t.Fatalf("expected a single series after reset, got %d", got)
	}
	if v := testutil.ToFloat64(sessionsByStatus.WithLabelValues("DRAFT")); v != 2 {
		t.Fatalf("expected DRAFT=2, got %v", v)
	}
}

func TestHandlerExposesWorkflowMetrics(t *testing.T) {
	RecordHTTPRequest("get", "/sessions/{id}", http.StatusOK, 10*time.Millisecond)
	RecordSweep(0, true)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{
		"training_workflow_http_requests_total",
		"training_workflow_publishing_sweep_runs_total",
	} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected %s in metrics output", name)
		}
	}
}
