package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCollectors(t *testing.T) {
	MustRegister()
	MustRegister()

	Reports.WithLabelValues("completed").Inc()
	CacheRequests.WithLabelValues("hit").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{
		`logsentinel_reports_total{status="completed"}`,
		`logsentinel_cache_requests_total{result="hit"}`,
		"logsentinel_workers_busy",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
