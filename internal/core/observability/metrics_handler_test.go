package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func scrape(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandler_Smoke(t *testing.T) {
	ObserveHTTP("GET", "/processes", 200, 0.001)

	body := scrape(t)
	if !strings.Contains(body, "http_request_duration_seconds") || !strings.Contains(body, "http_requests_total") {
		t.Fatalf("metrics payload did not contain expected metric names; got:\n%s", body)
	}
}

func TestDomainMetrics_Labels(t *testing.T) {
	ObserveObs("midas-open", "ok", 48, 1, 0.02)
	ObserveProcess("windrose-generator", "dependency-unavailable", 0.1)
	SetRuntimeAvailable("rscript", false)
	notFound := errors.New("not found")
	ObserveStoreOp("memory", "get", notFound, 0.0001, notFound)
	IncJobEvent("dropped")

	body := scrape(t)
	for _, want := range []string{
		`obs_queries_total{family="midas-open",outcome="ok"} `,
		`obs_records_skipped_total{family="midas-open"} `,
		`process_executions_total{outcome="dependency-unavailable",process="windrose-generator"} `,
		`runtime_available{runtime="rscript"} 0`,
		`job_store_op_duration_seconds_bucket{backend="memory",op="get",result="miss"`,
		`job_events_total{outcome="dropped"} `,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}
