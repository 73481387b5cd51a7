package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"upscaler/internal/domain"
)

func TestObserverCounters(t *testing.T) {
	m := New()
	opts := domain.UpscaleOptions{Resolution: domain.Resolution2x, Format: domain.FormatPNG}

	m.ValidationFailed(domain.ReasonTooLarge)
	m.Gated("resolution")
	m.Gated("resolution")
	m.JobStarted(opts)
	if got := testutil.ToFloat64(m.jobsInFlight); got != 1 {
		t.Fatalf("jobs in flight = %v, want 1", got)
	}
	m.JobFinished(opts, domain.JobStatusComplete, 3*time.Second)
	m.MirrorResult(domain.MirrorPending)

	if got := testutil.ToFloat64(m.validationFailures.WithLabelValues("too_large")); got != 1 {
		t.Fatalf("validation failures = %v", got)
	}
	if got := testutil.ToFloat64(m.gated.WithLabelValues("resolution")); got != 2 {
		t.Fatalf("gated = %v", got)
	}
	if got := testutil.ToFloat64(m.jobsInFlight); got != 0 {
		t.Fatalf("jobs in flight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.jobs.WithLabelValues("2x", "png", "complete")); got != 1 {
		t.Fatalf("jobs = %v", got)
	}
	if got := testutil.ToFloat64(m.mirrors.WithLabelValues("pending")); got != 1 {
		t.Fatalf("mirrors = %v", got)
	}
}

func TestInstrumentUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/abc", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/v1/jobs/{id}", "418")); got != 1 {
		t.Fatalf("requests = %v", got)
	}

	m.RegisterSessionGauge(func() int { return 7 })
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "upscaler_upscale_sessions 7") {
		t.Fatalf("metrics output missing session gauge")
	}
}
