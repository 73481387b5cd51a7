package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"upscaler/internal/domain"
	"upscaler/internal/upscale"
)

const namespace = "upscaler"

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	validationFailures *prometheus.CounterVec
	gated              *prometheus.CounterVec
	jobsInFlight       prometheus.Gauge
	jobs               *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	mirrors            *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"method", "route"}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upscale",
			Name:      "validation_failures_total",
			Help:      "Uploads rejected before any remote call.",
		}, []string{"reason"}),
		gated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upscale",
			Name:      "paywall_signals_total",
			Help:      "Option choices that raised the paywall.",
		}, []string{"option"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upscale",
			Name:      "jobs_inflight",
			Help:      "Jobs waiting on the inference service.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upscale",
			Name:      "jobs_total",
			Help:      "Finished upscale jobs.",
		}, []string{"resolution", "format", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upscale",
			Name:      "job_duration_seconds",
			Help:      "Time from submit to terminal state.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		}, []string{"status"}),
		mirrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "mirrors_total",
			Help:      "Result copies into blob storage.",
		}, []string{"status"}),
	}
	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.validationFailures,
		m.gated,
		m.jobsInFlight,
		m.jobs,
		m.jobDuration,
		m.mirrors,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Instrument records request counts and latency keyed by chi route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// RegisterSessionGauge exports the live session count.
func (m *Metrics) RegisterSessionGauge(count func() int) {
	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "upscale",
		Name:      "sessions",
		Help:      "Live upscale sessions.",
	}, func() float64 { return float64(count()) }))
}

func (m *Metrics) ValidationFailed(reason domain.ValidationReason) {
	m.validationFailures.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) Gated(option string) {
	m.gated.WithLabelValues(option).Inc()
}

func (m *Metrics) JobStarted(domain.UpscaleOptions) {
	m.jobsInFlight.Inc()
}

func (m *Metrics) JobFinished(opts domain.UpscaleOptions, status domain.JobStatus, elapsed time.Duration) {
	m.jobsInFlight.Dec()
	m.jobs.WithLabelValues(string(opts.Resolution), string(opts.Format), string(status)).Inc()
	m.jobDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

// MirrorResult counts a result copy attempt by outcome.
func (m *Metrics) MirrorResult(status domain.MirrorStatus) {
	m.mirrors.WithLabelValues(string(status)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

var _ upscale.Observer = (*Metrics)(nil)
