// Package observability surfaces the pipeline's runtime counters and spans:
// Prometheus gauges/counters for lane, cache, and stage activity, OTel
// tracing spans around agent calls and pipeline stages, and a zerolog
// request logger for outbound source calls.
package observability

import (
	"context"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/rcliao/briefkg"

// Metrics holds every Prometheus collector the core exports.
type Metrics struct {
	LaneAdmissions  *prometheus.CounterVec
	LaneWaitSeconds *prometheus.HistogramVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	PapersIngested  prometheus.Counter
	PapersFailed    *prometheus.CounterVec
	InsightsEmitted prometheus.Counter
}

// NewMetrics builds and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LaneAdmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "briefkg", Name: "lane_admissions_total",
			Help: "Admissions per limiter lane.",
		}, []string{"lane"}),
		LaneWaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "briefkg", Name: "lane_wait_seconds",
			Help:    "Queue wait before lane admission.",
			Buckets: prometheus.DefBuckets,
		}, []string{"lane"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "briefkg", Name: "cache_hits_total",
			Help: "Cache hits per layer/artifact type.",
		}, []string{"layer", "artifact"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "briefkg", Name: "cache_misses_total",
			Help: "Cache misses per layer/artifact type.",
		}, []string{"layer", "artifact"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "briefkg", Name: "stage_duration_seconds",
			Help:    "Per-paper pipeline stage duration.",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		PapersIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "briefkg", Name: "papers_ingested_total",
			Help: "Papers fully ingested.",
		}),
		PapersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "briefkg", Name: "papers_failed_total",
			Help: "Paper-level failures per stage.",
		}, []string{"stage"}),
		InsightsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "briefkg", Name: "insights_emitted_total",
			Help: "Insights persisted by reasoning batches.",
		}),
	}
	reg.MustRegister(
		m.LaneAdmissions, m.LaneWaitSeconds,
		m.CacheHits, m.CacheMisses,
		m.StageDuration,
		m.PapersIngested, m.PapersFailed, m.InsightsEmitted,
	)
	return m
}

// ObserveStage records one stage's duration.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Tracer returns the module's OTel tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span named for a pipeline stage or agent call, tagging
// the paper id when present.
func StartSpan(ctx context.Context, name, paperID string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, name)
	if paperID != "" {
		span.SetAttributes(attribute.String("paper_id", paperID))
	}
	return ctx, span
}

// RequestLogger is the zerolog-backed access logger for outbound source and
// provider calls: one structured line per request with latency and status.
type RequestLogger struct {
	log zerolog.Logger
}

// NewRequestLogger writes JSON access lines to stderr.
func NewRequestLogger() *RequestLogger {
	return &RequestLogger{log: zerolog.New(os.Stderr).With().Timestamp().Str("component", "requests").Logger()}
}

// Request logs one outbound call.
func (r *RequestLogger) Request(source, operation string, d time.Duration, err error) {
	var ev *zerolog.Event
	if err != nil {
		ev = r.log.Warn().Err(err)
	} else {
		ev = r.log.Info()
	}
	ev.Str("source", source).Str("operation", operation).Dur("latency", d).Msg("outbound request")
}
