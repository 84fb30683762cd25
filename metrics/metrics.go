// Package metrics bundles the Prometheus collectors shared by the pipeline stages.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for one pipeline run. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	Registry           *prometheus.Registry
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    prometheus.Histogram
	RetriesTotal       prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec
	PagesTotal         prometheus.Counter
	ItemsHarvested     prometheus.Counter
	RateLimitRemaining prometheus.Gauge
	FetchesTotal       *prometheus.CounterVec
	ItemsTotal         *prometheus.CounterVec
	StageFailures      *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repometrics_requests_total",
			Help: "Remote listing requests by outcome.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "repometrics_request_duration_seconds",
			Help:    "Latency of remote listing requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "repometrics_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repometrics_errors_total",
			Help: "Remote request errors by type.",
		},
		[]string{"error_type"},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "repometrics_pages_total",
			Help: "Listing pages harvested.",
		},
	)
	harvested := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "repometrics_items_harvested_total",
			Help: "Item descriptors accepted by the harvester.",
		},
	)
	remaining := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "repometrics_rate_limit_remaining",
			Help: "Remaining quota reported by the remote after the last page.",
		},
	)
	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repometrics_fetches_total",
			Help: "Artifact fetches by result (cached, fetched, failed).",
		},
		[]string{"result"},
	)
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repometrics_items_total",
			Help: "Items finished by the orchestrator by result.",
		},
		[]string{"result"},
	)
	stageFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repometrics_stage_failures_total",
			Help: "Per-item failures by pipeline stage.",
		},
		[]string{"stage"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repometrics_stage_duration_seconds",
			Help:    "Time spent per item in each pipeline stage.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 900},
		},
		[]string{"stage"},
	)

	registry.MustRegister(requests, requestDuration, retries, errorsTotal, pages, harvested,
		remaining, fetches, items, stageFailures, stageDuration)

	return &Metrics{
		Registry:           registry,
		RequestsTotal:      requests,
		RequestDuration:    requestDuration,
		RetriesTotal:       retries,
		ErrorsTotal:        errorsTotal,
		PagesTotal:         pages,
		ItemsHarvested:     harvested,
		RateLimitRemaining: remaining,
		FetchesTotal:       fetches,
		ItemsTotal:         items,
		StageFailures:      stageFailures,
		StageDuration:      stageDuration,
	}
}

// IncRequest increments the requests counter for an outcome label.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records a remote request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// ObservePage records one harvested page and the items it contributed.
func (m *Metrics) ObservePage(accepted int) {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
	m.ItemsHarvested.Add(float64(accepted))
}

// SetRateLimitRemaining records the remote's remaining quota.
func (m *Metrics) SetRateLimitRemaining(remaining int) {
	if m == nil {
		return
	}
	m.RateLimitRemaining.Set(float64(remaining))
}

// IncFetch increments the fetch counter for a result label.
func (m *Metrics) IncFetch(result string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(result).Inc()
}

// IncItem increments the finished items counter for a result label.
func (m *Metrics) IncItem(result string) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(result).Inc()
}

// IncStageFailure increments the failure counter for a stage.
func (m *Metrics) IncStageFailure(stage string) {
	if m == nil {
		return
	}
	m.StageFailures.WithLabelValues(stage).Inc()
}

// ObserveStage records the time one item spent in a stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// WriteTextfile exports the registry in the node exporter textfile format.
func (m *Metrics) WriteTextfile(filename string) error {
	if m == nil || filename == "" {
		return nil
	}
	if dir := filepath.Dir(filename); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create metrics directory %q: %w", dir, err)
		}
	}
	if err := prometheus.WriteToTextfile(filename, m.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
