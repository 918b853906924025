// Package telemetry collects local sync metrics. Nothing leaves the process
// unless metrics exposition is explicitly enabled in config.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kimhsiao/fitsync/internal/logging"
)

const metricsNamespace = "fitsync"

// Metrics is a prometheus.Collector for sync and upload activity. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	pushedItems   *prometheus.CounterVec
	pulledChanges *prometheus.CounterVec
	assetAttempts *prometheus.CounterVec
}

// New returns Metrics registered on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sync_cycles_total",
				Help:      "Sync cycles by final state.",
			}, []string{"result"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "sync_cycle_seconds",
				Help:      "Wall time of a sync cycle.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		pushedItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "pushed_items_total",
				Help:      "Pushed records by collection and server outcome.",
			}, []string{"collection", "outcome"},
		),
		pulledChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "pulled_changes_total",
				Help:      "Pulled changes by collection and resolution.",
			}, []string{"collection", "resolution"},
		),
		assetAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "asset_upload_attempts_total",
				Help:      "Asset upload attempts by outcome.",
			}, []string{"outcome"},
		),
	}
	m.registry.MustRegister(m)
	return m
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.cycles.Describe(ch)
	m.cycleDuration.Describe(ch)
	m.pushedItems.Describe(ch)
	m.pulledChanges.Describe(ch)
	m.assetAttempts.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.cycles.Collect(ch)
	m.cycleDuration.Collect(ch)
	m.pushedItems.Collect(ch)
	m.pulledChanges.Collect(ch)
	m.assetAttempts.Collect(ch)
}

// CycleFinished records one sync cycle.
func (m *Metrics) CycleFinished(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(took.Seconds())
}

// ItemPushed records one per-item push outcome.
func (m *Metrics) ItemPushed(collection, outcome string) {
	if m == nil {
		return
	}
	m.pushedItems.WithLabelValues(collection, outcome).Inc()
}

// ChangePulled records how one pulled change was resolved.
func (m *Metrics) ChangePulled(collection, resolution string) {
	if m == nil {
		return
	}
	m.pulledChanges.WithLabelValues(collection, resolution).Inc()
}

// AssetAttempt records one upload attempt.
func (m *Metrics) AssetAttempt(outcome string) {
	if m == nil {
		return
	}
	m.assetAttempts.WithLabelValues(outcome).Inc()
}

// Gatherer exposes the private registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("metrics endpoint listening", map[string]interface{}{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
