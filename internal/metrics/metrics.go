// Package metrics exposes publish pipeline counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Archive outcomes.
const (
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
	OutcomeExisting  = "existing"
	OutcomeDropped   = "dropped"
)

// Relocation kinds.
const (
	RelocationBackup = "backup"
	RelocationError  = "error"
	RelocationInbox  = "inbox"
)

// Metrics records pipeline activity.
type Metrics interface {
	AddArchives(outcome string, n int)
	IncCycles()
	IncCyclesSkipped()
	ObserveBatchDuration(seconds float64)
	IncRelocationErrors(kind string)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) AddArchives(string, int)      {}
func (Noop) IncCycles()                   {}
func (Noop) IncCyclesSkipped()            {}
func (Noop) ObserveBatchDuration(float64) {}
func (Noop) IncRelocationErrors(string)   {}

// Prom implements Metrics backed by its own Prometheus registry.
type Prom struct {
	registry         *prometheus.Registry
	archives         *prometheus.CounterVec
	cycles           prometheus.Counter
	cyclesSkipped    prometheus.Counter
	batchDuration    prometheus.Histogram
	relocationErrors *prometheus.CounterVec
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		archives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archives_total",
			Help:      "Archives processed by outcome",
		}, []string{"outcome"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Publish cycles started",
		}),
		cyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_skipped_total",
			Help:      "Ticks dropped because a cycle was still running",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time spent publishing one batch directory",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		relocationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relocation_errors_total",
			Help:      "Failed moves by destination kind",
		}, []string{"kind"}),
	}
	p.registry.MustRegister(p.archives, p.cycles, p.cyclesSkipped, p.batchDuration, p.relocationErrors)
	return p
}

func (p *Prom) AddArchives(outcome string, n int) {
	if n > 0 {
		p.archives.WithLabelValues(outcome).Add(float64(n))
	}
}

func (p *Prom) IncCycles() {
	p.cycles.Inc()
}

func (p *Prom) IncCyclesSkipped() {
	p.cyclesSkipped.Inc()
}

func (p *Prom) ObserveBatchDuration(seconds float64) {
	p.batchDuration.Observe(seconds)
}

func (p *Prom) IncRelocationErrors(kind string) {
	p.relocationErrors.WithLabelValues(kind).Inc()
}

// Gatherer exposes the registry the metrics are kept in.
func (p *Prom) Gatherer() prometheus.Gatherer {
	return p.registry
}

// Handler returns an HTTP handler for /metrics.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
