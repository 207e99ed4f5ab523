// Package metrics counts what a fulfillment run did and pushes the counts to a
// Prometheus Pushgateway once the run ends.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "gis_fulfillment"

// Request outcomes.
const (
	OutcomeFulfilled = "fulfilled"
	OutcomePartial   = "partial"
	OutcomeSkipped   = "skipped"
	OutcomeInvalid   = "invalid"
)

// Recorder holds one run's counters on a private registry, so runs in the same process
// never share state.
type Recorder struct {
	registry         *prometheus.Registry
	requests         *prometheus.CounterVec
	documentsCopied  prometheus.Counter
	documentsMissing prometheus.Counter
	layersExported   prometheus.Counter
	layersSkipped    prometheus.Counter
	ledgerEntries    prometheus.Counter
}

// NewRecorder registers a fresh set of collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests processed, by outcome.",
		}, []string{"outcome"}),
		documentsCopied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_copied_total",
			Help:      "Record documents copied into request folders.",
		}),
		documentsMissing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_missing_total",
			Help:      "Expected record documents absent from the source root.",
		}),
		layersExported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layers_exported_total",
			Help:      "Layers clipped and exported.",
		}),
		layersSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layers_skipped_total",
			Help:      "Layers skipped after a failure.",
		}),
		ledgerEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_entries_total",
			Help:      "Errors recorded in the run ledger.",
		}),
	}
	r.registry.MustRegister(r.requests, r.documentsCopied, r.documentsMissing, r.layersExported, r.layersSkipped, r.ledgerEntries)
	return r
}

func (r *Recorder) Request(outcome string) { r.requests.WithLabelValues(outcome).Inc() }
func (r *Recorder) DocumentsCopied(n int) { r.documentsCopied.Add(float64(n)) }
func (r *Recorder) DocumentsMissing(n int) { r.documentsMissing.Add(float64(n)) }
func (r *Recorder) LayersExported(n int) { r.layersExported.Add(float64(n)) }
func (r *Recorder) LayersSkipped(n int) { r.layersSkipped.Add(float64(n)) }
func (r *Recorder) LedgerEntries(n int) { r.ledgerEntries.Add(float64(n)) }

// Gatherer exposes the run registry.
func (r *Recorder) Gatherer() prometheus.Gatherer { return r.registry }

// Push sends the run's counters to the gateway under job, grouped by run id. An empty
// url disables pushing.
func (r *Recorder) Push(ctx context.Context, url, job, runID string) error {
	if url == "" {
		return nil
	}
	err := push.New(url, job).
		Gatherer(r.registry).
		Grouping("run_id", runID).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
