package fetcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/retrieve-go/internal/batch"
)

// Metrics holds the Prometheus instruments updated by a Fetcher. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// fetchesTotal counts fetch attempts by outcome: "ok" or "error".
	fetchesTotal *prometheus.CounterVec
	// inFlight is the number of fetches currently running.
	inFlight prometheus.Gauge
	// batchesTotal counts send attempts by outcome: "ok" or "error".
	batchesTotal *prometheus.CounterVec
	// batchSize records the number of texts per sent batch.
	batchSize prometheus.Histogram
}

// NewMetrics registers fetcher metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		fetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retrieve",
			Subsystem: "fetch",
			Name:      "attempts_total",
			Help:      "Total number of document fetch attempts, partitioned by outcome.",
		}, []string{"outcome"}),

		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "retrieve",
			Subsystem: "fetch",
			Name:      "in_flight",
			Help:      "Number of document fetches currently in flight.",
		}),

		batchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retrieve",
			Subsystem: "fetch",
			Name:      "batches_total",
			Help:      "Total number of batch send attempts, partitioned by outcome.",
		}, []string{"outcome"}),

		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "retrieve",
			Subsystem: "fetch",
			Name:      "batch_size",
			Help:      "Number of texts per batch handed to the sender.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) fetchStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) fetchFinished(err error) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.fetchesTotal.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) batchFinished(b batch.Batch, err error) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(outcome(err)).Inc()
	m.batchSize.Observe(float64(b.Len()))
}
