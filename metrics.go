package zipkintracer

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "zipkin_rawtracer"

// Metrics holds the counters maintained by a Tracer and its span map.
type Metrics struct {
	Records      prometheus.Counter
	SpansCreated prometheus.Counter
	SpansEvicted prometheus.Counter
	LateSpans    prometheus.Counter
	Submitted    prometheus.Counter
	Dropped      prometheus.Counter
	LiveSpans    prometheus.Gauge
}

// NewMetrics creates the tracer metrics and registers them on reg. A nil
// reg gets a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_total",
			Help:      "Number of records merged into spans.",
		}),
		SpansCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "spans_created_total",
			Help:      "Number of spans started by a first record.",
		}),
		SpansEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "spans_evicted_total",
			Help:      "Number of spans removed from the span map.",
		}),
		LateSpans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "late_spans_total",
			Help:      "Number of spans started for a recently evicted trace id.",
		}),
		Submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "spans_submitted_total",
			Help:      "Number of encoded spans accepted by the collector.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "spans_dropped_total",
			Help:      "Number of encoded spans lost to a collector error.",
		}),
		LiveSpans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "live_spans",
			Help:      "Number of spans waiting for their deadline.",
		}),
	}
	reg.MustRegister(
		m.Records,
		m.SpansCreated,
		m.SpansEvicted,
		m.LateSpans,
		m.Submitted,
		m.Dropped,
		m.LiveSpans,
	)
	return m
}
