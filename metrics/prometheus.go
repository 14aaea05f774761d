package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder registers one counter vec and one latency histogram
// under the permapay namespace.
type PrometheusRecorder struct {
	counters  *prometheus.CounterVec
	histogram *prometheus.HistogramVec
}

func NewPrometheusRecorder() Recorder {
	counters := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "permapay",
			Name:      "events_total",
			Help:      "permapay event counters",
		},
		[]string{"type", "chain_type"},
	)

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "permapay",
			Name:      "latency_seconds",
			Help:      "permapay operation latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "chain_type"},
	)

	prometheus.MustRegister(counters, histogram)

	return &PrometheusRecorder{
		counters:  counters,
		histogram: histogram,
	}
}

func (p *PrometheusRecorder) IncCounter(name string, labels map[string]string) {
	p.counters.With(prometheus.Labels{
		"type":       name,
		"chain_type": labels["chain_type"],
	}).Inc()
}

func (p *PrometheusRecorder) ObserveLatency(name string, d time.Duration, labels map[string]string) {
	p.histogram.With(prometheus.Labels{
		"operation":  name,
		"chain_type": labels["chain_type"],
	}).Observe(d.Seconds())
}
