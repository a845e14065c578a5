package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements the domain Metrics port on Prometheus.
type Recorder struct {
	observations *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	runStates    *prometheus.CounterVec
	lastPrice    prometheus.Gauge
	lateness     prometheus.Histogram
	latency      *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg means the default registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		observations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricesim_observations_total",
				Help: "Observations emitted, by interval",
			},
			[]string{"interval"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricesim_errors_total",
				Help: "Errors encountered, by kind",
			},
			[]string{"type"},
		),
		runStates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricesim_run_state_transitions_total",
				Help: "Run state transitions, by target state",
			},
			[]string{"state"},
		),
		lastPrice: f.NewGauge(prometheus.GaugeOpts{
			Name: "pricesim_last_price",
			Help: "Most recently emitted simulated price",
		}),
		lateness: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricesim_step_lateness_seconds",
			Help:    "How far past its deadline a step started",
			Buckets: []float64{0, .001, .005, .01, .05, .1, .25, .5, 1},
		}),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricesim_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordObservation(interval string, price float64) {
	r.observations.WithLabelValues(interval).Inc()
	r.lastPrice.Set(price)
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordRunState(state string) {
	r.runStates.WithLabelValues(state).Inc()
}

func (r *Recorder) RecordStepLateness(seconds float64) {
	r.lateness.Observe(seconds)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop satisfies the Metrics port and records nothing.
type Nop struct{}

func (Nop) RecordObservation(string, float64) {}
func (Nop) RecordError(string)                {}
func (Nop) RecordRunState(string)             {}
func (Nop) RecordStepLateness(float64)        {}
func (Nop) RecordLatency(string, float64)     {}
