package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StreamMetrics tracks websocket observation streams.
type StreamMetrics struct {
	Active prometheus.Gauge
	Frames *prometheus.CounterVec
	Drops  prometheus.Counter
}

var (
	mu    sync.Mutex
	byReg = map[prometheus.Registerer]*StreamMetrics{}
)

// ForRegisterer returns the stream collectors registered on reg, creating
// them on first use. A nil reg means the default registry.
func ForRegisterer(reg prometheus.Registerer) *StreamMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	mu.Lock()
	defer mu.Unlock()
	if m, ok := byReg[reg]; ok {
		return m
	}
	f := promauto.With(reg)
	m := &StreamMetrics{
		Active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "pricesim",
			Subsystem: "stream",
			Name:      "active",
			Help:      "Open websocket observation streams",
		}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricesim",
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Frames written to observation streams",
		}, []string{"kind"}),
		Drops: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pricesim",
			Subsystem: "stream",
			Name:      "write_errors_total",
			Help:      "Streams closed because a write failed",
		}),
	}
	byReg[reg] = m
	return m
}
