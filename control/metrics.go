// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for system-level monitoring.
// Counters and gauges are registered lazily by name and exported through a
// private Prometheus registry.

package control

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRegistry holds named counters and gauges.
type MetricsRegistry struct {
	mu        sync.RWMutex
	namespace string
	reg       *prometheus.Registry
	counters  map[string]prometheus.Counter
	gauges    map[string]prometheus.Gauge
	values    map[string]float64
	updated   time.Time
}

// NewMetricsRegistry creates an empty registry; every metric name is
// prefixed with namespace.
func NewMetricsRegistry(namespace string) *MetricsRegistry {
	return &MetricsRegistry{
		namespace: namespace,
		reg:       prometheus.NewRegistry(),
		counters:  make(map[string]prometheus.Counter),
		gauges:    make(map[string]prometheus.Gauge),
		values:    make(map[string]float64),
	}
}

// Inc increments the counter key.
func (mr *MetricsRegistry) Inc(key string) {
	if mr == nil {
		return
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	c, ok := mr.counters[key]
	if !ok {
		c = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: mr.namespace,
			Name:      metricName(key),
			Help:      "Counter " + key + ".",
		})
		mr.reg.MustRegister(c)
		mr.counters[key] = c
	}
	c.Inc()
	mr.values[key]++
	mr.updated = time.Now()
}

// Set sets or updates the gauge key.
func (mr *MetricsRegistry) Set(key string, value float64) {
	if mr == nil {
		return
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	g, ok := mr.gauges[key]
	if !ok {
		g = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: mr.namespace,
			Name:      metricName(key),
			Help:      "Gauge " + key + ".",
		})
		mr.reg.MustRegister(g)
		mr.gauges[key] = g
	}
	g.Set(value)
	mr.values[key] = value
	mr.updated = time.Now()
}

// GetSnapshot returns the latest metric values.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.values))
	for k, v := range mr.values {
		out[k] = v
	}
	return out
}

// Handler serves the registry in the Prometheus exposition format.
func (mr *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(mr.reg, promhttp.HandlerOpts{Registry: mr.reg})
}

func metricName(key string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(key)
}
