package store

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes checkpoint cache activity as Prometheus counters.
type Metrics struct {
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns metrics registered with the global registry.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the cache collectors with reg. Collectors already
// registered under the same name are reused.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	newCounter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "checkpoint_cache",
			Name:      name,
			Help:      help,
		})
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return already.ExistingCollector.(prometheus.Counter)
			}
			panic(err)
		}
		return c
	}

	return &Metrics{
		cacheHits:      newCounter("hits_total", "Checkpoint lookups served from the in-process cache."),
		cacheMisses:    newCounter("misses_total", "Checkpoint lookups that fell through to durable storage."),
		cacheEvictions: newCounter("evictions_total", "Checkpoint cache entries removed by size or TTL bounds."),
	}
}

func (m *Metrics) hit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) evicted() {
	if m != nil {
		m.cacheEvictions.Inc()
	}
}
