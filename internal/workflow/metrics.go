package workflow

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Turn outcomes recorded by Metrics.
const (
	outcomePersisted = "persisted"
	outcomeDegraded  = "degraded"
	outcomeFailed    = "failed"
)

// Metrics tracks stage latency and turn outcomes.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	turns         *prometheus.CounterVec
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

// MustNewMetrics registers the workflow collectors with reg.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tutor",
		Subsystem: "workflow",
		Name:      "stage_duration_seconds",
		Help:      "Time spent in each pipeline stage.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10, 30},
	}, []string{"stage"})
	turns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tutor",
		Subsystem: "workflow",
		Name:      "turns_total",
		Help:      "Completed turns by persistence outcome.",
	}, []string{"outcome"})

	return &Metrics{
		stageDuration: register(reg, stageDuration),
		turns:         register(reg, turns),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector.(C)
		}
		panic(err)
	}
	return c
}

func (m *Metrics) observeStage(stage string, d time.Duration) {
	if m != nil {
		m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

func (m *Metrics) turn(outcome string) {
	if m != nil {
		m.turns.WithLabelValues(outcome).Inc()
	}
}
