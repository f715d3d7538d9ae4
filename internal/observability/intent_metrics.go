package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IntentCollector exposes metrics for the authority's intent pipeline.
type IntentCollector struct {
	gatherer prometheus.Gatherer

	IntentsTotal  *prometheus.CounterVec
	ApplyDuration prometheus.Histogram
	QueueDepth    prometheus.Gauge
	Forwarded     prometheus.Counter
}

// NewIntentCollector registers intent metrics against the provided registerer.
func NewIntentCollector(reg prometheus.Registerer) (*IntentCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	intents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authority_intents_total",
		Help: "Intents applied by the authority, labeled by kind and outcome (committed or rejected).",
	}, []string{"kind", "outcome"})
	intents, err := registerCounterVec(reg, intents, "authority_intents_total")
	if err != nil {
		return nil, err
	}

	apply := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "authority_intent_apply_duration_seconds",
		Help:    "Time spent applying a single intent on the dispatch goroutine.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
	apply, err = registerHistogram(reg, apply, "authority_intent_apply_duration_seconds")
	if err != nil {
		return nil, err
	}

	depth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "authority_intent_queue_depth",
		Help: "Number of intents queued for the authority and not yet applied.",
	})
	depth, err = registerGauge(reg, depth, "authority_intent_queue_depth")
	if err != nil {
		return nil, err
	}

	forwarded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proxy_intents_forwarded_total",
		Help: "Intents a proxy delivered to the authority.",
	})
	forwarded, err = registerCounter(reg, forwarded, "proxy_intents_forwarded_total")
	if err != nil {
		return nil, err
	}

	return &IntentCollector{
		gatherer:      gatherer,
		IntentsTotal:  intents,
		ApplyDuration: apply,
		QueueDepth:    depth,
		Forwarded:     forwarded,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *IntentCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// RecordIntent counts one applied intent.
func (c *IntentCollector) RecordIntent(kind, outcome string) {
	if c == nil || c.IntentsTotal == nil {
		return
	}
	c.IntentsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveApply records how long one intent took to apply.
func (c *IntentCollector) ObserveApply(d time.Duration) {
	if c == nil || c.ApplyDuration == nil {
		return
	}
	c.ApplyDuration.Observe(d.Seconds())
}

// SetQueueDepth updates the queue depth gauge.
func (c *IntentCollector) SetQueueDepth(n int) {
	if c == nil || c.QueueDepth == nil {
		return
	}
	if n < 0 {
		n = 0
	}
	c.QueueDepth.Set(float64(n))
}

// IncForwarded counts one intent delivered by a proxy.
func (c *IntentCollector) IncForwarded() {
	if c == nil || c.Forwarded == nil {
		return
	}
	c.Forwarded.Inc()
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
