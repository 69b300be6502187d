package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "billing"

var HistogramBuckets = []float64{
	// fast responses (0 - 500ms)
	25, 50, 75, 100, 150, 200, 300, 400, 500,
	// medium (500ms - 2s)
	750, 1000, 1250, 1500, 1750, 2000,
	// slow (2s - 15s), gateway calls live here when degraded
	2500, 3000, 4000, 5000, 7500, 10000, 15000,
}

// Metric is a definition for the name, description, type and labels of a
// prometheus.Collector (i.e. CounterVec, HistogramVec, GaugeVec).
type Metric struct {
	MetricCollector prometheus.Collector
	Name            string
	Description     string
	Type            string
	Args            []string
}

// NewMetric associates prometheus.Collector based on Metric.Type
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	var metric prometheus.Collector
	switch m.Type {
	case "counter_vec":
		metric = prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: m.Name, Help: m.Description},
			m.Args,
		)
	case "counter":
		metric = prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: m.Name, Help: m.Description},
		)
	case "gauge_vec":
		metric = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: m.Name, Help: m.Description},
			m.Args,
		)
	case "histogram_vec":
		metric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Subsystem: subsystem, Name: m.Name, Help: m.Description, Buckets: HistogramBuckets},
			m.Args,
		)
	}
	m.MetricCollector = metric
	return metric
}

// register registers c with the default registry, reusing an already
// registered collector of the same description.
func register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

var (
	webhookEvents = register(NewMetric(&Metric{
		Name:        "events_total",
		Description: "Inbound webhook notifications by normalized type and outcome.",
		Type:        "counter_vec",
		Args:        []string{"type", "outcome"},
	}, "webhook").(*prometheus.CounterVec))

	lockFailOpen = register(NewMetric(&Metric{
		Name:        "lock_fail_open_total",
		Description: "Webhook events processed without a lock because the lock store was unreachable.",
		Type:        "counter",
	}, "webhook").(prometheus.Counter))

	renewals = register(NewMetric(&Metric{
		Name:        "attempts_total",
		Description: "Renewal attempts by outcome.",
		Type:        "counter_vec",
		Args:        []string{"outcome"},
	}, "renewal").(*prometheus.CounterVec))

	transitions = register(NewMetric(&Metric{
		Name:        "transitions_total",
		Description: "Committed subscription transitions by reason and target status.",
		Type:        "counter_vec",
		Args:        []string{"reason", "to"},
	}, "subscription").(*prometheus.CounterVec))

	breakerState = register(NewMetric(&Metric{
		Name:        "breaker_state",
		Description: "Gateway circuit breaker state (0 closed, 1 half-open, 2 open).",
		Type:        "gauge_vec",
		Args:        []string{"name"},
	}, "gateway").(*prometheus.GaugeVec))
)

func ObserveWebhook(eventType, outcome string) {
	webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func IncLockFailOpen() { lockFailOpen.Inc() }

func ObserveRenewal(outcome string) {
	renewals.WithLabelValues(outcome).Inc()
}

func ObserveTransition(reason, to string) {
	transitions.WithLabelValues(reason, to).Inc()
}

func SetBreakerState(name string, state float64) {
	breakerState.WithLabelValues(name).Set(state)
}
