package ua

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Категории сущностей для метки kind
const (
	kindProfile      = "profile"
	kindRegistration = "registration"
	kindSubscription = "subscription"
	kindPublication  = "publication"
)

// Metrics собирает и экспортирует метрики пользовательского агента.
//
// Все коллекторы регистрируются на переданном prometheus.Registerer;
// nil означает приватный реестр, что удобно в тестах, где создается
// несколько агентов в одном процессе. Методы безопасны для nil-получателя.
type Metrics struct {
	queueDepth       prometheus.Gauge
	commandsPosted   prometheus.Counter
	commandsExecuted prometheus.Counter
	commandsFailed   *prometheus.CounterVec
	commandPanics    prometheus.Counter
	commandDuration  prometheus.Histogram
	entitiesActive   *prometheus.GaugeVec
	forcedRefreshes  prometheus.Counter
	connectionLosses prometheus.Counter
	timersFired      prometheus.Counter
	shutdownDuration prometheus.Gauge
}

// NewMetrics создает набор метрик в пространстве имен sipua
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	const namespace = "sipua"

	return &Metrics{
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "queue_depth",
			Help:      "Number of commands waiting for the processing goroutine",
		}),
		commandsPosted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "commands_posted_total",
			Help:      "Total number of commands posted to the executor",
		}),
		commandsExecuted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "commands_executed_total",
			Help:      "Total number of commands executed",
		}),
		commandsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "commands_failed_total",
			Help:      "Commands that returned an error, by error code",
		}, []string{"code"}),
		commandPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "command_panics_total",
			Help:      "Commands that panicked and were recovered",
		}),
		commandDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "command_duration_seconds",
			Help:      "Time spent executing a single command",
			Buckets:   []float64{.00005, .0001, .0005, .001, .005, .01, .05, .1, .5},
		}),
		entitiesActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ua",
			Name:      "entities_active",
			Help:      "Entities currently held in the registries",
		}, []string{"kind"}),
		forcedRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ua",
			Name:      "registration_forced_refreshes_total",
			Help:      "Registrations refreshed because their flow was lost",
		}),
		connectionLosses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ua",
			Name:      "connection_terminations_total",
			Help:      "Connection termination notifications handled",
		}),
		timersFired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ua",
			Name:      "application_timers_fired_total",
			Help:      "Application timers dispatched",
		}),
		shutdownDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ua",
			Name:      "shutdown_duration_seconds",
			Help:      "Duration of the last shutdown",
		}),
	}
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) commandPosted() {
	if m == nil {
		return
	}
	m.commandsPosted.Inc()
}

func (m *Metrics) commandExecuted(d time.Duration) {
	if m == nil {
		return
	}
	m.commandsExecuted.Inc()
	m.commandDuration.Observe(d.Seconds())
}

func (m *Metrics) commandFailed(code string) {
	if m == nil {
		return
	}
	m.commandsFailed.WithLabelValues(code).Inc()
}

func (m *Metrics) commandPanicked() {
	if m == nil {
		return
	}
	m.commandPanics.Inc()
}

func (m *Metrics) entityAdded(kind string) {
	if m == nil {
		return
	}
	m.entitiesActive.WithLabelValues(kind).Inc()
}

func (m *Metrics) entityRemoved(kind string) {
	if m == nil {
		return
	}
	m.entitiesActive.WithLabelValues(kind).Dec()
}

func (m *Metrics) refreshForced() {
	if m == nil {
		return
	}
	m.forcedRefreshes.Inc()
}

func (m *Metrics) connectionLost() {
	if m == nil {
		return
	}
	m.connectionLosses.Inc()
}

func (m *Metrics) timerFired() {
	if m == nil {
		return
	}
	m.timersFired.Inc()
}

func (m *Metrics) shutdownFinished(d time.Duration) {
	if m == nil {
		return
	}
	m.shutdownDuration.Set(d.Seconds())
}
