package dum

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests      *prometheus.CounterVec
	responses     *prometheus.CounterVec
	challenges    prometheus.Counter
	networkErrors prometheus.Counter
	notifies      *prometheus.CounterVec
	dialogSets    prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	const namespace = "sipua"
	const subsystem = "dum"

	return &metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Client requests sent, by method",
		}, []string{"method"}),
		responses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "responses_total",
			Help:      "Final responses received, by method and status class",
		}, []string{"method", "class"}),
		challenges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "auth_challenges_total",
			Help:      "401/407 challenges answered with digest credentials",
		}),
		networkErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "network_errors_total",
			Help:      "Requests that failed below SIP",
		}),
		notifies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notify_total",
			Help:      "Inbound NOTIFY requests, by Subscription-State",
		}, []string{"state"}),
		dialogSets: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dialog_sets",
			Help:      "Dialog sets alive in the engine",
		}),
	}
}

func (m *metrics) request(method string) {
	m.requests.WithLabelValues(method).Inc()
}

func (m *metrics) response(method string, code int) {
	m.responses.WithLabelValues(method, strconv.Itoa(code/100)+"xx").Inc()
}
