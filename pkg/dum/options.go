package dum

import (
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/sipua/pkg/logging"
)

const (
	// DefaultRequestTimeout время ожидания финального ответа (64*T1)
	DefaultRequestTimeout = 32 * time.Second
	// DefaultNotifyTimeout сколько входящий NOTIFY ждет решения ядра
	DefaultNotifyTimeout = 5 * time.Second
)

type options struct {
	logger         logging.StructuredLogger
	registerer     prometheus.Registerer
	contact        sip.Uri
	userAgent      string
	reporter       FlowReporter
	requestTimeout time.Duration
	notifyTimeout  time.Duration
}

// Option настройка движка
type Option func(*options)

// WithLogger задает логгер движка
func WithLogger(logger logging.StructuredLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetricsRegisterer регистрирует метрики движка в reg
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithContact задает адрес для Contact; user берется из AOR профиля
func WithContact(contact sip.Uri) Option {
	return func(o *options) {
		o.contact = contact
	}
}

// WithUserAgent значение заголовка User-Agent
func WithUserAgent(name string) Option {
	return func(o *options) {
		o.userAgent = name
	}
}

// WithFlowReporter куда сообщать о потерянных flow
func WithFlowReporter(r FlowReporter) Option {
	return func(o *options) {
		o.reporter = r
	}
}

// WithRequestTimeout ограничивает ожидание ответа на запрос
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

// WithNotifyTimeout ограничивает ожидание ответа ядра на NOTIFY
func WithNotifyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.notifyTimeout = d
		}
	}
}
