package ua

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/sipua/pkg/logging"
)

// DefaultPollInterval пауза Process при ожидании завершения движка
const DefaultPollInterval = 100 * time.Millisecond

type options struct {
	logger          logging.StructuredLogger
	registerer      prometheus.Registerer
	app             Application
	stack           Stack
	shutdownTimeout time.Duration
	pollInterval    time.Duration
}

// Option настройка UserAgent
type Option func(*options)

// WithLogger задает логгер агента
func WithLogger(logger logging.StructuredLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetricsRegisterer регистрирует метрики агента в reg
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithApplication задает обработчик точек расширения
func WithApplication(app Application) Option {
	return func(o *options) {
		o.app = app
	}
}

// WithStack задает сетевой стек, который Shutdown остановит последним
func WithStack(stack Stack) Option {
	return func(o *options) {
		o.stack = stack
	}
}

// WithShutdownTimeout ограничивает ожидание движка при Shutdown
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		o.shutdownTimeout = d
	}
}

// WithPollInterval задает шаг Process в Run и Shutdown
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}
