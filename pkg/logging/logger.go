package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel уровни логирования
type LogLevel int

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelDisabled
)

var logLevelNames = map[LogLevel]string{
	LogLevelTrace:    "TRACE",
	LogLevelDebug:    "DEBUG",
	LogLevelInfo:     "INFO",
	LogLevelWarn:     "WARN",
	LogLevelError:    "ERROR",
	LogLevelDisabled: "DISABLED",
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LogLevelTrace:
		return zerolog.TraceLevel
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelInfo:
		return zerolog.InfoLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.Disabled
	}
}

// ParseLevel разбирает уровень из строки конфигурации или переменной окружения.
// Второе значение false, если строка не распознана.
func ParseLevel(raw string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return LogLevelTrace, true
	case "debug":
		return LogLevelDebug, true
	case "info":
		return LogLevelInfo, true
	case "warn", "warning":
		return LogLevelWarn, true
	case "error":
		return LogLevelError, true
	case "disabled", "off", "none":
		return LogLevelDisabled, true
	default:
		return LogLevelInfo, false
	}
}

// Subsystem логическая подсистема, для которой можно задать отдельный уровень
type Subsystem string

const (
	SubsystemAll       Subsystem = "all"
	SubsystemUA        Subsystem = "ua"
	SubsystemExecutor  Subsystem = "executor"
	SubsystemDum       Subsystem = "dum"
	SubsystemTransport Subsystem = "transport"
	SubsystemConfig    Subsystem = "config"
)

// StructuredLogger интерфейс для структурированного логирования
type StructuredLogger interface {
	Trace(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)

	// LogError логирует ошибку; для *Coded ошибок добавляет код и категорию
	LogError(ctx context.Context, err error, msg string, fields ...Field)

	// Контекстные логгеры
	WithComponent(component Subsystem) StructuredLogger
	WithFields(fields ...Field) StructuredLogger

	// Управление уровнем логирования
	SetLevel(subsystem Subsystem, level LogLevel)
	IsEnabled(level LogLevel) bool
}

// Coded реализуется ошибками, несущими машинно-читаемый код и категорию.
type Coded interface {
	error
	ErrorCode() string
	ErrorCategory() string
}

// Field представляет поле лога
type Field struct {
	Key   string
	Value interface{}
}

// Helpers для создания полей
func String(key, value string) Field                 { return Field{key, value} }
func Int(key string, value int) Field                { return Field{key, value} }
func Int64(key string, value int64) Field            { return Field{key, value} }
func Uint64(key string, value uint64) Field          { return Field{key, value} }
func Bool(key string, value bool) Field              { return Field{key, value} }
func Duration(key string, value time.Duration) Field { return Field{key, value} }
func Any(key string, value interface{}) Field        { return Field{key, value} }
func Err(err error) Field                            { return Field{"error", err} }

// levelTable общая для всех логгеров, полученных из одного корня
type levelTable struct {
	mu     sync.RWMutex
	levels map[Subsystem]LogLevel
}

func (t *levelTable) get(s Subsystem) LogLevel {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if lvl, ok := t.levels[s]; ok {
		return lvl
	}
	return t.levels[SubsystemAll]
}

func (t *levelTable) set(s Subsystem, lvl LogLevel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s == SubsystemAll {
		// общий уровень сбрасывает частные настройки
		t.levels = map[Subsystem]LogLevel{SubsystemAll: lvl}
		return
	}
	t.levels[s] = lvl
}

// Config параметры DefaultLogger
type Config struct {
	Level  LogLevel
	Output io.Writer
	// JSON включает машинный формат; иначе zerolog.ConsoleWriter
	JSON bool
}

// DefaultLogger реализация StructuredLogger поверх zerolog
type DefaultLogger struct {
	zl        zerolog.Logger
	levels    *levelTable
	component Subsystem
	fields    []Field
}

// NewDefaultLogger создает новый logger с настройками по умолчанию
func NewDefaultLogger() *DefaultLogger {
	return NewLogger(Config{Level: LogLevelInfo, Output: os.Stdout})
}

// NewLogger создает logger по конфигурации
func NewLogger(cfg Config) *DefaultLogger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return &DefaultLogger{
		zl: zerolog.New(out).Level(zerolog.TraceLevel).With().Timestamp().Logger(),
		levels: &levelTable{
			levels: map[Subsystem]LogLevel{SubsystemAll: cfg.Level},
		},
		component: SubsystemAll,
	}
}

// SetLevel устанавливает минимальный уровень логирования для подсистемы
func (l *DefaultLogger) SetLevel(subsystem Subsystem, level LogLevel) {
	l.levels.set(subsystem, level)
}

// IsEnabled проверяет, включен ли уровень логирования для компонента логгера
func (l *DefaultLogger) IsEnabled(level LogLevel) bool {
	min := l.levels.get(l.component)
	return min != LogLevelDisabled && level >= min
}

// WithComponent создает logger с указанным компонентом
func (l *DefaultLogger) WithComponent(component Subsystem) StructuredLogger {
	return &DefaultLogger{
		zl:        l.zl,
		levels:    l.levels,
		component: component,
		fields:    copyFields(l.fields),
	}
}

// WithFields создает logger с дополнительными полями
func (l *DefaultLogger) WithFields(fields ...Field) StructuredLogger {
	return &DefaultLogger{
		zl:        l.zl,
		levels:    l.levels,
		component: l.component,
		fields:    append(copyFields(l.fields), fields...),
	}
}

func (l *DefaultLogger) Trace(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LogLevelTrace, msg, nil, fields)
}

func (l *DefaultLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LogLevelDebug, msg, nil, fields)
}

func (l *DefaultLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LogLevelInfo, msg, nil, fields)
}

func (l *DefaultLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LogLevelWarn, msg, nil, fields)
}

func (l *DefaultLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LogLevelError, msg, nil, fields)
}

// LogError логирует ошибку с дополнительной информацией
func (l *DefaultLogger) LogError(ctx context.Context, err error, msg string, fields ...Field) {
	if err == nil {
		l.Error(ctx, msg, fields...)
		return
	}
	l.log(ctx, LogLevelError, msg, err, fields)
}

// log основной метод логирования
func (l *DefaultLogger) log(ctx context.Context, level LogLevel, msg string, err error, fields []Field) {
	if !l.IsEnabled(level) {
		return
	}

	ev := l.zl.WithLevel(level.zerolog())
	if ev == nil {
		return
	}
	if l.component != SubsystemAll {
		ev = ev.Str("component", string(l.component))
	}
	for _, f := range l.fields {
		ev = appendField(ev, f)
	}
	for _, f := range contextFields(ctx) {
		ev = appendField(ev, f)
	}
	for _, f := range fields {
		ev = appendField(ev, f)
	}
	if err != nil {
		ev = ev.AnErr("error", err)
		var coded Coded
		if asCoded(err, &coded) {
			ev = ev.Str("error_code", coded.ErrorCode()).Str("error_category", coded.ErrorCategory())
		}
	}
	ev.Msg(msg)
}

func appendField(ev *zerolog.Event, f Field) *zerolog.Event {
	switch v := f.Value.(type) {
	case string:
		return ev.Str(f.Key, v)
	case int:
		return ev.Int(f.Key, v)
	case int64:
		return ev.Int64(f.Key, v)
	case uint64:
		return ev.Uint64(f.Key, v)
	case uint32:
		return ev.Uint32(f.Key, v)
	case bool:
		return ev.Bool(f.Key, v)
	case time.Duration:
		return ev.Dur(f.Key, v)
	case error:
		return ev.AnErr(f.Key, v)
	case fmt.Stringer:
		return ev.Stringer(f.Key, v)
	default:
		return ev.Interface(f.Key, v)
	}
}

func asCoded(err error, target *Coded) bool {
	return errors.As(err, target)
}

type ctxFieldsKey struct{}

// ContextWithFields прикрепляет поля к контексту; они попадут в каждую запись,
// залогированную с этим контекстом.
func ContextWithFields(ctx context.Context, fields ...Field) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	merged := append(copyFields(contextFields(ctx)), fields...)
	return context.WithValue(ctx, ctxFieldsKey{}, merged)
}

func contextFields(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(ctxFieldsKey{}).([]Field)
	return fields
}

func copyFields(fields []Field) []Field {
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

// NoOpLogger логгер-заглушка для тестов
type NoOpLogger struct{}

func (NoOpLogger) Trace(ctx context.Context, msg string, fields ...Field)               {}
func (NoOpLogger) Debug(ctx context.Context, msg string, fields ...Field)               {}
func (NoOpLogger) Info(ctx context.Context, msg string, fields ...Field)                {}
func (NoOpLogger) Warn(ctx context.Context, msg string, fields ...Field)                {}
func (NoOpLogger) Error(ctx context.Context, msg string, fields ...Field)               {}
func (NoOpLogger) LogError(ctx context.Context, err error, msg string, fields ...Field) {}
func (NoOpLogger) WithComponent(component Subsystem) StructuredLogger                   { return NoOpLogger{} }
func (NoOpLogger) WithFields(fields ...Field) StructuredLogger                          { return NoOpLogger{} }
func (NoOpLogger) SetLevel(subsystem Subsystem, level LogLevel)                         {}
func (NoOpLogger) IsEnabled(level LogLevel) bool                                        { return false }

// Глобальный logger (можно заменить на DI)
var (
	defaultMu     sync.RWMutex
	defaultLogger StructuredLogger = NewDefaultLogger()
)

// SetDefaultLogger устанавливает глобальный logger
func SetDefaultLogger(logger StructuredLogger) {
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
}

// GetDefaultLogger возвращает глобальный logger
func GetDefaultLogger() StructuredLogger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}
