package ua

import (
	"errors"
	"fmt"
)

// ErrorCategory категории ошибок для классификации
type ErrorCategory string

const (
	ErrorCategoryConfig    ErrorCategory = "CONFIG"
	ErrorCategoryTransport ErrorCategory = "TRANSPORT"
	ErrorCategoryProtocol  ErrorCategory = "PROTOCOL"
	ErrorCategoryState     ErrorCategory = "STATE"
	ErrorCategorySystem    ErrorCategory = "SYSTEM"
)

// String возвращает строковое представление категории ошибки
func (ec ErrorCategory) String() string {
	return string(ec)
}

// Базовые ошибки для проверки через errors.Is
var (
	// ErrNoProfileConfigured нет ни одного профиля, выбирать не из чего
	ErrNoProfileConfigured = errors.New("no conversation profile configured")
	// ErrInvalidProfile профиль не прошел валидацию
	ErrInvalidProfile = errors.New("invalid conversation profile")
	// ErrEntityNotFound хэндл отсутствует в реестре
	ErrEntityNotFound = errors.New("entity not found")
	// ErrTypeMismatch сущность в реестре не того типа, что ожидал вызывающий
	ErrTypeMismatch = errors.New("entity type mismatch")
	// ErrShutdownTimedOut движок не подтвердил завершение до дедлайна
	ErrShutdownTimedOut = errors.New("shutdown timed out")
	// ErrExecutorClosed команда отправлена после остановки очереди
	ErrExecutorClosed = errors.New("executor closed")
	// ErrInvalidPresenceStatus статус нельзя записать в presence-документ
	ErrInvalidPresenceStatus = errors.New("invalid presence status")
	// ErrShuttingDown операция отклонена, так как идет завершение работы
	ErrShuttingDown = errors.New("user agent is shutting down")
)

// Error структурированная ошибка с контекстом
type Error struct {
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Category ErrorCategory          `json:"category"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
	Cause    error                  `json:"-"`
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap позволяет использовать errors.Is и errors.As
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorCode код ошибки для логгера
func (e *Error) ErrorCode() string { return e.Code }

// ErrorCategory категория ошибки для логгера
func (e *Error) ErrorCategory() string { return string(e.Category) }

// WithField добавляет дополнительное поле к ошибке
func (e *Error) WithField(key string, value interface{}) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

func newError(code, message string, category ErrorCategory, cause error) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Category: category,
		Cause:    cause,
	}
}

func errEntityNotFound(kind string, handle uint64) *Error {
	return newError(
		"ENTITY_NOT_FOUND",
		fmt.Sprintf("%s %d не найден", kind, handle),
		ErrorCategoryState,
		ErrEntityNotFound,
	).WithField("kind", kind).WithField("handle", handle)
}

func errInvalidProfile(cause error) *Error {
	return newError(
		"INVALID_PROFILE",
		"профиль не прошел валидацию",
		ErrorCategoryConfig,
		fmt.Errorf("%w: %v", ErrInvalidProfile, cause),
	)
}

func errNoProfileConfigured(operation string) *Error {
	return newError(
		"NO_PROFILE_CONFIGURED",
		fmt.Sprintf("операция %s требует хотя бы один профиль", operation),
		ErrorCategoryConfig,
		ErrNoProfileConfigured,
	).WithField("operation", operation)
}

func errShutdownTimedOut(state string, cause error) *Error {
	return newError(
		"SHUTDOWN_TIMED_OUT",
		fmt.Sprintf("движок не завершился, состояние %s", state),
		ErrorCategorySystem,
		errors.Join(ErrShutdownTimedOut, cause),
	).WithField("state", state)
}

func errShutdownPending(state string) *Error {
	return newError(
		"SHUTDOWN_PENDING",
		"завершение запрошено из колбэка и продолжится в горутине обработки",
		ErrorCategoryState,
		ErrShuttingDown,
	).WithField("state", state)
}

func errInvalidPresenceStatus(cause error) *Error {
	return newError(
		"INVALID_PRESENCE_STATUS",
		"статус не может быть rpid-активностью",
		ErrorCategoryConfig,
		cause,
	)
}

func errEngine(operation string, cause error) *Error {
	return newError(
		"ENGINE_FAILURE",
		fmt.Sprintf("движок отклонил %s", operation),
		ErrorCategoryProtocol,
		cause,
	).WithField("operation", operation)
}
