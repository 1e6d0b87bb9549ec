package ua

import "time"

//go:generate go run go.uber.org/mock/mockgen -source=application.go -destination=mock_application_test.go -package=ua

// Application точки расширения пользовательского агента.
// Все методы вызываются в горутине обработки; блокировать их нельзя.
type Application interface {
	// OnApplicationTimer срабатывание таймера из StartApplicationTimer
	OnApplicationTimer(id uint32, duration time.Duration, seq uint32)
	// OnSubscriptionTerminated подписка завершена; statusCode 0, если ответа не было
	OnSubscriptionTerminated(h SubscriptionHandle, statusCode int)
	// OnSubscriptionNotify новое (отличное от предыдущего) тело NOTIFY
	OnSubscriptionNotify(h SubscriptionHandle, body []byte)

	// Решения о повторе: пауза в секундах, -1 не повторять
	OnRegistrationRetry(h ConversationProfileHandle, retryMinimum int, statusCode int) int
	OnSubscriptionRetry(h SubscriptionHandle, retryMinimum int, statusCode int) int
	OnPublicationRetry(h PublicationHandle, retrySeconds int, statusCode int) int

	OnRegistrationStateChanged(h ConversationProfileHandle, state string)
	OnPublicationStateChanged(h PublicationHandle, state string)
}

// BaseApplication реализация Application по умолчанию; встраивается
// в прикладной тип, чтобы переопределять только нужные методы.
type BaseApplication struct{}

var _ Application = BaseApplication{}

func (BaseApplication) OnApplicationTimer(uint32, time.Duration, uint32)             {}
func (BaseApplication) OnSubscriptionTerminated(SubscriptionHandle, int)             {}
func (BaseApplication) OnSubscriptionNotify(SubscriptionHandle, []byte)              {}
func (BaseApplication) OnRegistrationRetry(ConversationProfileHandle, int, int) int  { return -1 }
func (BaseApplication) OnSubscriptionRetry(SubscriptionHandle, int, int) int         { return -1 }
func (BaseApplication) OnPublicationRetry(PublicationHandle, int, int) int           { return -1 }
func (BaseApplication) OnRegistrationStateChanged(ConversationProfileHandle, string) {}
func (BaseApplication) OnPublicationStateChanged(PublicationHandle, string)          {}
