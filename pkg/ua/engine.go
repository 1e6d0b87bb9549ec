package ua

import (
	"github.com/emiago/sipgo/sip"
)

// Contents тело сообщения с типом содержимого
type Contents struct {
	ContentType string
	Body        []byte
}

// DialogSet клиентский dialog-set движка
type DialogSet interface {
	// End завершает использование (REGISTER/SUBSCRIBE/PUBLISH с нулевым Expires).
	// Об окончательном уничтожении движок сообщит через OnDialogSetDestroyed.
	End()
}

// ClientRegistration dialog-set регистрации
type ClientRegistration interface {
	DialogSet
	// ForceRefresh немедленно обновляет регистрацию, не дожидаясь таймера
	ForceRefresh()
	// MyContacts Contact-адреса, подтвержденные регистратором
	MyContacts() []sip.Uri
}

// ClientSubscription dialog-set подписки
type ClientSubscription interface {
	DialogSet
	AcceptUpdate()
	RejectUpdate(statusCode int, reason string)
}

// ClientPublication dialog-set публикации
type ClientPublication interface {
	DialogSet
	Update(body Contents)
}

// DialogSetHandler общий колбэк всех категорий
type DialogSetHandler interface {
	OnDialogSetDestroyed()
}

// RegistrationHandler колбэки регистрации.
// Все методы вызываются в горутине обработки.
type RegistrationHandler interface {
	DialogSetHandler
	OnSuccess(h ClientRegistration, res *sip.Response)
	OnFailure(h ClientRegistration, res *sip.Response)
	OnRemoved(h ClientRegistration, res *sip.Response)
	// OnRequestRetry возвращает паузу в секундах перед повтором, -1 отказ
	OnRequestRetry(h ClientRegistration, retryMinimum int, res *sip.Response) int
}

// SubscriptionHandler колбэки подписки.
// Все методы вызываются в горутине обработки.
type SubscriptionHandler interface {
	DialogSetHandler
	OnNewSubscription(h ClientSubscription, notify *sip.Request)
	OnUpdatePending(h ClientSubscription, notify *sip.Request, outOfOrder bool)
	OnUpdateActive(h ClientSubscription, notify *sip.Request, outOfOrder bool)
	OnUpdateExtension(h ClientSubscription, notify *sip.Request, outOfOrder bool)
	// OnTerminated statusCode 0, если подписка завершена без ответа на запрос
	OnTerminated(h ClientSubscription, statusCode int)
	OnRequestRetry(h ClientSubscription, retryMinimum int, res *sip.Response) int
}

// PublicationHandler колбэки публикации.
// Все методы вызываются в горутине обработки.
type PublicationHandler interface {
	DialogSetHandler
	OnSuccess(h ClientPublication, res *sip.Response)
	OnRemove(h ClientPublication, res *sip.Response)
	OnFailure(h ClientPublication, res *sip.Response)
	OnRequestRetry(h ClientPublication, retrySeconds int, res *sip.Response) int
}

// ShutdownHandler уведомляется, когда движок можно уничтожать
type ShutdownHandler interface {
	OnDumCanBeDeleted()
}

// DialogUsageManager движок диалоговых использований.
//
// Make* только создают dialog-set; первичный запрос уходит по Send.
// Если Send вернул ошибку, движок уже забыл dialog-set и колбэков по нему
// не будет. Все методы вызываются из горутины обработки, колбэки движок
// доставляет через Poster, полученный в Attach.
type DialogUsageManager interface {
	Attach(p Poster)
	MakeRegistration(profile *ConversationProfile, h RegistrationHandler) (ClientRegistration, error)
	MakeSubscription(target sip.Uri, profile *ConversationProfile, eventType string, expires uint32, accept string, h SubscriptionHandler) (ClientSubscription, error)
	MakePublication(target sip.Uri, profile *ConversationProfile, body Contents, eventType string, expires uint32, h PublicationHandler) (ClientPublication, error)
	Send(ds DialogSet) error
	Shutdown(l ShutdownHandler)
}

// Stack сетевой стек, останавливаемый последним при завершении
type Stack interface {
	Shutdown() error
}
