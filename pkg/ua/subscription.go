package ua

import (
	"context"
	"hash/fnv"

	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"

	"github.com/arzzra/sipua/pkg/logging"
)

// Состояния подписки
const (
	SubscriptionPending    = "pending"
	SubscriptionActive     = "active"
	SubscriptionEnding     = "ending"
	SubscriptionTerminated = "terminated"
)

// Subscription клиентская подписка на событие.
// Все методы только из горутины обработки.
type Subscription struct {
	ua        *UserAgent
	handle    SubscriptionHandle
	eventType string

	dialogSet ClientSubscription

	lastNotifyHash uint64
	hasNotify      bool

	state  *fsm.FSM
	logger logging.StructuredLogger
}

func newSubscription(ua *UserAgent, handle SubscriptionHandle, eventType string) *Subscription {
	s := &Subscription{
		ua:        ua,
		handle:    handle,
		eventType: eventType,
		logger: ua.logger.WithFields(
			logging.Uint64("subscription", uint64(handle)),
			logging.String("event", eventType)),
	}
	s.state = fsm.NewFSM(
		SubscriptionPending,
		fsm.Events{
			{Name: "activate", Src: []string{SubscriptionPending}, Dst: SubscriptionActive},
			{Name: "end", Src: []string{SubscriptionPending, SubscriptionActive}, Dst: SubscriptionEnding},
			{Name: "terminate", Src: []string{SubscriptionPending, SubscriptionActive, SubscriptionEnding}, Dst: SubscriptionTerminated},
		},
		fsm.Callbacks{},
	)
	ua.subscriptions.Set(handle, s)
	ua.metrics.entityAdded(kindSubscription)
	return s
}

func (s *Subscription) Handle() SubscriptionHandle { return s.handle }
func (s *Subscription) EventType() string          { return s.eventType }
func (s *Subscription) State() string              { return s.state.Current() }

// End завершает подписку (SUBSCRIBE с Expires: 0)
func (s *Subscription) End() {
	changed, err := fire(s.state, "end")
	if err != nil {
		s.logger.LogError(context.Background(), err, "ошибка перехода end")
	}
	if !changed || s.dialogSet == nil {
		return
	}
	s.dialogSet.End()
}

// notifyReceived передает приложению тело NOTIFY, если оно изменилось
func (s *Subscription) notifyReceived(notify *sip.Request) {
	if notify == nil {
		return
	}
	body := notify.Body()
	h := fnv.New64a()
	_, _ = h.Write(body)
	sum := h.Sum64()
	if s.hasNotify && sum == s.lastNotifyHash {
		s.logger.Trace(context.Background(), "тело NOTIFY не изменилось")
		return
	}
	s.lastNotifyHash = sum
	s.hasNotify = true
	s.ua.app.OnSubscriptionNotify(s.handle, body)
}

func (s *Subscription) update(h ClientSubscription, notify *sip.Request, outOfOrder bool) {
	s.dialogSet = h
	if outOfOrder {
		s.logger.Debug(context.Background(), "NOTIFY пришел вне очереди")
	}
	s.notifyReceived(notify)
	h.AcceptUpdate()
}

func (s *Subscription) OnNewSubscription(h ClientSubscription, notify *sip.Request) {
	s.dialogSet = h
	s.logger.Info(context.Background(), "подписка создана")
}

func (s *Subscription) OnUpdatePending(h ClientSubscription, notify *sip.Request, outOfOrder bool) {
	s.update(h, notify, outOfOrder)
}

func (s *Subscription) OnUpdateActive(h ClientSubscription, notify *sip.Request, outOfOrder bool) {
	if _, err := fire(s.state, "activate"); err != nil {
		s.logger.LogError(context.Background(), err, "ошибка перехода activate")
	}
	s.update(h, notify, outOfOrder)
}

func (s *Subscription) OnUpdateExtension(h ClientSubscription, notify *sip.Request, outOfOrder bool) {
	s.update(h, notify, outOfOrder)
}

func (s *Subscription) OnTerminated(h ClientSubscription, statusCode int) {
	s.logger.Info(context.Background(), "подписка завершена", logging.Int("status", statusCode))
	if _, err := fire(s.state, "terminate"); err != nil {
		s.logger.LogError(context.Background(), err, "ошибка перехода terminate")
	}
	s.ua.app.OnSubscriptionTerminated(s.handle, statusCode)
}

func (s *Subscription) OnRequestRetry(h ClientSubscription, retryMinimum int, res *sip.Response) int {
	return s.ua.app.OnSubscriptionRetry(s.handle, retryMinimum, statusOf(res))
}

func (s *Subscription) OnDialogSetDestroyed() {
	if _, err := fire(s.state, "terminate"); err != nil {
		s.logger.LogError(context.Background(), err, "ошибка перехода terminate")
	}
	if current, ok := s.ua.subscriptions.Get(s.handle); ok && current == s {
		s.ua.subscriptions.Delete(s.handle)
		s.ua.metrics.entityRemoved(kindSubscription)
	}
}
