package ua

import (
	"context"

	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"

	"github.com/arzzra/sipua/pkg/logging"
	"github.com/arzzra/sipua/pkg/transport"
)

// Состояния регистрации
const (
	RegistrationRegistering = "registering"
	RegistrationRegistered  = "registered"
	RegistrationFailed      = "failed"
	RegistrationRemoved     = "removed"
	RegistrationEnding      = "ending"
	RegistrationTerminated  = "terminated"
)

// Registration регистрация профиля; хэндл совпадает с хэндлом профиля.
// Все методы только из горутины обработки.
type Registration struct {
	ua     *UserAgent
	handle ConversationProfileHandle

	dialogSet      ClientRegistration
	contacts       []sip.Uri
	lastServerFlow transport.FlowKey
	retryTime      uint32

	state  *fsm.FSM
	logger logging.StructuredLogger
}

// newRegistration создает сущность и сразу заносит ее в реестр
func newRegistration(ua *UserAgent, profile *ConversationProfile) *Registration {
	r := &Registration{
		ua:        ua,
		handle:    profile.handle,
		retryTime: profile.RegistrationRetryTime,
		logger:    ua.logger.WithFields(logging.Uint64("registration", uint64(profile.handle))),
	}
	r.state = fsm.NewFSM(
		RegistrationRegistering,
		fsm.Events{
			{Name: "success", Src: []string{RegistrationRegistering, RegistrationRegistered, RegistrationFailed}, Dst: RegistrationRegistered},
			{Name: "failure", Src: []string{RegistrationRegistering, RegistrationRegistered}, Dst: RegistrationFailed},
			{Name: "removed", Src: []string{RegistrationRegistering, RegistrationRegistered, RegistrationFailed, RegistrationEnding}, Dst: RegistrationRemoved},
			{Name: "end", Src: []string{RegistrationRegistering, RegistrationRegistered, RegistrationFailed}, Dst: RegistrationEnding},
			{Name: "destroyed", Src: []string{RegistrationRegistering, RegistrationRegistered, RegistrationFailed, RegistrationRemoved, RegistrationEnding}, Dst: RegistrationTerminated},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				r.logger.Debug(ctx, "состояние регистрации изменено",
					logging.String("from", e.Src), logging.String("to", e.Dst))
				r.ua.app.OnRegistrationStateChanged(r.handle, e.Dst)
			},
		},
	)
	ua.registrations.Set(r.handle, r)
	ua.metrics.entityAdded(kindRegistration)
	return r
}

// Handle хэндл профиля, к которому привязана регистрация
func (r *Registration) Handle() ConversationProfileHandle { return r.handle }

// State текущее состояние автомата
func (r *Registration) State() string { return r.state.Current() }

// ContactAddresses подтвержденные контакты; копия
func (r *Registration) ContactAddresses() []sip.Uri {
	out := make([]sip.Uri, len(r.contacts))
	copy(out, r.contacts)
	return out
}

// LastServerFlow flow последнего успешного ответа регистратора
func (r *Registration) LastServerFlow() (transport.FlowKey, bool) {
	return r.lastServerFlow, !r.lastServerFlow.IsZero()
}

// End завершает регистрацию. Повторный вызов ничего не делает.
func (r *Registration) End() {
	changed, err := fire(r.state, "end")
	if err != nil {
		r.logger.LogError(context.Background(), err, "ошибка перехода end")
	}
	if !changed || r.dialogSet == nil {
		return
	}
	r.dialogSet.End()
}

// ForceRefresh немедленно обновляет регистрацию
func (r *Registration) ForceRefresh() {
	if r.dialogSet == nil || r.State() == RegistrationEnding {
		return
	}
	r.logger.Info(context.Background(), "принудительное обновление регистрации",
		logging.String("flow", r.lastServerFlow.String()))
	r.dialogSet.ForceRefresh()
}

func (r *Registration) transition(event string) {
	if _, err := fire(r.state, event); err != nil {
		r.logger.LogError(context.Background(), err, "ошибка перехода", logging.String("event", event))
	}
}

func (r *Registration) OnSuccess(h ClientRegistration, res *sip.Response) {
	r.dialogSet = h
	r.contacts = h.MyContacts()
	if flow := transport.FlowFromMessage(res); !flow.IsZero() {
		r.lastServerFlow = flow
	}
	r.logger.Info(context.Background(), "регистрация успешна",
		logging.Int("contacts", len(r.contacts)),
		logging.String("flow", r.lastServerFlow.String()))
	r.transition("success")
}

func (r *Registration) OnFailure(h ClientRegistration, res *sip.Response) {
	r.logger.Warn(context.Background(), "регистрация не удалась",
		logging.Int("status", statusOf(res)))
	r.transition("failure")
}

func (r *Registration) OnRemoved(h ClientRegistration, res *sip.Response) {
	r.logger.Info(context.Background(), "регистрация снята", logging.Int("status", statusOf(res)))
	r.contacts = nil
	r.transition("removed")
}

// OnRequestRetry решение принимает приложение; если оно отказалось,
// а в профиле задан RegistrationRetryTime, повторяем через него
func (r *Registration) OnRequestRetry(h ClientRegistration, retryMinimum int, res *sip.Response) int {
	delay := r.ua.app.OnRegistrationRetry(r.handle, retryMinimum, statusOf(res))
	if delay < 0 && r.retryTime > 0 {
		delay = max(int(r.retryTime), retryMinimum)
	}
	return delay
}

func (r *Registration) OnDialogSetDestroyed() {
	r.transition("destroyed")
	if current, ok := r.ua.registrations.Get(r.handle); ok && current == r {
		r.ua.registrations.Delete(r.handle)
		r.ua.metrics.entityRemoved(kindRegistration)
	}
	r.logger.Debug(context.Background(), "dialog-set регистрации уничтожен")
}

func statusOf(res *sip.Response) int {
	if res == nil {
		return 0
	}
	return res.StatusCode
}
