package ua

import (
	"context"

	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"

	"github.com/arzzra/sipua/pkg/logging"
)

// Состояния публикации
const (
	PublicationPublishing = "publishing"
	PublicationPublished  = "published"
	PublicationFailed     = "failed"
	PublicationRemoved    = "removed"
	PublicationEnding     = "ending"
	PublicationTerminated = "terminated"
)

// Publication публикация состояния (PUBLISH).
// Все методы только из горутины обработки.
type Publication struct {
	ua        *UserAgent
	handle    PublicationHandle
	eventType string
	status    string
	target    sip.Uri
	mimeType  string

	dialogSet ClientPublication

	state  *fsm.FSM
	logger logging.StructuredLogger
}

func newPublication(ua *UserAgent, handle PublicationHandle, eventType, status string) *Publication {
	p := &Publication{
		ua:        ua,
		handle:    handle,
		eventType: eventType,
		status:    status,
		logger: ua.logger.WithFields(
			logging.Uint64("publication", uint64(handle)),
			logging.String("event", eventType)),
	}
	p.state = fsm.NewFSM(
		PublicationPublishing,
		fsm.Events{
			{Name: "success", Src: []string{PublicationPublishing, PublicationPublished, PublicationFailed}, Dst: PublicationPublished},
			{Name: "failure", Src: []string{PublicationPublishing, PublicationPublished}, Dst: PublicationFailed},
			{Name: "removed", Src: []string{PublicationPublishing, PublicationPublished, PublicationFailed, PublicationEnding}, Dst: PublicationRemoved},
			{Name: "end", Src: []string{PublicationPublishing, PublicationPublished, PublicationFailed}, Dst: PublicationEnding},
			{Name: "destroyed", Src: []string{PublicationPublishing, PublicationPublished, PublicationFailed, PublicationRemoved, PublicationEnding}, Dst: PublicationTerminated},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				p.ua.app.OnPublicationStateChanged(p.handle, e.Dst)
			},
		},
	)
	ua.publications.Set(handle, p)
	ua.metrics.entityAdded(kindPublication)
	return p
}

func (p *Publication) Handle() PublicationHandle { return p.handle }
func (p *Publication) EventType() string         { return p.eventType }
func (p *Publication) Status() string            { return p.status }
func (p *Publication) State() string             { return p.state.Current() }

// End снимает публикацию (PUBLISH с Expires: 0)
func (p *Publication) End() {
	changed, err := fire(p.state, "end")
	if err != nil {
		p.logger.LogError(context.Background(), err, "ошибка перехода end")
	}
	if !changed || p.dialogSet == nil {
		return
	}
	p.dialogSet.End()
}

// Update отправляет новое состояние в рамках той же публикации
func (p *Publication) Update(status string, body Contents) {
	if p.dialogSet == nil || p.State() == PublicationEnding {
		return
	}
	p.status = status
	p.dialogSet.Update(body)
}

func (p *Publication) transition(event string) {
	if _, err := fire(p.state, event); err != nil {
		p.logger.LogError(context.Background(), err, "ошибка перехода", logging.String("event", event))
	}
}

func (p *Publication) OnSuccess(h ClientPublication, res *sip.Response) {
	p.dialogSet = h
	p.logger.Debug(context.Background(), "публикация принята")
	p.transition("success")
}

func (p *Publication) OnRemove(h ClientPublication, res *sip.Response) {
	p.logger.Debug(context.Background(), "публикация снята")
	p.transition("removed")
}

func (p *Publication) OnFailure(h ClientPublication, res *sip.Response) {
	p.logger.Warn(context.Background(), "публикация отклонена", logging.Int("status", statusOf(res)))
	p.transition("failure")
}

func (p *Publication) OnRequestRetry(h ClientPublication, retrySeconds int, res *sip.Response) int {
	return p.ua.app.OnPublicationRetry(p.handle, retrySeconds, statusOf(res))
}

func (p *Publication) OnDialogSetDestroyed() {
	p.transition("destroyed")
	if current, ok := p.ua.publications.Get(p.handle); ok && current == p {
		p.ua.publications.Delete(p.handle)
		p.ua.metrics.entityRemoved(kindPublication)
	}
}
