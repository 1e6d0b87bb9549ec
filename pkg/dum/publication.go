package dum

import (
	"context"
	"strconv"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/sipua/pkg/logging"
	"github.com/arzzra/sipua/pkg/ua"
)

// clientPublication публикация состояния события (RFC 3903)
type clientPublication struct {
	usage

	profile   *ua.ConversationProfile
	handler   ua.PublicationHandler
	logger    logging.StructuredLogger
	eventType string

	// под usage.mu
	expires uint32
	body    ua.Contents
	etag    string
}

func newClientPublication(m *Manager, target sip.Uri, profile *ua.ConversationProfile, body ua.Contents, eventType string, expires uint32, h ua.PublicationHandler) *clientPublication {
	p := &clientPublication{
		usage: usage{
			m:      m,
			kind:   "publication",
			dialog: newDialogState(profile.DefaultFrom, target),
		},
		profile:   profile,
		handler:   h,
		eventType: eventType,
		expires:   expires,
		body:      body,
	}
	p.logger = m.logger.WithFields(
		logging.String("event", eventType),
		logging.String("target", target.String()),
		logging.String("call_id", p.dialog.callID))
	return p
}

func (p *clientPublication) base() *usage { return &p.usage }

func (p *clientPublication) start() {
	p.m.spawn(func() { p.exchange(p.currentExpires(), true) })
}

func (p *clientPublication) currentExpires() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expires
}

// Update публикует новое состояние с SIP-If-Match
func (p *clientPublication) Update(body ua.Contents) {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return
	}
	p.body = body
	p.stopTimer()
	p.mu.Unlock()

	p.m.spawn(func() { p.exchange(p.currentExpires(), true) })
}

// End снимает публикацию. Без entity-tag снимать на сервере нечего.
func (p *clientPublication) End() {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return
	}
	p.ended = true
	p.stopTimer()
	p.mu.Unlock()

	// идущий обмен еще может получить entity-tag: решаем после него
	if !p.sendMu.TryLock() {
		p.m.spawn(func() {
			p.sendMu.Lock()
			p.sendMu.Unlock()
			p.remove()
		})
		return
	}
	p.sendMu.Unlock()
	p.remove()
}

func (p *clientPublication) remove() {
	p.mu.Lock()
	etag := p.etag
	p.mu.Unlock()

	if etag == "" {
		p.destroy(p.handler, nil)
		return
	}
	p.m.spawn(func() { p.exchange(0, false) })
}

// request обновление без тела возможно только при известном entity-tag
func (p *clientPublication) request(expires uint32, full bool) *sip.Request {
	p.mu.Lock()
	defer p.mu.Unlock()

	req := p.dialog.request(sip.PUBLISH)
	req.AppendHeader(sip.NewHeader("Event", p.eventType))
	req.AppendHeader(sip.NewHeader("Expires", strconv.FormatUint(uint64(expires), 10)))
	if p.etag != "" {
		req.AppendHeader(sip.NewHeader("SIP-If-Match", p.etag))
	}
	if (full || p.etag == "") && expires != 0 && len(p.body.Body) > 0 {
		req.AppendHeader(sip.NewHeader("Content-Type", p.body.ContentType))
		req.SetBody(p.body.Body)
	}
	return req
}

func (p *clientPublication) exchange(expires uint32, full bool) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	for {
		if p.isGone() {
			return
		}
		req := p.request(expires, full)
		res, err := p.m.do(req, p.profile)
		if err != nil {
			p.failed(expires, nil)
			return
		}

		switch {
		case isSuccess(res.StatusCode):
			p.succeeded(expires, res)
			return

		case res.StatusCode == 412 && expires == 0:
			// сервер уже забыл публикацию
			p.destroy(p.handler, func() { p.handler.OnRemove(p, res) })
			return

		case res.StatusCode == 412:
			p.mu.Lock()
			hadTag := p.etag != ""
			p.etag = ""
			p.mu.Unlock()
			if !hadTag {
				p.failed(expires, res)
				return
			}
			p.logger.Debug(context.Background(), "entity-tag устарел, публикуем заново")
			full = true
			continue

		case res.StatusCode == 423 && expires != 0:
			if min, ok := headerUint(res, "Min-Expires"); ok && min > expires {
				expires = min
				p.mu.Lock()
				p.expires = min
				p.mu.Unlock()
				continue
			}
			p.failed(expires, res)
			return

		default:
			p.failed(expires, res)
			return
		}
	}
}

func (p *clientPublication) succeeded(expires uint32, res *sip.Response) {
	if expires == 0 {
		p.mu.Lock()
		p.etag = ""
		p.mu.Unlock()
		p.destroy(p.handler, func() { p.handler.OnRemove(p, res) })
		return
	}

	granted := expires
	if v, ok := headerUint(res, "Expires"); ok {
		granted = v
	}
	p.mu.Lock()
	if p.gone {
		p.mu.Unlock()
		return
	}
	if etag, ok := headerValue(res, "SIP-ETag"); ok {
		p.etag = etag
	}
	if !p.ended {
		p.schedule(refreshDelay(granted), func() { p.exchange(p.currentExpires(), false) })
	}
	p.mu.Unlock()

	p.m.post("publication_success", func() { p.handler.OnSuccess(p, res) })
}

// failed res nil означает сетевую ошибку
func (p *clientPublication) failed(expires uint32, res *sip.Response) {
	status := 0
	if res != nil {
		status = res.StatusCode
	}
	p.logger.Warn(context.Background(), "PUBLISH не удался",
		logging.Int("status", status),
		logging.Int64("expires", int64(expires)))

	if expires == 0 {
		p.destroy(p.handler, func() { p.handler.OnRemove(p, res) })
		return
	}

	p.m.post("publication_retry", func() {
		if p.isGone() {
			return
		}
		delay := p.handler.OnRequestRetry(p, retryAfter(res), res)
		p.mu.Lock()
		retry := delay >= 0 && !p.ended
		if retry {
			p.schedule(secondsOf(delay), func() { p.exchange(p.currentExpires(), true) })
		}
		p.mu.Unlock()
		if retry {
			p.logger.Info(context.Background(), "повтор публикации", logging.Int("delay", delay))
			return
		}
		p.handler.OnFailure(p, res)
		p.destroy(p.handler, nil)
	})
}
