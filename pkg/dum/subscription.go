package dum

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/sipua/pkg/logging"
	"github.com/arzzra/sipua/pkg/ua"
)

// Причины terminated, после которых подписку можно начать заново (RFC 6665 §4.1.3)
var resubscribeReasons = map[string]bool{
	"deactivated": true,
	"timeout":     true,
}

// subscriptionState разобранный заголовок Subscription-State
type subscriptionState struct {
	state   string
	expires uint32
	reason  string
}

func parseSubscriptionState(raw string) subscriptionState {
	parts := strings.Split(raw, ";")
	st := subscriptionState{state: strings.ToLower(strings.TrimSpace(parts[0]))}
	for _, p := range parts[1:] {
		k, v, _ := strings.Cut(strings.TrimSpace(p), "=")
		switch strings.ToLower(k) {
		case "expires":
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				st.expires = uint32(n)
			}
		case "reason":
			st.reason = strings.ToLower(v)
		}
	}
	return st
}

func (st subscriptionState) label() string {
	if st.state == "" {
		return "unknown"
	}
	return st.state
}

// pendingNotify входящий NOTIFY, ожидающий ответа. Отвечают ровно один раз.
type pendingNotify struct {
	req  *sip.Request
	tx   Responder
	once sync.Once
	done chan struct{}
}

func newPendingNotify(req *sip.Request, tx Responder) *pendingNotify {
	return &pendingNotify{req: req, tx: tx, done: make(chan struct{})}
}

// answer отправляет ответ; false, если ответ уже был
func (p *pendingNotify) answer(code int, reason string) (bool, error) {
	var (
		sent bool
		err  error
	)
	p.once.Do(func() {
		sent = true
		err = p.tx.Respond(sip.NewResponseFromRequest(p.req, code, reason, nil))
		close(p.done)
	})
	return sent, err
}

// clientSubscription подписка на событие (RFC 6665)
type clientSubscription struct {
	usage

	profile   *ua.ConversationProfile
	handler   ua.SubscriptionHandler
	logger    logging.StructuredLogger
	eventType string
	accept    string
	contact   sip.Uri

	// под usage.mu
	expires uint32

	// только в горутине обработки
	notified bool
	lastCSeq uint32
	current  *pendingNotify
}

func newClientSubscription(m *Manager, target sip.Uri, profile *ua.ConversationProfile, eventType string, expires uint32, accept string, h ua.SubscriptionHandler) *clientSubscription {
	s := &clientSubscription{
		usage: usage{
			m:      m,
			kind:   "subscription",
			dialog: newDialogState(profile.DefaultFrom, target),
		},
		profile:   profile,
		handler:   h,
		eventType: eventType,
		accept:    accept,
		contact:   m.contactFor(profile.DefaultFrom.Uri),
		expires:   expires,
	}
	s.logger = m.logger.WithFields(
		logging.String("event", eventType),
		logging.String("target", target.String()),
		logging.String("call_id", s.dialog.callID))
	return s
}

func (s *clientSubscription) base() *usage { return &s.usage }

func (s *clientSubscription) start() {
	s.m.spawn(func() { s.exchange(s.currentExpires()) })
}

func (s *clientSubscription) currentExpires() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expires
}

// End отписывается (SUBSCRIBE с Expires: 0)
func (s *clientSubscription) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.stopTimer()
	s.mu.Unlock()

	s.m.spawn(func() { s.exchange(0) })
}

// AcceptUpdate отвечает 200 на текущий NOTIFY
func (s *clientSubscription) AcceptUpdate() {
	s.respond(200, "OK")
}

// RejectUpdate отклоняет текущий NOTIFY
func (s *clientSubscription) RejectUpdate(statusCode int, reason string) {
	s.respond(statusCode, reason)
}

func (s *clientSubscription) respond(code int, reason string) {
	if s.current == nil {
		return
	}
	if _, err := s.current.answer(code, reason); err != nil {
		s.logger.LogError(context.Background(), err, "ответ на NOTIFY не отправлен", logging.Int("status", code))
	}
}

func (s *clientSubscription) request(expires uint32) *sip.Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := s.dialog.request(sip.SUBSCRIBE)
	req.AppendHeader(sip.NewHeader("Event", s.eventType))
	if s.accept != "" {
		req.AppendHeader(sip.NewHeader("Accept", s.accept))
	}
	req.AppendHeader(sip.NewHeader("Expires", strconv.FormatUint(uint64(expires), 10)))
	req.AppendHeader(&sip.ContactHeader{Address: s.contact, Params: sip.NewParams()})
	return req
}

func (s *clientSubscription) exchange(expires uint32) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	for {
		if s.isGone() {
			return
		}
		req := s.request(expires)
		res, err := s.m.do(req, s.profile)
		if err != nil {
			if expires == 0 {
				s.finish(0)
				return
			}
			s.failed(nil)
			return
		}

		switch {
		case isSuccess(res.StatusCode):
			if expires == 0 {
				s.finish(0)
				return
			}
			granted := expires
			if v, ok := headerUint(res, "Expires"); ok {
				granted = v
			}
			s.mu.Lock()
			s.dialog.adopt(toTag(res), firstContact(res))
			if !s.ended {
				s.schedule(refreshDelay(granted), func() { s.exchange(s.currentExpires()) })
			}
			s.mu.Unlock()
			s.logger.Debug(context.Background(), "подписка принята", logging.Int64("granted", int64(granted)))
			return

		case res.StatusCode == 423 && expires != 0:
			if min, ok := headerUint(res, "Min-Expires"); ok && min > expires {
				expires = min
				s.mu.Lock()
				s.expires = min
				s.mu.Unlock()
				continue
			}
			s.failed(res)
			return

		case res.StatusCode == 481:
			s.finish(481)
			return

		default:
			if expires == 0 {
				s.finish(0)
				return
			}
			s.failed(res)
			return
		}
	}
}

// failed res nil означает сетевую ошибку, она отражается как 408
func (s *clientSubscription) failed(res *sip.Response) {
	status := 408
	if res != nil {
		status = res.StatusCode
	}
	s.logger.Warn(context.Background(), "SUBSCRIBE не удался", logging.Int("status", status))

	s.m.post("subscription_retry", func() {
		if s.isGone() {
			return
		}
		delay := s.handler.OnRequestRetry(s, retryAfter(res), res)
		s.mu.Lock()
		retry := delay >= 0 && !s.ended
		if retry {
			s.schedule(secondsOf(delay), func() { s.exchange(s.currentExpires()) })
		}
		s.mu.Unlock()
		if retry {
			s.logger.Info(context.Background(), "повтор подписки", logging.Int("delay", delay))
			return
		}
		s.finish(status)
	})
}

// finish доставляет OnTerminated и уничтожает dialog-set
func (s *clientSubscription) finish(status int) {
	s.destroy(s.handler, func() { s.handler.OnTerminated(s, status) })
}

// resubscribe начинает подписку заново в новом dialog-set
func (s *clientSubscription) resubscribe() {
	s.mu.Lock()
	s.stopTimer()
	oldID := s.dialog.callID
	s.dialog.reset()
	newID := s.dialog.callID
	s.mu.Unlock()

	s.notified = false
	s.lastCSeq = 0
	s.m.rekey(oldID, newID)
	s.logger.Info(context.Background(), "подписка начинается заново", logging.String("new_call_id", newID))
	s.m.spawn(func() { s.exchange(s.currentExpires()) })
}

// onNotify выполняется в горутине обработки
func (s *clientSubscription) onNotify(p *pendingNotify, st subscriptionState) {
	if s.isGone() {
		_, _ = p.answer(481, "Subscription Does Not Exist")
		return
	}

	req := p.req
	var cseq uint32
	if h := req.CSeq(); h != nil {
		cseq = h.SeqNo
	}
	outOfOrder := s.notified && cseq < s.lastCSeq
	if cseq > s.lastCSeq {
		s.lastCSeq = cseq
	}

	s.current = p
	defer func() { s.current = nil }()

	if !s.notified {
		s.notified = true
		s.handler.OnNewSubscription(s, req)
	}

	switch st.state {
	case "active":
		s.handler.OnUpdateActive(s, req, outOfOrder)
		if st.expires > 0 {
			s.mu.Lock()
			if !s.ended {
				s.schedule(refreshDelay(st.expires), func() { s.exchange(s.currentExpires()) })
			}
			s.mu.Unlock()
		}
	case "pending":
		s.handler.OnUpdatePending(s, req, outOfOrder)
	case "terminated":
		s.respond(200, "OK")
		s.mu.Lock()
		again := resubscribeReasons[st.reason] && !s.ended
		if !again {
			s.ended = true
		}
		s.mu.Unlock()
		if again {
			s.resubscribe()
			return
		}
		s.finish(0)
		return
	default:
		s.handler.OnUpdateExtension(s, req, outOfOrder)
	}

	// ядро не ответило само
	s.respond(200, "OK")
}

// HandleNotify обрабатывает входящий NOTIFY. Блокирует до ответа ядра,
// но не дольше таймаута NOTIFY.
func (m *Manager) HandleNotify(req *sip.Request, tx Responder) {
	var callID string
	if h := req.CallID(); h != nil {
		callID = h.Value()
	}
	p := newPendingNotify(req, tx)

	ds, ok := m.lookup(callID)
	if !ok {
		m.logger.Debug(context.Background(), "NOTIFY вне подписки", logging.String("call_id", callID))
		m.answerNotify(p, 481, "Subscription Does Not Exist")
		return
	}
	s, ok := ds.(*clientSubscription)
	if !ok {
		m.logger.LogError(context.Background(), ua.ErrTypeMismatch, "NOTIFY к dialog-set без подписки",
			logging.String("call_id", callID))
		m.answerNotify(p, 481, "Subscription Does Not Exist")
		return
	}

	st := parseSubscriptionState(func() string {
		v, _ := headerValue(req, "Subscription-State")
		return v
	}())
	m.metrics.notifies.WithLabelValues(st.label()).Inc()

	var fromTag string
	if from := req.From(); from != nil && from.Params != nil {
		fromTag, _ = from.Params.Get("tag")
	}
	s.mu.Lock()
	s.dialog.adopt(fromTag, firstContact(req))
	s.mu.Unlock()

	if !m.post("subscription_notify", func() { s.onNotify(p, st) }) {
		m.answerNotify(p, 481, "Subscription Does Not Exist")
		return
	}

	timer := time.NewTimer(m.opts.notifyTimeout)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		m.logger.Warn(context.Background(), "NOTIFY остался без ответа", logging.String("call_id", callID))
		m.answerNotify(p, 500, "Server Internal Error")
	case <-m.ctx.Done():
		m.answerNotify(p, 503, "Service Unavailable")
	}
}

func (m *Manager) answerNotify(p *pendingNotify, code int, reason string) {
	if _, err := p.answer(code, reason); err != nil {
		m.logger.LogError(context.Background(), err, "ответ на NOTIFY не отправлен", logging.Int("status", code))
	}
}
