package dum

import (
	"context"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/sipua/pkg/logging"
	"github.com/arzzra/sipua/pkg/ua"
)

// clientRegistration привязка Contact к AOR профиля (RFC 3261 §10)
type clientRegistration struct {
	usage

	profile *ua.ConversationProfile
	handler ua.RegistrationHandler
	logger  logging.StructuredLogger

	registrar sip.Uri
	contact   sip.Uri

	// под usage.mu
	expires  uint32
	contacts []sip.Uri
}

func newClientRegistration(m *Manager, profile *ua.ConversationProfile, h ua.RegistrationHandler) *clientRegistration {
	aor := profile.DefaultFrom.Uri
	registrar := sip.Uri{Scheme: aor.Scheme, Host: aor.Host, Port: aor.Port}

	contact := m.contactFor(aor)
	// rinstance отличает наши привязки от чужих привязок того же AOR
	contact.UriParams["rinstance"] = newTag()[:8]

	to := aor
	to.UriParams = nil
	to.Headers = nil

	r := &clientRegistration{
		usage: usage{
			m:      m,
			kind:   "registration",
			dialog: newDialogState(profile.DefaultFrom, to),
		},
		profile:   profile,
		handler:   h,
		registrar: registrar,
		contact:   contact,
		expires:   profile.DefaultRegistrationTime,
	}
	r.logger = m.logger.WithFields(
		logging.String("aor", profile.AOR()),
		logging.String("call_id", r.dialog.callID))
	return r
}

func (r *clientRegistration) base() *usage { return &r.usage }

func (r *clientRegistration) start() {
	r.m.spawn(func() { r.exchange(r.currentExpires()) })
}

func (r *clientRegistration) currentExpires() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expires
}

// End снимает привязку (REGISTER с Expires: 0)
func (r *clientRegistration) End() {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return
	}
	r.ended = true
	r.stopTimer()
	r.mu.Unlock()

	r.m.spawn(func() { r.exchange(0) })
}

// ForceRefresh обновляет привязку немедленно
func (r *clientRegistration) ForceRefresh() {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return
	}
	r.stopTimer()
	expires := r.expires
	r.mu.Unlock()

	r.m.spawn(func() { r.exchange(expires) })
}

// MyContacts привязки, подтвержденные регистратором
func (r *clientRegistration) MyContacts() []sip.Uri {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sip.Uri, len(r.contacts))
	copy(out, r.contacts)
	return out
}

func (r *clientRegistration) request(expires uint32) *sip.Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	// REGISTER идет на регистратор, в To остается AOR
	r.dialog.remoteTarget = &r.registrar
	req := r.dialog.request(sip.REGISTER)
	req.AppendHeader(&sip.ContactHeader{Address: r.contact, Params: sip.NewParams()})
	req.AppendHeader(sip.NewHeader("Expires", strconv.FormatUint(uint64(expires), 10)))
	return req
}

// exchange выполняет REGISTER, повторяя его при 423 с Min-Expires
func (r *clientRegistration) exchange(expires uint32) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	for {
		if r.isGone() {
			return
		}
		req := r.request(expires)
		res, err := r.m.do(req, r.profile)
		if err != nil {
			r.failed(expires, nil)
			return
		}

		switch {
		case isSuccess(res.StatusCode):
			r.succeeded(expires, res)
			return

		case res.StatusCode == 423 && expires != 0:
			if min, ok := headerUint(res, "Min-Expires"); ok && min > expires {
				r.logger.Info(context.Background(), "регистратор требует больший Expires",
					logging.Int64("min_expires", int64(min)))
				expires = min
				r.mu.Lock()
				r.expires = min
				r.mu.Unlock()
				continue
			}
			r.failed(expires, res)
			return

		default:
			r.failed(expires, res)
			return
		}
	}
}

func (r *clientRegistration) succeeded(expires uint32, res *sip.Response) {
	if expires == 0 {
		r.mu.Lock()
		r.contacts = nil
		r.mu.Unlock()
		r.destroy(r.handler, func() { r.handler.OnRemoved(r, res) })
		return
	}

	granted, confirmed := r.bindings(res, expires)
	r.mu.Lock()
	if r.gone {
		r.mu.Unlock()
		return
	}
	r.contacts = confirmed
	if !r.ended {
		r.schedule(refreshDelay(granted), func() { r.exchange(r.currentExpires()) })
	}
	r.mu.Unlock()

	r.logger.Debug(context.Background(), "привязка подтверждена",
		logging.Int64("granted", int64(granted)),
		logging.Int("contacts", len(confirmed)))
	r.m.post("registration_success", func() { r.handler.OnSuccess(r, res) })
}

// bindings выданное время жизни нашей привязки и подтвержденные контакты
func (r *clientRegistration) bindings(res *sip.Response, requested uint32) (uint32, []sip.Uri) {
	granted := requested
	if v, ok := headerUint(res, "Expires"); ok {
		granted = v
	}
	var confirmed []sip.Uri
	for _, c := range contacts(res) {
		if !sameBinding(c.Address, r.contact) {
			continue
		}
		confirmed = append(confirmed, c.Address)
		if c.Params == nil {
			continue
		}
		if v, ok := c.Params.Get("expires"); ok {
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				granted = uint32(n)
			}
		}
	}
	if len(confirmed) == 0 {
		confirmed = []sip.Uri{r.contact}
	}
	return granted, confirmed
}

// failed res nil означает сетевую ошибку
func (r *clientRegistration) failed(expires uint32, res *sip.Response) {
	status := 0
	if res != nil {
		status = res.StatusCode
	}
	r.logger.Warn(context.Background(), "REGISTER не удался",
		logging.Int("status", status),
		logging.Int64("expires", int64(expires)))

	if expires == 0 {
		// снять привязку не удалось, но dialog-set все равно закончен
		r.destroy(r.handler, func() { r.handler.OnRemoved(r, res) })
		return
	}

	r.m.post("registration_retry", func() {
		if r.isGone() {
			return
		}
		delay := r.handler.OnRequestRetry(r, retryAfter(res), res)
		r.mu.Lock()
		retry := delay >= 0 && !r.ended
		if retry {
			r.schedule(secondsOf(delay), func() { r.exchange(r.currentExpires()) })
		}
		r.mu.Unlock()
		if retry {
			r.logger.Info(context.Background(), "повтор регистрации", logging.Int("delay", delay))
			return
		}
		r.handler.OnFailure(r, res)
		r.destroy(r.handler, nil)
	})
}

// sameBinding сравнивает привязку по user, host, port и rinstance
func sameBinding(a, b sip.Uri) bool {
	if a.User != b.User || !strings.EqualFold(a.Host, b.Host) || a.Port != b.Port {
		return false
	}
	ai, aok := a.UriParams.Get("rinstance")
	bi, bok := b.UriParams.Get("rinstance")
	return aok == bok && ai == bi
}
