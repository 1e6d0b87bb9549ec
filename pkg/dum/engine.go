package dum

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"

	"github.com/arzzra/sipua/pkg/logging"
	"github.com/arzzra/sipua/pkg/transport"
	"github.com/arzzra/sipua/pkg/ua"
)

var (
	// ErrNotAttached движок используется до Attach
	ErrNotAttached = errors.New("dialog usage manager is not attached")
	// ErrClosed движок остановлен или завершается
	ErrClosed = errors.New("dialog usage manager is closed")
	// ErrUnknownDialogSet Send получил чужой dialog-set
	ErrUnknownDialogSet = errors.New("unknown dialog set")
)

// dialogSet клиентский dialog-set этого движка
type dialogSet interface {
	ua.DialogSet
	base() *usage
	start()
}

// Manager движок диалоговых использований поверх sipgo: REGISTER,
// SUBSCRIBE/NOTIFY и PUBLISH с обновлением по таймерам.
//
// Сетевой обмен идет в собственных горутинах движка, а все колбэки
// обработчиков доставляются через ua.Poster в горутину обработки.
type Manager struct {
	requester Requester
	opts      options
	logger    logging.StructuredLogger
	metrics   *metrics

	poster ua.Poster

	mu           sync.Mutex
	sets         map[string]dialogSet
	closed       bool
	shuttingDown bool
	listener     ua.ShutdownHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ ua.DialogUsageManager = (*Manager)(nil)

// New создает движок, отправляющий запросы через requester
func New(requester Requester, opts ...Option) *Manager {
	o := options{
		requestTimeout: DefaultRequestTimeout,
		notifyTimeout:  DefaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.GetDefaultLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		requester: requester,
		opts:      o,
		logger:    o.logger.WithComponent(logging.SubsystemDum),
		metrics:   newMetrics(o.registerer),
		sets:      make(map[string]dialogSet),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Attach задает очередь, через которую доставляются колбэки
func (m *Manager) Attach(p ua.Poster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.poster = p
}

func (m *Manager) admit(ds dialogSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.poster == nil {
		return ErrNotAttached
	}
	if m.closed || m.shuttingDown {
		return ErrClosed
	}
	m.sets[ds.base().dialog.callID] = ds
	m.metrics.dialogSets.Set(float64(len(m.sets)))
	return nil
}

// MakeRegistration создает регистрацию профиля
func (m *Manager) MakeRegistration(profile *ua.ConversationProfile, h ua.RegistrationHandler) (ua.ClientRegistration, error) {
	r := newClientRegistration(m, profile, h)
	if err := m.admit(r); err != nil {
		return nil, err
	}
	return r, nil
}

// MakeSubscription создает подписку на eventType у target
func (m *Manager) MakeSubscription(target sip.Uri, profile *ua.ConversationProfile, eventType string, expires uint32, accept string, h ua.SubscriptionHandler) (ua.ClientSubscription, error) {
	s := newClientSubscription(m, target, profile, eventType, expires, accept, h)
	if err := m.admit(s); err != nil {
		return nil, err
	}
	return s, nil
}

// MakePublication создает публикацию body для target
func (m *Manager) MakePublication(target sip.Uri, profile *ua.ConversationProfile, body ua.Contents, eventType string, expires uint32, h ua.PublicationHandler) (ua.ClientPublication, error) {
	p := newClientPublication(m, target, profile, body, eventType, expires, h)
	if err := m.admit(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Send отправляет первичный запрос dialog-set'а. При ошибке dialog-set
// забыт и колбэков по нему не будет.
func (m *Manager) Send(ds ua.DialogSet) error {
	set, ok := ds.(dialogSet)
	if !ok {
		return ErrUnknownDialogSet
	}
	callID := set.base().callID()

	m.mu.Lock()
	_, known := m.sets[callID]
	closed := m.closed
	m.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownDialogSet, callID)
	}
	if closed {
		m.forget(callID)
		return ErrClosed
	}
	set.start()
	return nil
}

// Shutdown запрещает новые dialog-set'ы; когда уничтожен последний,
// вызывается l.OnDumCanBeDeleted.
func (m *Manager) Shutdown(l ua.ShutdownHandler) {
	m.mu.Lock()
	m.shuttingDown = true
	m.listener = l
	empty := len(m.sets) == 0
	if empty {
		m.listener = nil
	}
	m.mu.Unlock()

	m.logger.Info(context.Background(), "завершение движка", logging.Bool("empty", empty))
	if empty {
		m.post("dum_can_be_deleted", l.OnDumCanBeDeleted)
	}
}

// Close останавливает таймеры и дожидается сетевых горутин
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sets := make([]dialogSet, 0, len(m.sets))
	for _, ds := range m.sets {
		sets = append(sets, ds)
	}
	m.mu.Unlock()

	for _, ds := range sets {
		u := ds.base()
		u.mu.Lock()
		u.stopTimer()
		u.mu.Unlock()
	}
	m.cancel()
	m.wg.Wait()
}

// release вызывается в горутине обработки после OnDialogSetDestroyed
func (m *Manager) release(callID string) {
	m.mu.Lock()
	delete(m.sets, callID)
	m.metrics.dialogSets.Set(float64(len(m.sets)))
	var l ua.ShutdownHandler
	if m.shuttingDown && len(m.sets) == 0 && m.listener != nil {
		l = m.listener
		m.listener = nil
	}
	m.mu.Unlock()

	if l != nil {
		m.logger.Debug(context.Background(), "все dialog-set'ы уничтожены")
		l.OnDumCanBeDeleted()
	}
}

func (m *Manager) forget(callID string) {
	m.mu.Lock()
	delete(m.sets, callID)
	m.metrics.dialogSets.Set(float64(len(m.sets)))
	m.mu.Unlock()
}

func (m *Manager) lookup(callID string) (dialogSet, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.sets[callID]
	return ds, ok
}

// post доставляет fn в горутину обработки
func (m *Manager) post(name string, fn func()) bool {
	m.mu.Lock()
	p := m.poster
	m.mu.Unlock()
	if p == nil {
		return false
	}
	err := p.Post(ua.Command{Name: name, Fn: func() error {
		fn()
		return nil
	}})
	return err == nil
}

// spawn запускает сетевой обмен, пока движок не закрыт
func (m *Manager) spawn(fn func()) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// do отправляет запрос, отвечая на вызов аутентификации, если у профиля
// есть учетные данные
func (m *Manager) do(req *sip.Request, profile *ua.ConversationProfile) (*sip.Response, error) {
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.requestTimeout)
	defer cancel()

	if m.opts.userAgent != "" && req.GetHeader("User-Agent") == nil {
		req.AppendHeader(sip.NewHeader("User-Agent", m.opts.userAgent))
	}
	if profile.OutboundProxy != nil {
		req.SetDestination(hostPort(*profile.OutboundProxy))
	}

	method := req.Method.String()
	m.metrics.request(method)
	res, err := m.requester.Do(ctx, req)
	if err != nil {
		m.networkFailure(req, err)
		return nil, err
	}

	if (res.StatusCode == 401 || res.StatusCode == 407) && profile.Username != "" {
		if realm := challengeRealm(res); profile.Realm != "" && !strings.EqualFold(realm, profile.Realm) {
			m.logger.Warn(context.Background(), "область вызова не совпадает с профилем",
				logging.String("realm", realm),
				logging.String("profile_realm", profile.Realm))
			m.metrics.response(method, res.StatusCode)
			return res, nil
		}
		m.metrics.challenges.Inc()
		res, err = m.requester.DoDigestAuth(ctx, req, res, profile.Username, profile.Password)
		if err != nil {
			m.networkFailure(req, err)
			return nil, err
		}
	}
	m.metrics.response(method, res.StatusCode)
	if m.opts.reporter != nil {
		m.opts.reporter.WatchFlow(transport.FlowFromMessage(res))
	}
	return res, nil
}

// challengeRealm realm из WWW-Authenticate или Proxy-Authenticate
func challengeRealm(res *sip.Response) string {
	name := "WWW-Authenticate"
	if res.StatusCode == 407 {
		name = "Proxy-Authenticate"
	}
	v, ok := headerValue(res, name)
	if !ok {
		return ""
	}
	chal, err := digest.ParseChallenge(v)
	if err != nil {
		return ""
	}
	return chal.Realm
}

func (m *Manager) networkFailure(req *sip.Request, err error) {
	m.metrics.networkErrors.Inc()
	flow := flowOf(req)
	m.logger.LogError(context.Background(), err, "запрос не отправлен",
		logging.String("method", req.Method.String()),
		logging.String("flow", flow.String()))
	if m.opts.reporter == nil || !transport.IsNetworkError(err) || !flow.Reliable() {
		return
	}
	m.opts.reporter.ReportFlowTerminated(flow)
}

// contactFor Contact для AOR: адрес движка с user из AOR
func (m *Manager) contactFor(aor sip.Uri) sip.Uri {
	c := m.opts.contact
	if c.Host == "" {
		c = aor
	}
	c.User = aor.User
	c.Password = ""
	params := make(sip.HeaderParams)
	for k, v := range m.opts.contact.UriParams {
		params[k] = v
	}
	c.UriParams = params
	c.Headers = nil
	return c
}

func flowOf(req *sip.Request) transport.FlowKey {
	dest := req.Destination()
	if dest == "" {
		dest = hostPort(req.Recipient)
	}
	return transport.NewFlowKey(req.Transport(), dest)
}

func hostPort(u sip.Uri) string {
	port := u.Port
	if port == 0 {
		port = 5060
		if strings.EqualFold(u.Scheme, "sips") {
			port = 5061
		}
	}
	return fmt.Sprintf("%s:%d", u.Host, port)
}

// rekey переносит dialog-set под новый Call-ID после повторной подписки
func (m *Manager) rekey(oldID, newID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ds, ok := m.sets[oldID]; ok {
		delete(m.sets, oldID)
		m.sets[newID] = ds
	}
}
