package ua

import (
	"errors"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/sipua/pkg/logging"
)

// fakeEngine детерминированный движок для тестов ядра.
// Колбэки доставляются через Poster, как у настоящего движка.
type fakeEngine struct {
	mu     sync.Mutex
	poster Poster

	registrations []*fakeRegistration
	subscriptions []*fakeSubscription
	publications  []*fakePublication
	sent          []DialogSet

	makeErr error
	sendErr error

	// inlineDestroy End вызывает OnDialogSetDestroyed сразу, без очереди
	inlineDestroy bool
	// holdShutdown не отвечать OnDumCanBeDeleted
	holdShutdown   bool
	shutdownCalls  int
	shutdownHolder ShutdownHandler
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{}
}

func (e *fakeEngine) Attach(p Poster) {
	e.poster = p
}

func (e *fakeEngine) deliver(name string, fn func()) {
	_ = e.poster.Post(Command{Name: name, Fn: func() error {
		fn()
		return nil
	}})
}

// destroyed сообщает об уничтожении dialog-set сразу или через очередь
func (e *fakeEngine) destroyed(name string, fn func()) {
	if e.inlineDestroy {
		fn()
		return
	}
	e.deliver(name, fn)
}

func (e *fakeEngine) MakeRegistration(profile *ConversationProfile, h RegistrationHandler) (ClientRegistration, error) {
	if e.makeErr != nil {
		return nil, e.makeErr
	}
	r := &fakeRegistration{engine: e, handler: h, profile: profile}
	e.mu.Lock()
	e.registrations = append(e.registrations, r)
	e.mu.Unlock()
	return r, nil
}

func (e *fakeEngine) MakeSubscription(target sip.Uri, profile *ConversationProfile, eventType string, expires uint32, accept string, h SubscriptionHandler) (ClientSubscription, error) {
	if e.makeErr != nil {
		return nil, e.makeErr
	}
	s := &fakeSubscription{engine: e, handler: h, target: target, eventType: eventType, expires: expires, accept: accept}
	e.mu.Lock()
	e.subscriptions = append(e.subscriptions, s)
	e.mu.Unlock()
	return s, nil
}

func (e *fakeEngine) MakePublication(target sip.Uri, profile *ConversationProfile, body Contents, eventType string, expires uint32, h PublicationHandler) (ClientPublication, error) {
	if e.makeErr != nil {
		return nil, e.makeErr
	}
	p := &fakePublication{engine: e, handler: h, target: target, body: body, eventType: eventType}
	e.mu.Lock()
	e.publications = append(e.publications, p)
	e.mu.Unlock()
	return p, nil
}

func (e *fakeEngine) Send(ds DialogSet) error {
	if e.sendErr != nil {
		return e.sendErr
	}
	e.mu.Lock()
	e.sent = append(e.sent, ds)
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Shutdown(l ShutdownHandler) {
	e.mu.Lock()
	e.shutdownCalls++
	e.shutdownHolder = l
	hold := e.holdShutdown
	e.mu.Unlock()
	if hold {
		return
	}
	// освобождение приходит после уничтожения dialog-set'ов, которые
	// ядро завершит в той же команде
	e.deliver("dum_release", func() {
		e.deliver("dum_can_be_deleted", l.OnDumCanBeDeleted)
	})
}

func (e *fakeEngine) registration(i int) *fakeRegistration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registrations[i]
}

func (e *fakeEngine) subscription(i int) *fakeSubscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subscriptions[i]
}

func (e *fakeEngine) publication(i int) *fakePublication {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.publications[i]
}

// fakeRegistration End приводит к уничтожению dialog-set
type fakeRegistration struct {
	engine    *fakeEngine
	handler   RegistrationHandler
	profile   *ConversationProfile
	contacts  []sip.Uri
	ended     int
	refreshes int
}

func (r *fakeRegistration) End() {
	r.ended++
	r.engine.destroyed("registration_destroyed", r.handler.OnDialogSetDestroyed)
}

func (r *fakeRegistration) ForceRefresh() { r.refreshes++ }

func (r *fakeRegistration) MyContacts() []sip.Uri { return r.contacts }

// succeed имитирует 200 OK на REGISTER, пришедший по flow network/source
func (r *fakeRegistration) succeed(network, source string, contacts ...sip.Uri) {
	r.contacts = contacts
	req := sip.NewRequest(sip.REGISTER, r.profile.DefaultFrom.Uri)
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.SetTransport(network)
	res.SetSource(source)
	r.engine.deliver("registration_success", func() { r.handler.OnSuccess(r, res) })
}

type fakeSubscription struct {
	engine    *fakeEngine
	handler   SubscriptionHandler
	target    sip.Uri
	eventType string
	expires   uint32
	accept    string
	ended     int
	accepted  int
}

func (s *fakeSubscription) End() {
	s.ended++
	s.engine.destroyed("subscription_destroyed", s.handler.OnDialogSetDestroyed)
}

func (s *fakeSubscription) AcceptUpdate()            { s.accepted++ }
func (s *fakeSubscription) RejectUpdate(int, string) {}

func (s *fakeSubscription) notify(body string) {
	req := sip.NewRequest(sip.NOTIFY, s.target)
	req.SetBody([]byte(body))
	s.engine.deliver("notify", func() { s.handler.OnUpdateActive(s, req, false) })
}

type fakePublication struct {
	engine    *fakeEngine
	handler   PublicationHandler
	target    sip.Uri
	body      Contents
	eventType string
	ended     int
	updates   []Contents
}

func (p *fakePublication) End() {
	p.ended++
	p.engine.destroyed("publication_destroyed", p.handler.OnDialogSetDestroyed)
}

func (p *fakePublication) Update(body Contents) {
	p.updates = append(p.updates, body)
}

var errFakeEngine = errors.New("fake engine failure")

// newTestUA агент с быстрым опросом и без вывода логов
func newTestUA(engine *fakeEngine, opts ...Option) *UserAgent {
	base := []Option{
		WithLogger(logging.NoOpLogger{}),
		WithPollInterval(5 * time.Millisecond),
	}
	ua, err := New(engine, append(base, opts...)...)
	if err != nil {
		panic(err)
	}
	return ua
}

// drain выполняет команды, пока очередь не опустеет
func drain(ua *UserAgent) {
	for ua.Process(0) > 0 {
	}
}

func mustUri(raw string) sip.Uri {
	var u sip.Uri
	if err := sip.ParseUri(raw, &u); err != nil {
		panic(err)
	}
	return u
}

func fakeResponse(code int) *sip.Response {
	req := sip.NewRequest(sip.REGISTER, mustUri("sip:registrar.example.com"))
	return sip.NewResponseFromRequest(req, code, "", nil)
}

func testProfile(aor string, regTime uint32) *ConversationProfile {
	return &ConversationProfile{
		DefaultFrom:             NameAddr{Uri: mustUri(aor)},
		DefaultRegistrationTime: regTime,
	}
}

// recordingApp запоминает вызовы точек расширения
type recordingApp struct {
	BaseApplication
	mu         sync.Mutex
	timers     []uint32
	notifies   [][]byte
	terminated []SubscriptionHandle
	regStates  []string
	pubStates  []string
}

func (a *recordingApp) OnApplicationTimer(id uint32, _ time.Duration, _ uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timers = append(a.timers, id)
}

func (a *recordingApp) OnSubscriptionNotify(_ SubscriptionHandle, body []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notifies = append(a.notifies, body)
}

func (a *recordingApp) OnSubscriptionTerminated(h SubscriptionHandle, _ int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.terminated = append(a.terminated, h)
}

func (a *recordingApp) OnRegistrationStateChanged(_ ConversationProfileHandle, state string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.regStates = append(a.regStates, state)
}

func (a *recordingApp) OnPublicationStateChanged(_ PublicationHandle, state string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pubStates = append(a.pubStates, state)
}

func (a *recordingApp) timerIDs() []uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]uint32, len(a.timers))
	copy(out, a.timers)
	return out
}
