package ua

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"

	"github.com/arzzra/sipua/pkg/logging"
)

// UserAgent управляет профилями, регистрациями, подписками и публикациями.
//
// Публичные операции можно вызывать из любой горутины: они выделяют хэндл
// и ставят команду в очередь. Состояние меняется только в горутине
// обработки, то есть в той, что сейчас выполняет Process (или Run).
// Методы, помеченные "только горутина обработки", можно вызывать из
// колбэков Application или между вызовами Process.
type UserAgent struct {
	opts    options
	exec    *Executor
	engine  DialogUsageManager
	stack   Stack
	app     Application
	logger  logging.StructuredLogger
	metrics *Metrics

	subscriptionHandles *handleAllocator[SubscriptionHandle]
	publicationHandles  *handleAllocator[PublicationHandle]
	profileHandles      *handleAllocator[ConversationProfileHandle]

	// только горутина обработки
	profiles        *registry[ConversationProfileHandle, *ConversationProfile]
	registrations   *registry[ConversationProfileHandle, *Registration]
	subscriptions   *registry[SubscriptionHandle, *Subscription]
	publications    *registry[PublicationHandle, *Publication]
	defaultOutgoing optionalProfile

	lifecycle     *fsm.FSM
	dumShutdown   atomic.Bool
	shutdownOnce  sync.Once
	shutdownErr   error
	shutdownStart time.Time
	// завершение без ожидания, запрошенное из колбэка
	asyncShutdown atomic.Bool
	finishOnce    sync.Once
}

// New создает агента поверх движка диалоговых использований
func New(engine DialogUsageManager, opts ...Option) (*UserAgent, error) {
	if engine == nil {
		return nil, errors.New("dialog usage manager is required")
	}
	o := options{
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.GetDefaultLogger()
	}
	if o.app == nil {
		o.app = BaseApplication{}
	}

	metrics := NewMetrics(o.registerer)
	ua := &UserAgent{
		opts:    o,
		engine:  engine,
		stack:   o.stack,
		app:     o.app,
		logger:  o.logger.WithComponent(logging.SubsystemUA),
		metrics: metrics,

		subscriptionHandles: newHandleAllocator[SubscriptionHandle](),
		publicationHandles:  newHandleAllocator[PublicationHandle](),
		profileHandles:      newHandleAllocator[ConversationProfileHandle](),

		profiles:      newRegistry[ConversationProfileHandle, *ConversationProfile](kindProfile),
		registrations: newRegistry[ConversationProfileHandle, *Registration](kindRegistration),
		subscriptions: newRegistry[SubscriptionHandle, *Subscription](kindSubscription),
		publications:  newRegistry[PublicationHandle, *Publication](kindPublication),

		lifecycle: newShutdownFSM(),
	}
	ua.exec = NewExecutor(o.logger, metrics)
	engine.Attach(ua.exec)
	return ua, nil
}

// Process выполняет накопившиеся команды; ждет работу не дольше timeout
func (ua *UserAgent) Process(timeout time.Duration) int {
	return ua.exec.Process(timeout)
}

// Run обрабатывает команды, пока не отменен ctx или агент не завершен
func (ua *UserAgent) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ua.exec.Closed() {
			return nil
		}
		ua.exec.Process(ua.opts.pollInterval)
	}
}

// Poster очередь агента; через нее движок и транспорт доставляют события
func (ua *UserAgent) Poster() Poster {
	return ua.exec
}

// SetLogLevel меняет уровень логирования подсистемы
func (ua *UserAgent) SetLogLevel(level logging.LogLevel, subsystem logging.Subsystem) {
	ua.logger.SetLevel(subsystem, level)
}

func (ua *UserAgent) post(cmd Command) {
	// после закрытия очереди Post сам логирует отброшенную команду
	_ = ua.exec.Post(cmd)
}

// --- профили ---

// AddConversationProfile проверяет профиль и добавляет его. Если у профиля
// задано время регистрации, запускается регистрация. Первый добавленный
// профиль становится профилем по умолчанию.
func (ua *UserAgent) AddConversationProfile(p *ConversationProfile, defaultOutgoing bool) (ConversationProfileHandle, error) {
	if err := p.Validate(); err != nil {
		return NoConversationProfile, err
	}
	h := ua.profileHandles.Next()
	ua.post(Command{
		Name: "add_conversation_profile",
		Fn: func() error {
			return ua.addConversationProfileImpl(h, p, defaultOutgoing)
		},
	})
	return h, nil
}

// DestroyConversationProfile снимает регистрацию профиля и удаляет его
func (ua *UserAgent) DestroyConversationProfile(h ConversationProfileHandle) {
	ua.post(Command{
		Name: "destroy_conversation_profile",
		Fn: func() error {
			return ua.destroyConversationProfileImpl(h)
		},
	})
}

// SetDefaultOutgoingConversationProfile назначает профиль по умолчанию
func (ua *UserAgent) SetDefaultOutgoingConversationProfile(h ConversationProfileHandle) {
	ua.post(Command{
		Name: "set_default_outgoing_profile",
		Fn: func() error {
			if !ua.profiles.Has(h) {
				return errEntityNotFound(kindProfile, uint64(h))
			}
			ua.defaultOutgoing = someProfile(h)
			return nil
		},
	})
}

// ConversationProfile профиль по хэндлу. Только горутина обработки.
func (ua *UserAgent) ConversationProfile(h ConversationProfileHandle) (*ConversationProfile, bool) {
	return ua.profiles.Get(h)
}

// DefaultOutgoingConversationProfile хэндл профиля по умолчанию.
// Только горутина обработки.
func (ua *UserAgent) DefaultOutgoingConversationProfile() (ConversationProfileHandle, bool) {
	return ua.defaultOutgoing.get()
}

// Registration регистрация профиля. Только горутина обработки.
func (ua *UserAgent) Registration(h ConversationProfileHandle) (*Registration, bool) {
	return ua.registrations.Get(h)
}

func (ua *UserAgent) defaultProfile() (*ConversationProfile, bool) {
	h, ok := ua.defaultOutgoing.get()
	if !ok {
		return nil, false
	}
	return ua.profiles.Get(h)
}

func (ua *UserAgent) addConversationProfileImpl(h ConversationProfileHandle, p *ConversationProfile, defaultOutgoing bool) error {
	p.handle = h
	ua.profiles.Set(h, p)
	ua.metrics.entityAdded(kindProfile)
	if defaultOutgoing || !ua.defaultOutgoing.set {
		ua.defaultOutgoing = someProfile(h)
	}
	ua.logger.Info(context.Background(), "профиль добавлен",
		logging.Uint64("profile", uint64(h)),
		logging.String("aor", p.AOR()))

	if p.DefaultRegistrationTime == 0 {
		return nil
	}
	if ua.shuttingDown() {
		return ErrShuttingDown
	}

	reg := newRegistration(ua, p)
	ds, err := ua.engine.MakeRegistration(p, reg)
	if err != nil {
		ua.dropRegistration(reg)
		return errEngine("make_registration", err)
	}
	reg.dialogSet = ds
	if err := ua.engine.Send(ds); err != nil {
		ua.dropRegistration(reg)
		return errEngine("send_registration", err)
	}
	return nil
}

func (ua *UserAgent) dropRegistration(reg *Registration) {
	ua.registrations.Delete(reg.handle)
	ua.metrics.entityRemoved(kindRegistration)
}

func (ua *UserAgent) destroyConversationProfileImpl(h ConversationProfileHandle) error {
	if reg, ok := ua.registrations.Get(h); ok {
		reg.End()
	}
	if !ua.profiles.Has(h) {
		return errEntityNotFound(kindProfile, uint64(h))
	}
	ua.profiles.Delete(h)
	ua.metrics.entityRemoved(kindProfile)

	if current, ok := ua.defaultOutgoing.get(); ok && current == h {
		ua.defaultOutgoing = optionalProfile{}
		if next, found := ua.profiles.First(); found {
			ua.defaultOutgoing = someProfile(next)
		}
	}
	ua.logger.Info(context.Background(), "профиль удален",
		logging.Uint64("profile", uint64(h)),
		logging.Uint64("default", uint64(ua.defaultOutgoing.value())))
	return nil
}

// --- подписки ---

// CreateSubscription подписывается на eventType у target от имени профиля
// по умолчанию. Хэндл возвращается сразу; о неудаче приложение узнает из
// OnSubscriptionTerminated.
func (ua *UserAgent) CreateSubscription(eventType string, target sip.Uri, subscriptionTime uint32, mimeType string) SubscriptionHandle {
	h := ua.subscriptionHandles.Next()
	ua.post(Command{
		Name: "create_subscription",
		Fn: func() error {
			return ua.createSubscriptionImpl(h, eventType, target, subscriptionTime, mimeType)
		},
	})
	return h
}

// DestroySubscription завершает подписку
func (ua *UserAgent) DestroySubscription(h SubscriptionHandle) {
	ua.post(Command{
		Name: "destroy_subscription",
		Fn: func() error {
			s, ok := ua.subscriptions.Get(h)
			if !ok {
				return errEntityNotFound(kindSubscription, uint64(h))
			}
			s.End()
			return nil
		},
	})
}

// Subscription подписка по хэндлу. Только горутина обработки.
func (ua *UserAgent) Subscription(h SubscriptionHandle) (*Subscription, bool) {
	return ua.subscriptions.Get(h)
}

func (ua *UserAgent) createSubscriptionImpl(h SubscriptionHandle, eventType string, target sip.Uri, expires uint32, mimeType string) error {
	fail := func(err error) error {
		ua.app.OnSubscriptionTerminated(h, 0)
		return err
	}
	if ua.shuttingDown() {
		return fail(ErrShuttingDown)
	}
	profile, ok := ua.defaultProfile()
	if !ok {
		return fail(errNoProfileConfigured("create_subscription"))
	}

	s := newSubscription(ua, h, eventType)
	ds, err := ua.engine.MakeSubscription(target, profile, eventType, expires, mimeType, s)
	if err != nil {
		ua.dropSubscription(s)
		return fail(errEngine("make_subscription", err))
	}
	s.dialogSet = ds
	if err := ua.engine.Send(ds); err != nil {
		ua.dropSubscription(s)
		return fail(errEngine("send_subscription", err))
	}
	return nil
}

func (ua *UserAgent) dropSubscription(s *Subscription) {
	ua.subscriptions.Delete(s.handle)
	ua.metrics.entityRemoved(kindSubscription)
}

// --- публикации ---

// CreatePublication публикует status (PIDF с RPID) для target от имени
// профиля по умолчанию. mimeType, если задан, заменяет тип содержимого.
func (ua *UserAgent) CreatePublication(eventType string, target sip.Uri, status string, publicationTime uint32, mimeType string) PublicationHandle {
	h := ua.publicationHandles.Next()
	ua.post(Command{
		Name: "create_publication",
		Fn: func() error {
			return ua.createPublicationImpl(h, eventType, target, status, publicationTime, mimeType)
		},
	})
	return h
}

// UpdatePublication публикует новый статус в рамках существующей публикации.
// Недопустимый статус отклоняется, публикация сохраняет прежний.
func (ua *UserAgent) UpdatePublication(h PublicationHandle, status string) {
	ua.post(Command{
		Name: "update_publication",
		Fn: func() error {
			p, ok := ua.publications.Get(h)
			if !ok {
				return errEntityNotFound(kindPublication, uint64(h))
			}
			body, err := presenceContents(p.target, status, p.mimeType)
			if err != nil {
				return err
			}
			p.Update(status, body)
			return nil
		},
	})
}

// DestroyPublication снимает публикацию
func (ua *UserAgent) DestroyPublication(h PublicationHandle) {
	ua.post(Command{
		Name: "destroy_publication",
		Fn: func() error {
			p, ok := ua.publications.Get(h)
			if !ok {
				return errEntityNotFound(kindPublication, uint64(h))
			}
			p.End()
			return nil
		},
	})
}

// Publication публикация по хэндлу. Только горутина обработки.
func (ua *UserAgent) Publication(h PublicationHandle) (*Publication, bool) {
	return ua.publications.Get(h)
}

func (ua *UserAgent) createPublicationImpl(h PublicationHandle, eventType string, target sip.Uri, status string, expires uint32, mimeType string) error {
	fail := func(err error) error {
		ua.app.OnPublicationStateChanged(h, PublicationTerminated)
		return err
	}
	if ua.shuttingDown() {
		return fail(ErrShuttingDown)
	}
	profile, ok := ua.defaultProfile()
	if !ok {
		return fail(errNoProfileConfigured("create_publication"))
	}
	body, err := presenceContents(target, status, mimeType)
	if err != nil {
		return fail(err)
	}

	p := newPublication(ua, h, eventType, status)
	p.target = target
	p.mimeType = mimeType
	ds, err := ua.engine.MakePublication(target, profile, body, eventType, expires, p)
	if err != nil {
		ua.dropPublication(p)
		return fail(errEngine("make_publication", err))
	}
	p.dialogSet = ds
	if err := ua.engine.Send(ds); err != nil {
		ua.dropPublication(p)
		return fail(errEngine("send_publication", err))
	}
	return nil
}

func (ua *UserAgent) dropPublication(p *Publication) {
	ua.publications.Delete(p.handle)
	ua.metrics.entityRemoved(kindPublication)
}

func presenceContents(target sip.Uri, status, mimeType string) (Contents, error) {
	entity := target
	entity.UriParams = nil
	entity.Headers = nil
	doc, err := BuildPresenceDocument(entity.String(), status)
	if errors.Is(err, ErrInvalidPresenceStatus) {
		return Contents{}, errInvalidPresenceStatus(err)
	}
	if err != nil {
		return Contents{}, newError("PIDF_BUILD_FAILED", "не удалось построить presence-документ", ErrorCategorySystem, err)
	}
	contentType := PidfContentType
	if mimeType != "" {
		contentType = mimeType
	}
	return Contents{ContentType: contentType, Body: doc}, nil
}
