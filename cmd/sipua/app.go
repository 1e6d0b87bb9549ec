package main

import (
	"context"
	"errors"

	"github.com/emiago/sipgo"

	"github.com/arzzra/sipua/pkg/dum"
	"github.com/arzzra/sipua/pkg/logging"
	"github.com/arzzra/sipua/pkg/transport"
	"github.com/arzzra/sipua/pkg/ua"
)

// daemonApp пишет события агента в журнал
type daemonApp struct {
	ua.BaseApplication
	logger logging.StructuredLogger
}

func newDaemonApp(logger logging.StructuredLogger) *daemonApp {
	return &daemonApp{BaseApplication: ua.BaseApplication{}, logger: logger.WithComponent(logging.SubsystemUA)}
}

func (a *daemonApp) OnSubscriptionNotify(h ua.SubscriptionHandle, body []byte) {
	a.logger.Info(context.Background(), "notify",
		logging.Uint64("subscription", uint64(h)),
		logging.Int("body_len", len(body)))
}

func (a *daemonApp) OnSubscriptionTerminated(h ua.SubscriptionHandle, statusCode int) {
	a.logger.Info(context.Background(), "subscription terminated",
		logging.Uint64("subscription", uint64(h)),
		logging.Int("status", statusCode))
}

func (a *daemonApp) OnRegistrationStateChanged(h ua.ConversationProfileHandle, state string) {
	a.logger.Info(context.Background(), "registration state",
		logging.Uint64("profile", uint64(h)),
		logging.String("state", state))
}

func (a *daemonApp) OnPublicationStateChanged(h ua.PublicationHandle, state string) {
	a.logger.Info(context.Background(), "publication state",
		logging.Uint64("publication", uint64(h)),
		logging.String("state", state))
}

// stack останавливает сетевую часть после освобождения движка
type stack struct {
	engine     *dum.Manager
	transports *transport.Manager
	sipUA      *sipgo.UserAgent
}

func (s *stack) Shutdown() error {
	s.engine.Close()
	return errors.Join(s.transports.Shutdown(), s.sipUA.Close())
}
