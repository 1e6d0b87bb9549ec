package ua

import (
	"context"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/sipua/pkg/logging"
)

// Состояния завершения работы агента
const (
	StateRunning            = "running"
	StateShutdownRequested  = "shutdown_requested"
	StateEntitiesEnding     = "entities_ending"
	StateEngineShuttingDown = "engine_shutting_down"
	StateTerminated         = "terminated"
)

func newShutdownFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateRunning,
		fsm.Events{
			{Name: "request", Src: []string{StateRunning}, Dst: StateShutdownRequested},
			{Name: "end_entities", Src: []string{StateShutdownRequested}, Dst: StateEntitiesEnding},
			// движок может отчитаться синхронно, еще до завершения сущностей
			{Name: "engine_released", Src: []string{StateShutdownRequested, StateEntitiesEnding}, Dst: StateEngineShuttingDown},
			{Name: "terminate", Src: []string{StateRunning, StateShutdownRequested, StateEntitiesEnding, StateEngineShuttingDown}, Dst: StateTerminated},
		},
		fsm.Callbacks{},
	)
}

// shutdownListener получает OnDumCanBeDeleted от движка
type shutdownListener struct {
	ua *UserAgent
}

func (l shutdownListener) OnDumCanBeDeleted() {
	l.ua.engineReleased()
}

// Shutdown завершает работу: снимает подписки, публикации и регистрации,
// дожидается освобождения движка и останавливает сетевой стек.
//
// Вызывающая горутина на время ожидания становится горутиной обработки.
// Ожидание ограничено дедлайном ctx или WithShutdownTimeout; по истечении
// возвращается ошибка с ErrShutdownTimedOut, а стек и очередь все равно
// останавливаются. Повторный вызов возвращает результат первого.
//
// Из колбэка Application (то есть изнутри команды) Shutdown не ждет:
// завершение продолжается в горутине обработки, дедлайн соблюдается
// отложенной командой, а вызов сразу возвращает ошибку с ErrShuttingDown.
func (ua *UserAgent) Shutdown(ctx context.Context) error {
	ua.shutdownOnce.Do(func() {
		ua.shutdownErr = ua.shutdown(ctx)
	})
	return ua.shutdownErr
}

func (ua *UserAgent) shutdown(ctx context.Context) error {
	ua.shutdownStart = time.Now()
	if ua.opts.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ua.opts.shutdownTimeout)
		defer cancel()
	}

	ua.transition("request")
	ua.logger.Info(ctx, "завершение работы запрошено")

	if ua.exec.InCommand() {
		ua.asyncShutdown.Store(true)
		ua.post(Command{Name: "shutdown", Fn: ua.shutdownImpl})
		if deadline, ok := ctx.Deadline(); ok {
			_ = ua.exec.PostAfter(Command{Name: "shutdown_deadline", Fn: func() error {
				err := errShutdownTimedOut(ua.lifecycle.Current(), context.DeadlineExceeded)
				ua.finishShutdown(err)
				return err
			}}, time.Until(deadline))
		}
		return errShutdownPending(ua.lifecycle.Current())
	}

	ua.post(Command{Name: "shutdown", Fn: ua.shutdownImpl})

	var result error
	for !ua.dumShutdown.Load() {
		if err := ctx.Err(); err != nil {
			result = errShutdownTimedOut(ua.lifecycle.Current(), err)
			ua.logger.LogError(ctx, result, "движок не завершился вовремя")
			break
		}
		ua.exec.Process(ua.opts.pollInterval)
	}
	ua.finishShutdown(result)
	return result
}

// finishShutdown останавливает стек и очередь; выполняется один раз
func (ua *UserAgent) finishShutdown(result error) {
	ua.finishOnce.Do(func() {
		if ua.stack != nil {
			if err := ua.stack.Shutdown(); err != nil {
				ua.logger.LogError(context.Background(), err, "ошибка остановки стека")
			}
		}
		ua.exec.Close()
		ua.transition("terminate")

		elapsed := time.Since(ua.shutdownStart)
		ua.metrics.shutdownFinished(elapsed)
		ua.logger.Info(context.Background(), "работа завершена",
			logging.Duration("elapsed", elapsed),
			logging.Bool("timed_out", result != nil))
	})
}

// shutdownImpl выполняется в горутине обработки
func (ua *UserAgent) shutdownImpl() error {
	ua.engine.Shutdown(shutdownListener{ua: ua})
	ua.transition("end_entities")

	// снимки: End может синхронно изменить реестры
	subscriptions := ua.subscriptions.Snapshot()
	publications := ua.publications.Snapshot()
	registrations := ua.registrations.Snapshot()

	for _, s := range subscriptions {
		s.End()
	}
	for _, p := range publications {
		p.End()
	}
	for _, r := range registrations {
		r.End()
	}
	ua.logger.Debug(context.Background(), "сущности завершаются",
		logging.Int("subscriptions", len(subscriptions)),
		logging.Int("publications", len(publications)),
		logging.Int("registrations", len(registrations)))
	return nil
}

func (ua *UserAgent) engineReleased() {
	ua.dumShutdown.Store(true)
	ua.transition("engine_released")
	ua.logger.Debug(context.Background(), "движок можно удалять")
	if ua.asyncShutdown.Load() {
		ua.finishShutdown(nil)
	}
}

func (ua *UserAgent) transition(event string) {
	if _, err := fire(ua.lifecycle, event); err != nil {
		ua.logger.LogError(context.Background(), err, "ошибка перехода", logging.String("event", event))
	}
}

// LifecycleState текущее состояние агента
func (ua *UserAgent) LifecycleState() string {
	return ua.lifecycle.Current()
}

func (ua *UserAgent) shuttingDown() bool {
	return ua.lifecycle.Current() != StateRunning
}
