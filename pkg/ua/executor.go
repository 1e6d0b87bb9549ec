package ua

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/sipua/pkg/logging"
)

// Command единица работы для горутины обработки.
// Замыкание владеет своими аргументами.
type Command struct {
	Name string
	Fn   func() error
}

// Poster принимает команды из любой горутины.
// Реализуется Executor; движок и транспорт получают его вместо
// прямого доступа к агенту.
type Poster interface {
	Post(cmd Command) error
	PostAfter(cmd Command, d time.Duration) error
}

// Executor неограниченная FIFO очередь команд с единственным исполнителем.
//
// Post никогда не блокируется. Process выполняет команды строго по одной:
// одновременно обрабатывать очередь может только одна горутина.
// Команды, поставленные из выполняемой команды, попадают в очередь и
// выполняются следующим проходом, а не рекурсивно.
type Executor struct {
	mu      sync.Mutex
	queue   []Command
	closed  bool
	delayed map[*time.Timer]struct{}
	signal  chan struct{}

	processMu sync.Mutex
	inCommand atomic.Bool

	logger  logging.StructuredLogger
	metrics *Metrics
}

// NewExecutor создает очередь команд
func NewExecutor(logger logging.StructuredLogger, metrics *Metrics) *Executor {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Executor{
		delayed: make(map[*time.Timer]struct{}),
		signal:  make(chan struct{}, 1),
		logger:  logger.WithComponent(logging.SubsystemExecutor),
		metrics: metrics,
	}
}

// Post ставит команду в конец очереди
func (e *Executor) Post(cmd Command) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.logger.Warn(context.Background(), "команда отброшена, очередь закрыта",
			logging.String("command", cmd.Name))
		return ErrExecutorClosed
	}
	e.queue = append(e.queue, cmd)
	depth := len(e.queue)
	e.mu.Unlock()

	e.metrics.commandPosted()
	e.metrics.setQueueDepth(depth)

	select {
	case e.signal <- struct{}{}:
	default:
	}
	return nil
}

// PostAfter ставит команду в очередь по истечении d.
// Незапущенные отложенные команды останавливаются при Close.
func (e *Executor) PostAfter(cmd Command, d time.Duration) error {
	if d <= 0 {
		return e.Post(cmd)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrExecutorClosed
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		e.mu.Lock()
		delete(e.delayed, t)
		e.mu.Unlock()
		// после Close ошибка уже залогирована в Post
		_ = e.Post(cmd)
	})
	e.delayed[t] = struct{}{}
	return nil
}

// Len текущая глубина очереди
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Process ждет работу не дольше timeout, затем выполняет все команды,
// стоящие в очереди на этот момент. Возвращает число выполненных команд.
func (e *Executor) Process(timeout time.Duration) int {
	e.processMu.Lock()
	defer e.processMu.Unlock()

	batch := e.take(timeout)
	for _, cmd := range batch {
		e.run(cmd)
	}
	return len(batch)
}

func (e *Executor) take(timeout time.Duration) []Command {
	deadline := time.Now().Add(timeout)
	for {
		e.mu.Lock()
		if len(e.queue) > 0 || e.closed {
			batch := e.queue
			e.queue = nil
			e.mu.Unlock()
			e.metrics.setQueueDepth(0)
			return batch
		}
		e.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-e.signal:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// run выполняет команду с защитой от паник. Ни ошибка, ни паника
// не покидают горутину обработки.
func (e *Executor) run(cmd Command) {
	start := time.Now()
	e.inCommand.Store(true)
	defer func() {
		e.inCommand.Store(false)
		if r := recover(); r != nil {
			e.metrics.commandPanicked()
			e.logger.Error(context.Background(), fmt.Sprintf("PANIC в команде %s восстановлен", cmd.Name),
				logging.String("command", cmd.Name),
				logging.Any("panic_value", r),
				logging.String("stack_trace", string(debug.Stack())),
			)
		}
	}()

	err := cmd.Fn()
	e.metrics.commandExecuted(time.Since(start))
	if err == nil {
		return
	}

	code := "UNKNOWN"
	var uaErr *Error
	if errors.As(err, &uaErr) {
		code = uaErr.Code
	}
	e.metrics.commandFailed(code)
	e.logger.LogError(context.Background(), err, "команда завершилась с ошибкой",
		logging.String("command", cmd.Name))
}

// InCommand сообщает, выполняется ли сейчас команда. Вызов из самой
// команды (колбэка) означает, что ждать Process в этой горутине нельзя.
func (e *Executor) InCommand() bool {
	return e.inCommand.Load()
}

// Close закрывает очередь: новые команды отклоняются, отложенные
// останавливаются, невыполненные отбрасываются.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for t := range e.delayed {
		t.Stop()
	}
	e.delayed = make(map[*time.Timer]struct{})
	dropped := len(e.queue)
	e.queue = nil
	e.mu.Unlock()

	e.metrics.setQueueDepth(0)
	if dropped > 0 {
		e.logger.Warn(context.Background(), "очередь закрыта с невыполненными командами",
			logging.Int("dropped", dropped))
	}

	select {
	case e.signal <- struct{}{}:
	default:
	}
}

// Closed сообщает, закрыта ли очередь
func (e *Executor) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
