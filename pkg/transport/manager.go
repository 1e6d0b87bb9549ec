package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/arzzra/sipua/pkg/logging"
)

// SameAsPrevious в Info.Port означает фактический порт предыдущего
// добавленного транспорта.
const SameAsPrevious = -1

// Info описание транспорта для открытия
type Info struct {
	Network   string
	Host      string
	Port      int
	RcvBufLen int
	TLSConfig *tls.Config
}

// Bound успешно открытый транспорт
type Bound struct {
	Network string
	Addr    net.Addr
	Port    int
}

// Server обслуживает открытые сокеты. Реализован *sipgo.Server.
type Server interface {
	ServeUDP(l net.PacketConn) error
	ServeTCP(l net.Listener) error
	ServeTLS(l net.Listener) error
}

// ConnectionHandler получает потерянные потоки. Вызывается из горутины,
// закрывшей соединение, и не должен блокироваться.
type ConnectionHandler func(flow FlowKey)

// Manager открывает слушатели, передает их SIP серверу и сообщает
// о разрыве соединений.
type Manager struct {
	server Server
	logger logging.StructuredLogger
	pool   *connPool

	mu         sync.Mutex
	closers    []io.Closer
	bound      []Bound
	closed     bool
	onTerminal ConnectionHandler
	monitor    *flowMonitor

	wg sync.WaitGroup
}

// NewManager создает менеджер транспортов поверх server
func NewManager(server Server, logger logging.StructuredLogger) *Manager {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Manager{
		server: server,
		logger: logger.WithComponent(logging.SubsystemTransport),
		pool:   newConnPool(),
	}
}

// OnConnectionTerminated задает обработчик потерянных потоков
func (m *Manager) OnConnectionTerminated(h ConnectionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTerminal = h
}

// WatchOutbound включает наблюдение за исходящими потоками: соединения,
// открытые клиентом, проверяются через lookup каждые interval.
func (m *Manager) WatchOutbound(lookup ConnectionLookup, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.monitor != nil {
		return
	}
	m.monitor = newFlowMonitor(lookup, interval, m.ReportFlowTerminated)
	go m.monitor.run()
}

// WatchFlow ставит надежный поток под наблюдение. Входящие соединения
// уже отслеживаются слушателем, UDP потерять нельзя.
func (m *Manager) WatchFlow(flow FlowKey) {
	if !flow.Reliable() || m.pool.Has(flow) {
		return
	}
	m.mu.Lock()
	mon := m.monitor
	closed := m.closed
	m.mu.Unlock()
	if mon == nil || closed {
		return
	}
	mon.watch(flow)
}

// AddTransports открывает транспорты по порядку. Неудачный транспорт
// логируется и пропускается, остальные добавляются. Возвращает открытые.
func (m *Manager) AddTransports(ctx context.Context, infos []Info) []Bound {
	var added []Bound
	lastPort := 0
	for _, info := range infos {
		if info.Port == SameAsPrevious {
			info.Port = lastPort
		}
		b, err := m.add(ctx, info)
		if err != nil {
			m.logger.LogError(ctx, err, "failed to add transport, skipping",
				logging.String("network", info.Network),
				logging.String("host", info.Host),
				logging.Int("port", info.Port))
			continue
		}
		lastPort = b.Port
		added = append(added, b)
		m.logger.Info(ctx, "transport added",
			logging.String("network", b.Network),
			logging.String("addr", b.Addr.String()))
	}
	return added
}

// Bound все открытые транспорты
func (m *Manager) Bound() []Bound {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Bound, len(m.bound))
	copy(out, m.bound)
	return out
}

// Flows открытые сейчас входящие потоковые соединения
func (m *Manager) Flows() []FlowKey {
	return m.pool.Flows()
}

func (m *Manager) add(ctx context.Context, info Info) (Bound, error) {
	network := strings.ToLower(info.Network)
	addr := net.JoinHostPort(info.Host, strconv.Itoa(info.Port))

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return Bound{}, &TransportError{Transport: network, Address: addr, Operation: "add", Err: ErrManagerClosed}
	}

	lc := net.ListenConfig{Control: receiveBufferControl(info.RcvBufLen)}

	switch network {
	case "udp":
		pc, err := lc.ListenPacket(ctx, "udp", addr)
		if err != nil {
			return Bound{}, &TransportError{Transport: network, Address: addr, Operation: "listen", Err: err}
		}
		b := m.register(network, pc.LocalAddr(), pc)
		m.serve(network, func() error { return m.server.ServeUDP(pc) })
		return b, nil

	case "tcp", "tls":
		if network == "tls" && (info.TLSConfig == nil || len(info.TLSConfig.Certificates) == 0) {
			return Bound{}, &TransportError{Transport: network, Address: addr, Operation: "listen", Err: ErrMissingTLSConfig}
		}
		l, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			return Bound{}, &TransportError{Transport: network, Address: addr, Operation: "listen", Err: err}
		}
		tl := &trackedListener{
			Listener: l,
			network:  network,
			onAccept: m.pool.Add,
			onClose:  m.connectionClosed,
		}
		b := m.register(network, l.Addr(), tl)
		if network == "tls" {
			tlsl := tls.NewListener(tl, info.TLSConfig)
			m.serve(network, func() error { return m.server.ServeTLS(tlsl) })
		} else {
			m.serve(network, func() error { return m.server.ServeTCP(tl) })
		}
		return b, nil
	}

	return Bound{}, &TransportError{Transport: network, Address: addr, Operation: "add", Err: ErrUnsupportedNetwork}
}

func (m *Manager) register(network string, addr net.Addr, c io.Closer) Bound {
	b := Bound{Network: network, Addr: addr, Port: portOf(addr)}
	m.mu.Lock()
	m.closers = append(m.closers, c)
	m.bound = append(m.bound, b)
	m.mu.Unlock()
	return b
}

func (m *Manager) serve(network string, fn func() error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := fn()
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if err != nil && !closed && !errors.Is(err, net.ErrClosed) {
			m.logger.LogError(context.Background(), err, "transport serve stopped",
				logging.String("network", network))
		}
	}()
}

func (m *Manager) connectionClosed(c *trackedConn) {
	if !m.pool.Remove(c) {
		// поток еще держат другие соединения
		return
	}
	m.ReportFlowTerminated(c.flow)
}

// ReportFlowTerminated передает потерянный поток обработчику. Вызывается
// при закрытии соединения, при ошибке отправки и из наблюдения за исходящими.
func (m *Manager) ReportFlowTerminated(flow FlowKey) {
	if flow.IsZero() {
		return
	}
	m.mu.Lock()
	h := m.onTerminal
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	m.logger.Debug(context.Background(), "connection terminated",
		logging.String("flow", flow.String()))
	if h != nil {
		h(flow)
	}
}

// Shutdown закрывает слушатели и открытые соединения и ждет завершения
// обслуживающих горутин.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	closers := m.closers
	m.closers = nil
	mon := m.monitor
	m.monitor = nil
	m.mu.Unlock()

	if mon != nil {
		mon.close()
	}

	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	for _, c := range m.pool.GetAll() {
		_ = c.Close()
	}

	m.wg.Wait()
	m.logger.Info(context.Background(), "transports stopped")
	return errors.Join(errs...)
}

func receiveBufferControl(size int) func(network, address string, c syscall.RawConn) error {
	if size <= 0 {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = setReceiveBuffer(fd, size)
		})
		if err != nil {
			return err
		}
		if sockErr != nil {
			return fmt.Errorf("set SO_RCVBUF=%d: %w", size, sockErr)
		}
		return nil
	}
}

func portOf(addr net.Addr) int {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.Port
	case *net.TCPAddr:
		return a.Port
	}
	_, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(p)
	return port
}
