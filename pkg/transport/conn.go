package transport

import (
	"net"
	"sync"
)

// trackedConn сообщает менеджеру о своем закрытии.
// sipgo закрывает потоковое соединение при ошибке чтения или EOF, поэтому
// потеря flow видна только в Close.
type trackedConn struct {
	net.Conn
	flow    FlowKey
	once    sync.Once
	onClose func(*trackedConn)
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() {
		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return err
}

// trackedListener оборачивает каждое принятое соединение в trackedConn
type trackedListener struct {
	net.Listener
	network  string
	onAccept func(*trackedConn)
	onClose  func(*trackedConn)
}

func (l *trackedListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	tc := &trackedConn{
		Conn:    conn,
		flow:    FlowFromConn(l.network, conn),
		onClose: l.onClose,
	}
	if l.onAccept != nil {
		l.onAccept(tc)
	}
	return tc, nil
}
