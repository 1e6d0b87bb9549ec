package transport

import (
	"net"
	"strings"

	"github.com/emiago/sipgo/sip"
)

// FlowKey идентифицирует транспортный поток: сеть и удаленный адрес,
// с которого пришло сообщение или к которому привязано соединение.
type FlowKey struct {
	Network string
	Remote  string
}

// IsZero ключ пустой
func (f FlowKey) IsZero() bool {
	return f.Network == "" && f.Remote == ""
}

// Reliable поток с установлением соединения
func (f FlowKey) Reliable() bool {
	switch f.Network {
	case "tcp", "tls", "ws", "wss":
		return true
	}
	return false
}

func (f FlowKey) String() string {
	if f.IsZero() {
		return "<none>"
	}
	return f.Network + ":" + f.Remote
}

// FlowFromMessage поток, по которому пришло сообщение
func FlowFromMessage(msg sip.Message) FlowKey {
	if msg == nil {
		return FlowKey{}
	}
	return NewFlowKey(msg.Transport(), msg.Source())
}

// FlowFromConn поток принятого соединения
func FlowFromConn(network string, conn net.Conn) FlowKey {
	if conn == nil || conn.RemoteAddr() == nil {
		return FlowKey{}
	}
	return NewFlowKey(network, conn.RemoteAddr().String())
}

// NewFlowKey нормализует имя сети и удаленный адрес
func NewFlowKey(network, remote string) FlowKey {
	if remote == "" {
		return FlowKey{}
	}
	return FlowKey{
		Network: strings.ToLower(network),
		Remote:  normalizeHostPort(remote),
	}
}

func normalizeHostPort(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.ToLower(addr)
	}
	return net.JoinHostPort(strings.ToLower(host), port)
}
