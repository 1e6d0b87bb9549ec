package transport

import (
	"sync"
)

// connPool принятые соединения по потокам
type connPool struct {
	mu     sync.RWMutex
	byFlow map[FlowKey][]*trackedConn
}

func newConnPool() *connPool {
	return &connPool{
		byFlow: make(map[FlowKey][]*trackedConn),
	}
}

func (p *connPool) Add(conn *trackedConn) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.byFlow[conn.flow] = append(p.byFlow[conn.flow], conn)
}

// Remove убирает conn и сообщает, было ли оно последним на своем потоке
func (p *connPool) Remove(conn *trackedConn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := p.byFlow[conn.flow]
	for i, c := range conns {
		if c == conn {
			conns[i] = conns[len(conns)-1]
			conns = conns[:len(conns)-1]
			break
		}
	}
	if len(conns) == 0 {
		delete(p.byFlow, conn.flow)
		return true
	}
	p.byFlow[conn.flow] = conns
	return false
}

func (p *connPool) Has(flow FlowKey) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.byFlow[flow]) > 0
}

func (p *connPool) Flows() []FlowKey {
	p.mu.RLock()
	defer p.mu.RUnlock()

	flows := make([]FlowKey, 0, len(p.byFlow))
	for flow := range p.byFlow {
		flows = append(flows, flow)
	}
	return flows
}

func (p *connPool) GetAll() []*trackedConn {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var conns []*trackedConn
	for _, list := range p.byFlow {
		conns = append(conns, list...)
	}
	return conns
}
