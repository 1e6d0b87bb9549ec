package transport

import (
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
)

// DefaultWatchInterval период проверки исходящих потоков
const DefaultWatchInterval = time.Second

// ConnectionLookup ищет открытое соединение по сети и адресу.
// Подходит *sip.TransportLayer.
type ConnectionLookup interface {
	GetConnection(network, addr string) (sip.Connection, error)
}

// flowMonitor следит за соединениями, открытыми клиентом sipgo.
// Они не проходят через trackedListener, поэтому их наличие проверяется
// опросом транспортного уровня.
type flowMonitor struct {
	lookup   ConnectionLookup
	interval time.Duration
	lost     func(FlowKey)

	mu    sync.Mutex
	flows map[FlowKey]struct{}

	stop chan struct{}
	done chan struct{}
}

func newFlowMonitor(lookup ConnectionLookup, interval time.Duration, lost func(FlowKey)) *flowMonitor {
	return &flowMonitor{
		lookup:   lookup,
		interval: interval,
		lost:     lost,
		flows:    make(map[FlowKey]struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (fm *flowMonitor) watch(flow FlowKey) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.flows[flow] = struct{}{}
}

func (fm *flowMonitor) watching(flow FlowKey) bool {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	_, ok := fm.flows[flow]
	return ok
}

func (fm *flowMonitor) run() {
	defer close(fm.done)
	ticker := time.NewTicker(fm.interval)
	defer ticker.Stop()
	for {
		select {
		case <-fm.stop:
			return
		case <-ticker.C:
			fm.check()
		}
	}
}

// check сообщает о потоках, соединения которых больше нет
func (fm *flowMonitor) check() {
	fm.mu.Lock()
	flows := make([]FlowKey, 0, len(fm.flows))
	for flow := range fm.flows {
		flows = append(flows, flow)
	}
	fm.mu.Unlock()

	for _, flow := range flows {
		conn, err := fm.lookup.GetConnection(flow.Network, flow.Remote)
		if err == nil && conn != nil {
			continue
		}
		fm.mu.Lock()
		delete(fm.flows, flow)
		fm.mu.Unlock()
		fm.lost(flow)
	}
}

func (fm *flowMonitor) close() {
	close(fm.stop)
	<-fm.done
}
