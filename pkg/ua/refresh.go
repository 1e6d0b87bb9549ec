package ua

import (
	"context"

	"github.com/arzzra/sipua/pkg/logging"
	"github.com/arzzra/sipua/pkg/transport"
)

// OnConnectionTerminated принимает уведомление о потере соединения из
// любой горутины и ставит обработку в очередь.
func (ua *UserAgent) OnConnectionTerminated(flow transport.FlowKey) {
	ua.post(Command{
		Name: "connection_terminated",
		Fn: func() error {
			ua.refreshRegistrationsOn(flow)
			return nil
		},
	})
}

// refreshRegistrationsOn обновляет все регистрации, последний ответ на
// которые пришел по потерянному flow. Возвращает число обновленных.
func (ua *UserAgent) refreshRegistrationsOn(flow transport.FlowKey) int {
	ua.metrics.connectionLost()
	if flow.IsZero() {
		return 0
	}
	refreshed := 0
	for _, reg := range ua.registrations.Snapshot() {
		last, ok := reg.LastServerFlow()
		if !ok || last != flow {
			continue
		}
		reg.ForceRefresh()
		ua.metrics.refreshForced()
		refreshed++
	}
	ua.logger.Debug(context.Background(), "соединение потеряно",
		logging.String("flow", flow.String()),
		logging.Int("refreshed", refreshed))
	return refreshed
}
