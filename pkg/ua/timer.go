package ua

import (
	"context"
	"time"

	"github.com/arzzra/sipua/pkg/logging"
)

// StartApplicationTimer по истечении d вызывает Application.OnApplicationTimer
// в горутине обработки. Таймеры с одинаковым id не заменяют друг друга;
// отменить таймер нельзя, незапущенные останавливаются при Shutdown.
func (ua *UserAgent) StartApplicationTimer(id uint32, d time.Duration, seq uint32) {
	cmd := Command{
		Name: "application_timer",
		Fn: func() error {
			ua.metrics.timerFired()
			ua.app.OnApplicationTimer(id, d, seq)
			return nil
		},
	}
	if err := ua.exec.PostAfter(cmd, d); err != nil {
		ua.logger.LogError(context.Background(), err, "таймер не запущен",
			logging.Int64("id", int64(id)),
			logging.Duration("duration", d))
	}
}
