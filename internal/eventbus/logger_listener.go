package eventbus

import (
	"context"

	"go.uber.org/zap"
)

// StartLoggingListener подписывается на все события и пишет их в лог.
// Функция неблокирующая.
func StartLoggingListener(bus EventBus, log *zap.Logger) error {
	_, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		log.Debug("событие шины",
			zap.String("id", ev.ID),
			zap.String("type", ev.EventType),
			zap.String("source", ev.Source),
			zap.Int("prio", ev.Priority),
		)
	})
	if err != nil {
		return err
	}
	log.Info("🪵 LoggingListener: подписка на все события активирована")
	return nil
}
