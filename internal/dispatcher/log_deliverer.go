package dispatcher

import (
	"context"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/pkg/logger"
)

// LogDeliverer доставка эффектов в лог. Используется при выключенной Kafka:
// очередь эффектов продолжает работать, а доставка сводится к записи в журнал.
type LogDeliverer struct {
	log *logger.Logger
}

// NewLogDeliverer создает логирующий доставщик эффектов
func NewLogDeliverer(log *logger.Logger) *LogDeliverer {
	return &LogDeliverer{log: log}
}

// PublishEffect записывает эффект в лог
func (d *LogDeliverer) PublishEffect(ctx context.Context, effect domain.PendingEffect) error {
	d.log.Infow("Effect delivered to log sink",
		"effectID", effect.ID,
		"subscriptionID", effect.SubscriptionID,
		"kind", string(effect.Kind),
		"payload", string(effect.Payload))
	return nil
}
