package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/internal/kafka"
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/IBM/sarama"
)

// EffectEvent представляет доставляемый эффект для Kafka
type EffectEvent struct {
	ID             string            `json:"id"`
	SubscriptionID string            `json:"subscription_id"`
	Kind           domain.EffectKind `json:"kind"`
	Payload        json.RawMessage   `json:"payload"`
	Attempt        int               `json:"attempt"`
	Timestamp      time.Time         `json:"timestamp"`
}

// EffectProducer интерфейс для публикации эффектов во внешние системы
type EffectProducer interface {
	PublishEffect(ctx context.Context, effect domain.PendingEffect) error
	Close() error
}

type kafkaEffectProducer struct {
	producer sarama.SyncProducer
	log      *logger.Logger
}

// NewKafkaEffectProducer создает новый продюсер эффектов
func NewKafkaEffectProducer(producer sarama.SyncProducer, log *logger.Logger) EffectProducer {
	return &kafkaEffectProducer{
		producer: producer,
		log:      log,
	}
}

// PublishEffect публикует эффект в топик его вида.
// Ключ сообщения - ID подписки, чтобы события одной подписки
// попадали в одну партицию и сохраняли порядок.
func (p *kafkaEffectProducer) PublishEffect(ctx context.Context, effect domain.PendingEffect) error {
	topic, err := topicForKind(effect.Kind)
	if err != nil {
		return err
	}

	event := EffectEvent{
		ID:             effect.ID.String(),
		SubscriptionID: effect.SubscriptionID.String(),
		Kind:           effect.Kind,
		Payload:        json.RawMessage(effect.Payload),
		Attempt:        effect.Attempts + 1,
		Timestamp:      time.Now(),
	}

	messageValue, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal effect event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(effect.SubscriptionID.String()),
		Value: sarama.ByteEncoder(messageValue),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("effect_kind"),
				Value: []byte(effect.Kind),
			},
		},
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		return fmt.Errorf("failed to publish effect event: %w", err)
	}

	p.log.Info("Published effect event to topic %s: partition=%d offset=%d",
		topic, partition, offset)
	return nil
}

// Close закрывает продюсер
func (p *kafkaEffectProducer) Close() error {
	return p.producer.Close()
}

func topicForKind(kind domain.EffectKind) (string, error) {
	switch kind {
	case domain.EffectKindGrantAccess, domain.EffectKindRevokeAccess:
		return kafka.TopicAccessEvents, nil
	case domain.EffectKindNotifyUser:
		return kafka.TopicNotifications, nil
	case domain.EffectKindRecordPayment:
		return kafka.TopicPayments, nil
	}
	return "", fmt.Errorf("unknown effect kind %q", kind)
}
