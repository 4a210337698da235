package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"etalase/backend/internal/domain"
)

// KafkaPublisher writes envelopes asynchronously. Messages are keyed by
// outlet so one outlet's sales stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	p := &KafkaPublisher{logger: logger}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Completion:   p.complete,
	}
	return p
}

func (p *KafkaPublisher) PublishSaleCommitted(ctx context.Context, sale domain.Sale) error {
	envelope, err := NewSaleCommitted(sale, time.Now())
	if err != nil {
		return err
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(sale.Outlet.Key()),
		Value: value,
		Time:  envelope.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(envelope.EventType)},
			{Key: "event_id", Value: []byte(envelope.EventID)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) complete(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	p.logger.Error("kafka delivery failed", zap.Int("messages", len(messages)), zap.Error(err))
}
