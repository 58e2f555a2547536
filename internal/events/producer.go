package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fathima-sithara/sync-service/internal/models"
)

// Producer publishes confirmed messages to Kafka for downstream consumers
// (notifications, search indexing). Best-effort, keyed by conversation so a
// conversation's events stay in one partition.
type Producer struct {
	writer *kafka.Writer
	logger *zap.SugaredLogger
}

func NewProducer(brokers []string, topic string, logger *zap.SugaredLogger) *Producer {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})
	return &Producer{writer: w, logger: logger}
}

func (p *Producer) MessageSent(ctx context.Context, m *models.Message) {
	if p == nil || p.writer == nil {
		return
	}
	b, _ := json.Marshal(m)
	msg := kafka.Message{Key: []byte(m.ConversationID), Value: b, Time: time.Now()}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warnw("kafka publish message", "local_id", m.LocalID, "err", err)
	}
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
