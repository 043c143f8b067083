package main

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publica um evento do outbox
type EventPublisher interface {
	Publish(ctx context.Context, record OutboxRecord) error
	Close() error
}

// KafkaPublisher publica eventos no Kafka usando o tópico de cada registro
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher cria um writer para os brokers informados
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, record OutboxRecord) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: record.Topic,
		Key:   []byte(record.Key),
		Value: record.Payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(record.EventID)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// OutboxRelay lê eventos pendentes do outbox e publica em ordem
type OutboxRelay struct {
	store     OutboxStore
	publisher EventPublisher
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

// NewOutboxRelay cria uma nova instância de OutboxRelay
func NewOutboxRelay(store OutboxStore, publisher EventPublisher, interval time.Duration, batchSize int, logger *zap.Logger) *OutboxRelay {
	return &OutboxRelay{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run publica a cada intervalo até o contexto ser cancelado
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("🚀 Outbox relay started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("🛑 Outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("⚠️ Outbox relay failed, retrying on next tick", zap.Error(err))
			}
		}
	}
}

// RelayOnce publica um lote e retorna quantos eventos foram enviados.
// Para no primeiro erro para não publicar fora de ordem.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	records, err := r.store.FetchPending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending events: %w", err)
	}

	sent := 0
	for _, rec := range records {
		if err := r.publisher.Publish(ctx, rec); err != nil {
			return sent, fmt.Errorf("failed to publish event %s: %w", rec.EventID, err)
		}
		if err := r.store.MarkSent(ctx, rec.ID); err != nil {
			return sent, fmt.Errorf("failed to mark event %s as sent: %w", rec.EventID, err)
		}
		sent++
		r.logger.Debug("📤 Event published",
			zap.String("event_id", rec.EventID),
			zap.String("topic", rec.Topic),
			zap.String("key", rec.Key),
		)
	}
	return sent, nil
}
