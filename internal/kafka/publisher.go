package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/tourney-sync/internal/cache"
	"github.com/tourney-sync/internal/config"
)

// Publisher sends local invalidations to the bus. It is a cache.Listener.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	origin   string
	logger   *slog.Logger
}

// NewPublisher creates a publisher with its own synchronous producer
func NewPublisher(cfg *config.KafkaConfig, origin string, logger *slog.Logger) (*Publisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return NewPublisherWithProducer(producer, cfg.Topic, origin, logger), nil
}

// NewPublisherWithProducer wraps an existing producer
func NewPublisherWithProducer(producer sarama.SyncProducer, topic, origin string, logger *slog.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		origin:   origin,
		logger:   logger,
	}
}

// Publish sends one invalidation
func (p *Publisher) Publish(filter cache.Filter, at time.Time) error {
	event := InvalidationEvent{
		ID:     uuid.New(),
		Origin: p.origin,
		Filter: filter,
		At:     at,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling invalidation event: %w", err)
	}
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.messageKey()),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("publishing invalidation event: %w", err)
	}
	p.logger.Debug("invalidation published",
		"event_id", event.ID,
		"tournament_id", filter.TournamentID,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

// OnCacheEvent publishes local invalidations. Sweeps and invalidations
// received from the bus are not re-published.
func (p *Publisher) OnCacheEvent(_ context.Context, event cache.Event) {
	if event.Type != cache.EventInvalidated || event.Remote {
		return
	}
	if err := p.Publish(event.Filter, event.At); err != nil {
		p.logger.Warn("failed to publish invalidation", "error", err)
	}
}

// Close closes the producer
func (p *Publisher) Close() error {
	return p.producer.Close()
}

var _ cache.Listener = (*Publisher)(nil)
