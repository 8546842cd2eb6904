package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/afrojet/seed/pkg/tracing"
)

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// KafkaPublisher writes building events to one topic keyed by organization,
// so each organization's events stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

func NewKafkaPublisher(cfg ProducerConfig, logger ectologger.Logger) *KafkaPublisher {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &KafkaPublisher{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...*BuildingEvent) error {
	ctx, span := tracing.StartSpan(ctx, "events.KafkaPublisher.Publish")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	messages, err := toMessages(p.topic, events)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
		}).Error("Failed to publish building events batch")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(events),
	}).Debug("Published building events batch")

	return nil
}

func toMessages(topic string, events []*BuildingEvent) ([]kafka.Message, error) {
	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}
		if event.SchemaVersion == "" {
			event.SchemaVersion = SchemaVersion
		}

		data, err := json.Marshal(event)
		if err != nil {
			return nil, err
		}

		messages[i] = kafka.Message{
			Topic: topic,
			Key:   []byte(event.OrganizationID),
			Value: data,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(event.EventType)},
				{Key: "organization_id", Value: []byte(event.OrganizationID)},
				{Key: "schema_version", Value: []byte(event.SchemaVersion)},
			},
		}
	}
	return messages, nil
}
