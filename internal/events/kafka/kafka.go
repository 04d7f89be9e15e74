// Package kafka streams ledger events through a Kafka topic.
package kafka

import (
	"context"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"pocketledger/internal/events"
	"pocketledger/internal/log"
)

type Publisher struct {
	writer *kafka.Writer
	logger *log.Logger
}

var _ events.Publisher = (*Publisher)(nil)

// NewPublisher writes to topic. Messages are keyed by owner so one owner's
// events stay ordered within a partition.
func NewPublisher(brokers []string, topic string, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.Discard()
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		logger: logger.WithComponent(log.ComponentEvents),
	}
}

func (p *Publisher) Publish(ctx context.Context, e *events.LedgerEvent) error {
	msg, err := message(e)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s event: %w", e.Kind, err)
	}
	p.logger.DebugContext(ctx, "Published ledger event",
		log.FieldEventKind, string(e.Kind),
		log.FieldOwnerID, e.OwnerID,
		"topic", p.writer.Topic)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func message(e *events.LedgerEvent) (kafka.Message, error) {
	body, err := e.ToJSON()
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.OwnerID),
		Value: body,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
			{Key: "transaction_id", Value: []byte(strconv.FormatInt(e.TransactionID, 10))},
		},
	}, nil
}

// Consumer reads events as part of a consumer group and commits an offset
// only after the handler succeeded.
type Consumer struct {
	reader *kafka.Reader
	logger *log.Logger
}

var _ events.Consumer = (*Consumer)(nil)

func NewConsumer(brokers []string, topic, groupID string, logger *log.Logger) *Consumer {
	if logger == nil {
		logger = log.Discard()
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 1 << 20,
		}),
		logger: logger.WithComponent(log.ComponentEvents),
	}
}

func (c *Consumer) Consume(ctx context.Context, h events.Handler) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		e, err := events.LedgerEventFromJSON(m.Value)
		if err != nil {
			// Poison message: skip it.
			c.logger.ErrorContext(ctx, "Failed to unmarshal ledger event",
				"offset", m.Offset, log.FieldError, err)
			if err := c.reader.CommitMessages(ctx, m); err != nil {
				return fmt.Errorf("commit message: %w", err)
			}
			continue
		}
		if err := h(ctx, e); err != nil {
			// Without a commit the group redelivers from this offset.
			return fmt.Errorf("handle %s event: %w", e.Kind, err)
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
