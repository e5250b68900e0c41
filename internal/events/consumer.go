package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// HandleFunc processes one decoded rate-change event. Handlers own their
// failure handling; the consumer always moves on to the next message.
type HandleFunc func(ctx context.Context, event RateChangeEvent)

// Consumer reads the change feed and hands events to a handler.
type Consumer struct {
	reader *kafka.Reader
	logger zerolog.Logger
}

// NewConsumer builds a group reader on the change-feed topic.
func NewConsumer(brokers []string, topic, groupID string, logger zerolog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
		logger: logger.With().Str("component", "rates_consumer").Logger(),
	}
}

// Run blocks, decoding and dispatching messages until ctx is cancelled.
// Malformed payloads are logged and skipped.
func (c *Consumer) Run(ctx context.Context, handle HandleFunc) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return err
		}

		var event RateChangeEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Warn().Err(err).Str("key", string(msg.Key)).Msg("skipping malformed rate change event")
			continue
		}

		handle(ctx, event)
	}
}
