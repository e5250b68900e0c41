package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Publisher emits rate-change events and alert notifications to the broker.
type Publisher interface {
	PublishRateChange(ctx context.Context, event RateChangeEvent) error
	PublishNotification(ctx context.Context, note Notification) error
}

// KafkaPublisher writes events to per-topic kafka writers.
type KafkaPublisher struct {
	rateWriter *kafka.Writer
	noteWriter *kafka.Writer
	logger     zerolog.Logger
}

// NewKafkaPublisher builds writers for the change feed and notification topics.
func NewKafkaPublisher(brokers []string, rateTopic, noteTopic string, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		rateWriter: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    rateTopic,
			Balancer: &kafka.LeastBytes{},
		},
		noteWriter: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    noteTopic,
			Balancer: &kafka.LeastBytes{},
		},
		logger: logger.With().Str("component", "kafka_publisher").Logger(),
	}
}

// PublishRateChange emits one change event keyed by the ordered pair.
func (p *KafkaPublisher) PublishRateChange(ctx context.Context, event RateChangeEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal rate change event: %w", err)
	}

	key := fmt.Sprintf("%s/%s", event.BaseCurrency, event.TargetCurrency)
	if err := p.rateWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	}); err != nil {
		return fmt.Errorf("write rate change event: %w", err)
	}
	return nil
}

// PublishNotification emits one alert notification keyed by the owner chat.
func (p *KafkaPublisher) PublishNotification(ctx context.Context, note Notification) error {
	value, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := p.noteWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", note.ChatID)),
		Value: value,
		Time:  time.Now(),
	}); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Close releases both writers.
func (p *KafkaPublisher) Close() error {
	if err := p.rateWriter.Close(); err != nil {
		return err
	}
	return p.noteWriter.Close()
}

var _ Publisher = (*KafkaPublisher)(nil)
