package alerting

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ArseniyBogdan/currency-converter-bot/internal/events"
	"github.com/ArseniyBogdan/currency-converter-bot/internal/metrics"
)

// NotificationPublisher is the sink side of the broker glue.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, note events.Notification) error
}

// Dispatcher evaluates change events and fans firing alerts out to the
// notification sink and the optional direct delivery channel.
type Dispatcher struct {
	evaluator *Evaluator
	publisher NotificationPublisher
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewDispatcher wires the evaluator to its delivery channels. publisher and
// notifier may each be nil.
func NewDispatcher(evaluator *Evaluator, publisher NotificationPublisher, notifier Notifier, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		evaluator: evaluator,
		publisher: publisher,
		notifier:  notifier,
		metrics:   m,
		logger:    logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// HandleRateChange processes one change event end to end. Delivery failures
// are logged per notification and never propagate.
func (d *Dispatcher) HandleRateChange(ctx context.Context, event events.RateChangeEvent) {
	notifications, err := d.evaluator.Evaluate(ctx, event)
	if err != nil {
		d.logger.Error().Err(err).
			Str("pair", event.BaseCurrency+"/"+event.TargetCurrency).
			Msg("alert evaluation failed")
		return
	}

	for _, note := range notifications {
		d.metrics.IncAlertFired()

		if d.publisher != nil {
			if err := d.publisher.PublishNotification(ctx, note); err != nil {
				d.logger.Warn().Err(err).Int64("chat_id", note.ChatID).Msg("failed to publish notification")
			}
		}
		if d.notifier != nil {
			if err := d.notifier.Notify(ctx, note); err != nil {
				d.logger.Warn().Err(err).Int64("chat_id", note.ChatID).Msg("failed to deliver notification")
			}
		}
	}
}
