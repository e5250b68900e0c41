package alerting

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ArseniyBogdan/currency-converter-bot/internal/events"
	"github.com/ArseniyBogdan/currency-converter-bot/internal/storage"
)

// ErrMalformedExpression marks an alert expression that cannot be parsed.
// Such alerts never fire but are not treated as fatal.
var ErrMalformedExpression = errors.New("alerting: malformed expression")

// ConditionKind distinguishes the two supported expression forms.
type ConditionKind int

const (
	// KindPercent fires on a relative change: "+5%" or "-3%".
	KindPercent ConditionKind = iota
	// KindAbsolute fires on the new rate crossing a level: ">1.20" or "<0.9".
	KindAbsolute
)

// Condition is a parsed alert expression.
type Condition struct {
	Kind      ConditionKind
	Rising    bool // "+" for percent, ">" for absolute
	Threshold decimal.Decimal

	// threshold exactly as the user wrote it; decimal trims trailing
	// zeros, so reasons interpolate this to keep "1.20" as "1.20"
	text string
}

var nonNumeric = regexp.MustCompile(`[^0-9.]+`)

// ParseExpression parses the user-submitted alert expression. Supported
// forms: "+N%" / "-N%" (relative change) and ">N" / "<N" (absolute level).
func ParseExpression(expr string) (Condition, error) {
	trimmed := strings.TrimSpace(expr)

	switch {
	case strings.Contains(trimmed, "%"):
		rising := strings.HasPrefix(trimmed, "+")
		if !rising && !strings.HasPrefix(trimmed, "-") {
			return Condition{}, fmt.Errorf("%w: %q", ErrMalformedExpression, expr)
		}
		threshold, text, err := parseThreshold(trimmed)
		if err != nil {
			return Condition{}, err
		}
		return Condition{Kind: KindPercent, Rising: rising, Threshold: threshold, text: text}, nil

	case strings.Contains(trimmed, ">") || strings.Contains(trimmed, "<"):
		threshold, text, err := parseThreshold(trimmed)
		if err != nil {
			return Condition{}, err
		}
		return Condition{Kind: KindAbsolute, Rising: strings.Contains(trimmed, ">"), Threshold: threshold, text: text}, nil
	}

	return Condition{}, fmt.Errorf("%w: %q", ErrMalformedExpression, expr)
}

func parseThreshold(expr string) (decimal.Decimal, string, error) {
	number := nonNumeric.ReplaceAllString(expr, "")
	threshold, err := decimal.NewFromString(number)
	if err != nil {
		return decimal.Decimal{}, "", fmt.Errorf("%w: no numeric threshold in %q", ErrMalformedExpression, expr)
	}
	return threshold, number, nil
}

// Matches evaluates the condition against one change event.
func (c Condition) Matches(event events.RateChangeEvent) (bool, string) {
	switch c.Kind {
	case KindPercent:
		if event.ChangePercent == nil {
			return false, ""
		}
		change := *event.ChangePercent
		if c.Rising && change.GreaterThanOrEqual(c.Threshold) {
			return true, fmt.Sprintf("rose by %s%%", change.StringFixed(2))
		}
		if !c.Rising && change.LessThanOrEqual(c.Threshold.Abs().Neg()) {
			return true, fmt.Sprintf("fell by %s%%", change.Abs().StringFixed(2))
		}
	case KindAbsolute:
		if c.Rising && event.NewRate.GreaterThan(c.Threshold) {
			return true, fmt.Sprintf("rate exceeded %s", c.text)
		}
		if !c.Rising && event.NewRate.LessThan(c.Threshold) {
			return true, fmt.Sprintf("rate fell below %s", c.text)
		}
	}
	return false, ""
}

// Evaluator turns rate-change events into notifications for registered alerts.
type Evaluator struct {
	alerts storage.AlertStore
	logger zerolog.Logger
}

// NewEvaluator constructs an Evaluator over the alert registry.
func NewEvaluator(alerts storage.AlertStore, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		alerts: alerts,
		logger: logger.With().Str("component", "alert_evaluator").Logger(),
	}
}

// Evaluate loads the alerts registered for the event's pair and returns one
// notification per firing alert. Malformed expressions are logged and never
// fire; one alert's failure never blocks its siblings.
func (e *Evaluator) Evaluate(ctx context.Context, event events.RateChangeEvent) ([]events.Notification, error) {
	alerts, err := e.alerts.ListAlertsByPair(ctx, event.BaseCurrency, event.TargetCurrency)
	if err != nil {
		return nil, fmt.Errorf("load alerts for %s/%s: %w", event.BaseCurrency, event.TargetCurrency, err)
	}

	notifications := make([]events.Notification, 0)
	for _, alert := range alerts {
		condition, err := ParseExpression(alert.Expr)
		if err != nil {
			e.logger.Warn().Err(err).
				Str("alert_id", alert.ID).
				Int64("chat_id", alert.ChatID).
				Msg("skipping alert with malformed expression")
			continue
		}

		fired, reason := condition.Matches(event)
		if !fired {
			continue
		}

		notifications = append(notifications, events.Notification{
			ChatID:         alert.ChatID,
			BaseCurrency:   event.BaseCurrency,
			TargetCurrency: event.TargetCurrency,
			NewRate:        event.NewRate,
			ChangePercent:  event.ChangePercent,
			Reason:         reason,
			ObservedAt:     event.Updated,
		})
	}

	return notifications, nil
}
