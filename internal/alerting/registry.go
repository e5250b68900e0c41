package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ArseniyBogdan/currency-converter-bot/internal/storage"
)

// ErrUnknownPair marks a pair string that is not a tracked currency pair.
var ErrUnknownPair = errors.New("alerting: unknown currency pair")

// Registry manages user-submitted alert conditions. The sync pipeline only
// reads alerts; creation and removal happen here on behalf of the bot layer.
type Registry struct {
	alerts storage.AlertStore
	pairs  storage.PairStore
	logger zerolog.Logger
}

// NewRegistry constructs an alert registry service.
func NewRegistry(alerts storage.AlertStore, pairs storage.PairStore, logger zerolog.Logger) *Registry {
	return &Registry{
		alerts: alerts,
		pairs:  pairs,
		logger: logger.With().Str("component", "alert_registry").Logger(),
	}
}

// AddAlert validates and stores a new alert for "BASE/TARGET" with the given
// expression.
func (r *Registry) AddAlert(ctx context.Context, chatID int64, pair, expr string) (storage.Alert, error) {
	base, target, err := SplitPair(pair)
	if err != nil {
		return storage.Alert{}, err
	}

	if _, err := r.pairs.GetPair(ctx, base, target); err != nil {
		if errors.Is(err, storage.ErrPairNotFound) {
			return storage.Alert{}, fmt.Errorf("%w: %s/%s", ErrUnknownPair, base, target)
		}
		return storage.Alert{}, fmt.Errorf("look up pair: %w", err)
	}

	if _, err := ParseExpression(expr); err != nil {
		return storage.Alert{}, err
	}

	created, err := r.alerts.InsertAlert(ctx, storage.Alert{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		BaseCode:   base,
		TargetCode: target,
		Expr:       expr,
	})
	if err != nil {
		return storage.Alert{}, fmt.Errorf("insert alert: %w", err)
	}

	r.logger.Info().Str("alert_id", created.ID).Int64("chat_id", chatID).
		Str("pair", base+"/"+target).Str("expr", expr).Msg("alert registered")
	return created, nil
}

// ListAlerts returns all alerts owned by one chat.
func (r *Registry) ListAlerts(ctx context.Context, chatID int64) ([]storage.Alert, error) {
	return r.alerts.ListAlertsByChat(ctx, chatID)
}

// RemoveAlert deletes an alert, enforcing owner match.
func (r *Registry) RemoveAlert(ctx context.Context, id string, chatID int64) (storage.Alert, error) {
	deleted, err := r.alerts.DeleteAlert(ctx, id, chatID)
	if err != nil {
		return storage.Alert{}, err
	}
	r.logger.Info().Str("alert_id", id).Int64("chat_id", chatID).Msg("alert removed")
	return deleted, nil
}

// SplitPair parses a "BASE/TARGET" pair string into uppercase codes.
func SplitPair(pair string) (string, string, error) {
	parts := strings.Split(strings.TrimSpace(pair), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownPair, pair)
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), nil
}
