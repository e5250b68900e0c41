package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateChangeEvent is published to the change feed once per pair whose rate
// actually moved during a sync cycle. ChangePercent is omitted when the old
// rate was zero and the relative change is undefined.
type RateChangeEvent struct {
	BaseCurrency   string           `json:"baseCurrency"`
	TargetCurrency string           `json:"targetCurrency"`
	OldRate        decimal.Decimal  `json:"oldRate"`
	NewRate        decimal.Decimal  `json:"newRate"`
	ChangePercent  *decimal.Decimal `json:"changePercent,omitempty"`
	Updated        time.Time        `json:"updated"`
}

// Notification is one alert firing, published to the notification sink.
type Notification struct {
	ChatID         int64            `json:"chatId"`
	BaseCurrency   string           `json:"baseCurrency"`
	TargetCurrency string           `json:"targetCurrency"`
	NewRate        decimal.Decimal  `json:"newRate"`
	ChangePercent  *decimal.Decimal `json:"changePercent,omitempty"`
	Reason         string           `json:"reason"`
	ObservedAt     time.Time        `json:"observedAt"`
}
