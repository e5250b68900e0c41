package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency is a tracked currency, keyed by its 3-letter code.
type Currency struct {
	Code        string
	DisplayName string
	UpdatedAt   time.Time
}

// CurrencyPair is one ordered (base, target) pair with its latest cross rate.
// Exactly one record exists per ordered pair; pairs are never deleted.
type CurrencyPair struct {
	ID          string
	BaseCode    string
	TargetCode  string
	CurrentRate decimal.Decimal
	UpdatedAt   time.Time
}

// PairKey identifies an ordered currency pair.
type PairKey struct {
	Base   string
	Target string
}

// Key returns the pair's ordered key.
func (p CurrencyPair) Key() PairKey {
	return PairKey{Base: p.BaseCode, Target: p.TargetCode}
}

// Alert is a user-registered rate condition for one pair. The sync core
// only reads alerts; creation and removal belong to the bot layer.
type Alert struct {
	ID         string
	ChatID     int64
	BaseCode   string
	TargetCode string
	Expr       string
	CreatedAt  time.Time
}
