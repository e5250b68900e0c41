package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrPairNotFound indicates no record exists for the requested pair.
	ErrPairNotFound = errors.New("storage: currency pair not found")
	// ErrAlertNotFound indicates no alert matched the id/owner combination.
	ErrAlertNotFound = errors.New("storage: alert not found")
)

const (
	upsertCurrencySQL = `INSERT INTO currencies (code, display_name, updated_at)
    VALUES ($1, $2, $3)
    ON CONFLICT (code) DO UPDATE
    SET display_name = EXCLUDED.display_name,
        updated_at   = EXCLUDED.updated_at;`

	listCurrenciesSQL = `SELECT code, display_name, updated_at
    FROM currencies
    ORDER BY code;`

	currencyExistsSQL = `SELECT EXISTS (SELECT 1 FROM currencies WHERE code = $1);`

	insertPairSQL = `INSERT INTO currency_pairs (id, base_code, target_code, current_rate, updated_at)
    VALUES ($1, $2, $3, $4, $5)
    ON CONFLICT (base_code, target_code) DO NOTHING;`

	listPairsSQL = `SELECT id, base_code, target_code, current_rate, updated_at
    FROM currency_pairs
    ORDER BY base_code, target_code;`

	listPairKeysSQL = `SELECT base_code, target_code FROM currency_pairs;`

	getPairSQL = `SELECT id, base_code, target_code, current_rate, updated_at
    FROM currency_pairs
    WHERE base_code = $1 AND target_code = $2;`

	getPairByIDSQL = `SELECT id, base_code, target_code, current_rate, updated_at
    FROM currency_pairs
    WHERE id = $1;`

	updatePairRateSQL = `UPDATE currency_pairs c
    SET current_rate = $3,
        updated_at   = $4
    FROM (
        SELECT id, current_rate AS old_rate
        FROM currency_pairs
        WHERE base_code = $1 AND target_code = $2
        FOR UPDATE
    ) prev
    WHERE c.id = prev.id
    RETURNING prev.old_rate;`

	insertAlertSQL = `INSERT INTO alerts (id, chat_id, base_code, target_code, expr)
    VALUES ($1, $2, $3, $4, $5)
    RETURNING id, chat_id, base_code, target_code, expr, created_at;`

	listAlertsByPairSQL = `SELECT id, chat_id, base_code, target_code, expr, created_at
    FROM alerts
    WHERE base_code = $1 AND target_code = $2
    ORDER BY created_at;`

	listAlertsByChatSQL = `SELECT id, chat_id, base_code, target_code, expr, created_at
    FROM alerts
    WHERE chat_id = $1
    ORDER BY created_at;`

	deleteAlertSQL = `DELETE FROM alerts
    WHERE id = $1 AND chat_id = $2
    RETURNING id, chat_id, base_code, target_code, expr, created_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// CurrencyStore defines operations on the currency directory.
type CurrencyStore interface {
	UpsertCurrency(ctx context.Context, currency Currency) error
	ListCurrencies(ctx context.Context) ([]Currency, error)
	CurrencyExists(ctx context.Context, code string) (bool, error)
}

// PairStore defines operations on persisted currency pairs.
type PairStore interface {
	ListPairs(ctx context.Context) ([]CurrencyPair, error)
	ListPairKeys(ctx context.Context) (map[PairKey]struct{}, error)
	InsertPairs(ctx context.Context, pairs []CurrencyPair) error
	UpdatePairRate(ctx context.Context, base, target string, rate decimal.Decimal, updatedAt time.Time) (decimal.Decimal, error)
	GetPair(ctx context.Context, base, target string) (CurrencyPair, error)
	GetPairByID(ctx context.Context, id string) (CurrencyPair, error)
}

// AlertStore defines operations on the alert registry.
type AlertStore interface {
	ListAlertsByPair(ctx context.Context, base, target string) ([]Alert, error)
	ListAlertsByChat(ctx context.Context, chatID int64) ([]Alert, error)
	InsertAlert(ctx context.Context, alert Alert) (Alert, error)
	DeleteAlert(ctx context.Context, id string, chatID int64) (Alert, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// UpsertCurrency inserts a currency or refreshes its display name.
func (s *Store) UpsertCurrency(ctx context.Context, currency Currency) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertCurrencySQL, currency.Code, currency.DisplayName, currency.UpdatedAt); execErr != nil {
		return fmt.Errorf("upsert currency %s: %w", currency.Code, execErr)
	}
	return nil
}

// ListCurrencies returns the complete currency directory ordered by code.
func (s *Store) ListCurrencies(ctx context.Context) ([]Currency, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCurrenciesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list currencies: %w", queryErr)
	}
	defer rows.Close()

	currencies := make([]Currency, 0)
	for rows.Next() {
		var c Currency
		if err := rows.Scan(&c.Code, &c.DisplayName, &c.UpdatedAt); err != nil {
			return nil, err
		}
		currencies = append(currencies, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return currencies, nil
}

// CurrencyExists reports whether a currency code is known.
func (s *Store) CurrencyExists(ctx context.Context, code string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	if scanErr := pool.QueryRow(ctx, currencyExistsSQL, code).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("currency exists %s: %w", code, scanErr)
	}
	return exists, nil
}

// ListPairs returns every stored currency pair.
func (s *Store) ListPairs(ctx context.Context) ([]CurrencyPair, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPairsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list pairs: %w", queryErr)
	}
	defer rows.Close()

	pairs := make([]CurrencyPair, 0)
	for rows.Next() {
		pair, scanErr := scanPair(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		pairs = append(pairs, pair)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return pairs, nil
}

// ListPairKeys returns the set of ordered (base, target) keys already stored.
func (s *Store) ListPairKeys(ctx context.Context) (map[PairKey]struct{}, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPairKeysSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list pair keys: %w", queryErr)
	}
	defer rows.Close()

	keys := make(map[PairKey]struct{})
	for rows.Next() {
		var key PairKey
		if err := rows.Scan(&key.Base, &key.Target); err != nil {
			return nil, err
		}
		keys[key] = struct{}{}
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return keys, nil
}

// InsertPairs inserts new pairs, ignoring any that already exist.
func (s *Store) InsertPairs(ctx context.Context, pairs []CurrencyPair) error {
	if len(pairs) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, pair := range pairs {
		batch.Queue(insertPairSQL,
			pair.ID,
			pair.BaseCode,
			pair.TargetCode,
			pair.CurrentRate.String(),
			pair.UpdatedAt,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	for range pairs {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("insert pairs batch: %w", execErr)
		}
	}
	return nil
}

// UpdatePairRate atomically replaces a pair's rate and returns the previous value.
func (s *Store) UpdatePairRate(ctx context.Context, base, target string, rate decimal.Decimal, updatedAt time.Time) (decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Decimal{}, err
	}

	var oldStr string
	scanErr := pool.QueryRow(ctx, updatePairRateSQL, base, target, rate.String(), updatedAt).Scan(&oldStr)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return decimal.Decimal{}, ErrPairNotFound
		}
		return decimal.Decimal{}, fmt.Errorf("update pair rate %s/%s: %w", base, target, scanErr)
	}

	old, convErr := decimal.NewFromString(oldStr)
	if convErr != nil {
		return decimal.Decimal{}, fmt.Errorf("parse old rate: %w", convErr)
	}
	return old, nil
}

// GetPair looks up one pair by ordered key.
func (s *Store) GetPair(ctx context.Context, base, target string) (CurrencyPair, error) {
	pool, err := s.getPool()
	if err != nil {
		return CurrencyPair{}, err
	}
	pair, scanErr := scanPair(pool.QueryRow(ctx, getPairSQL, base, target))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return CurrencyPair{}, ErrPairNotFound
		}
		return CurrencyPair{}, fmt.Errorf("get pair %s/%s: %w", base, target, scanErr)
	}
	return pair, nil
}

// GetPairByID looks up one pair by its opaque id.
func (s *Store) GetPairByID(ctx context.Context, id string) (CurrencyPair, error) {
	pool, err := s.getPool()
	if err != nil {
		return CurrencyPair{}, err
	}
	pair, scanErr := scanPair(pool.QueryRow(ctx, getPairByIDSQL, id))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return CurrencyPair{}, ErrPairNotFound
		}
		return CurrencyPair{}, fmt.Errorf("get pair %s: %w", id, scanErr)
	}
	return pair, nil
}

// InsertAlert persists a new alert condition.
func (s *Store) InsertAlert(ctx context.Context, alert Alert) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}
	row := pool.QueryRow(ctx, insertAlertSQL, alert.ID, alert.ChatID, alert.BaseCode, alert.TargetCode, alert.Expr)
	created, scanErr := scanAlert(row)
	if scanErr != nil {
		return Alert{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return created, nil
}

// ListAlertsByPair returns all alerts registered for one ordered pair.
func (s *Store) ListAlertsByPair(ctx context.Context, base, target string) ([]Alert, error) {
	return s.listAlerts(ctx, listAlertsByPairSQL, base, target)
}

// ListAlertsByChat returns all alerts owned by one chat.
func (s *Store) ListAlertsByChat(ctx context.Context, chatID int64) ([]Alert, error) {
	return s.listAlerts(ctx, listAlertsByChatSQL, chatID)
}

func (s *Store) listAlerts(ctx context.Context, sql string, args ...any) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, sql, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]Alert, 0)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlert removes an alert owned by the given chat and returns it.
func (s *Store) DeleteAlert(ctx context.Context, id string, chatID int64) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}
	deleted, scanErr := scanAlert(pool.QueryRow(ctx, deleteAlertSQL, id, chatID))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Alert{}, ErrAlertNotFound
		}
		return Alert{}, fmt.Errorf("delete alert %s: %w", id, scanErr)
	}
	return deleted, nil
}

var (
	_ CurrencyStore  = (*Store)(nil)
	_ PairStore      = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)

func scanPair(row pgx.Row) (CurrencyPair, error) {
	var (
		pair    CurrencyPair
		rateStr string
	)
	if err := row.Scan(&pair.ID, &pair.BaseCode, &pair.TargetCode, &rateStr, &pair.UpdatedAt); err != nil {
		return CurrencyPair{}, err
	}
	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return CurrencyPair{}, fmt.Errorf("parse current rate: %w", err)
	}
	pair.CurrentRate = rate
	return pair, nil
}

func scanAlert(row pgx.Row) (Alert, error) {
	var alert Alert
	if err := row.Scan(&alert.ID, &alert.ChatID, &alert.BaseCode, &alert.TargetCode, &alert.Expr, &alert.CreatedAt); err != nil {
		return Alert{}, err
	}
	return alert, nil
}
