package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ArseniyBogdan/currency-converter-bot/internal/config"
	"github.com/ArseniyBogdan/currency-converter-bot/internal/events"
	"github.com/ArseniyBogdan/currency-converter-bot/internal/fetcher"
	"github.com/ArseniyBogdan/currency-converter-bot/internal/metrics"
	"github.com/ArseniyBogdan/currency-converter-bot/internal/rates"
	"github.com/ArseniyBogdan/currency-converter-bot/internal/storage"
)

// Outcome classifies how one sync trigger ended.
type Outcome string

const (
	// OutcomeCompleted means the cycle ran to the end, possibly with
	// isolated per-pair failures.
	OutcomeCompleted Outcome = "completed"
	// OutcomeSkipped means another run was already in flight; the trigger
	// was a no-op.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeAborted means the cycle stopped early (provider failure after
	// retries, storage failure, or deadline).
	OutcomeAborted Outcome = "aborted"
)

// SyncStore is the storage surface the orchestrator mutates.
type SyncStore interface {
	storage.CurrencyStore
	storage.PairStore
}

// ChangePublisher is the change-feed side of the broker glue.
type ChangePublisher interface {
	PublishRateChange(ctx context.Context, event events.RateChangeEvent) error
}

// Syncer coordinates one end-to-end rate refresh cycle: fetch, directory
// update, matrix build, cross-rate compute, store update, change-event
// emission. At most one run is ever in flight.
type Syncer struct {
	provider  fetcher.RatesProvider
	store     SyncStore
	matrix    *rates.MatrixBuilder
	updater   *rates.Updater
	publisher ChangePublisher
	locker    storage.AdvisoryLocker
	lockKey   int64
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	running  atomic.Bool
	emitting sync.WaitGroup
}

// NewSyncer constructs the orchestrator. publisher and locker may be nil.
func NewSyncer(cfg *config.Config, provider fetcher.RatesProvider, store SyncStore, publisher ChangePublisher, locker storage.AdvisoryLocker, m *metrics.Metrics, logger zerolog.Logger) *Syncer {
	return &Syncer{
		provider:  provider,
		store:     store,
		matrix:    rates.NewMatrixBuilder(store, cfg.Sync.PairInsertBatch, logger),
		updater:   rates.NewUpdater(store, cfg.Sync.RateUpdateBatch, cfg.Sync.UpdateWorkers, logger),
		publisher: publisher,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
		timeout:   cfg.Sync.CycleTimeout,
		metrics:   m,
		logger:    logger.With().Str("component", "syncer").Logger(),
	}
}

// RunSync executes one refresh cycle. A trigger arriving while another run
// is in flight returns OutcomeSkipped immediately; it is never queued.
func (s *Syncer) RunSync(ctx context.Context) (Outcome, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn().Msg("sync already in progress, trigger ignored")
		return OutcomeSkipped, nil
	}
	defer s.running.Store(false)

	if s.locker != nil && s.lockKey != 0 {
		unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
		if err != nil {
			return OutcomeAborted, fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !acquired {
			s.logger.Warn().Msg("advisory lock held elsewhere, trigger ignored")
			return OutcomeSkipped, nil
		}
		defer unlock()
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	outcome, err := s.execute(ctx)
	s.metrics.ObserveCycle(string(outcome), time.Since(start).Seconds())
	return outcome, err
}

func (s *Syncer) execute(ctx context.Context) (Outcome, error) {
	currencies, err := s.provider.FetchCurrencies(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("currency list fetch failed, cycle aborted")
		return OutcomeAborted, err
	}

	table, err := s.provider.FetchLatest(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("rate table fetch failed, cycle aborted")
		return OutcomeAborted, err
	}

	now := time.Now().UTC()
	for code, name := range currencies {
		if err := s.store.UpsertCurrency(ctx, storage.Currency{Code: code, DisplayName: name, UpdatedAt: now}); err != nil {
			s.logger.Error().Err(err).Str("code", code).Msg("currency upsert failed, cycle aborted")
			return OutcomeAborted, err
		}
	}

	// the matrix is rebuilt over the complete directory, not just the
	// freshly fetched codes, so a previously interrupted cycle self-heals
	directory, err := s.store.ListCurrencies(ctx)
	if err != nil {
		return OutcomeAborted, fmt.Errorf("list currencies: %w", err)
	}
	if _, err := s.matrix.EnsureAllPairs(ctx, directory); err != nil {
		s.logger.Error().Err(err).Msg("pair matrix build failed, cycle aborted")
		return OutcomeAborted, err
	}

	pairs, err := s.store.ListPairs(ctx)
	if err != nil {
		return OutcomeAborted, fmt.Errorf("list pairs: %w", err)
	}

	updates := make([]rates.RateUpdate, 0, len(pairs))
	for _, pair := range pairs {
		updates = append(updates, rates.RateUpdate{
			Pair:    pair,
			NewRate: rates.ComputeCrossRate(pair.CurrentRate, pair.BaseCode, pair.TargetCode, table),
		})
	}

	results := s.updater.Apply(ctx, updates)

	var changed, failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
			continue
		}
		if res.OldRate.Equal(res.NewRate) {
			continue
		}
		changed++
		s.emitChange(res)
	}

	s.metrics.AddPairsUpdated(len(results) - failed)
	s.metrics.AddPairUpdateFailures(failed)

	if ctx.Err() != nil {
		s.logger.Warn().
			Int("applied", len(results)).
			Int("total", len(updates)).
			Msg("sync cycle hit its deadline, remaining pairs stay stale until next run")
		return OutcomeAborted, fmt.Errorf("sync cycle deadline: %w", ctx.Err())
	}

	s.logger.Info().
		Int("currencies", len(directory)).
		Int("pairs", len(results)).
		Int("changed", changed).
		Int("failed", failed).
		Msg("sync cycle completed")
	return OutcomeCompleted, nil
}

// emitChange publishes one RateChangeEvent asynchronously. Publish failures
// are logged and never fail the cycle.
func (s *Syncer) emitChange(res rates.UpdateResult) {
	if s.publisher == nil {
		return
	}

	event := events.RateChangeEvent{
		BaseCurrency:   res.Pair.BaseCode,
		TargetCurrency: res.Pair.TargetCode,
		OldRate:        res.OldRate,
		NewRate:        res.NewRate,
		Updated:        res.Pair.UpdatedAt,
	}
	if percent, ok := rates.ChangePercent(res.OldRate, res.NewRate); ok {
		event.ChangePercent = &percent
	}

	s.emitting.Add(1)
	go func() {
		defer s.emitting.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.publisher.PublishRateChange(ctx, event); err != nil {
			s.logger.Warn().Err(err).
				Str("pair", event.BaseCurrency+"/"+event.TargetCurrency).
				Msg("failed to publish rate change event")
			return
		}
		s.metrics.IncChangeEventPublished()
	}()
}

// Wait blocks until all in-flight change-event publishes have finished.
func (s *Syncer) Wait() {
	s.emitting.Wait()
}
