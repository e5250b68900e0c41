package rates

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ArseniyBogdan/currency-converter-bot/internal/storage"
)

// RateUpdate is one computed rate awaiting persistence.
type RateUpdate struct {
	Pair    storage.CurrencyPair
	NewRate decimal.Decimal
}

// UpdateResult reports the outcome of one per-pair store update. Err is set
// for pairs whose update failed; such pairs retain their previous rate.
type UpdateResult struct {
	Pair    storage.CurrencyPair
	OldRate decimal.Decimal
	NewRate decimal.Decimal
	Err     error
}

// Updater applies computed rates to the pair store in fixed-size batches,
// each batch fanned out over a bounded worker pool.
type Updater struct {
	pairs     storage.PairStore
	batchSize int
	workers   int
	logger    zerolog.Logger
}

// NewUpdater constructs an Updater.
func NewUpdater(pairs storage.PairStore, batchSize, workers int, logger zerolog.Logger) *Updater {
	if batchSize <= 0 {
		batchSize = 500
	}
	if workers <= 0 {
		workers = 4
	}
	return &Updater{
		pairs:     pairs,
		batchSize: batchSize,
		workers:   workers,
		logger:    logger.With().Str("component", "rate_updater").Logger(),
	}
}

// Apply persists the given updates batch by batch. Failures are isolated
// per pair and reported in the results rather than aborting siblings. Once
// ctx expires no new batch is started, but the batch already in flight is
// allowed to finish.
func (u *Updater) Apply(ctx context.Context, updates []RateUpdate) []UpdateResult {
	results := make([]UpdateResult, 0, len(updates))

	for start := 0; start < len(updates); start += u.batchSize {
		if ctx.Err() != nil {
			u.logger.Warn().
				Int("applied", start).
				Int("remaining", len(updates)-start).
				Msg("deadline reached, skipping remaining batches")
			break
		}

		end := start + u.batchSize
		if end > len(updates) {
			end = len(updates)
		}
		results = append(results, u.applyBatch(ctx, updates[start:end])...)
	}

	return results
}

func (u *Updater) applyBatch(ctx context.Context, batch []RateUpdate) []UpdateResult {
	// in-flight work runs to completion even if the cycle deadline expires
	storeCtx := context.WithoutCancel(ctx)

	workers := u.workers
	if workers > len(batch) {
		workers = len(batch)
	}

	tasks := make(chan RateUpdate)
	out := make(chan UpdateResult, len(batch))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for upd := range tasks {
				out <- u.applyOne(storeCtx, upd)
			}
		}()
	}

	for _, upd := range batch {
		tasks <- upd
	}
	close(tasks)
	wg.Wait()
	close(out)

	results := make([]UpdateResult, 0, len(batch))
	for res := range out {
		results = append(results, res)
	}
	return results
}

func (u *Updater) applyOne(ctx context.Context, upd RateUpdate) UpdateResult {
	now := time.Now().UTC()

	oldRate, err := u.pairs.UpdatePairRate(ctx, upd.Pair.BaseCode, upd.Pair.TargetCode, upd.NewRate, now)
	if err != nil {
		u.logger.Warn().Err(err).
			Str("base", upd.Pair.BaseCode).
			Str("target", upd.Pair.TargetCode).
			Msg("pair update failed, rate kept stale until next cycle")
		return UpdateResult{Pair: upd.Pair, NewRate: upd.NewRate, Err: err}
	}

	updated := upd.Pair
	updated.CurrentRate = upd.NewRate
	updated.UpdatedAt = now

	u.logger.Debug().
		Str("base", updated.BaseCode).
		Str("target", updated.TargetCode).
		Str("old_rate", oldRate.String()).
		Str("new_rate", upd.NewRate.String()).
		Msg("pair updated")

	return UpdateResult{Pair: updated, OldRate: oldRate, NewRate: upd.NewRate}
}
