package rates

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ArseniyBogdan/currency-converter-bot/internal/storage"
)

// MissingPairs computes the ordered Cartesian product of currencies, minus
// self-pairs and minus the already-persisted set. New pairs start at rate 0
// and are picked up by the next cross-rate pass.
func MissingPairs(currencies []storage.Currency, existing map[storage.PairKey]struct{}, now time.Time) []storage.CurrencyPair {
	missing := make([]storage.CurrencyPair, 0)
	for _, base := range currencies {
		for _, target := range currencies {
			if base.Code == target.Code {
				continue
			}
			key := storage.PairKey{Base: base.Code, Target: target.Code}
			if _, ok := existing[key]; ok {
				continue
			}
			missing = append(missing, storage.CurrencyPair{
				ID:         uuid.NewString(),
				BaseCode:   base.Code,
				TargetCode: target.Code,
				UpdatedAt:  now,
			})
		}
	}
	return missing
}

// MatrixBuilder fills in missing currency pairs for the complete directory.
type MatrixBuilder struct {
	pairs     storage.PairStore
	batchSize int
	logger    zerolog.Logger
}

// NewMatrixBuilder constructs a builder inserting in batches of batchSize.
func NewMatrixBuilder(pairs storage.PairStore, batchSize int, logger zerolog.Logger) *MatrixBuilder {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &MatrixBuilder{
		pairs:     pairs,
		batchSize: batchSize,
		logger:    logger.With().Str("component", "matrix_builder").Logger(),
	}
}

// EnsureAllPairs creates every missing ordered pair for the given currency
// set. Safe to call repeatedly: existence is checked against the persisted
// key set first, and the insert itself tolerates a concurrently created
// duplicate. Returns the number of pairs created.
func (b *MatrixBuilder) EnsureAllPairs(ctx context.Context, currencies []storage.Currency) (int, error) {
	existing, err := b.pairs.ListPairKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pair keys: %w", err)
	}

	missing := MissingPairs(currencies, existing, time.Now().UTC())
	if len(missing) == 0 {
		return 0, nil
	}

	for start := 0; start < len(missing); start += b.batchSize {
		end := start + b.batchSize
		if end > len(missing) {
			end = len(missing)
		}
		if err := b.pairs.InsertPairs(ctx, missing[start:end]); err != nil {
			return start, fmt.Errorf("insert pair batch: %w", err)
		}
	}

	b.logger.Info().Int("created", len(missing)).Int("currencies", len(currencies)).Msg("pair matrix extended")
	return len(missing), nil
}
