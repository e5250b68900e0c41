package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ArseniyBogdan/currency-converter-bot/internal/config"
	"github.com/ArseniyBogdan/currency-converter-bot/internal/events"
	"github.com/ArseniyBogdan/currency-converter-bot/internal/rates"
	"github.com/ArseniyBogdan/currency-converter-bot/internal/storage"
)

type fakeProvider struct {
	currencies    map[string]string
	table         rates.RateTable
	currenciesErr error
	latestErr     error
	gate          chan struct{} // when set, FetchCurrencies blocks until closed
}

func (f *fakeProvider) FetchCurrencies(ctx context.Context) (map[string]string, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.currenciesErr != nil {
		return nil, f.currenciesErr
	}
	return f.currencies, nil
}

func (f *fakeProvider) FetchLatest(ctx context.Context) (rates.RateTable, error) {
	if f.latestErr != nil {
		return rates.RateTable{}, f.latestErr
	}
	return f.table, nil
}

type fakeStore struct {
	mu         sync.Mutex
	currencies map[string]storage.Currency
	pairs      map[storage.PairKey]storage.CurrencyPair
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		currencies: make(map[string]storage.Currency),
		pairs:      make(map[storage.PairKey]storage.CurrencyPair),
	}
}

func (f *fakeStore) UpsertCurrency(ctx context.Context, currency storage.Currency) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currencies[currency.Code] = currency
	return nil
}

func (f *fakeStore) ListCurrencies(ctx context.Context) ([]storage.Currency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storage.Currency, 0, len(f.currencies))
	for _, c := range f.currencies {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStore) CurrencyExists(ctx context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.currencies[code]
	return ok, nil
}

func (f *fakeStore) ListPairs(ctx context.Context) ([]storage.CurrencyPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storage.CurrencyPair, 0, len(f.pairs))
	for _, p := range f.pairs {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) ListPairKeys(ctx context.Context) (map[storage.PairKey]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make(map[storage.PairKey]struct{}, len(f.pairs))
	for k := range f.pairs {
		keys[k] = struct{}{}
	}
	return keys, nil
}

func (f *fakeStore) InsertPairs(ctx context.Context, pairs []storage.CurrencyPair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range pairs {
		if _, exists := f.pairs[p.Key()]; exists {
			continue
		}
		f.pairs[p.Key()] = p
	}
	return nil
}

func (f *fakeStore) UpdatePairRate(ctx context.Context, base, target string, rate decimal.Decimal, updatedAt time.Time) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := storage.PairKey{Base: base, Target: target}
	p, ok := f.pairs[key]
	if !ok {
		return decimal.Zero, storage.ErrPairNotFound
	}
	old := p.CurrentRate
	p.CurrentRate = rate
	p.UpdatedAt = updatedAt
	f.pairs[key] = p
	return old, nil
}

func (f *fakeStore) GetPair(ctx context.Context, base, target string) (storage.CurrencyPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pairs[storage.PairKey{Base: base, Target: target}]
	if !ok {
		return storage.CurrencyPair{}, storage.ErrPairNotFound
	}
	return p, nil
}

func (f *fakeStore) GetPairByID(ctx context.Context, id string) (storage.CurrencyPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pairs {
		if p.ID == id {
			return p, nil
		}
	}
	return storage.CurrencyPair{}, storage.ErrPairNotFound
}

var _ SyncStore = (*fakeStore)(nil)

type fakePublisher struct {
	mu     sync.Mutex
	events []events.RateChangeEvent
}

func (f *fakePublisher) PublishRateChange(ctx context.Context, event events.RateChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) published() []events.RateChangeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.RateChangeEvent(nil), f.events...)
}

func testConfig(timeout time.Duration) *config.Config {
	cfg := &config.Config{}
	cfg.Sync.CycleTimeout = timeout
	cfg.Sync.PairInsertBatch = 1000
	cfg.Sync.RateUpdateBatch = 500
	cfg.Sync.UpdateWorkers = 4
	return cfg
}

func usdTable() rates.RateTable {
	return rates.RateTable{
		Base: "USD",
		Rates: map[string]decimal.Decimal{
			"USD": decimal.NewFromInt(1),
			"EUR": decimal.RequireFromString("0.9"),
		},
		Timestamp: time.Now().UTC(),
	}
}

func TestRunSyncFullCycle(t *testing.T) {
	provider := &fakeProvider{
		currencies: map[string]string{"USD": "United States Dollar", "EUR": "Euro"},
		table:      usdTable(),
	}
	store := newFakeStore()
	publisher := &fakePublisher{}
	syncer := NewSyncer(testConfig(time.Minute), provider, store, publisher, nil, nil, zerolog.Nop())

	outcome, err := syncer.RunSync(context.Background())
	if err != nil {
		t.Fatalf("run sync: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", outcome)
	}

	if len(store.currencies) != 2 {
		t.Fatalf("stored %d currencies, want 2", len(store.currencies))
	}
	if len(store.pairs) != 2 {
		t.Fatalf("stored %d pairs, want 2", len(store.pairs))
	}

	eurUSD, err := store.GetPair(context.Background(), "EUR", "USD")
	if err != nil {
		t.Fatalf("get pair: %v", err)
	}
	// 1 / 0.9 rounded half-up to six places
	if !eurUSD.CurrentRate.Equal(decimal.RequireFromString("1.111111")) {
		t.Fatalf("EUR/USD = %s, want 1.111111", eurUSD.CurrentRate)
	}

	syncer.Wait()
	published := publisher.published()
	if len(published) != 2 {
		t.Fatalf("published %d change events, want 2", len(published))
	}
	for _, event := range published {
		if !event.OldRate.IsZero() {
			t.Fatalf("old rate = %s, want zero for freshly created pair", event.OldRate)
		}
		if event.ChangePercent != nil {
			t.Fatalf("change percent must be omitted when the old rate is zero")
		}
	}
}

func TestRunSyncSecondCycleEmitsOnlyChanges(t *testing.T) {
	provider := &fakeProvider{
		currencies: map[string]string{"USD": "United States Dollar", "EUR": "Euro"},
		table:      usdTable(),
	}
	store := newFakeStore()
	publisher := &fakePublisher{}
	syncer := NewSyncer(testConfig(time.Minute), provider, store, publisher, nil, nil, zerolog.Nop())

	if _, err := syncer.RunSync(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	syncer.Wait()
	first := len(publisher.published())

	// unchanged table: every pair lands on the same rate, nothing is emitted
	if _, err := syncer.RunSync(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	syncer.Wait()
	if got := len(publisher.published()); got != first {
		t.Fatalf("published %d events after identical cycle, want %d", got, first)
	}

	// one rate moves, exactly one event with a defined change percent
	provider.table.Rates["EUR"] = decimal.RequireFromString("0.95")
	if _, err := syncer.RunSync(context.Background()); err != nil {
		t.Fatalf("third run: %v", err)
	}
	syncer.Wait()
	published := publisher.published()
	if len(published) != first+2 {
		t.Fatalf("published %d events, want %d", len(published), first+2)
	}
	for _, event := range published[first:] {
		if event.ChangePercent == nil {
			t.Fatalf("change percent missing for %s/%s", event.BaseCurrency, event.TargetCurrency)
		}
	}
}

func TestRunSyncSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	provider := &fakeProvider{
		currencies: map[string]string{"USD": "United States Dollar", "EUR": "Euro"},
		table:      usdTable(),
		gate:       gate,
	}
	store := newFakeStore()
	syncer := NewSyncer(testConfig(time.Minute), provider, store, nil, nil, nil, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := syncer.RunSync(context.Background()); err != nil {
			t.Errorf("blocked run: %v", err)
		}
	}()

	// wait until the first run holds the guard
	deadline := time.After(time.Second)
	for !syncer.running.Load() {
		select {
		case <-deadline:
			t.Fatal("first run never started")
		case <-time.After(time.Millisecond):
		}
	}

	outcome, err := syncer.RunSync(context.Background())
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Fatalf("second trigger outcome = %s, want skipped", outcome)
	}

	close(gate)
	<-done

	// guard released, a later trigger runs again
	outcome, err = syncer.RunSync(context.Background())
	if err != nil {
		t.Fatalf("third trigger: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("third trigger outcome = %s, want completed", outcome)
	}
	syncer.Wait()
}

func TestRunSyncAbortsOnFetchFailure(t *testing.T) {
	provider := &fakeProvider{currenciesErr: errors.New("provider unreachable")}
	store := newFakeStore()
	syncer := NewSyncer(testConfig(time.Minute), provider, store, nil, nil, nil, zerolog.Nop())

	outcome, err := syncer.RunSync(context.Background())
	if outcome != OutcomeAborted {
		t.Fatalf("outcome = %s, want aborted", outcome)
	}
	if err == nil {
		t.Fatal("expected fetch error")
	}
	if len(store.pairs) != 0 {
		t.Fatalf("stored %d pairs after aborted fetch, want 0", len(store.pairs))
	}
}

func TestRunSyncAbortsOnLatestFailure(t *testing.T) {
	provider := &fakeProvider{
		currencies: map[string]string{"USD": "United States Dollar"},
		latestErr:  errors.New("rate table unavailable"),
	}
	syncer := NewSyncer(testConfig(time.Minute), provider, newFakeStore(), nil, nil, nil, zerolog.Nop())

	outcome, err := syncer.RunSync(context.Background())
	if outcome != OutcomeAborted || err == nil {
		t.Fatalf("outcome = %s, err = %v, want aborted with error", outcome, err)
	}
}

func TestRunSyncReleasesGuardAfterDeadline(t *testing.T) {
	provider := &fakeProvider{
		currencies: map[string]string{"USD": "United States Dollar", "EUR": "Euro"},
		table:      usdTable(),
	}
	store := newFakeStore()
	syncer := NewSyncer(testConfig(time.Nanosecond), provider, store, nil, nil, nil, zerolog.Nop())

	outcome, err := syncer.RunSync(context.Background())
	if outcome != OutcomeAborted {
		t.Fatalf("outcome = %s, want aborted", outcome)
	}
	if err == nil {
		t.Fatal("expected deadline error")
	}

	if syncer.running.Load() {
		t.Fatal("single-flight guard still held after aborted run")
	}
	// a fresh trigger with a sane timeout proceeds
	syncer.timeout = time.Minute
	outcome, err = syncer.RunSync(context.Background())
	if err != nil {
		t.Fatalf("run after abort: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", outcome)
	}
	syncer.Wait()
}
