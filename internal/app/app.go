package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ArseniyBogdan/currency-converter-bot/internal/alerting"
	"github.com/ArseniyBogdan/currency-converter-bot/internal/config"
	"github.com/ArseniyBogdan/currency-converter-bot/internal/events"
	"github.com/ArseniyBogdan/currency-converter-bot/internal/fetcher"
	"github.com/ArseniyBogdan/currency-converter-bot/internal/metrics"
	"github.com/ArseniyBogdan/currency-converter-bot/internal/scheduler"
	"github.com/ArseniyBogdan/currency-converter-bot/internal/service"
	"github.com/ArseniyBogdan/currency-converter-bot/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	return store, store.Close, nil
}

func (a *App) newProvider(m *metrics.Metrics) fetcher.RatesProvider {
	return fetcher.NewClient(fetcher.Options{
		BaseURL:    a.Config.Provider.BaseURL,
		AppID:      a.Config.Provider.AppID,
		Timeout:    a.Config.Provider.RequestTimeout,
		Retries:    a.Config.Provider.Retries,
		RetryDelay: a.Config.Provider.RetryDelay,
		UserAgent:  a.Config.Provider.UserAgent,
		Metrics:    m,
	}, a.Logger)
}

func (a *App) newPublisher() *events.KafkaPublisher {
	if len(a.Config.Kafka.Brokers) == 0 {
		return nil
	}
	return events.NewKafkaPublisher(
		a.Config.Kafka.Brokers,
		a.Config.Kafka.RateChangesTopic,
		a.Config.Kafka.NotificationsTopic,
		a.Logger,
	)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.APIBase, 10*time.Second, a.Logger)
}

func (a *App) newSyncer(store *storage.Store, publisher *events.KafkaPublisher, m *metrics.Metrics) *service.Syncer {
	var feed service.ChangePublisher
	if publisher != nil {
		feed = publisher
	}
	return service.NewSyncer(a.Config, a.newProvider(m), store, feed, store, m, a.Logger)
}

// Run executes the long-running sync daemon: scheduled cycles, the
// change-feed consumer, and the metrics endpoint.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := storage.RunMigrations(a.Config.Database); err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	var m *metrics.Metrics
	if a.Config.Metrics.Enabled {
		m = metrics.New()
		a.serveMetrics(ctx)
	}

	publisher := a.newPublisher()
	if publisher != nil {
		defer publisher.Close()
	}

	syncer := a.newSyncer(store, publisher, m)
	defer syncer.Wait()

	if len(a.Config.Kafka.Brokers) > 0 {
		evaluator := alerting.NewEvaluator(store, a.Logger)
		dispatcher := alerting.NewDispatcher(evaluator, publisher, a.newNotifier(), m, a.Logger)
		consumer := events.NewConsumer(
			a.Config.Kafka.Brokers,
			a.Config.Kafka.RateChangesTopic,
			a.Config.Kafka.ConsumerGroup,
			a.Logger,
		)

		go func() {
			if err := consumer.Run(ctx, dispatcher.HandleRateChange); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error().Err(err).Msg("change feed consumer stopped")
				cancel()
			}
		}()
	} else {
		a.Logger.Warn().Msg("kafka.brokers not configured; change feed and alert delivery disabled")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Msg("starting sync daemon")
	err = sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
		_, err := syncer.RunSync(ctx)
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("sync daemon terminated with error")
		return err
	}

	a.Logger.Info().Msg("sync daemon stopped")
	return nil
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: a.Config.Metrics.Addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// SyncOnce triggers a single on-demand refresh cycle.
func (a *App) SyncOnce(ctx context.Context) error {
	if err := storage.RunMigrations(a.Config.Database); err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher := a.newPublisher()
	if publisher != nil {
		defer publisher.Close()
	}

	syncer := a.newSyncer(store, publisher, nil)
	defer syncer.Wait()

	outcome, err := syncer.RunSync(ctx)
	if err != nil {
		return err
	}
	a.Logger.Info().Str("outcome", string(outcome)).Msg("manual sync finished")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ShowPairs prints stored pairs with their latest rates.
func (a *App) ShowPairs(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	pairs, err := store.ListPairs(ctx)
	if err != nil {
		return err
	}

	shown := 0
	for _, pair := range pairs {
		if opts.Limit > 0 && shown >= opts.Limit {
			break
		}
		fmt.Printf("%s/%s\t%s\t%s\n", pair.BaseCode, pair.TargetCode, pair.CurrentRate.String(), pair.UpdatedAt.Format(time.RFC3339))
		shown++
	}
	fmt.Printf("%d of %d pairs\n", shown, len(pairs))
	return nil
}

func (a *App) openRegistry(ctx context.Context) (*alerting.Registry, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return alerting.NewRegistry(store, store, a.Logger), closeStore, nil
}

// AddAlert registers a new alert condition for a chat.
func (a *App) AddAlert(ctx context.Context, chatID int64, pair, expr string) error {
	registry, closeStore, err := a.openRegistry(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	alert, err := registry.AddAlert(ctx, chatID, pair, expr)
	if err != nil {
		return err
	}
	fmt.Printf("alert added: %s/%s %s [ID: %s]\n", alert.BaseCode, alert.TargetCode, alert.Expr, alert.ID)
	return nil
}

// ListAlerts prints all alerts owned by a chat.
func (a *App) ListAlerts(ctx context.Context, chatID int64) error {
	registry, closeStore, err := a.openRegistry(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	alerts, err := registry.ListAlerts(ctx, chatID)
	if err != nil {
		return err
	}
	for _, alert := range alerts {
		fmt.Printf("%s/%s %s [ID: %s]\n", alert.BaseCode, alert.TargetCode, alert.Expr, alert.ID)
	}
	fmt.Printf("%d alerts\n", len(alerts))
	return nil
}

// RemoveAlert deletes an alert owned by a chat.
func (a *App) RemoveAlert(ctx context.Context, id string, chatID int64) error {
	registry, closeStore, err := a.openRegistry(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	alert, err := registry.RemoveAlert(ctx, id, chatID)
	if err != nil {
		return err
	}
	fmt.Printf("alert removed: %s/%s %s [ID: %s]\n", alert.BaseCode, alert.TargetCode, alert.Expr, alert.ID)
	return nil
}
