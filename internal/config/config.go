package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/ArseniyBogdan/currency-converter-bot/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the periodic sync trigger.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// ProviderConfig covers the external exchange-rate source.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AppID          string        `mapstructure:"app_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Retries        int           `mapstructure:"retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SyncConfig bounds one refresh cycle.
type SyncConfig struct {
	CycleTimeout    time.Duration `mapstructure:"cycle_timeout"`
	PairInsertBatch int           `mapstructure:"pair_insert_batch"`
	RateUpdateBatch int           `mapstructure:"rate_update_batch"`
	UpdateWorkers   int           `mapstructure:"update_workers"`
}

// KafkaConfig routes the change feed and notification sink.
type KafkaConfig struct {
	Brokers            []string `mapstructure:"brokers"`
	RateChangesTopic   string   `mapstructure:"rate_changes_topic"`
	NotificationsTopic string   `mapstructure:"notifications_topic"`
	ConsumerGroup      string   `mapstructure:"consumer_group"`
}

// AlertingConfig defines alert delivery routing.
type AlertingConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig parameterises direct Telegram delivery.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig exposes the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CCBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "currency-converter-bot")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x43435230))

	v.SetDefault("provider.base_url", "https://openexchangerates.org/api")
	v.SetDefault("provider.request_timeout", "10s")
	v.SetDefault("provider.retries", 3)
	v.SetDefault("provider.retry_delay", "1s")
	v.SetDefault("provider.user_agent", "currency-converter-bot/1.0")

	v.SetDefault("sync.cycle_timeout", "10m")
	v.SetDefault("sync.pair_insert_batch", 1000)
	v.SetDefault("sync.rate_update_batch", 500)
	v.SetDefault("sync.update_workers", 8)

	v.SetDefault("kafka.rate_changes_topic", "currency-updates")
	v.SetDefault("kafka.notifications_topic", "alert-notifications")
	v.SetDefault("kafka.consumer_group", "currency-converter-bot.rates-updates")

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9100")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Sync.CycleTimeout <= 0 {
		return fmt.Errorf("sync.cycle_timeout must be greater than zero")
	}
	if c.Sync.PairInsertBatch <= 0 {
		return fmt.Errorf("sync.pair_insert_batch must be greater than zero")
	}
	if c.Sync.RateUpdateBatch <= 0 {
		return fmt.Errorf("sync.rate_update_batch must be greater than zero")
	}
	if c.Sync.UpdateWorkers <= 0 {
		return fmt.Errorf("sync.update_workers must be greater than zero")
	}
	if c.Provider.Retries < 0 {
		return fmt.Errorf("provider.retries cannot be negative")
	}
	if c.Alerting.Telegram.Enabled && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token is required when telegram delivery is enabled")
	}
	return nil
}
