package storage

import (
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"

	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/ArseniyBogdan/currency-converter-bot/internal/config"
)

// RunMigrations applies pending schema migrations from the configured path.
func RunMigrations(cfg config.DatabaseConfig) error {
	if cfg.MigrationsPath == "" {
		return nil
	}

	// the pgx v5 migrate driver registers under its own scheme
	dsn := cfg.DSN
	if strings.HasPrefix(dsn, "postgres://") {
		dsn = "pgx5://" + strings.TrimPrefix(dsn, "postgres://")
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", cfg.MigrationsPath), dsn)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
