package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate 执行数据库迁移；steps 为 0 时迁移到最新版本，负数表示回滚
func Migrate(ctx context.Context, dsn string, steps int) error {
	db, err := sql.Open("postgres", strings.TrimSpace(dsn))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		if steps != 0 {
			done <- m.Steps(steps)
			return
		}
		done <- m.Up()
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		m.GracefulStop <- true
		return fmt.Errorf("migration interrupted: %w", ctx.Err())
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Info().Msg("no migrations to run")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration error: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
	return nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}
