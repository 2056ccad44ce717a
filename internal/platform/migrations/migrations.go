// Package migrations embeds the PostgreSQL schema and applies it with
// golang-migrate.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// FS contains the embedded migrations.
//
//go:embed sql/*.sql
var FS embed.FS

const sourceDir = "sql"

// Source opens the embedded migrations as a golang-migrate source.
func Source() (source.Driver, error) {
	drv, err := iofs.New(FS, sourceDir)
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	return drv, nil
}

// Apply migrates the database to the latest version.
func Apply(ctx context.Context, db *sql.DB) error {
	return run(ctx, db, func(m *migrate.Migrate) error { return m.Up() })
}

// Rollback reverts every applied migration.
func Rollback(ctx context.Context, db *sql.DB) error {
	return run(ctx, db, func(m *migrate.Migrate) error { return m.Down() })
}

func run(ctx context.Context, db *sql.DB, step func(*migrate.Migrate) error) error {
	src, err := Source()
	if err != nil {
		return err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	drv, err := postgres.WithConnection(ctx, conn, &postgres.Config{})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("init migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		_ = drv.Close()
		return fmt.Errorf("init migrate: %w", err)
	}
	defer m.Close()

	if err := step(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
