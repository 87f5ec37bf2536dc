package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	sqlassets "github.com/zenGate-Global/tender-engine/database"
)

// MigrateUp applies every pending embedded migration.
func MigrateUp(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := configureGoose(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, sqlassets.MigrationsDir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// MigrationStatus logs the applied/pending state of each migration through goose's logger.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := configureGoose(); err != nil {
		return err
	}
	return goose.StatusContext(ctx, db, sqlassets.MigrationsDir)
}

func configureGoose() error {
	goose.SetBaseFS(sqlassets.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return nil
}
