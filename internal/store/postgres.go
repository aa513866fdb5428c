/**
 * @description
 * This file contains the PostgresRepository constructor and schema migration
 * runner. Migrations are embedded in the binary and applied with goose at
 * bootstrap, so a fresh database is always brought to the current schema
 * before the engine starts accepting work.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pooling.
 * - github.com/pressly/goose/v3: SQL migration runner over the embedded FS.
 */

package store

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	db     *pgxpool.Pool
	radius RadiusReplyWriter
}

// NewPostgresRepository creates a repository over an existing pool. The
// RadiusReplyWriter is injected so FreeRADIUS row maintenance stays testable
// without a live database.
func NewPostgresRepository(db *pgxpool.Pool, radius RadiusReplyWriter) *PostgresRepository {
	if radius == nil {
		radius = NewPgxRadiusWriter()
	}
	return &PostgresRepository{db: db, radius: radius}
}

// RunMigrations applies all pending schema migrations.
func (r *PostgresRepository) RunMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.db)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
