package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Migration is one forward-only schema change.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrator applies a service's migrations and records them in
// schema_migrations. It satisfies bootstrap.Readiness.
type Migrator struct {
	db         *sql.DB
	service    string
	migrations []Migration
	log        *zap.Logger
}

// NewMigrator returns a migrator for the named service.
func NewMigrator(db *sql.DB, service string, log *zap.Logger) (*Migrator, error) {
	migrations := getServiceMigrations(service)
	if len(migrations) == 0 {
		return nil, fmt.Errorf("no migrations defined for service %q", service)
	}
	return &Migrator{
		db:         db,
		service:    service,
		migrations: migrations,
		log:        log.With(zap.String("component", "migrator")),
	}, nil
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PendingChangesExist reports whether any migration has not been applied yet.
func (m *Migrator) PendingChangesExist(ctx context.Context) (bool, error) {
	pending, err := m.Pending(ctx)
	if err != nil {
		return false, err
	}
	return len(pending) > 0, nil
}

// Pending lists the migrations not yet recorded, in version order.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	if _, err := m.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var pending []Migration
	for _, mig := range m.migrations {
		if !applied[mig.Version] {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

// ApplyChanges runs every pending migration, each in its own transaction.
func (m *Migrator) ApplyChanges(ctx context.Context) error {
	pending, err := m.Pending(ctx)
	if err != nil {
		return err
	}
	for _, mig := range pending {
		if err := m.apply(ctx, mig); err != nil {
			return fmt.Errorf("migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		m.log.Info("migration applied", zap.String("service", m.service),
			zap.Int("version", mig.Version), zap.String("name", mig.Name))
	}
	return nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", mig.Version, mig.Name); err != nil {
		return err
	}
	return tx.Commit()
}

func getServiceMigrations(service string) []Migration {
	switch service {
	case "user-service":
		return []Migration{
			{Version: 1, Name: "create_users", SQL: `CREATE TABLE IF NOT EXISTS users (
				id VARCHAR(36) PRIMARY KEY,
				username VARCHAR(64) NOT NULL UNIQUE,
				email VARCHAR(255) NOT NULL UNIQUE,
				password_hash VARCHAR(255) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`},
			{Version: 2, Name: "create_outbox_events", SQL: `CREATE TABLE IF NOT EXISTS outbox_events (
				id BIGSERIAL PRIMARY KEY,
				event_id VARCHAR(36) NOT NULL UNIQUE,
				queue VARCHAR(255) NOT NULL,
				event_type VARCHAR(64) NOT NULL,
				payload BYTEA NOT NULL,
				correlation_id VARCHAR(64) NOT NULL DEFAULT '',
				attempts INTEGER NOT NULL DEFAULT 0,
				last_error TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				published_at TIMESTAMPTZ
			)`},
			{Version: 3, Name: "index_outbox_unpublished", SQL: `CREATE INDEX IF NOT EXISTS outbox_events_unpublished_idx
				ON outbox_events (id) WHERE published_at IS NULL`},
		}
	case "employee-service":
		return []Migration{
			{Version: 1, Name: "create_employees", SQL: `CREATE TABLE IF NOT EXISTS employees (
				id VARCHAR(36) PRIMARY KEY,
				user_id VARCHAR(36) NOT NULL,
				name VARCHAR(255) NOT NULL,
				email VARCHAR(255) NOT NULL,
				position VARCHAR(255) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`},
			{Version: 2, Name: "unique_employee_user_id", SQL: `CREATE UNIQUE INDEX IF NOT EXISTS employees_user_id_key
				ON employees (user_id)`},
		}
	default:
		return nil
	}
}
