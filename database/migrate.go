// Package database owns the relational schema shared by every component:
// crates, versions, dependencies, ownership, API tokens, teams, and the
// background job queue. Migrations are stepped and versioned, generalising
// the teacher's private/migrate package (Migration{Table, Steps}, each Step
// carrying a Version and an Action) to a single Postgres connection pool
// instead of the teacher's per-backend tagsql.DB abstraction.
package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Step is one forward-only schema change. Version must be strictly
// increasing across the Steps of a Migration; Action runs inside its own
// transaction.
type Step struct {
	Version     int
	Description string
	Action      func(ctx context.Context, tx *sql.Tx) error
}

// Migration is an ordered list of Steps applied against a single tracking
// table (by default "schema_migrations").
type Migration struct {
	Table string
	Steps []Step
}

// SQL is a convenience Action that runs a fixed list of statements verbatim,
// mirroring the teacher's migrate.SQL{...} literal-statement-list idiom.
func SQL(statements ...string) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return Error.Wrap(fmt.Errorf("exec migration statement: %w", err))
			}
		}
		return nil
	}
}

// Run applies every step whose version is not yet recorded in the tracking
// table, in ascending version order, each inside its own transaction.
func (m Migration) Run(ctx context.Context, log *zap.Logger, db *sql.DB) error {
	table := m.Table
	if table == "" {
		table = "schema_migrations"
	}

	createTrackingTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version     integer PRIMARY KEY,
			description text NOT NULL,
			applied_at  timestamptz NOT NULL DEFAULT now()
		)`, table)
	if _, err := db.ExecContext(ctx, createTrackingTable); err != nil {
		return Error.Wrap(fmt.Errorf("create migration tracking table: %w", err))
	}

	for _, step := range m.Steps {
		var applied bool
		query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE version = $1)`, table)
		if err := db.QueryRowContext(ctx, query, step.Version).Scan(&applied); err != nil {
			return Error.Wrap(fmt.Errorf("check migration version %d: %w", step.Version, err))
		}
		if applied {
			continue
		}

		log.Info("applying migration", zap.Int("version", step.Version), zap.String("description", step.Description))

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return Error.Wrap(fmt.Errorf("begin migration %d: %w", step.Version, err))
		}

		if err := step.Action(ctx, tx); err != nil {
			_ = tx.Rollback()
			return Error.Wrap(fmt.Errorf("run migration %d (%s): %w", step.Version, step.Description, err))
		}

		insert := fmt.Sprintf(`INSERT INTO %s (version, description) VALUES ($1, $2)`, table)
		if _, err := tx.ExecContext(ctx, insert, step.Version, step.Description); err != nil {
			_ = tx.Rollback()
			return Error.Wrap(fmt.Errorf("record migration %d: %w", step.Version, err))
		}

		if err := tx.Commit(); err != nil {
			return Error.Wrap(fmt.Errorf("commit migration %d: %w", step.Version, err))
		}
	}

	return nil
}
