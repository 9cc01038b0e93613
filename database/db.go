package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error is this package's class-tagged error, consistent with the rest of
// the registry's zeebo/errs usage. ErrNotFound is a separate sentinel
// callers match with errors.Is and is never wrapped in Error.
var Error = errs.Class("database")

// Open connects to Postgres via the pgx stdlib driver and applies Schema.
// The returned *sql.DB is safe for concurrent use by every component; the
// publish coordinator (package publish) pulls a single *sql.Conn from it
// for the duration of its transaction, per SPEC_FULL.md §5.
func Open(ctx context.Context, log *zap.Logger, dsn string, poolSize int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("open database: %w", err))
	}
	if poolSize > 0 {
		db.SetMaxOpenConns(poolSize)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, Error.Wrap(fmt.Errorf("ping database: %w", err))
	}
	if err := Schema.Run(ctx, log, db); err != nil {
		_ = db.Close()
		return nil, Error.Wrap(fmt.Errorf("run schema migrations: %w", err))
	}
	return db, nil
}
