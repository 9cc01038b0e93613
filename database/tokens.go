package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// HashToken returns the hex-encoded SHA-256 digest stored on an ApiToken
// row. Plaintext tokens are never stored; only the hash is, per
// SPEC_FULL.md §3.
func HashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// NewApiToken carries the fields required to insert an ApiToken row.
type NewApiToken struct {
	UserID         int64
	Name           string
	HashedToken    string
	CrateScopes    []string
	EndpointScopes []string
	ExpiresAt      sql.NullTime
}

// InsertApiToken creates a new token row.
func InsertApiToken(ctx context.Context, q Querier, nt NewApiToken) (*ApiToken, error) {
	row := q.QueryRowContext(ctx, `
		INSERT INTO api_tokens (user_id, name, hashed_token, crate_scopes, endpoint_scopes, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, user_id, name, hashed_token, crate_scopes, endpoint_scopes,
		          created_at, last_used_at, expires_at, revoked`,
		nt.UserID, nt.Name, nt.HashedToken, pq.Array(nt.CrateScopes), pq.Array(nt.EndpointScopes), nt.ExpiresAt)
	return scanToken(row)
}

func scanToken(row *sql.Row) (*ApiToken, error) {
	var t ApiToken
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.HashedToken, pq.Array(&t.CrateScopes),
		pq.Array(&t.EndpointScopes), &t.CreatedAt, &t.LastUsedAt, &t.ExpiresAt, &t.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("scan api token: %w", err))
	}
	return &t, nil
}

// ListApiTokensForUser lists every non-revoked token belonging to a user,
// newest first, for the GET /api/v1/me/tokens route. The hashed_token
// column is never returned to a client; callers should not serialise it.
func ListApiTokensForUser(ctx context.Context, q Querier, userID int64) ([]ApiToken, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, name, hashed_token, crate_scopes, endpoint_scopes,
		       created_at, last_used_at, expires_at, revoked
		FROM api_tokens WHERE user_id = $1 AND revoked = false ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("list api tokens: %w", err))
	}
	defer rows.Close()

	var out []ApiToken
	for rows.Next() {
		var t ApiToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.HashedToken, pq.Array(&t.CrateScopes),
			pq.Array(&t.EndpointScopes), &t.CreatedAt, &t.LastUsedAt, &t.ExpiresAt, &t.Revoked); err != nil {
			return nil, Error.Wrap(fmt.Errorf("scan api token row: %w", err))
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RevokeApiToken marks a token revoked, scoped to its owning user so one
// user cannot revoke another's token by guessing an id.
func RevokeApiToken(ctx context.Context, q Querier, userID, tokenID int64) error {
	res, err := q.ExecContext(ctx, `UPDATE api_tokens SET revoked = true WHERE id = $1 AND user_id = $2`, tokenID, userID)
	if err != nil {
		return Error.Wrap(fmt.Errorf("revoke api token: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindApiTokenByHash looks up a live (not revoked, not expired) token by its
// SHA-256 hash and best-effort bumps last_used_at in a sub-transaction that
// tolerates a read-only database, exactly mirroring
// crates_io_database::models::token::ApiToken::find_by_api_token: on
// failure to update (e.g. read replica), fall back to a plain read so
// authentication still succeeds in read-only mode.
func FindApiTokenByHash(ctx context.Context, db *sql.DB, hash string) (*ApiToken, error) {
	const whereLive = `
		hashed_token = $1 AND revoked = false
		AND (expires_at IS NULL OR expires_at > now())`

	tx, err := db.BeginTx(ctx, nil)
	if err == nil {
		row := tx.QueryRowContext(ctx, `
			UPDATE api_tokens SET last_used_at = now()
			WHERE `+whereLive+`
			RETURNING id, user_id, name, hashed_token, crate_scopes, endpoint_scopes,
			          created_at, last_used_at, expires_at, revoked`, hash)
		tok, scanErr := scanToken(row)
		if scanErr == nil {
			if commitErr := tx.Commit(); commitErr == nil {
				return tok, nil
			}
		}
		_ = tx.Rollback()
		if errors.Is(scanErr, ErrNotFound) {
			return nil, ErrNotFound
		}
	}

	// Read-only fallback: the database rejected the UPDATE (e.g. connected
	// to a read replica); read without touching last_used_at.
	row := db.QueryRowContext(ctx, `
		SELECT id, user_id, name, hashed_token, crate_scopes, endpoint_scopes,
		       created_at, last_used_at, expires_at, revoked
		FROM api_tokens WHERE `+whereLive, hash)
	return scanToken(row)
}
