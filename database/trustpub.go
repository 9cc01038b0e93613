package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// GitHubOIDCConfig is one crate's registered Trusted Publishing binding: a
// GitHub Actions workflow, identified by its repository and workflow file,
// that is permitted to exchange an OIDC token for a publish-scoped
// AccessToken without ever holding a long-lived ApiToken.
type GitHubOIDCConfig struct {
	ID                int64
	CrateID           int64
	RepositoryOwner   string
	RepositoryName    string
	WorkflowFilename  string
	Environment       sql.NullString
	CreatedAt         sql.NullTime
}

// InsertGitHubOIDCConfig registers a new Trusted Publishing binding.
func InsertGitHubOIDCConfig(ctx context.Context, q Querier, c GitHubOIDCConfig) (*GitHubOIDCConfig, error) {
	row := q.QueryRowContext(ctx, `
		INSERT INTO trustpub_github_configs
			(crate_id, repository_owner, repository_name, workflow_filename, environment)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, crate_id, repository_owner, repository_name, workflow_filename, environment, created_at`,
		c.CrateID, c.RepositoryOwner, c.RepositoryName, c.WorkflowFilename, c.Environment)
	var out GitHubOIDCConfig
	err := row.Scan(&out.ID, &out.CrateID, &out.RepositoryOwner, &out.RepositoryName,
		&out.WorkflowFilename, &out.Environment, &out.CreatedAt)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("insert github oidc config: %w", err))
	}
	return &out, nil
}

// ListGitHubOIDCConfigs lists every Trusted Publishing binding owned by a crate.
func ListGitHubOIDCConfigs(ctx context.Context, q Querier, crateID int64) ([]GitHubOIDCConfig, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, crate_id, repository_owner, repository_name, workflow_filename, environment, created_at
		FROM trustpub_github_configs WHERE crate_id = $1 ORDER BY id`, crateID)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("list github oidc configs: %w", err))
	}
	defer rows.Close()

	var out []GitHubOIDCConfig
	for rows.Next() {
		var c GitHubOIDCConfig
		if err := rows.Scan(&c.ID, &c.CrateID, &c.RepositoryOwner, &c.RepositoryName,
			&c.WorkflowFilename, &c.Environment, &c.CreatedAt); err != nil {
			return nil, Error.Wrap(fmt.Errorf("scan github oidc config: %w", err))
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteGitHubOIDCConfig removes a Trusted Publishing binding, scoped to the
// owning crate so one crate's owners cannot delete another crate's config.
func DeleteGitHubOIDCConfig(ctx context.Context, q Querier, crateID, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM trustpub_github_configs WHERE id = $1 AND crate_id = $2`, id, crateID)
	if err != nil {
		return Error.Wrap(fmt.Errorf("delete github oidc config: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MatchingGitHubOIDCConfigs returns the crate ids that have registered a
// Trusted Publishing binding matching the verified OIDC claims exactly: same
// repository, same workflow file, and the same environment (or no
// environment restriction at all).
func MatchingGitHubOIDCConfigs(ctx context.Context, q Querier, owner, repo, workflowFilename string, environment sql.NullString) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT crate_id FROM trustpub_github_configs
		WHERE repository_owner = $1 AND repository_name = $2 AND workflow_filename = $3
		  AND (environment IS NULL OR environment = $4)`,
		owner, repo, workflowFilename, environment)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("match github oidc configs: %w", err))
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, Error.Wrap(fmt.Errorf("scan matched crate id: %w", err))
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TrustPubToken is a minted, hashed, short-lived AccessToken permitting
// publishes to a fixed set of crate ids. Only the hash is stored; the
// plaintext is returned to the caller exactly once, at mint time.
type TrustPubToken struct {
	ID          int64
	HashedToken string
	CrateIDs    []int64
	ExpiresAt   sql.NullTime
}

// InsertTrustPubToken stores a newly minted token.
func InsertTrustPubToken(ctx context.Context, q Querier, hashedToken string, crateIDs []int64, expiresAt sql.NullTime) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO trustpub_tokens (hashed_token, crate_ids, expires_at)
		VALUES ($1,$2,$3)`, hashedToken, pq.Array(crateIDs), expiresAt)
	if err != nil {
		return Error.Wrap(fmt.Errorf("insert trusted publisher token: %w", err))
	}
	return nil
}

// FindTrustPubTokenByHash looks up a live (unexpired) trusted-publisher
// token by its SHA-256 hash. Unlike ApiToken, these tokens have no
// last_used_at to maintain: they live minutes, not months.
func FindTrustPubTokenByHash(ctx context.Context, q Querier, hash string) (*TrustPubToken, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, hashed_token, crate_ids, expires_at FROM trustpub_tokens
		WHERE hashed_token = $1 AND expires_at > now()`, hash)
	var t TrustPubToken
	err := row.Scan(&t.ID, &t.HashedToken, pq.Array(&t.CrateIDs), &t.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("find trusted publisher token: %w", err))
	}
	return &t, nil
}
