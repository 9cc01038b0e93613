package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storj.io/cratesregistry/cratename"
)

// ErrNotFound is returned by lookup functions when no row matches.
var ErrNotFound = errors.New("not found")

// FindCrateByName looks up a crate by its case-insensitive, `-`/`_`
// equivalent name, matching on the normalized_name column computed by
// cratename.Normalize.
func FindCrateByName(ctx context.Context, q Querier, name string) (*Crate, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, normalized_name, description, documentation, homepage,
		       repository, readme, max_upload_size, max_unpack_size, trustpub_only,
		       created_at, updated_at
		FROM crates WHERE normalized_name = $1`, cratename.Normalize(name))
	var c Crate
	err := row.Scan(&c.ID, &c.Name, &c.NormalizedName, &c.Description, &c.Documentation,
		&c.Homepage, &c.Repository, &c.Readme, &c.MaxUploadSize, &c.MaxUnpackSize,
		&c.TrustpubOnly, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("find crate by name: %w", err))
	}
	return &c, nil
}

// InsertCrate creates a new crate row. The caller is responsible for first
// checking FindCrateByName returns ErrNotFound, inside the same transaction,
// to avoid a duplicate-name race (the UNIQUE index on normalized_name is the
// final backstop).
func InsertCrate(ctx context.Context, q Querier, name string) (*Crate, error) {
	row := q.QueryRowContext(ctx, `
		INSERT INTO crates (name, normalized_name)
		VALUES ($1, $2)
		RETURNING id, name, normalized_name, description, documentation, homepage,
		          repository, readme, max_upload_size, max_unpack_size, trustpub_only,
		          created_at, updated_at`,
		name, cratename.Normalize(name))
	var c Crate
	err := row.Scan(&c.ID, &c.Name, &c.NormalizedName, &c.Description, &c.Documentation,
		&c.Homepage, &c.Repository, &c.Readme, &c.MaxUploadSize, &c.MaxUnpackSize,
		&c.TrustpubOnly, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("insert crate: %w", err))
	}
	return &c, nil
}

// UpdateCrateMetadata updates the mutable fields a publish can change.
func UpdateCrateMetadata(ctx context.Context, q Querier, crateID int64, description, documentation, homepage, repository sql.NullString, readme bool) error {
	_, err := q.ExecContext(ctx, `
		UPDATE crates SET description = $2, documentation = $3, homepage = $4,
		                   repository = $5, readme = $6, updated_at = now()
		WHERE id = $1`, crateID, description, documentation, homepage, repository, readme)
	if err != nil {
		return Error.Wrap(fmt.Errorf("update crate metadata: %w", err))
	}
	return nil
}

// SetTrustpubOnly flips the trustpub_only flag, which rejects any future
// publish not carrying a trusted-publisher token.
func SetTrustpubOnly(ctx context.Context, q Querier, crateID int64, trustpubOnly bool) error {
	_, err := q.ExecContext(ctx, `UPDATE crates SET trustpub_only = $2, updated_at = now() WHERE id = $1`, crateID, trustpubOnly)
	if err != nil {
		return Error.Wrap(fmt.Errorf("set trustpub_only: %w", err))
	}
	return nil
}

// CrateSummary is one row of the homepage summary lists: a crate alongside
// the metadata those lists are ordered or filtered by.
type CrateSummary struct {
	Crate          Crate
	MaxVersionNum  string
	TotalDownloads int64
}

// ListNewestCrates returns the limit most recently created crates.
func ListNewestCrates(ctx context.Context, q Querier, limit int) ([]CrateSummary, error) {
	return listSummary(ctx, q, `
		SELECT c.id, c.name, c.normalized_name, c.description, c.documentation, c.homepage,
		       c.repository, c.readme, c.max_upload_size, c.max_unpack_size, c.trustpub_only,
		       c.created_at, c.updated_at
		FROM crates c ORDER BY c.created_at DESC LIMIT $1`, limit)
}

// ListJustUpdated returns the limit most recently updated crates.
func ListJustUpdated(ctx context.Context, q Querier, limit int) ([]CrateSummary, error) {
	return listSummary(ctx, q, `
		SELECT c.id, c.name, c.normalized_name, c.description, c.documentation, c.homepage,
		       c.repository, c.readme, c.max_upload_size, c.max_unpack_size, c.trustpub_only,
		       c.created_at, c.updated_at
		FROM crates c ORDER BY c.updated_at DESC LIMIT $1`, limit)
}

// ListMostDownloaded returns the limit crates with the highest all-time
// download count across all of their versions.
func ListMostDownloaded(ctx context.Context, q Querier, limit int) ([]CrateSummary, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT c.id, c.name, c.normalized_name, c.description, c.documentation, c.homepage,
		       c.repository, c.readme, c.max_upload_size, c.max_unpack_size, c.trustpub_only,
		       c.created_at, c.updated_at, coalesce(sum(vd.downloads), 0) AS total
		FROM crates c
		JOIN versions v ON v.crate_id = c.id
		LEFT JOIN version_downloads vd ON vd.version_id = v.id
		GROUP BY c.id
		ORDER BY total DESC, c.id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("list most downloaded crates: %w", err))
	}
	defer rows.Close()

	var out []CrateSummary
	for rows.Next() {
		var s CrateSummary
		if err := rows.Scan(&s.Crate.ID, &s.Crate.Name, &s.Crate.NormalizedName, &s.Crate.Description,
			&s.Crate.Documentation, &s.Crate.Homepage, &s.Crate.Repository, &s.Crate.Readme,
			&s.Crate.MaxUploadSize, &s.Crate.MaxUnpackSize, &s.Crate.TrustpubOnly,
			&s.Crate.CreatedAt, &s.Crate.UpdatedAt, &s.TotalDownloads); err != nil {
			return nil, Error.Wrap(fmt.Errorf("scan most-downloaded row: %w", err))
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func listSummary(ctx context.Context, q Querier, query string, limit int) ([]CrateSummary, error) {
	rows, err := q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("list crate summary: %w", err))
	}
	defer rows.Close()

	var out []CrateSummary
	for rows.Next() {
		var s CrateSummary
		if err := rows.Scan(&s.Crate.ID, &s.Crate.Name, &s.Crate.NormalizedName, &s.Crate.Description,
			&s.Crate.Documentation, &s.Crate.Homepage, &s.Crate.Repository, &s.Crate.Readme,
			&s.Crate.MaxUploadSize, &s.Crate.MaxUnpackSize, &s.Crate.TrustpubOnly,
			&s.Crate.CreatedAt, &s.Crate.UpdatedAt); err != nil {
			return nil, Error.Wrap(fmt.Errorf("scan crate summary row: %w", err))
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// NonDeletedOwnerCount returns how many non-deleted CrateOwner rows exist
// for a crate, used to enforce the at-least-one-owner invariant.
func NonDeletedOwnerCount(ctx context.Context, q Querier, crateID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT count(*) FROM crate_owners WHERE crate_id = $1 AND deleted = false`, crateID).Scan(&n)
	if err != nil {
		return 0, Error.Wrap(fmt.Errorf("count crate owners: %w", err))
	}
	return n, nil
}

// IsActiveOwner reports whether ownerID (of the given kind) is a
// non-deleted owner of the crate.
func IsActiveOwner(ctx context.Context, q Querier, crateID, ownerID int64, kind OwnerKind) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM crate_owners
			WHERE crate_id = $1 AND owner_id = $2 AND owner_kind = $3 AND deleted = false
		)`, crateID, ownerID, kind).Scan(&exists)
	if err != nil {
		return false, Error.Wrap(fmt.Errorf("check active owner: %w", err))
	}
	return exists, nil
}
