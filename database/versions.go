package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// FindVersion looks up a (crate, num) pair.
func FindVersion(ctx context.Context, q Querier, crateID int64, num string) (*Version, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, crate_id, num, num_major, num_minor, num_patch, num_prerelease,
		       size, checksum, features, features2, license, links, rust_version,
		       yanked, yank_message, published_by, linecounts, created_at, updated_at
		FROM versions WHERE crate_id = $1 AND num = $2`, crateID, num)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

func scanVersion(row *sql.Row) (*Version, error) {
	var v Version
	err := row.Scan(&v.ID, &v.CrateID, &v.Num, &v.NumMajor, &v.NumMinor, &v.NumPatch,
		&v.NumPrerelease, &v.Size, &v.Checksum, &v.Features, &v.Features2, &v.License,
		&v.Links, &v.RustVersion, &v.Yanked, &v.YankMessage, &v.PublishedBy,
		&v.Linecounts, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("scan version: %w", err))
	}
	return &v, nil
}

// ListVersions returns every version of a crate, unordered; callers that
// need semver order sort the result themselves, as indexformat.Render does.
func ListVersions(ctx context.Context, q Querier, crateID int64) ([]*Version, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, crate_id, num, num_major, num_minor, num_patch, num_prerelease,
		       size, checksum, features, features2, license, links, rust_version,
		       yanked, yank_message, published_by, linecounts, created_at, updated_at
		FROM versions WHERE crate_id = $1`, crateID)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("list versions: %w", err))
	}
	defer rows.Close()

	var out []*Version
	for rows.Next() {
		var v Version
		if err := rows.Scan(&v.ID, &v.CrateID, &v.Num, &v.NumMajor, &v.NumMinor, &v.NumPatch,
			&v.NumPrerelease, &v.Size, &v.Checksum, &v.Features, &v.Features2, &v.License,
			&v.Links, &v.RustVersion, &v.Yanked, &v.YankMessage, &v.PublishedBy,
			&v.Linecounts, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, Error.Wrap(fmt.Errorf("scan version row: %w", err))
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// HighestNonYanked returns the highest non-yanked semver among existing
// versions of a crate, or nil if there is none.
func HighestNonYanked(ctx context.Context, q Querier, crateID int64) (*semver.Version, error) {
	versions, err := ListVersions(ctx, q, crateID)
	if err != nil {
		return nil, err
	}
	var highest *semver.Version
	for _, v := range versions {
		if v.Yanked {
			continue
		}
		parsed, err := semver.NewVersion(v.Num)
		if err != nil {
			continue
		}
		if highest == nil || parsed.GreaterThan(highest) {
			highest = parsed
		}
	}
	return highest, nil
}

// NewVersion carries the fields required to insert a Version row.
type NewVersion struct {
	CrateID     int64
	Num         string
	Size        int64
	Checksum    string
	Features    []byte
	Features2   []byte
	License     sql.NullString
	Links       sql.NullString
	RustVersion sql.NullString
	PublishedBy sql.NullInt64
}

// InsertVersion inserts a new Version row. The caller must have already
// verified the (crate, num) pair doesn't exist and that num is a valid
// semver string strictly greater than every existing non-yanked version (or
// that the allow-lower-versions override applies), per SPEC_FULL.md §4.7.
func InsertVersion(ctx context.Context, q Querier, nv NewVersion) (*Version, error) {
	parsed, err := semver.NewVersion(nv.Num)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("parse semver %q: %w", nv.Num, err))
	}

	row := q.QueryRowContext(ctx, `
		INSERT INTO versions (crate_id, num, num_major, num_minor, num_patch,
		                       num_prerelease, size, checksum, features, features2,
		                       license, links, rust_version, published_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id, crate_id, num, num_major, num_minor, num_patch, num_prerelease,
		          size, checksum, features, features2, license, links, rust_version,
		          yanked, yank_message, published_by, linecounts, created_at, updated_at`,
		nv.CrateID, nv.Num, int64(parsed.Major()), int64(parsed.Minor()), int64(parsed.Patch()),
		parsed.Prerelease(), nv.Size, nv.Checksum, nv.Features, nv.Features2,
		nv.License, nv.Links, nv.RustVersion, nv.PublishedBy)
	return scanVersion(row)
}

// SetYanked toggles the yanked flag and message. Returns false if the
// requested state equals the current state (a no-op per SPEC_FULL.md §4.9).
func SetYanked(ctx context.Context, q Querier, versionID int64, yanked bool, message sql.NullString) (bool, error) {
	var current bool
	if err := q.QueryRowContext(ctx, `SELECT yanked FROM versions WHERE id = $1`, versionID).Scan(&current); err != nil {
		return false, Error.Wrap(fmt.Errorf("read current yanked state: %w", err))
	}
	if current == yanked {
		return false, nil
	}
	var msg sql.NullString
	if yanked {
		msg = message
	}
	_, err := q.ExecContext(ctx, `
		UPDATE versions SET yanked = $2, yank_message = $3, updated_at = now()
		WHERE id = $1`, versionID, yanked, msg)
	if err != nil {
		return false, Error.Wrap(fmt.Errorf("update yanked state: %w", err))
	}
	return true, nil
}

// InsertVersionOwnerAction appends an audit row. These rows are never
// updated or deleted.
func InsertVersionOwnerAction(ctx context.Context, q Querier, versionID, userID int64, apiTokenID sql.NullInt64, action ActionKind) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO version_owner_actions (version_id, user_id, api_token_id, action)
		VALUES ($1,$2,$3,$4)`, versionID, userID, apiTokenID, action)
	if err != nil {
		return Error.Wrap(fmt.Errorf("insert version owner action: %w", err))
	}
	return nil
}

// SetDefaultVersion records the materialised default_versions row for a
// crate, recomputed by the UpdateDefaultVersion job.
func SetDefaultVersion(ctx context.Context, q Querier, crateID, versionID int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO default_versions (crate_id, version_id) VALUES ($1, $2)
		ON CONFLICT (crate_id) DO UPDATE SET version_id = excluded.version_id`,
		crateID, versionID)
	if err != nil {
		return Error.Wrap(fmt.Errorf("set default version: %w", err))
	}
	return nil
}

// DeleteVersion removes a version and every row that references it,
// grounded on original_source/src/bin/crates-admin/delete_version.rs,
// which deletes in the same child-tables-first order to satisfy foreign
// keys that carry no ON DELETE CASCADE. The caller is expected to run
// this inside a transaction and follow it with SetDefaultVersion (or an
// enqueued update_default_version job) to repair default_versions if the
// deleted version was the crate's default.
func DeleteVersion(ctx context.Context, q Querier, versionID int64) error {
	stmts := []string{
		`DELETE FROM version_keywords WHERE version_id = $1`,
		`DELETE FROM dependencies WHERE version_id = $1`,
		`DELETE FROM version_downloads WHERE version_id = $1`,
		`DELETE FROM version_owner_actions WHERE version_id = $1`,
		`DELETE FROM default_versions WHERE version_id = $1`,
		`DELETE FROM versions WHERE id = $1`,
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt, versionID); err != nil {
			return Error.Wrap(fmt.Errorf("delete version: %w", err))
		}
	}
	return nil
}

// VersionUpdate is one row of the "recent publishes" feed, grounded on the
// original's load_version_updates query (original_source's
// src/worker/jobs/rss/sync_updates_feed.rs).
type VersionUpdate struct {
	CrateName   string
	Num         string
	Description sql.NullString
	CreatedAt   time.Time
}

// ListRecentVersionUpdates returns the limit most recently published
// versions across every crate, newest first, for the site-wide updates RSS
// feed.
func ListRecentVersionUpdates(ctx context.Context, q Querier, limit int) ([]VersionUpdate, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT c.name, v.num, c.description, v.created_at
		FROM versions v
		JOIN crates c ON c.id = v.crate_id
		ORDER BY v.created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("list recent version updates: %w", err))
	}
	defer rows.Close()

	var out []VersionUpdate
	for rows.Next() {
		var u VersionUpdate
		if err := rows.Scan(&u.CrateName, &u.Num, &u.Description, &u.CreatedAt); err != nil {
			return nil, Error.Wrap(fmt.Errorf("scan version update row: %w", err))
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
