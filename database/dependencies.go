package database

import (
	"context"
	"fmt"

	"github.com/lib/pq"
)

// InsertDependency inserts one Dependency row belonging to a Version.
// Canonical ordering (SPEC_FULL.md §4.3) is a serializer concern, not a
// storage concern, so rows are inserted in whatever order the manifest
// declared them.
func InsertDependency(ctx context.Context, q Querier, d Dependency) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO dependencies (version_id, crate_name, req, kind, optional,
		                          default_features, features, target, explicit_name)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id`,
		d.VersionID, d.CrateName, d.Req, d.Kind, d.Optional, d.DefaultFeatures,
		pq.Array(d.Features), d.Target, d.ExplicitName).Scan(&id)
	if err != nil {
		return 0, Error.Wrap(fmt.Errorf("insert dependency: %w", err))
	}
	return id, nil
}

// ReverseDependency is one crate that depends on a given crate, reported
// against its own most recently published version.
type ReverseDependency struct {
	CrateName    string
	CrateID      int64
	VersionNum   string
	Req          string
	Kind         DependencyKind
}

// ListReverseDependencies finds every crate with a non-yanked version that
// depends on crateName, joining on the dependency's crate_name column
// directly -- dependencies has no foreign key to crates, so crate_name must
// always hold the real depended-upon crate name for this join to work (see
// package publish's dependency-insert comment).
func ListReverseDependencies(ctx context.Context, q Querier, crateName string) ([]ReverseDependency, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT ON (c.id) c.name, c.id, v.num, d.req, d.kind
		FROM dependencies d
		JOIN versions v ON v.id = d.version_id
		JOIN crates c ON c.id = v.crate_id
		WHERE lower(replace(d.crate_name, '_', '-')) = lower(replace($1, '_', '-'))
		  AND v.yanked = false
		ORDER BY c.id, v.created_at DESC`, crateName)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("list reverse dependencies: %w", err))
	}
	defer rows.Close()

	var out []ReverseDependency
	for rows.Next() {
		var rd ReverseDependency
		if err := rows.Scan(&rd.CrateName, &rd.CrateID, &rd.VersionNum, &rd.Req, &rd.Kind); err != nil {
			return nil, Error.Wrap(fmt.Errorf("scan reverse dependency: %w", err))
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

// ListDependencies returns every dependency row for a version.
func ListDependencies(ctx context.Context, q Querier, versionID int64) ([]Dependency, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, version_id, crate_name, req, kind, optional, default_features,
		       features, target, explicit_name
		FROM dependencies WHERE version_id = $1`, versionID)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("list dependencies: %w", err))
	}
	defer rows.Close()

	var out []Dependency
	for rows.Next() {
		var d Dependency
		if err := rows.Scan(&d.ID, &d.VersionID, &d.CrateName, &d.Req, &d.Kind, &d.Optional,
			&d.DefaultFeatures, pq.Array(&d.Features), &d.Target, &d.ExplicitName); err != nil {
			return nil, Error.Wrap(fmt.Errorf("scan dependency row: %w", err))
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
