package database

import (
	"context"
	"fmt"
)

// Keyword is a catalogue entry attached to versions.
type Keyword struct {
	ID   int64
	Slug string
}

// Category is a catalogue entry attached to crates; the catalogue itself is
// admin-maintained and fixed, per SPEC_FULL.md §3.
type Category struct {
	ID          int64
	Slug        string
	Category    string
	Description string
}

// FindOrCreateKeyword upserts a keyword by slug.
func FindOrCreateKeyword(ctx context.Context, q Querier, slug string) (*Keyword, error) {
	row := q.QueryRowContext(ctx, `
		INSERT INTO keywords (slug) VALUES ($1)
		ON CONFLICT (slug) DO UPDATE SET slug = excluded.slug
		RETURNING id, slug`, slug)
	var k Keyword
	if err := row.Scan(&k.ID, &k.Slug); err != nil {
		return nil, Error.Wrap(fmt.Errorf("find or create keyword: %w", err))
	}
	return &k, nil
}

// LinkVersionKeyword associates a keyword with a version.
func LinkVersionKeyword(ctx context.Context, q Querier, versionID, keywordID int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO version_keywords (version_id, keyword_id) VALUES ($1,$2)
		ON CONFLICT DO NOTHING`, versionID, keywordID)
	if err != nil {
		return Error.Wrap(fmt.Errorf("link version keyword: %w", err))
	}
	return nil
}

// ListKeywords returns the full keyword list, used by the
// GET /api/v1/keywords route. Unlike categories, the keyword catalogue is
// user-grown (FindOrCreateKeyword), so this simply lists whatever keywords
// any published version has ever used.
func ListKeywords(ctx context.Context, q Querier) ([]Keyword, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, slug FROM keywords ORDER BY slug`)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("list keywords: %w", err))
	}
	defer rows.Close()

	var out []Keyword
	for rows.Next() {
		var k Keyword
		if err := rows.Scan(&k.ID, &k.Slug); err != nil {
			return nil, Error.Wrap(fmt.Errorf("scan keyword row: %w", err))
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// FindCategoryBySlug looks up a category in the fixed catalogue. Unknown
// slugs return ErrNotFound; the caller (publish coordinator) drops them
// with a warning rather than failing the publish, per SPEC_FULL.md §4.1.
func FindCategoryBySlug(ctx context.Context, q Querier, slug string) (*Category, error) {
	row := q.QueryRowContext(ctx, `SELECT id, slug, category, description FROM categories WHERE slug = $1`, slug)
	var c Category
	if err := row.Scan(&c.ID, &c.Slug, &c.Category, &c.Description); err != nil {
		return nil, ErrNotFound
	}
	return &c, nil
}

// LinkCrateCategory associates a category with a crate.
func LinkCrateCategory(ctx context.Context, q Querier, crateID, categoryID int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO crate_categories (crate_id, category_id) VALUES ($1,$2)
		ON CONFLICT DO NOTHING`, crateID, categoryID)
	if err != nil {
		return Error.Wrap(fmt.Errorf("link crate category: %w", err))
	}
	return nil
}

// ListCategories returns the full category catalogue, used by the
// GET /api/v1/categories route.
func ListCategories(ctx context.Context, q Querier) ([]Category, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, slug, category, description FROM categories ORDER BY slug`)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("list categories: %w", err))
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Slug, &c.Category, &c.Description); err != nil {
			return nil, Error.Wrap(fmt.Errorf("scan category row: %w", err))
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
