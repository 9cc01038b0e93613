package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SplitLogin parses a team login of the form "provider:org:team", mirroring
// crates_io_database::models::team::Team::split_login. Returns false if the
// login does not have at least two colons.
func SplitLogin(login string) (provider, org, team string, ok bool) {
	provider, rest, ok := strings.Cut(login, ":")
	if !ok {
		return "", "", "", false
	}
	org, team, ok = strings.Cut(rest, ":")
	if !ok {
		return "", "", "", false
	}
	return provider, org, team, true
}

// FindOrCreateTeam upserts a Team row keyed on its GitHub team id, mirroring
// NewTeam::create_or_update's ON CONFLICT(github_id) DO UPDATE.
func FindOrCreateTeam(ctx context.Context, q Querier, login string, githubID, orgID int64, name, avatar sql.NullString) (*Team, error) {
	row := q.QueryRowContext(ctx, `
		INSERT INTO teams (login, github_id, org_id, name, avatar)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (github_id) DO UPDATE SET login = excluded.login, org_id = excluded.org_id,
		                                       name = excluded.name, avatar = excluded.avatar
		RETURNING id, login, github_id, org_id, name, avatar`,
		login, githubID, orgID, name, avatar)
	var t Team
	err := row.Scan(&t.ID, &t.Login, &t.GithubID, &t.OrgID, &t.Name, &t.Avatar)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("find or create team: %w", err))
	}
	return &t, nil
}

// FindTeamByID looks up a team by primary key, used to resolve a
// CrateOwner row's owner_id into a display login.
func FindTeamByID(ctx context.Context, q Querier, id int64) (*Team, error) {
	row := q.QueryRowContext(ctx, `SELECT id, login, github_id, org_id, name, avatar FROM teams WHERE id = $1`, id)
	var t Team
	err := row.Scan(&t.ID, &t.Login, &t.GithubID, &t.OrgID, &t.Name, &t.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("find team by id: %w", err))
	}
	return &t, nil
}

// FindTeamByLogin looks up a team by its login string.
func FindTeamByLogin(ctx context.Context, q Querier, login string) (*Team, error) {
	row := q.QueryRowContext(ctx, `SELECT id, login, github_id, org_id, name, avatar FROM teams WHERE login = $1`, login)
	var t Team
	err := row.Scan(&t.ID, &t.Login, &t.GithubID, &t.OrgID, &t.Name, &t.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("find team by login: %w", err))
	}
	return &t, nil
}

// FindUserByID looks up a User by primary key, as required by session
// cookie authentication (the cookie carries only the user id).
func FindUserByID(ctx context.Context, q Querier, id int64) (*User, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, gh_login, gh_id, email, email_verified, publish_notifications, created_at
		FROM users WHERE id = $1`, id)
	var u User
	err := row.Scan(&u.ID, &u.GHLogin, &u.GHID, &u.Email, &u.EmailVerified, &u.PublishNotifications, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("find user by id: %w", err))
	}
	return &u, nil
}

// FindUserByLogin looks up a User by GitHub login, case-insensitively.
func FindUserByLogin(ctx context.Context, q Querier, login string) (*User, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, gh_login, gh_id, email, email_verified, publish_notifications, created_at
		FROM users WHERE lower(gh_login) = lower($1)`, login)
	var u User
	err := row.Scan(&u.ID, &u.GHLogin, &u.GHID, &u.Email, &u.EmailVerified, &u.PublishNotifications, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("find user by login: %w", err))
	}
	return &u, nil
}
