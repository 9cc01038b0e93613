package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// InvitationExpiry is how long a CrateOwnerInvitation remains valid before
// it can be replaced by a fresh one, per SPEC_FULL.md §4.9.
const InvitationExpiry = 30 * 24 * time.Hour

// InvitationOutcome mirrors NewCrateOwnerInvitationOutcome: either a fresh
// invitation was created, or one already existed (and was left untouched).
type InvitationOutcome struct {
	AlreadyExists  bool
	PlaintextToken string
}

// CreateInvitation deletes any expired invitation for the same
// (invited user, crate) pair first -- so a re-issue after expiry does not
// spuriously report AlreadyExists -- then attempts to insert a new one.
// On conflict with a still-live invitation, returns AlreadyExists.
func CreateInvitation(ctx context.Context, q Querier, invitedUserID, crateID, invitedByUserID int64) (InvitationOutcome, error) {
	_, err := q.ExecContext(ctx, `
		DELETE FROM crate_owner_invitations
		WHERE invited_user_id = $1 AND crate_id = $2 AND expires_at <= now()`,
		invitedUserID, crateID)
	if err != nil {
		return InvitationOutcome{}, Error.Wrap(fmt.Errorf("delete expired invitation: %w", err))
	}

	token, err := randomToken()
	if err != nil {
		return InvitationOutcome{}, Error.Wrap(fmt.Errorf("generate invitation token: %w", err))
	}

	row := q.QueryRowContext(ctx, `
		INSERT INTO crate_owner_invitations (invited_user_id, crate_id, invited_by_user_id, token, expires_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (invited_user_id, crate_id) DO NOTHING
		RETURNING token`,
		invitedUserID, crateID, invitedByUserID, token, time.Now().Add(InvitationExpiry))

	var returnedToken string
	err = row.Scan(&returnedToken)
	if errors.Is(err, sql.ErrNoRows) {
		return InvitationOutcome{AlreadyExists: true}, nil
	}
	if err != nil {
		return InvitationOutcome{}, Error.Wrap(fmt.Errorf("insert invitation: %w", err))
	}
	return InvitationOutcome{PlaintextToken: returnedToken}, nil
}

func randomToken() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

// FindInvitationByToken looks up a live invitation by its token.
func FindInvitationByToken(ctx context.Context, q Querier, token string) (*CrateOwnerInvitation, error) {
	row := q.QueryRowContext(ctx, `
		SELECT invited_user_id, crate_id, invited_by_user_id, token, created_at, expires_at
		FROM crate_owner_invitations WHERE token = $1`, token)
	var inv CrateOwnerInvitation
	err := row.Scan(&inv.InvitedUserID, &inv.CrateID, &inv.InvitedByUserID, &inv.Token, &inv.CreatedAt, &inv.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("find invitation by token: %w", err))
	}
	return &inv, nil
}

// DeleteInvitation removes an invitation row (accept, decline, or expiry-replace).
func DeleteInvitation(ctx context.Context, q Querier, invitedUserID, crateID int64) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM crate_owner_invitations WHERE invited_user_id = $1 AND crate_id = $2`,
		invitedUserID, crateID)
	if err != nil {
		return Error.Wrap(fmt.Errorf("delete invitation: %w", err))
	}
	return nil
}

// UpsertCrateOwner inserts a CrateOwner row or un-deletes an existing one,
// used both when a team is added immediately and when a user accepts an
// invitation.
func UpsertCrateOwner(ctx context.Context, q Querier, crateID, ownerID int64, kind OwnerKind) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO crate_owners (crate_id, owner_id, owner_kind)
		VALUES ($1,$2,$3)
		ON CONFLICT (crate_id, owner_id, owner_kind) DO UPDATE SET deleted = false`,
		crateID, ownerID, kind)
	if err != nil {
		return Error.Wrap(fmt.Errorf("upsert crate owner: %w", err))
	}
	return nil
}

// SoftDeleteCrateOwner marks a CrateOwner row deleted rather than removing
// it, so VersionOwnerAction history remains attributable.
func SoftDeleteCrateOwner(ctx context.Context, q Querier, crateID, ownerID int64, kind OwnerKind) error {
	_, err := q.ExecContext(ctx, `
		UPDATE crate_owners SET deleted = true
		WHERE crate_id = $1 AND owner_id = $2 AND owner_kind = $3`, crateID, ownerID, kind)
	if err != nil {
		return Error.Wrap(fmt.Errorf("soft delete crate owner: %w", err))
	}
	return nil
}

// ListActiveOwners returns every non-deleted CrateOwner row for a crate.
func ListActiveOwners(ctx context.Context, q Querier, crateID int64) ([]CrateOwner, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT crate_id, owner_id, owner_kind, email_notifications, deleted, created_at
		FROM crate_owners WHERE crate_id = $1 AND deleted = false`, crateID)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("list active owners: %w", err))
	}
	defer rows.Close()

	var out []CrateOwner
	for rows.Next() {
		var o CrateOwner
		if err := rows.Scan(&o.CrateID, &o.OwnerID, &o.OwnerKind, &o.EmailNotifications, &o.Deleted, &o.CreatedAt); err != nil {
			return nil, Error.Wrap(fmt.Errorf("scan crate owner row: %w", err))
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
