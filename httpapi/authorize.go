package httpapi

import (
	"context"
	"database/sql"

	"storj.io/cratesregistry/apierr"
	"storj.io/cratesregistry/auth"
	"storj.io/cratesregistry/database"
)

// authorizeCrateOwner reports whether id is currently permitted to perform
// an owner-only action on crateID: a trusted-publisher token scoped to
// crateID, a user who is a direct (non-team) owner, or a user who is
// presently a member of a team that owns the crate (resolved live against
// the identity provider, per SPEC_FULL.md §4.9). q may be a *sql.DB or the
// caller's open *sql.Tx.
func (s *Server) authorizeCrateOwner(ctx context.Context, q database.Querier, crateID int64, id auth.Identity) (bool, error) {
	if id.Kind == auth.KindTrustedPublisher {
		return id.TrustedPublisherCrateIDs[crateID], nil
	}
	if id.Kind == auth.KindAnonymous {
		return false, nil
	}

	isOwner, err := database.IsActiveOwner(ctx, q, crateID, id.UserID, database.OwnerKindUser)
	if err != nil {
		return false, err
	}
	if isOwner {
		return true, nil
	}

	owners, err := database.ListActiveOwners(ctx, q, crateID)
	if err != nil {
		return false, err
	}
	var teams []database.Team
	for _, o := range owners {
		if o.OwnerKind != database.OwnerKindTeam {
			continue
		}
		t, err := database.FindTeamByID(ctx, q, o.OwnerID)
		if err == database.ErrNotFound {
			continue
		}
		if err != nil {
			return false, err
		}
		teams = append(teams, *t)
	}
	if len(teams) == 0 {
		return false, nil
	}

	user, err := database.FindUserByID(ctx, q, id.UserID)
	if err != nil {
		return false, err
	}
	return s.Ownership.AuthorizeTeamOwner(ctx, txOrNil(q), crateID, user.GHLogin, teams)
}

// txOrNil adapts a Querier to the *sql.Tx parameter ownership.Engine's
// methods take: q itself when it is a *sql.Tx, nil otherwise. Most callers
// pass their open *sql.Tx; handleUpdateCrate passes the bare *sql.DB, and
// AuthorizeTeamOwner -- whose signature is inherited from the transactional
// owner-add/remove flow -- does not use its *sql.Tx, so nil is safe there.
func txOrNil(q database.Querier) *sql.Tx {
	tx, _ := q.(*sql.Tx)
	return tx
}

func requireCrateOwner(ok bool) error {
	if !ok {
		return apierr.Forbidden("you are not an owner of this crate")
	}
	return nil
}
