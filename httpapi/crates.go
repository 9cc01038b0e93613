package httpapi

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"storj.io/cratesregistry/apierr"
	"storj.io/cratesregistry/auth"
	"storj.io/cratesregistry/database"
	"storj.io/cratesregistry/jobqueue"
	"storj.io/cratesregistry/objectstore"
)

// cratePayload mirrors package publish's and package jobs' private job
// payload shape; each job producer/consumer pair keeps its own copy rather
// than sharing an import, the same pattern package indexsync documents for
// its job Definitions.
type cratePayload struct {
	CrateID int64  `json:"crate_id"`
	Name    string `json:"name"`
}

func databaseErrField(err error) zap.Field { return zap.Error(err) }

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func (s *Server) loadCrate(w http.ResponseWriter, r *http.Request) (*database.Crate, bool) {
	name := mux.Vars(r)["name"]
	crate, err := database.FindCrateByName(r.Context(), s.DB, name)
	if errors.Is(err, database.ErrNotFound) {
		apierr.WriteResponse(w, apierr.NotFound("crate not found"))
		return nil, false
	}
	if err != nil {
		apierr.WriteResponse(w, err)
		return nil, false
	}
	return crate, true
}

func (s *Server) handleShowCrate(w http.ResponseWriter, r *http.Request) {
	crate, ok := s.loadCrate(w, r)
	if !ok {
		return
	}
	versions, err := database.ListVersions(r.Context(), s.DB, crate.ID)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	vw := make([]versionWire, 0, len(versions))
	for _, v := range versions {
		vw = append(vw, newVersionWire(crate.Name, v))
	}
	writeJSON(w, http.StatusOK, struct {
		Crate    crateWire     `json:"crate"`
		Versions []versionWire `json:"versions"`
	}{newCrateWire(crate), vw})
}

func (s *Server) handleUpdateCrate(w http.ResponseWriter, r *http.Request) {
	if err := auth.VerifyOrigin(r, s.AllowedOrigin); err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	id, err := s.Auth.Authenticate(r.Context(), r)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	if err := auth.RequireAuthenticated(id); err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	crate, ok := s.loadCrate(w, r)
	if !ok {
		return
	}
	if id.APIToken != nil && !auth.HasCrateScope(id.APIToken, crate.Name) {
		apierr.WriteResponse(w, apierr.Forbidden("token is not scoped to this crate"))
		return
	}

	var body struct {
		TrustpubOnly *bool `json:"trustpub_only"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierr.WriteResponse(w, err)
		return
	}

	ctx := r.Context()
	ok2, err := s.authorizeCrateOwner(ctx, s.DB, crate.ID, id)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	if err := requireCrateOwner(ok2); err != nil {
		apierr.WriteResponse(w, err)
		return
	}

	if body.TrustpubOnly != nil {
		if err := database.SetTrustpubOnly(ctx, s.DB, crate.ID, *body.TrustpubOnly); err != nil {
			apierr.WriteResponse(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{true})
}

func (s *Server) handleListOwners(w http.ResponseWriter, r *http.Request) {
	crate, ok := s.loadCrate(w, r)
	if !ok {
		return
	}
	owners, err := database.ListActiveOwners(r.Context(), s.DB, crate.ID)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	out := make([]ownerWire, 0, len(owners))
	for _, o := range owners {
		switch o.OwnerKind {
		case database.OwnerKindTeam:
			t, err := database.FindTeamByID(r.Context(), s.DB, o.OwnerID)
			if err != nil {
				apierr.WriteResponse(w, err)
				return
			}
			out = append(out, ownerWire{ID: t.ID, Login: t.Login, Kind: "team"})
		default:
			u, err := database.FindUserByID(r.Context(), s.DB, o.OwnerID)
			if err != nil {
				apierr.WriteResponse(w, err)
				return
			}
			out = append(out, ownerWire{ID: u.ID, Login: u.GHLogin, Kind: "user"})
		}
	}
	writeJSON(w, http.StatusOK, struct {
		Users []ownerWire `json:"users"`
	}{out})
}

func (s *Server) handleAddOwner(w http.ResponseWriter, r *http.Request) {
	if err := auth.VerifyOrigin(r, s.AllowedOrigin); err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	id, err := s.Auth.Authenticate(r.Context(), r)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	if err := auth.RequireAuthenticated(id); err != nil {
		apierr.WriteResponse(w, err)
		return
	}

	crate, ok := s.loadCrate(w, r)
	if !ok {
		return
	}

	var body struct {
		Owners []string `json:"owners"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierr.WriteResponse(w, err)
		return
	}

	ctx := r.Context()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	defer func() { _ = tx.Rollback() }()

	allowed, err := s.authorizeCrateOwner(ctx, tx, crate.ID, id)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	if err := requireCrateOwner(allowed); err != nil {
		apierr.WriteResponse(w, err)
		return
	}

	invitee, err := database.FindUserByID(ctx, tx, id.UserID)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}

	var invited, addedTeams bool
	for _, login := range body.Owners {
		result, err := s.Ownership.AddOwner(ctx, tx, crate.ID, crate.Name, id.UserID, invitee.GHLogin, login)
		if err != nil {
			apierr.WriteResponse(w, err)
			return
		}
		invited = invited || result.InvitationCreated
		addedTeams = addedTeams || result.TeamAdded
	}

	if err := tx.Commit(); err != nil {
		apierr.WriteResponse(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Msg string `json:"msg"`
		OK  bool   `json:"ok"`
	}{ownerResultMessage(invited, addedTeams), true})
}

func ownerResultMessage(invited, addedTeams bool) string {
	switch {
	case invited && addedTeams:
		return "owner invitation sent, team owner added"
	case invited:
		return "owner invitation sent"
	case addedTeams:
		return "team owner added"
	default:
		return "no change"
	}
}

func (s *Server) handleRemoveOwner(w http.ResponseWriter, r *http.Request) {
	if err := auth.VerifyOrigin(r, s.AllowedOrigin); err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	id, err := s.Auth.Authenticate(r.Context(), r)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	if err := auth.RequireAuthenticated(id); err != nil {
		apierr.WriteResponse(w, err)
		return
	}

	crate, ok := s.loadCrate(w, r)
	if !ok {
		return
	}

	var body struct {
		Owners []string `json:"owners"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierr.WriteResponse(w, err)
		return
	}

	ctx := r.Context()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	defer func() { _ = tx.Rollback() }()

	allowed, err := s.authorizeCrateOwner(ctx, tx, crate.ID, id)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	if err := requireCrateOwner(allowed); err != nil {
		apierr.WriteResponse(w, err)
		return
	}

	for _, login := range body.Owners {
		kind := database.OwnerKindUser
		var ownerID int64
		if _, _, _, isTeam := database.SplitLogin(login); isTeam {
			kind = database.OwnerKindTeam
			t, err := database.FindTeamByLogin(ctx, tx, login)
			if err != nil {
				apierr.WriteResponse(w, err)
				return
			}
			ownerID = t.ID
		} else {
			u, err := database.FindUserByLogin(ctx, tx, login)
			if err != nil {
				apierr.WriteResponse(w, err)
				return
			}
			ownerID = u.ID
		}
		if err := s.Ownership.RemoveOwner(ctx, tx, crate.ID, ownerID, kind); err != nil {
			apierr.WriteResponse(w, err)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{true})
}

func (s *Server) handleReverseDependencies(w http.ResponseWriter, r *http.Request) {
	crate, ok := s.loadCrate(w, r)
	if !ok {
		return
	}
	deps, err := database.ListReverseDependencies(r.Context(), s.DB, crate.Name)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Dependencies []database.ReverseDependency `json:"dependencies"`
	}{deps})
}

// Following a crate has no storage of its own in this implementation --
// SPEC_FULL.md's Non-goals exclude the social/activity-feed features the
// original's crate_follows table otherwise backs. handleFollowStatus
// always reports {"following": false} for an existing crate; handleFollow
// and handleUnfollow answer 404 with an error saying following is not
// supported by this registry.
func (s *Server) handleFollowStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.loadCrate(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Following bool `json:"following"`
	}{false})
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	apierr.WriteResponse(w, apierr.NotFound("following crates is not supported by this registry"))
}

func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	apierr.WriteResponse(w, apierr.NotFound("following crates is not supported by this registry"))
}

func (s *Server) loadVersion(w http.ResponseWriter, r *http.Request, crate *database.Crate) (*database.Version, bool) {
	num := mux.Vars(r)["version"]
	v, err := database.FindVersion(r.Context(), s.DB, crate.ID, num)
	if errors.Is(err, database.ErrNotFound) {
		apierr.WriteResponse(w, apierr.NotFound("version not found"))
		return nil, false
	}
	if err != nil {
		apierr.WriteResponse(w, err)
		return nil, false
	}
	return v, true
}

func (s *Server) handleVersionDetail(w http.ResponseWriter, r *http.Request) {
	crate, ok := s.loadCrate(w, r)
	if !ok {
		return
	}
	v, ok := s.loadVersion(w, r, crate)
	if !ok {
		return
	}
	deps, err := database.ListDependencies(r.Context(), s.DB, v.ID)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	dw := make([]dependencyWire, 0, len(deps))
	for _, d := range deps {
		dw = append(dw, newDependencyWire(d))
	}
	writeJSON(w, http.StatusOK, struct {
		Version      versionWire      `json:"version"`
		Dependencies []dependencyWire `json:"dependencies"`
	}{newVersionWire(crate.Name, v), dw})
}

func (s *Server) handleYank(w http.ResponseWriter, r *http.Request) {
	if err := auth.VerifyOrigin(r, s.AllowedOrigin); err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	id, err := s.Auth.Authenticate(r.Context(), r)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	if err := auth.RequireAuthenticated(id); err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	if id.APIToken != nil && !auth.HasEndpointScope(id.APIToken, auth.EndpointScopeYank) {
		apierr.WriteResponse(w, apierr.Forbidden("token does not have the yank scope"))
		return
	}

	crate, ok := s.loadCrate(w, r)
	if !ok {
		return
	}
	if id.APIToken != nil && !auth.HasCrateScope(id.APIToken, crate.Name) {
		apierr.WriteResponse(w, apierr.Forbidden("token is not scoped to this crate"))
		return
	}
	v, ok := s.loadVersion(w, r, crate)
	if !ok {
		return
	}

	var body struct {
		Yanked      bool   `json:"yanked"`
		YankMessage string `json:"yank_message"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	var msg sql.NullString
	if body.YankMessage != "" {
		msg = sql.NullString{String: body.YankMessage, Valid: true}
	}

	ctx := r.Context()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	defer func() { _ = tx.Rollback() }()

	allowed, err := s.authorizeCrateOwner(ctx, tx, crate.ID, id)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	if err := requireCrateOwner(allowed); err != nil {
		apierr.WriteResponse(w, err)
		return
	}

	if err := s.Ownership.SetYanked(ctx, tx, crate.ID, v.ID, id.UserID, body.Yanked, msg); err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{true})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	crate, ok := s.loadCrate(w, r)
	if !ok {
		return
	}
	v, ok := s.loadVersion(w, r, crate)
	if !ok {
		return
	}

	if err := database.IncrementDownload(r.Context(), s.DB, v.ID); err != nil {
		s.Log.Warn("failed to record download", databaseErrField(err))
	}

	obj, err := s.Store.Get(r.Context(), objectstore.CratePath(crate.Name, v.Num))
	if errors.Is(err, objectstore.ErrNotExist) {
		apierr.WriteResponse(w, apierr.NotFound("crate file not found"))
		return
	}
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", "application/x-tar")
	_, _ = io.Copy(w, obj)
}

func (s *Server) handleRebuildDocs(w http.ResponseWriter, r *http.Request) {
	crate, ok := s.loadCrate(w, r)
	if !ok {
		return
	}
	v, ok := s.loadVersion(w, r, crate)
	if !ok {
		return
	}
	if s.DocsRelay != nil {
		if err := s.DocsRelay.Trigger(crate.Name, v.Num); err != nil {
			apierr.WriteResponse(w, apierr.ServiceUnavailable("docs rebuild relay unavailable"))
			return
		}
	} else if _, _, err := jobqueue.Enqueue(r.Context(), s.DB, rebuildDocsJob, cratePayload{CrateID: crate.ID, Name: crate.Name}); err != nil {
		apierr.WriteResponse(w, fmt.Errorf("enqueue rebuild_docs job: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{true})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if err := auth.VerifyOrigin(r, s.AllowedOrigin); err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	id, err := s.Auth.Authenticate(r.Context(), r)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	if err := auth.RequireAuthenticated(id); err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	if id.APIToken != nil && !auth.HasEndpointScope(id.APIToken, auth.EndpointScopePublishUpdate) {
		apierr.WriteResponse(w, apierr.Forbidden("token does not have the publish scope"))
		return
	}

	body, err := readAll(r)
	if err != nil {
		apierr.WriteResponse(w, apierr.BadRequest("failed to read request body"))
		return
	}

	result, err := s.Publish.Publish(r.Context(), id.ToPublishIdentity(false), body)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Crate    crateWire   `json:"crate"`
		Version  versionWire `json:"version"`
		Warnings []string    `json:"warnings,omitempty"`
	}{newCrateWire(result.Crate), newVersionWire(result.Crate.Name, result.Version), result.Warnings})
}
