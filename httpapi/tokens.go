package httpapi

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"storj.io/cratesregistry/apierr"
	"storj.io/cratesregistry/auth"
	"storj.io/cratesregistry/database"
)

const apiTokenPrefix = "cioR"

func (s *Server) requireSessionIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, err := s.Auth.Authenticate(r.Context(), r)
	if err != nil {
		apierr.WriteResponse(w, err)
		return auth.Identity{}, false
	}
	if err := auth.RequireAuthenticated(id); err != nil {
		apierr.WriteResponse(w, err)
		return auth.Identity{}, false
	}
	return id, true
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireSessionIdentity(w, r)
	if !ok {
		return
	}
	tokens, err := database.ListApiTokensForUser(r.Context(), s.DB, id.UserID)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	out := make([]tokenWire, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, newTokenWire(t))
	}
	writeJSON(w, http.StatusOK, struct {
		ApiTokens []tokenWire `json:"api_tokens"`
	}{out})
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	if err := auth.VerifyOrigin(r, s.AllowedOrigin); err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	id, ok := s.requireSessionIdentity(w, r)
	if !ok {
		return
	}

	var body struct {
		Name           string   `json:"name"`
		CrateScopes    []string `json:"crate_scopes"`
		EndpointScopes []string `json:"endpoint_scopes"`
	}
	if err := decodeJSON(r, &body); err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		apierr.WriteResponse(w, apierr.BadRequest("token name must not be empty"))
		return
	}

	plaintext, err := generateApiToken()
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}

	tok, err := database.InsertApiToken(r.Context(), s.DB, database.NewApiToken{
		UserID:         id.UserID,
		Name:           body.Name,
		HashedToken:    database.HashToken(plaintext),
		CrateScopes:    body.CrateScopes,
		EndpointScopes: body.EndpointScopes,
	})
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		ApiToken createdTokenWire `json:"api_token"`
	}{createdTokenWire{newTokenWire(*tok), plaintext}})
}

// createdTokenWire is tokenWire plus the plaintext token, returned exactly
// once at creation time and never again (ListApiTokensForUser's rows never
// carry it).
type createdTokenWire struct {
	tokenWire
	Token string `json:"token"`
}

func (s *Server) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	if err := auth.VerifyOrigin(r, s.AllowedOrigin); err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	id, ok := s.requireSessionIdentity(w, r)
	if !ok {
		return
	}

	tokenID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		apierr.WriteResponse(w, apierr.BadRequest("invalid token id"))
		return
	}

	if err := database.RevokeApiToken(r.Context(), s.DB, id.UserID, tokenID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			apierr.WriteResponse(w, apierr.NotFound("token not found"))
			return
		}
		apierr.WriteResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{true})
}

// generateApiToken mints a new bearer credential in the same
// prefix-plus-random-suffix shape as package auth's trusted-publisher
// tokens, but for long-lived, user-issued API tokens: a fixed prefix so a
// leaked token is recognisable in logs and secret scanners, followed by a
// base32-encoded random suffix.
func generateApiToken() (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return apiTokenPrefix + strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)), nil
}
