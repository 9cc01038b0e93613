package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"storj.io/cratesregistry/apierr"
	"storj.io/cratesregistry/auth"
)

// handleTrustedPublishingExchange implements the one HTTP front door onto
// package auth's OIDC verification: a GitHub Actions workflow presents its
// ambient id token and receives a short-lived cio_tp_-prefixed access
// token permitting publishes to the crate ids its workflow/environment
// matches, per SPEC_FULL.md §6.
func (s *Server) handleTrustedPublishingExchange(w http.ResponseWriter, r *http.Request) {
	if s.OIDCVerifier == nil {
		apierr.WriteResponse(w, apierr.ServiceUnavailable("trusted publishing is not configured on this registry"))
		return
	}

	var body struct {
		JWT string `json:"jwt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.JWT == "" {
		apierr.WriteResponse(w, apierr.BadRequest("jwt is required"))
		return
	}

	plaintext, crateIDs, err := auth.ExchangeGitHubActions(r.Context(), s.DB, s.OIDCVerifier, body.JWT, time.Now())
	if err != nil {
		apierr.WriteResponse(w, apierr.Forbidden(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Token    string  `json:"token"`
		CrateIDs []int64 `json:"crate_ids"`
	}{Token: plaintext, CrateIDs: crateIDs})
}
