package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/cratesregistry/auth"
)

func TestIdentityAuthenticated(t *testing.T) {
	require.False(t, auth.Identity{Kind: auth.KindAnonymous}.Authenticated())
	require.True(t, auth.Identity{Kind: auth.KindSession}.Authenticated())
}

func TestToPublishIdentityCarriesTrustedPublisherCrateIDs(t *testing.T) {
	id := auth.Identity{Kind: auth.KindTrustedPublisher, TrustedPublisherCrateIDs: map[int64]bool{7: true}}
	pid := id.ToPublishIdentity(false)
	require.False(t, pid.APITokenID.Valid)
	require.True(t, pid.TrustedPublisherCrateIDs[7])
}

func TestVerifyOriginAllowsMatchingHost(t *testing.T) {
	r := httptest.NewRequest(http.MethodPut, "/api/v1/crates/new", nil)
	r.Header.Set("Origin", "https://crates.example.com")
	require.NoError(t, auth.VerifyOrigin(r, "crates.example.com"))
}

func TestVerifyOriginRejectsMismatchedHost(t *testing.T) {
	r := httptest.NewRequest(http.MethodPut, "/api/v1/crates/new", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	require.Error(t, auth.VerifyOrigin(r, "crates.example.com"))
}

func TestVerifyOriginAllowsMissingOriginHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodPut, "/api/v1/crates/new", nil)
	require.NoError(t, auth.VerifyOrigin(r, "crates.example.com"))
}

func TestRequireAuthenticatedRejectsAnonymous(t *testing.T) {
	require.Error(t, auth.RequireAuthenticated(auth.Identity{Kind: auth.KindAnonymous}))
	require.NoError(t, auth.RequireAuthenticated(auth.Identity{Kind: auth.KindSession, UserID: 1}))
}
