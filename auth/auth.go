// Package auth authenticates an incoming HTTP request into one of
// {anonymous, session cookie, API token, trusted-publisher token}, per
// spec.md §6. It never decides *authorization* -- whether the resulting
// Identity is allowed to do what the handler is about to do is the
// handler's and package ownership/publish's job -- it only resolves who is
// making the request, grounded on original_source/src/auth/credentials/*.rs's
// three-way dispatch (cookie, then bearer api-token-or-trustpub).
package auth

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/zeebo/errs"

	"storj.io/cratesregistry/apierr"
	"storj.io/cratesregistry/database"
	"storj.io/cratesregistry/publish"
)

// Error is this package's class-tagged error, consistent with the rest of
// the registry's zeebo/errs usage. apierr-typed returns are untouched.
var Error = errs.Class("auth")

// Kind classifies how an Identity was authenticated.
type Kind int

const (
	KindAnonymous Kind = iota
	KindSession
	KindAPIToken
	KindTrustedPublisher
)

// Identity is the resolved caller of one HTTP request.
type Identity struct {
	Kind Kind

	// UserID is set for KindSession and KindAPIToken.
	UserID int64
	// APIToken is set only for KindAPIToken, so handlers can consult its
	// scopes.
	APIToken *database.ApiToken
	// TrustedPublisherCrateIDs is set only for KindTrustedPublisher.
	TrustedPublisherCrateIDs map[int64]bool
}

// Authenticated reports whether the request carried any credential at all.
func (id Identity) Authenticated() bool { return id.Kind != KindAnonymous }

// ToPublishIdentity adapts an Identity into the narrower shape package
// publish needs for its publish-only flow.
func (id Identity) ToPublishIdentity(allowLowerVersions bool) publish.Identity {
	pid := publish.Identity{
		UserID:                   id.UserID,
		AllowLowerVersions:       allowLowerVersions,
		TrustedPublisherCrateIDs: id.TrustedPublisherCrateIDs,
	}
	if id.APIToken != nil {
		pid.APITokenID = sql.NullInt64{Int64: id.APIToken.ID, Valid: true}
	}
	return pid
}

// Authenticator resolves Identity from an *http.Request.
type Authenticator struct {
	DB       *sql.DB
	Sessions *SessionCodec
}

// Authenticate resolves the caller. A request with no session cookie and no
// Authorization header resolves to KindAnonymous with a nil error -- it is
// up to the caller to reject anonymous access where that's required.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	if userID, ok := a.Sessions.UserID(r); ok {
		return Identity{Kind: KindSession, UserID: userID}, nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return Identity{Kind: KindAnonymous}, nil
	}

	token, err := bearerToken(header)
	if err != nil {
		return Identity{}, apierr.Unauthorized(err.Error())
	}

	if IsAccessToken(token) {
		return a.authenticateTrustedPublisher(ctx, token)
	}
	return a.authenticateAPIToken(ctx, token)
}

// bearerToken extracts the token from an "Authorization" header value,
// tolerating a bare token with no "Bearer" scheme the way the legacy
// crates.io clients historically sent it.
func bearerToken(header string) (string, error) {
	scheme, token, found := strings.Cut(header, " ")
	if !found {
		return strings.TrimSpace(header), nil
	}
	if !strings.EqualFold(scheme, "Bearer") {
		return "", Error.New("unexpected Authorization header scheme %q", scheme)
	}
	return strings.TrimSpace(token), nil
}

func (a *Authenticator) authenticateAPIToken(ctx context.Context, token string) (Identity, error) {
	tok, err := database.FindApiTokenByHash(ctx, a.DB, database.HashToken(token))
	if err == database.ErrNotFound {
		return Identity{}, apierr.Forbidden("authentication failed")
	}
	if err != nil {
		return Identity{}, Error.Wrap(fmt.Errorf("look up api token: %w", err))
	}
	return Identity{Kind: KindAPIToken, UserID: tok.UserID, APIToken: tok}, nil
}

func (a *Authenticator) authenticateTrustedPublisher(ctx context.Context, token string) (Identity, error) {
	tok, err := database.FindTrustPubTokenByHash(ctx, a.DB, HashAccessToken(token))
	if err == database.ErrNotFound {
		return Identity{}, apierr.Forbidden("Invalid authentication token")
	}
	if err != nil {
		return Identity{}, Error.Wrap(fmt.Errorf("look up trusted publisher token: %w", err))
	}

	crateIDs := make(map[int64]bool, len(tok.CrateIDs))
	for _, id := range tok.CrateIDs {
		crateIDs[id] = true
	}
	return Identity{Kind: KindTrustedPublisher, TrustedPublisherCrateIDs: crateIDs}, nil
}

// RequireAuthenticated rejects an anonymous Identity, the check every
// mutating handler performs immediately after Authenticate.
func RequireAuthenticated(id Identity) error {
	if !id.Authenticated() {
		return apierr.Unauthorized("this action requires authentication")
	}
	return nil
}

// VerifyOrigin rejects a mutating request whose Origin header names a host
// other than allowedHost, the registry's own public host, guarding against
// cross-site form/fetch submissions riding a logged-in browser's session
// cookie. A request with no Origin header at all (every non-browser API
// client, e.g. cargo) is let through: only cross-*site* browser requests
// carry Origin.
func VerifyOrigin(r *http.Request, allowedHost string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil || !strings.EqualFold(u.Host, allowedHost) {
		return apierr.Forbidden("cross-site request rejected")
	}
	return nil
}
