// Trusted Publishing lets a GitHub Actions workflow publish a crate without
// ever holding a long-lived ApiToken: the workflow presents its ambient
// OIDC id token, this package verifies it against GitHub's published JWKS,
// matches its claims against the crate's registered trustpub_github_configs
// rows, and mints a short-lived cio_tp_-prefixed AccessToken carrying
// exactly the matched crate ids. Grounded on original_source's
// crates_io_trustpub crate for claim shape and matching semantics; the
// verification stack itself (coreos/go-oidc + golang-jwt) is the standard
// ecosystem pairing for "validate a JWT against a provider's published key
// set" that spec.md §6 calls for explicitly.
package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"storj.io/cratesregistry/database"
)

// GitHubActionsIssuer is the fixed OIDC issuer for GitHub Actions workflow
// identity tokens.
const GitHubActionsIssuer = "https://token.actions.githubusercontent.com"

// accessTokenTTL is how long a minted Trusted Publishing token remains
// usable; GitHub Actions jobs run in minutes, not hours.
const accessTokenTTL = 30 * time.Minute

// githubActionsClaims is the subset of a GitHub Actions OIDC id token this
// package matches against trustpub_github_configs.
type githubActionsClaims struct {
	RepositoryOwner string `json:"repository_owner"`
	Repository      string `json:"repository"` // "owner/repo"
	WorkflowRef     string `json:"workflow_ref"`
	Environment     string `json:"environment"`
}

// workflowFilename extracts "release.yml" out of a workflow_ref claim of
// the form "owner/repo/.github/workflows/release.yml@refs/heads/main".
func workflowFilename(workflowRef string) string {
	path, _, _ := strings.Cut(workflowRef, "@")
	_, file, ok := strings.Cut(path, ".github/workflows/")
	if !ok {
		return ""
	}
	return file
}

// issuerWithoutVerifying extracts the `iss` claim from a JWT without
// checking its signature, solely to pick which provider's verifier to use
// next -- this mirrors spec.md §6's "the iss claim extracted without
// signature to select the key set" and is never treated as a trust
// decision by itself; Verifier.Verify below performs the real check.
func issuerWithoutVerifying(rawIDToken string) (string, error) {
	parser := jwt.NewParser()
	var claims jwt.RegisteredClaims
	if _, _, err := parser.ParseUnverified(rawIDToken, &claims); err != nil {
		return "", Error.Wrap(fmt.Errorf("parse unverified token: %w", err))
	}
	return claims.Issuer, nil
}

// OIDCVerifier resolves an OIDC issuer to a verifier for its published key
// set, lazily fetching and caching the provider's discovery document.
type OIDCVerifier struct {
	audience  string
	providers map[string]*oidc.IDTokenVerifier
}

// NewOIDCVerifier constructs a verifier for the GitHub Actions issuer.
// audience is the expected `aud` claim, normally the registry's own base
// URL, which GitHub Actions workflows set via `id-token: write` +
// `audience:`.
func NewOIDCVerifier(ctx context.Context, audience string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, GitHubActionsIssuer)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("discover github actions oidc provider: %w", err))
	}
	return &OIDCVerifier{
		audience: audience,
		providers: map[string]*oidc.IDTokenVerifier{
			GitHubActionsIssuer: provider.Verifier(&oidc.Config{ClientID: audience}),
		},
	}, nil
}

// ExchangeGitHubActions verifies a GitHub Actions workflow's OIDC id token
// and, if its repository/workflow/environment matches a registered
// trustpub_github_configs row, mints and stores a short-lived AccessToken
// permitting publishes to the matched crate ids. now is injected for
// deterministic tests.
func ExchangeGitHubActions(ctx context.Context, db *sql.DB, v *OIDCVerifier, rawIDToken string, now time.Time) (plaintext string, crateIDs []int64, err error) {
	iss, err := issuerWithoutVerifying(rawIDToken)
	if err != nil {
		return "", nil, err
	}
	verifier, ok := v.providers[iss]
	if !ok {
		return "", nil, Error.New("unrecognised oidc issuer %q", iss)
	}

	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", nil, Error.Wrap(fmt.Errorf("verify oidc token: %w", err))
	}

	var claims githubActionsClaims
	if err := idToken.Claims(&claims); err != nil {
		return "", nil, Error.Wrap(fmt.Errorf("decode oidc claims: %w", err))
	}

	owner, repo, ok := strings.Cut(claims.Repository, "/")
	if !ok {
		return "", nil, Error.New("malformed repository claim %q", claims.Repository)
	}
	file := workflowFilename(claims.WorkflowRef)
	if file == "" {
		return "", nil, Error.New("malformed workflow_ref claim %q", claims.WorkflowRef)
	}

	var environment sql.NullString
	if claims.Environment != "" {
		environment = sql.NullString{String: claims.Environment, Valid: true}
	}

	crateIDs, err = database.MatchingGitHubOIDCConfigs(ctx, db, owner, repo, file, environment)
	if err != nil {
		return "", nil, Error.Wrap(fmt.Errorf("match trusted publishing config: %w", err))
	}
	if len(crateIDs) == 0 {
		return "", nil, Error.New("no trusted publishing config matches %s/%s workflow %s", owner, repo, file)
	}

	plaintext, err = GenerateAccessToken()
	if err != nil {
		return "", nil, err
	}
	expiresAt := sql.NullTime{Time: now.Add(accessTokenTTL), Valid: true}
	if err := database.InsertTrustPubToken(ctx, db, HashAccessToken(plaintext), crateIDs, expiresAt); err != nil {
		return "", nil, err
	}
	return plaintext, crateIDs, nil
}
