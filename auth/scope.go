package auth

import (
	"strings"

	"storj.io/cratesregistry/cratename"
	"storj.io/cratesregistry/database"
)

// EndpointScope identifies one class of action an ApiToken may be
// restricted to via its endpoint_scopes column.
type EndpointScope string

const (
	EndpointScopePublishNew    EndpointScope = "publish-new"
	EndpointScopePublishUpdate EndpointScope = "publish-update"
	EndpointScopeYank          EndpointScope = "yank"
	EndpointScopeOwnersAdd     EndpointScope = "owners-add"
	EndpointScopeOwnersRemove  EndpointScope = "owners-remove"
)

// HasEndpointScope reports whether tok's endpoint_scopes permit scope. A
// token with no endpoint_scopes at all is unrestricted (every scope
// permitted), matching how the column is nullable and nil by default for
// tokens created before endpoint scoping existed.
func HasEndpointScope(tok *database.ApiToken, scope EndpointScope) bool {
	if len(tok.EndpointScopes) == 0 {
		return true
	}
	for _, s := range tok.EndpointScopes {
		if s == string(scope) {
			return true
		}
	}
	return false
}

// HasCrateScope reports whether tok's crate_scopes permit acting on
// crateName. A crate-scope pattern is either an exact crate name or a
// prefix pattern ending in "*"; both sides of the comparison fold through
// cratename.Normalize so "-"/"_" and case differences never cause a scope
// check to fail spuriously. No crate_scopes at all means unrestricted.
func HasCrateScope(tok *database.ApiToken, crateName string) bool {
	if len(tok.CrateScopes) == 0 {
		return true
	}
	key := cratename.Normalize(crateName)
	for _, pattern := range tok.CrateScopes {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			if strings.HasPrefix(key, cratename.Normalize(prefix)) {
				return true
			}
			continue
		}
		if cratename.Equal(pattern, crateName) {
			return true
		}
	}
	return false
}
