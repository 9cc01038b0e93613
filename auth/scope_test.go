package auth_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/cratesregistry/auth"
	"storj.io/cratesregistry/database"
)

func TestHasEndpointScopeUnrestrictedWhenEmpty(t *testing.T) {
	tok := &database.ApiToken{}
	require.True(t, auth.HasEndpointScope(tok, auth.EndpointScopePublishNew))
}

func TestHasEndpointScopeRestricted(t *testing.T) {
	tok := &database.ApiToken{EndpointScopes: []string{"yank"}}
	require.True(t, auth.HasEndpointScope(tok, auth.EndpointScopeYank))
	require.False(t, auth.HasEndpointScope(tok, auth.EndpointScopePublishNew))
}

func TestHasCrateScopeExactMatchIgnoresCaseAndSeparators(t *testing.T) {
	tok := &database.ApiToken{CrateScopes: []string{"My_Crate"}}
	require.True(t, auth.HasCrateScope(tok, "my-crate"))
	require.False(t, auth.HasCrateScope(tok, "other-crate"))
}

func TestHasCrateScopePrefixPattern(t *testing.T) {
	tok := &database.ApiToken{CrateScopes: []string{"serde-*"}}
	require.True(t, auth.HasCrateScope(tok, "serde-json"))
	require.False(t, auth.HasCrateScope(tok, "tokio"))
}

func TestHasCrateScopeUnrestrictedWhenEmpty(t *testing.T) {
	tok := &database.ApiToken{}
	require.True(t, auth.HasCrateScope(tok, "anything"))
}
