package auth_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/cratesregistry/auth"
)

func TestGenerateAccessTokenHasPrefixAndIsRecognised(t *testing.T) {
	tok, err := auth.GenerateAccessToken()
	require.NoError(t, err)
	require.True(t, auth.IsAccessToken(tok))
	require.False(t, auth.IsAccessToken("cioABCDEF1234567890"))
}

func TestGenerateAccessTokenIsRandom(t *testing.T) {
	a, err := auth.GenerateAccessToken()
	require.NoError(t, err)
	b, err := auth.GenerateAccessToken()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestHashAccessTokenIsDeterministic(t *testing.T) {
	require.Equal(t, auth.HashAccessToken("foo"), auth.HashAccessToken("foo"))
	require.NotEqual(t, auth.HashAccessToken("foo"), auth.HashAccessToken("bar"))
}
