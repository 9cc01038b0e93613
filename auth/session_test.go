package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/cratesregistry/auth"
)

func TestSessionCodecRoundTrip(t *testing.T) {
	codec := auth.NewSessionCodec([]byte("0123456789abcdef0123456789abcdef"))

	rec := httptest.NewRecorder()
	require.NoError(t, codec.Issue(rec, 42))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		r.AddCookie(c)
	}

	userID, ok := codec.UserID(r)
	require.True(t, ok)
	require.EqualValues(t, 42, userID)
}

func TestSessionCodecNoCookieIsAnonymous(t *testing.T) {
	codec := auth.NewSessionCodec([]byte("0123456789abcdef0123456789abcdef"))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := codec.UserID(r)
	require.False(t, ok)
}

func TestSessionCodecTamperedCookieIsAnonymous(t *testing.T) {
	codec := auth.NewSessionCodec([]byte("0123456789abcdef0123456789abcdef"))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "garbage"})
	_, ok := codec.UserID(r)
	require.False(t, ok)
}
