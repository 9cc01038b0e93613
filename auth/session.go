package auth

import (
	"fmt"
	"net/http"

	"github.com/gorilla/securecookie"
)

// SessionCookieName is the cookie the browser-facing frontend sets after a
// successful GitHub OAuth login.
const SessionCookieName = "cio_session"

// sessionValue is the signed payload carried by the cookie. It names no
// user-facing fields beyond the id: everything else about the user is
// looked up fresh from the database on every request.
type sessionValue struct {
	UserID int64 `json:"user_id"`
}

// SessionCodec encodes and decodes the signed session cookie using
// SESSION_KEY, mirroring the teacher's use of gorilla/securecookie-family
// tooling anywhere a small signed blob needs to round-trip through an
// untrusted client.
type SessionCodec struct {
	sc *securecookie.SecureCookie
}

// NewSessionCodec builds a codec from the raw SESSION_KEY secret, used as
// the HMAC key only. No encryption key is set, so the cookie is
// authenticated but its payload stays readable, which is acceptable since
// a user id is not sensitive.
func NewSessionCodec(sessionKey []byte) *SessionCodec {
	return &SessionCodec{sc: securecookie.New(sessionKey, nil)}
}

// Issue sets the session cookie on w for userID.
func (c *SessionCodec) Issue(w http.ResponseWriter, userID int64) error {
	encoded, err := c.sc.Encode(SessionCookieName, sessionValue{UserID: userID})
	if err != nil {
		return Error.Wrap(fmt.Errorf("encode session cookie: %w", err))
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear removes the session cookie, used on logout.
func (c *SessionCodec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// UserID recovers the authenticated user id from r's session cookie. It
// returns false (no error) when the request simply carries no session
// cookie; a present-but-invalid cookie is also treated as anonymous, since
// a tampered or stale-key cookie should fall back to "no session" rather
// than fail the request outright.
func (c *SessionCodec) UserID(r *http.Request) (int64, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return 0, false
	}
	var v sessionValue
	if err := c.sc.Decode(SessionCookieName, cookie.Value, &v); err != nil {
		return 0, false
	}
	return v.UserID, true
}
