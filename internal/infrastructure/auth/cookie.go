package auth

import (
	"net/http"
	"time"
)

const RefreshCookieName = "refresh_token"

// CookieStore owns the refresh_token cookie. Nothing else in the module
// builds that cookie.
type CookieStore struct {
	secure bool
	ttl    time.Duration
	now    func() time.Time
}

// NewCookieStore returns a store whose cookies carry the Secure attribute
// when secure is true (production).
func NewCookieStore(secure bool) *CookieStore {
	return &CookieStore{secure: secure, ttl: RefreshTokenTTL, now: time.Now}
}

func (s *CookieStore) SetRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, s.cookie(token, int(s.ttl.Seconds()), s.now().Add(s.ttl)))
}

func (s *CookieStore) RefreshCookie(r *http.Request) (string, bool) {
	c, err := r.Cookie(RefreshCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func (s *CookieStore) ClearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, s.cookie("", -1, time.Unix(0, 0)))
}

func (s *CookieStore) cookie(value string, maxAge int, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     RefreshCookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteStrictMode,
	}
}
