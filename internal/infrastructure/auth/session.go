package auth

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/honeynil/adminauth/internal/models"
)

// Refreshed is the outcome of a successful silent refresh.
type Refreshed struct {
	AccessToken string
	Principal   models.Principal
}

// SessionManager creates, refreshes and deletes stateless sessions. A
// session exists only as the refresh_token cookie; there is no server table.
type SessionManager struct {
	codec TokenCodec
	store *CookieStore
}

func NewSessionManager(codec TokenCodec, store *CookieStore) *SessionManager {
	return &SessionManager{codec: codec, store: store}
}

// CreateSession mints both tokens, sets the refresh cookie and returns only
// the access token.
func (m *SessionManager) CreateSession(w http.ResponseWriter, p models.Principal) (string, error) {
	access, err := m.codec.SignAccess(p)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := m.codec.SignRefresh(p)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}

	m.store.SetRefreshCookie(w, refresh)
	slog.Info("session created", "user_id", p.UserID, "username", p.Username)
	return access, nil
}

// RefreshSession returns nil, nil when the session has ended (no cookie, or
// the cookie no longer verifies). The refresh token is not rotated.
func (m *SessionManager) RefreshSession(r *http.Request) (*Refreshed, error) {
	p, ok := m.SessionPrincipal(r)
	if !ok {
		return nil, nil
	}

	access, err := m.codec.SignAccess(*p)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	return &Refreshed{AccessToken: access, Principal: *p}, nil
}

// SessionPrincipal decodes the refresh cookie without minting anything.
func (m *SessionManager) SessionPrincipal(r *http.Request) (*models.Principal, bool) {
	token, ok := m.store.RefreshCookie(r)
	if !ok {
		return nil, false
	}
	return m.codec.VerifyRefresh(token)
}

// DeleteSession clears the refresh cookie. Safe to call when no cookie is set.
func (m *SessionManager) DeleteSession(w http.ResponseWriter) {
	m.store.ClearRefreshCookie(w)
}
