package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/honeynil/adminauth/internal/infrastructure/observability"
	"github.com/honeynil/adminauth/internal/models"
)

const (
	// AccessTokenHeader carries a freshly minted access token on a 401 that
	// asks the caller to retry.
	AccessTokenHeader = "X-Access-Token"
	// RetryHeader marks a request that is already the retry of a refreshed one.
	RetryHeader = "X-Auth-Retry"

	MaxAuthRetries = 1
)

type gateState int

const (
	stateUnverified gateState = iota
	stateVerified
	stateNeedsRefresh
	stateRefreshed
	stateRejected
)

func (s gateState) String() string {
	switch s {
	case stateUnverified:
		return "unverified"
	case stateVerified:
		return "verified"
	case stateNeedsRefresh:
		return "needs_refresh"
	case stateRefreshed:
		return "refreshed"
	default:
		return "rejected"
	}
}

type decision struct {
	state     gateState
	principal *models.Principal
	token     string
	err       error
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(models.Principal)
	return p, ok
}

// Gate classifies inbound admin requests as authenticated or rejected.
type Gate struct {
	codec    TokenCodec
	sessions *SessionManager
}

func NewGate(codec TokenCodec, sessions *SessionManager) *Gate {
	return &Gate{codec: codec, sessions: sessions}
}

// Require builds middleware admitting requests with a valid access token
// whose role is in roles. An empty roles list admits any role.
func (g *Gate) Require(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.evaluate(r)

			switch d.state {
			case stateVerified:
				if len(roles) > 0 && !slices.Contains(roles, d.principal.Role) {
					observability.AuthGateDecisions.WithLabelValues("forbidden").Inc()
					slog.Warn("role not allowed", "user_id", d.principal.UserID, "role", d.principal.Role, "path", r.URL.Path)
					writeJSON(w, http.StatusForbidden, map[string]string{"message": "Forbidden"})
					return
				}
				observability.AuthGateDecisions.WithLabelValues("verified").Inc()
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), *d.principal)))

			case stateRefreshed:
				observability.AuthGateDecisions.WithLabelValues("refreshed").Inc()
				slog.Info("access token refreshed by gate", "user_id", d.principal.UserID, "path", r.URL.Path)
				w.Header().Set(AccessTokenHeader, d.token)
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"success": false,
					"message": "Unauthorized",
					"token":   d.token,
				})

			default:
				if d.err != nil {
					observability.AuthGateDecisions.WithLabelValues("error").Inc()
					slog.Error("session refresh failed", "path", r.URL.Path, "error", d.err)
					writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Internal Server Error"})
					return
				}
				observability.AuthGateDecisions.WithLabelValues("unauthenticated").Inc()
				writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
			}
		})
	}
}

// evaluate runs Unverified -> Verified | NeedsRefresh -> Refreshed | Rejected.
// NeedsRefresh is entered at most once and never for a request that already
// used up its retry.
func (g *Gate) evaluate(r *http.Request) decision {
	var d decision
	attempt := retryAttempt(r)
	state := stateUnverified

	for {
		switch state {
		case stateUnverified:
			if p, ok := g.codec.VerifyAccess(BearerToken(r)); ok {
				d.principal = p
				state = stateVerified
				continue
			}
			state = stateNeedsRefresh

		case stateNeedsRefresh:
			if attempt >= MaxAuthRetries {
				state = stateRejected
				continue
			}
			attempt++
			refreshed, err := g.sessions.RefreshSession(r)
			if err != nil {
				d.err = err
				state = stateRejected
				continue
			}
			if refreshed == nil {
				state = stateRejected
				continue
			}
			d.principal = &refreshed.Principal
			d.token = refreshed.AccessToken
			state = stateRefreshed

		default:
			d.state = state
			return d
		}
	}
}

// BearerToken returns the token from "Authorization: Bearer <token>", or "".
func BearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

func retryAttempt(r *http.Request) int {
	v := r.Header.Get(RetryHeader)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return MaxAuthRetries
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
