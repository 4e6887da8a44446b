package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/honeynil/adminauth/internal/infrastructure/auth"
	"github.com/honeynil/adminauth/internal/models"
	service "github.com/honeynil/adminauth/internal/services"
	pkgerrors "github.com/honeynil/adminauth/pkg/errors"
)

const (
	msgMissingCredentials = "Uživatelské jméno a heslo jsou povinné"
	msgInvalidCredentials = "Neplatné přihlašovací údaje"
	msgTooManyAttempts    = "Příliš mnoho pokusů o přihlášení, zkuste to později"
	msgInternal           = "Interní chyba serveru"
	msgLoggedOut          = "Odhlášení proběhlo úspěšně"
)

type Handler struct {
	service      service.AuthService
	sessions     *auth.SessionManager
	codec        auth.TokenCodec
	gate         *auth.Gate
	trustProxies bool
}

type Option func(*Handler)

// WithTrustedProxy makes the handler take the client address from
// X-Forwarded-For. Enable it only behind a proxy that overwrites the header.
func WithTrustedProxy() Option {
	return func(h *Handler) {
		h.trustProxies = true
	}
}

func NewHandler(s service.AuthService, sessions *auth.SessionManager, codec auth.TokenCodec, gate *auth.Gate, opts ...Option) *Handler {
	h := &Handler{service: s, sessions: sessions, codec: codec, gate: gate}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type userResponse struct {
	ID          int32  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

func newUserResponse(u *models.User) userResponse {
	return userResponse{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName, Role: u.Role}
}

type loginResponse struct {
	Success bool         `json:"success"`
	Token   string       `json:"token"`
	User    userResponse `json:"user"`
}

type sessionResponse struct {
	Success bool         `json:"success"`
	User    userResponse `json:"user"`
	Token   string       `json:"token,omitempty"`
}

type failureResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, failureResponse{Success: false, Message: message})
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	s := r.PathPrefix("/api/admin/auth/v2").Subrouter()
	s.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	s.HandleFunc("/verify", h.Verify).Methods(http.MethodGet)
	s.HandleFunc("/refresh", h.Refresh).Methods(http.MethodGet)
	s.HandleFunc("/logout", h.Logout).Methods(http.MethodPost)
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.Handle("/api/admin/me", h.gate.Require()(http.HandlerFunc(h.Me))).Methods(http.MethodGet)
	r.Handle("/api/admin/audit", h.gate.Require(models.RoleAdmin)(http.HandlerFunc(h.AuditLog))).Methods(http.MethodGet)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, msgMissingCredentials)
		return
	}

	user, err := h.service.Login(r.Context(), req.Username, req.Password, h.remoteIP(r))
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrInvalidInput):
			writeFailure(w, http.StatusBadRequest, msgMissingCredentials)
		case errors.Is(err, pkgerrors.ErrInvalidCredentials):
			writeFailure(w, http.StatusUnauthorized, msgInvalidCredentials)
		case errors.Is(err, pkgerrors.ErrTooManyAttempts):
			writeFailure(w, http.StatusTooManyRequests, msgTooManyAttempts)
		default:
			slog.Error("login failed", "username", req.Username, "error", err)
			writeFailure(w, http.StatusInternalServerError, msgInternal)
		}
		return
	}

	token, err := h.sessions.CreateSession(w, user.Principal())
	if err != nil {
		slog.Error("failed to create session", "user_id", user.ID, "error", err)
		writeFailure(w, http.StatusInternalServerError, msgInternal)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Success: true, Token: token, User: newUserResponse(user)})
}

// Verify accepts a valid bearer token, or falls back to the refresh cookie
// and then also returns a fresh access token.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var freshToken string
	p, ok := h.codec.VerifyAccess(auth.BearerToken(r))
	if !ok {
		refreshed, err := h.sessions.RefreshSession(r)
		if err != nil {
			slog.Error("failed to refresh session", "error", err)
			writeFailure(w, http.StatusInternalServerError, msgInternal)
			return
		}
		if refreshed == nil {
			writeFailure(w, http.StatusUnauthorized, "")
			return
		}
		p = &refreshed.Principal
		freshToken = refreshed.AccessToken
	}

	user, ok := h.currentUser(w, r, p.UserID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Success: true, User: newUserResponse(user), Token: freshToken})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshed, err := h.sessions.RefreshSession(r)
	if err != nil {
		slog.Error("failed to refresh session", "error", err)
		writeFailure(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if refreshed == nil {
		writeFailure(w, http.StatusUnauthorized, "")
		return
	}

	user, ok := h.currentUser(w, r, refreshed.Principal.UserID)
	if !ok {
		return
	}
	h.service.RecordEvent(r.Context(), models.EventRefresh, refreshed.Principal, h.remoteIP(r))
	writeJSON(w, http.StatusOK, sessionResponse{Success: true, User: newUserResponse(user), Token: refreshed.AccessToken})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.sessions.SessionPrincipal(r); ok {
		h.service.RecordEvent(r.Context(), models.EventLogout, *p, h.remoteIP(r))
		slog.Info("user logged out", "user_id", p.UserID, "username", p.Username)
	}
	h.sessions.DeleteSession(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": msgLoggedOut})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]models.Principal{"user": p})
}

func (h *Handler) AuditLog(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeFailure(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := h.service.RecentAuditEvents(r.Context(), limit)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// currentUser re-reads the user so displayName and role are current. A user
// deleted since the token was minted ends the session.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request, id int32) (*models.User, bool) {
	user, err := h.service.UserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrUserNotFound) {
			h.sessions.DeleteSession(w)
			writeFailure(w, http.StatusUnauthorized, "")
			return nil, false
		}
		slog.Error("failed to load user", "user_id", id, "error", err)
		writeFailure(w, http.StatusInternalServerError, msgInternal)
		return nil, false
	}
	return user, true
}

// remoteIP returns the peer address, or the first X-Forwarded-For entry when
// a trusted proxy sits in front and that entry is a valid IP.
func (h *Handler) remoteIP(r *http.Request) string {
	if h.trustProxies {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
