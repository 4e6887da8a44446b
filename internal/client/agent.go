package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/honeynil/adminauth/internal/infrastructure/auth"
)

const (
	LoginPath   = "/api/admin/auth/v2/login"
	VerifyPath  = "/api/admin/auth/v2/verify"
	RefreshPath = "/api/admin/auth/v2/refresh"
	LogoutPath  = "/api/admin/auth/v2/logout"

	DefaultRefreshInterval = 10 * time.Minute

	// ForceReloginParam in a page URL asks CheckAuth to drop the local
	// session without asking the server.
	ForceReloginParam = "relogin"
)

var ErrUnauthenticated = errors.New("session ended, login required")

type User struct {
	ID          int32  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

type AuthState struct {
	IsAuthenticated bool
	User            *User
}

type LoginResult struct {
	Success bool
	Message string
}

type EventKind string

const (
	EventLogin  EventKind = "login"
	EventLogout EventKind = "logout"
)

type Event struct {
	Kind EventKind
	User *User
}

type Listener func(Event)

type ListenerID uint64

type sessionPayload struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	User    User   `json:"user"`
}

type messagePayload struct {
	Message string `json:"message"`
}

// Agent is the client half of the session protocol. It keeps the access
// token in a TokenStorage, the refresh cookie in its cookie jar, and renews
// the access token in the background while authenticated.
type Agent struct {
	baseURL         string
	http            *http.Client
	storage         TokenStorage
	refreshInterval time.Duration

	mu        sync.Mutex
	user      *User
	stopTimer context.CancelFunc
	listeners map[ListenerID]Listener
	nextID    ListenerID
}

type Option func(*Agent)

// WithHTTPClient replaces the default client. The client should carry a
// cookie jar, otherwise the refresh cookie is lost.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *Agent) {
		a.http = hc
	}
}

func WithRefreshInterval(d time.Duration) Option {
	return func(a *Agent) {
		a.refreshInterval = d
	}
}

func NewAgent(baseURL string, storage TokenStorage, opts ...Option) (*Agent, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		baseURL:         strings.TrimRight(baseURL, "/"),
		http:            &http.Client{Jar: jar, Timeout: 15 * time.Second},
		storage:         storage,
		refreshInterval: DefaultRefreshInterval,
		listeners:       make(map[ListenerID]Listener),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Agent) Login(ctx context.Context, username, password string) LoginResult {
	creds := map[string]string{"username": username, "password": password}
	res := call[sessionPayload](ctx, a.http, http.MethodPost, a.baseURL+LoginPath, creds, "")
	if !res.ok {
		slog.Warn("login failed", "username", username, "kind", res.kind)
		return LoginResult{Success: false, Message: failureMessage(res.kind, res.message)}
	}
	if !res.value.Success || res.value.Token == "" {
		return LoginResult{Success: false, Message: failureMessage(ErrDecode, "")}
	}
	user := res.value.User
	if err := a.setAuthenticated(ctx, res.value.Token, &user); err != nil {
		slog.Error("failed to store access token", "error", err)
		return LoginResult{Success: false, Message: failureMessage(ErrServer, "")}
	}
	a.emit(Event{Kind: EventLogin, User: &user})
	return LoginResult{Success: true, Message: "Přihlášení proběhlo úspěšně"}
}

// Logout always ends the local session, even when the server cannot be
// reached; Success reports whether the server cleared its cookie.
func (a *Agent) Logout(ctx context.Context) LoginResult {
	a.mu.Lock()
	prev := a.user
	a.user = nil
	a.stopTimerLocked()
	a.mu.Unlock()

	if err := a.storage.Clear(); err != nil {
		slog.Error("failed to clear access token", "error", err)
	}

	res := call[messagePayload](ctx, a.http, http.MethodPost, a.baseURL+LogoutPath, nil, "")
	a.emit(Event{Kind: EventLogout, User: prev})
	if !res.ok {
		return LoginResult{Success: false, Message: failureMessage(res.kind, res.message)}
	}
	return LoginResult{Success: true, Message: res.value.Message}
}

// CheckAuth resolves the current session. forceRelogin drops local state
// without contacting the server.
func (a *Agent) CheckAuth(ctx context.Context, forceRelogin bool) AuthState {
	if forceRelogin {
		a.endSession()
		return AuthState{}
	}

	token, ok := a.storage.Get()
	if !ok {
		return a.RefreshToken(ctx)
	}

	res := call[sessionPayload](ctx, a.http, http.MethodGet, a.baseURL+VerifyPath, nil, token)
	if ctx.Err() != nil {
		return AuthState{}
	}
	if res.ok && res.value.Success {
		user := res.value.User
		if err := a.setAuthenticated(ctx, res.value.Token, &user); err != nil {
			slog.Error("failed to store access token", "error", err)
			return AuthState{}
		}
		return AuthState{IsAuthenticated: true, User: &user}
	}
	if res.kind == ErrUnauthorized {
		return a.RefreshToken(ctx)
	}

	slog.Warn("session check failed", "kind", res.kind)
	a.endSession()
	return AuthState{}
}

// RefreshToken asks the server for a new access token using the refresh
// cookie. A failed refresh ends the local session and stops the timer.
func (a *Agent) RefreshToken(ctx context.Context) AuthState {
	res := call[sessionPayload](ctx, a.http, http.MethodGet, a.baseURL+RefreshPath, nil, "")
	if ctx.Err() != nil {
		return AuthState{}
	}
	if !res.ok || !res.value.Success || res.value.Token == "" {
		slog.Info("silent refresh failed", "kind", res.kind)
		a.endSession()
		return AuthState{}
	}
	user := res.value.User
	if err := a.setAuthenticated(ctx, res.value.Token, &user); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			slog.Error("failed to store access token", "error", err)
			a.endSession()
		}
		return AuthState{}
	}
	return AuthState{IsAuthenticated: true, User: &user}
}

// Do sends req with the stored access token. On a 401 it retries once:
// with the token the gate handed back, or after a silent refresh.
func (a *Agent) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.GetBody == nil {
		raw, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(raw)), nil
		}
	}

	token, _ := a.storage.Get()
	resp, err := a.send(ctx, req, token, false)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	fresh := resp.Header.Get(auth.AccessTokenHeader)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if fresh != "" {
		if err := a.storage.Set(fresh); err != nil {
			return nil, err
		}
	} else {
		if st := a.RefreshToken(ctx); !st.IsAuthenticated {
			return nil, ErrUnauthenticated
		}
		fresh, _ = a.storage.Get()
	}
	return a.send(ctx, req, fresh, true)
}

func (a *Agent) send(ctx context.Context, req *http.Request, token string, retry bool) (*http.Response, error) {
	r := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	if retry {
		r.Header.Set(auth.RetryHeader, "1")
	}
	return a.http.Do(r)
}

// URL resolves path against the agent's base URL.
func (a *Agent) URL(path string) string {
	return a.baseURL + path
}

func (a *Agent) State() AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.user == nil {
		return AuthState{}
	}
	u := *a.user
	return AuthState{IsAuthenticated: true, User: &u}
}

func (a *Agent) AddEventListener(kind EventKind, fn Listener) ListenerID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	id := a.nextID
	a.listeners[id] = func(e Event) {
		if e.Kind == kind {
			fn(e)
		}
	}
	return id
}

func (a *Agent) RemoveEventListener(id ListenerID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.listeners, id)
}

// Close stops the background refresh without touching stored state.
func (a *Agent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopTimerLocked()
}

func (a *Agent) emit(e Event) {
	a.mu.Lock()
	fns := make([]Listener, 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

// setAuthenticated stores token (when non-empty) and marks u as signed in.
// It is a no-op once ctx is done, so a refresh that loses the race against
// Logout cannot bring the session back.
func (a *Agent) setAuthenticated(ctx context.Context, token string, u *User) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if token != "" {
		if err := a.storage.Set(token); err != nil {
			return err
		}
	}
	a.user = u
	if a.stopTimer == nil {
		loopCtx, cancel := context.WithCancel(context.Background())
		a.stopTimer = cancel
		go a.refreshLoop(loopCtx)
	}
	return nil
}

// endSession clears local state. Losing an authenticated session this way
// emits logout so listeners can switch to the logged-out view.
func (a *Agent) endSession() {
	a.mu.Lock()
	prev := a.user
	a.user = nil
	a.stopTimerLocked()
	a.mu.Unlock()

	if err := a.storage.Clear(); err != nil {
		slog.Error("failed to clear access token", "error", err)
	}
	if prev != nil {
		a.emit(Event{Kind: EventLogout, User: prev})
	}
}

func (a *Agent) stopTimerLocked() {
	if a.stopTimer != nil {
		a.stopTimer()
		a.stopTimer = nil
	}
}

func (a *Agent) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(a.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if st := a.RefreshToken(ctx); !st.IsAuthenticated {
				return
			}
		}
	}
}

// ForceReloginRequested reports whether a page URL carries the forced
// re-login flag.
func ForceReloginRequested(u *url.URL) bool {
	if u == nil {
		return false
	}
	switch strings.ToLower(u.Query().Get(ForceReloginParam)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func failureMessage(kind ErrorKind, serverMessage string) string {
	if serverMessage != "" {
		return serverMessage
	}
	switch kind {
	case ErrNetwork:
		return "Server není dostupný"
	case ErrUnauthorized:
		return "Neplatné přihlašovací údaje"
	case ErrThrottled:
		return "Příliš mnoho pokusů o přihlášení, zkuste to později"
	case ErrDecode:
		return "Neplatná odpověď serveru"
	default:
		return "Došlo k chybě, zkuste to znovu"
	}
}
