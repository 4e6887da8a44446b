package models

import (
	"time"
	"unicode/utf8"
)

type AuditEvent struct {
	ID        int64          `json:"id,omitempty"`
	Type      AuditEventType `json:"event_type"`
	UserID    int32          `json:"user_id,omitempty"`
	Username  string         `json:"username"`
	RemoteIP  string         `json:"remote_ip,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Column widths of auth_audit.username and auth_audit.remote_ip.
const (
	MaxAuditUsernameLen = 50
	MaxAuditRemoteIPLen = 64
)

// Clamp cuts Username and RemoteIP to their column widths. Both can come
// straight from a request, so an oversized value must not make the insert fail.
func (e *AuditEvent) Clamp() {
	e.Username = truncateRunes(e.Username, MaxAuditUsernameLen)
	e.RemoteIP = truncateRunes(e.RemoteIP, MaxAuditRemoteIPLen)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

type AuditEventType string

const (
	EventLogin       AuditEventType = "login"
	EventLoginFailed AuditEventType = "login_failed"
	EventLogout      AuditEventType = "logout"
	EventRefresh     AuditEventType = "refresh"
)

func (t AuditEventType) Valid() bool {
	switch t {
	case EventLogin, EventLoginFailed, EventLogout, EventRefresh:
		return true
	}
	return false
}
