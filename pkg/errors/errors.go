package errors

import (
	"errors"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrNilAuditEvent       = errors.New("audit event is nil")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidInput        = errors.New("invalid input")
	ErrTooManyAttempts     = errors.New("too many login attempts")
	ErrSignerMisconfigured = errors.New("token signer misconfigured")
	ErrInternal            = errors.New("internal error")
	ErrUnknownEventType    = errors.New("unknown audit event type")
)
