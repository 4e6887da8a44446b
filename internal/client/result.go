package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// ErrorKind classifies a failed API call. Every failure kind means "not
// authenticated" to the agent.
type ErrorKind string

const (
	ErrNetwork      ErrorKind = "network"
	ErrDecode       ErrorKind = "decode"
	ErrUnauthorized ErrorKind = "unauthorized"
	ErrForbidden    ErrorKind = "forbidden"
	ErrBadRequest   ErrorKind = "bad_request"
	ErrThrottled    ErrorKind = "throttled"
	ErrServer       ErrorKind = "server"
)

type result[T any] struct {
	ok      bool
	value   T
	kind    ErrorKind
	message string
}

func okResult[T any](v T) result[T] {
	return result[T]{ok: true, value: v}
}

func failResult[T any](kind ErrorKind, message string) result[T] {
	return result[T]{kind: kind, message: message}
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusTooManyRequests:
		return ErrThrottled
	case status >= 400 && status < 500:
		return ErrBadRequest
	default:
		return ErrServer
	}
}

// call performs one JSON request against the admin API and decodes a 200
// body into T. A failed result carries a message only when the server sent
// one; transport and decode errors are logged instead.
func call[T any](ctx context.Context, hc *http.Client, method, url string, body any, bearer string) result[T] {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			slog.Error("failed to encode request body", "url", url, "error", err)
			return failResult[T](ErrDecode, "")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		slog.Error("failed to build request", "url", url, "error", err)
		return failResult[T](ErrNetwork, "")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := hc.Do(req)
	if err != nil {
		slog.Warn("admin api unreachable", "method", method, "url", url, "error", err)
		return failResult[T](ErrNetwork, "")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		return failResult[T](kindForStatus(resp.StatusCode), failure.Message)
	}

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		slog.Warn("failed to decode admin api response", "url", url, "error", err)
		return failResult[T](ErrDecode, "")
	}
	return okResult(v)
}
