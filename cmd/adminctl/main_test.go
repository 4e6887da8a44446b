package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/honeynil/adminauth/internal/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCommandWithInput(t, "", args...)
}

func runCommandWithInput(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHashPassword(t *testing.T) {
	t.Run("FromStdin", func(t *testing.T) {
		t.Setenv("ADMINCTL_PASSWORD", "")
		out, err := runCommandWithInput(t, "s3cret\n", "hash-password")
		require.NoError(t, err)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("s3cret")))
	})

	t.Run("FromEnvironment", func(t *testing.T) {
		t.Setenv("ADMINCTL_PASSWORD", "from-env")
		out, err := runCommandWithInput(t, "ignored\n", "hash-password")
		require.NoError(t, err)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("from-env")))
	})

	t.Run("PositionalArgumentRejected", func(t *testing.T) {
		t.Setenv("ADMINCTL_PASSWORD", "")
		_, err := runCommandWithInput(t, "s3cret\n", "hash-password", "s3cret")
		assert.Error(t, err)
	})

	t.Run("EmptyInput", func(t *testing.T) {
		t.Setenv("ADMINCTL_PASSWORD", "")
		_, err := runCommandWithInput(t, "", "hash-password")
		assert.Error(t, err)
	})
}

func TestLoginAndCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case client.LoginPath:
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"token":   "tok-1",
				"user":    map[string]any{"id": 1, "username": "alice", "displayName": "Alice Admin", "role": "admin"},
			})
		case client.VerifyPath:
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"success":false}`))
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"user":    map[string]any{"id": 1, "username": "alice", "displayName": "Alice Admin", "role": "admin"},
			})
		default:
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"success":false}`))
		}
	}))
	defer srv.Close()

	sessionFile := filepath.Join(t.TempDir(), "session.json")
	common := []string{"--server", srv.URL, "--session-file", sessionFile}

	_, err := runCommand(t, append([]string{"login", "--username", "alice", "--password", "pw"}, common...)...)
	require.NoError(t, err)
	token, ok := client.NewFileStorage(sessionFile).Get()
	require.True(t, ok)
	assert.Equal(t, "tok-1", token)

	out, err := runCommand(t, append([]string{"check"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "authenticated as alice")

	require.NoError(t, os.Remove(sessionFile))
	_, err = runCommand(t, append([]string{"check"}, common...)...)
	assert.ErrorIs(t, err, client.ErrUnauthenticated)
}
