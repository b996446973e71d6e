package store

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLogLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestLoggingMiddlewareRecordsDispatch(t *testing.T) {
	var buf bytes.Buffer
	s := newTestStore(WithMiddleware(LoggingMiddleware(zerolog.New(&buf))))

	login, err := NewLoginSuccess(&User{ID: "u1", Role: RoleStudent}, "secret-token")
	require.NoError(t, err)
	mustDispatch(t, s, login)

	assert.NotContains(t, buf.String(), "secret-token")
	entries := decodeLogLines(t, &buf)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, TypeLoginSuccess, entry["action"])
	assert.Equal(t, "dispatch", entry["message"])
	assert.Contains(t, entry, "elapsed")
	assert.NotContains(t, entry, "error")

	prev := entry["prev"].(map[string]any)["auth"].(map[string]any)
	next := entry["next"].(map[string]any)["auth"].(map[string]any)
	assert.Equal(t, "", prev["token"])
	assert.Equal(t, "", prev["user"])
	assert.Equal(t, "***", next["token"])
	assert.Equal(t, "u1", next["user"])
	assert.Equal(t, "student", next["role"])
}

func TestLoggingMiddlewareKeepsDispatchResult(t *testing.T) {
	var buf bytes.Buffer
	plain := newTestStore(WithUnknownPolicy(UnknownReject))
	logged := newTestStore(
		WithUnknownPolicy(UnknownReject),
		WithMiddleware(LoggingMiddleware(zerolog.New(&buf))),
	)
	ctx := context.Background()

	plainErr := plain.Dispatch(ctx, Unrecognized{Name: "ui/unknown"})
	loggedErr := logged.Dispatch(ctx, Unrecognized{Name: "ui/unknown"})
	require.ErrorIs(t, plainErr, ErrUnknownAction)
	require.ErrorIs(t, loggedErr, ErrUnknownAction)
	assert.Equal(t, plainErr.Error(), loggedErr.Error())

	entries := decodeLogLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "ui/unknown", entries[0]["action"])
	assert.Equal(t, loggedErr.Error(), entries[0]["error"])

	assert.NoError(t, plain.Dispatch(ctx, ToggleSidebar{}))
	assert.NoError(t, logged.Dispatch(ctx, ToggleSidebar{}))
	assert.Equal(t, plain.State().UI.SidebarCollapsed, logged.State().UI.SidebarCollapsed)
}
