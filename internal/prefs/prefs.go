package prefs

import (
	"context"
	"errors"

	"semaphore/portal/internal/store"
)

var ErrUnknownBackend = errors.New("unknown_prefs_backend")

// Backend stores the two persisted preferences of each session: the auth
// token and the theme.
type Backend interface {
	Load(ctx context.Context, sessionID string) (store.Preferences, error)
	SaveToken(ctx context.Context, sessionID, token string) error
	ClearToken(ctx context.Context, sessionID string) error
	SaveTheme(ctx context.Context, sessionID string, theme store.Theme) error
}

// Bind adapts a backend to the store's Persister for one session.
func Bind(backend Backend, sessionID string) store.Persister {
	return bound{backend: backend, sessionID: sessionID}
}

type bound struct {
	backend   Backend
	sessionID string
}

func (b bound) SaveToken(ctx context.Context, token string) error {
	return b.backend.SaveToken(ctx, b.sessionID, token)
}

func (b bound) ClearToken(ctx context.Context) error {
	return b.backend.ClearToken(ctx, b.sessionID)
}

func (b bound) SaveTheme(ctx context.Context, theme store.Theme) error {
	return b.backend.SaveTheme(ctx, b.sessionID, theme)
}
