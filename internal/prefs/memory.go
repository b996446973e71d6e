package prefs

import (
	"context"
	"sync"

	"semaphore/portal/internal/store"
)

type Memory struct {
	mu    sync.RWMutex
	items map[string]store.Preferences
}

func NewMemory() *Memory {
	return &Memory{items: map[string]store.Preferences{}}
}

func (m *Memory) Load(_ context.Context, sessionID string) (store.Preferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.items[sessionID], nil
}

func (m *Memory) SaveToken(_ context.Context, sessionID, token string) error {
	m.update(sessionID, func(p *store.Preferences) { p.Token = token })
	return nil
}

func (m *Memory) ClearToken(_ context.Context, sessionID string) error {
	m.update(sessionID, func(p *store.Preferences) { p.Token = "" })
	return nil
}

func (m *Memory) SaveTheme(_ context.Context, sessionID string, theme store.Theme) error {
	m.update(sessionID, func(p *store.Preferences) { p.Theme = theme })
	return nil
}

func (m *Memory) update(sessionID string, fn func(*store.Preferences)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.items[sessionID]
	fn(&p)
	m.items[sessionID] = p
}
