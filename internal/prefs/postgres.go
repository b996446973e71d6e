package prefs

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"semaphore/portal/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_preferences (
	session_id TEXT PRIMARY KEY,
	token      TEXT NOT NULL DEFAULT '',
	theme      TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

// Migrate creates the preferences table when it does not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.Pool.Exec(ctx, schema)
	return err
}

func (p *Postgres) Load(ctx context.Context, sessionID string) (store.Preferences, error) {
	var token, theme string
	err := p.Pool.QueryRow(ctx,
		`SELECT token, theme FROM session_preferences WHERE session_id = $1`,
		sessionID,
	).Scan(&token, &theme)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Preferences{}, nil
	}
	if err != nil {
		return store.Preferences{}, err
	}
	return store.Preferences{Token: token, Theme: store.Theme(theme)}, nil
}

func (p *Postgres) SaveToken(ctx context.Context, sessionID, token string) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO session_preferences (session_id, token) VALUES ($1, $2)
		ON CONFLICT (session_id) DO UPDATE SET token = EXCLUDED.token, updated_at = now()`,
		sessionID, token)
	return err
}

func (p *Postgres) ClearToken(ctx context.Context, sessionID string) error {
	_, err := p.Pool.Exec(ctx,
		`UPDATE session_preferences SET token = '', updated_at = now() WHERE session_id = $1`,
		sessionID)
	return err
}

func (p *Postgres) SaveTheme(ctx context.Context, sessionID string, theme store.Theme) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO session_preferences (session_id, theme) VALUES ($1, $2)
		ON CONFLICT (session_id) DO UPDATE SET theme = EXCLUDED.theme, updated_at = now()`,
		sessionID, string(theme))
	return err
}
