package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"semaphore/portal/internal/access"
	"semaphore/portal/internal/prefs"
	"semaphore/portal/internal/store"
)

const CookieName = "portal_session"

var activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "portal_active_sessions",
	Help: "Number of live portal sessions",
})

func init() {
	prometheus.MustRegister(activeSessions)
}

// Session is the per-browser state held by the portal.
type Session struct {
	ID        string
	Store     *store.Store
	Navigator *access.Navigator
	Selectors *store.Selectors
	// Rehydrated is set when the session was rebuilt from persisted
	// preferences that carried a token still waiting for its profile.
	Rehydrated bool
}

type Config struct {
	TTL          time.Duration
	Capacity     int
	CookieSecure bool
	CacheSize    int
	// StoreOptions are applied to every new store after the session's own
	// persister and preferences.
	StoreOptions []store.Option
}

// Registry maps session cookies to live stores. Idle sessions are evicted
// after TTL; their persisted preferences survive and rehydrate the next store
// opened under the same id.
type Registry struct {
	cfg      Config
	backend  prefs.Backend
	policy   *access.Policy
	logger   zerolog.Logger
	sessions *expirable.LRU[string, *Session]
	createMu sync.Mutex
}

func NewRegistry(cfg Config, backend prefs.Backend, policy *access.Policy, logger zerolog.Logger) *Registry {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * time.Hour
	}
	r := &Registry{cfg: cfg, backend: backend, policy: policy, logger: logger}
	r.sessions = expirable.NewLRU[string, *Session](cfg.Capacity, r.onEvict, cfg.TTL)
	return r
}

// onEvict runs with the LRU's lock held and must not call back into it.
func (r *Registry) onEvict(id string, s *Session) {
	s.Navigator.Close()
	activeSessions.Dec()
	r.logger.Debug().Str("session", id).Msg("session evicted")
}

// Open returns the request's session, creating it and setting the cookie
// when the request has none.
func (r *Registry) Open(ctx context.Context, w http.ResponseWriter, req *http.Request) (*Session, error) {
	if s, ok := r.Lookup(req); ok {
		return s, nil
	}
	id := cookieID(req)
	if id == "" {
		id = uuid.NewString()
	}

	// Two first requests from one browser must share a store.
	r.createMu.Lock()
	s, ok := r.sessions.Get(id)
	if !ok {
		var err error
		s, err = r.create(ctx, id)
		if err != nil {
			r.createMu.Unlock()
			return nil, err
		}
	}
	r.createMu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return s, nil
}

// Lookup finds a live session without creating one. It also slides the
// session's expiry.
func (r *Registry) Lookup(req *http.Request) (*Session, bool) {
	id := cookieID(req)
	if id == "" {
		return nil, false
	}
	s, ok := r.sessions.Get(id)
	if !ok {
		return nil, false
	}
	r.sessions.Add(id, s)
	return s, true
}

// Resolve adapts Lookup for the route guard.
func (r *Registry) Resolve(req *http.Request) (access.StateSource, bool) {
	s, ok := r.Lookup(req)
	if !ok {
		return nil, false
	}
	return s.Store, true
}

func (r *Registry) Get(id string) (*Session, bool) {
	return r.sessions.Peek(id)
}

func (r *Registry) Drop(id string) {
	r.sessions.Remove(id)
}

// Each calls fn for every live session.
func (r *Registry) Each(fn func(*Session)) {
	for _, s := range r.sessions.Values() {
		fn(s)
	}
}

func (r *Registry) Len() int {
	return r.sessions.Len()
}

func (r *Registry) create(ctx context.Context, id string) (*Session, error) {
	persisted, err := r.backend.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	opts := []store.Option{
		store.WithPreferences(persisted),
		store.WithPersister(prefs.Bind(r.backend, id)),
		store.WithLogger(r.logger.With().Str("session", id).Logger()),
	}
	opts = append(opts, r.cfg.StoreOptions...)
	st := store.New(opts...)

	s := &Session{
		ID:         id,
		Store:      st,
		Navigator:  access.NewNavigator(r.policy, st),
		Selectors:  store.NewSelectors(r.cfg.CacheSize),
		Rehydrated: persisted.Token != "",
	}
	s.Navigator.OnTransition(func(t access.Transition) {
		r.logger.Info().
			Str("session", id).
			Str("location", t.Location).
			Stringer("from", t.From).
			Stringer("to", t.To).
			Msg("session access changed")
	})
	// An expired entry may still sit under id; removing it first keeps
	// the gauge in step with the evictions.
	r.sessions.Remove(id)
	r.sessions.Add(id, s)
	activeSessions.Inc()
	return s, nil
}

func cookieID(req *http.Request) string {
	c, err := req.Cookie(CookieName)
	if err != nil {
		return ""
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return ""
	}
	return c.Value
}
