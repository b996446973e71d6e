package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"semaphore/portal/internal/access"
	"semaphore/portal/internal/clients"
	"semaphore/portal/internal/config"
	"semaphore/portal/internal/loader"
	"semaphore/portal/internal/session"
	"semaphore/portal/internal/store"
)

// API is the part of the school API client the portal uses directly.
type API interface {
	loader.API
	Login(ctx context.Context, creds clients.Credentials) (clients.Session, error)
	Register(ctx context.Context, reg clients.Registration) (clients.Session, error)
	Profile(ctx context.Context, token string) (store.User, error)
	UpdateProfile(ctx context.Context, token string, patch store.UserPatch) (store.User, error)
	UpdatePreferences(ctx context.Context, token string, prefs clients.Preferences) error
}

type Server struct {
	cfg      config.Config
	api      API
	sessions *session.Registry
	loader   *loader.Loader
	policy   *access.Policy
	guard    *access.Guard
	logger   zerolog.Logger

	// resolving holds the ids of sessions whose rehydrated token is being
	// checked against the API.
	resolving sync.Map
}

func NewServer(cfg config.Config, api API, sessions *session.Registry, policy *access.Policy, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		api:      api,
		sessions: sessions,
		loader:   loader.New(api, logger.With().Str("component", "loader").Logger()),
		policy:   policy,
		logger:   logger,
	}
	s.guard = &access.Guard{
		Policy: policy,
		Prefix: "/views",
		Logger: logger,
		Resolve: func(r *http.Request) (access.StateSource, bool) {
			sess := sessionFromContext(r.Context())
			if sess == nil {
				return nil, false
			}
			return sess.Store, true
		},
		OnDecision: func(_ *http.Request, _ string, decision access.Decision) {
			guardDecisions.WithLabelValues(decision.String()).Inc()
		},
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer(s.logger))
	r.Use(requestLogger(s.logger))
	r.Use(metrics)
	r.Use(securityHeaders)
	r.Use(corsHandler(s.cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.sessionMiddleware)

		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/logout", s.handleLogout)
		r.With(s.requireAuth).Patch("/auth/user", s.handleUpdateUser)

		r.Get("/state", s.handleState)
		r.Post("/dispatch", s.handleDispatch)

		r.Post("/ui/theme", s.handleToggleTheme)
		r.Post("/ui/sidebar", s.handleToggleSidebar)
		r.Post("/ui/notifications", s.handleAddNotification)
		r.Delete("/ui/notifications", s.handleClearNotifications)
		r.Delete("/ui/notifications/{id}", s.handleRemoveNotification)

		r.With(s.requireAuth).Get("/nav", s.handleNav)

		r.Delete("/data/errors", s.handleClearErrors)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/data/{key}", s.handleGetCollection)
			r.Post("/data/{key}/refresh", s.handleRefresh)
			r.Post("/data/{key}", s.handleCreateItem)
			r.Get("/data/{key}/{id}", s.handleGetItem)
			r.Patch("/data/{key}/{id}", s.handleUpdateItem)
			r.Delete("/data/{key}/{id}", s.handleRemoveItem)

			r.Post("/attendance/bulk", s.handleMarkAttendance)
			r.Post("/attendance/{id}/justify", s.handleJustifyAbsence)
		})

		r.With(s.guard.Middleware).Get("/views", s.handleView)
		r.With(s.guard.Middleware).Get("/views/*", s.handleView)
	})

	return r
}

// Session

type sessionKey struct{}

// sessionMiddleware opens the browser's session and starts resolving a
// rehydrated token when one is waiting for its profile.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Open(r.Context(), w, r)
		if err != nil {
			s.logger.Error().Err(err).Msg("open session")
			writeError(w, http.StatusServiceUnavailable, "session_unavailable")
			return
		}
		if sess.Rehydrated {
			if state := sess.Store.State(); state.Auth.Token != "" && state.Auth.User == nil {
				s.resolveProfile(sess)
			}
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionKey{}).(*session.Session)
	return sess
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFromContext(r.Context())
		if sess == nil {
			writeError(w, http.StatusUnauthorized, "missing_session")
			return
		}
		state := sess.Store.State()
		if state.Auth.Loading && state.Auth.Token != "" {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "loading"})
			return
		}
		if !store.IsAuthenticated(state) {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// resolveProfile confirms a rehydrated token in the background. The session
// reads as loading until the API answers. Every action it dispatches applies
// only while the session still holds the token it started with, so a logout
// or another login in the meantime wins.
func (s *Server) resolveProfile(sess *session.Session) {
	if _, busy := s.resolving.LoadOrStore(sess.ID, struct{}{}); busy {
		return
	}
	token := sess.Store.State().Auth.Token
	if token == "" {
		s.resolving.Delete(sess.ID)
		return
	}
	guarded := func(a store.Action) store.Action {
		return store.IfToken{Token: token, Action: a}
	}
	s.dispatch(context.Background(), sess, guarded(store.LoginStart{}))

	go func() {
		defer s.resolving.Delete(sess.ID)
		ctx, cancel := context.WithTimeout(context.Background(), s.apiTimeout())
		defer cancel()

		user, err := s.api.Profile(ctx, token)
		if err != nil {
			if isUnauthorized(err) {
				s.logger.Info().Str("session", sess.ID).Msg("stored token rejected")
				s.dispatch(ctx, sess, guarded(store.Logout{}))
				return
			}
			s.logger.Warn().Err(err).Str("session", sess.ID).Msg("resolve profile")
			s.dispatch(ctx, sess, guarded(store.NewLoginFailure(errorCode(err))))
			return
		}
		success, err := store.NewLoginSuccess(&user, token)
		if err != nil {
			s.logger.Warn().Err(err).Str("session", sess.ID).Msg("profile rejected")
			s.dispatch(ctx, sess, guarded(store.Logout{}))
			return
		}
		s.dispatch(ctx, sess, guarded(success))
	}()
}

func (s *Server) apiTimeout() time.Duration {
	if s.cfg.APITimeout > 0 {
		return s.cfg.APITimeout
	}
	return 10 * time.Second
}

func (s *Server) dispatch(ctx context.Context, sess *session.Session, a store.Action) {
	if err := sess.Store.Dispatch(ctx, a); err != nil {
		s.logger.Error().Err(err).Str("session", sess.ID).Str("action", a.Type()).Msg("dispatch")
	}
}

// Helpers

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// safeRedirect keeps post-login redirects on this site.
func safeRedirect(from string) string {
	if from == "" || !strings.HasPrefix(from, "/") || strings.HasPrefix(from, "//") {
		return ""
	}
	parsed, err := url.Parse(from)
	if err != nil || parsed.Host != "" {
		return ""
	}
	return parsed.RequestURI()
}
