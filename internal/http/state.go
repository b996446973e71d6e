package http

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"semaphore/portal/internal/access"
	"semaphore/portal/internal/clients"
	"semaphore/portal/internal/session"
	"semaphore/portal/internal/store"
)

type authView struct {
	User            *store.User `json:"user"`
	IsAuthenticated bool        `json:"isAuthenticated"`
	Loading         bool        `json:"loading"`
	Error           string      `json:"error,omitempty"`
}

type uiView struct {
	Theme            store.Theme          `json:"theme"`
	SidebarCollapsed bool                 `json:"sidebarCollapsed"`
	Notifications    []store.Notification `json:"notifications"` // newest first
}

type dataView struct {
	Counts      map[string]int       `json:"counts"`
	Loading     map[string]bool      `json:"loading"`
	Errors      map[string]string    `json:"errors"`
	LastUpdated map[string]time.Time `json:"lastUpdated"`
}

type stateView struct {
	Auth authView `json:"auth"`
	UI   uiView   `json:"ui"`
	Data dataView `json:"data"`
}

// viewOf renders the browser-facing part of a snapshot. The token stays on
// the server.
func viewOf(sess *session.Session, state store.State) stateView {
	counts := make(map[string]int, len(state.Data.Collections))
	for key, items := range state.Data.Collections {
		counts[key] = len(items)
	}
	// The selector result is shared; reverse a copy.
	notes := slices.Clone(sess.Selectors.Notifications.Select(state))
	slices.Reverse(notes)
	return stateView{
		Auth: authView{
			User:            store.CurrentUser(state),
			IsAuthenticated: store.IsAuthenticated(state),
			Loading:         store.AuthLoading(state),
			Error:           store.AuthError(state),
		},
		UI: uiView{
			Theme:            store.CurrentTheme(state),
			SidebarCollapsed: store.SidebarCollapsed(state),
			Notifications:    notes,
		},
		Data: dataView{
			Counts:      counts,
			Loading:     state.Data.Loading,
			Errors:      state.Data.Errors,
			LastUpdated: state.Data.LastUpdated,
		},
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, viewOf(sess, sess.Store.State()))
}

// dispatchable reports whether a browser may send actionType directly. Auth
// and data changes go through the endpoints that talk to the API.
func dispatchable(actionType string) bool {
	if actionType == store.TypeClearErrors {
		return true
	}
	return !strings.HasPrefix(actionType, "auth/") && !strings.HasPrefix(actionType, "data/")
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	var env store.Envelope
	if err := decodeJSON(r, &env); err != nil || env.Type == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if !dispatchable(env.Type) {
		writeError(w, http.StatusForbidden, "action_not_allowed")
		return
	}
	action, err := store.DecodeAction(env.Type, env.Payload)
	if err != nil {
		writeFormError(w, err)
		return
	}
	s.dispatchAndRender(w, r, sess, action)
}

func (s *Server) dispatchAndRender(w http.ResponseWriter, r *http.Request, sess *session.Session, action store.Action) {
	if err := sess.Store.Dispatch(r.Context(), action); err != nil {
		switch {
		case errors.Is(err, store.ErrUnknownAction):
			writeError(w, http.StatusBadRequest, "unknown_action")
		case errors.Is(err, store.ErrInvalidPayload):
			writeFormError(w, err)
		default:
			writeError(w, http.StatusInternalServerError, "dispatch_failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess, sess.Store.State()))
}

func (s *Server) handleToggleTheme(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	s.dispatchAndRender(w, r, sess, store.ToggleTheme{})

	// The API keeps its own copy of the theme for signed-in users.
	state := sess.Store.State()
	if store.IsAuthenticated(state) {
		token, theme := state.Auth.Token, state.UI.Theme
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.apiTimeout())
			defer cancel()
			if err := s.api.UpdatePreferences(ctx, token, clients.Preferences{Theme: theme}); err != nil {
				s.logger.Warn().Err(err).Str("session", sess.ID).Msg("sync theme")
			}
		}()
	}
}

func (s *Server) handleToggleSidebar(w http.ResponseWriter, r *http.Request) {
	s.dispatchAndRender(w, r, sessionFromContext(r.Context()), store.ToggleSidebar{})
}

type notificationRequest struct {
	Message string         `json:"message"`
	Type    store.Severity `json:"type,omitempty"`
}

func (s *Server) handleAddNotification(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	action, err := store.NewAddNotification(req.Message, req.Type)
	if err != nil {
		writeFormError(w, err)
		return
	}
	s.dispatchAndRender(w, r, sessionFromContext(r.Context()), action)
}

func (s *Server) handleRemoveNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.dispatchAndRender(w, r, sessionFromContext(r.Context()), store.RemoveNotification{ID: id})
}

func (s *Server) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	s.dispatchAndRender(w, r, sessionFromContext(r.Context()), store.ClearAllNotifications{})
}

type navResponse struct {
	Routes     []access.Route  `json:"routes"`
	Breadcrumb []access.Crumb  `json:"breadcrumb"`
	Landing    string          `json:"landing"`
	Location   string          `json:"location,omitempty"`
	Decision   access.Decision `json:"decision"`
}

func (s *Server) handleNav(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	user := store.CurrentUser(sess.Store.State())

	location, decision := sess.Navigator.Current()
	path := r.URL.Query().Get("path")
	if path == "" {
		path = location
	}
	resp := navResponse{
		Routes:   s.policy.AccessibleRoutes(user.Role),
		Landing:  s.policy.LandingPath(user.Role),
		Location: location,
		Decision: decision,
	}
	if path != "" {
		resp.Breadcrumb = s.policy.Breadcrumb(path)
	}
	writeJSON(w, http.StatusOK, resp)
}

type viewResponse struct {
	Path       string         `json:"path"`
	Name       string         `json:"name,omitempty"`
	Component  string         `json:"component,omitempty"`
	Public     bool           `json:"public,omitempty"`
	Redirect   string         `json:"redirect,omitempty"`
	Breadcrumb []access.Crumb `json:"breadcrumb,omitempty"`
	State      stateView      `json:"state"`
}

// handleView serves a page the guard admitted. It also moves the session's
// navigator there.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	path := "/" + strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/views"), "/")
	state := sess.Store.State()

	if _, err := sess.Navigator.Navigate(path); err != nil && !errors.Is(err, access.ErrRouteNotFound) {
		s.logger.Warn().Err(err).Str("path", path).Msg("navigate")
	}

	resp := viewResponse{Path: path, State: viewOf(sess, state)}
	rule, ok := access.RuleFromContext(r.Context())
	if !ok {
		resp.Public = true
		// Signed-in users have nothing to do on the login pages.
		if user := store.CurrentUser(state); user != nil && store.IsAuthenticated(state) {
			resp.Redirect = s.policy.LandingPath(user.Role)
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Name = rule.Name
	resp.Component = rule.Component
	resp.Breadcrumb = s.policy.Breadcrumb(path)
	writeJSON(w, http.StatusOK, resp)
}
