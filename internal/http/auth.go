package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"semaphore/portal/internal/clients"
	"semaphore/portal/internal/session"
	"semaphore/portal/internal/store"
)

type loginResponse struct {
	User     store.User `json:"user"`
	Redirect string     `json:"redirect"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	var form loginForm
	if err := decodeJSON(r, &form); err != nil {
		// A bare bearer token signs the session in with a token issued
		// elsewhere.
		if errors.Is(err, io.EOF) {
			if token := bearerToken(r.Header.Get("Authorization")); token != "" {
				s.adoptToken(w, r, sess, token)
				return
			}
		}
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := checkForm(form); err != nil {
		writeFormError(w, err)
		return
	}

	ctx := r.Context()
	s.dispatch(ctx, sess, store.LoginStart{})
	result, err := s.api.Login(ctx, clients.Credentials{Email: strings.TrimSpace(form.Email), Password: form.Password})
	if err != nil {
		s.dispatch(ctx, sess, store.NewLoginFailure(errorCode(err)))
		if isUnauthorized(err) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		writeAPIError(w, err)
		return
	}
	s.completeLogin(w, r, sess, result.User, result.Token, form.From, http.StatusOK)
}

func (s *Server) adoptToken(w http.ResponseWriter, r *http.Request, sess *session.Session, token string) {
	ctx := r.Context()
	s.dispatch(ctx, sess, store.LoginStart{})
	user, err := s.api.Profile(ctx, token)
	if err != nil {
		s.dispatch(ctx, sess, store.NewLoginFailure(errorCode(err)))
		if isUnauthorized(err) {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		writeAPIError(w, err)
		return
	}
	s.completeLogin(w, r, sess, user, token, r.URL.Query().Get("from"), http.StatusOK)
}

func (s *Server) completeLogin(w http.ResponseWriter, r *http.Request, sess *session.Session, user store.User, token, from string, status int) {
	success, err := store.NewLoginSuccess(&user, token)
	if err != nil {
		s.dispatch(r.Context(), sess, store.NewLoginFailure("invalid_profile"))
		writeError(w, http.StatusBadGateway, "invalid_profile")
		return
	}
	// Data cached for someone else must not leak into this user's pages.
	if prev := store.CurrentUser(sess.Store.State()); prev == nil || prev.ID != user.ID {
		s.dispatch(r.Context(), sess, store.ResetData{})
	}
	if err := sess.Store.Dispatch(r.Context(), success); err != nil {
		writeError(w, http.StatusInternalServerError, "dispatch_failed")
		return
	}
	redirect := safeRedirect(from)
	if redirect == "" || !s.policy.HasAccess(redirect, user.Role) {
		redirect = s.policy.LandingPath(user.Role)
	}
	writeJSON(w, status, loginResponse{User: user, Redirect: redirect})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	var form registerForm
	if err := decodeJSON(r, &form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	form.Email = strings.TrimSpace(form.Email)
	if err := checkForm(form); err != nil {
		writeFormError(w, err)
		return
	}

	reg := clients.Registration{
		FirstName:   form.FirstName,
		LastName:    form.LastName,
		Email:       form.Email,
		Password:    form.Password,
		Role:        form.Role,
		PhoneNumber: normalizePhone(form.PhoneNumber),
		Username:    strings.ToLower(strings.SplitN(form.Email, "@", 2)[0]),
	}
	if form.Role == store.RoleStudent {
		class := form.Class
		reg.Class = &class
	}
	result, err := s.api.Register(r.Context(), reg)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if result.Token == "" {
		writeJSON(w, http.StatusCreated, map[string]string{"redirect": s.policy.LoginPath()})
		return
	}
	s.completeLogin(w, r, sess, result.User, result.Token, "", http.StatusCreated)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if err := sess.Store.Dispatch(r.Context(), store.Logout{}); err != nil {
		writeError(w, http.StatusInternalServerError, "dispatch_failed")
		return
	}
	s.dispatch(r.Context(), sess, store.ResetData{})
	writeJSON(w, http.StatusOK, map[string]string{"redirect": s.policy.LoginPath()})
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	var patch store.UserPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	update, err := store.NewUpdateUser(patch)
	if err != nil {
		writeFormError(w, err)
		return
	}
	if patch.Empty() {
		writeJSON(w, http.StatusOK, store.CurrentUser(sess.Store.State()))
		return
	}
	token := sess.Store.State().Auth.Token
	if _, err := s.api.UpdateProfile(r.Context(), token, patch); err != nil {
		s.handleAPIFailure(r.Context(), w, sess, err)
		return
	}
	if err := sess.Store.Dispatch(r.Context(), update); err != nil {
		writeError(w, http.StatusInternalServerError, "dispatch_failed")
		return
	}
	writeJSON(w, http.StatusOK, store.CurrentUser(sess.Store.State()))
}

// handleAPIFailure answers a failed API call. A rejected token also ends the
// session.
func (s *Server) handleAPIFailure(ctx context.Context, w http.ResponseWriter, sess *session.Session, err error) {
	if isUnauthorized(err) {
		s.dispatch(ctx, sess, store.Logout{})
	}
	writeAPIError(w, err)
}

func isUnauthorized(err error) bool {
	return errors.Is(err, clients.ErrUnauthorized)
}

// errorCode is the short code recorded in the store for a failed call.
func errorCode(err error) string {
	var apiErr *clients.APIError
	switch {
	case errors.As(err, &apiErr):
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return apiErr.Code
	case isUnauthorized(err):
		return "unauthorized"
	case errors.Is(err, context.DeadlineExceeded):
		return "api_timeout"
	default:
		return "api_unavailable"
	}
}

func writeAPIError(w http.ResponseWriter, err error) {
	var apiErr *clients.APIError
	switch {
	case errors.As(err, &apiErr):
		writeError(w, apiErr.Status, apiErr.Code)
	case isUnauthorized(err):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, clients.ErrUnknownResource):
		writeError(w, http.StatusNotFound, "unknown_collection")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "api_timeout")
	default:
		writeError(w, http.StatusBadGateway, "api_unavailable")
	}
}

func writeFormError(w http.ResponseWriter, err error) {
	var fields formErrors
	if errors.As(err, &fields) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "invalid_form",
			"fields": fields,
		})
		return
	}
	var verr *store.ValidationError
	if errors.As(err, &verr) {
		out := map[string]string{}
		for _, f := range verr.Fields {
			out[f.Field] = f.Tag
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "invalid_payload",
			"fields": out,
		})
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_request")
}
