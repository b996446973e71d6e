package http

import (
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"semaphore/portal/internal/clients"
	"semaphore/portal/internal/store"
)

type collectionResponse struct {
	Key         string           `json:"key"`
	Items       store.Collection `json:"data"`
	Loading     bool             `json:"isLoading"`
	Error       string           `json:"error,omitempty"`
	LastUpdated *time.Time       `json:"lastUpdated,omitempty"`
}

// collectionRoutes names the pages whose data each collection holds. A role
// may touch a collection when it can reach one of them.
var collectionRoutes = map[string][]string{
	store.KeyUsers:      {"/users"},
	store.KeyCourses:    {"/courses", "/student/courses", "/professor/courses"},
	store.KeyDocuments:  {"/documents", "/student/documents"},
	store.KeyAttendance: {"/attendance", "/student/attendance", "/professor/attendance"},
	store.KeySchedule:   {"/schedule", "/student/schedule"},
}

// allowCollection accepts the keys the API client can fetch and that the
// signed-in role may see.
func (s *Server) allowCollection(w http.ResponseWriter, r *http.Request, key string) bool {
	if !slices.Contains(clients.Resources(), key) {
		writeError(w, http.StatusNotFound, "unknown_collection")
		return false
	}
	user := store.CurrentUser(sessionFromContext(r.Context()).Store.State())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return false
	}
	if !slices.ContainsFunc(collectionRoutes[key], func(route string) bool {
		return s.policy.HasAccess(route, user.Role)
	}) {
		collectionDenied.WithLabelValues(key).Inc()
		writeError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

func (s *Server) collectionResponse(r *http.Request, key string) collectionResponse {
	sess := sessionFromContext(r.Context())
	state := sess.Store.State()
	items := sess.Selectors.Collection.Select(state, key)
	if items == nil {
		items = store.Collection{}
	}
	resp := collectionResponse{
		Key:     key,
		Items:   items,
		Loading: store.DataLoading(state, key),
		Error:   store.DataError(state, key),
	}
	if at, ok := store.LastUpdated(state, key); ok {
		resp.LastUpdated = &at
	}
	return resp
}

// handleGetCollection answers from the store. A collection never fetched is
// loaded first.
func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !s.allowCollection(w, r, key) {
		return
	}
	sess := sessionFromContext(r.Context())
	if _, fetched := store.LastUpdated(sess.Store.State(), key); !fetched {
		if err := s.loader.Refresh(r.Context(), sess.Store, key, forwardedQuery(r)); err != nil {
			s.handleLoaderFailure(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.collectionResponse(r, key))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !s.allowCollection(w, r, key) {
		return
	}
	sess := sessionFromContext(r.Context())
	if err := s.loader.Refresh(r.Context(), sess.Store, key, forwardedQuery(r)); err != nil {
		s.handleLoaderFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.collectionResponse(r, key))
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !s.allowCollection(w, r, key) {
		return
	}
	var item store.Entity
	if err := decodeJSON(r, &item); err != nil || item == nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := checkEntity(key, item, false); err != nil {
		writeFormError(w, err)
		return
	}
	sess := sessionFromContext(r.Context())
	created, err := s.loader.Create(r.Context(), sess.Store, key, item)
	if err != nil {
		s.handleLoaderFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	key, id := chi.URLParam(r, "key"), chi.URLParam(r, "id")
	if !s.allowCollection(w, r, key) {
		return
	}
	var patch store.Entity
	if err := decodeJSON(r, &patch); err != nil || len(patch) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := checkEntity(key, patch, true); err != nil {
		writeFormError(w, err)
		return
	}
	sess := sessionFromContext(r.Context())
	if err := s.loader.Update(r.Context(), sess.Store, key, id, patch); err != nil {
		s.handleLoaderFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.collectionResponse(r, key))
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	key, id := chi.URLParam(r, "key"), chi.URLParam(r, "id")
	if !s.allowCollection(w, r, key) {
		return
	}
	sess := sessionFromContext(r.Context())
	if err := s.loader.Remove(r.Context(), sess.Store, key, id); err != nil {
		s.handleLoaderFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	key, id := chi.URLParam(r, "key"), chi.URLParam(r, "id")
	if !s.allowCollection(w, r, key) {
		return
	}
	sess := sessionFromContext(r.Context())
	item, err := s.loader.Fetch(r.Context(), sess.Store, key, id)
	if err != nil {
		s.handleLoaderFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleMarkAttendance(w http.ResponseWriter, r *http.Request) {
	if !s.allowCollection(w, r, store.KeyAttendance) {
		return
	}
	var form attendanceForm
	if err := decodeJSON(r, &form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := checkForm(form); err != nil {
		writeFormError(w, err)
		return
	}
	records := make([]store.Entity, 0, len(form.Records))
	for _, rec := range form.Records {
		entity := store.Entity{"studentId": rec.StudentID, "status": rec.Status}
		if rec.CourseID != "" {
			entity["courseId"] = rec.CourseID
		}
		if rec.Date != "" {
			entity["date"] = rec.Date
		}
		records = append(records, entity)
	}
	sess := sessionFromContext(r.Context())
	if err := s.loader.MarkAttendance(r.Context(), sess.Store, records); err != nil {
		s.handleLoaderFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.collectionResponse(r, store.KeyAttendance))
}

func (s *Server) handleJustifyAbsence(w http.ResponseWriter, r *http.Request) {
	if !s.allowCollection(w, r, store.KeyAttendance) {
		return
	}
	var form justifyForm
	if err := decodeJSON(r, &form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	form.Reason = strings.TrimSpace(form.Reason)
	if err := checkForm(form); err != nil {
		writeFormError(w, err)
		return
	}
	sess := sessionFromContext(r.Context())
	j := clients.Justification{Reason: form.Reason, Document: form.Document}
	if err := s.loader.Justify(r.Context(), sess.Store, chi.URLParam(r, "id"), j); err != nil {
		s.handleLoaderFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleClearErrors(w http.ResponseWriter, r *http.Request) {
	s.dispatchAndRender(w, r, sessionFromContext(r.Context()), store.ClearErrors{})
}

// handleLoaderFailure answers for a failed loader call. The loader has already
// recorded the failure in the store.
func (s *Server) handleLoaderFailure(w http.ResponseWriter, err error) {
	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		writeFormError(w, err)
	case errors.Is(err, store.ErrInvalidPayload):
		writeError(w, http.StatusBadGateway, "invalid_api_payload")
	default:
		writeAPIError(w, err)
	}
}

// forwardedQuery passes the request's query string on to the API.
func forwardedQuery(r *http.Request) url.Values {
	query := r.URL.Query()
	if len(query) == 0 {
		return nil
	}
	return query
}
