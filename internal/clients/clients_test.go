package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semaphore/portal/internal/store"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/api", 2*time.Second)
	require.NoError(t, err)
	return c
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New("/api", time.Second)
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/auth/login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		var creds Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "ada@example.com", creds.Email)
		_, _ = w.Write([]byte(`{"user":{"id":"u1","name":"Ada","role":"student"},"token":"tok"}`))
	})

	session, err := c.Login(context.Background(), Credentials{Email: "ada@example.com", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "tok", session.Token)
	assert.Equal(t, store.RoleStudent, session.User.Role)
}

func TestCollectionSendsTokenAndParams(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/courses", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		_, _ = w.Write([]byte(`[{"id":1,"title":"Math"},{"id":"c2","title":"Physics"}]`))
	})

	items, err := c.Collection(context.Background(), "tok", store.KeyCourses, url.Values{"page": {"2"}})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "1", items[0].ID())
	assert.Equal(t, "c2", items[1].ID())
}

func TestCollectionAcceptsEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"s1"}],"total":1}`))
	})

	items, err := c.Collection(context.Background(), "tok", store.KeySchedule, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "s1", items[0].ID())
}

func TestUnauthorizedMapsToSentinel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Profile(context.Background(), "expired")
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"course_exists","message":"code already used"}`))
	})

	_, err := c.Create(context.Background(), "tok", store.KeyCourses, store.Entity{"code": "MAT101"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "course_exists", apiErr.Code)
	assert.Equal(t, "code already used", apiErr.Message)
}

func TestAPIErrorWithoutBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := c.Delete(context.Background(), "tok", store.KeyCourses, "c1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "internal_server_error", apiErr.Code)
}

func TestMutations(t *testing.T) {
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		switch r.Method {
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			_, _ = w.Write([]byte(`{"id":"x"}`))
		}
	})
	ctx := context.Background()

	_, err := c.Create(ctx, "tok", store.KeyDocuments, store.Entity{"name": "n"})
	require.NoError(t, err)
	_, err = c.Update(ctx, "tok", store.KeyCourses, "c 1", store.Entity{"title": "t"})
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, "tok", store.KeyDocuments, "d1"))
	require.NoError(t, c.MarkAttendance(ctx, "tok", []store.Entity{{"studentId": "s1", "present": true}}))
	require.NoError(t, c.JustifyAbsence(ctx, "tok", "a1", Justification{Reason: "sick"}))
	require.NoError(t, c.UpdatePreferences(ctx, "tok", Preferences{Theme: store.ThemeDark}))
	item, err := c.Item(ctx, "tok", store.KeyCourses, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", item.ID())

	assert.Equal(t, []string{
		"POST /api/documents/upload",
		"PATCH /api/courses/c 1",
		"DELETE /api/documents/d1",
		"POST /api/attendance/bulk",
		"POST /api/attendance/a1/justify",
		"PATCH /api/users/preferences",
		"GET /api/courses/x",
	}, seen)
}

func TestUnknownResource(t *testing.T) {
	c, err := New("http://api.invalid", time.Second)
	require.NoError(t, err)

	_, err = c.Collection(context.Background(), "tok", "grades", nil)
	assert.ErrorIs(t, err, ErrUnknownResource)
}
