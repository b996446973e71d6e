package loader

import (
	"context"
	"net/url"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semaphore/portal/internal/clients"
	"semaphore/portal/internal/store"
)

const (
	timeout = time.Second
	tick    = 5 * time.Millisecond
)

type fakeAPI struct {
	mu      sync.Mutex
	items   store.Collection
	err     error
	calls   []string
	created store.Entity
	// gate, when set, blocks Collection until it is closed.
	gate chan struct{}
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeAPI) Collection(_ context.Context, token, key string, _ url.Values) (store.Collection, error) {
	f.record("list " + key + " " + token)
	if f.gate != nil {
		<-f.gate
	}
	return f.items, f.err
}

func (f *fakeAPI) Create(_ context.Context, _, key string, item store.Entity) (store.Entity, error) {
	f.record("create " + key)
	if f.err != nil {
		return nil, f.err
	}
	if f.created != nil {
		return f.created, nil
	}
	return item, nil
}

func (f *fakeAPI) Update(_ context.Context, _, key, id string, _ store.Entity) (store.Entity, error) {
	f.record("update " + key + "/" + id)
	return nil, f.err
}

func (f *fakeAPI) Delete(_ context.Context, _, key, id string) error {
	f.record("delete " + key + "/" + id)
	return f.err
}

func (f *fakeAPI) Item(_ context.Context, _, key, id string) (store.Entity, error) {
	f.record("get " + key + "/" + id)
	if f.err != nil {
		return nil, f.err
	}
	for _, item := range f.items {
		if item.ID() == id {
			return item, nil
		}
	}
	return store.Entity{"title": "fresh"}, nil
}

func (f *fakeAPI) MarkAttendance(_ context.Context, _ string, records []store.Entity) error {
	f.record("mark attendance")
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.items = append(slices.Clone(f.items), records...)
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) JustifyAbsence(_ context.Context, _, id string, _ clients.Justification) error {
	f.record("justify " + id)
	return f.err
}

func loggedIn(t *testing.T) *store.Store {
	t.Helper()
	st := store.New()
	login, err := store.NewLoginSuccess(&store.User{ID: "u1", Role: store.RoleProfessor}, "tok")
	require.NoError(t, err)
	require.NoError(t, st.Dispatch(context.Background(), login))
	return st
}

func TestRefresh(t *testing.T) {
	api := &fakeAPI{items: store.Collection{{"id": "c1"}, {"id": "c2"}}}
	l := New(api, zerolog.Nop())
	st := loggedIn(t)

	require.NoError(t, l.Refresh(context.Background(), st, store.KeyCourses, nil))

	state := st.State()
	assert.Len(t, state.Data.Collections[store.KeyCourses], 2)
	assert.False(t, store.DataLoading(state, store.KeyCourses))
	assert.Empty(t, store.DataError(state, store.KeyCourses))
	assert.Equal(t, []string{"list courses tok"}, api.calls)
}

func TestRefreshRecordsError(t *testing.T) {
	api := &fakeAPI{err: &clients.APIError{Status: 500, Code: "internal_server_error"}}
	l := New(api, zerolog.Nop())
	st := loggedIn(t)

	err := l.Refresh(context.Background(), st, store.KeyCourses, nil)
	require.Error(t, err)

	state := st.State()
	assert.Equal(t, "internal_server_error", store.DataError(state, store.KeyCourses))
	assert.False(t, store.DataLoading(state, store.KeyCourses))
	assert.True(t, store.IsAuthenticated(state))
}

func TestUnauthorizedLogsOut(t *testing.T) {
	api := &fakeAPI{err: clients.ErrUnauthorized}
	l := New(api, zerolog.Nop())
	st := loggedIn(t)

	err := l.Refresh(context.Background(), st, store.KeyUsers, nil)
	assert.ErrorIs(t, err, clients.ErrUnauthorized)
	assert.False(t, store.IsAuthenticated(st.State()))
	assert.Empty(t, st.State().Auth.Token)
}

func TestRefreshWithoutSession(t *testing.T) {
	api := &fakeAPI{}
	l := New(api, zerolog.Nop())

	err := l.Refresh(context.Background(), store.New(), store.KeyCourses, nil)
	assert.ErrorIs(t, err, clients.ErrUnauthorized)
	assert.Empty(t, api.calls)
}

func TestOverlappingRefreshKeepsNewest(t *testing.T) {
	slow := &fakeAPI{items: store.Collection{{"id": "old"}}, gate: make(chan struct{})}
	fast := &fakeAPI{items: store.Collection{{"id": "new"}}}
	st := loggedIn(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- New(slow, zerolog.Nop()).Refresh(ctx, st, store.KeyCourses, nil) }()

	// Wait for the slow fetch to be in flight before the fast one starts.
	require.Eventually(t, func() bool {
		slow.mu.Lock()
		defer slow.mu.Unlock()
		return len(slow.calls) == 1
	}, timeout, tick)

	require.NoError(t, New(fast, zerolog.Nop()).Refresh(ctx, st, store.KeyCourses, nil))
	close(slow.gate)
	require.NoError(t, <-done)

	courses := st.State().Data.Collections[store.KeyCourses]
	require.Len(t, courses, 1)
	assert.Equal(t, "new", courses[0].ID())
}

func TestMutations(t *testing.T) {
	api := &fakeAPI{items: store.Collection{{"id": "c1", "title": "Math"}}}
	l := New(api, zerolog.Nop())
	st := loggedIn(t)
	ctx := context.Background()
	require.NoError(t, l.Refresh(ctx, st, store.KeyCourses, nil))

	api.created = store.Entity{"id": "c9", "title": "Chemistry"}
	created, err := l.Create(ctx, st, store.KeyCourses, store.Entity{"title": "Chemistry"})
	require.NoError(t, err)
	assert.Equal(t, "c9", created.ID())

	require.NoError(t, l.Update(ctx, st, store.KeyCourses, "c1", store.Entity{"title": "Algebra"}))
	require.NoError(t, l.Remove(ctx, st, store.KeyCourses, "c9"))

	courses := st.State().Data.Collections[store.KeyCourses]
	require.Len(t, courses, 1)
	assert.Equal(t, "Algebra", courses[0]["title"])
	assert.Equal(t, []string{"list courses tok", "create courses", "update courses/c1", "delete courses/c9"}, api.calls)
}

func TestFetchMergesIntoLoadedCollection(t *testing.T) {
	api := &fakeAPI{items: store.Collection{{"id": "c1", "title": "Math"}}}
	l := New(api, zerolog.Nop())
	st := loggedIn(t)
	ctx := context.Background()

	// Unloaded collection: the item is returned but nothing is cached.
	item, err := l.Fetch(ctx, st, store.KeyCourses, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Math", item["title"])
	_, loaded := st.State().Data.Collections[store.KeyCourses]
	assert.False(t, loaded)

	require.NoError(t, l.Refresh(ctx, st, store.KeyCourses, nil))
	api.mu.Lock()
	api.items = store.Collection{{"id": "c1", "title": "Algebra"}}
	api.mu.Unlock()

	_, err = l.Fetch(ctx, st, store.KeyCourses, "c1")
	require.NoError(t, err)
	item, err = l.Fetch(ctx, st, store.KeyCourses, "c2")
	require.NoError(t, err)
	assert.Equal(t, "c2", item.ID())

	courses := st.State().Data.Collections[store.KeyCourses]
	require.Len(t, courses, 2)
	assert.Equal(t, "Algebra", courses[0]["title"])
	assert.Equal(t, "fresh", courses[1]["title"])
}

func TestFetchFailureRecordsError(t *testing.T) {
	api := &fakeAPI{err: &clients.APIError{Status: 404, Code: "not_found"}}
	l := New(api, zerolog.Nop())
	st := loggedIn(t)

	_, err := l.Fetch(context.Background(), st, store.KeyCourses, "missing")
	require.Error(t, err)
	assert.Equal(t, "not_found", store.DataError(st.State(), store.KeyCourses))
}

func TestMarkAttendanceReloads(t *testing.T) {
	api := &fakeAPI{}
	l := New(api, zerolog.Nop())
	st := loggedIn(t)

	records := []store.Entity{
		{"id": "a1", "studentId": "s1", "status": "PRESENT"},
		{"id": "a2", "studentId": "s2", "status": "ABSENT"},
	}
	require.NoError(t, l.MarkAttendance(context.Background(), st, records))

	assert.Len(t, st.State().Data.Collections[store.KeyAttendance], 2)
	assert.Equal(t, []string{"mark attendance", "list attendance tok"}, api.calls)
}

func TestMarkAttendanceFailureSkipsReload(t *testing.T) {
	api := &fakeAPI{err: &clients.APIError{Status: 422, Code: "invalid"}}
	l := New(api, zerolog.Nop())
	st := loggedIn(t)

	require.Error(t, l.MarkAttendance(context.Background(), st, []store.Entity{{"studentId": "s1"}}))
	assert.Equal(t, []string{"mark attendance"}, api.calls)
	assert.Equal(t, "invalid", store.DataError(st.State(), store.KeyAttendance))
}

func TestJustifyMarksRecordPending(t *testing.T) {
	api := &fakeAPI{items: store.Collection{{"id": "a1", "status": "ABSENT"}}}
	l := New(api, zerolog.Nop())
	st := loggedIn(t)
	ctx := context.Background()

	// Nothing cached yet: the call goes through without touching the store.
	require.NoError(t, l.Justify(ctx, st, "a1", clients.Justification{Reason: "sick"}))
	_, loaded := st.State().Data.Collections[store.KeyAttendance]
	assert.False(t, loaded)

	require.NoError(t, l.Refresh(ctx, st, store.KeyAttendance, nil))
	require.NoError(t, l.Justify(ctx, st, "a1", clients.Justification{Reason: "sick"}))

	record := st.State().Data.Collections[store.KeyAttendance][0]
	assert.Equal(t, map[string]any{"status": "PENDING", "reason": "sick"}, record["justification"])
	assert.Equal(t, "ABSENT", record["status"])
}
