package loader

import (
	"context"
	"errors"
	"maps"
	"net/url"

	"github.com/rs/zerolog"

	"semaphore/portal/internal/clients"
	"semaphore/portal/internal/store"
)

// API is the part of the REST client the loader drives.
type API interface {
	Collection(ctx context.Context, token, key string, params url.Values) (store.Collection, error)
	Create(ctx context.Context, token, key string, item store.Entity) (store.Entity, error)
	Update(ctx context.Context, token, key, id string, patch store.Entity) (store.Entity, error)
	Delete(ctx context.Context, token, key, id string) error
	Item(ctx context.Context, token, key, id string) (store.Entity, error)
	MarkAttendance(ctx context.Context, token string, records []store.Entity) error
	JustifyAbsence(ctx context.Context, token, id string, j clients.Justification) error
}

// Loader runs REST calls for a session and feeds their results back into its
// store as plain actions. The store never sees the network.
type Loader struct {
	api    API
	logger zerolog.Logger
}

func New(api API, logger zerolog.Logger) *Loader {
	return &Loader{api: api, logger: logger}
}

// Refresh refetches one collection. Only the newest of overlapping refreshes
// for the same key lands in the store.
func (l *Loader) Refresh(ctx context.Context, st *store.Store, key string, params url.Values) error {
	token := st.State().Auth.Token
	if token == "" {
		return clients.ErrUnauthorized
	}
	requestID := st.BeginFetch(ctx, key)
	l.dispatch(ctx, st, store.SetLoading{Key: key, Loading: true})
	defer l.dispatch(ctx, st, store.SetLoading{Key: key, Loading: false})

	items, err := l.api.Collection(ctx, token, key, params)
	if err != nil {
		return l.fail(ctx, st, key, err)
	}
	set, err := store.NewSetData(key, items, requestID)
	if err != nil {
		return err
	}
	l.dispatch(ctx, st, set)
	l.dispatch(ctx, st, store.SetError{Key: key, Error: ""})
	return nil
}

// Create posts item and appends what the API returned.
func (l *Loader) Create(ctx context.Context, st *store.Store, key string, item store.Entity) (store.Entity, error) {
	token := st.State().Auth.Token
	if token == "" {
		return nil, clients.ErrUnauthorized
	}
	created, err := l.api.Create(ctx, token, key, item)
	if err != nil {
		return nil, l.fail(ctx, st, key, err)
	}
	if created.ID() == "" {
		// Some endpoints answer with an empty body; keep what was sent.
		created = item
	}
	add, err := store.NewAddItem(key, created)
	if err != nil {
		return nil, err
	}
	l.dispatch(ctx, st, add)
	return created, nil
}

func (l *Loader) Update(ctx context.Context, st *store.Store, key, id string, patch store.Entity) error {
	token := st.State().Auth.Token
	if token == "" {
		return clients.ErrUnauthorized
	}
	if _, err := l.api.Update(ctx, token, key, id, patch); err != nil {
		return l.fail(ctx, st, key, err)
	}
	update, err := store.NewUpdateItem(key, id, patch)
	if err != nil {
		return err
	}
	l.dispatch(ctx, st, update)
	return nil
}

func (l *Loader) Remove(ctx context.Context, st *store.Store, key, id string) error {
	token := st.State().Auth.Token
	if token == "" {
		return clients.ErrUnauthorized
	}
	if err := l.api.Delete(ctx, token, key, id); err != nil {
		return l.fail(ctx, st, key, err)
	}
	remove, err := store.NewRemoveItem(key, id)
	if err != nil {
		return err
	}
	l.dispatch(ctx, st, remove)
	return nil
}

// Fetch loads one entity. It is merged into the cached collection when that
// collection has been loaded; an unloaded collection stays unloaded.
func (l *Loader) Fetch(ctx context.Context, st *store.Store, key, id string) (store.Entity, error) {
	token := st.State().Auth.Token
	if token == "" {
		return nil, clients.ErrUnauthorized
	}
	item, err := l.api.Item(ctx, token, key, id)
	if err != nil {
		return nil, l.fail(ctx, st, key, err)
	}
	if item.ID() == "" {
		item = maps.Clone(item)
		if item == nil {
			item = store.Entity{}
		}
		item["id"] = id
	}

	cached, loaded := st.State().Data.Collections[key]
	if !loaded {
		return item, nil
	}
	var a store.Action
	if cached.Index(id) >= 0 {
		a, err = store.NewUpdateItem(key, id, item)
	} else {
		a, err = store.NewAddItem(key, item)
	}
	if err != nil {
		return nil, err
	}
	l.dispatch(ctx, st, store.IfToken{Token: token, Action: a})
	return item, nil
}

// MarkAttendance posts a batch of records and reloads the attendance list.
func (l *Loader) MarkAttendance(ctx context.Context, st *store.Store, records []store.Entity) error {
	token := st.State().Auth.Token
	if token == "" {
		return clients.ErrUnauthorized
	}
	if err := l.api.MarkAttendance(ctx, token, records); err != nil {
		return l.fail(ctx, st, store.KeyAttendance, err)
	}
	return l.Refresh(ctx, st, store.KeyAttendance, nil)
}

// Justify submits a justification for an absence. The cached record, if
// any, is marked pending until the next refresh.
func (l *Loader) Justify(ctx context.Context, st *store.Store, id string, j clients.Justification) error {
	token := st.State().Auth.Token
	if token == "" {
		return clients.ErrUnauthorized
	}
	if err := l.api.JustifyAbsence(ctx, token, id, j); err != nil {
		return l.fail(ctx, st, store.KeyAttendance, err)
	}
	if st.State().Data.Collections[store.KeyAttendance].Index(id) < 0 {
		return nil
	}
	update, err := store.NewUpdateItem(store.KeyAttendance, id, store.Entity{
		"justification": map[string]any{"status": "PENDING", "reason": j.Reason},
	})
	if err != nil {
		return err
	}
	l.dispatch(ctx, st, store.IfToken{Token: token, Action: update})
	return nil
}

// fail records err against key. A 401 ends the session instead.
func (l *Loader) fail(ctx context.Context, st *store.Store, key string, err error) error {
	if errors.Is(err, clients.ErrUnauthorized) {
		l.logger.Info().Str("key", key).Msg("api rejected token, logging out")
		l.dispatch(ctx, st, store.Logout{})
		return err
	}
	if errors.Is(err, clients.ErrUnknownResource) {
		return err
	}
	l.logger.Warn().Err(err).Str("key", key).Msg("api call failed")
	l.dispatch(ctx, st, store.SetError{Key: key, Error: errorMessage(err)})
	return err
}

func errorMessage(err error) string {
	var apiErr *clients.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return apiErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "unavailable"
}

func (l *Loader) dispatch(ctx context.Context, st *store.Store, a store.Action) {
	if err := st.Dispatch(ctx, a); err != nil {
		l.logger.Error().Err(err).Str("action", a.Type()).Msg("dispatch")
	}
}
