package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Clock is the time source used to stamp notifications and entities.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// IDGenerator produces notification ids.
type IDGenerator interface {
	NewID() string
}

type uuidGenerator struct{}

func (uuidGenerator) NewID() string { return uuid.NewString() }

// Persister receives the token and theme writes that follow specific actions.
// It is the only side effect a dispatch performs.
type Persister interface {
	SaveToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
	SaveTheme(ctx context.Context, theme Theme) error
}

// UnknownPolicy decides what Dispatch does with an action no slice handles.
type UnknownPolicy int

const (
	// UnknownIgnore leaves the state untouched and reports success.
	UnknownIgnore UnknownPolicy = iota
	// UnknownReject leaves the state untouched and returns ErrUnknownAction.
	UnknownReject
)

type DispatchFunc func(ctx context.Context, a Action) error

// API is the view of the store handed to middleware.
type API interface {
	State() State
}

type Middleware func(api API) func(next DispatchFunc) DispatchFunc

type Option func(*Store)

func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

func WithClock(c Clock) Option {
	return func(s *Store) { s.clock = c }
}

func WithIDs(ids IDGenerator) Option {
	return func(s *Store) { s.ids = ids }
}

// WithMiddleware appends middleware; the first one given is the outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(s *Store) { s.middleware = append(s.middleware, mw...) }
}

func WithUnknownPolicy(p UnknownPolicy) Option {
	return func(s *Store) { s.unknown = p }
}

// WithPreferences seeds the initial token and theme, as read back from
// persistent storage.
func WithPreferences(p Preferences) Option {
	return func(s *Store) { s.prefs = p }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

type listener struct {
	id uint64
	fn func(State)
}

type Store struct {
	persister  Persister
	clock      Clock
	ids        IDGenerator
	middleware []Middleware
	unknown    UnknownPolicy
	prefs      Preferences
	logger     zerolog.Logger

	state    atomic.Pointer[State]
	dispatch DispatchFunc

	mu sync.Mutex // serialises dispatches end to end

	subMu     sync.Mutex
	listeners []listener
	nextSub   uint64
}

func New(opts ...Option) *Store {
	s := &Store{
		clock:  SystemClock{},
		ids:    uuidGenerator{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	initial := initialState(s.prefs)
	s.state.Store(&initial)

	next := s.reduce
	for i := len(s.middleware) - 1; i >= 0; i-- {
		next = s.middleware[i](s)(next)
	}
	s.dispatch = next
	return s
}

func (s *Store) State() State {
	return *s.state.Load()
}

// Dispatch runs a through the middleware chain and the reducers, then notifies
// subscribers. Dispatches are serialised: a call waits for the previous one,
// including its listeners, to finish. Listeners must not dispatch
// synchronously on the same store.
func (s *Store) Dispatch(ctx context.Context, a Action) error {
	if a == nil {
		return fmt.Errorf("%w: nil action", ErrInvalidPayload)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatch(ctx, a)
}

// BeginFetch records a new fetch for key and returns its request id. A SetData
// carrying an older id for the same key is dropped.
func (s *Store) BeginFetch(ctx context.Context, key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.dispatch(ctx, FetchStarted{Key: key})
	return s.State().Data.Requests[key]
}

// Subscribe registers fn to run after every dispatch that changed the state.
// The returned function removes it and may be called more than once.
func (s *Store) Subscribe(fn func(State)) func() {
	s.subMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) reduce(ctx context.Context, a Action) error {
	if g, ok := a.(IfToken); ok {
		if g.Action == nil || s.State().Auth.Token != g.Token {
			s.logger.Debug().Str("action", g.Type()).Msg("token changed, action dropped")
			return nil
		}
		a = g.Action
	}
	if _, ok := a.(Unrecognized); ok {
		if s.unknown == UnknownReject {
			return fmt.Errorf("%w: %s", ErrUnknownAction, a.Type())
		}
		s.logger.Debug().Str("action", a.Type()).Msg("unknown action ignored")
		return nil
	}

	prev := s.State()
	e := env{now: s.clock.Now(), ids: s.ids}
	next := prev

	var changed bool
	next.Auth, changed = runSlice(s.logger, SliceAuth, prev.Auth, a, e, reduceAuth)
	if changed {
		next.Versions.Auth = nextRevision()
	}
	next.UI, changed = runSlice(s.logger, SliceUI, prev.UI, a, e, reduceUI)
	if changed {
		next.Versions.UI = nextRevision()
	}
	next.Data, changed = runSlice(s.logger, SliceData, prev.Data, a, e, reduceData)
	if changed {
		next.Versions.Data = nextRevision()
	}

	if next.Versions == prev.Versions {
		return nil
	}
	s.state.Store(&next)
	s.persist(ctx, prev, next, a)
	s.notify(next)
	return nil
}

// runSlice applies one slice reducer. A reducer that fails or panics leaves the
// slice at its previous value.
func runSlice[T any](logger zerolog.Logger, slice Slice, prev T, a Action, e env, reducer func(T, Action, env) (T, bool, error)) (next T, changed bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("slice", slice.String()).
				Str("action", a.Type()).
				Interface("panic", r).
				Msg("reducer panicked")
			next, changed = prev, false
		}
	}()
	out, changed, err := reducer(prev, a, e)
	if err != nil {
		event := logger.Error()
		if errors.Is(err, ErrStaleFetch) {
			event = logger.Debug()
		}
		event.Err(err).Str("slice", slice.String()).Str("action", a.Type()).Msg("reducer rejected action")
		return prev, false
	}
	if !changed {
		return prev, false
	}
	return out, true
}

func (s *Store) persist(ctx context.Context, prev, next State, a Action) {
	if s.persister == nil {
		return
	}
	var err error
	switch a.(type) {
	case LoginSuccess:
		if next.Versions.Auth != prev.Versions.Auth {
			err = s.persister.SaveToken(ctx, next.Auth.Token)
		}
	case Logout:
		if next.Versions.Auth != prev.Versions.Auth {
			err = s.persister.ClearToken(ctx)
		}
	case ToggleTheme:
		if next.Versions.UI != prev.Versions.UI {
			err = s.persister.SaveTheme(ctx, next.UI.Theme)
		}
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("action", a.Type()).Msg("persist preferences")
	}
}

func (s *Store) notify(state State) {
	s.subMu.Lock()
	listeners := append([]listener(nil), s.listeners...)
	s.subMu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error().Interface("panic", r).Msg("store listener panicked")
				}
			}()
			l.fn(state)
		}()
	}
}
