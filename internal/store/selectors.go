package store

import (
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

func CurrentUser(s State) *User {
	if s.Auth.User == nil {
		return nil
	}
	u := *s.Auth.User
	return &u
}

func Token(s State) string { return s.Auth.Token }

// IsAuthenticated reports whether the session holds both a token and the user
// it belongs to. A rehydrated token whose profile is not resolved yet does not
// count.
func IsAuthenticated(s State) bool {
	return s.Auth.Token != "" && s.Auth.User != nil
}

func AuthLoading(s State) bool { return s.Auth.Loading }

func AuthError(s State) string { return s.Auth.Error }

func CurrentTheme(s State) Theme { return s.UI.Theme }

func SidebarCollapsed(s State) bool { return s.UI.SidebarCollapsed }

func DataLoading(s State, key string) bool { return s.Data.Loading[key] }

func DataError(s State, key string) string { return s.Data.Errors[key] }

func LastUpdated(s State, key string) (time.Time, bool) {
	t, ok := s.Data.LastUpdated[key]
	return t, ok
}

// Selector memoises a projection of one slice. The cached value is reused for
// as long as the slice keeps the version it was computed from.
type Selector[T any] struct {
	slice   Slice
	compute func(State) T

	mu      sync.Mutex
	valid   bool
	version uint64
	value   T
}

func NewSelector[T any](slice Slice, compute func(State) T) *Selector[T] {
	return &Selector[T]{slice: slice, compute: compute}
}

func (s *Selector[T]) Select(state State) T {
	version := state.Versions.Of(s.slice)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.valid && s.version == version {
		return s.value
	}
	s.value = s.compute(state)
	s.version = version
	s.valid = true
	return s.value
}

type keyedEntry[T any] struct {
	version uint64
	value   T
}

// KeyedSelector memoises a projection per argument. Entries live in a bounded
// LRU cache and are tagged with the slice version they were computed from.
type KeyedSelector[K comparable, T any] struct {
	slice   Slice
	compute func(State, K) T
	cache   *lru.Cache[K, keyedEntry[T]]
	mu      sync.Mutex
}

func NewKeyedSelector[K comparable, T any](slice Slice, size int, compute func(State, K) T) *KeyedSelector[K, T] {
	if size <= 0 {
		size = 64
	}
	cache, err := lru.New[K, keyedEntry[T]](size)
	if err != nil {
		panic(err)
	}
	return &KeyedSelector[K, T]{slice: slice, compute: compute, cache: cache}
}

func (s *KeyedSelector[K, T]) Select(state State, key K) T {
	version := state.Versions.Of(s.slice)
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.cache.Get(key); ok && entry.version == version {
		return entry.value
	}
	value := s.compute(state, key)
	s.cache.Add(key, keyedEntry[T]{version: version, value: value})
	return value
}

// Selectors bundles the memoised selectors of one consumer. Each consumer
// should hold its own set so callers do not evict each other's entries.
type Selectors struct {
	Notifications *Selector[[]Notification]
	Collection    *KeyedSelector[string, Collection]
}

func NewSelectors(cacheSize int) *Selectors {
	return &Selectors{
		Notifications: NewSelector(SliceUI, func(s State) []Notification {
			out := slices.Clone(s.UI.Notifications)
			if out == nil {
				out = []Notification{}
			}
			return out
		}),
		Collection: NewKeyedSelector(SliceData, cacheSize, func(s State, key string) Collection {
			items, ok := s.Data.Collections[key]
			if !ok {
				return nil
			}
			return slices.Clone(items)
		}),
	}
}
