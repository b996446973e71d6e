package store

import (
	"sync/atomic"
	"time"
)

// Default collection keys present from the first snapshot on.
const (
	KeyCourses   = "courses"
	KeyUsers     = "users"
	KeyDocuments = "documents"
)

// Collection keys fetched on demand.
const (
	KeyAttendance = "attendance"
	KeySchedule   = "schedule"
)

type AuthState struct {
	User    *User
	Token   string
	Loading bool
	Error   string
}

type UIState struct {
	Theme            Theme
	SidebarCollapsed bool
	Notifications    []Notification
}

type DataState struct {
	Collections map[string]Collection
	Loading     map[string]bool
	Errors      map[string]string
	LastUpdated map[string]time.Time
	// Requests holds the latest fetch id issued per key.
	Requests map[string]uint64
}

// Slice names one independently reduced partition of the state tree.
type Slice int

const (
	SliceAuth Slice = iota
	SliceUI
	SliceData
)

func (s Slice) String() string {
	switch s {
	case SliceAuth:
		return "auth"
	case SliceUI:
		return "ui"
	case SliceData:
		return "data"
	default:
		return "unknown"
	}
}

// Versions stamps every slice with the revision it was last changed at.
// Stamps come from one process-wide counter, so two snapshots with the same
// stamp for a slice hold the same slice value, even across stores.
type Versions struct {
	Auth uint64
	UI   uint64
	Data uint64
}

func (v Versions) Of(slice Slice) uint64 {
	switch slice {
	case SliceAuth:
		return v.Auth
	case SliceUI:
		return v.UI
	case SliceData:
		return v.Data
	default:
		return 0
	}
}

var revision atomic.Uint64

func nextRevision() uint64 {
	return revision.Add(1)
}

// State is an immutable snapshot. Values reachable from a published State are
// never written again; reducers copy before they change anything.
type State struct {
	Auth     AuthState
	UI       UIState
	Data     DataState
	Versions Versions
}

// Preferences are the values read back from persistent storage when a store
// is created.
type Preferences struct {
	Token string
	Theme Theme
}

func initialState(prefs Preferences) State {
	theme := prefs.Theme
	if _, ok := ParseTheme(string(theme)); !ok {
		theme = ThemeLight
	}
	return State{
		Auth: AuthState{
			Token: prefs.Token,
			// A rehydrated token has no user yet: the session stays in
			// resolution until the profile is confirmed or rejected.
			Loading: prefs.Token != "",
		},
		UI: UIState{
			Theme:         theme,
			Notifications: []Notification{},
		},
		Data: emptyData(),
		Versions: Versions{
			Auth: nextRevision(),
			UI:   nextRevision(),
			Data: nextRevision(),
		},
	}
}

func emptyData() DataState {
	return DataState{
		Collections: map[string]Collection{
			KeyCourses:   {},
			KeyUsers:     {},
			KeyDocuments: {},
		},
		Loading:     map[string]bool{},
		Errors:      map[string]string{},
		LastUpdated: map[string]time.Time{},
		Requests:    map[string]uint64{},
	}
}
