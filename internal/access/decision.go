package access

import (
	"slices"

	"semaphore/portal/internal/store"
)

type Decision int

const (
	Loading Decision = iota
	Unauthenticated
	Forbidden
	Authorized
)

func (d Decision) String() string {
	switch d {
	case Loading:
		return "loading"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case Authorized:
		return "authorized"
	default:
		return "unknown"
	}
}

func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Session is the identity the guard decides on.
type Session struct {
	Token string
	User  *store.User
}

func SessionOf(state store.State) Session {
	return Session{Token: state.Auth.Token, User: state.Auth.User}
}

func (s Session) Valid() bool {
	return s.Token != "" && s.User != nil
}

// Evaluate decides whether session may enter a view that requires one of
// roles. An empty role set admits any authenticated role; it never makes a
// view public.
func Evaluate(session Session, roles []store.Role, loading bool) Decision {
	if loading {
		return Loading
	}
	if !session.Valid() {
		return Unauthenticated
	}
	if len(roles) > 0 && !slices.Contains(roles, session.User.Role) {
		return Forbidden
	}
	return Authorized
}

// EvaluateState is Evaluate over a store snapshot.
func EvaluateState(state store.State, roles []store.Role) Decision {
	return Evaluate(SessionOf(state), roles, state.Auth.Loading)
}
