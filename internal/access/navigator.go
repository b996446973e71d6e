package access

import (
	"sync"

	"semaphore/portal/internal/store"
)

// Subscriber is the part of the store a Navigator needs.
type Subscriber interface {
	StateSource
	Subscribe(fn func(store.State)) func()
}

// Transition reports a change of the decision for the current location.
type Transition struct {
	Location string
	From     Decision
	To       Decision
	// Redirect is set when the new decision sends the user elsewhere.
	Redirect string
}

// Navigator follows one session's current location and re-evaluates it
// whenever the auth slice changes, so a logout or an expired token takes the
// session out of a protected view without waiting for the next navigation.
type Navigator struct {
	policy *Policy
	source Subscriber

	mu        sync.Mutex
	location  string
	rule      Rule
	tracked   bool
	decision  Decision
	authRev   uint64
	observers []func(Transition)

	unsubscribe func()
}

func NewNavigator(policy *Policy, source Subscriber) *Navigator {
	n := &Navigator{policy: policy, source: source}
	n.authRev = source.State().Versions.Auth
	n.unsubscribe = source.Subscribe(n.onState)
	return n
}

// Navigate records path as the current location and returns the decision for
// it. Public and unknown paths are not tracked.
func (n *Navigator) Navigate(path string) (Decision, error) {
	if n.policy.IsPublic(path) {
		n.mu.Lock()
		n.location, n.tracked, n.decision = cleanPath(path), false, Authorized
		n.mu.Unlock()
		return Authorized, nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	state := n.source.State()
	decision, rule, err := n.policy.Check(path, state)
	if err != nil {
		return decision, err
	}
	n.location = cleanPath(path)
	n.rule = rule
	n.tracked = true
	n.decision = decision
	n.authRev = state.Versions.Auth
	return decision, nil
}

func (n *Navigator) Current() (string, Decision) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.location, n.decision
}

// OnTransition registers fn to run when the decision for the current location
// changes because of a session change.
func (n *Navigator) OnTransition(fn func(Transition)) {
	n.mu.Lock()
	n.observers = append(n.observers, fn)
	n.mu.Unlock()
}

func (n *Navigator) Close() {
	if n.unsubscribe != nil {
		n.unsubscribe()
	}
}

func (n *Navigator) onState(state store.State) {
	n.mu.Lock()
	if state.Versions.Auth == n.authRev {
		n.mu.Unlock()
		return
	}
	n.authRev = state.Versions.Auth
	if !n.tracked {
		n.mu.Unlock()
		return
	}
	next := EvaluateState(state, n.rule.Roles)
	if next == n.decision {
		n.mu.Unlock()
		return
	}
	t := Transition{Location: n.location, From: n.decision, To: next}
	if next == Unauthenticated {
		t.Redirect = n.policy.LoginURL(n.location)
	}
	n.decision = next
	observers := append([]func(Transition){}, n.observers...)
	n.mu.Unlock()

	for _, fn := range observers {
		fn(t)
	}
}
