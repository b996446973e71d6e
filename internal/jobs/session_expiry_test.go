package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"semaphore/portal/internal/auth"
	"semaphore/portal/internal/session"
	"semaphore/portal/internal/store"
)

type sessionList []*session.Session

func (l sessionList) Each(fn func(*session.Session)) {
	for _, s := range l {
		fn(s)
	}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID:           "u1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
	})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func signedIn(t *testing.T, id, token string) *session.Session {
	t.Helper()
	st := store.New()
	login, err := store.NewLoginSuccess(&store.User{ID: id, Role: store.RoleStudent}, token)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := st.Dispatch(context.Background(), login); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	return &session.Session{ID: id, Store: st}
}

func TestSweepExpiredSessions(t *testing.T) {
	now := time.Now()
	expired := signedIn(t, "expired", signedToken(t, now.Add(-time.Minute)))
	live := signedIn(t, "live", signedToken(t, now.Add(time.Hour)))
	opaque := signedIn(t, "opaque", "not-a-jwt")
	anonymous := &session.Session{ID: "anonymous", Store: store.New()}
	if err := expired.Store.Dispatch(context.Background(), store.SetData{Key: store.KeyCourses, Items: store.Collection{{"id": "c1"}}}); err != nil {
		t.Fatalf("seed data: %v", err)
	}

	inspector := auth.NewInspector(nil, "secret", "")
	count := SweepExpiredSessions(context.Background(), sessionList{expired, live, opaque, anonymous}, inspector, now, zerolog.Nop())
	if count != 1 {
		t.Fatalf("expected 1 expired session, got %d", count)
	}

	state := expired.Store.State()
	if store.IsAuthenticated(state) || state.Auth.Token != "" {
		t.Fatalf("expected expired session to be signed out")
	}
	if _, cached := state.Data.Collections[store.KeyCourses]; cached {
		t.Fatalf("expected cached data to be dropped on expiry")
	}
	if len(state.UI.Notifications) != 1 || state.UI.Notifications[0].Severity != store.SeverityWarning {
		t.Fatalf("expected an expiry warning, got %+v", state.UI.Notifications)
	}
	if !store.IsAuthenticated(live.Store.State()) {
		t.Fatalf("live session signed out")
	}
	if !store.IsAuthenticated(opaque.Store.State()) {
		t.Fatalf("opaque token session signed out")
	}
}

func TestSweepRejectsForgedTokens(t *testing.T) {
	now := time.Now()
	forged := signedIn(t, "forged", signedToken(t, now.Add(time.Hour)))

	inspector := auth.NewInspector(nil, "another-secret", "")
	if count := SweepExpiredSessions(context.Background(), sessionList{forged}, inspector, now, zerolog.Nop()); count != 1 {
		t.Fatalf("expected forged token to be signed out, got %d", count)
	}
}

func TestStartExpirySweepJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := signedIn(t, "soon", signedToken(t, time.Now().Add(20*time.Millisecond)))
	StartExpirySweepJob(ctx, 10*time.Millisecond, time.Second, sessionList{sess}, auth.NewInspector(nil, "", ""), zerolog.Nop())

	deadline := time.Now().Add(2 * time.Second)
	for store.IsAuthenticated(sess.Store.State()) {
		if time.Now().After(deadline) {
			t.Fatalf("session was not expired by the sweep")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
