package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"semaphore/portal/internal/auth"
	"semaphore/portal/internal/session"
	"semaphore/portal/internal/store"
)

const expiredMessage = "Votre session a expiré, veuillez vous reconnecter."

var sessionsExpired = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "portal_sessions_expired_total",
	Help: "Sessions signed out by the expiry sweep",
})

func init() {
	prometheus.MustRegister(sessionsExpired)
}

// Sessions is the part of the registry the sweep walks.
type Sessions interface {
	Each(fn func(*session.Session))
}

// SweepExpiredSessions signs out every session whose token has expired at now
// and returns how many it signed out. Tokens that cannot be read as JWTs are
// left to the API to reject.
func SweepExpiredSessions(ctx context.Context, sessions Sessions, inspector *auth.Inspector, now time.Time, logger zerolog.Logger) int {
	expired := 0
	sessions.Each(func(sess *session.Session) {
		token := sess.Store.State().Auth.Token
		if token == "" {
			return
		}
		isExpired, err := inspector.Expired(token, now)
		if err != nil && !isExpired {
			if !errors.Is(err, auth.ErrNoExpiry) {
				logger.Debug().Err(err).Str("session", sess.ID).Msg("token not inspectable")
			}
			return
		}
		if !isExpired {
			return
		}
		if err := sess.Store.Dispatch(ctx, store.IfToken{Token: token, Action: store.Logout{}}); err != nil {
			logger.Error().Err(err).Str("session", sess.ID).Msg("expire session")
			return
		}
		if sess.Store.State().Auth.Token != "" {
			// Signed in again since the token was read.
			return
		}
		_ = sess.Store.Dispatch(ctx, store.ResetData{})
		if note, err := store.NewAddNotification(expiredMessage, store.SeverityWarning); err == nil {
			_ = sess.Store.Dispatch(ctx, note)
		}
		expired++
	})
	sessionsExpired.Add(float64(expired))
	return expired
}

func StartExpirySweepJob(ctx context.Context, interval, timeout time.Duration, sessions Sessions, inspector *auth.Inspector, logger zerolog.Logger) {
	if inspector == nil {
		logger.Info().Msg("session expiry sweep disabled: no token inspector")
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				count := SweepExpiredSessions(tickCtx, sessions, inspector, time.Now(), logger)
				cancel()
				if count > 0 {
					logger.Info().Int("expired", count).Msg("session expiry sweep")
				}
			}
		}
	}()
}
