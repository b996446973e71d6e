package store

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var (
	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_store_dispatch_total",
			Help: "Total number of store dispatches",
		},
		[]string{"action", "outcome"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_store_dispatch_duration_seconds",
			Help:    "Store dispatch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
		[]string{"action"},
	)
)

func init() {
	prometheus.MustRegister(dispatchTotal)
	prometheus.MustRegister(dispatchDuration)
}

// LoggingMiddleware logs every dispatch with the state before and after it.
// The token is masked in the logged snapshots.
func LoggingMiddleware(logger zerolog.Logger) Middleware {
	return func(api API) func(next DispatchFunc) DispatchFunc {
		return func(next DispatchFunc) DispatchFunc {
			return func(ctx context.Context, a Action) error {
				start := time.Now()
				before := api.State()
				err := next(ctx, a)
				after := api.State()

				logger.Debug().
					Str("action", a.Type()).
					Dict("prev", summarize(before)).
					Dict("next", summarize(after)).
					Dur("elapsed", time.Since(start)).
					AnErr("error", err).
					Msg("dispatch")
				return err
			}
		}
	}
}

// MetricsMiddleware counts dispatches per action type and outcome.
func MetricsMiddleware() Middleware {
	return func(api API) func(next DispatchFunc) DispatchFunc {
		return func(next DispatchFunc) DispatchFunc {
			return func(ctx context.Context, a Action) error {
				start := time.Now()
				before := api.State().Versions
				err := next(ctx, a)

				label := a.Type()
				inner := a
				if g, ok := a.(IfToken); ok {
					inner = g.Action
				}
				if _, ok := inner.(Unrecognized); ok {
					// Free-form wire types would blow up label cardinality.
					label = "unknown"
				}
				outcome := "unchanged"
				switch {
				case errors.Is(err, ErrUnknownAction):
					outcome = "rejected"
				case err != nil:
					outcome = "error"
				case api.State().Versions != before:
					outcome = "changed"
				}
				dispatchTotal.WithLabelValues(label, outcome).Inc()
				dispatchDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
				return err
			}
		}
	}
}

func summarize(s State) *zerolog.Event {
	token := ""
	if s.Auth.Token != "" {
		token = "***"
	}
	user := ""
	role := ""
	if s.Auth.User != nil {
		user = s.Auth.User.ID
		role = string(s.Auth.User.Role)
	}
	collections := zerolog.Dict()
	for key, items := range s.Data.Collections {
		collections.Int(key, len(items))
	}
	return zerolog.Dict().
		Dict("auth", zerolog.Dict().
			Str("user", user).
			Str("role", role).
			Str("token", token).
			Bool("loading", s.Auth.Loading).
			Str("error", s.Auth.Error)).
		Dict("ui", zerolog.Dict().
			Str("theme", string(s.UI.Theme)).
			Bool("sidebarCollapsed", s.UI.SidebarCollapsed).
			Int("notifications", len(s.UI.Notifications))).
		Dict("data", zerolog.Dict().
			Dict("collections", collections).
			Int("loading", countTrue(s.Data.Loading)).
			Int("errors", len(s.Data.Errors))).
		Dict("versions", zerolog.Dict().
			Uint64("auth", s.Versions.Auth).
			Uint64("ui", s.Versions.UI).
			Uint64("data", s.Versions.Data))
}

func countTrue(m map[string]bool) int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}
