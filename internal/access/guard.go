package access

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"semaphore/portal/internal/store"
)

// StateSource is anything holding a live session snapshot, usually a
// *store.Store.
type StateSource interface {
	State() store.State
}

// Resolver finds the session state for a request. It reports false when the
// request carries no known session.
type Resolver func(r *http.Request) (StateSource, bool)

type ruleKey struct{}

// RuleFromContext returns the rule the guard admitted the request under.
func RuleFromContext(ctx context.Context) (Rule, bool) {
	rule, ok := ctx.Value(ruleKey{}).(Rule)
	return rule, ok
}

// Guard gates view requests on the route policy. Requests under Prefix are
// checked against the policy path that follows the prefix.
type Guard struct {
	Policy  *Policy
	Resolve Resolver
	Prefix  string
	Logger  zerolog.Logger
	// OnDecision, when set, sees every decision the guard takes.
	OnDecision func(r *http.Request, path string, decision Decision)
}

type deniedView struct {
	Error   string `json:"error"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Back    string `json:"back"`
}

func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := cleanPath(strings.TrimPrefix(r.URL.Path, g.Prefix))
		if g.Policy.IsPublic(path) {
			next.ServeHTTP(w, r)
			return
		}
		rule, ok := g.Policy.Lookup(path)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error":    "not_found",
				"redirect": g.Policy.NotFoundPath(),
			})
			return
		}

		var state store.State
		if src, found := g.Resolve(r); found {
			state = src.State()
		}
		decision := EvaluateState(state, rule.Roles)
		if g.OnDecision != nil {
			g.OnDecision(r, path, decision)
		}
		g.Logger.Debug().
			Str("path", path).
			Str("rule", rule.Path).
			Stringer("decision", decision).
			Msg("route guard")

		switch decision {
		case Loading:
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "loading"})
		case Unauthenticated:
			target := g.loginURL(r, path)
			if wantsHTML(r) {
				http.Redirect(w, r, target, http.StatusSeeOther)
				return
			}
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error":    "unauthenticated",
				"redirect": target,
			})
		case Forbidden:
			writeJSON(w, http.StatusForbidden, deniedView{
				Error:   "forbidden",
				Title:   "Accès refusé",
				Message: "Vous n'avez pas les permissions nécessaires pour accéder à cette page.",
				Back:    g.backTarget(r, state),
			})
		default:
			ctx := context.WithValue(r.Context(), ruleKey{}, rule)
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// loginURL keeps the requested location so the login page can bounce back.
func (g *Guard) loginURL(r *http.Request, path string) string {
	from := path
	if r.URL.RawQuery != "" {
		from += "?" + r.URL.RawQuery
	}
	return g.Policy.LoginURL(from)
}

// backTarget prefers the page the user came from when it is on this host.
func (g *Guard) backTarget(r *http.Request, state store.State) string {
	if ref, err := url.Parse(r.Referer()); err == nil && ref.Path != "" && (ref.Host == "" || ref.Host == r.Host) {
		return ref.RequestURI()
	}
	if state.Auth.User != nil {
		return g.Policy.LandingPath(state.Auth.User.Role)
	}
	return "/"
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
