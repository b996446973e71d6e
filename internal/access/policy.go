package access

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"semaphore/portal/internal/store"
)

//go:embed routes.yaml
var defaultRoutes []byte

var ErrRouteNotFound = errors.New("route_not_found")

// Route is one entry of the route table as written in the policy file.
// Child paths are relative to their parent. A route without roles inherits
// its parent's; a top-level route without roles admits any signed-in user.
type Route struct {
	Path      string       `yaml:"path" json:"path"`
	Name      string       `yaml:"name" json:"name"`
	Component string       `yaml:"component,omitempty" json:"component,omitempty"`
	Icon      string       `yaml:"icon,omitempty" json:"icon,omitempty"`
	Roles     []store.Role `yaml:"roles,omitempty" json:"roles,omitempty"`
	Hidden    bool         `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	Children  []Route      `yaml:"children,omitempty" json:"children,omitempty"`
}

type Redirects struct {
	Login        string                `yaml:"login"`
	Unauthorized string                `yaml:"unauthorized"`
	NotFound     string                `yaml:"notFound"`
	AfterLogin   map[store.Role]string `yaml:"afterLogin"`
}

type policyFile struct {
	PublicPages []string  `yaml:"publicPages"`
	Redirects   Redirects `yaml:"redirects"`
	Routes      []Route   `yaml:"routes"`
}

// Rule is a route flattened to its full path with effective roles.
type Rule struct {
	Path      string       `json:"path"`
	Name      string       `json:"name"`
	Component string       `json:"component,omitempty"`
	Roles     []store.Role `json:"roles"`
	Hidden    bool         `json:"hidden,omitempty"`

	segments []string
}

func (r Rule) Allows(role store.Role) bool {
	return len(r.Roles) == 0 || slices.Contains(r.Roles, role)
}

type Crumb struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// Policy maps paths to the roles allowed to enter them.
type Policy struct {
	routes    []Route
	rules     []Rule
	public    []string
	redirects Redirects
}

func DefaultPolicy() (*Policy, error) {
	return LoadPolicy(bytes.NewReader(defaultRoutes))
}

func LoadPolicyFile(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadPolicy(f)
}

func LoadPolicy(r io.Reader) (*Policy, error) {
	var file policyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode route policy: %w", err)
	}
	return newPolicy(file)
}

func newPolicy(file policyFile) (*Policy, error) {
	p := &Policy{
		routes:    file.Routes,
		public:    make([]string, 0, len(file.PublicPages)),
		redirects: file.Redirects,
	}
	if p.redirects.Login == "" {
		p.redirects.Login = "/login"
	}
	if p.redirects.NotFound == "" {
		p.redirects.NotFound = "/404"
	}
	for role := range p.redirects.AfterLogin {
		if !role.Valid() {
			return nil, fmt.Errorf("redirects.afterLogin: unknown role %q", role)
		}
	}
	for _, page := range file.PublicPages {
		p.public = append(p.public, cleanPath(page))
	}

	seen := map[string]bool{}
	var walk func(parent string, parentRoles []store.Role, routes []Route) error
	walk = func(parent string, parentRoles []store.Role, routes []Route) error {
		for _, route := range routes {
			full, err := joinRoutePath(parent, route.Path)
			if err != nil {
				return err
			}
			roles := route.Roles
			if len(roles) == 0 {
				roles = parentRoles
			}
			for _, role := range roles {
				if !role.Valid() {
					return fmt.Errorf("route %s: unknown role %q", full, role)
				}
			}
			if seen[full] {
				return fmt.Errorf("route %s: declared twice", full)
			}
			seen[full] = true
			if slices.Contains(p.public, full) {
				return fmt.Errorf("route %s: also listed as public", full)
			}
			p.rules = append(p.rules, Rule{
				Path:      full,
				Name:      route.Name,
				Component: route.Component,
				Roles:     slices.Clone(roles),
				Hidden:    route.Hidden,
				segments:  splitPath(full),
			})
			if err := walk(full, roles, route.Children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk("", nil, file.Routes); err != nil {
		return nil, err
	}
	return p, nil
}

func joinRoutePath(parent, path string) (string, error) {
	if parent == "" {
		if !strings.HasPrefix(path, "/") {
			return "", fmt.Errorf("route %q: top-level paths must be absolute", path)
		}
		return cleanPath(path), nil
	}
	if path == "" || strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("route %s: child path %q must be relative", parent, path)
	}
	return cleanPath(parent + "/" + path), nil
}

func cleanPath(path string) string {
	path = "/" + strings.Trim(path, "/")
	return path
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Lookup finds the rule for a concrete path. Literal segments win over
// ":param" segments when both match.
func (p *Policy) Lookup(path string) (Rule, bool) {
	segments := splitPath(cleanPath(path))
	best := -1
	bestScore := -1
	for i, rule := range p.rules {
		score, ok := matchSegments(rule.segments, segments)
		if ok && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return Rule{}, false
	}
	return p.rules[best], true
}

func matchSegments(pattern, segments []string) (int, bool) {
	if len(pattern) != len(segments) {
		return 0, false
	}
	score := 0
	for i, part := range pattern {
		if strings.HasPrefix(part, ":") {
			continue
		}
		if part != segments[i] {
			return 0, false
		}
		score++
	}
	return score, true
}

// Check evaluates the guard for path against a store snapshot.
func (p *Policy) Check(path string, state store.State) (Decision, Rule, error) {
	rule, ok := p.Lookup(path)
	if !ok {
		return Unauthenticated, Rule{}, fmt.Errorf("%w: %s", ErrRouteNotFound, path)
	}
	return EvaluateState(state, rule.Roles), rule, nil
}

// AccessibleRoutes lists the visible top-level routes role may open, with
// their children filtered the same way.
func (p *Policy) AccessibleRoutes(role store.Role) []Route {
	return filterRoutes(p.routes, nil, role)
}

func filterRoutes(routes []Route, inherited []store.Role, role store.Role) []Route {
	var out []Route
	for _, route := range routes {
		roles := route.Roles
		if len(roles) == 0 {
			roles = inherited
		}
		if route.Hidden || (len(roles) > 0 && !slices.Contains(roles, role)) {
			continue
		}
		r := route
		r.Roles = slices.Clone(roles)
		r.Children = filterRoutes(route.Children, roles, role)
		out = append(out, r)
	}
	return out
}

func (p *Policy) HasAccess(path string, role store.Role) bool {
	rule, ok := p.Lookup(path)
	return ok && rule.Allows(role)
}

// Breadcrumb returns one crumb per path prefix that names a route.
func (p *Policy) Breadcrumb(path string) []Crumb {
	crumbs := []Crumb{}
	current := ""
	for _, part := range splitPath(cleanPath(path)) {
		current += "/" + part
		if rule, ok := p.Lookup(current); ok {
			crumbs = append(crumbs, Crumb{Path: current, Name: rule.Name})
		}
	}
	return crumbs
}

// LandingPath is where role goes after signing in.
func (p *Policy) LandingPath(role store.Role) string {
	if path, ok := p.redirects.AfterLogin[role]; ok {
		return path
	}
	if p.redirects.Unauthorized != "" {
		return p.redirects.Unauthorized
	}
	return "/"
}

func (p *Policy) IsPublic(path string) bool {
	return slices.Contains(p.public, cleanPath(path))
}

func (p *Policy) LoginPath() string { return p.redirects.Login }

// LoginURL is the login page with from set for the post-login bounce back.
func (p *Policy) LoginURL(from string) string {
	return p.redirects.Login + "?" + url.Values{"from": {from}}.Encode()
}

func (p *Policy) NotFoundPath() string { return p.redirects.NotFound }

func (p *Policy) Rules() []Rule {
	return slices.Clone(p.rules)
}
