package clients

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"semaphore/portal/internal/store"
)

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Registration struct {
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	Email       string     `json:"email"`
	Password    string     `json:"password"`
	Role        store.Role `json:"role"`
	PhoneNumber string     `json:"phoneNumber,omitempty"`
	Username    string     `json:"username"`
	// Class is only sent for students; the API expects null otherwise.
	Class *string `json:"class"`
}

type Session struct {
	User  store.User `json:"user"`
	Token string     `json:"token"`
}

type Preferences struct {
	Theme    store.Theme `json:"theme,omitempty"`
	Language string      `json:"language,omitempty"`
}

type Justification struct {
	Reason   string `json:"reason"`
	Document string `json:"document,omitempty"`
}

func (c *Client) Login(ctx context.Context, creds Credentials) (Session, error) {
	var out Session
	if err := c.do(ctx, "", http.MethodPost, "/auth/login", nil, creds, &out); err != nil {
		return Session{}, err
	}
	if out.Token == "" {
		return Session{}, errors.New("login response without token")
	}
	return out, nil
}

// Register creates an account. The API may or may not sign the new user in;
// Token is empty when it does not.
func (c *Client) Register(ctx context.Context, reg Registration) (Session, error) {
	var out Session
	if err := c.do(ctx, "", http.MethodPost, "/auth/register", nil, reg, &out); err != nil {
		return Session{}, err
	}
	return out, nil
}

func (c *Client) Profile(ctx context.Context, token string) (store.User, error) {
	var out store.User
	if err := c.do(ctx, token, http.MethodGet, "/users/profile", nil, nil, &out); err != nil {
		return store.User{}, err
	}
	return out, nil
}

func (c *Client) UpdateProfile(ctx context.Context, token string, patch store.UserPatch) (store.User, error) {
	var out store.User
	if err := c.do(ctx, token, http.MethodPatch, "/users/profile", nil, patch, &out); err != nil {
		return store.User{}, err
	}
	return out, nil
}

func (c *Client) UpdatePreferences(ctx context.Context, token string, prefs Preferences) error {
	return c.do(ctx, token, http.MethodPatch, "/users/preferences", nil, prefs, nil)
}

// MarkAttendance records a batch of attendance entries.
func (c *Client) MarkAttendance(ctx context.Context, token string, records []store.Entity) error {
	return c.do(ctx, token, http.MethodPost, "/attendance/bulk", nil, records, nil)
}

func (c *Client) JustifyAbsence(ctx context.Context, token, id string, j Justification) error {
	return c.do(ctx, token, http.MethodPost, "/attendance/"+url.PathEscape(id)+"/justify", nil, j, nil)
}
