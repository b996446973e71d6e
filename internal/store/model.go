package store

import (
	"encoding/json"
	"strconv"
	"time"
)

type Role string

const (
	RoleStudent   Role = "student"
	RoleProfessor Role = "professor"
	RoleParent    Role = "parent"
	RoleMajor     Role = "major"
	RoleAdmin     Role = "admin"
)

var roles = []Role{RoleStudent, RoleProfessor, RoleParent, RoleMajor, RoleAdmin}

// Roles lists every role the platform knows about.
func Roles() []Role {
	return append([]Role(nil), roles...)
}

func (r Role) Valid() bool {
	for _, known := range roles {
		if r == known {
			return true
		}
	}
	return false
}

func ParseRole(value string) (Role, bool) {
	role := Role(value)
	return role, role.Valid()
}

type User struct {
	ID     string `json:"id" validate:"required"`
	Name   string `json:"name"`
	Email  string `json:"email" validate:"omitempty,email"`
	Role   Role   `json:"role" validate:"required,oneof=student professor parent major admin"`
	Avatar string `json:"avatar,omitempty"`
}

// UserPatch carries the fields of a partial profile update. Nil fields are
// left untouched by Merge.
type UserPatch struct {
	Name   *string `json:"name,omitempty"`
	Email  *string `json:"email,omitempty" validate:"omitempty,email"`
	Role   *Role   `json:"role,omitempty" validate:"omitempty,oneof=student professor parent major admin"`
	Avatar *string `json:"avatar,omitempty"`
}

func (p UserPatch) Empty() bool {
	return p.Name == nil && p.Email == nil && p.Role == nil && p.Avatar == nil
}

func (u User) Merge(patch UserPatch) User {
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.Email != nil {
		u.Email = *patch.Email
	}
	if patch.Role != nil {
		u.Role = *patch.Role
	}
	if patch.Avatar != nil {
		u.Avatar = *patch.Avatar
	}
	return u
}

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

func (t Theme) Toggle() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

func ParseTheme(value string) (Theme, bool) {
	switch Theme(value) {
	case ThemeLight, ThemeDark:
		return Theme(value), true
	default:
		return "", false
	}
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	CreatedAt time.Time `json:"timestamp"`
}

// Entity is one object of a fetched collection, exactly as decoded from the
// API body. Every entity carries an "id".
type Entity map[string]any

const (
	fieldID        = "id"
	fieldCreatedAt = "createdAt"
	fieldUpdatedAt = "updatedAt"
)

// ID normalises the identifier so that numeric and string ids compare equal.
func (e Entity) ID() string {
	return idString(e[fieldID])
}

func idString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	default:
		return ""
	}
}

func (e Entity) clone() Entity {
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// merge returns a shallow copy of e with patch applied on top. The id of e is
// kept even if the patch carries a different one.
func (e Entity) merge(patch Entity) Entity {
	out := e.clone()
	for k, v := range patch {
		if k == fieldID {
			continue
		}
		out[k] = v
	}
	return out
}

type Collection []Entity

func (c Collection) Index(id string) int {
	for i, item := range c {
		if item.ID() == id {
			return i
		}
	}
	return -1
}

func (c Collection) Find(id string) (Entity, bool) {
	if i := c.Index(id); i >= 0 {
		return c[i], true
	}
	return nil, false
}
