package store

// Action is a described state change. The set of variants is closed: only the
// types declared in this package satisfy the interface.
type Action interface {
	Type() string
	action()
}

const (
	TypeLoginStart   = "auth/loginStart"
	TypeLoginSuccess = "auth/loginSuccess"
	TypeLoginFailure = "auth/loginFailure"
	TypeLogout       = "auth/logout"
	TypeUpdateUser   = "auth/updateUser"

	TypeToggleTheme           = "ui/toggleTheme"
	TypeToggleSidebar         = "ui/toggleSidebar"
	TypeAddNotification       = "ui/addNotification"
	TypeRemoveNotification    = "ui/removeNotification"
	TypeClearAllNotifications = "ui/clearAllNotifications"

	TypeSetData      = "data/setData"
	TypeSetLoading   = "data/setLoading"
	TypeSetError     = "data/setError"
	TypeUpdateItem   = "data/updateItem"
	TypeAddItem      = "data/addItem"
	TypeRemoveItem   = "data/removeItem"
	TypeClearErrors  = "data/clearErrors"
	TypeFetchStarted = "data/fetchStarted"
	TypeResetData    = "data/reset"
)

type LoginStart struct{}

type LoginSuccess struct {
	User  *User  `json:"user" validate:"required"`
	Token string `json:"token" validate:"required"`
}

type LoginFailure struct {
	Error string `json:"error"`
}

type Logout struct{}

type UpdateUser struct {
	Patch UserPatch `json:"patch"`
}

type ToggleTheme struct{}

type ToggleSidebar struct{}

type AddNotification struct {
	Message  string   `json:"message" validate:"required,notblank"`
	Severity Severity `json:"type" validate:"omitempty,oneof=info success warning error"`
}

type RemoveNotification struct {
	ID string `json:"id"`
}

type ClearAllNotifications struct{}

// SetData replaces a whole collection. A non-zero RequestID ties the payload
// to the fetch issued by BeginFetch; payloads from superseded fetches are
// dropped.
type SetData struct {
	Key       string     `json:"key" validate:"required"`
	Items     Collection `json:"data"`
	RequestID uint64     `json:"requestId,omitempty"`
}

type SetLoading struct {
	Key     string `json:"key" validate:"required"`
	Loading bool   `json:"isLoading"`
}

type SetError struct {
	Key   string `json:"key" validate:"required"`
	Error string `json:"error"`
}

type UpdateItem struct {
	Key   string `json:"key" validate:"required"`
	ID    string `json:"id" validate:"required"`
	Patch Entity `json:"data" validate:"required"`
}

type AddItem struct {
	Key  string `json:"key" validate:"required"`
	Item Entity `json:"data" validate:"required"`
}

type RemoveItem struct {
	Key string `json:"key" validate:"required"`
	ID  string `json:"id" validate:"required"`
}

type ClearErrors struct{}

type FetchStarted struct {
	Key string `json:"key"`
}

// ResetData drops every cached collection along with its loading, error and
// timestamp entries. Fetches still in flight are superseded.
type ResetData struct{}

// IfToken applies Action only while the store still holds Token. A late API
// answer wrapped this way cannot undo a logout or a later login.
type IfToken struct {
	Token  string
	Action Action
}

// Unrecognized stands for a wire action whose type matches no variant.
type Unrecognized struct {
	Name string
}

func (LoginStart) Type() string            { return TypeLoginStart }
func (LoginSuccess) Type() string          { return TypeLoginSuccess }
func (LoginFailure) Type() string          { return TypeLoginFailure }
func (Logout) Type() string                { return TypeLogout }
func (UpdateUser) Type() string            { return TypeUpdateUser }
func (ToggleTheme) Type() string           { return TypeToggleTheme }
func (ToggleSidebar) Type() string         { return TypeToggleSidebar }
func (AddNotification) Type() string       { return TypeAddNotification }
func (RemoveNotification) Type() string    { return TypeRemoveNotification }
func (ClearAllNotifications) Type() string { return TypeClearAllNotifications }
func (SetData) Type() string               { return TypeSetData }
func (SetLoading) Type() string            { return TypeSetLoading }
func (SetError) Type() string              { return TypeSetError }
func (UpdateItem) Type() string            { return TypeUpdateItem }
func (AddItem) Type() string               { return TypeAddItem }
func (RemoveItem) Type() string            { return TypeRemoveItem }
func (ClearErrors) Type() string           { return TypeClearErrors }
func (FetchStarted) Type() string          { return TypeFetchStarted }
func (ResetData) Type() string             { return TypeResetData }
func (u Unrecognized) Type() string        { return u.Name }

func (LoginStart) action()            {}
func (LoginSuccess) action()          {}
func (LoginFailure) action()          {}
func (Logout) action()                {}
func (UpdateUser) action()            {}
func (ToggleTheme) action()           {}
func (ToggleSidebar) action()         {}
func (AddNotification) action()       {}
func (RemoveNotification) action()    {}
func (ClearAllNotifications) action() {}
func (SetData) action()               {}
func (SetLoading) action()            {}
func (SetError) action()              {}
func (UpdateItem) action()            {}
func (AddItem) action()               {}
func (RemoveItem) action()            {}
func (ClearErrors) action()           {}
func (FetchStarted) action()          {}
func (ResetData) action()             {}
func (IfToken) action()               {}
func (Unrecognized) action()          {}

func (g IfToken) Type() string {
	if g.Action == nil {
		return ""
	}
	return g.Action.Type()
}
