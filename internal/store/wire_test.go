package store

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatorsRejectMalformedPayloads(t *testing.T) {
	tests := []struct {
		name   string
		build  func() error
		action string
		field  string
	}{
		{
			name:   "login without user",
			build:  func() error { _, err := NewLoginSuccess(nil, "tok"); return err },
			action: TypeLoginSuccess,
			field:  "user",
		},
		{
			name:   "login without token",
			build:  func() error { _, err := NewLoginSuccess(&User{ID: "u1", Role: RoleStudent}, ""); return err },
			action: TypeLoginSuccess,
			field:  "token",
		},
		{
			name:   "login with unknown role",
			build:  func() error { _, err := NewLoginSuccess(&User{ID: "u1", Role: "janitor"}, "tok"); return err },
			action: TypeLoginSuccess,
			field:  "user.role",
		},
		{
			name:   "notification without message",
			build:  func() error { _, err := NewAddNotification("", SeverityInfo); return err },
			action: TypeAddNotification,
			field:  "message",
		},
		{
			name:   "blank notification",
			build:  func() error { _, err := NewAddNotification("   ", SeverityInfo); return err },
			action: TypeAddNotification,
			field:  "message",
		},
		{
			name:   "notification with bad severity",
			build:  func() error { _, err := NewAddNotification("hi", "fatal"); return err },
			action: TypeAddNotification,
			field:  "type",
		},
		{
			name:   "update item without id",
			build:  func() error { _, err := NewUpdateItem(KeyCourses, "", Entity{"a": 1}); return err },
			action: TypeUpdateItem,
			field:  "id",
		},
		{
			name:   "update item without data",
			build:  func() error { _, err := NewUpdateItem(KeyCourses, "c1", nil); return err },
			action: TypeUpdateItem,
			field:  "data",
		},
		{
			name:   "add item without key",
			build:  func() error { _, err := NewAddItem("", Entity{"id": "x"}); return err },
			action: TypeAddItem,
			field:  "key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPayload)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.action, verr.Action)
			var fields []string
			for _, f := range verr.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestDecodeAction(t *testing.T) {
	a, err := DecodeAction(TypeLoginSuccess, json.RawMessage(`{"user":{"id":"u1","name":"Ada","role":"student"},"token":"tok"}`))
	require.NoError(t, err)
	login, ok := a.(LoginSuccess)
	require.True(t, ok)
	assert.Equal(t, "tok", login.Token)
	assert.Equal(t, RoleStudent, login.User.Role)

	a, err = DecodeAction(TypeLoginFailure, json.RawMessage(`"bad credentials"`))
	require.NoError(t, err)
	assert.Equal(t, LoginFailure{Error: "bad credentials"}, a)

	a, err = DecodeAction(TypeRemoveNotification, json.RawMessage(`1712345678901`))
	require.NoError(t, err)
	assert.Equal(t, RemoveNotification{ID: "1712345678901"}, a)

	a, err = DecodeAction(TypeSetLoading, json.RawMessage(`{"key":"courses","isLoading":true}`))
	require.NoError(t, err)
	assert.Equal(t, SetLoading{Key: "courses", Loading: true}, a)

	a, err = DecodeAction(TypeUpdateItem, json.RawMessage(`{"key":"courses","id":42,"data":{"title":"Algebra"}}`))
	require.NoError(t, err)
	update, ok := a.(UpdateItem)
	require.True(t, ok)
	assert.Equal(t, "42", update.ID)
	assert.Equal(t, "Algebra", update.Patch["title"])

	a, err = DecodeAction(TypeToggleTheme, nil)
	require.NoError(t, err)
	assert.Equal(t, ToggleTheme{}, a)
}

func TestDecodeActionUnknownType(t *testing.T) {
	a, err := DecodeAction("ui/toggleThme", nil)
	require.NoError(t, err)
	assert.Equal(t, Unrecognized{Name: "ui/toggleThme"}, a)
	assert.Equal(t, "ui/toggleThme", a.Type())

	a, err = DecodeAction(TypeFetchStarted, json.RawMessage(`{"key":"courses"}`))
	require.NoError(t, err)
	assert.IsType(t, Unrecognized{}, a)
}

func TestDecodeActionRejectsInvalidPayload(t *testing.T) {
	_, err := DecodeAction(TypeAddNotification, json.RawMessage(`{"type":"info"}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = DecodeAction(TypeLoginSuccess, nil)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = DecodeAction(TypeSetData, json.RawMessage(`{"key":`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
