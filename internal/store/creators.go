package store

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate

	notBlankTag = "notblank"
)

func init() {
	validate = validator.New()

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		if str, ok := fl.Field().Interface().(string); ok {
			return strings.TrimSpace(str) != ""
		}
		return false
	})
}

// check validates a payload and converts validator errors into a
// *ValidationError for the named action.
func check(actionType string, payload any) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Action: actionType}
	}
	out := &ValidationError{Action: actionType}
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		out.Fields = append(out.Fields, FieldError{Field: field, Tag: fe.Tag()})
	}
	return out
}

func NewLoginSuccess(user *User, token string) (LoginSuccess, error) {
	a := LoginSuccess{User: user, Token: token}
	if err := check(TypeLoginSuccess, a); err != nil {
		return LoginSuccess{}, err
	}
	// The store keeps its own copy so callers cannot reach into the snapshot.
	u := *user
	a.User = &u
	return a, nil
}

func NewLoginFailure(message string) LoginFailure {
	return LoginFailure{Error: message}
}

func NewUpdateUser(patch UserPatch) (UpdateUser, error) {
	if err := check(TypeUpdateUser, patch); err != nil {
		return UpdateUser{}, err
	}
	return UpdateUser{Patch: patch}, nil
}

// NewAddNotification requires a non-blank message. Severity defaults to info.
func NewAddNotification(message string, severity Severity) (AddNotification, error) {
	a := AddNotification{Message: message, Severity: severity}
	if err := check(TypeAddNotification, a); err != nil {
		return AddNotification{}, err
	}
	if a.Severity == "" {
		a.Severity = SeverityInfo
	}
	return a, nil
}

func NewSetData(key string, items Collection, requestID uint64) (SetData, error) {
	a := SetData{Key: key, Items: items, RequestID: requestID}
	if err := check(TypeSetData, a); err != nil {
		return SetData{}, err
	}
	return a, nil
}

func NewSetLoading(key string, loading bool) (SetLoading, error) {
	a := SetLoading{Key: key, Loading: loading}
	if err := check(TypeSetLoading, a); err != nil {
		return SetLoading{}, err
	}
	return a, nil
}

func NewSetError(key, message string) (SetError, error) {
	a := SetError{Key: key, Error: message}
	if err := check(TypeSetError, a); err != nil {
		return SetError{}, err
	}
	return a, nil
}

func NewUpdateItem(key, id string, patch Entity) (UpdateItem, error) {
	a := UpdateItem{Key: key, ID: id, Patch: patch}
	if err := check(TypeUpdateItem, a); err != nil {
		return UpdateItem{}, err
	}
	return a, nil
}

func NewAddItem(key string, item Entity) (AddItem, error) {
	a := AddItem{Key: key, Item: item}
	if err := check(TypeAddItem, a); err != nil {
		return AddItem{}, err
	}
	return a, nil
}

func NewRemoveItem(key, id string) (RemoveItem, error) {
	a := RemoveItem{Key: key, ID: id}
	if err := check(TypeRemoveItem, a); err != nil {
		return RemoveItem{}, err
	}
	return a, nil
}
