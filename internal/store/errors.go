package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownAction     = errors.New("unknown_action")
	ErrStaleFetch        = errors.New("stale_fetch")
	ErrUnknownCollection = errors.New("unknown_collection")
	ErrDuplicateID       = errors.New("duplicate_id")
	ErrMissingID         = errors.New("missing_id")
	ErrInvalidPayload    = errors.New("invalid_payload")
)

type FieldError struct {
	Field string
	Tag   string
}

// ValidationError is returned by action creators when a payload is rejected
// before it can be dispatched.
type ValidationError struct {
	Action string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("invalid %s payload", e.Action)
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+":"+f.Tag)
	}
	return fmt.Sprintf("invalid %s payload (%s)", e.Action, strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidPayload
}
