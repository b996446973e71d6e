package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the wire form of an action: {"type": "...", "payload": ...}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeAction maps a wire action onto its variant, running the same
// validation as the constructors. Type strings that match no variant decode to
// Unrecognized; what happens to those is the store's unknown-action policy.
func DecodeAction(actionType string, payload json.RawMessage) (Action, error) {
	switch actionType {
	case TypeLoginStart:
		return LoginStart{}, nil
	case TypeLoginSuccess:
		var p struct {
			User  *User  `json:"user"`
			Token string `json:"token"`
		}
		if err := decodePayload(actionType, payload, &p); err != nil {
			return nil, err
		}
		return NewLoginSuccess(p.User, p.Token)
	case TypeLoginFailure:
		var message string
		if err := decodePayload(actionType, payload, &message); err != nil {
			return nil, err
		}
		return NewLoginFailure(message), nil
	case TypeLogout:
		return Logout{}, nil
	case TypeUpdateUser:
		var patch UserPatch
		if err := decodePayload(actionType, payload, &patch); err != nil {
			return nil, err
		}
		return NewUpdateUser(patch)
	case TypeToggleTheme:
		return ToggleTheme{}, nil
	case TypeToggleSidebar:
		return ToggleSidebar{}, nil
	case TypeAddNotification:
		var p AddNotification
		if err := decodePayload(actionType, payload, &p); err != nil {
			return nil, err
		}
		return NewAddNotification(p.Message, p.Severity)
	case TypeRemoveNotification:
		var id any
		if err := decodePayload(actionType, payload, &id); err != nil {
			return nil, err
		}
		return RemoveNotification{ID: idString(id)}, nil
	case TypeClearAllNotifications:
		return ClearAllNotifications{}, nil
	case TypeSetData:
		var p SetData
		if err := decodePayload(actionType, payload, &p); err != nil {
			return nil, err
		}
		return NewSetData(p.Key, p.Items, p.RequestID)
	case TypeSetLoading:
		var p SetLoading
		if err := decodePayload(actionType, payload, &p); err != nil {
			return nil, err
		}
		return NewSetLoading(p.Key, p.Loading)
	case TypeSetError:
		var p SetError
		if err := decodePayload(actionType, payload, &p); err != nil {
			return nil, err
		}
		return NewSetError(p.Key, p.Error)
	case TypeUpdateItem:
		var p struct {
			Key  string `json:"key"`
			ID   any    `json:"id"`
			Data Entity `json:"data"`
		}
		if err := decodePayload(actionType, payload, &p); err != nil {
			return nil, err
		}
		return NewUpdateItem(p.Key, idString(p.ID), p.Data)
	case TypeAddItem:
		var p AddItem
		if err := decodePayload(actionType, payload, &p); err != nil {
			return nil, err
		}
		return NewAddItem(p.Key, p.Item)
	case TypeRemoveItem:
		var p struct {
			Key string `json:"key"`
			ID  any    `json:"id"`
		}
		if err := decodePayload(actionType, payload, &p); err != nil {
			return nil, err
		}
		return NewRemoveItem(p.Key, idString(p.ID))
	case TypeClearErrors:
		return ClearErrors{}, nil
	case TypeResetData:
		return ResetData{}, nil
	case TypeFetchStarted:
		// Fetch ids are issued by BeginFetch only.
		return Unrecognized{Name: actionType}, nil
	default:
		return Unrecognized{Name: actionType}, nil
	}
}

func decodePayload(actionType string, payload json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return &ValidationError{Action: actionType, Fields: []FieldError{{Field: "payload", Tag: "required"}}}
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, actionType, err)
	}
	return nil
}
