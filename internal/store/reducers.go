package store

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// env carries what reducers may read besides the slice and the action. It is
// filled in once per dispatch so every reducer sees the same instant.
type env struct {
	now time.Time
	ids IDGenerator
}

func reduceAuth(s AuthState, a Action, _ env) (AuthState, bool, error) {
	switch a := a.(type) {
	case LoginStart:
		s.Loading = true
		s.Error = ""
	case LoginSuccess:
		if a.User == nil || a.Token == "" {
			return s, false, fmt.Errorf("%w: %s", ErrInvalidPayload, a.Type())
		}
		u := *a.User
		s.User = &u
		s.Token = a.Token
		s.Loading = false
		s.Error = ""
	case LoginFailure:
		s.Loading = false
		s.Error = a.Error
	case Logout:
		s.User = nil
		s.Token = ""
		s.Loading = false
	case UpdateUser:
		if s.User == nil {
			return s, false, nil
		}
		u := s.User.Merge(a.Patch)
		s.User = &u
	default:
		return s, false, nil
	}
	return s, true, nil
}

func reduceUI(s UIState, a Action, e env) (UIState, bool, error) {
	switch a := a.(type) {
	case ToggleTheme:
		s.Theme = s.Theme.Toggle()
	case ToggleSidebar:
		s.SidebarCollapsed = !s.SidebarCollapsed
	case AddNotification:
		if a.Message == "" {
			return s, false, fmt.Errorf("%w: %s", ErrInvalidPayload, a.Type())
		}
		severity := a.Severity
		if severity == "" {
			severity = SeverityInfo
		}
		n := Notification{
			ID:        e.ids.NewID(),
			Message:   a.Message,
			Severity:  severity,
			CreatedAt: e.now,
		}
		s.Notifications = append(slices.Clip(s.Notifications), n)
	case RemoveNotification:
		s.Notifications = slices.DeleteFunc(slices.Clone(s.Notifications), func(n Notification) bool {
			return n.ID == a.ID
		})
	case ClearAllNotifications:
		s.Notifications = []Notification{}
	default:
		return s, false, nil
	}
	return s, true, nil
}

func reduceData(s DataState, a Action, e env) (DataState, bool, error) {
	switch a := a.(type) {
	case FetchStarted:
		s.Requests = maps.Clone(s.Requests)
		s.Requests[a.Key]++
	case SetData:
		if a.RequestID != 0 && a.RequestID != s.Requests[a.Key] {
			return s, false, fmt.Errorf("%w: %s request %d, latest %d", ErrStaleFetch, a.Key, a.RequestID, s.Requests[a.Key])
		}
		items := make(Collection, 0, len(a.Items))
		seen := make(map[string]struct{}, len(a.Items))
		for _, item := range a.Items {
			id := item.ID()
			if id == "" {
				return s, false, fmt.Errorf("%w: %s", ErrMissingID, a.Key)
			}
			if _, dup := seen[id]; dup {
				return s, false, fmt.Errorf("%w: %s/%s", ErrDuplicateID, a.Key, id)
			}
			seen[id] = struct{}{}
			items = append(items, item.clone())
		}
		s.Collections = maps.Clone(s.Collections)
		s.Collections[a.Key] = items
		s.LastUpdated = maps.Clone(s.LastUpdated)
		s.LastUpdated[a.Key] = e.now
	case SetLoading:
		s.Loading = maps.Clone(s.Loading)
		s.Loading[a.Key] = a.Loading
	case SetError:
		s.Errors = maps.Clone(s.Errors)
		s.Errors[a.Key] = a.Error
	case UpdateItem:
		items, ok := s.Collections[a.Key]
		if !ok {
			return s, false, fmt.Errorf("%w: %s", ErrUnknownCollection, a.Key)
		}
		i := items.Index(a.ID)
		if i < 0 {
			return s, false, nil
		}
		updated := items[i].merge(a.Patch)
		updated[fieldUpdatedAt] = stamp(e.now)
		next := slices.Clone(items)
		next[i] = updated
		s.Collections = maps.Clone(s.Collections)
		s.Collections[a.Key] = next
	case AddItem:
		items, ok := s.Collections[a.Key]
		if !ok {
			return s, false, fmt.Errorf("%w: %s", ErrUnknownCollection, a.Key)
		}
		id := a.Item.ID()
		if id == "" {
			return s, false, fmt.Errorf("%w: %s", ErrMissingID, a.Key)
		}
		if items.Index(id) >= 0 {
			return s, false, fmt.Errorf("%w: %s/%s", ErrDuplicateID, a.Key, id)
		}
		item := a.Item.clone()
		item[fieldCreatedAt] = stamp(e.now)
		item[fieldUpdatedAt] = stamp(e.now)
		s.Collections = maps.Clone(s.Collections)
		s.Collections[a.Key] = append(slices.Clip(items), item)
	case RemoveItem:
		items, ok := s.Collections[a.Key]
		if !ok {
			return s, false, fmt.Errorf("%w: %s", ErrUnknownCollection, a.Key)
		}
		if items.Index(a.ID) < 0 {
			return s, false, nil
		}
		s.Collections = maps.Clone(s.Collections)
		s.Collections[a.Key] = slices.DeleteFunc(slices.Clone(items), func(item Entity) bool {
			return item.ID() == a.ID
		})
	case ClearErrors:
		s.Errors = map[string]string{}
	case ResetData:
		requests := maps.Clone(s.Requests)
		if requests == nil {
			requests = map[string]uint64{}
		}
		for key := range requests {
			requests[key]++
		}
		s = emptyData()
		s.Requests = requests
	default:
		return s, false, nil
	}
	return s, true, nil
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
