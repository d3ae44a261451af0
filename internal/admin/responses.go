package admin

import (
	"time"

	"faceauth/pkg/platform/audit"
)

// MeResponse is the HTTP response DTO for the authenticated caller.
type MeResponse struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// SetRoleResponse confirms a role change.
type SetRoleResponse struct {
	OK       bool   `json:"ok"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// EventResponse is the HTTP view of one audit event.
type EventResponse struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"ts"`
	EventType string         `json:"event_type"`
	Category  string         `json:"category"`
	Username  string         `json:"username,omitempty"`
	IP        string         `json:"ip,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Device    string         `json:"device,omitempty"`
	Meta      map[string]any `json:"meta"`
}

// EventsListResponse wraps the list of events for HTTP response.
type EventsListResponse struct {
	Events []EventResponse `json:"events"`
	Total  int             `json:"total"`
}

func toEventResponse(e audit.Event) EventResponse {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return EventResponse{
		ID:        e.ID.String(),
		Timestamp: e.Timestamp,
		EventType: string(e.Type),
		Category:  string(e.Category),
		Username:  e.Username,
		IP:        e.Origin,
		RequestID: e.RequestID,
		Device:    e.Device,
		Meta:      meta,
	}
}
