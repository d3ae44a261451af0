package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// apply different retention and routing.
type EventCategory string

const (
	// CategorySecurity covers authentication outcomes and lockouts.
	CategorySecurity EventCategory = "security"
	// CategoryCompliance covers changes to enrolled identities and privileges.
	CategoryCompliance EventCategory = "compliance"
	// CategoryOperations covers routine, non-sensitive activity.
	CategoryOperations EventCategory = "operations"
)

type EventType string

const (
	EventEnrollSuccess  EventType = "enroll_success"
	EventEnrollRejected EventType = "enroll_rejected"
	EventEnrollError    EventType = "enroll_error"

	EventVerifySuccess EventType = "verify_success"
	EventVerifyFailed  EventType = "verify_failed"
	EventVerifyLocked  EventType = "verify_locked"
	EventVerifyError   EventType = "verify_error"

	EventSearchSuccess EventType = "search_success"
	EventSearchError   EventType = "search_error"

	EventAdminSetRole EventType = "admin_set_role"
)

var eventCategories = map[EventType]EventCategory{
	EventEnrollSuccess:  CategoryCompliance,
	EventEnrollRejected: CategoryOperations,
	EventEnrollError:    CategoryOperations,

	EventVerifySuccess: CategorySecurity,
	EventVerifyFailed:  CategorySecurity,
	EventVerifyLocked:  CategorySecurity,
	EventVerifyError:   CategorySecurity,

	EventSearchSuccess: CategoryOperations,
	EventSearchError:   CategoryOperations,

	EventAdminSetRole: CategoryCompliance,
}

// Category returns the EventCategory for this event type.
// Unknown types default to CategoryOperations.
func (t EventType) Category() EventCategory {
	if cat, ok := eventCategories[t]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is an append-only record of a security-relevant decision. Metadata
// holds the outcome diagnostics (distances, thresholds, counts).
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Timestamp time.Time      `json:"ts"`
	Type      EventType      `json:"event_type"`
	Category  EventCategory  `json:"category"`
	Username  string         `json:"username,omitempty"`
	Origin    string         `json:"ip,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Device    string         `json:"device,omitempty"`
	Metadata  map[string]any `json:"meta,omitempty"`
}

// Store persists audit events and reads them back newest first.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Sink receives a copy of every persisted event (stream mirrors, SIEM feeds).
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Emitter is the write side consumed by services.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}
