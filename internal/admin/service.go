// Package admin exposes role management and audit review to privileged
// callers.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"time"

	idmodels "faceauth/internal/identity/models"
	dErrors "faceauth/pkg/domain-errors"
	"faceauth/pkg/platform/audit"
	"faceauth/pkg/requestcontext"
)

const (
	DefaultEventLimit = 50
	MaxEventLimit     = 500
)

// RoleStore updates the role of an enrolled identity.
type RoleStore interface {
	SetRole(ctx context.Context, username string, role idmodels.Role, now time.Time) (bool, error)
}

// EventReader returns recent audit events, newest first.
type EventReader interface {
	Recent(ctx context.Context, limit int) ([]audit.Event, error)
}

// AuditPublisher emits audit events for privileged operations.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	roles          RoleStore
	events         EventReader
	auditPublisher AuditPublisher
	logger         *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func New(roles RoleStore, events EventReader, opts ...Option) (*Service, error) {
	if roles == nil {
		return nil, errors.New("role store is required")
	}
	if events == nil {
		return nil, errors.New("event reader is required")
	}
	svc := &Service{roles: roles, events: events, logger: slog.Default()}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// ClampEventLimit bounds limit to [1, MaxEventLimit].
func ClampEventLimit(limit int) int {
	return max(1, min(limit, MaxEventLimit))
}

// Me returns the caller as seen by the session assertion.
func (s *Service) Me(_ context.Context, caller *idmodels.Caller) (*MeResponse, error) {
	if caller == nil {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "authentication required")
	}
	return &MeResponse{Username: caller.Username, Role: caller.Role.String()}, nil
}

// SetRole changes target's role. Only admins may call it; privilege and input
// errors mutate nothing and emit no audit event.
func (s *Service) SetRole(ctx context.Context, caller *idmodels.Caller, target, rawRole string) (*SetRoleResponse, error) {
	if caller == nil {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "authentication required")
	}
	if caller.Role != idmodels.RoleAdmin {
		return nil, dErrors.New(dErrors.CodeInsufficientPrivileges, "insufficient privileges")
	}
	username, err := idmodels.NormalizeUsername(target)
	if err != nil {
		return nil, err
	}
	role, err := idmodels.ParseRole(rawRole)
	if err != nil {
		return nil, err
	}

	updated, err := s.roles.SetRole(ctx, username, role, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update role")
	}
	if !updated {
		return nil, dErrors.New(dErrors.CodeUnknownIdentity, "user not found")
	}

	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventAdminSetRole,
		"username", caller.Username,
		"ip", requestcontext.ClientIP(ctx),
		"target", username,
		"role", role.String(),
	)
	return &SetRoleResponse{OK: true, Username: username, Role: role.String()}, nil
}

// ListEvents returns the most recent audit events for admins and analysts.
func (s *Service) ListEvents(ctx context.Context, caller *idmodels.Caller, limit int) (*EventsListResponse, error) {
	if caller == nil {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "authentication required")
	}
	if !caller.Role.CanReadEvents() {
		return nil, dErrors.New(dErrors.CodeInsufficientPrivileges, "insufficient privileges")
	}

	events, err := s.events.Recent(ctx, ClampEventLimit(limit))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit events")
	}
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, toEventResponse(e))
	}
	return &EventsListResponse{Events: out, Total: len(out)}, nil
}
