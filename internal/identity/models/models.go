package models

import (
	"context"
	"strings"
	"time"

	dErrors "faceauth/pkg/domain-errors"
	"faceauth/pkg/requestcontext"
)

// Role is the closed set of privileges an enrolled identity can hold.
type Role string

const (
	RoleUser    Role = "user"
	RoleAdmin   Role = "admin"
	RoleAnalyst Role = "analyst"
)

// DefaultRole is assigned to new enrollments.
const DefaultRole = RoleUser

func (r Role) String() string { return string(r) }

func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleAnalyst:
		return true
	}
	return false
}

// CanReadEvents reports whether the role may list audit events.
func (r Role) CanReadEvents() bool {
	return r == RoleAdmin || r == RoleAnalyst
}

// ParseRole trims and lower-cases raw before matching it against the known roles.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.IsValid() {
		return "", dErrors.NewWithDetails(dErrors.CodeInvalidRole, "unknown role",
			map[string]any{"allowed": []string{"user", "admin", "analyst"}})
	}
	return role, nil
}

// ReenrollPolicy decides what happens to the role when an existing username
// enrolls again. The embedding is always replaced.
type ReenrollPolicy string

const (
	ReenrollKeepExisting   ReenrollPolicy = "keep_existing"
	ReenrollResetToDefault ReenrollPolicy = "reset_to_default"
)

func ParseReenrollPolicy(raw string) (ReenrollPolicy, error) {
	switch p := ReenrollPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return ReenrollKeepExisting, nil
	case ReenrollKeepExisting, ReenrollResetToDefault:
		return p, nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "unknown reenroll policy")
}

// Template is an enrolled identity.
type Template struct {
	Username  string
	Embedding []float64
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

const MaxUsernameLength = 64

// NormalizeUsername trims surrounding space and rejects empty, overlong or
// control-character usernames.
func NormalizeUsername(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	if username == "" {
		return "", dErrors.New(dErrors.CodeValidation, "username is required")
	}
	if len(username) > MaxUsernameLength {
		return "", dErrors.New(dErrors.CodeValidation, "username is too long")
	}
	for _, r := range username {
		if r < 0x20 || r == 0x7f {
			return "", dErrors.New(dErrors.CodeValidation, "username contains control characters")
		}
	}
	return username, nil
}

// Caller is the authenticated principal behind a request.
type Caller struct {
	Username string
	Role     Role
}

// CallerFromContext returns the caller set by the auth middleware, or nil for
// anonymous requests.
func CallerFromContext(ctx context.Context) *Caller {
	subject := requestcontext.Subject(ctx)
	if subject == "" {
		return nil
	}
	return &Caller{Username: subject, Role: Role(requestcontext.Role(ctx))}
}
