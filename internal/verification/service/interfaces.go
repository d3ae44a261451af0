package service

import (
	"context"
	"time"

	"faceauth/internal/biometric/archive"
	idmodels "faceauth/internal/identity/models"
	lockoutmodels "faceauth/internal/lockout/models"
	"faceauth/internal/token"
	"faceauth/pkg/platform/audit"
)

// UserStore resolves and persists enrolled templates. Get returns
// sentinel.ErrNotFound for unknown usernames.
type UserStore interface {
	Get(ctx context.Context, username string) (*idmodels.Template, error)
	Upsert(ctx context.Context, username string, embedding []float64, defaultRole idmodels.Role, policy idmodels.ReenrollPolicy, now time.Time) (*idmodels.Template, error)
	List(ctx context.Context) ([]*idmodels.Template, error)
}

// LockoutService tracks failed attempts per (username, origin).
type LockoutService interface {
	Check(ctx context.Context, key lockoutmodels.Key) (*lockoutmodels.Status, error)
	RegisterFailure(ctx context.Context, key lockoutmodels.Key) (*lockoutmodels.FailureOutcome, error)
	RegisterSuccess(ctx context.Context, key lockoutmodels.Key) error
}

// TokenIssuer signs session assertions for authenticated identities.
type TokenIssuer interface {
	Issue(username, role string) (string, *token.Claims, error)
}

// ProbeArchive keeps probe pairs from spoof-suspect attempts.
type ProbeArchive interface {
	Store(ctx context.Context, probe archive.Probe) (string, error)
}

// AuditPublisher emits audit events for every decision.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
