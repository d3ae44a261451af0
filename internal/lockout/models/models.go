package models

import (
	"math"
	"strings"
	"time"
)

const unknownSegment = "unknown"

// SanitizeKeySegment escapes the key delimiter so a crafted username such as
// "bob:10.0.0.1" cannot alias another identity's counter.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// Key identifies one lockout counter: the claimed username (or "unknown")
// combined with the origin address of the attempt.
type Key struct {
	Username string
	Origin   string
}

func NewKey(username, origin string) Key {
	username = strings.TrimSpace(username)
	origin = strings.TrimSpace(origin)
	if username == "" {
		username = unknownSegment
	}
	if origin == "" {
		origin = unknownSegment
	}
	return Key{Username: username, Origin: origin}
}

func (k Key) String() string {
	return "auth:" + SanitizeKeySegment(k.Username) + ":" + SanitizeKeySegment(k.Origin)
}

// State is the persisted counter for one Key. A zero LockedUntil means not locked.
type State struct {
	Key         string
	Fails       int
	LockedUntil time.Time
	UpdatedAt   time.Time
}

// IsLockedAt reports LockedUntil > now.
func (s *State) IsLockedAt(now time.Time) bool {
	return s != nil && !s.LockedUntil.IsZero() && s.LockedUntil.After(now)
}

// RemainingAt is the time left on the lock, never negative.
func (s *State) RemainingAt(now time.Time) time.Duration {
	if !s.IsLockedAt(now) {
		return 0
	}
	return s.LockedUntil.Sub(now)
}

// Status is the answer to a lockout check.
type Status struct {
	Locked      bool
	Fails       int
	RetryAfter  int // whole seconds, rounded up
	LockedUntil time.Time
}

// FailureOutcome reports the counter after a registered failure.
type FailureOutcome struct {
	Fails       int
	LockedNow   bool
	LockedUntil time.Time
}

// CeilSeconds rounds a positive duration up to whole seconds.
func CeilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
