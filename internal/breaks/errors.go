package breaks

import (
	"errors"
	"fmt"
	"time"
)

// Expected validation failures. All are user-visible and leave state
// untouched; none is fatal.
var (
	ErrAlreadyActive   = errors.New("breaks: a session is already active")
	ErrNoActiveSession = errors.New("breaks: no active session")
)

// QuotaError reports a Begin past the per-shift count quota.
type QuotaError struct {
	Kind  Kind
	Limit int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("breaks: shift quota reached for %s (%d)", e.Kind, e.Limit)
}

// CooldownError reports a Begin inside the cooldown window.
type CooldownError struct {
	Kind      Kind
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("breaks: %s cooldown active, %s remaining", e.Kind, e.Remaining)
}
