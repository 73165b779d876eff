package breaks

import (
	"fmt"
	"sync"
	"time"
)

// Rule is the limit configuration for one break kind. A Rule value is a
// consistent snapshot: Begin/End validate against a single Rule so a
// concurrent policy change is never observed mid-validation.
type Rule struct {
	LimitMinutes int
	ShiftQuota   int
	MinDuration  time.Duration
	Cooldown     time.Duration
}

// Policy holds the per-kind break rules and the global grace period.
// Limits and quotas are mutable at runtime by administrative action.
type Policy struct {
	mu    sync.RWMutex
	rules map[Kind]Rule
	grace time.Duration
}

// NewPolicy creates a policy from the initial per-kind rules.
func NewPolicy(rules map[Kind]Rule, grace time.Duration) *Policy {
	copied := make(map[Kind]Rule, len(rules))
	for k, r := range rules {
		copied[k] = r
	}
	return &Policy{rules: copied, grace: grace}
}

// Rule returns the current rule snapshot for a kind.
func (p *Policy) Rule(kind Kind) Rule {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rules[kind]
}

// Grace returns the grace period between the timeout reminder and the
// manager escalation.
func (p *Policy) Grace() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.grace
}

// SetLimit updates the duration cap for a kind. Open sessions keep the
// limit they snapshotted at Begin.
func (p *Policy) SetLimit(kind Kind, minutes int) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown break kind: %q", kind)
	}
	if minutes <= 0 {
		return fmt.Errorf("limit must be positive, got %d", minutes)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.rules[kind]
	r.LimitMinutes = minutes
	p.rules[kind] = r
	return nil
}

// SetQuota updates the per-shift count quota for a kind.
func (p *Policy) SetQuota(kind Kind, count int) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown break kind: %q", kind)
	}
	if count <= 0 {
		return fmt.Errorf("quota must be positive, got %d", count)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.rules[kind]
	r.ShiftQuota = count
	p.rules[kind] = r
	return nil
}
