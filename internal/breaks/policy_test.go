package breaks

import (
	"sync"
	"testing"
	"time"
)

func TestPolicy_SetLimit(t *testing.T) {
	p := testPolicy()

	if err := p.SetLimit(KindSmoke, 12); err != nil {
		t.Fatalf("SetLimit failed: %v", err)
	}
	if got := p.Rule(KindSmoke).LimitMinutes; got != 12 {
		t.Errorf("Expected limit 12, got %d", got)
	}

	// Other rule fields survive the update.
	if got := p.Rule(KindSmoke).Cooldown; got != 5*time.Minute {
		t.Errorf("Expected cooldown unchanged, got %v", got)
	}

	if err := p.SetLimit(KindSmoke, 0); err == nil {
		t.Error("Expected error for non-positive limit")
	}
	if err := p.SetLimit(Kind("nap"), 5); err == nil {
		t.Error("Expected error for unknown kind")
	}
}

func TestPolicy_SetQuota(t *testing.T) {
	p := testPolicy()

	if err := p.SetQuota(KindMeal, 2); err != nil {
		t.Fatalf("SetQuota failed: %v", err)
	}
	if got := p.Rule(KindMeal).ShiftQuota; got != 2 {
		t.Errorf("Expected quota 2, got %d", got)
	}

	if err := p.SetQuota(KindMeal, -1); err == nil {
		t.Error("Expected error for negative quota")
	}
}

func TestPolicy_ConcurrentRuleAccess(t *testing.T) {
	p := testPolicy()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < 500; i++ {
			if err := p.SetLimit(KindSmoke, i%30+1); err != nil {
				t.Errorf("SetLimit failed: %v", err)
				return
			}
			if err := p.SetQuota(KindSmoke, i%5+1); err != nil {
				t.Errorf("SetQuota failed: %v", err)
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			// Every snapshot must be internally consistent: written
			// fields in their valid ranges, untouched fields intact.
			r := p.Rule(KindSmoke)
			if r.LimitMinutes < 1 || r.LimitMinutes > 30 {
				t.Errorf("Torn limit read: %d", r.LimitMinutes)
				return
			}
			if r.ShiftQuota < 1 || r.ShiftQuota > 5 {
				t.Errorf("Torn quota read: %d", r.ShiftQuota)
				return
			}
			if r.MinDuration != 30*time.Second || r.Cooldown != 5*time.Minute {
				t.Errorf("Untouched fields changed: %+v", r)
				return
			}
			select {
			case <-done:
				return
			default:
			}
		}
	}()

	wg.Wait()
}

func TestParseKind(t *testing.T) {
	for _, kind := range Kinds() {
		parsed, err := ParseKind(string(kind))
		if err != nil {
			t.Errorf("ParseKind(%s) failed: %v", kind, err)
		}
		if parsed != kind {
			t.Errorf("ParseKind(%s) = %s", kind, parsed)
		}
	}
	if _, err := ParseKind("coffee"); err == nil {
		t.Error("Expected error for unknown kind")
	}
}
