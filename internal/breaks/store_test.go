package breaks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/shiftbreak/breakwatch/internal/storage"
	"github.com/shiftbreak/breakwatch/internal/timer"
)

// memUsers is an in-memory UserStore for tests.
type memUsers struct {
	mu   sync.Mutex
	recs map[int64]storage.UserRecord
}

func newMemUsers() *memUsers {
	return &memUsers{recs: make(map[int64]storage.UserRecord)}
}

func (m *memUsers) Get(ctx context.Context, userID int64) (*storage.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &rec, nil
}

func (m *memUsers) Upsert(ctx context.Context, rec storage.UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.UserID] = rec
	return nil
}

func (m *memUsers) Delete(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, userID)
	return nil
}

func (m *memUsers) List(ctx context.Context) ([]storage.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]storage.UserRecord, 0, len(m.recs))
	for _, rec := range m.recs {
		records = append(records, rec)
	}
	return records, nil
}

// captureNotifier records published events.
type captureNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *captureNotifier) Publish(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *captureNotifier) all() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Event, len(n.events))
	copy(out, n.events)
	return out
}

func testPolicy() *Policy {
	rules := map[Kind]Rule{
		KindToilet: {LimitMinutes: 10, ShiftQuota: 2, MinDuration: 30 * time.Second, Cooldown: 5 * time.Minute},
		KindSmoke:  {LimitMinutes: 10, ShiftQuota: 5, MinDuration: 30 * time.Second, Cooldown: 5 * time.Minute},
		KindMeal:   {LimitMinutes: 30, ShiftQuota: 3, MinDuration: 60 * time.Second, Cooldown: 15 * time.Minute},
	}
	return NewPolicy(rules, 3*time.Minute)
}

func setupStore(t *testing.T) (*Store, *clock.Mock, *captureNotifier, *memUsers) {
	t.Helper()

	mock := clock.NewMock()
	// 10:00 local at UTC+7, mid day shift
	mock.Set(time.Date(2026, 1, 5, 3, 0, 0, 0, time.UTC))

	shifts, err := NewShiftClock(mock, 7, "07:00", "19:00")
	if err != nil {
		t.Fatalf("NewShiftClock failed: %v", err)
	}

	notifier := &captureNotifier{}
	users := newMemUsers()
	timers := timer.New(mock, zerolog.Nop())
	store := NewStore(testPolicy(), shifts, timers, users, notifier, zerolog.Nop())

	return store, mock, notifier, users
}

func TestBegin_ConcurrentSingleWinner(t *testing.T) {
	store, _, _, _ := setupStore(t)

	const attempts = 16
	var began, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Begin(1, 100, KindSmoke, Identity{UserID: 1})
			switch {
			case err == nil:
				began.Add(1)
			case errors.Is(err, ErrAlreadyActive):
				rejected.Add(1)
			default:
				t.Errorf("Unexpected Begin error: %v", err)
			}
		}()
	}
	wg.Wait()

	if began.Load() != 1 {
		t.Errorf("Expected exactly one Begin to win, got %d", began.Load())
	}
	if rejected.Load() != attempts-1 {
		t.Errorf("Expected %d already-active rejections, got %d", attempts-1, rejected.Load())
	}
}

func TestBegin_StartsSession(t *testing.T) {
	store, _, _, _ := setupStore(t)

	info, err := store.Begin(1, 100, KindToilet, Identity{UserID: 1, DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if info.Kind != KindToilet {
		t.Errorf("Expected kind %s, got %s", KindToilet, info.Kind)
	}
	if info.LimitMinutes != 10 {
		t.Errorf("Expected limit 10, got %d", info.LimitMinutes)
	}
	if info.TodayCount != 0 {
		t.Errorf("Expected count 0, got %d", info.TodayCount)
	}
	if info.Shift != ShiftDay {
		t.Errorf("Expected day shift, got %s", info.Shift)
	}
}

func TestBegin_AlreadyActive(t *testing.T) {
	store, _, _, _ := setupStore(t)

	if _, err := store.Begin(1, 100, KindToilet, Identity{UserID: 1}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := store.Begin(1, 100, KindSmoke, Identity{UserID: 1}); err != ErrAlreadyActive {
		t.Errorf("Expected ErrAlreadyActive, got %v", err)
	}
}

func TestBegin_IndependentUsers(t *testing.T) {
	store, _, _, _ := setupStore(t)

	if _, err := store.Begin(1, 100, KindToilet, Identity{UserID: 1}); err != nil {
		t.Fatalf("Begin user 1 failed: %v", err)
	}
	if _, err := store.Begin(2, 100, KindToilet, Identity{UserID: 2}); err != nil {
		t.Fatalf("Begin user 2 failed: %v", err)
	}
}

func completeBreak(t *testing.T, store *Store, mock *clock.Mock, userID, chatID int64, kind Kind, dur time.Duration) EndOutcome {
	t.Helper()
	if _, err := store.Begin(userID, chatID, kind, Identity{UserID: userID}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	mock.Add(dur)
	out, err := store.End(userID, chatID)
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}
	return out
}

func TestEnd_CountsQualifyingBreak(t *testing.T) {
	store, mock, _, _ := setupStore(t)

	out := completeBreak(t, store, mock, 1, 100, KindToilet, 2*time.Minute)
	if out.TooShort {
		t.Fatal("Expected qualifying break")
	}
	if out.TodayCount != 1 {
		t.Errorf("Expected count 1, got %d", out.TodayCount)
	}
	if out.ElapsedSeconds != 120 {
		t.Errorf("Expected 120s elapsed, got %d", out.ElapsedSeconds)
	}
	if out.Overtime {
		t.Error("Expected no overtime")
	}
}

func TestEnd_TooShortNotCounted(t *testing.T) {
	store, mock, _, _ := setupStore(t)

	out := completeBreak(t, store, mock, 1, 100, KindToilet, 10*time.Second)
	if !out.TooShort {
		t.Fatal("Expected too-short outcome")
	}
	if out.MinSeconds != 30 {
		t.Errorf("Expected min 30s, got %d", out.MinSeconds)
	}

	// No cooldown mark: an immediate restart is allowed.
	if _, err := store.Begin(1, 100, KindToilet, Identity{UserID: 1}); err != nil {
		t.Errorf("Expected immediate restart after discarded break, got %v", err)
	}
}

func TestEnd_OvertimeStrictlyPastLimit(t *testing.T) {
	store, mock, _, _ := setupStore(t)

	out := completeBreak(t, store, mock, 1, 100, KindToilet, 10*time.Minute)
	if out.Overtime {
		t.Error("Exactly at limit must not be overtime")
	}

	mock.Add(6 * time.Minute) // clear cooldown
	out = completeBreak(t, store, mock, 1, 100, KindToilet, 10*time.Minute+time.Second)
	if !out.Overtime {
		t.Error("One second past limit must be overtime")
	}
}

func TestEnd_NoActiveSession(t *testing.T) {
	store, _, _, _ := setupStore(t)

	if _, err := store.End(1, 100); err != ErrNoActiveSession {
		t.Errorf("Expected ErrNoActiveSession, got %v", err)
	}
}

func TestBegin_CooldownWindow(t *testing.T) {
	store, mock, _, _ := setupStore(t)

	completeBreak(t, store, mock, 1, 100, KindToilet, time.Minute)

	_, err := store.Begin(1, 100, KindToilet, Identity{UserID: 1})
	if _, ok := err.(*CooldownError); !ok {
		t.Fatalf("Expected CooldownError, got %v", err)
	}

	// Exactly at the boundary the cooldown has elapsed.
	mock.Add(5 * time.Minute)
	if _, err := store.Begin(1, 100, KindToilet, Identity{UserID: 1}); err != nil {
		t.Errorf("Expected begin at cooldown boundary to succeed, got %v", err)
	}
}

func TestBegin_CooldownPerKind(t *testing.T) {
	store, mock, _, _ := setupStore(t)

	completeBreak(t, store, mock, 1, 100, KindToilet, time.Minute)

	// Different kind is unaffected by the toilet cooldown.
	if _, err := store.Begin(1, 100, KindSmoke, Identity{UserID: 1}); err != nil {
		t.Errorf("Expected smoke begin to succeed, got %v", err)
	}
}

func TestBegin_QuotaExhausted(t *testing.T) {
	store, mock, _, _ := setupStore(t)

	// Toilet quota is 2 in the test policy.
	for i := 0; i < 2; i++ {
		completeBreak(t, store, mock, 1, 100, KindToilet, time.Minute)
		mock.Add(6 * time.Minute)
	}

	_, err := store.Begin(1, 100, KindToilet, Identity{UserID: 1})
	qe, ok := err.(*QuotaError)
	if !ok {
		t.Fatalf("Expected QuotaError, got %v", err)
	}
	if qe.Limit != 2 {
		t.Errorf("Expected quota 2, got %d", qe.Limit)
	}
}

func TestReminderAndEscalationFire(t *testing.T) {
	store, mock, notifier, _ := setupStore(t)

	if _, err := store.Begin(1, 100, KindToilet, Identity{UserID: 1, Username: "alice"}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	mock.Add(10 * time.Minute)
	events := notifier.all()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event after limit, got %d", len(events))
	}
	reminder, ok := events[0].(TimeoutReminder)
	if !ok {
		t.Fatalf("Expected TimeoutReminder, got %T", events[0])
	}
	if reminder.LimitMinutes != 10 {
		t.Errorf("Expected limit 10, got %d", reminder.LimitMinutes)
	}

	mock.Add(3 * time.Minute)
	events = notifier.all()
	if len(events) != 2 {
		t.Fatalf("Expected 2 events after grace, got %d", len(events))
	}
	esc, ok := events[1].(GraceEscalation)
	if !ok {
		t.Fatalf("Expected GraceEscalation, got %T", events[1])
	}
	if esc.ElapsedSeconds != 13*60 {
		t.Errorf("Expected 780s elapsed, got %d", esc.ElapsedSeconds)
	}
}

func TestEndSuppressesTimers(t *testing.T) {
	store, mock, notifier, _ := setupStore(t)

	if _, err := store.Begin(1, 100, KindToilet, Identity{UserID: 1}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	mock.Add(time.Minute)
	if _, err := store.End(1, 100); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	mock.Add(time.Hour)
	if events := notifier.all(); len(events) != 0 {
		t.Errorf("Expected no timer events after end, got %d", len(events))
	}
}

func TestForceEnd_NotCounted(t *testing.T) {
	store, mock, _, _ := setupStore(t)

	if _, err := store.Begin(1, 100, KindToilet, Identity{UserID: 1}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	mock.Add(4 * time.Minute)

	fc, ok := store.ForceEnd(1, mock.Now())
	if !ok {
		t.Fatal("Expected force end to close a session")
	}
	if fc.ChatID != 100 || fc.Kind != KindToilet {
		t.Errorf("Unexpected forced close: %+v", fc)
	}
	if fc.ElapsedSeconds != 240 {
		t.Errorf("Expected 240s, got %d", fc.ElapsedSeconds)
	}

	// Not counted and no cooldown: stats stay empty, restart allowed.
	if entries := store.ChatSummary(100); len(entries) != 0 {
		t.Errorf("Expected empty summary, got %d entries", len(entries))
	}
	if _, err := store.Begin(1, 100, KindToilet, Identity{UserID: 1}); err != nil {
		t.Errorf("Expected restart after force end, got %v", err)
	}
}

func TestForceEnd_NoSession(t *testing.T) {
	store, mock, _, _ := setupStore(t)
	if _, ok := store.ForceEnd(1, mock.Now()); ok {
		t.Error("Expected no forced close for unknown user")
	}
}

func TestActiveInChat(t *testing.T) {
	store, mock, _, _ := setupStore(t)

	store.Begin(2, 100, KindSmoke, Identity{UserID: 2, DisplayName: "Bob"})
	store.Begin(1, 100, KindToilet, Identity{UserID: 1, DisplayName: "Alice"})
	store.Begin(3, 200, KindMeal, Identity{UserID: 3})
	mock.Add(time.Minute)

	entries := store.ActiveInChat(100)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].User.UserID != 1 || entries[1].User.UserID != 2 {
		t.Errorf("Expected entries ordered by user ID, got %d, %d",
			entries[0].User.UserID, entries[1].User.UserID)
	}
	if entries[0].ElapsedSeconds != 60 {
		t.Errorf("Expected 60s elapsed, got %d", entries[0].ElapsedSeconds)
	}
}

func TestChatSummary_ScopedToChat(t *testing.T) {
	store, mock, _, _ := setupStore(t)

	completeBreak(t, store, mock, 1, 100, KindToilet, time.Minute)
	completeBreak(t, store, mock, 2, 200, KindSmoke, time.Minute)

	entries := store.ChatSummary(100)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].User.UserID != 1 {
		t.Errorf("Expected user 1, got %d", entries[0].User.UserID)
	}
	if len(entries[0].Totals) != 1 || entries[0].Totals[0].Kind != KindToilet {
		t.Errorf("Unexpected totals: %+v", entries[0].Totals)
	}
	if entries[0].Totals[0].TotalSeconds != 60 {
		t.Errorf("Expected 60s total, got %d", entries[0].Totals[0].TotalSeconds)
	}
}

func TestResetShiftCounters(t *testing.T) {
	store, mock, _, _ := setupStore(t)

	completeBreak(t, store, mock, 1, 100, KindToilet, time.Minute)
	store.ResetShiftCounters()

	if entries := store.ChatSummary(100); len(entries) != 0 {
		t.Errorf("Expected empty summary after reset, got %d entries", len(entries))
	}

	// Quota is usable again after the reset.
	mock.Add(6 * time.Minute)
	info, err := store.Begin(1, 100, KindToilet, Identity{UserID: 1})
	if err != nil {
		t.Fatalf("Begin after reset failed: %v", err)
	}
	if info.TodayCount != 0 {
		t.Errorf("Expected count 0 after reset, got %d", info.TodayCount)
	}
}

func TestCollectIdle(t *testing.T) {
	store, mock, _, users := setupStore(t)

	completeBreak(t, store, mock, 1, 100, KindToilet, time.Minute)

	// Active user is never collected.
	store.Begin(2, 100, KindSmoke, Identity{UserID: 2})

	mock.Add(31 * 24 * time.Hour)
	removed := store.CollectIdle(30*24*time.Hour, mock.Now())
	if removed != 1 {
		t.Fatalf("Expected 1 removed, got %d", removed)
	}
	if _, err := users.Get(context.Background(), 1); err != storage.ErrNotFound {
		t.Errorf("Expected user 1 deleted from storage, got %v", err)
	}
	if _, err := users.Get(context.Background(), 2); err != nil {
		t.Errorf("Expected user 2 retained, got %v", err)
	}
}

func TestRestore_ReschedulesTimers(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 5, 3, 0, 0, 0, time.UTC))

	shifts, err := NewShiftClock(mock, 7, "07:00", "19:00")
	if err != nil {
		t.Fatalf("NewShiftClock failed: %v", err)
	}

	users := newMemUsers()
	started := mock.Now().UTC().Add(-4 * time.Minute)
	users.Upsert(context.Background(), storage.UserRecord{
		UserID:      1,
		DisplayName: "Alice",
		Session: &storage.ActiveSession{
			ChatID:       100,
			Kind:         string(KindToilet),
			StartedAt:    started,
			LimitMinutes: 10,
		},
		LastActivity: started,
	})

	notifier := &captureNotifier{}
	store := NewStore(testPolicy(), shifts, timer.New(mock, zerolog.Nop()), users, notifier, zerolog.Nop())

	if err := store.Restore(context.Background()); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	// 4 minutes already elapsed, reminder due after 6 more.
	mock.Add(6 * time.Minute)
	events := notifier.all()
	if len(events) != 1 {
		t.Fatalf("Expected reminder after restore, got %d events", len(events))
	}
	if _, ok := events[0].(TimeoutReminder); !ok {
		t.Errorf("Expected TimeoutReminder, got %T", events[0])
	}

	if ids := store.ActiveUserIDs(); len(ids) != 1 || ids[0] != 1 {
		t.Errorf("Expected active user 1, got %v", ids)
	}
}

func TestRestore_OverdueSessionRemindsPromptly(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 5, 3, 0, 0, 0, time.UTC))

	shifts, _ := NewShiftClock(mock, 7, "07:00", "19:00")
	users := newMemUsers()
	users.Upsert(context.Background(), storage.UserRecord{
		UserID: 1,
		Session: &storage.ActiveSession{
			ChatID:       100,
			Kind:         string(KindToilet),
			StartedAt:    mock.Now().UTC().Add(-time.Hour),
			LimitMinutes: 10,
		},
	})

	notifier := &captureNotifier{}
	store := NewStore(testPolicy(), shifts, timer.New(mock, zerolog.Nop()), users, notifier, zerolog.Nop())
	if err := store.Restore(context.Background()); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	mock.Add(2 * time.Second)
	events := notifier.all()
	if len(events) == 0 {
		t.Fatal("Expected prompt reminder for overdue session")
	}
}
