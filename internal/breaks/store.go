package breaks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shiftbreak/breakwatch/internal/metrics"
	"github.com/shiftbreak/breakwatch/internal/storage"
	"github.com/shiftbreak/breakwatch/internal/timer"
)

const persistTimeout = 5 * time.Second

// BeginInfo is the snapshot returned by a successful Begin for the caller
// to render.
type BeginInfo struct {
	Kind         Kind
	LimitMinutes int
	TodayCount   int
	Quota        int
	Shift        string
}

// EndOutcome describes how a session ended. TooShort outcomes carry only
// the elapsed and minimum seconds; completed outcomes carry the updated
// shift totals.
type EndOutcome struct {
	Kind              Kind
	TooShort          bool
	ElapsedSeconds    int64
	MinSeconds        int
	LimitMinutes      int
	Overtime          bool
	TodayCount        int
	Quota             int
	TodayTotalSeconds int64
	Shift             string
}

// ForcedClose reports a session closed by the shift reset pass.
type ForcedClose struct {
	ChatID         int64
	User           Identity
	Kind           Kind
	ElapsedSeconds int64
	StartedAt      time.Time
}

// userState pairs a user's persisted record with its live timer handles.
// All access goes through mu; the handles are never persisted.
type userState struct {
	mu       sync.Mutex
	rec      storage.UserRecord
	reminder *timer.Handle
	grace    *timer.Handle
}

// Store owns the authoritative per-user break state. Operations on the
// same user are serialized by the per-user mutex; operations on different
// users proceed independently. The registry mutex only guards the user
// map itself.
type Store struct {
	policy *Policy
	clock  *ShiftClock
	timers *timer.Service
	db     storage.UserStore
	notify Notifier
	logger zerolog.Logger

	mu    sync.RWMutex
	users map[int64]*userState
}

// NewStore creates a session store. The notifier receives the timer-driven
// events (reminders, escalations); request-path notices are built by the
// caller from the returned values.
func NewStore(policy *Policy, clk *ShiftClock, timers *timer.Service, db storage.UserStore, notify Notifier, logger zerolog.Logger) *Store {
	return &Store{
		policy: policy,
		clock:  clk,
		timers: timers,
		db:     db,
		notify: notify,
		logger: logger.With().Str("component", "session-store").Logger(),
		users:  make(map[int64]*userState),
	}
}

// Restore rebuilds in-memory state from persisted records and reschedules
// reminder and grace timers for any session still open. Sessions that
// overran a shift boundary while the process was down are closed by the
// startup reconciliation pass shortly after.
func (s *Store) Restore(ctx context.Context) error {
	records, err := s.db.List(ctx)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	restored := 0

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		u := &userState{rec: rec}
		s.users[rec.UserID] = u
		if rec.Session == nil {
			continue
		}

		userID := rec.UserID
		limit := time.Duration(rec.Session.LimitMinutes) * time.Minute
		remaining := limit - now.Sub(rec.Session.StartedAt)
		if remaining < time.Second {
			remaining = time.Second
		}
		u.reminder = s.timers.Schedule(timer.PurposeReminder, remaining, func() { s.onReminder(userID) })
		u.grace = s.timers.Schedule(timer.PurposeGrace, remaining+s.policy.Grace(), func() { s.onGrace(userID) })
		metrics.ActiveBreaks.Inc()
		restored++
	}

	s.logger.Info().
		Int("users", len(records)).
		Int("open_sessions", restored).
		Msg("Restored persisted state")

	return nil
}

// user returns the state for a user, creating it lazily.
func (s *Store) user(userID int64) *userState {
	s.mu.RLock()
	u := s.users[userID]
	s.mu.RUnlock()
	if u != nil {
		return u
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if u = s.users[userID]; u == nil {
		u = &userState{rec: storage.UserRecord{UserID: userID}}
		s.users[userID] = u
	}
	return u
}

// lookup returns the state for a user without creating it.
func (s *Store) lookup(userID int64) *userState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[userID]
}

// Begin validates and starts a break session. Validation order: active
// session, shift quota, cooldown. On success the policy limit is
// snapshotted into the session and the reminder and grace timers are
// scheduled.
func (s *Store) Begin(userID, chatID int64, kind Kind, id Identity) (BeginInfo, error) {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	now := s.clock.Now().UTC()

	if u.rec.Session != nil {
		metrics.BeginRejected.WithLabelValues("already_active").Inc()
		return BeginInfo{}, ErrAlreadyActive
	}

	rule := s.policy.Rule(kind)
	count := statsFor(&u.rec, chatID, kind).Count
	if rule.ShiftQuota > 0 && count >= rule.ShiftQuota {
		metrics.BeginRejected.WithLabelValues("quota").Inc()
		return BeginInfo{}, &QuotaError{Kind: kind, Limit: rule.ShiftQuota}
	}

	if last, ok := u.rec.LastEnds[string(kind)]; ok {
		if since := now.Sub(last); since < rule.Cooldown {
			metrics.BeginRejected.WithLabelValues("cooldown").Inc()
			return BeginInfo{}, &CooldownError{Kind: kind, Remaining: rule.Cooldown - since}
		}
	}

	u.rec.Session = &storage.ActiveSession{
		ChatID:       chatID,
		Kind:         string(kind),
		StartedAt:    now,
		LimitMinutes: rule.LimitMinutes,
	}
	u.rec.LastChatID = chatID
	u.rec.LastActivity = now
	u.rec.Username = id.Username
	u.rec.DisplayName = id.DisplayName

	// Stale handles should not exist here; cancel defensively anyway.
	u.reminder.Cancel()
	u.grace.Cancel()

	limit := time.Duration(rule.LimitMinutes) * time.Minute
	u.reminder = s.timers.Schedule(timer.PurposeReminder, limit, func() { s.onReminder(userID) })
	u.grace = s.timers.Schedule(timer.PurposeGrace, limit+s.policy.Grace(), func() { s.onGrace(userID) })

	s.persist(u)

	metrics.BreaksStarted.WithLabelValues(string(kind)).Inc()
	metrics.ActiveBreaks.Inc()

	s.logger.Info().
		Int64("user_id", userID).
		Int64("chat_id", chatID).
		Str("kind", string(kind)).
		Int("limit_minutes", rule.LimitMinutes).
		Msg("Break started")

	return BeginInfo{
		Kind:         kind,
		LimitMinutes: rule.LimitMinutes,
		TodayCount:   count,
		Quota:        rule.ShiftQuota,
		Shift:        s.clock.ShiftLabel(now),
	}, nil
}

// End closes the user's active session. Sessions shorter than the minimum
// qualifying duration are discarded without touching stats or the cooldown
// mark. Overtime is a strict greater-than on seconds.
func (s *Store) End(userID, chatID int64) (EndOutcome, error) {
	u := s.lookup(userID)
	if u == nil {
		return EndOutcome{}, ErrNoActiveSession
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	sess := u.rec.Session
	if sess == nil {
		return EndOutcome{}, ErrNoActiveSession
	}

	u.reminder.Cancel()
	u.grace.Cancel()
	u.reminder, u.grace = nil, nil

	now := s.clock.Now().UTC()
	elapsed := now.Sub(sess.StartedAt)
	elapsedSec := int64(elapsed / time.Second)
	kind := Kind(sess.Kind)
	rule := s.policy.Rule(kind)

	u.rec.Session = nil
	u.rec.LastActivity = now
	metrics.ActiveBreaks.Dec()

	if elapsed < rule.MinDuration {
		s.persist(u)
		metrics.BreaksDiscarded.WithLabelValues(string(kind)).Inc()

		s.logger.Info().
			Int64("user_id", userID).
			Str("kind", string(kind)).
			Int64("elapsed_seconds", elapsedSec).
			Msg("Break too short, not counted")

		return EndOutcome{
			Kind:           kind,
			TooShort:       true,
			ElapsedSeconds: elapsedSec,
			MinSeconds:     int(rule.MinDuration / time.Second),
		}, nil
	}

	st := statsFor(&u.rec, chatID, kind)
	st.Count++
	st.TotalSeconds += elapsedSec
	setStats(&u.rec, chatID, kind, *st)
	if u.rec.LastEnds == nil {
		u.rec.LastEnds = make(map[string]time.Time)
	}
	u.rec.LastEnds[string(kind)] = now

	s.persist(u)

	overtime := elapsedSec > int64(sess.LimitMinutes)*60
	metrics.BreaksCompleted.WithLabelValues(string(kind), boolLabel(overtime)).Inc()

	s.logger.Info().
		Int64("user_id", userID).
		Str("kind", string(kind)).
		Int64("elapsed_seconds", elapsedSec).
		Bool("overtime", overtime).
		Msg("Break completed")

	return EndOutcome{
		Kind:              kind,
		ElapsedSeconds:    elapsedSec,
		LimitMinutes:      sess.LimitMinutes,
		Overtime:          overtime,
		TodayCount:        st.Count,
		Quota:             rule.ShiftQuota,
		TodayTotalSeconds: st.TotalSeconds,
		Shift:             s.clock.ShiftLabel(now),
	}, nil
}

// ForceEnd closes a session without counting it, for the shift reset
// pass. It never fails; ok is false when the user has no open session
// (for example because a racing End won).
func (s *Store) ForceEnd(userID int64, now time.Time) (ForcedClose, bool) {
	u := s.lookup(userID)
	if u == nil {
		return ForcedClose{}, false
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	sess := u.rec.Session
	if sess == nil {
		return ForcedClose{}, false
	}

	u.reminder.Cancel()
	u.grace.Cancel()
	u.reminder, u.grace = nil, nil

	kind := Kind(sess.Kind)
	fc := ForcedClose{
		ChatID:         sess.ChatID,
		User:           identityOf(&u.rec),
		Kind:           kind,
		ElapsedSeconds: int64(now.Sub(sess.StartedAt) / time.Second),
		StartedAt:      sess.StartedAt,
	}

	u.rec.Session = nil
	u.rec.LastActivity = now
	s.persist(u)

	metrics.ActiveBreaks.Dec()
	metrics.ForceClosed.WithLabelValues(string(kind)).Inc()

	s.logger.Info().
		Int64("user_id", userID).
		Str("kind", string(kind)).
		Int64("elapsed_seconds", fc.ElapsedSeconds).
		Msg("Session force-closed")

	return fc, true
}

// onReminder fires when a session reaches its limit. The session may have
// ended between scheduling and firing; state is the source of truth.
func (s *Store) onReminder(userID int64) {
	u := s.lookup(userID)
	if u == nil {
		return
	}

	u.mu.Lock()
	sess := u.rec.Session
	if sess == nil {
		u.mu.Unlock()
		return
	}
	ev := TimeoutReminder{
		ChatID:       sess.ChatID,
		User:         identityOf(&u.rec),
		Kind:         Kind(sess.Kind),
		LimitMinutes: sess.LimitMinutes,
	}
	u.mu.Unlock()

	s.notify.Publish(ev)
}

// onGrace fires after the grace period past the limit and escalates to
// the manager if the session is still open.
func (s *Store) onGrace(userID int64) {
	u := s.lookup(userID)
	if u == nil {
		return
	}

	u.mu.Lock()
	sess := u.rec.Session
	if sess == nil {
		u.mu.Unlock()
		return
	}
	now := s.clock.Now().UTC()
	ev := GraceEscalation{
		ChatID:         sess.ChatID,
		User:           identityOf(&u.rec),
		Kind:           Kind(sess.Kind),
		ElapsedSeconds: int64(now.Sub(sess.StartedAt) / time.Second),
		GraceMinutes:   int(s.policy.Grace() / time.Minute),
	}
	u.mu.Unlock()

	s.notify.Publish(ev)
}

// ActiveInChat returns the open sessions whose owner chat matches,
// ordered by user ID for stable rendering.
func (s *Store) ActiveInChat(chatID int64) []WhoEntry {
	now := s.clock.Now().UTC()
	entries := make([]WhoEntry, 0)

	for _, u := range s.states() {
		u.mu.Lock()
		sess := u.rec.Session
		if sess != nil && sess.ChatID == chatID {
			entries = append(entries, WhoEntry{
				User:           identityOf(&u.rec),
				Kind:           Kind(sess.Kind),
				ElapsedSeconds: int64(now.Sub(sess.StartedAt) / time.Second),
				StartLocal:     s.clock.Local(sess.StartedAt).Format("15:04"),
			})
		}
		u.mu.Unlock()
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].User.UserID < entries[j].User.UserID })
	return entries
}

// ChatSummary returns the per-user shift totals for a chat, skipping
// users with no recorded usage there.
func (s *Store) ChatSummary(chatID int64) []SummaryEntry {
	key := storage.ChatKey(chatID)
	entries := make([]SummaryEntry, 0)

	for _, u := range s.states() {
		u.mu.Lock()
		byKind := u.rec.Stats[key]
		totals := make([]KindTotal, 0, len(byKind))
		for _, kind := range Kinds() {
			st, ok := byKind[string(kind)]
			if !ok || (st.Count == 0 && st.TotalSeconds == 0) {
				continue
			}
			totals = append(totals, KindTotal{Kind: kind, Count: st.Count, TotalSeconds: st.TotalSeconds})
		}
		if len(totals) > 0 {
			entries = append(entries, SummaryEntry{User: identityOf(&u.rec), Totals: totals})
		}
		u.mu.Unlock()
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].User.UserID < entries[j].User.UserID })
	return entries
}

// ActiveUserIDs returns the IDs of all users with an open session.
func (s *Store) ActiveUserIDs() []int64 {
	ids := make([]int64, 0)
	for _, u := range s.states() {
		u.mu.Lock()
		if u.rec.Session != nil {
			ids = append(ids, u.rec.UserID)
		}
		u.mu.Unlock()
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ResetShiftCounters zeroes every usage entry for every chat and kind.
func (s *Store) ResetShiftCounters() {
	for _, u := range s.states() {
		u.mu.Lock()
		changed := false
		for chatKey, byKind := range u.rec.Stats {
			for kind := range byKind {
				u.rec.Stats[chatKey][kind] = storage.KindStats{}
				changed = true
			}
		}
		if changed {
			s.persist(u)
		}
		u.mu.Unlock()
	}
}

// CollectIdle removes users with no open session whose last activity is
// older than the retention window. Returns the number removed.
func (s *Store) CollectIdle(retention time.Duration, now time.Time) int {
	removed := 0
	for _, u := range s.states() {
		u.mu.Lock()
		idle := u.rec.Session == nil &&
			!u.rec.LastActivity.IsZero() &&
			now.Sub(u.rec.LastActivity) > retention
		userID := u.rec.UserID
		u.mu.Unlock()

		if !idle {
			continue
		}

		s.mu.Lock()
		delete(s.users, userID)
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := s.db.Delete(ctx, userID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to delete idle user")
		}
		cancel()
		removed++
	}

	if removed > 0 {
		metrics.IdleUsersCollected.Add(float64(removed))
		s.logger.Info().Int("removed", removed).Msg("Collected idle users")
	}
	return removed
}

// states snapshots the current user states under the registry lock.
func (s *Store) states() []*userState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make([]*userState, 0, len(s.users))
	for _, u := range s.users {
		states = append(states, u)
	}
	return states
}

// persist writes the record through to storage. Failure is logged and
// never rolls back the in-memory mutation. Must be called with the user
// lock held.
func (s *Store) persist(u *userState) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.db.Upsert(ctx, u.rec); err != nil {
		s.logger.Error().Err(err).Int64("user_id", u.rec.UserID).Msg("Failed to persist user record")
	}
}

// statsFor returns the stats entry for (chat, kind), zero-valued if it
// does not exist yet.
func statsFor(rec *storage.UserRecord, chatID int64, kind Kind) *storage.KindStats {
	st := rec.Stats[storage.ChatKey(chatID)][string(kind)]
	return &st
}

func setStats(rec *storage.UserRecord, chatID int64, kind Kind, st storage.KindStats) {
	if rec.Stats == nil {
		rec.Stats = make(map[string]map[string]storage.KindStats)
	}
	key := storage.ChatKey(chatID)
	if rec.Stats[key] == nil {
		rec.Stats[key] = make(map[string]storage.KindStats)
	}
	rec.Stats[key][string(kind)] = st
}

func identityOf(rec *storage.UserRecord) Identity {
	return Identity{
		UserID:      rec.UserID,
		Username:    rec.Username,
		DisplayName: rec.DisplayName,
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
