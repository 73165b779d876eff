package shift

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/shiftbreak/breakwatch/internal/breaks"
	"github.com/shiftbreak/breakwatch/internal/metrics"
)

// SessionControl is the slice of the session store the aggregator drives.
type SessionControl interface {
	ActiveUserIDs() []int64
	ForceEnd(userID int64, now time.Time) (breaks.ForcedClose, bool)
	ResetShiftCounters()
	CollectIdle(retention time.Duration, now time.Time) int
}

// Aggregator runs the shift lifecycle: at every shift boundary it
// force-closes open sessions, publishes a per-chat report, resets the
// shift counters and collects long-idle users. A reconciliation pass
// runs shortly after startup to clear sessions left open across a
// restart.
type Aggregator struct {
	clk            clock.Clock
	shifts         *breaks.ShiftClock
	sessions       SessionControl
	notify         breaks.Notifier
	retention      time.Duration
	reconcileDelay time.Duration
	logger         zerolog.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates a shift aggregator. It does nothing until Start.
func New(clk clock.Clock, shifts *breaks.ShiftClock, sessions SessionControl, notify breaks.Notifier, retention, reconcileDelay time.Duration, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		clk:            clk,
		shifts:         shifts,
		sessions:       sessions,
		notify:         notify,
		retention:      retention,
		reconcileDelay: reconcileDelay,
		logger:         logger.With().Str("component", "shift").Logger(),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Start launches the boundary loop in the background.
func (a *Aggregator) Start() {
	go a.loop()
}

// Stop terminates the loop and waits for it to exit.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	<-a.doneCh
}

func (a *Aggregator) loop() {
	defer close(a.doneCh)

	if a.reconcileDelay > 0 {
		select {
		case <-a.clk.After(a.reconcileDelay):
			a.runReset("startup")
		case <-a.stopCh:
			return
		}
	}

	for {
		now := a.shifts.Now()
		next := a.shifts.NextBoundary(now)
		a.logger.Info().
			Time("next_boundary", next).
			Str("current_shift", a.shifts.ShiftLabel(now)).
			Msg("Waiting for shift boundary")

		select {
		case <-a.clk.After(next.Sub(now)):
			a.runReset("boundary")
		case <-a.stopCh:
			return
		}
	}
}

// runReset performs one full reset pass. Sessions force-closed here are
// grouped per chat so each chat gets exactly one report.
func (a *Aggregator) runReset(reason string) {
	now := a.shifts.Now().UTC()

	byChat := make(map[int64][]breaks.ShiftEntry)
	for _, userID := range a.sessions.ActiveUserIDs() {
		fc, ok := a.sessions.ForceEnd(userID, now)
		if !ok {
			continue
		}
		byChat[fc.ChatID] = append(byChat[fc.ChatID], breaks.ShiftEntry{
			User:           fc.User,
			Kind:           fc.Kind,
			ElapsedSeconds: fc.ElapsedSeconds,
			StartLocal:     a.shifts.Local(fc.StartedAt).Format("15:04"),
		})
	}

	for chatID, entries := range byChat {
		a.notify.Publish(breaks.ShiftReport{ChatID: chatID, Entries: entries})
	}

	a.sessions.ResetShiftCounters()
	metrics.ShiftResets.Inc()

	collected := a.sessions.CollectIdle(a.retention, now)

	a.logger.Info().
		Str("reason", reason).
		Int("force_closed", countEntries(byChat)).
		Int("idle_collected", collected).
		Str("shift", a.shifts.ShiftLabel(now)).
		Msg("Shift reset complete")
}

func countEntries(byChat map[int64][]breaks.ShiftEntry) int {
	n := 0
	for _, entries := range byChat {
		n += len(entries)
	}
	return n
}
