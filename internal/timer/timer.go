package timer

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/shiftbreak/breakwatch/internal/metrics"
)

// Purpose labels what a scheduled callback is for. It is carried for
// logging and metrics only; the service never interprets payloads.
type Purpose string

const (
	PurposeReminder Purpose = "reminder"
	PurposeGrace    Purpose = "grace"
	PurposeCleanup  Purpose = "cleanup"
)

// Service schedules delayed callbacks with exactly-once delivery per
// schedule and idempotent cancellation. Cancellation is advisory: a
// callback that has already begun executing cannot be suppressed, so
// handlers must re-check current state before acting.
type Service struct {
	clk    clock.Clock
	logger zerolog.Logger
}

// New creates a timer service on the given clock.
func New(clk clock.Clock, logger zerolog.Logger) *Service {
	return &Service{
		clk:    clk,
		logger: logger.With().Str("component", "timer").Logger(),
	}
}

// Handle identifies one scheduled callback and allows cancellation.
type Handle struct {
	purpose   Purpose
	timer     *clock.Timer
	cancelled atomic.Bool
}

// Schedule fires fn once after delay and returns a cancellation handle.
func (s *Service) Schedule(purpose Purpose, delay time.Duration, fn func()) *Handle {
	h := &Handle{purpose: purpose}
	metrics.TimersScheduled.WithLabelValues(string(purpose)).Inc()

	h.timer = s.clk.AfterFunc(delay, func() {
		if h.cancelled.Load() {
			return
		}
		metrics.TimersFired.WithLabelValues(string(purpose)).Inc()
		fn()
	})

	s.logger.Debug().
		Str("purpose", string(purpose)).
		Dur("delay", delay).
		Msg("Scheduled callback")

	return h
}

// Cancel suppresses the callback if it has not started executing yet.
// Cancelling an already-fired or already-cancelled handle is a no-op,
// and a nil handle is safe to cancel.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	if !h.cancelled.CompareAndSwap(false, true) {
		return
	}
	if h.timer.Stop() {
		metrics.TimersCancelled.WithLabelValues(string(h.purpose)).Inc()
	}
}
