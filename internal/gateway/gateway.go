package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/shiftbreak/breakwatch/internal/breaks"
	"github.com/shiftbreak/breakwatch/internal/metrics"
	"github.com/shiftbreak/breakwatch/internal/telegram"
	"github.com/shiftbreak/breakwatch/internal/timer"
)

const sendTimeout = 10 * time.Second

// Sender is the outbound slice of the chat transport.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, html string, replyTo int64) (*telegram.Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

// Options configures delivery behavior and the manager identity used in
// escalations.
type Options struct {
	ManagerID       int64
	ManagerUsername string
	ManagerName     string
	MaxAttempts     int
	HelpDelete      time.Duration
}

// Gateway renders events into chat messages and delivers them with
// retries. Publish never blocks; each event is delivered on its own
// goroutine so slow chats cannot stall state mutation.
type Gateway struct {
	sender Sender
	timers *timer.Service
	muted  func(chatID int64) bool
	opts   Options
	logger zerolog.Logger
	wg     sync.WaitGroup

	beginMu sync.Mutex
	begins  map[beginKey]beginMsgs
}

type beginKey struct{ chatID, userID int64 }

// beginMsgs are the trigger message and the bot's begin notice, kept
// until the break ends so all three end-path messages can be removed.
type beginMsgs struct{ userMsgID, botMsgID int64 }

// New creates a gateway. muted reports whether routine notices are
// suppressed for a chat; reminders, escalations and shift reports are
// delivered regardless.
func New(sender Sender, timers *timer.Service, muted func(chatID int64) bool, opts Options, logger zerolog.Logger) *Gateway {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Gateway{
		sender: sender,
		timers: timers,
		muted:  muted,
		opts:   opts,
		logger: logger.With().Str("component", "gateway").Logger(),
		begins: make(map[beginKey]beginMsgs),
	}
}

// Publish queues an event for delivery and returns immediately. End
// events remove the begin-path messages even when the chat is muted.
func (g *Gateway) Publish(ev breaks.Event) {
	switch e := ev.(type) {
	case breaks.BeganNotice:
		if g.suppressed(ev) {
			// Nothing is sent, but the trigger still gets cleaned up
			// when the break ends.
			g.trackBegin(e.ChatID, e.User.UserID, e.UserMessageID, 0)
			return
		}
	case breaks.EndedNotice:
		g.cleanupBegin(e.ChatID, e.User.UserID, e.UserMessageID)
	case breaks.TooShortNotice:
		g.cleanupBegin(e.ChatID, e.User.UserID, e.UserMessageID)
	}
	if g.suppressed(ev) {
		return
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.deliver(ev)
	}()
}

// Wait blocks until all in-flight deliveries finish.
func (g *Gateway) Wait() {
	g.wg.Wait()
}

// suppressed applies the chat mute. Only routine traffic is muted;
// anything an absent worker or a manager depends on still goes out.
func (g *Gateway) suppressed(ev breaks.Event) bool {
	switch ev.(type) {
	case breaks.BeganNotice, breaks.EndedNotice, breaks.TooShortNotice, breaks.HelpNotice:
		return g.muted != nil && g.muted(ev.Chat())
	default:
		return false
	}
}

func (g *Gateway) deliver(ev breaks.Event) {
	html, replyTo := g.render(ev)
	if html == "" {
		return
	}

	var sent *telegram.Message
	operation := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		msg, err := g.sender.SendMessage(ctx, ev.Chat(), html, replyTo)
		if err == nil {
			sent = msg
			return nil
		}

		var apiErr *telegram.APIError
		if errors.As(err, &apiErr) {
			if apiErr.RetryAfter > 0 {
				time.Sleep(apiErr.RetryAfter)
				return err
			}
			if apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
				return backoff.Permanent(err)
			}
		}
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(g.opts.MaxAttempts-1))
	if err := backoff.Retry(operation, policy); err != nil {
		metrics.Deliveries.WithLabelValues("failure").Inc()
		g.logger.Error().Err(err).Int64("chat_id", ev.Chat()).Msg("Failed to deliver notification")
		return
	}

	metrics.Deliveries.WithLabelValues("success").Inc()
	if e, ok := ev.(breaks.BeganNotice); ok && sent != nil {
		g.trackBegin(e.ChatID, e.User.UserID, e.UserMessageID, sent.MessageID)
	}
	g.scheduleCleanup(ev, sent)
}

func (g *Gateway) trackBegin(chatID, userID, userMsgID, botMsgID int64) {
	g.beginMu.Lock()
	g.begins[beginKey{chatID, userID}] = beginMsgs{userMsgID, botMsgID}
	g.beginMu.Unlock()
}

// cleanupBegin deletes the begin trigger, the begin notice and the back
// message once a break ends. Deletion is immediate and best-effort.
func (g *Gateway) cleanupBegin(chatID, userID, backMsgID int64) {
	key := beginKey{chatID, userID}
	g.beginMu.Lock()
	msgs := g.begins[key]
	delete(g.begins, key)
	g.beginMu.Unlock()

	ids := make([]int64, 0, 3)
	for _, id := range []int64{msgs.userMsgID, msgs.botMsgID, backMsgID} {
		if id != 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		for _, id := range ids {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			err := g.sender.DeleteMessage(ctx, chatID, id)
			cancel()
			if err != nil {
				g.logger.Debug().Err(err).Int64("chat_id", chatID).Int64("message_id", id).Msg("End cleanup delete failed")
			}
		}
	}()
}

// scheduleCleanup arranges deletion of transient prompts together with
// the message that triggered them, keeping the work chat readable.
func (g *Gateway) scheduleCleanup(ev breaks.Event, sent *telegram.Message) {
	if sent == nil || g.opts.HelpDelete <= 0 {
		return
	}

	var userMessageID int64
	switch e := ev.(type) {
	case breaks.AlreadyActiveNotice:
		userMessageID = e.UserMessageID
	case breaks.NoActiveNotice:
		userMessageID = e.UserMessageID
	case breaks.HelpNotice:
		userMessageID = e.UserMessageID
	default:
		return
	}
	// The /start explainer carries no triggering message and stays up.
	if userMessageID == 0 {
		return
	}

	chatID := ev.Chat()
	botMessageID := sent.MessageID
	g.timers.Schedule(timer.PurposeCleanup, g.opts.HelpDelete, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		// Deletion can fail for old messages; nothing to do about it.
		if err := g.sender.DeleteMessage(ctx, chatID, botMessageID); err != nil {
			g.logger.Debug().Err(err).Int64("chat_id", chatID).Msg("Cleanup delete failed")
		}
		if err := g.sender.DeleteMessage(ctx, chatID, userMessageID); err != nil {
			g.logger.Debug().Err(err).Int64("chat_id", chatID).Msg("Cleanup delete failed")
		}
	})
}
