package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shiftbreak/breakwatch/internal/breaks"
	"github.com/shiftbreak/breakwatch/internal/router"
	"github.com/shiftbreak/breakwatch/internal/storage"
	"github.com/shiftbreak/breakwatch/internal/telegram"
)

const pollRetryDelay = 3 * time.Second

// Transport is the inbound and direct-reply slice of the chat platform.
// Outbound notifications go through the gateway instead.
type Transport interface {
	GetMe(ctx context.Context) (*telegram.User, error)
	GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]telegram.Update, error)
	GetChatMember(ctx context.Context, chatID, userID int64) (*telegram.ChatMember, error)
	SendMessage(ctx context.Context, chatID int64, html string, replyTo int64) (*telegram.Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, html string) error
	SetMyCommands(ctx context.Context, commands []telegram.BotCommand) error
}

// Service receives messages, routes them to intents and drives the
// session store. It also owns the per-chat mute flags.
type Service struct {
	transport   Transport
	routes      *router.Router
	store       *breaks.Store
	policy      *breaks.Policy
	shifts      *breaks.ShiftClock
	notify      breaks.Notifier
	chats       storage.ChatStore
	managerID   int64
	pollTimeout int
	logger      zerolog.Logger

	muteMu sync.RWMutex
	muted  map[int64]bool
}

// New creates the message service. The router is built during Run once
// the bot's own username is known.
func New(transport Transport, store *breaks.Store, policy *breaks.Policy, shifts *breaks.ShiftClock, notify breaks.Notifier, chats storage.ChatStore, managerID int64, pollTimeout int, logger zerolog.Logger) *Service {
	return &Service{
		transport:   transport,
		routes:      router.New(""),
		store:       store,
		policy:      policy,
		shifts:      shifts,
		notify:      notify,
		chats:       chats,
		managerID:   managerID,
		pollTimeout: pollTimeout,
		logger:      logger.With().Str("component", "service").Logger(),
		muted:       make(map[int64]bool),
	}
}

// Muted reports whether routine notices are suppressed for a chat.
func (s *Service) Muted(chatID int64) bool {
	s.muteMu.RLock()
	defer s.muteMu.RUnlock()
	return s.muted[chatID]
}

func (s *Service) setMuted(ctx context.Context, chatID int64, muted bool) {
	s.muteMu.Lock()
	s.muted[chatID] = muted
	s.muteMu.Unlock()

	if err := s.chats.Upsert(ctx, storage.ChatRecord{ChatID: chatID, Muted: muted}); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to persist chat mute")
	}
}

// LoadMutes restores persisted chat mute flags.
func (s *Service) LoadMutes(ctx context.Context) error {
	records, err := s.chats.List(ctx)
	if err != nil {
		return err
	}

	s.muteMu.Lock()
	defer s.muteMu.Unlock()
	for _, rec := range records {
		s.muted[rec.ChatID] = rec.Muted
	}
	return nil
}

// Run polls for updates until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	me, err := s.transport.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("resolve bot identity: %w", err)
	}
	s.routes = router.New(me.Username)
	s.logger.Info().Str("bot", me.Username).Msg("Connected to chat platform")

	if err := s.transport.SetMyCommands(ctx, botCommands()); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to register command menu")
	}

	var offset int64
	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, err := s.transport.GetUpdates(ctx, offset, s.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error().Err(err).Msg("Poll failed")
			select {
			case <-time.After(pollRetryDelay):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		for _, up := range updates {
			if up.UpdateID >= offset {
				offset = up.UpdateID + 1
			}
			if up.Message == nil || up.Message.From == nil || up.Message.From.IsBot {
				continue
			}
			s.HandleMessage(ctx, up.Message)
		}
	}
}

func botCommands() []telegram.BotCommand {
	return []telegram.BotCommand{
		{Command: "start", Description: "查看打卡说明"},
		{Command: "toilet", Description: "开始厕所打卡"},
		{Command: "smoke", Description: "开始抽烟打卡"},
		{Command: "meal", Description: "开始吃饭打卡"},
		{Command: "back", Description: "结束打卡（回来）"},
		{Command: "who", Description: "查看当前未回来名单（管理员）"},
		{Command: "summary", Description: "查看本班汇总（管理员）"},
	}
}

// HandleMessage routes a single inbound message.
func (s *Service) HandleMessage(ctx context.Context, msg *telegram.Message) {
	intent := s.routes.Parse(msg.Text)
	if intent == nil {
		return
	}

	chatID := msg.Chat.ID
	user := breaks.Identity{
		UserID:      msg.From.ID,
		Username:    msg.From.Username,
		DisplayName: msg.From.DisplayName(),
	}

	switch in := intent.(type) {
	case router.Begin:
		s.handleBegin(msg, user, chatID, in.Kind)

	case router.End:
		s.handleEnd(msg, user, chatID)

	case router.Who:
		if !s.requireAdmin(ctx, msg) {
			return
		}
		s.notify.Publish(breaks.WhoReport{ChatID: chatID, Entries: s.store.ActiveInChat(chatID)})

	case router.Summary:
		if !s.requireAdmin(ctx, msg) {
			return
		}
		s.notify.Publish(breaks.SummaryReport{
			ChatID:  chatID,
			Shift:   s.shifts.ShiftLabel(s.shifts.Now()),
			Entries: s.store.ChatSummary(chatID),
		})

	case router.SetLimit:
		if !s.requireAdmin(ctx, msg) {
			return
		}
		if err := s.policy.SetLimit(in.Kind, in.Minutes); err != nil {
			s.reply(ctx, msg, "类型不对：厕所/抽烟/吃饭")
			return
		}
		s.notify.Publish(breaks.SetLimitAck{ChatID: chatID, Kind: in.Kind, Minutes: in.Minutes})

	case router.SetQuota:
		if !s.requireAdmin(ctx, msg) {
			return
		}
		if err := s.policy.SetQuota(in.Kind, in.Count); err != nil {
			s.reply(ctx, msg, "类型不对：厕所/抽烟/吃饭")
			return
		}
		s.notify.Publish(breaks.SetQuotaAck{ChatID: chatID, Kind: in.Kind, Count: in.Count})

	case router.Mute:
		if !s.requireAdmin(ctx, msg) {
			return
		}
		s.setMuted(ctx, chatID, in.Muted)
		s.notify.Publish(breaks.MuteAck{ChatID: chatID, Muted: in.Muted})

	case router.Start:
		s.notify.Publish(breaks.HelpNotice{ChatID: chatID})

	case router.WhoAmI:
		s.reply(ctx, msg, fmt.Sprintf(`<a href="tg://user?id=%d">%s</a> 的 user_id 是 <code>%d</code>`,
			user.UserID, html.EscapeString(user.DisplayName), user.UserID))

	case router.Ping:
		s.handlePing(ctx, msg)

	case router.BadUsage:
		if in.Command == "setlimit" {
			s.reply(ctx, msg, "用法：/setlimit 抽烟 12")
		} else {
			s.reply(ctx, msg, "用法：/setcount 抽烟 2")
		}

	case router.Unrecognized:
		// Stray chatter from admins is ignored entirely.
		if s.isAdmin(ctx, chatID, user.UserID) {
			return
		}
		s.notify.Publish(breaks.HelpNotice{ChatID: chatID, UserMessageID: msg.MessageID})
	}
}

func (s *Service) handleBegin(msg *telegram.Message, user breaks.Identity, chatID int64, kind breaks.Kind) {
	info, err := s.store.Begin(user.UserID, chatID, kind, user)
	if err == nil {
		s.notify.Publish(breaks.BeganNotice{
			ChatID:        chatID,
			User:          user,
			Kind:          info.Kind,
			LimitMinutes:  info.LimitMinutes,
			TodayCount:    info.TodayCount,
			Quota:         info.Quota,
			Shift:         info.Shift,
			UserMessageID: msg.MessageID,
		})
		return
	}

	var quotaErr *breaks.QuotaError
	var cooldownErr *breaks.CooldownError
	switch {
	case errors.Is(err, breaks.ErrAlreadyActive):
		s.notify.Publish(breaks.AlreadyActiveNotice{ChatID: chatID, User: user, UserMessageID: msg.MessageID})
	case errors.As(err, &quotaErr):
		s.notify.Publish(breaks.QuotaNotice{
			ChatID: chatID,
			User:   user,
			Kind:   quotaErr.Kind,
			Limit:  quotaErr.Limit,
			Shift:  s.shifts.ShiftLabel(s.shifts.Now()),
		})
	case errors.As(err, &cooldownErr):
		rule := s.policy.Rule(kind)
		s.notify.Publish(breaks.CooldownNotice{
			ChatID:           chatID,
			User:             user,
			Kind:             kind,
			RemainingMinutes: int((cooldownErr.Remaining + time.Minute - 1) / time.Minute),
			CooldownMinutes:  int(rule.Cooldown / time.Minute),
		})
	default:
		s.logger.Error().Err(err).Int64("user_id", user.UserID).Msg("Begin failed")
	}
}

func (s *Service) handleEnd(msg *telegram.Message, user breaks.Identity, chatID int64) {
	out, err := s.store.End(user.UserID, chatID)
	if err != nil {
		if errors.Is(err, breaks.ErrNoActiveSession) {
			s.notify.Publish(breaks.NoActiveNotice{ChatID: chatID, User: user, UserMessageID: msg.MessageID})
			return
		}
		s.logger.Error().Err(err).Int64("user_id", user.UserID).Msg("End failed")
		return
	}

	if out.TooShort {
		s.notify.Publish(breaks.TooShortNotice{
			ChatID:         chatID,
			User:           user,
			Kind:           out.Kind,
			ElapsedSeconds: out.ElapsedSeconds,
			MinSeconds:     out.MinSeconds,
			UserMessageID:  msg.MessageID,
		})
		return
	}

	s.notify.Publish(breaks.EndedNotice{
		ChatID:            chatID,
		User:              user,
		Kind:              out.Kind,
		ElapsedSeconds:    out.ElapsedSeconds,
		LimitMinutes:      out.LimitMinutes,
		TodayCount:        out.TodayCount,
		Quota:             out.Quota,
		TodayTotalSeconds: out.TodayTotalSeconds,
		Overtime:          out.Overtime,
		Shift:             out.Shift,
		UserMessageID:     msg.MessageID,
	})
}

func (s *Service) handlePing(ctx context.Context, msg *telegram.Message) {
	started := time.Now()
	sent, err := s.transport.SendMessage(ctx, msg.Chat.ID, "pong…", 0)
	if err != nil || sent == nil {
		return
	}
	latency := time.Since(started).Milliseconds()
	_ = s.transport.EditMessageText(ctx, msg.Chat.ID, sent.MessageID, fmt.Sprintf("pong %d ms", latency))
}

// isAdmin treats the configured manager and chat administrators as
// privileged.
func (s *Service) isAdmin(ctx context.Context, chatID, userID int64) bool {
	if s.managerID != 0 && userID == s.managerID {
		return true
	}
	member, err := s.transport.GetChatMember(ctx, chatID, userID)
	if err != nil {
		s.logger.Debug().Err(err).Int64("chat_id", chatID).Int64("user_id", userID).Msg("Admin check failed")
		return false
	}
	return member.IsAdmin()
}

func (s *Service) requireAdmin(ctx context.Context, msg *telegram.Message) bool {
	if s.isAdmin(ctx, msg.Chat.ID, msg.From.ID) {
		return true
	}
	s.reply(ctx, msg, "❌ 仅管理员可用。")
	return false
}

func (s *Service) reply(ctx context.Context, msg *telegram.Message, html string) {
	if _, err := s.transport.SendMessage(ctx, msg.Chat.ID, html, msg.MessageID); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("Reply failed")
	}
}
