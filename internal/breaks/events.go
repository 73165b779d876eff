package breaks

// Identity carries enough about a user for the gateway to render a
// mention. Username may be empty; DisplayName always has a fallback.
type Identity struct {
	UserID      int64
	Username    string
	DisplayName string
}

// Event is an outbound notification produced by the core. Events carry
// structured data only; the notification gateway renders platform markup.
type Event interface {
	// Chat returns the chat the event should be delivered to.
	Chat() int64
}

// Notifier delivers events. Implementations must not block the caller;
// delivery failures are the implementation's problem and never propagate
// back into state mutation.
type Notifier interface {
	Publish(ev Event)
}

// BeganNotice announces a successfully started break. UserMessageID is
// the trigger message; the gateway replies to it and removes it together
// with the notice once the break ends.
type BeganNotice struct {
	ChatID        int64
	User          Identity
	Kind          Kind
	LimitMinutes  int
	TodayCount    int
	Quota         int
	Shift         string
	UserMessageID int64
}

func (e BeganNotice) Chat() int64 { return e.ChatID }

// EndedNotice announces a completed, counted break. UserMessageID is the
// back message, cleaned up along with the begin messages.
type EndedNotice struct {
	ChatID            int64
	User              Identity
	Kind              Kind
	ElapsedSeconds    int64
	LimitMinutes      int
	TodayCount        int
	Quota             int
	TodayTotalSeconds int64
	Overtime          bool
	Shift             string
	UserMessageID     int64
}

func (e EndedNotice) Chat() int64 { return e.ChatID }

// TooShortNotice announces a break discarded for not meeting the minimum
// qualifying duration.
type TooShortNotice struct {
	ChatID         int64
	User           Identity
	Kind           Kind
	ElapsedSeconds int64
	MinSeconds     int
	UserMessageID  int64
}

func (e TooShortNotice) Chat() int64 { return e.ChatID }

// AlreadyActiveNotice is the prompt for a Begin while a session is open.
// UserMessageID lets the gateway clean up the triggering message.
type AlreadyActiveNotice struct {
	ChatID        int64
	User          Identity
	UserMessageID int64
}

func (e AlreadyActiveNotice) Chat() int64 { return e.ChatID }

// NoActiveNotice is the prompt for an End with nothing open.
type NoActiveNotice struct {
	ChatID        int64
	User          Identity
	UserMessageID int64
}

func (e NoActiveNotice) Chat() int64 { return e.ChatID }

// CooldownNotice rejects a Begin inside the cooldown window.
type CooldownNotice struct {
	ChatID           int64
	User             Identity
	Kind             Kind
	RemainingMinutes int
	CooldownMinutes  int
}

func (e CooldownNotice) Chat() int64 { return e.ChatID }

// QuotaNotice rejects a Begin past the shift quota.
type QuotaNotice struct {
	ChatID int64
	User   Identity
	Kind   Kind
	Limit  int
	Shift  string
}

func (e QuotaNotice) Chat() int64 { return e.ChatID }

// TimeoutReminder nudges the user when the limit is reached.
type TimeoutReminder struct {
	ChatID       int64
	User         Identity
	Kind         Kind
	LimitMinutes int
}

func (e TimeoutReminder) Chat() int64 { return e.ChatID }

// GraceEscalation alerts the manager after the grace period expires.
type GraceEscalation struct {
	ChatID         int64
	User           Identity
	Kind           Kind
	ElapsedSeconds int64
	GraceMinutes   int
}

func (e GraceEscalation) Chat() int64 { return e.ChatID }

// ShiftEntry is one force-closed session in a shift report.
type ShiftEntry struct {
	User           Identity
	Kind           Kind
	ElapsedSeconds int64
	StartLocal     string
}

// ShiftReport is the consolidated per-chat shift-change summary.
type ShiftReport struct {
	ChatID  int64
	Entries []ShiftEntry
}

func (e ShiftReport) Chat() int64 { return e.ChatID }

// WhoEntry is one still-open session in an administrative listing.
type WhoEntry struct {
	User           Identity
	Kind           Kind
	ElapsedSeconds int64
	StartLocal     string
}

// WhoReport lists currently open sessions in a chat.
type WhoReport struct {
	ChatID  int64
	Entries []WhoEntry
}

func (e WhoReport) Chat() int64 { return e.ChatID }

// KindTotal is one kind's accumulated stats for a user.
type KindTotal struct {
	Kind         Kind
	Count        int
	TotalSeconds int64
}

// SummaryEntry aggregates a user's shift stats in one chat.
type SummaryEntry struct {
	User   Identity
	Totals []KindTotal
}

// SummaryReport is the per-chat shift summary for administrators.
type SummaryReport struct {
	ChatID  int64
	Shift   string
	Entries []SummaryEntry
}

func (e SummaryReport) Chat() int64 { return e.ChatID }

// HelpNotice is the usage prompt sent for unrecognized input.
type HelpNotice struct {
	ChatID        int64
	UserMessageID int64
}

func (e HelpNotice) Chat() int64 { return e.ChatID }

// SetLimitAck confirms an administrative limit change.
type SetLimitAck struct {
	ChatID  int64
	Kind    Kind
	Minutes int
}

func (e SetLimitAck) Chat() int64 { return e.ChatID }

// SetQuotaAck confirms an administrative quota change.
type SetQuotaAck struct {
	ChatID int64
	Kind   Kind
	Count  int
}

func (e SetQuotaAck) Chat() int64 { return e.ChatID }

// MuteAck confirms a mute/unmute toggle.
type MuteAck struct {
	ChatID int64
	Muted  bool
}

func (e MuteAck) Chat() int64 { return e.ChatID }
