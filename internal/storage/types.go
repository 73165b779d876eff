package storage

import (
	"strconv"
	"time"
)

// ActiveSession is the persisted form of an in-progress break.
// LimitMinutes is the policy cap snapshotted when the session started.
type ActiveSession struct {
	ChatID       int64     `json:"chat_id"`
	Kind         string    `json:"kind"`
	StartedAt    time.Time `json:"started_at"`
	LimitMinutes int       `json:"limit_minutes"`
}

// KindStats aggregates one kind's usage for a user in one chat during the
// current shift.
type KindStats struct {
	Count        int   `json:"count"`
	TotalSeconds int64 `json:"total_seconds"`
}

// UserRecord is the authoritative per-user state. Stats is keyed by chat
// (decimal string, JSON object keys must be strings) then by kind.
// LastEnds holds the cooldown marks, keyed by kind.
type UserRecord struct {
	UserID       int64                           `json:"user_id"`
	Username     string                          `json:"username,omitempty"`
	DisplayName  string                          `json:"display_name,omitempty"`
	Session      *ActiveSession                  `json:"session,omitempty"`
	Stats        map[string]map[string]KindStats `json:"stats,omitempty"`
	LastEnds     map[string]time.Time            `json:"last_ends,omitempty"`
	LastChatID   int64                           `json:"last_chat_id,omitempty"`
	LastActivity time.Time                       `json:"last_activity"`
}

// ChatRecord holds per-chat settings.
type ChatRecord struct {
	ChatID int64 `json:"chat_id"`
	Muted  bool  `json:"muted"`
}

// ChatKey converts a chat ID to the string form used as a stats map key.
func ChatKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
