package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Users() UserStore
	Chats() ChatStore
}

// UserStore persists per-user break state: the optional active session,
// per-chat-per-kind counters, cooldown marks and activity bookkeeping.
type UserStore interface {
	Get(ctx context.Context, userID int64) (*UserRecord, error)
	Upsert(ctx context.Context, rec UserRecord) error
	Delete(ctx context.Context, userID int64) error
	List(ctx context.Context) ([]UserRecord, error)
}

// ChatStore persists per-chat settings.
type ChatStore interface {
	Get(ctx context.Context, chatID int64) (*ChatRecord, error)
	Upsert(ctx context.Context, rec ChatRecord) error
	List(ctx context.Context) ([]ChatRecord, error)
}
