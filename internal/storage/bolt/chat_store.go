package bolt

import (
	"context"
	"strconv"

	"go.etcd.io/bbolt"

	"github.com/shiftbreak/breakwatch/internal/storage"
)

type chatStore struct {
	db *bbolt.DB
}

func (s *chatStore) Get(ctx context.Context, chatID int64) (*storage.ChatRecord, error) {
	return getBucketValue[storage.ChatRecord](ctx, s.db, bucketChats, chatKey(chatID))
}

func (s *chatStore) Upsert(ctx context.Context, rec storage.ChatRecord) error {
	return putBucketValue(ctx, s.db, bucketChats, chatKey(rec.ChatID), rec)
}

func (s *chatStore) List(ctx context.Context) ([]storage.ChatRecord, error) {
	return listBucket[storage.ChatRecord](ctx, s.db, bucketChats)
}

func chatKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
