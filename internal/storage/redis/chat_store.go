package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/shiftbreak/breakwatch/internal/storage"
)

const chatIndexKey = "breakwatch:chats"

type chatStore struct {
	client *redis.Client
}

func (s *chatStore) Get(ctx context.Context, chatID int64) (*storage.ChatRecord, error) {
	data, err := s.client.Get(ctx, chatRecordKey(chatID)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec storage.ChatRecord
	if err := unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *chatStore) Upsert(ctx context.Context, rec storage.ChatRecord) error {
	data, err := marshal(rec)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, chatRecordKey(rec.ChatID), data, 0)
	pipe.SAdd(ctx, chatIndexKey, rec.ChatID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *chatStore) List(ctx context.Context) ([]storage.ChatRecord, error) {
	ids, err := s.client.SMembers(ctx, chatIndexKey).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.ChatRecord{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, "breakwatch:chat:"+id)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	records := make([]storage.ChatRecord, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || data == "" {
			continue
		}
		var rec storage.ChatRecord
		if err := unmarshal(data, &rec); err == nil {
			records = append(records, rec)
		}
	}

	return records, nil
}

func chatRecordKey(chatID int64) string {
	return fmt.Sprintf("breakwatch:chat:%d", chatID)
}
