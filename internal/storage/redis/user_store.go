package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/shiftbreak/breakwatch/internal/storage"
)

const userIndexKey = "breakwatch:users"

type userStore struct {
	client *redis.Client
}

func (s *userStore) Get(ctx context.Context, userID int64) (*storage.UserRecord, error) {
	data, err := s.client.Get(ctx, userRecordKey(userID)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec storage.UserRecord
	if err := unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *userStore) Upsert(ctx context.Context, rec storage.UserRecord) error {
	data, err := marshal(rec)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, userRecordKey(rec.UserID), data, 0)
	pipe.SAdd(ctx, userIndexKey, rec.UserID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *userStore) Delete(ctx context.Context, userID int64) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, userRecordKey(userID))
	pipe.SRem(ctx, userIndexKey, userID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *userStore) List(ctx context.Context) ([]storage.UserRecord, error) {
	ids, err := s.client.SMembers(ctx, userIndexKey).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.UserRecord{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, "breakwatch:user:"+id)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	records := make([]storage.UserRecord, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || data == "" {
			continue
		}
		var rec storage.UserRecord
		if err := unmarshal(data, &rec); err == nil {
			records = append(records, rec)
		}
	}

	return records, nil
}

func userRecordKey(userID int64) string {
	return fmt.Sprintf("breakwatch:user:%d", userID)
}
