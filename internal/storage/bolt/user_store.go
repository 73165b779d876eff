package bolt

import (
	"context"
	"strconv"

	"go.etcd.io/bbolt"

	"github.com/shiftbreak/breakwatch/internal/storage"
)

type userStore struct {
	db *bbolt.DB
}

func (s *userStore) Get(ctx context.Context, userID int64) (*storage.UserRecord, error) {
	return getBucketValue[storage.UserRecord](ctx, s.db, bucketUsers, userKey(userID))
}

func (s *userStore) Upsert(ctx context.Context, rec storage.UserRecord) error {
	return putBucketValue(ctx, s.db, bucketUsers, userKey(rec.UserID), rec)
}

func (s *userStore) Delete(ctx context.Context, userID int64) error {
	return deleteBucketValue(ctx, s.db, bucketUsers, userKey(userID))
}

func (s *userStore) List(ctx context.Context) ([]storage.UserRecord, error) {
	return listBucket[storage.UserRecord](ctx, s.db, bucketUsers)
}

func userKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
