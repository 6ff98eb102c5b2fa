package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// redisCommands is the slice of go-redis the store needs. *redis.Client
// satisfies it.
type redisCommands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps the snapshot as a JSON blob under a fixed per-user
// key. The TTL bounds how long an abandoned snapshot can linger.
type RedisStore struct {
	rdb redisCommands
	key string
	ttl time.Duration
	log *logrus.Entry
}

func NewRedisStore(rdb redisCommands, keyPrefix, userID string, ttl time.Duration, log *logrus.Entry) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		key: fmt.Sprintf("%s:%s", keyPrefix, userID),
		ttl: ttl,
		log: log.WithField("key", fmt.Sprintf("%s:%s", keyPrefix, userID)),
	}
}

func (s *RedisStore) Load(ctx context.Context) (*Snapshot, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.WithError(err).Warn("Dropping corrupt job snapshot")
		_ = s.rdb.Del(ctx, s.key).Err()
		return nil, nil
	}

	if snap.SchemaVersion != SchemaVersion {
		s.log.WithField("version", snap.SchemaVersion).Warn("Dropping job snapshot with unknown schema version")
		_ = s.rdb.Del(ctx, s.key).Err()
		return nil, nil
	}

	return &snap, nil
}

func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.rdb.Set(ctx, s.key, data, s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key).Err()
}
