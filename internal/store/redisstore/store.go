package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	Client *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{Client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.Client.Close()
}

func settingKey(key string) string { return "settings:" + key }

// GetSetting returns redis.Nil on a cache miss.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	return s.Client.Get(ctx, settingKey(key)).Result()
}

func (s *Store) SetSetting(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.Client.Set(ctx, settingKey(key), value, ttl).Err()
}
