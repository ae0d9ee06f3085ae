package settings

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/phoenix-ai/platform/internal/ai"
	"github.com/phoenix-ai/platform/internal/models"
)

// Keys written by the admin settings collaborator.
const (
	KeyAPIKey           = "openai_api_key"
	KeyDefaultModel     = "default_model"
	KeyDefaultMaxTokens = "default_max_tokens"
)

// Cache is the read-through cache in front of the settings table.
// Implementations return redis.Nil on a miss.
type Cache interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string, ttl time.Duration) error
}

type Store struct {
	db    *gorm.DB
	cache Cache
	ttl   time.Duration
}

// NewStore builds a store; cache may be nil.
func NewStore(db *gorm.DB, cache Cache, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Store{db: db, cache: cache, ttl: ttl}
}

// Get returns the value for key and whether it was set.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if s.cache != nil {
		v, err := s.cache.GetSetting(ctx, key)
		switch {
		case err == nil:
			return v, true, nil
		case errors.Is(err, redis.Nil):
		default:
			// cache trouble must not break reads
			log.Printf("[settings] cache get key=%s err=%v", key, err)
		}
	}

	var row models.Setting
	err := s.db.WithContext(ctx).First(&row, "`key` = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	if s.cache != nil {
		if err := s.cache.SetSetting(ctx, key, row.Value, s.ttl); err != nil {
			log.Printf("[settings] cache set key=%s err=%v", key, err)
		}
	}
	return row.Value, true, nil
}

// Resolve reads key and falls back to the given value, normally loaded from
// the environment, when the setting is unset or blank.
func (s *Store) Resolve(ctx context.Context, key, fallback string) (string, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if ok && strings.TrimSpace(v) != "" {
		return v, nil
	}
	return fallback, nil
}

// Defaults returns the platform generation defaults. Unset values fall back
// to the given params.
func (s *Store) Defaults(ctx context.Context, fallback ai.Params) (ai.Params, error) {
	out := fallback
	model, ok, err := s.Get(ctx, KeyDefaultModel)
	if err != nil {
		return out, err
	}
	if ok && strings.TrimSpace(model) != "" {
		out.Model = strings.TrimSpace(model)
	}

	mt, ok, err := s.Get(ctx, KeyDefaultMaxTokens)
	if err != nil {
		return out, err
	}
	if ok {
		if n, err := strconv.Atoi(strings.TrimSpace(mt)); err == nil && n > 0 {
			out.MaxTokens = n
		}
	}
	return out, nil
}
