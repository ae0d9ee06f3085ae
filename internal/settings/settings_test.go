package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenix-ai/platform/internal/ai"
	"github.com/phoenix-ai/platform/internal/models"
	"github.com/phoenix-ai/platform/internal/testutil"
)

type memCache struct {
	data map[string]string
	gets int
	err  error
}

func (m *memCache) GetSetting(_ context.Context, key string) (string, error) {
	m.gets++
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memCache) SetSetting(_ context.Context, key, value string, _ time.Duration) error {
	m.data[key] = value
	return nil
}

func TestGet_ReadThroughCache(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t, &models.Setting{})
	require.NoError(t, db.Create(&models.Setting{Key: KeyDefaultModel, Value: "gpt-4o"}).Error)

	cache := &memCache{data: map[string]string{}}
	s := NewStore(db, cache, time.Minute)

	v, ok, err := s.Get(ctx, KeyDefaultModel)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "gpt-4o", v)
	assert.Equal(t, "gpt-4o", cache.data[KeyDefaultModel])

	// served from cache even after the row changes
	require.NoError(t, db.Model(&models.Setting{}).Where("`key` = ?", KeyDefaultModel).Update("value", "other").Error)
	v, _, err = s.Get(ctx, KeyDefaultModel)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", v)
}

func TestGet_CacheErrorFallsBackToDB(t *testing.T) {
	db := testutil.OpenDB(t, &models.Setting{})
	require.NoError(t, db.Create(&models.Setting{Key: "k", Value: "v"}).Error)

	s := NewStore(db, &memCache{data: map[string]string{}, err: errors.New("conn refused")}, 0)
	v, ok, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestResolve_Fallback(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t, &models.Setting{})
	s := NewStore(db, nil, 0)

	v, err := s.Resolve(ctx, KeyAPIKey, "sk-env")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", v)

	require.NoError(t, db.Create(&models.Setting{Key: KeyAPIKey, Value: "sk-db"}).Error)
	v, err = s.Resolve(ctx, KeyAPIKey, "sk-env")
	require.NoError(t, err)
	assert.Equal(t, "sk-db", v)
}

func TestDefaults(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t, &models.Setting{})
	s := NewStore(db, nil, 0)

	got, err := s.Defaults(ctx, ai.Params{Model: "env-model", MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, ai.Params{Model: "env-model", MaxTokens: 100}, got)

	require.NoError(t, db.Create(&models.Setting{Key: KeyDefaultModel, Value: " db-model "}).Error)
	require.NoError(t, db.Create(&models.Setting{Key: KeyDefaultMaxTokens, Value: "nope"}).Error)
	got, err = s.Defaults(ctx, ai.Params{Model: "env-model", MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, ai.Params{Model: "db-model", MaxTokens: 100}, got)
}
