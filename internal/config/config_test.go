package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFrom(t *testing.T, env map[string]string) *Config {
	t.Helper()

	var cfg Config
	err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.MapLookuper(env),
	})
	require.NoError(t, err)
	return &cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFrom(t, map[string]string{
		"DB_URL": "postgres://localhost/traces",
	})

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "traces:ingest", cfg.Redis.Stream)
	assert.Equal(t, "traces:dead", cfg.Redis.DeadLetterStream)
	assert.Equal(t, int64(100000), cfg.Redis.MaxLogLen)
	assert.Equal(t, "trace-workers", cfg.Pipeline.Group)
	assert.Equal(t, 100, cfg.Pipeline.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.BlockTimeout)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.VisibilityTimeout)
	assert.False(t, cfg.Database.Migrate)
}

func TestLoad_Overrides(t *testing.T) {
	cfg := loadFrom(t, map[string]string{
		"DB_URL":                      "postgres://db:5432/traces",
		"DB_MIGRATE":                  "true",
		"REDIS_ADDR":                  "redis:6379",
		"REDIS_MAX_LOG_LEN":           "500",
		"PIPELINE_GROUP":              "custom-group",
		"PIPELINE_CONSUMER":           "worker-7",
		"PIPELINE_BATCH_SIZE":         "25",
		"PIPELINE_VISIBILITY_TIMEOUT": "90s",
	})

	assert.Equal(t, "postgres://db:5432/traces", cfg.Database.URL)
	assert.True(t, cfg.Database.Migrate)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, int64(500), cfg.Redis.MaxLogLen)
	assert.Equal(t, "custom-group", cfg.Pipeline.Group)
	assert.Equal(t, "worker-7", cfg.Pipeline.Consumer)
	assert.Equal(t, 25, cfg.Pipeline.BatchSize)
	assert.Equal(t, 90*time.Second, cfg.Pipeline.VisibilityTimeout)
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	var cfg Config
	err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.MapLookuper(map[string]string{}),
	})
	require.Error(t, err)
}
