package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gator-clubs/internal/cache"
	"gator-clubs/internal/config"
	"gator-clubs/internal/database"
	"gator-clubs/internal/events"
)

func TestOpenStoreMemory(t *testing.T) {
	store, err := openStore(context.Background(), &config.DatabaseConfig{Type: "memory"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &database.MemoryStore{}, store)
}

func TestOpenStoreRejectsUnknownType(t *testing.T) {
	_, err := openStore(context.Background(), &config.DatabaseConfig{Type: "cassandra"}, zap.NewNop())
	assert.Error(t, err)
}

func TestOpenCacheFallsBackToMemory(t *testing.T) {
	c, err := openCache(&config.RedisConfig{TTL: time.Second}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &cache.MemoryCache{}, c)
}

func TestOpenPublisherFallsBackToLog(t *testing.T) {
	p, err := openPublisher(&config.NATSConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &events.LogPublisher{}, p)
}

func TestConfigFromEnvDrivesWiring(t *testing.T) {
	env := map[string]string{"JWT_SECRET": "s", "ENGINE_SHARDS": "4"}
	cfg, err := config.FromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)

	store, err := openStore(context.Background(), cfg.Database, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &database.MemoryStore{}, store)
	assert.Equal(t, 4, cfg.Engine.Shards)
}
