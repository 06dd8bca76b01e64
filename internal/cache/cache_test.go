package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gator-clubs/internal/models"
)

func TestMemoryCacheExpires(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	ctx := context.Background()

	got, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	snap := &Snapshot{Communities: []*models.Community{{ID: uuid.New(), Name: "x"}}, TakenAt: clock}
	require.NoError(t, c.Set(ctx, snap))

	got, err = c.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, snap, got)

	clock = clock.Add(time.Minute)
	got, err = c.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryCacheInvalidateAndZeroTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Hour)
	require.NoError(t, c.Set(ctx, &Snapshot{}))
	require.NoError(t, c.Invalidate(ctx))
	got, _ := c.Get(ctx)
	assert.Nil(t, got)

	off := NewMemoryCache(0)
	require.NoError(t, off.Set(ctx, &Snapshot{}))
	got, _ = off.Get(ctx)
	assert.Nil(t, got)
}
