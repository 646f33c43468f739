package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mytireplan/tire-plan-sub001/internal/domain"
)

func TestMemoryWriteStatusCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	c := NewMemoryWriteStatusCache()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, domain.WriteStatus{IntentID: "wi-1", State: domain.WriteStatePending}, time.Minute))
	require.NoError(t, c.Set(ctx, domain.WriteStatus{IntentID: "wi-2", State: domain.WriteStateConfirmed}, 0))

	got, ok, err := c.Get(ctx, "wi-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.WriteStatePending, got.State)

	now = now.Add(2 * time.Minute)
	_, ok, err = c.Get(ctx, "wi-1")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire after its ttl")

	_, ok, _ = c.Get(ctx, "wi-2")
	assert.True(t, ok, "zero ttl keeps the entry")

	_, ok, _ = c.Get(ctx, "wi-missing")
	assert.False(t, ok)
}

func TestMemoryWriteStatusCacheIgnoresEmptyID(t *testing.T) {
	c := NewMemoryWriteStatusCache()
	require.NoError(t, c.Set(context.Background(), domain.WriteStatus{State: domain.WriteStateFailed}, time.Minute))
	assert.Empty(t, c.entries)
}
