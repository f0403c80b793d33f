package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.AcquireMemory(60))
	assert.ErrorIs(t, c.AcquireMemory(50), ErrMemoryLimitExceeded)
	assert.Equal(t, int64(60), c.MemoryUsage())

	c.ReleaseMemory(60)
	require.NoError(t, c.AcquireMemory(100))
	assert.Equal(t, int64(100), c.MemoryLimit())
}

func TestController_Nil(t *testing.T) {
	var c *Controller
	ctx := context.Background()

	require.NoError(t, c.AcquireMemory(1<<40))
	c.ReleaseMemory(1)
	require.NoError(t, c.AcquireRead(ctx))
	c.ReleaseRead()
	require.NoError(t, c.AcquireIO(ctx, 1<<20))
	assert.Equal(t, int64(0), c.MemoryUsage())
	assert.Equal(t, 4, c.MaxConcurrentReads())
}

func TestController_ReadSlots(t *testing.T) {
	c := NewController(Config{MaxConcurrentReads: 1})
	ctx := context.Background()

	require.NoError(t, c.AcquireRead(ctx))

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.Error(t, c.AcquireRead(short), "second slot must block until timeout")

	c.ReleaseRead()
	require.NoError(t, c.AcquireRead(ctx))
}

func TestController_IOSplitsLargeRequests(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})
	// larger than the burst; must not fail with "exceeds burst"
	require.NoError(t, c.AcquireIO(context.Background(), 1<<20+10))
}
