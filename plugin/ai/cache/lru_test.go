package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/clock"
)

func newFakeClock() *clock.Fake {
	return clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestLRU_BasicOperations(t *testing.T) {
	c := NewLRU(100, time.Minute, newFakeClock())

	t.Run("SetAndGet", func(t *testing.T) {
		c.Set("session:1", []byte("0.0042"), 0)

		val, ok := c.Get("session:1")
		assert.True(t, ok)
		assert.Equal(t, []byte("0.0042"), val)
	})

	t.Run("GetMissing", func(t *testing.T) {
		val, ok := c.Get("session:404")
		assert.False(t, ok)
		assert.Nil(t, val)
	})

	t.Run("Overwrite", func(t *testing.T) {
		c.Set("session:2", []byte("a"), 0)
		c.Set("session:2", []byte("b"), 0)

		val, ok := c.Get("session:2")
		assert.True(t, ok)
		assert.Equal(t, []byte("b"), val)
		assert.Equal(t, 2, c.Len())
	})
}

func TestLRU_Expiry(t *testing.T) {
	fake := newFakeClock()
	c := NewLRU(100, time.Minute, fake)

	c.Set("short", []byte("v"), 10*time.Second)
	c.Set("default", []byte("v"), 0)

	fake.Advance(9 * time.Second)
	_, ok := c.Get("short")
	assert.True(t, ok)

	fake.Advance(time.Second)
	_, ok = c.Get("short")
	assert.False(t, ok, "entry expires exactly at its deadline")

	_, ok = c.Get("default")
	assert.True(t, ok)

	fake.Advance(time.Minute)
	assert.Equal(t, 1, c.RemoveExpired())
	assert.Equal(t, 0, c.Len())
}

func TestLRU_Eviction(t *testing.T) {
	c := NewLRU(3, time.Minute, newFakeClock())

	c.Set("a", []byte("1"), 0)
	c.Set("b", []byte("2"), 0)
	c.Set("c", []byte("3"), 0)

	// Touch "a" so "b" becomes the least recently used.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", []byte("4"), 0)
	assert.Equal(t, 3, c.Len())

	_, ok = c.Get("b")
	assert.False(t, ok)
	for _, key := range []string{"a", "c", "d"} {
		_, ok := c.Get(key)
		assert.True(t, ok, key)
	}
}

func TestLRU_Invalidate(t *testing.T) {
	c := NewLRU(100, time.Minute, newFakeClock())
	c.Set("conversation:1:session:1", []byte("x"), 0)
	c.Set("conversation:1:session:2", []byte("x"), 0)
	c.Set("conversation:2:session:3", []byte("x"), 0)

	assert.Equal(t, 0, c.Invalidate("conversation:9:session:9"))
	assert.Equal(t, 1, c.Invalidate("conversation:2:session:3"))
	assert.Equal(t, 2, c.Invalidate("conversation:1:*"))
	assert.Equal(t, 0, c.Len())
}

func TestLRU_Defaults(t *testing.T) {
	c := NewLRU(0, 0, nil)
	assert.Equal(t, 1000, c.capacity)
	assert.Equal(t, 5*time.Minute, c.defaultTTL)
}

func TestLRU_Concurrent(t *testing.T) {
	c := NewLRU(50, time.Minute, newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", (worker*100+j)%80)
				c.Set(key, []byte("v"), 0)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}

func TestService(t *testing.T) {
	ctx := context.Background()
	fake := newFakeClock()
	svc := NewService(Config{Capacity: 10, DefaultTTL: time.Minute, CleanupInterval: time.Hour}, fake)
	defer svc.Close()

	var _ Cache = svc

	require.NoError(t, svc.Set(ctx, "conversation:1:session:1", []byte("1.5"), 0))
	val, ok := svc.Get(ctx, "conversation:1:session:1")
	assert.True(t, ok)
	assert.Equal(t, []byte("1.5"), val)

	require.NoError(t, svc.Invalidate(ctx, "conversation:1:*"))
	_, ok = svc.Get(ctx, "conversation:1:session:1")
	assert.False(t, ok)
	assert.Equal(t, 0, svc.Len())
}
