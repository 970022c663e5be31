package secrets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutGet(t *testing.T) {
	c := NewCache[string](time.Minute)

	c.Put("k", "v")
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	c := NewCache[int](10 * time.Millisecond)

	c.Put("k", 42)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok, "expired entries miss")
}

func TestCache_Bust(t *testing.T) {
	c := NewCache[string](time.Minute)

	c.Put("k", "v")
	c.Bust("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCache_Cleaner(t *testing.T) {
	c := NewCache[string](5 * time.Millisecond)
	c.Put("k", "v")

	stop := make(chan struct{})
	go c.StartCleaner(10*time.Millisecond, stop)
	defer close(stop)

	assert.Eventually(t, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		_, exists := c.data["k"]
		return !exists
	}, time.Second, 10*time.Millisecond)
}
