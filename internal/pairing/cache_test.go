package pairing

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sommos/sommos/internal/domain"
)

func rec(id string) *domain.PairingRecommendation {
	return &domain.PairingRecommendation{ID: id, Provider: domain.ProviderHeuristic}
}

func TestCacheGetSet(t *testing.T) {
	c := NewCache(10, time.Minute)
	defer c.Stop()

	_, ok := c.Get("fp1")
	assert.False(t, ok)

	c.Set("fp1", rec("a"))
	got, ok := c.Get("fp1")
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(10, 20*time.Millisecond)
	defer c.Stop()

	c.Set("fp1", rec("a"))
	time.Sleep(40 * time.Millisecond)

	_, ok := c.Get("fp1")
	assert.False(t, ok)
}

func TestCacheEvictsLRUWhenFull(t *testing.T) {
	c := NewCache(3, time.Minute)
	defer c.Stop()

	c.Set("a", rec("a"))
	c.Set("b", rec("b"))
	c.Set("c", rec("c"))

	// Touch a and c so b is the stalest.
	c.Get("a")
	c.Get("c")

	c.Set("d", rec("d"))

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry should have been evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestCacheBounded(t *testing.T) {
	c := NewCache(5, time.Minute)
	defer c.Stop()

	for i := 0; i < 50; i++ {
		c.Set(fmt.Sprintf("fp%d", i), rec("x"))
	}
	assert.LessOrEqual(t, c.Len(), 5)
}
