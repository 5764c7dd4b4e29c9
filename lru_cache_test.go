package ldclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLruCacheReturnsFalseForNeverSeenValue(t *testing.T) {
	cache := newLruCache(10)
	assert.False(t, cache.add("a"))
}

func TestLruCacheReturnsTrueForPreviouslySeenValue(t *testing.T) {
	cache := newLruCache(10)
	cache.add("a")
	assert.True(t, cache.add("a"))
}

func TestLruCacheDiscardsOldestValueWhenCapacityIsExceeded(t *testing.T) {
	cache := newLruCache(2)
	cache.add("a")
	cache.add("b")
	cache.add("c")
	assert.True(t, cache.add("c"))
	assert.True(t, cache.add("b"))
	assert.False(t, cache.add("a"))
}

func TestLruCacheAddMakesValueMostRecentlyUsed(t *testing.T) {
	cache := newLruCache(2)
	cache.add("a")
	cache.add("b")
	cache.add("a") // refreshes "a", so "b" is now the oldest
	cache.add("c") // evicts "b"
	assert.True(t, cache.add("a"))
	assert.True(t, cache.add("c"))
	assert.False(t, cache.add("b"))
}

func TestLruCacheWithZeroCapacityNeverRemembersValues(t *testing.T) {
	cache := newLruCache(0)
	assert.False(t, cache.add("a"))
	assert.False(t, cache.add("a"))
}

func TestLruCacheClearForgetsValues(t *testing.T) {
	cache := newLruCache(10)
	cache.add("a")
	cache.clear()
	assert.False(t, cache.add("a"))
}
