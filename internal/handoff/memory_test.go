package handoff

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battlecards-backend/internal/errors"
)

func TestTokenIsSingleUse(t *testing.T) {
	cache := NewMemoryCache()

	token, err := GenerateToken()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "hnd_"))

	require.NoError(t, cache.Put(token, Data{UserID: 7, Email: "a@x.com"}, time.Minute))

	data, err := cache.Take(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), data.UserID)

	_, err = cache.Take(token)
	assert.True(t, errors.IsNotFound(err))
}

func TestExpiredTokensAreSweptOnAccess(t *testing.T) {
	cache := NewMemoryCache()
	current := time.Now()
	cache.now = func() time.Time { return current }

	require.NoError(t, cache.Put("stale", Data{UserID: 1}, time.Minute))
	require.NoError(t, cache.Put("fresh", Data{UserID: 2}, time.Hour))

	current = current.Add(2 * time.Minute)

	_, err := cache.Take("stale")
	assert.True(t, errors.IsNotFound(err))

	data, err := cache.Take("fresh")
	require.NoError(t, err)
	assert.Equal(t, uint(2), data.UserID)

	// The sweep removed the stale entry outright, not just hid it.
	cache.mu.Lock()
	_, present := cache.entries["stale"]
	cache.mu.Unlock()
	assert.False(t, present)
}

func TestTokensAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := GenerateToken()
		require.NoError(t, err)
		assert.False(t, seen[token])
		seen[token] = true
	}
}
