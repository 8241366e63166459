// ABOUTME: Tests for the single-use challenge cache
// ABOUTME: Covers pop semantics, overwrite, expiry, and the concurrent-finish race

package challenge

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	c := NewCache(ttl)
	t.Cleanup(c.Close)
	return c
}

func testEntry(username string) *Entry {
	return &Entry{
		Session:  &webauthn.SessionData{Challenge: "test-challenge"},
		Username: username,
	}
}

func TestCache_PutPop(t *testing.T) {
	c := newTestCache(t, time.Minute)

	c.Put("session-1", testEntry("alice"))

	entry, ok := c.Pop("session-1")
	require.True(t, ok)
	assert.Equal(t, "alice", entry.Username)
	assert.Equal(t, "test-challenge", entry.Session.Challenge)
}

func TestCache_PopIsSingleUse(t *testing.T) {
	c := newTestCache(t, time.Minute)

	c.Put("session-1", testEntry("alice"))

	_, ok := c.Pop("session-1")
	require.True(t, ok)

	// A consumed challenge can never be consumed again
	_, ok = c.Pop("session-1")
	assert.False(t, ok)
}

func TestCache_PopUnknownSession(t *testing.T) {
	c := newTestCache(t, time.Minute)

	_, ok := c.Pop("never-started")
	assert.False(t, ok)
}

func TestCache_PutOverwrites(t *testing.T) {
	c := newTestCache(t, time.Minute)

	c.Put("session-1", testEntry("alice"))
	c.Put("session-1", testEntry("bob"))

	entry, ok := c.Pop("session-1")
	require.True(t, ok)
	assert.Equal(t, "bob", entry.Username)
	assert.Equal(t, 0, c.Len())
}

func TestCache_ExpiredEntryNotReturned(t *testing.T) {
	c := newTestCache(t, time.Millisecond)

	c.Put("session-1", testEntry("alice"))
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Pop("session-1")
	assert.False(t, ok, "expired challenge must not be usable")
}

func TestCache_ConcurrentPop_ExactlyOneWins(t *testing.T) {
	c := newTestCache(t, time.Minute)

	const rounds = 100
	for i := 0; i < rounds; i++ {
		sessionID := fmt.Sprintf("session-%d", i)
		c.Put(sessionID, testEntry("alice"))

		var wg sync.WaitGroup
		wins := make(chan bool, 2)
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok := c.Pop(sessionID)
				wins <- ok
			}()
		}
		wg.Wait()
		close(wins)

		var winners int
		for ok := range wins {
			if ok {
				winners++
			}
		}
		require.Equal(t, 1, winners, "round %d: exactly one pop must win", i)
	}
}

func TestCache_IndependentSessions(t *testing.T) {
	c := newTestCache(t, time.Minute)

	c.Put("session-1", testEntry("alice"))
	c.Put("session-2", testEntry("bob"))

	entry, ok := c.Pop("session-1")
	require.True(t, ok)
	assert.Equal(t, "alice", entry.Username)

	entry, ok = c.Pop("session-2")
	require.True(t, ok)
	assert.Equal(t, "bob", entry.Username)
}
