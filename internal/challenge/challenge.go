// ABOUTME: Short-lived, single-use cache binding ceremony challenges to browser sessions
// ABOUTME: Entries are popped (read-and-delete) exactly once and evicted after a TTL

package challenge

import (
	"context"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
)

// DefaultTTL bounds how long an abandoned ceremony stays pending.
const DefaultTTL = 5 * time.Minute

// Entry holds an outstanding ceremony challenge plus the pending metadata
// captured when the ceremony started.
type Entry struct {
	// Session carries the issued challenge and the library's ceremony state.
	Session *webauthn.SessionData
	// UserID is the pre-allocated user id for a pending registration.
	UserID string
	// Username is the identity the ceremony was started for. Finish must
	// trust this value over anything the client resupplies.
	Username string

	expiresAt time.Time
}

// Cache is a concurrent-safe, in-memory challenge store keyed by session id.
// It replaces nothing on read: consuming an entry requires Pop, which
// deletes it, so a challenge can never be accepted twice.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	ttl     time.Duration
	cancel  context.CancelFunc
}

// NewCache creates a cache whose entries expire after ttl. A background
// janitor evicts expired entries so abandoned ceremonies don't accumulate.
// Call Close to stop the janitor.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		cancel:  cancel,
	}
	go c.janitor(ctx)
	return c
}

// Close stops the eviction goroutine.
func (c *Cache) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Put stores an entry for the session, overwriting any prior pending
// ceremony for that session.
func (c *Cache) Put(sessionID string, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry.expiresAt = time.Now().Add(c.ttl)
	c.entries[sessionID] = entry
}

// Pop atomically retrieves and deletes the entry for the session. The
// second of two racing Pop calls observes nothing: this is the anti-replay
// guarantee for the challenge itself.
func (c *Cache) Pop(sessionID string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[sessionID]
	if !ok {
		return nil, false
	}
	delete(c.entries, sessionID)

	if time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry, true
}

// Len reports the number of live entries, for tests and diagnostics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) janitor(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for k, v := range c.entries {
				if now.After(v.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
