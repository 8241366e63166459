// ABOUTME: Session binder correlating a browser with its ceremony calls
// ABOUTME: Mints unguessable session ids and tracks the authenticated-username marker

package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"sync"
)

// tokenBytes is the entropy of a minted session id (hex-encoded on the wire).
const tokenBytes = 16

// Incoming tokens must look like something we minted; anything else is
// replaced rather than trusted.
var tokenPattern = regexp.MustCompile(`^[a-f0-9]{32,64}$`)

// Binder associates anonymous browsers with session ids across the two
// ceremony calls, and separately marks a session authenticated after a
// successful login. State is in-process only: losing it logs users out,
// it never weakens the ceremony guarantees.
type Binder struct {
	mu     sync.RWMutex
	authed map[string]string // session id -> username
}

// NewBinder creates an empty binder.
func NewBinder() *Binder {
	return &Binder{
		authed: make(map[string]string),
	}
}

// ResolveOrCreate returns the incoming token if it is well-formed,
// otherwise mints a fresh one. The second return reports whether a new
// token was minted, so the caller knows to set the cookie.
func (b *Binder) ResolveOrCreate(token string) (string, bool, error) {
	if tokenPattern.MatchString(token) {
		return token, false, nil
	}

	minted, err := generateToken(tokenBytes)
	if err != nil {
		return "", false, fmt.Errorf("minting session id: %w", err)
	}
	return minted, true, nil
}

// MarkAuthenticated records that the session proved possession of a
// registered credential for username.
func (b *Binder) MarkAuthenticated(sessionID, username string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authed[sessionID] = username
}

// AuthenticatedUsername returns the username bound to an authenticated
// session, or false if the session never logged in (or logged out).
func (b *Binder) AuthenticatedUsername(sessionID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	username, ok := b.authed[sessionID]
	return username, ok
}

// ClearAuthentication logs the session out.
func (b *Binder) ClearAuthentication(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.authed, sessionID)
}

// generateToken generates a cryptographically secure random token
func generateToken(bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
