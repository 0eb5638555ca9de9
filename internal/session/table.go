// Package session tracks connected users and assigns their display colors.
// The Table is the single shared structure every concurrently-dispatched bus
// handler reads and writes, so all of its operations are atomic per key.
package session

import (
	"strings"
	"sync"
	"time"
)

// Session is the server-side record of one logged-in user.  It is an
// immutable value: an update constructs a new Session and stores it back
// under the same key.
type Session struct {
	Username      string // as submitted at login, surrounding whitespace trimmed
	Color         string
	LastHeartbeat time.Time
}

// WithHeartbeat returns a copy of s with LastHeartbeat replaced.
func (s Session) WithHeartbeat(t time.Time) Session {
	s.LastHeartbeat = t
	return s
}

// Table is a concurrent map from lower-cased username to Session.  Lookups are
// case-insensitive; at most one session exists per normalized username.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]Session
	order    []string // normalized keys in insertion order, for stable listings
}

// NewTable creates an empty session table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]Session)}
}

// Trim strips the surrounding whitespace clients routinely send with a
// username.  Interior whitespace is left for validation to reject.
func Trim(username string) string {
	return strings.TrimSpace(username)
}

// Key normalizes a username to its table key.
func Key(username string) string {
	return strings.ToLower(Trim(username))
}

// TryAdd inserts sess if no session exists for the username.  Returns false
// when the key is already present.  Two racing logins for the same name hit
// this insert; exactly one wins.
func (t *Table) TryAdd(username string, sess Session) bool {
	key := Key(username)
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sessions[key]; exists {
		return false
	}
	t.sessions[key] = sess
	t.order = append(t.order, key)
	return true
}

// Upsert atomically creates or transforms the session for username.  fn
// receives the current session and whether it existed, and returns the value
// to store.
func (t *Table) Upsert(username string, fn func(cur Session, ok bool) Session) {
	key := Key(username)
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.sessions[key]
	if !ok {
		t.order = append(t.order, key)
	}
	t.sessions[key] = fn(cur, ok)
}

// Remove deletes the session for username.  Returns false when it was absent,
// which makes logout and timeout eviction idempotent.
func (t *Table) Remove(username string) bool {
	key := Key(username)
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sessions[key]; !exists {
		return false
	}
	delete(t.sessions, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the session for username.
func (t *Table) Get(username string) (Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sess, ok := t.sessions[Key(username)]
	return sess, ok
}

// Names returns a point-in-time snapshot of connected usernames (as submitted
// at login) in insertion order.  No consistency is guaranteed relative to
// concurrent logins or logouts.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.order))
	for _, key := range t.order {
		if sess, ok := t.sessions[key]; ok {
			out = append(out, sess.Username)
		}
	}
	return out
}

// Len returns the number of connected users.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Stale returns the usernames whose last heartbeat is older than timeout at
// instant now.
func (t *Table) Stale(now time.Time, timeout time.Duration) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var stale []string
	for _, sess := range t.sessions {
		if now.Sub(sess.LastHeartbeat) > timeout {
			stale = append(stale, sess.Username)
		}
	}
	return stale
}
