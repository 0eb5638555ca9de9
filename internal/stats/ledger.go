// Package stats keeps per-user message counters and computes the aggregate
// usage snapshot (total, average, top three senders).
package stats

import (
	"sort"
	"sync"

	"mqchat/internal/session"
)

// Entry is one (username, count) pair in a snapshot.
type Entry struct {
	Username string
	Count    int
}

// Ledger counts public messages per user.  Users are identified the same way
// the session table identifies them, by the lower-cased trimmed username, so
// "Anton" returning as "anton" resumes one counter.  Entries are created at
// first registration or first recorded message and are never removed: totals
// stay meaningful across logins and logouts.
type Ledger struct {
	mu     sync.RWMutex
	counts map[string]int
	names  map[string]string // key -> display name, as first submitted
	order  []string          // keys in first-seen order, the tie-break for Top
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		counts: make(map[string]int),
		names:  make(map[string]string),
	}
}

// ensure creates the entry for username if unseen.  Caller holds mu.
func (l *Ledger) ensure(username string) string {
	key := session.Key(username)
	if _, ok := l.counts[key]; !ok {
		l.counts[key] = 0
		l.names[key] = session.Trim(username)
		l.order = append(l.order, key)
	}
	return key
}

// Register ensures an entry exists for username.  Idempotent: an existing
// count is never reset.
func (l *Ledger) Register(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensure(username)
}

// Record increments username's count by one, registering the user if unseen.
// Callers are responsible for excluding command traffic.
func (l *Ledger) Record(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[l.ensure(username)]++
}

// Restore seeds username with count unless a higher count is already present.
// Used when loading the archive at startup.
func (l *Ledger) Restore(username string, count int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := l.ensure(username)
	if l.counts[key] < count {
		l.counts[key] = count
	}
}

// Count returns username's current count.
func (l *Ledger) Count(username string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.counts[session.Key(username)]
}

// Entry returns username's counter under its canonical display name, for
// archiving.  An unseen user yields a zero entry.
func (l *Ledger) Entry(username string) Entry {
	key := session.Key(username)
	l.mu.RLock()
	defer l.mu.RUnlock()
	name, ok := l.names[key]
	if !ok {
		name = session.Trim(username)
	}
	return Entry{Username: name, Count: l.counts[key]}
}

// Snapshot returns the aggregate statistics: the sum of all counts, the mean
// per known user (0 with no users), and up to three top senders ordered by
// count descending with ties broken by first-seen order.
func (l *Ledger) Snapshot() (total int, average float64, top []Entry) {
	entries := l.Dump()

	for _, e := range entries {
		total += e.Count
	}
	if len(entries) > 0 {
		average = float64(total) / float64(len(entries))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	if len(entries) > 3 {
		entries = entries[:3]
	}
	return total, average, entries
}

// Dump returns every entry, for archiving.
func (l *Ledger) Dump() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, Entry{Username: l.names[key], Count: l.counts[key]})
	}
	return out
}
