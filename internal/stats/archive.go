package stats

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Archive persists message counts to SQLite so statistics survive server
// restarts.  Writes go through a small worker pool so the hot message path is
// never blocked by disk I/O; a failed write is logged and retried implicitly
// the next time the same user's count changes.
type Archive struct {
	db   *sql.DB
	jobs chan Entry
	wg   sync.WaitGroup
}

// OpenArchive opens (or creates) the archive database at path and starts
// workers persistence goroutines.
func OpenArchive(path string, workers int) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("stats: open archive %s: %w", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS message_counts (
		username TEXT PRIMARY KEY,
		count    INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("stats: init archive schema: %w", err)
	}

	a := &Archive{
		db:   db,
		jobs: make(chan Entry, 1024),
	}
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			for e := range a.jobs {
				if err := a.save(e); err != nil {
					log.Printf("[stats] archive save %s: %v", e.Username, err)
				}
			}
		}()
	}
	return a, nil
}

// Load seeds ledger with the archived counts.
func (a *Archive) Load(ledger *Ledger) error {
	rows, err := a.db.Query(`SELECT username, count FROM message_counts`)
	if err != nil {
		return fmt.Errorf("stats: load archive: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Username, &e.Count); err != nil {
			return fmt.Errorf("stats: scan archive row: %w", err)
		}
		ledger.Restore(e.Username, e.Count)
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("stats: load archive: %w", err)
	}
	if n > 0 {
		log.Printf("[stats] restored %d archived counter(s)", n)
	}
	return nil
}

// Submit queues one count for persistence.  Non-blocking: if the queue is
// full the write is skipped; a later Submit or the shutdown flush catches up.
func (a *Archive) Submit(e Entry) {
	select {
	case a.jobs <- e:
	default:
		log.Printf("[stats] archive queue full, deferring write for %s", e.Username)
	}
}

// Close drains the worker pool, writes a final snapshot of ledger, and closes
// the database.
func (a *Archive) Close(ledger *Ledger) error {
	close(a.jobs)
	a.wg.Wait()

	for _, e := range ledger.Dump() {
		if err := a.save(e); err != nil {
			log.Printf("[stats] final flush %s: %v", e.Username, err)
		}
	}
	return a.db.Close()
}

func (a *Archive) save(e Entry) error {
	// Counts never decrease, so keep the max of disk and memory.
	_, err := a.db.Exec(`INSERT INTO message_counts (username, count) VALUES (?, ?)
		ON CONFLICT(username) DO UPDATE SET count = MAX(count, excluded.count)`,
		e.Username, e.Count)
	return err
}
