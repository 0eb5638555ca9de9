package session

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestTableTryAddEnforcesUniqueness(t *testing.T) {
	tbl := NewTable()

	if !tbl.TryAdd("Anton", Session{Username: "Anton"}) {
		t.Fatal("first TryAdd should succeed")
	}
	if tbl.TryAdd("Anton", Session{Username: "Anton"}) {
		t.Error("second TryAdd for same name should fail")
	}
	if tbl.TryAdd("anton", Session{Username: "anton"}) {
		t.Error("TryAdd should be case-insensitive")
	}
	if tbl.TryAdd("  Anton  ", Session{Username: "Anton"}) {
		t.Error("TryAdd should ignore surrounding whitespace")
	}
	if got := tbl.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestTableTryAddConcurrentSingleWinner(t *testing.T) {
	tbl := NewTable()

	const attempts = 64
	var wg sync.WaitGroup
	wins := make(chan bool, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- tbl.TryAdd("Anton", Session{Username: "Anton"})
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Errorf("%d concurrent TryAdds succeeded, want exactly 1", won)
	}
}

func TestTableUpsertCreatesAndTransforms(t *testing.T) {
	tbl := NewTable()
	now := time.Now()

	// Synthesizes a session when none exists.
	tbl.Upsert("ghost", func(cur Session, ok bool) Session {
		if ok {
			t.Error("expected no existing session")
		}
		return Session{Username: "ghost", Color: "red", LastHeartbeat: now}
	})

	sess, ok := tbl.Get("ghost")
	if !ok || sess.Color != "red" {
		t.Fatalf("Get(ghost) = %+v, %v", sess, ok)
	}

	// Transforms the existing session without touching the color.
	later := now.Add(time.Minute)
	tbl.Upsert("GHOST", func(cur Session, ok bool) Session {
		if !ok {
			t.Error("expected existing session")
		}
		return cur.WithHeartbeat(later)
	})

	sess, _ = tbl.Get("ghost")
	if sess.Color != "red" {
		t.Errorf("color changed across heartbeat update: %q", sess.Color)
	}
	if !sess.LastHeartbeat.Equal(later) {
		t.Errorf("LastHeartbeat = %v, want %v", sess.LastHeartbeat, later)
	}
}

func TestTableRemoveIdempotent(t *testing.T) {
	tbl := NewTable()
	tbl.TryAdd("Anton", Session{Username: "Anton"})

	if !tbl.Remove("anton") {
		t.Error("first Remove should report true")
	}
	if tbl.Remove("Anton") {
		t.Error("second Remove should report false")
	}
	if tbl.Remove("nobody") {
		t.Error("Remove of unknown user should report false")
	}
}

func TestTableNamesInsertionOrder(t *testing.T) {
	tbl := NewTable()
	for _, name := range []string{"Clara", "anton", "Bea"} {
		tbl.TryAdd(name, Session{Username: name})
	}
	tbl.Remove("anton")

	got := tbl.Names()
	want := []string{"Clara", "Bea"}
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTableStale(t *testing.T) {
	tbl := NewTable()
	now := time.Now()
	timeout := 30 * time.Second

	tbl.TryAdd("fresh", Session{Username: "fresh", LastHeartbeat: now})
	tbl.TryAdd("edge", Session{Username: "edge", LastHeartbeat: now.Add(-timeout)})
	tbl.TryAdd("stale", Session{Username: "stale", LastHeartbeat: now.Add(-timeout - time.Second)})

	stale := tbl.Stale(now, timeout)
	if len(stale) != 1 || stale[0] != "stale" {
		t.Errorf("Stale() = %v, want [stale]", stale)
	}
}

func TestTableConcurrentMixedOperations(t *testing.T) {
	tbl := NewTable()
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		name := fmt.Sprintf("user%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			tbl.TryAdd(name, Session{Username: name, LastHeartbeat: time.Now()})
			tbl.Upsert(name, func(cur Session, ok bool) Session {
				return cur.WithHeartbeat(time.Now())
			})
			tbl.Get(name)
			tbl.Names()
			if i%2 == 0 {
				tbl.Remove(name)
			}
		}()
	}
	wg.Wait()

	if got := tbl.Len(); got != 16 {
		t.Errorf("Len() = %d, want 16", got)
	}
}
