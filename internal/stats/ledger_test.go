package stats

import (
	"sync"
	"testing"
)

func TestLedgerRegisterIdempotent(t *testing.T) {
	l := NewLedger()

	l.Register("anton")
	l.Record("anton")
	l.Record("anton")
	l.Register("anton") // must not reset the count

	if got := l.Count("anton"); got != 2 {
		t.Errorf("Count(anton) = %d, want 2", got)
	}
}

func TestLedgerIdentityIsCaseInsensitive(t *testing.T) {
	l := NewLedger()

	l.Record("Anton")
	l.Record("anton")
	l.Record("  ANTON ")

	if got := l.Count("AnToN"); got != 3 {
		t.Errorf("Count(AnToN) = %d, want 3", got)
	}

	total, average, top := l.Snapshot()
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if average != 3.0 {
		t.Errorf("average = %v, want 3.0 (one known user)", average)
	}
	if len(top) != 1 {
		t.Fatalf("top = %+v, want a single entry", top)
	}
	if top[0].Username != "Anton" || top[0].Count != 3 {
		t.Errorf("top[0] = %+v, want {Anton 3}", top[0])
	}
}

func TestLedgerEntryUsesCanonicalDisplayName(t *testing.T) {
	l := NewLedger()
	l.Record("Anton")
	l.Record("anton")

	e := l.Entry("ANTON")
	if e.Username != "Anton" || e.Count != 2 {
		t.Errorf("Entry(ANTON) = %+v, want {Anton 2}", e)
	}
}

func TestLedgerRecordImplicitlyRegisters(t *testing.T) {
	l := NewLedger()
	l.Record("bea")

	if got := l.Count("bea"); got != 1 {
		t.Errorf("Count(bea) = %d, want 1", got)
	}
}

func TestLedgerSnapshotTotalsAndMonotonicity(t *testing.T) {
	l := NewLedger()

	const goroutines = 8
	const perGoroutine = 50
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				l.Record("anton")
			}
		}()
	}
	wg.Wait()

	total, _, _ := l.Snapshot()
	if total != goroutines*perGoroutine {
		t.Errorf("total = %d, want %d", total, goroutines*perGoroutine)
	}
	if got := l.Count("anton"); got != goroutines*perGoroutine {
		t.Errorf("Count(anton) = %d, want %d", got, goroutines*perGoroutine)
	}
}

func TestLedgerTopThree(t *testing.T) {
	l := NewLedger()
	seed := map[string]int{"A": 10, "B": 7, "C": 7, "D": 1}
	for _, name := range []string{"A", "B", "C", "D"} {
		for i := 0; i < seed[name]; i++ {
			l.Record(name)
		}
	}

	_, _, top := l.Snapshot()
	if len(top) != 3 {
		t.Fatalf("len(top) = %d, want 3", len(top))
	}
	if top[0].Username != "A" || top[0].Count != 10 {
		t.Errorf("top[0] = %+v, want {A 10}", top[0])
	}
	// B and C tie on 7; insertion order keeps B ahead of C.
	if top[1].Username != "B" || top[2].Username != "C" {
		t.Errorf("top[1:] = %+v, want B then C", top[1:])
	}
	for _, e := range top {
		if e.Username == "D" {
			t.Error("D should not appear in the top three")
		}
	}
}

func TestLedgerAverage(t *testing.T) {
	l := NewLedger()

	// No users: average must be 0, not a division by zero.
	if _, avg, _ := l.Snapshot(); avg != 0 {
		t.Errorf("empty ledger average = %v, want 0", avg)
	}

	for i := 0; i < 4; i++ {
		l.Record("A")
	}
	l.Register("B")

	total, avg, _ := l.Snapshot()
	if total != 4 {
		t.Errorf("total = %d, want 4", total)
	}
	if avg != 2.0 {
		t.Errorf("average = %v, want 2.0", avg)
	}
}

func TestLedgerRestoreKeepsHigherCount(t *testing.T) {
	l := NewLedger()
	l.Record("anton")
	l.Record("anton")

	l.Restore("anton", 1) // lower than live count, must not regress
	if got := l.Count("anton"); got != 2 {
		t.Errorf("Count(anton) = %d, want 2", got)
	}

	l.Restore("bea", 5)
	if got := l.Count("bea"); got != 5 {
		t.Errorf("Count(bea) = %d, want 5", got)
	}
}
