package session

import (
	"sync"
	"testing"
)

func TestPaletteCyclesInOrder(t *testing.T) {
	p := NewPalette([]string{"red", "green", "blue"})

	want := []string{"red", "green", "blue", "red", "green"}
	for i, w := range want {
		if got := p.Next(); got != w {
			t.Errorf("Next() call %d = %q, want %q", i, got, w)
		}
	}
}

func TestPaletteEmptyFallsBackToDefaults(t *testing.T) {
	p := NewPalette(nil)
	if p.Size() != len(DefaultColors) {
		t.Fatalf("Size() = %d, want %d", p.Size(), len(DefaultColors))
	}
	if p.Default() != DefaultColors[0] {
		t.Errorf("Default() = %q, want %q", p.Default(), DefaultColors[0])
	}
}

func TestPaletteConcurrentIncrementsNotLost(t *testing.T) {
	pool := []string{"red", "green", "blue", "yellow"}
	p := NewPalette(pool)

	const goroutines = 8
	const perGoroutine = 100

	valid := make(map[string]bool, len(pool))
	for _, c := range pool {
		valid[c] = true
	}

	var wg sync.WaitGroup
	counts := make(chan string, goroutines*perGoroutine)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				counts <- p.Next()
			}
		}()
	}
	wg.Wait()
	close(counts)

	perColor := make(map[string]int)
	total := 0
	for c := range counts {
		if !valid[c] {
			t.Fatalf("Next() returned out-of-pool color %q", c)
		}
		perColor[c]++
		total++
	}
	if total != goroutines*perGoroutine {
		t.Fatalf("got %d allocations, want %d", total, goroutines*perGoroutine)
	}

	// No increment lost or duplicated means a perfectly even distribution.
	want := total / len(pool)
	for _, c := range pool {
		if perColor[c] != want {
			t.Errorf("color %q allocated %d times, want %d", c, perColor[c], want)
		}
	}
}
