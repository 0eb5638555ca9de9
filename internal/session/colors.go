package session

import "sync/atomic"

// DefaultColors is the palette used when none is configured.  The names are
// ANSI color identifiers the terminal client maps to lipgloss styles.
var DefaultColors = []string{
	"red", "green", "yellow", "blue", "magenta", "cyan", "orange", "purple",
}

// Palette hands out display colors from a fixed pool.  Colors are cosmetic:
// reuse across live sessions is fine, but the allocation cursor itself is a
// shared atomic so concurrent logins never lose or duplicate an increment.
type Palette struct {
	colors []string
	cursor atomic.Uint64
}

// NewPalette creates a Palette over colors, falling back to DefaultColors when
// colors is empty.
func NewPalette(colors []string) *Palette {
	if len(colors) == 0 {
		colors = DefaultColors
	}
	return &Palette{colors: colors}
}

// Next returns the next color in cyclic order.  Safe for unbounded concurrent
// callers; the unsigned counter wraps via modular arithmetic.
func (p *Palette) Next() string {
	n := p.cursor.Add(1) - 1
	return p.colors[n%uint64(len(p.colors))]
}

// Default returns the fallback color assigned to sessions synthesized by a
// heartbeat that arrives without a prior login.
func (p *Palette) Default() string {
	return p.colors[0]
}

// Size returns the number of colors in the pool.
func (p *Palette) Size() int {
	return len(p.colors)
}
