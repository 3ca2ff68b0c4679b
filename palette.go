package sketch

import (
	"math"
	"sort"
	"sync"
)

// Palette is a named set of colors that strokes may reference by name.
// Re-pointing an entry recolors every stroke using it on the next render.
// Safe for concurrent use.
type Palette struct {
	mu      sync.RWMutex
	entries map[string]RGBA
}

// NewPalette creates a palette from the given entries.
func NewPalette(entries map[string]RGBA) *Palette {
	p := &Palette{entries: make(map[string]RGBA, len(entries))}
	for k, v := range entries {
		p.entries[k] = v
	}
	return p
}

// Set adds or replaces an entry.
func (p *Palette) Set(name string, c RGBA) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entries == nil {
		p.entries = make(map[string]RGBA)
	}
	p.entries[name] = c
}

// Lookup returns the entry for name.
func (p *Palette) Lookup(name string) (RGBA, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.entries[name]
	return c, ok
}

// Names returns the entry names in sorted order.
func (p *Palette) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.entries))
	for k := range p.entries {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Nearest returns the entry perceptually closest to c using CIEDE2000.
// Ties resolve to the lexically smallest name. ok is false for an empty
// palette.
func (p *Palette) Nearest(c RGBA) (name string, ok bool) {
	target := c.Colorful()
	best := math.Inf(1)
	for _, n := range p.Names() {
		v, _ := p.Lookup(n)
		if d := target.DistanceCIEDE2000(v.Colorful()); d < best {
			best, name, ok = d, n, true
		}
	}
	return name, ok
}
