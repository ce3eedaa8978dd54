// Package locks provides per-key mutual exclusion for multi-step
// operations: concurrent calls against one trip are serialized while
// unrelated trips proceed in parallel.
package locks

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed hands out one mutex per key. Entries are reference counted and
// dropped once the last holder releases, so the map is bounded by the keys
// currently contended rather than every key ever seen.
type Keyed struct {
	mu      sync.Mutex
	entries map[uint]*entry
}

func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[uint]*entry)}
}

// Acquire locks the key's mutex and returns the release function.
func (k *Keyed) Acquire(key uint) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
