package locks

import (
	"sync"
	"testing"
)

func entryCount(k *Keyed) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// Scenario: a long-running process cycles through many trips; the lock map
// must not retain an entry per trip ever touched.
func TestEntriesDroppedAfterRelease(t *testing.T) {
	k := NewKeyed()
	for id := uint(1); id <= 500; id++ {
		release := k.Acquire(id)
		release()
	}
	if n := entryCount(k); n != 0 {
		t.Fatalf("entries after release = %d, want 0", n)
	}
}

func TestAcquireSerializesPerKey(t *testing.T) {
	k := NewKeyed()
	const workers = 8
	const rounds = 200

	var n int
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				release := k.Acquire(7)
				n++
				release()
			}
		}()
	}
	wg.Wait()

	if n != workers*rounds {
		t.Fatalf("counter = %d, want %d", n, workers*rounds)
	}
	if c := entryCount(k); c != 0 {
		t.Fatalf("entries after contention = %d, want 0", c)
	}
}

func TestIndependentKeysDoNotBlock(t *testing.T) {
	k := NewKeyed()
	releaseA := k.Acquire(1)
	releaseB := k.Acquire(2)
	releaseB()
	releaseA()
	if n := entryCount(k); n != 0 {
		t.Fatalf("entries = %d, want 0", n)
	}
}
