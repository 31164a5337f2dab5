package scheduling

import (
	"sync"
	"testing"
)

func TestDayLocks_SerializesSameKey(t *testing.T) {
	locks := newDayLocks()

	var mu sync.Mutex
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("2026-09-02")
			defer unlock()
			mu.Lock()
			counter++
			mu.Unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("expected 50 increments, got %d", counter)
	}
}

func TestDayLocks_MultiKeyOrderIndependent(t *testing.T) {
	locks := newDayLocks()

	// Opposite acquisition orders must not deadlock: lock sorts keys internally.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock := locks.lock("2026-09-02", "2026-09-03")
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock := locks.lock("2026-09-03", "2026-09-02")
			unlock()
		}()
	}
	wg.Wait()
}

func TestDayLocks_DuplicateKeys(t *testing.T) {
	locks := newDayLocks()
	// A same-day reschedule passes the same key twice; it must not self-deadlock.
	unlock := locks.lock("2026-09-02", "2026-09-02")
	unlock()
}
