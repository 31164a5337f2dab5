package scheduling

import (
	"sort"
	"sync"
)

// dayLocks serializes commit sections per clinic-local day, so bookings for
// disjoint days never block each other. Bucket mutexes are kept for the
// process lifetime; the key space (days with traffic) stays small.
type dayLocks struct {
	mu      sync.Mutex
	buckets map[string]*sync.Mutex
}

func newDayLocks() *dayLocks {
	return &dayLocks{buckets: map[string]*sync.Mutex{}}
}

func (l *dayLocks) bucket(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.buckets[key]
	if !ok {
		m = &sync.Mutex{}
		l.buckets[key] = m
	}
	return m
}

// lock acquires the buckets for the given keys in sorted order (deduplicated),
// which keeps multi-day operations such as reschedule deadlock-free. The
// returned func releases them in reverse order.
func (l *dayLocks) lock(keys ...string) (unlock func()) {
	uniq := make([]string, 0, len(keys))
	seen := map[string]bool{}
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			uniq = append(uniq, k)
		}
	}
	sort.Strings(uniq)

	held := make([]*sync.Mutex, 0, len(uniq))
	for _, k := range uniq {
		m := l.bucket(k)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
