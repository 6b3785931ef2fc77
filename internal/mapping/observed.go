package mapping

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// ObservedEntry describes one PGN/instance combination seen on the bus that
// did not resolve to a handled binding or known PGN.
type ObservedEntry struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Count     uint64
	Sample    []byte
}

// observedKey identifies either an unmapped (pgn, instance) or an unknown
// pgn (instance is ignored in that case).
type observedKey struct {
	pgn      uint32
	instance uint32
}

// ObservedTable is a bounded, capacity-limited record of "observed but
// unhandled" traffic. It is backed by ttlcache so that long-idle entries
// age out automatically instead of growing the table without bound — the
// same "bounded map of entries" behavior spec.md calls for, without a
// hand-rolled LRU.
type ObservedTable struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[observedKey, *ObservedEntry]
}

// DefaultObservedTTL bounds how long an unhandled entry is retained after
// its last sighting.
const DefaultObservedTTL = 24 * time.Hour

// NewObservedTable constructs a table capped at capacity entries.
func NewObservedTable(capacity uint64) *ObservedTable {
	cache := ttlcache.New[observedKey, *ObservedEntry](
		ttlcache.WithTTL[observedKey, *ObservedEntry](DefaultObservedTTL),
		ttlcache.WithCapacity[observedKey, *ObservedEntry](capacity),
	)
	go cache.Start()
	return &ObservedTable{cache: cache}
}

// Close stops the cache's background janitor goroutine.
func (t *ObservedTable) Close() {
	t.cache.Stop()
}

// Record notes one sighting of (pgn, instance) carrying payload at now.
func (t *ObservedTable) Record(pgn, instance uint32, payload []byte, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := observedKey{pgn: pgn, instance: instance}
	item := t.cache.Get(key)
	if item == nil {
		sample := make([]byte, len(payload))
		copy(sample, payload)
		t.cache.Set(key, &ObservedEntry{FirstSeen: now, LastSeen: now, Count: 1, Sample: sample}, ttlcache.DefaultTTL)
		return
	}
	entry := item.Value()
	entry.LastSeen = now
	entry.Count++
	t.cache.Set(key, entry, ttlcache.DefaultTTL)
}

// Snapshot returns every currently-retained (pgn, instance) -> entry pair.
func (t *ObservedTable) Snapshot() map[[2]uint32]ObservedEntry {
	out := make(map[[2]uint32]ObservedEntry)
	for _, item := range t.cache.Items() {
		k := item.Key()
		out[[2]uint32{k.pgn, k.instance}] = *item.Value()
	}
	return out
}

// Len reports how many entries are currently retained.
func (t *ObservedTable) Len() int {
	return t.cache.Len()
}
