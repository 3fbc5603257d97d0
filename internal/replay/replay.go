// Package replay guards against double-spending a payment proof.
package replay

import (
	"sync"

	"github.com/kmw384/paygate/internal/metrics"
)

// Store records consumed transaction ids. Consume must be atomic: two
// concurrent calls for the same pair must never both report first use.
//
// The memory store bounds the at-most-once guarantee to a single process;
// running multiple replicas requires an externalized implementation
// behind this interface.
type Store interface {
	// Consume marks (network, txID) as used. Returns true on first use,
	// false when the pair was already consumed.
	Consume(network, txID string) bool
	// Size returns the number of consumed entries.
	Size() int
}

// MemoryStore is an in-memory Store. Entries are append-only and live
// for the process lifetime.
type MemoryStore struct {
	mu   sync.Mutex
	used map[string]struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{used: make(map[string]struct{})}
}

func key(network, txID string) string {
	return network + ":" + txID
}

// Consume implements Store. The check and insert happen under one lock
// acquisition so concurrent duplicates cannot both win.
func (s *MemoryStore) Consume(network, txID string) bool {
	k := key(network, txID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.used[k]; exists {
		return false
	}
	s.used[k] = struct{}{}
	metrics.ReplayStoreSize.Set(float64(len(s.used)))
	return true
}

// Size implements Store.
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.used)
}
