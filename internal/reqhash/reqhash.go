// Package reqhash implements the request hash (§4.6): keyed by
// (namespace, digest), at most one in-flight transaction per key, with a
// timeout sweeper racing the natural completion path. It is sharded (§5
// Shared-resource policy) so the sweeper and concurrent inserts only
// contend within one shard's lock, following the same per-shard mutex
// shape as the teacher's cluster slot map in internal/cluster/client.go
// (independent locking per routing unit rather than one global lock).
package reqhash

import (
	"sync"
	"time"

	"kvnode/internal/digest"
	"kvnode/internal/txn"
)

// InsertResult reports the outcome of attempting to insert a key.
type InsertResult int

const (
	InProgress InsertResult = iota
	Waiting
)

func (r InsertResult) String() string {
	if r == InProgress {
		return "IN_PROGRESS"
	}
	return "WAITING"
}

type entry struct {
	tr      *txn.Transaction
	endTime time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[digest.Key]*entry
}

// Hash is the sharded request hash.
type Hash struct {
	shards []*shard
}

// New builds a request hash with the given shard count.
func New(numShards int) *Hash {
	if numShards <= 0 {
		numShards = 1
	}
	shards := make([]*shard, numShards)
	for i := range shards {
		shards[i] = &shard{entries: make(map[digest.Key]*entry)}
	}
	return &Hash{shards: shards}
}

func (h *Hash) shardFor(k digest.Key) *shard {
	return h.shards[digest.ShardIndex(k, len(h.shards))]
}

// Insert records a new in-flight transaction for key, or reports that one
// is already in flight (§4.6, invariant 1: at most one in-flight
// transaction per key).
func (h *Hash) Insert(k digest.Key, tr *txn.Transaction, timeout time.Duration) InsertResult {
	s := h.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[k]; exists {
		return Waiting
	}
	s.entries[k] = &entry{tr: tr, endTime: time.Now().Add(timeout)}
	return InProgress
}

// Remove clears the in-flight entry for key on natural completion. It is
// safe to call even if the entry was already removed by the sweeper.
func (h *Hash) Remove(k digest.Key) {
	s := h.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, k)
}

// Len returns the total number of in-flight entries across all shards,
// used by the ticker's queue-depth snapshot (§4.9).
func (h *Hash) Len() int {
	total := 0
	for _, s := range h.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}

// SweepTimeouts walks every shard independently and invokes Timeout() on
// every entry whose end_time has passed, removing it from the hash. The
// transaction's own claim-once arbitration (txn.Transaction.Timeout)
// decides whether the sweeper or a concurrently-completing natural path
// wins (§4.6, §5).
func (h *Hash) SweepTimeouts(now time.Time) int {
	fired := 0
	for _, s := range h.shards {
		s.mu.Lock()
		var expired []*txn.Transaction
		for k, e := range s.entries {
			if now.After(e.endTime) {
				expired = append(expired, e.tr)
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()

		for _, tr := range expired {
			tr.Timeout()
			fired++
		}
	}
	return fired
}

// StartSweeper runs SweepTimeouts on the given interval until stop is
// closed.
func (h *Hash) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.SweepTimeouts(time.Now())
			case <-stop:
				return
			}
		}
	}()
}
