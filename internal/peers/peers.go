// Package peers resolves which peer nodes hold duplicates of a partition,
// by rendezvous (highest-random-weight) hashing of the partition id over
// the configured node set. This is a mechanical lookup, not a replica
// placement policy: cluster membership and placement policy remain out of
// scope (§1, §9). Grounded on the teacher's cluster routing
// (internal/cluster/client.go: ForEachMaster, slot-to-node lookup) but
// replacing its static Redis slot map with rendezvous hashing, since the
// teacher's go.mod already carries dgryski/go-rendezvous indirectly via
// go-redis's own cluster client.
package peers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dgryski/go-rendezvous"
)

// Set resolves partition ids to the peer(s) that should hold duplicates.
type Set struct {
	mu      sync.RWMutex
	nodes   []string
	rv      *rendezvous.Rendezvous
}

func hashNode(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

// New builds a peer set over the given node ids. Order is normalized so
// the same node set always yields the same rendezvous ring regardless of
// configuration order.
func New(nodeIDs []string) *Set {
	sorted := append([]string(nil), nodeIDs...)
	sort.Strings(sorted)
	return &Set{
		nodes: sorted,
		rv:    rendezvous.New(sorted, hashNode),
	}
}

// DuplicateHolder returns the node id that should hold the duplicate copy
// of the given partition key, excluding the master itself.
func (s *Set) DuplicateHolder(partitionKey string, master string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.nodes) < 2 {
		return "", fmt.Errorf("peers: need at least 2 nodes to hold a duplicate, have %d", len(s.nodes))
	}
	for _, attempt := range []string{partitionKey, partitionKey + "#1", partitionKey + "#2"} {
		candidate := s.rv.Lookup(attempt)
		if candidate != master {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("peers: could not find a duplicate holder distinct from master %q", master)
}

// Update replaces the node set, e.g. on cluster membership change observed
// from the fabric layer (out of scope here; the caller supplies the set).
func (s *Set) Update(nodeIDs []string) {
	sorted := append([]string(nil), nodeIDs...)
	sort.Strings(sorted)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = sorted
	s.rv = rendezvous.New(sorted, hashNode)
}

// Nodes returns the current node set.
func (s *Set) Nodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.nodes...)
}
