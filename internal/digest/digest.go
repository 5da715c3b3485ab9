// Package digest defines the key digest type used to shard the request
// hash and assign partitions, and hashes (namespace, digest) pairs with
// xxhash — the teacher's go.mod already pulls in cespare/xxhash/v2
// indirectly through go-redis's cluster routing; this package promotes it
// to a direct, deliberately-used dependency instead of leaving it idle.
package digest

import (
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Size is the digest length in bytes, modeled on a 160-bit key digest.
const Size = 20

// Digest identifies a record within a namespace.
type Digest [Size]byte

// String renders the digest as lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Key pairs a namespace with a record digest — the sharding key for the
// request hash and the unit addressed by a partition reservation.
type Key struct {
	Namespace string
	Digest    Digest
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Namespace, k.Digest)
}

// Hash64 returns a 64-bit hash of the key suitable for sharding into a
// fixed number of buckets (request-hash shards, via ShardIndex).
func (k Key) Hash64() uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(k.Namespace)
	_, _ = h.Write(k.Digest[:])
	return h.Sum64()
}

// PartitionID maps a digest to one of numPartitions partitions by taking an
// xxhash of all 20 digest bytes modulo numPartitions. The namespace is not
// part of the hash (namespace is partitioned separately).
func PartitionID(d Digest, numPartitions int) int {
	if numPartitions <= 0 {
		return 0
	}
	v := xxhash.Sum64(d[:])
	return int(v % uint64(numPartitions))
}

// ShardIndex maps a key to one of n shards of the request hash.
func ShardIndex(k Key, n int) int {
	if n <= 0 {
		return 0
	}
	return int(k.Hash64() % uint64(n))
}
