// Package storage supplies the minimal partition-reservation and as-rec
// façade that the transaction and UDF pipelines read and write through
// (§3, §4.8). The real namespace storage engine (SSD/memory/LDT subsystems)
// is explicitly out of scope (§1); this package is the in-memory stand-in
// that gives master-apply, dup-res, and repl-write real state to operate on
// in tests, mirroring the teacher's mutex-guarded, file-free in-memory
// bookkeeping in internal/state/state.go (a guarded map behind a small
// struct, not a database).
package storage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"kvnode/internal/digest"
	"kvnode/internal/logging"
	"kvnode/internal/peers"
)

// Reservation is a held claim on a namespace partition for the duration of
// a transaction (§3). Release must run exactly once; a second Release is a
// critical failure, mirroring the file-handle close-exactly-once invariant.
type Reservation struct {
	Namespace   string
	PartitionID int
	Peers       []string

	released atomic.Bool
	log      *logging.Facility
}

// Release returns the reservation to the partition. Calling it twice is a
// critical failure (§8 idempotence), not a silent no-op.
func (r *Reservation) Release() {
	if !r.released.CompareAndSwap(false, true) {
		if r.log != nil {
			r.log.CriticalNoStack(logging.CtxStorage, fmt.Sprintf(
				"reservation released twice: namespace=%s partition=%d", r.Namespace, r.PartitionID))
			return
		}
		panic(fmt.Sprintf("storage: reservation released twice: namespace=%s partition=%d", r.Namespace, r.PartitionID))
	}
}

// Record is the as-rec façade handed to the script engine during UDF
// master-apply (§4.8): a view over a stored record's bins and metadata,
// closed exactly once at the end of the apply.
type Record struct {
	Digest         digest.Digest
	Bins           map[string]interface{}
	Generation     uint32
	VoidTime       uint32
	LastUpdateTime int64
	PreExisted     bool
	Open           bool

	closed atomic.Bool
}

// Close releases the record handle. The storage layer underneath owns the
// actual lock release; here it only marks the façade closed.
func (r *Record) Close() {
	r.closed.CompareAndSwap(false, true)
	r.Open = false
}

// Closed reports whether Close has been called.
func (r *Record) Closed() bool { return r.closed.Load() }

type partition struct {
	mu      sync.Mutex
	records map[digest.Digest]*storedRecord
}

type storedRecord struct {
	bins           map[string]interface{}
	generation     uint32
	voidTime       uint32
	lastUpdateTime int64
}

// Facade is the in-memory storage stand-in. A real node would back this
// with the SSD/memory engine (out of scope); this implementation exists so
// the transaction and UDF pipelines have real state transitions to drive in
// tests.
type Facade struct {
	log   *logging.Facility
	peers *peers.Set

	mu         sync.RWMutex
	partitions map[string]map[int]*partition // namespace -> partition id -> partition
	numParts   map[string]int
}

// NewFacade constructs an empty in-memory facade. peerSet may be nil if
// duplicate-holder lookups are not exercised by the caller.
func NewFacade(log *logging.Facility, peerSet *peers.Set) *Facade {
	return &Facade{
		log:        log,
		peers:      peerSet,
		partitions: make(map[string]map[int]*partition),
		numParts:   make(map[string]int),
	}
}

// ConfigureNamespace declares the partition count for a namespace, used by
// digest.PartitionID to route keys.
func (f *Facade) ConfigureNamespace(namespace string, numPartitions int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.numParts[namespace] = numPartitions
	if _, ok := f.partitions[namespace]; !ok {
		f.partitions[namespace] = make(map[int]*partition)
	}
}

func (f *Facade) partitionFor(namespace string, partitionID int) *partition {
	f.mu.Lock()
	defer f.mu.Unlock()
	ns, ok := f.partitions[namespace]
	if !ok {
		ns = make(map[int]*partition)
		f.partitions[namespace] = ns
	}
	p, ok := ns[partitionID]
	if !ok {
		p = &partition{records: make(map[digest.Digest]*storedRecord)}
		ns[partitionID] = p
	}
	return p
}

// Reserve takes a partition reservation naming the namespace, partition id,
// and duplicate-holding peers for the key (§3).
func (f *Facade) Reserve(k digest.Key) (*Reservation, error) {
	f.mu.RLock()
	n, configured := f.numParts[k.Namespace]
	f.mu.RUnlock()
	if !configured {
		n = 4096
	}
	pid := digest.PartitionID(k.Digest, n)

	var peerIDs []string
	if f.peers != nil {
		if holder, err := f.peers.DuplicateHolder(fmt.Sprintf("%s:%d", k.Namespace, pid), "self"); err == nil {
			peerIDs = []string{holder}
		}
	}

	return &Reservation{
		Namespace:   k.Namespace,
		PartitionID: pid,
		Peers:       peerIDs,
		log:         f.log,
	}, nil
}

// OpenRecord opens (or creates a not-found placeholder for) the record
// named by digest within the reserved partition, and returns the as-rec
// façade the UDF pipeline operates on.
func (f *Facade) OpenRecord(rsv *Reservation, d digest.Digest) (*Record, error) {
	p := f.partitionFor(rsv.Namespace, rsv.PartitionID)
	p.mu.Lock()
	defer p.mu.Unlock()

	sr, exists := p.records[d]
	rec := &Record{Digest: d, Open: true, PreExisted: exists}
	if exists {
		rec.Bins = cloneBins(sr.bins)
		rec.Generation = sr.generation
		rec.VoidTime = sr.voidTime
		rec.LastUpdateTime = sr.lastUpdateTime
	} else {
		rec.Bins = make(map[string]interface{})
	}
	return rec, nil
}

// CommitWrite persists the record's current bin set as a new generation.
func (f *Facade) CommitWrite(rsv *Reservation, rec *Record) error {
	p := f.partitionFor(rsv.Namespace, rsv.PartitionID)
	p.mu.Lock()
	defer p.mu.Unlock()
	sr := p.records[rec.Digest]
	if sr == nil {
		sr = &storedRecord{}
		p.records[rec.Digest] = sr
	}
	sr.bins = cloneBins(rec.Bins)
	sr.generation++
	sr.voidTime = rec.VoidTime
	rec.Generation = sr.generation
	return nil
}

// CommitDelete removes the index entry for the record (§4.8 DELETE path).
func (f *Facade) CommitDelete(rsv *Reservation, d digest.Digest) error {
	p := f.partitionFor(rsv.Namespace, rsv.PartitionID)
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records, d)
	return nil
}

// Get is a direct read of the stored record, outside any UDF job; unlike
// OpenRecord it reports false when no record is stored for the digest.
func (f *Facade) Get(rsv *Reservation, d digest.Digest) (*Record, bool) {
	p := f.partitionFor(rsv.Namespace, rsv.PartitionID)
	p.mu.Lock()
	defer p.mu.Unlock()
	sr, ok := p.records[d]
	if !ok {
		return nil, false
	}
	return &Record{
		Digest:         d,
		Bins:           cloneBins(sr.bins),
		Generation:     sr.generation,
		VoidTime:       sr.voidTime,
		LastUpdateTime: sr.lastUpdateTime,
		PreExisted:     true,
	}, true
}

// ObjectCount reports the number of live records held for namespace, for
// the ticker's per-namespace object-count snapshot (§4.9). It does not
// distinguish master/prole copies: this façade has no replica-role concept
// (replica placement policy is out of scope, §1), so every record counts
// as a master object.
func (f *Facade) ObjectCount(namespace string) int {
	f.mu.RLock()
	ns, ok := f.partitions[namespace]
	f.mu.RUnlock()
	if !ok {
		return 0
	}
	total := 0
	for _, p := range ns {
		p.mu.Lock()
		total += len(p.records)
		p.mu.Unlock()
	}
	return total
}

func cloneBins(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
