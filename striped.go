package chset

import (
	"cmp"
	"math/rand/v2"
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sync/errgroup"
)

const (
	// minBucketsPerGoroutine defines the minimum number of buckets per
	// goroutine during resize migration. Tables smaller than this use
	// single-threaded migration, avoiding goroutine creation overhead.
	minBucketsPerGoroutine = 1024
)

// StripedSet is a dynamically resizable concurrent hash set protected by
// stripe locks.
//
// Every operation hashes its key, acquires the stripe lock covering that
// hash (shared for pure reads, exclusive otherwise), delegates to the
// bucket container, updates the item counter on structural change and then
// consults the ResizingPolicy, possibly triggering a table-wide rehash.
// Two operations on different stripes run fully parallel; a resize holds
// the table-wide exclusive mode and blocks everything until migration
// finishes.
//
// A StripedSet must not be copied after first use.
type StripedSet[K comparable, V any] struct {
	//lint:ignore U1000 prevents false sharing
	pad [(CacheLineSize - unsafe.Sizeof(struct {
		table    atomic.Pointer[stripedTable[struct{}, struct{}]]
		locks    LockPolicy
		counter  ItemCounter
		resizing ResizingPolicy
		copier   CopyPolicy[struct{}, struct{}]
		seed     uintptr
		keyHash  hashFunc
		compare  CompareFunc[struct{}]
		intKey   bool
		growths  atomic.Uint32
	}{})%CacheLineSize) % CacheLineSize]byte

	table    atomic.Pointer[stripedTable[K, V]]
	locks    LockPolicy
	counter  ItemCounter
	resizing ResizingPolicy
	copier   CopyPolicy[K, V]
	seed     uintptr
	keyHash  hashFunc
	compare  CompareFunc[K]
	intKey   bool
	growths  atomic.Uint32
}

// stripedTable is the bucket table, wholesale-replaced under the
// table-wide lock during resize. The old table stays fully valid and in
// use until the new one is completely built and published.
type stripedTable[K comparable, V any] struct {
	buckets []orderedList[K, V]
	bitmask uintptr
}

func newStripedTable[K comparable, V any](bucketCount int) *stripedTable[K, V] {
	return &stripedTable[K, V]{
		buckets: make([]orderedList[K, V], bucketCount),
		bitmask: uintptr(bucketCount - 1),
	}
}

// NewStripedSet creates a resizable striped set for ordered keys.
//
// Parameters:
//   - initialBuckets: starting bucket count, rounded up to a power of two
//   - resizing: resize trigger; nil means dynamic load-factor resizing
//   - options: WithComparator, WithKeyHasher, WithCounter, WithLockPolicy,
//     WithCopyPolicy
func NewStripedSet[K cmp.Ordered, V any](initialBuckets int, resizing ResizingPolicy, options ...func(*SetConfig[K, V])) *StripedSet[K, V] {
	return NewStripedSetOf[K, V](cmp.Compare[K], initialBuckets, resizing, options...)
}

// NewStripedSetOf creates a resizable striped set with an explicit key
// order.
func NewStripedSetOf[K comparable, V any](compare CompareFunc[K], initialBuckets int, resizing ResizingPolicy, options ...func(*SetConfig[K, V])) *StripedSet[K, V] {
	cfg := SetConfig[K, V]{compare: compare}
	for _, o := range options {
		o(&cfg)
	}
	if cfg.compare == nil {
		panic("chset: nil comparator")
	}
	cfg.counter = cfg.resolveCounter()
	if resizing == nil {
		resizing = NewDynamicLoadFactorResizing()
	}
	bucketCount := nextPowOf2(initialBuckets)
	if cfg.lockPolicy == nil {
		cfg.lockPolicy = NewRefinableMutexPolicy(bucketCount)
	}
	if cfg.copyPolicy == nil {
		cfg.copyPolicy = CopyItem[K, V]()
	}

	s := &StripedSet[K, V]{
		locks:    cfg.lockPolicy,
		counter:  cfg.counter,
		resizing: resizing,
		copier:   cfg.copyPolicy,
		seed:     uintptr(rand.Uint64()),
		compare:  cfg.compare,
	}
	s.table.Store(newStripedTable[K, V](bucketCount))
	if cfg.keyHash != nil {
		s.keyHash = wrapKeyHasher(cfg.keyHash)
	} else {
		s.keyHash, s.intKey = defaultKeyHasher[K]()
	}
	return s
}

func (s *StripedSet[K, V]) hashOf(key K) uintptr {
	h := s.keyHash(noescape(unsafe.Pointer(&key)), s.seed)
	if !s.intKey {
		h = spread(h)
	}
	return h
}

// mutate runs op on key's bucket under the exclusive stripe lock, adjusts
// the counter when op reports a structural change, and consults the
// resizing policy afterwards. op returns (changed, counter delta).
func (s *StripedSet[K, V]) mutate(key K, op func(b *orderedList[K, V]) (bool, int)) bool {
	h := s.hashOf(key)
	g := s.locks.Lock(h)
	t := s.table.Load()
	idx := bucketIndex(h, t.bitmask)
	b := &t.buckets[idx]
	changed, delta := op(b)
	var bucketSize int
	if changed {
		if delta != 0 {
			s.counter.Add(idx, delta)
		}
		bucketSize = b.count()
	}
	g.Unlock()

	if changed && s.resizing.ShouldResize(s.counter.Value(), int(t.bitmask)+1, bucketSize) {
		s.resize()
	}
	return changed
}

// Insert adds an entry if its key is absent. Returns true when the entry
// was added.
func (s *StripedSet[K, V]) Insert(key K, value V) bool {
	return s.mutate(key, func(b *orderedList[K, V]) (bool, int) {
		return b.insert(Entry[K, V]{Key: key, Value: value}, s.compare, nil), 1
	})
}

// InsertFn adds an entry with the given key if absent; on success init is
// invoked exactly once to finish populating its non-key fields. init must
// not alter the key.
func (s *StripedSet[K, V]) InsertFn(key K, init func(e *Entry[K, V])) bool {
	return s.mutate(key, func(b *orderedList[K, V]) (bool, int) {
		return b.insert(Entry[K, V]{Key: key}, s.compare, init), 1
	})
}

// Ensure inserts a new entry derived from key when absent, or invokes fn
// on the existing one. Returns (completed, inserted).
func (s *StripedSet[K, V]) Ensure(key K, fn func(isNew bool, e *Entry[K, V], key K)) (bool, bool) {
	var inserted bool
	done := s.mutate(key, func(b *orderedList[K, V]) (bool, int) {
		var ok bool
		ok, inserted = b.ensure(key, s.compare, fn)
		if !ok || !inserted {
			return ok, 0
		}
		return true, 1
	})
	return done, inserted
}

// Emplace constructs an entry via construct and inserts it under its own
// key. Returns true when the entry was added.
func (s *StripedSet[K, V]) Emplace(construct func() (K, V)) bool {
	key, value := construct()
	return s.Insert(key, value)
}

// Erase removes and destroys the entry matching key. Returns true when an
// entry was removed.
func (s *StripedSet[K, V]) Erase(key K) bool {
	return s.eraseCmp(key, s.compare, nil)
}

// EraseFn is Erase with an onRemoved callback invoked on the removed entry
// before it is discarded.
func (s *StripedSet[K, V]) EraseFn(key K, onRemoved func(e *Entry[K, V])) bool {
	return s.eraseCmp(key, s.compare, onRemoved)
}

// EraseWith is Erase searching with a less predicate instead of the set's
// comparator. less must induce the same total order.
func (s *StripedSet[K, V]) EraseWith(key K, less LessFunc[K]) bool {
	return s.eraseCmp(key, cmpFromLess(less), nil)
}

// EraseWithFn combines EraseWith and EraseFn.
func (s *StripedSet[K, V]) EraseWithFn(key K, less LessFunc[K], onRemoved func(e *Entry[K, V])) bool {
	return s.eraseCmp(key, cmpFromLess(less), onRemoved)
}

func (s *StripedSet[K, V]) eraseCmp(key K, compare CompareFunc[K], onRemoved func(e *Entry[K, V])) bool {
	return s.mutate(key, func(b *orderedList[K, V]) (bool, int) {
		return b.unlink(key, compare, onRemoved) != nil, -1
	})
}

// Extract removes the entry matching key and returns it by value. Under
// the stripe lock the removal is immediately final; no deferred
// reclamation is involved.
func (s *StripedSet[K, V]) Extract(key K) (Entry[K, V], bool) {
	var out Entry[K, V]
	ok := s.mutate(key, func(b *orderedList[K, V]) (bool, int) {
		n := b.unlink(key, s.compare, nil)
		if n == nil {
			return false, 0
		}
		out = n.entry
		return true, -1
	})
	return out, ok
}

// Find reports whether key is present.
func (s *StripedSet[K, V]) Find(key K) bool {
	return s.findCmp(key, s.compare, nil)
}

// FindFn invokes fn on the matching entry under the shared stripe lock.
// fn may mutate non-key fields but must not retain the entry pointer
// beyond the call. Returns whether key was found.
func (s *StripedSet[K, V]) FindFn(key K, fn func(e *Entry[K, V], key K)) bool {
	return s.findCmp(key, s.compare, fn)
}

// FindWith is Find searching with a less predicate instead of the set's
// comparator.
func (s *StripedSet[K, V]) FindWith(key K, less LessFunc[K]) bool {
	return s.findCmp(key, cmpFromLess(less), nil)
}

// FindWithFn combines FindWith and FindFn.
func (s *StripedSet[K, V]) FindWithFn(key K, less LessFunc[K], fn func(e *Entry[K, V], key K)) bool {
	return s.findCmp(key, cmpFromLess(less), fn)
}

func (s *StripedSet[K, V]) findCmp(key K, compare CompareFunc[K], fn func(e *Entry[K, V], key K)) bool {
	h := s.hashOf(key)
	g := s.locks.RLock(h)
	t := s.table.Load()
	b := &t.buckets[bucketIndex(h, t.bitmask)]
	n := b.search(key, compare)
	if n != nil && fn != nil {
		fn(&n.entry, key)
	}
	g.Unlock()
	return n != nil
}

// Clear empties the set bucket by bucket. Not atomic as a whole:
// concurrent writers may race with it and there is no instant at which
// the set is guaranteed globally empty.
func (s *StripedSet[K, V]) Clear() {
	t := s.table.Load()
	for i := range t.buckets {
		g := s.locks.Lock(uintptr(i))
		// The table may have been replaced while waiting; the bucket
		// index stays in range because tables only grow.
		cur := s.table.Load()
		if i < len(cur.buckets) {
			cur.buckets[i].detachAll()
		}
		g.Unlock()
	}
	s.counter.Reset()
}

// Size returns the approximate number of entries. The value reflects an
// eventually consistent, not snapshot-consistent, view under concurrent
// mutation.
func (s *StripedSet[K, V]) Size() int {
	return s.counter.Value()
}

// Empty reports Size() == 0.
func (s *StripedSet[K, V]) Empty() bool {
	return s.Size() == 0
}

// BucketCount returns the current size of the bucket table. It changes
// only across a resize.
func (s *StripedSet[K, V]) BucketCount() int {
	return int(s.table.Load().bitmask) + 1
}

// LockCount returns the lock policy's current stripe count. For refinable
// policies it grows alongside the bucket table.
func (s *StripedSet[K, V]) LockCount() int {
	return s.locks.StripeCount()
}

// Range calls fn for each entry, bucket by bucket under shared stripe
// acquisition, until fn returns false. Entries inserted or removed
// concurrently may or may not be visited.
func (s *StripedSet[K, V]) Range(fn func(e *Entry[K, V]) bool) {
	t := s.table.Load()
	for i := range t.buckets {
		g := s.locks.RLock(uintptr(i))
		cur := s.table.Load()
		if i >= len(cur.buckets) {
			g.Unlock()
			return
		}
		for n := cur.buckets[i].head.Load(); n != nil; n = n.next.Load() {
			if !fn(&n.entry) {
				g.Unlock()
				return
			}
		}
		g.Unlock()
	}
}

// resize grows the bucket table under the table-wide exclusive lock. The
// trigger is re-validated after the lock is held: the resize that made
// this one redundant may have already run. Migration is all-or-nothing:
// the old table is never touched until the new one is fully built, and it
// remains published if building never completes.
func (s *StripedSet[K, V]) resize() {
	s.locks.LockAll()
	defer s.locks.UnlockAll()

	t := s.table.Load()
	if !s.revalidateResize(t) {
		return
	}

	newLen := (int(t.bitmask) + 1) * 2
	nt := newStripedTable[K, V](newLen)
	s.migrate(t, nt)
	s.table.Store(nt)
	s.locks.Split(newLen)
	s.resizing.Reset()
	s.growths.Add(1)
}

// revalidateResize re-runs the policy with fresh figures, using the
// largest bucket as the touched-bucket size so single-bucket policies see
// their own trigger.
func (s *StripedSet[K, V]) revalidateResize(t *stripedTable[K, V]) bool {
	maxBucket := 0
	for i := range t.buckets {
		if n := t.buckets[i].count(); n > maxBucket {
			maxBucket = n
		}
	}
	return s.resizing.ShouldResize(s.counter.Value(), int(t.bitmask)+1, maxBucket)
}

// migrate rehashes every entry of the old table into the new one using
// the configured copy policy, chunked across goroutines for large tables.
func (s *StripedSet[K, V]) migrate(old, dst *stripedTable[K, V]) {
	buckets := len(old.buckets)
	chunkSize, chunks := calcParallelism(buckets, minBucketsPerGoroutine, runtime.NumCPU())
	if chunks <= 1 {
		s.migrateRange(old, dst, 0, buckets)
		return
	}
	var eg errgroup.Group
	for c := 0; c < chunks; c++ {
		start := c * chunkSize
		end := min(start+chunkSize, buckets)
		eg.Go(func() error {
			s.migrateRange(old, dst, start, end)
			return nil
		})
	}
	_ = eg.Wait()
}

func (s *StripedSet[K, V]) migrateRange(old, dst *stripedTable[K, V], start, end int) {
	for i := start; i < end; i++ {
		n := old.buckets[i].head.Load()
		for n != nil {
			// The move policy relinks n, clobbering its next
			// pointer; read it first.
			next := n.next.Load()
			h := s.hashOf(n.entry.Key)
			db := &dst.buckets[bucketIndex(h, dst.bitmask)]
			s.copier.migrate(db, n, s.compare)
			n = next
		}
	}
}

// calcParallelism suggests a degree of parallelism for processing items.
//
// Returns:
//   - chunkSize: number of items processed per goroutine
//   - chunks: suggested number of goroutines
func calcParallelism(items, threshold, cpus int) (chunkSize, chunks int) {
	// If the items is too small, use single-threaded processing.
	if items <= threshold {
		return items, 1
	}

	chunks = min(items/threshold, cpus)
	chunkSize = (items + chunks - 1) / chunks
	return chunkSize, chunks
}

// StripedStats is a snapshot of StripedSet internals. Intended for
// monitoring and debugging; values are approximate under concurrency.
type StripedStats struct {
	// Size is the current item count.
	Size int
	// BucketCount is the current bucket table size.
	BucketCount int
	// StripeCount is the lock policy's current stripe count.
	StripeCount int
	// TotalGrowths is the number of times the bucket table grew.
	TotalGrowths uint32
}

// Stats returns a snapshot of the set's internals.
func (s *StripedSet[K, V]) Stats() StripedStats {
	return StripedStats{
		Size:         s.Size(),
		BucketCount:  s.BucketCount(),
		StripeCount:  s.locks.StripeCount(),
		TotalGrowths: s.growths.Load(),
	}
}
