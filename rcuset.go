package chset

import (
	"cmp"
	"math/rand/v2"
	"unsafe"
)

// RCUSet is a fixed-capacity concurrent hash set with lock-free readers.
//
// The bucket table is sized at construction and never changes, so a key's
// bucket assignment is stable for the set's lifetime and cross-bucket
// operations need no coordination. Each bucket is an ordered list whose
// writers serialize per bucket; readers traverse without locks under the
// protection of an epoch-based reclamation domain (Epoch): an entry
// unlinked from its bucket stays valid until every read region active at
// unlink time has exited.
//
// Operations apply a read region internally except where noted (Extract,
// Get). An RCUSet must not be copied after first use.
type RCUSet[K comparable, V any] struct {
	//lint:ignore U1000 prevents false sharing
	pad [(CacheLineSize - unsafe.Sizeof(struct {
		buckets  []orderedList[struct{}, struct{}]
		bitmask  uintptr
		counter  ItemCounter
		gc       *Epoch
		seed     uintptr
		keyHash  hashFunc
		compare  CompareFunc[struct{}]
		disposer func(*Entry[struct{}, struct{}])
		intKey   bool
	}{})%CacheLineSize) % CacheLineSize]byte

	buckets  []orderedList[K, V]
	bitmask  uintptr
	counter  ItemCounter
	gc       *Epoch
	seed     uintptr
	keyHash  hashFunc
	compare  CompareFunc[K]
	disposer func(*Entry[K, V])
	intKey   bool
}

// NewRCUSet creates a fixed-capacity RCU set for ordered keys. The bucket
// count is the smallest power of two >= ceil(maxItems/loadFactor), minimum
// 1, and is constant for the set's lifetime.
//
// Parameters:
//   - maxItems: estimation of the max item count in the set
//   - loadFactor: target average entries per bucket
//   - options: WithComparator, WithKeyHasher, WithCounter, WithEpoch,
//     WithDisposer
func NewRCUSet[K cmp.Ordered, V any](maxItems, loadFactor int, options ...func(*SetConfig[K, V])) *RCUSet[K, V] {
	return NewRCUSetOf[K, V](cmp.Compare[K], maxItems, loadFactor, options...)
}

// NewRCUSetOf creates a fixed-capacity RCU set with an explicit key order.
// compare must be a deterministic total order; it is the order bucket
// containers keep entries in.
func NewRCUSetOf[K comparable, V any](compare CompareFunc[K], maxItems, loadFactor int, options ...func(*SetConfig[K, V])) *RCUSet[K, V] {
	cfg := SetConfig[K, V]{compare: compare}
	for _, o := range options {
		o(&cfg)
	}
	if cfg.compare == nil {
		panic("chset: nil comparator")
	}
	cfg.counter = cfg.resolveCounter()
	if cfg.gc == nil {
		cfg.gc = NewEpoch()
	}

	s := &RCUSet[K, V]{
		buckets:  make([]orderedList[K, V], calcBucketCount(maxItems, loadFactor)),
		counter:  cfg.counter,
		gc:       cfg.gc,
		seed:     uintptr(rand.Uint64()),
		compare:  cfg.compare,
		disposer: cfg.disposer,
	}
	s.bitmask = uintptr(len(s.buckets) - 1)
	if cfg.keyHash != nil {
		s.keyHash = wrapKeyHasher(cfg.keyHash)
	} else {
		s.keyHash, s.intKey = defaultKeyHasher[K]()
	}
	return s
}

// Epoch returns the set's reclamation domain. Callers need it to scope
// Get/Extract read regions and to Synchronize before releasing extracted
// handles.
func (s *RCUSet[K, V]) Epoch() *Epoch {
	return s.gc
}

func (s *RCUSet[K, V]) hashOf(key K) uintptr {
	h := s.keyHash(noescape(unsafe.Pointer(&key)), s.seed)
	if !s.intKey {
		h = spread(h)
	}
	return h
}

func (s *RCUSet[K, V]) bucketFor(key K) (*orderedList[K, V], uintptr) {
	idx := bucketIndex(s.hashOf(key), s.bitmask)
	return &s.buckets[idx], idx
}

// Insert adds an entry if its key is absent. Returns true when the entry
// was added.
func (s *RCUSet[K, V]) Insert(key K, value V) bool {
	b, idx := s.bucketFor(key)
	rt := s.gc.ReadLock()
	ok := b.insert(Entry[K, V]{Key: key, Value: value}, s.compare, nil)
	rt.Unlock()
	if ok {
		s.counter.Add(idx, 1)
	}
	return ok
}

// InsertFn adds an entry with the given key if absent; on success init is
// invoked exactly once, before the entry becomes visible to readers, to
// finish populating its non-key fields. init must not alter the key.
func (s *RCUSet[K, V]) InsertFn(key K, init func(e *Entry[K, V])) bool {
	b, idx := s.bucketFor(key)
	rt := s.gc.ReadLock()
	ok := b.insert(Entry[K, V]{Key: key}, s.compare, init)
	rt.Unlock()
	if ok {
		s.counter.Add(idx, 1)
	}
	return ok
}

// Ensure inserts a new entry derived from key when absent, or invokes fn
// on the existing one. fn receives isNew, the entry (non-key fields may be
// mutated) and the key. Returns (completed, inserted); the counter moves
// only when a new entry was actually added.
func (s *RCUSet[K, V]) Ensure(key K, fn func(isNew bool, e *Entry[K, V], key K)) (bool, bool) {
	b, idx := s.bucketFor(key)
	rt := s.gc.ReadLock()
	done, inserted := b.ensure(key, s.compare, fn)
	rt.Unlock()
	if done && inserted {
		s.counter.Add(idx, 1)
	}
	return done, inserted
}

// Emplace constructs an entry via construct and inserts it under its own
// key. Returns true when the entry was added.
func (s *RCUSet[K, V]) Emplace(construct func() (K, V)) bool {
	key, value := construct()
	return s.Insert(key, value)
}

// Erase unlinks and destroys the entry matching key. Returns true when an
// entry was removed. Must not be called inside a read region.
func (s *RCUSet[K, V]) Erase(key K) bool {
	return s.erase(key, s.compare, nil)
}

// EraseFn is Erase with an onRemoved callback invoked on the unlinked
// entry before its destruction.
func (s *RCUSet[K, V]) EraseFn(key K, onRemoved func(e *Entry[K, V])) bool {
	return s.erase(key, s.compare, onRemoved)
}

// EraseWith is Erase searching with a less predicate instead of the set's
// comparator. less must induce the same total order.
func (s *RCUSet[K, V]) EraseWith(key K, less LessFunc[K]) bool {
	return s.erase(key, cmpFromLess(less), nil)
}

// EraseWithFn combines EraseWith and EraseFn.
func (s *RCUSet[K, V]) EraseWithFn(key K, less LessFunc[K], onRemoved func(e *Entry[K, V])) bool {
	return s.erase(key, cmpFromLess(less), onRemoved)
}

func (s *RCUSet[K, V]) erase(key K, compare CompareFunc[K], onRemoved func(e *Entry[K, V])) bool {
	b, idx := s.bucketFor(key)
	rt := s.gc.ReadLock()
	n := b.unlink(key, compare, onRemoved)
	rt.Unlock()
	if n == nil {
		return false
	}
	s.counter.Add(idx, -1)
	if s.disposer != nil {
		dispose := s.disposer
		s.gc.Retire(func() {
			dispose(&n.entry)
		})
	}
	return true
}

// Extract unlinks the entry matching key without destroying it and
// returns an ownership-transferring handle (empty when the key is
// absent).
//
// The caller must already hold a read region; the entry behind the handle
// is valid until that region ends. The handle must not be Released until
// the caller has left the region; Release defers the set's disposer past a
// grace period. Improper sequencing is a reclamation-ordering violation,
// not a checked error.
func (s *RCUSet[K, V]) Extract(key K) ExemptPtr[K, V] {
	return s.extract(key, s.compare)
}

// ExtractWith is Extract searching with a less predicate instead of the
// set's comparator.
func (s *RCUSet[K, V]) ExtractWith(key K, less LessFunc[K]) ExemptPtr[K, V] {
	return s.extract(key, cmpFromLess(less))
}

func (s *RCUSet[K, V]) extract(key K, compare CompareFunc[K]) ExemptPtr[K, V] {
	b, idx := s.bucketFor(key)
	n := b.unlink(key, compare, nil)
	if n == nil {
		return ExemptPtr[K, V]{}
	}
	s.counter.Add(idx, -1)
	return ExemptPtr[K, V]{n: n, gc: s.gc, dispose: s.disposer}
}

// Find reports whether key is present.
func (s *RCUSet[K, V]) Find(key K) bool {
	return s.find(key, s.compare, nil)
}

// FindFn invokes fn on the matching entry under read protection. fn may
// mutate non-key fields but must not retain the entry pointer beyond the
// call. Returns whether key was found.
func (s *RCUSet[K, V]) FindFn(key K, fn func(e *Entry[K, V], key K)) bool {
	return s.find(key, s.compare, fn)
}

// FindWith is Find searching with a less predicate instead of the set's
// comparator.
func (s *RCUSet[K, V]) FindWith(key K, less LessFunc[K]) bool {
	return s.find(key, cmpFromLess(less), nil)
}

// FindWithFn combines FindWith and FindFn.
func (s *RCUSet[K, V]) FindWithFn(key K, less LessFunc[K], fn func(e *Entry[K, V], key K)) bool {
	return s.find(key, cmpFromLess(less), fn)
}

func (s *RCUSet[K, V]) find(key K, compare CompareFunc[K], fn func(e *Entry[K, V], key K)) bool {
	b, _ := s.bucketFor(key)
	rt := s.gc.ReadLock()
	n := b.search(key, compare)
	if n != nil && fn != nil {
		fn(&n.entry, key)
	}
	rt.Unlock()
	return n != nil
}

// Get returns a pointer to the matching entry, or nil. The caller must
// hold a read region around both the call and every use of the returned
// pointer; reclamation of the entry cannot complete before that region
// ends. Dereferencing the pointer after the region ended is undefined
// behavior by contract.
func (s *RCUSet[K, V]) Get(key K) *Entry[K, V] {
	return s.get(key, s.compare)
}

// GetWith is Get searching with a less predicate instead of the set's
// comparator.
func (s *RCUSet[K, V]) GetWith(key K, less LessFunc[K]) *Entry[K, V] {
	return s.get(key, cmpFromLess(less))
}

func (s *RCUSet[K, V]) get(key K, compare CompareFunc[K]) *Entry[K, V] {
	b, _ := s.bucketFor(key)
	n := b.search(key, compare)
	if n == nil {
		return nil
	}
	return &n.entry
}

// Clear sequentially empties every bucket and resets the counter. Not
// atomic as a whole: concurrent writers may race with it and there is no
// instant at which the set is guaranteed globally empty. Must not be
// called inside a read region.
func (s *RCUSet[K, V]) Clear() {
	for i := range s.buckets {
		head := s.buckets[i].detachAll()
		if s.disposer == nil {
			continue
		}
		for n := head; n != nil; n = n.next.Load() {
			n := n
			dispose := s.disposer
			s.gc.Retire(func() {
				dispose(&n.entry)
			})
		}
	}
	s.counter.Reset()
}

// Size returns the approximate number of entries. The value reflects an
// eventually consistent, not snapshot-consistent, view under concurrent
// mutation.
func (s *RCUSet[K, V]) Size() int {
	return s.counter.Value()
}

// Empty reports Size() == 0. Emptiness is checked by item counting.
func (s *RCUSet[K, V]) Empty() bool {
	return s.Size() == 0
}

// BucketCount returns the fixed size of the bucket table (bitmask+1).
func (s *RCUSet[K, V]) BucketCount() int {
	return int(s.bitmask) + 1
}

// Range calls fn for each entry, crossing buckets in index order and
// entries in intra-bucket order, until fn returns false. The traversal
// runs inside a single read region: entries removed concurrently are
// observed safely, but a concurrent traversal is not guaranteed complete
// (elements inserted or removed mid-walk may or may not be visited). The
// iteration must stay on the calling goroutine.
func (s *RCUSet[K, V]) Range(fn func(e *Entry[K, V]) bool) {
	rt := s.gc.ReadLock()
	defer rt.Unlock()
	for i := range s.buckets {
		for n := s.buckets[i].head.Load(); n != nil; n = n.next.Load() {
			if !fn(&n.entry) {
				return
			}
		}
	}
}
