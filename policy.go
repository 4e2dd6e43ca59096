package chset

import (
	"math/bits"
)

// ResizingPolicy decides when a StripedSet grows its bucket table. It is
// consulted after every successful mutating operation with the current
// item count, the current bucket count and the size of the bucket the
// operation touched. Reset is called once a resize completed.
//
// Implementations must be safe for concurrent use.
type ResizingPolicy interface {
	ShouldResize(itemCount, bucketCount, bucketSize int) bool
	Reset()
}

// dynamicThreshold derives a per-bucket threshold from the current bucket
// count: small tables tolerate little chaining, large tables a bit more.
func dynamicThreshold(bucketCount int) int {
	return max(4, bits.Len(uint(bucketCount)))
}

// NewLoadFactorResizing returns a policy triggering when the average
// number of items per bucket exceeds threshold.
//
// A threshold of zero means "derive the threshold dynamically from the
// current bucket count", not "disabled"; NewDynamicLoadFactorResizing is
// the explicit spelling of that mode.
func NewLoadFactorResizing(threshold int) ResizingPolicy {
	if threshold < 0 {
		threshold = 0
	}
	return loadFactorResizing{threshold: threshold}
}

// NewDynamicLoadFactorResizing returns load-factor resizing with the
// threshold derived from the current bucket count.
func NewDynamicLoadFactorResizing() ResizingPolicy {
	return loadFactorResizing{}
}

type loadFactorResizing struct {
	threshold int // 0 = dynamic
}

func (p loadFactorResizing) ShouldResize(itemCount, bucketCount, _ int) bool {
	t := p.threshold
	if t == 0 {
		t = dynamicThreshold(bucketCount)
	}
	return itemCount > t*bucketCount
}

func (loadFactorResizing) Reset() {}

// NewSingleBucketThreshold returns a policy triggering when any one
// bucket's size exceeds threshold, independent of global load. It targets
// hot-key skew that load-factor resizing misses.
//
// As with NewLoadFactorResizing, zero means "derive dynamically";
// NewDynamicSingleBucketThreshold is the explicit spelling.
func NewSingleBucketThreshold(threshold int) ResizingPolicy {
	if threshold < 0 {
		threshold = 0
	}
	return singleBucketThreshold{threshold: threshold}
}

// NewDynamicSingleBucketThreshold returns single-bucket-size resizing with
// the threshold derived from the current bucket count.
func NewDynamicSingleBucketThreshold() ResizingPolicy {
	return singleBucketThreshold{}
}

type singleBucketThreshold struct {
	threshold int // 0 = dynamic
}

func (p singleBucketThreshold) ShouldResize(_, bucketCount, bucketSize int) bool {
	t := p.threshold
	if t == 0 {
		t = dynamicThreshold(bucketCount)
	}
	return bucketSize > t
}

func (singleBucketThreshold) Reset() {}

// CopyPolicy controls how entries migrate from the old bucket table to the
// new one during a StripedSet resize. The interface is sealed; the
// provided policies cover copy, move and swap construction, and CopyWith
// injects a caller-supplied functor for types none of those fit.
//
// All policies must insert a logically equivalent entry and must not alter
// the key; the four provided ones produce identical observable post-resize
// contents.
type CopyPolicy[K comparable, V any] interface {
	migrate(dst *orderedList[K, V], src *node[K, V], compare CompareFunc[K])
}

// CopyItem returns the policy that copy-constructs each entry into the new
// table and discards the source. The default.
func CopyItem[K comparable, V any]() CopyPolicy[K, V] {
	return copyItemPolicy[K, V]{}
}

type copyItemPolicy[K comparable, V any] struct{}

func (copyItemPolicy[K, V]) migrate(dst *orderedList[K, V], src *node[K, V], compare CompareFunc[K]) {
	dst.insert(src.entry, compare, nil)
}

// MoveItem returns the policy that relinks the source node into the new
// table without allocating; the source bucket is left discarded.
func MoveItem[K comparable, V any]() CopyPolicy[K, V] {
	return moveItemPolicy[K, V]{}
}

type moveItemPolicy[K comparable, V any] struct{}

func (moveItemPolicy[K, V]) migrate(dst *orderedList[K, V], src *node[K, V], compare CompareFunc[K]) {
	dst.insertNode(src, compare)
}

// SwapItem returns the policy that swaps entry content into a zero-value
// placeholder in the destination, for value types that are cheaper to swap
// than to copy.
func SwapItem[K comparable, V any]() CopyPolicy[K, V] {
	return swapItemPolicy[K, V]{}
}

type swapItemPolicy[K comparable, V any] struct{}

func (swapItemPolicy[K, V]) migrate(dst *orderedList[K, V], src *node[K, V], compare CompareFunc[K]) {
	placeholder := &node[K, V]{}
	placeholder.entry, src.entry = src.entry, placeholder.entry
	dst.insertNode(placeholder, compare)
}

// Inserter is the destination-bucket view handed to a CopyWith functor.
type Inserter[K comparable, V any] interface {
	Insert(key K, value V) bool
}

// CopyWith returns a policy delegating migration to fn, which receives the
// destination bucket and the source entry and must insert a logically
// equivalent entry without altering the key.
func CopyWith[K comparable, V any](fn func(dst Inserter[K, V], src *Entry[K, V])) CopyPolicy[K, V] {
	return customCopyPolicy[K, V]{fn: fn}
}

type customCopyPolicy[K comparable, V any] struct {
	fn func(dst Inserter[K, V], src *Entry[K, V])
}

func (p customCopyPolicy[K, V]) migrate(dst *orderedList[K, V], src *node[K, V], compare CompareFunc[K]) {
	p.fn(listInserter[K, V]{l: dst, compare: compare}, &src.entry)
}

type listInserter[K comparable, V any] struct {
	l       *orderedList[K, V]
	compare CompareFunc[K]
}

func (i listInserter[K, V]) Insert(key K, value V) bool {
	return i.l.insert(Entry[K, V]{Key: key, Value: value}, i.compare, nil)
}
