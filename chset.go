// Package chset provides concurrent hash-set containers offering two
// complementary concurrency architectures over the same operation surface:
//
//   - RCUSet: a fixed-capacity set whose readers are lock-free, protected
//     by an epoch-based reclamation discipline (Epoch).
//   - StripedSet: a dynamically resizable set protected by stripe locks,
//     with pluggable resize-trigger (ResizingPolicy), migration
//     (CopyPolicy) and locking (LockPolicy) strategies.
//
// Both store Entry values addressed by hash(key) & bitmask over a
// power-of-two bucket table, delegate per-bucket storage to an ordered
// container, and share an approximate ItemCounter.
package chset

import (
	"unsafe"
)

// Entry is a keyed element of a set. The key is immutable once inserted:
// no operation exposes a way to change it, and functors receiving an
// *Entry must not modify Key.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// SetConfig defines configurable options shared by both set variants.
// Options that do not apply to a variant are ignored by it.
type SetConfig[K comparable, V any] struct {
	compare    CompareFunc[K]
	keyHash    func(key K, seed uintptr) uintptr
	counter    ItemCounter
	counterSet bool
	gc         *Epoch
	disposer   func(e *Entry[K, V])
	lockPolicy LockPolicy
	copyPolicy CopyPolicy[K, V]
}

// WithComparator overrides the key order used by the bucket containers.
func WithComparator[K comparable, V any](compare CompareFunc[K]) func(*SetConfig[K, V]) {
	return func(c *SetConfig[K, V]) {
		c.compare = compare
	}
}

// WithKeyHasher overrides the built-in key hasher. The function must be
// deterministic and side-effect free.
func WithKeyHasher[K comparable, V any](keyHash func(key K, seed uintptr) uintptr) func(*SetConfig[K, V]) {
	return func(c *SetConfig[K, V]) {
		c.keyHash = keyHash
	}
}

// WithCounter overrides the default striped ItemCounter. Passing nil
// panics at construction: emptiness is checked by item counting, so a set
// without a working counter is a misconfiguration.
func WithCounter[K comparable, V any](counter ItemCounter) func(*SetConfig[K, V]) {
	return func(c *SetConfig[K, V]) {
		c.counter = counter
		c.counterSet = true
	}
}

// WithEpoch makes an RCUSet share a reclamation domain instead of owning
// one. Ignored by StripedSet.
func WithEpoch[K comparable, V any](g *Epoch) func(*SetConfig[K, V]) {
	return func(c *SetConfig[K, V]) {
		c.gc = g
	}
}

// WithDisposer installs a destructor invoked for every entry once its
// reclamation is safe (after a grace period for the RCU variant). Ignored
// by StripedSet, whose removals hand entries back to the caller directly.
func WithDisposer[K comparable, V any](disposer func(e *Entry[K, V])) func(*SetConfig[K, V]) {
	return func(c *SetConfig[K, V]) {
		c.disposer = disposer
	}
}

// WithLockPolicy selects the stripe locking scheme of a StripedSet.
// Ignored by RCUSet.
func WithLockPolicy[K comparable, V any](p LockPolicy) func(*SetConfig[K, V]) {
	return func(c *SetConfig[K, V]) {
		c.lockPolicy = p
	}
}

// WithCopyPolicy selects how entries migrate between tables during a
// StripedSet resize. Ignored by RCUSet.
func WithCopyPolicy[K comparable, V any](p CopyPolicy[K, V]) func(*SetConfig[K, V]) {
	return func(c *SetConfig[K, V]) {
		c.copyPolicy = p
	}
}

// resolveCounter applies the counter construction contract: an explicit
// nil counter is rejected at construction, absence means the striped
// default.
func (c *SetConfig[K, V]) resolveCounter() ItemCounter {
	if c.counterSet && c.counter == nil {
		panic("chset: nil ItemCounter; emptiness is checked by item counting")
	}
	if c.counter == nil {
		return NewStripedCounter()
	}
	return c.counter
}

// wrapKeyHasher adapts a typed user hasher to the internal unsafe form.
func wrapKeyHasher[K comparable](fn func(key K, seed uintptr) uintptr) hashFunc {
	return func(p unsafe.Pointer, seed uintptr) uintptr {
		return fn(*(*K)(p), seed)
	}
}
