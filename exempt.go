package chset

// ExemptPtr is an ownership-transferring handle to an entry that Extract
// unlinked from its bucket but did not destroy. The entry stays valid
// while the extracting goroutine's read region is held; after leaving the
// region the handle may only be Released, which hands the entry to the
// reclamation cycle.
//
// Releasing the handle while still inside a read region, or dereferencing
// it after the region ended, violates the reclamation ordering contract.
type ExemptPtr[K comparable, V any] struct {
	n       *node[K, V]
	gc      *Epoch
	dispose func(*Entry[K, V])
}

// Valid reports whether the handle refers to an extracted entry.
func (p ExemptPtr[K, V]) Valid() bool {
	return p.n != nil
}

// Ptr returns the extracted entry, or nil for an empty handle. The pointer
// is valid only inside the read region held across the Extract call.
func (p ExemptPtr[K, V]) Ptr() *Entry[K, V] {
	if p.n == nil {
		return nil
	}
	return &p.n.entry
}

// Release passes the entry to the reclamation cycle: the set's disposer,
// if any, runs after a grace period. Must be called outside any read
// region. Releasing an empty handle is a no-op.
func (p ExemptPtr[K, V]) Release() {
	if p.n == nil || p.dispose == nil {
		return
	}
	n := p.n
	dispose := p.dispose
	p.gc.Retire(func() {
		dispose(&n.entry)
	})
}
