package chset

import (
	"sync/atomic"
)

// node is a bucket container element. next is published atomically so
// lock-free readers can traverse the chain while a writer relinks it.
// An unlinked node keeps its next pointer intact: a reader parked on it
// can still finish its traversal.
type node[K comparable, V any] struct {
	next  atomic.Pointer[node[K, V]]
	entry Entry[K, V]
}

// orderedList is the per-bucket ordered container: a singly-linked list
// sorted by the set's comparator. Readers traverse without locks; writers
// serialize on an embedded spinlock. It implements the bucket capability
// set both variants delegate to (under stripe locks the spinlock is simply
// uncontended).
type orderedList[K comparable, V any] struct {
	head atomic.Pointer[node[K, V]]
	mu   spinMutex
	size atomic.Int32
}

// search returns the node matching key, or nil. Lock-free; safe during
// concurrent relinking.
func (l *orderedList[K, V]) search(key K, compare CompareFunc[K]) *node[K, V] {
	for n := l.head.Load(); n != nil; n = n.next.Load() {
		c := compare(n.entry.Key, key)
		if c == 0 {
			return n
		}
		if c > 0 {
			return nil
		}
	}
	return nil
}

// locate walks the chain under l.mu and returns the insertion point for
// key: prev is the node before the position (nil at head), cur the node at
// it. found reports whether cur holds key.
func (l *orderedList[K, V]) locate(key K, compare CompareFunc[K]) (prev, cur *node[K, V], found bool) {
	cur = l.head.Load()
	for cur != nil {
		c := compare(cur.entry.Key, key)
		if c >= 0 {
			return prev, cur, c == 0
		}
		prev = cur
		cur = cur.next.Load()
	}
	return prev, nil, false
}

// link publishes n between prev and n's stored successor.
func (l *orderedList[K, V]) link(prev, n *node[K, V]) {
	if prev == nil {
		l.head.Store(n)
	} else {
		prev.next.Store(n)
	}
}

// insert adds e if its key is absent. init, when non-nil, finishes
// populating the entry exactly once before it becomes visible to readers.
func (l *orderedList[K, V]) insert(e Entry[K, V], compare CompareFunc[K], init func(*Entry[K, V])) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, cur, found := l.locate(e.Key, compare)
	if found {
		return false
	}
	n := &node[K, V]{entry: e}
	if init != nil {
		init(&n.entry)
	}
	n.next.Store(cur)
	l.link(prev, n)
	l.size.Add(1)
	return true
}

// insertNode relinks an existing node into this list (resize migration,
// move policy). The caller owns n exclusively.
func (l *orderedList[K, V]) insertNode(n *node[K, V], compare CompareFunc[K]) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, cur, found := l.locate(n.entry.Key, compare)
	if found {
		return false
	}
	n.next.Store(cur)
	l.link(prev, n)
	l.size.Add(1)
	return true
}

// ensure inserts an entry derived from key when absent, otherwise lets fn
// mutate the existing entry's non-key fields. fn runs with isNew=true on
// the freshly created entry before it is published. Returns (completed,
// inserted).
func (l *orderedList[K, V]) ensure(key K, compare CompareFunc[K], fn func(isNew bool, e *Entry[K, V], key K)) (bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, cur, found := l.locate(key, compare)
	if found {
		if fn != nil {
			fn(false, &cur.entry, key)
		}
		return true, false
	}
	n := &node[K, V]{entry: Entry[K, V]{Key: key}}
	if fn != nil {
		fn(true, &n.entry, key)
	}
	n.next.Store(cur)
	l.link(prev, n)
	l.size.Add(1)
	return true, true
}

// unlink removes the node matching key and returns it, nil when absent.
// onRemoved, when non-nil, sees the entry right after it became
// unreachable from the chain. The node's own next pointer is left intact
// for concurrent readers.
func (l *orderedList[K, V]) unlink(key K, compare CompareFunc[K], onRemoved func(*Entry[K, V])) *node[K, V] {
	l.mu.Lock()
	prev, cur, found := l.locate(key, compare)
	if !found {
		l.mu.Unlock()
		return nil
	}
	next := cur.next.Load()
	if prev == nil {
		l.head.Store(next)
	} else {
		prev.next.Store(next)
	}
	l.size.Add(-1)
	l.mu.Unlock()

	if onRemoved != nil {
		onRemoved(&cur.entry)
	}
	return cur
}

// detachAll empties the list and returns the old chain head. The chain's
// internal links stay valid for readers still traversing it.
func (l *orderedList[K, V]) detachAll() *node[K, V] {
	l.mu.Lock()
	head := l.head.Load()
	l.head.Store(nil)
	l.size.Store(0)
	l.mu.Unlock()
	return head
}

// count returns the number of entries. Approximate under concurrent
// mutation.
func (l *orderedList[K, V]) count() int {
	return int(l.size.Load())
}
