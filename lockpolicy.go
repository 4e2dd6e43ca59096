package chset

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// LockPolicy provides per-stripe mutual exclusion for a StripedSet plus a
// table-wide exclusive mode used only during resize. Stripe resolution is
// keyed by the operation's full hash; the policy's stripe count is
// independent of the set's bucket count.
//
// Lock-acquisition order is always "own stripe, then table-wide if
// resizing", never nested across two distinct stripes, so no deadlock
// arises from ordering.
type LockPolicy interface {
	// Lock acquires the stripe for hash exclusively.
	Lock(hash uintptr) StripeGuard
	// RLock acquires the stripe for hash in shared mode (policies
	// without a shared mode acquire exclusively).
	RLock(hash uintptr) StripeGuard
	// LockAll enters table-wide exclusive mode, blocking every stripe.
	LockAll()
	// UnlockAll leaves table-wide exclusive mode.
	UnlockAll()
	// Split is invoked under LockAll when the bucket table grew to
	// newBucketCount; refinable policies grow their stripe table here,
	// fixed policies ignore it.
	Split(newBucketCount int)
	// StripeCount returns the current number of stripes.
	StripeCount() int
}

// StripeGuard is a held stripe acquisition.
type StripeGuard struct {
	l      stripeLock
	shared bool
}

// Unlock releases the stripe.
func (g StripeGuard) Unlock() {
	if g.shared {
		g.l.RUnlock()
	} else {
		g.l.Unlock()
	}
}

type stripeLock interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

type rwStripe struct {
	sync.RWMutex
	//lint:ignore U1000 prevents false sharing between neighbouring stripes
	pad [(CacheLineSize - unsafe.Sizeof(sync.RWMutex{})%CacheLineSize) % CacheLineSize]byte
}

// NewStripedMutexPolicy returns a fixed-size array of RWMutex stripes.
// stripes is rounded up to a power of two, minimum 1. The stripe count
// never changes, even as the bucket table grows.
func NewStripedMutexPolicy(stripes int) LockPolicy {
	n := nextPowOf2(stripes)
	return &stripedMutexPolicy{
		locks: make([]rwStripe, n),
		mask:  uintptr(n - 1),
	}
}

type stripedMutexPolicy struct {
	locks []rwStripe
	mask  uintptr
}

func (p *stripedMutexPolicy) Lock(hash uintptr) StripeGuard {
	l := &p.locks[hash&p.mask]
	l.Lock()
	return StripeGuard{l: l}
}

func (p *stripedMutexPolicy) RLock(hash uintptr) StripeGuard {
	l := &p.locks[hash&p.mask]
	l.RLock()
	return StripeGuard{l: l, shared: true}
}

func (p *stripedMutexPolicy) LockAll() {
	for i := range p.locks {
		p.locks[i].Lock()
	}
}

func (p *stripedMutexPolicy) UnlockAll() {
	for i := len(p.locks) - 1; i >= 0; i-- {
		p.locks[i].Unlock()
	}
}

func (p *stripedMutexPolicy) Split(int) {}

func (p *stripedMutexPolicy) StripeCount() int {
	return len(p.locks)
}

// NewRefinableMutexPolicy returns a refinable locking scheme: the stripe
// table doubles alongside the bucket table during Split, so stripe
// granularity tracks table growth without blocking unrelated stripes
// outside of resize.
func NewRefinableMutexPolicy(stripes int) LockPolicy {
	p := &refinablePolicy{}
	p.table.Store(newRefinableTable(nextPowOf2(stripes)))
	return p
}

type refinablePolicy struct {
	table atomic.Pointer[refinableTable]
	// allLocked is the stripe table whose locks the table-wide holder
	// owns; only touched between LockAll and UnlockAll.
	allLocked *refinableTable
}

type refinableTable struct {
	locks []rwStripe
	mask  uintptr
}

func newRefinableTable(n int) *refinableTable {
	return &refinableTable{
		locks: make([]rwStripe, n),
		mask:  uintptr(n - 1),
	}
}

// acquire locks one stripe, re-validating that the stripe table was not
// refined while it blocked; a stale acquisition guards nothing and is
// retried against the current table.
func (p *refinablePolicy) acquire(hash uintptr, shared bool) StripeGuard {
	for {
		t := p.table.Load()
		l := &t.locks[hash&t.mask]
		if shared {
			l.RLock()
		} else {
			l.Lock()
		}
		if p.table.Load() == t {
			return StripeGuard{l: l, shared: shared}
		}
		if shared {
			l.RUnlock()
		} else {
			l.Unlock()
		}
	}
}

func (p *refinablePolicy) Lock(hash uintptr) StripeGuard {
	return p.acquire(hash, false)
}

func (p *refinablePolicy) RLock(hash uintptr) StripeGuard {
	return p.acquire(hash, true)
}

func (p *refinablePolicy) LockAll() {
	for {
		t := p.table.Load()
		for i := range t.locks {
			t.locks[i].Lock()
		}
		if p.table.Load() == t {
			p.allLocked = t
			return
		}
		// A concurrent table-wide holder refined the stripe table
		// while this one queued; the locks just taken guard nothing.
		for i := len(t.locks) - 1; i >= 0; i-- {
			t.locks[i].Unlock()
		}
	}
}

func (p *refinablePolicy) UnlockAll() {
	t := p.allLocked
	p.allLocked = nil
	for i := len(t.locks) - 1; i >= 0; i-- {
		t.locks[i].Unlock()
	}
}

// Split doubles the stripe table up to newBucketCount stripes. The new
// locks are acquired before publication so the table-wide holder keeps
// exclusivity; the old locks are released to unpark waiters, which
// re-validate and move to the new table.
func (p *refinablePolicy) Split(newBucketCount int) {
	old := p.allLocked
	n := len(old.locks) * 2
	if n > newBucketCount {
		n = newBucketCount
	}
	if n <= len(old.locks) {
		return
	}
	nt := newRefinableTable(n)
	for i := range nt.locks {
		nt.locks[i].Lock()
	}
	p.table.Store(nt)
	p.allLocked = nt
	for i := len(old.locks) - 1; i >= 0; i-- {
		old.locks[i].Unlock()
	}
}

func (p *refinablePolicy) StripeCount() int {
	return len(p.table.Load().locks)
}

// NewSpinLockPolicy returns spin-based stripe locks with no shared mode:
// RLock acquires exclusively. Suited to short critical sections with low
// per-stripe contention.
func NewSpinLockPolicy(stripes int) LockPolicy {
	n := nextPowOf2(stripes)
	return &spinLockPolicy{
		locks: make([]spinStripe, n),
		mask:  uintptr(n - 1),
	}
}

type spinStripe struct {
	spinMutex
	//lint:ignore U1000 prevents false sharing between neighbouring stripes
	pad [(CacheLineSize - unsafe.Sizeof(spinMutex{})%CacheLineSize) % CacheLineSize]byte
}

func (s *spinStripe) RLock()   { s.Lock() }
func (s *spinStripe) RUnlock() { s.Unlock() }

type spinLockPolicy struct {
	locks []spinStripe
	mask  uintptr
}

func (p *spinLockPolicy) Lock(hash uintptr) StripeGuard {
	l := &p.locks[hash&p.mask]
	l.Lock()
	return StripeGuard{l: l}
}

func (p *spinLockPolicy) RLock(hash uintptr) StripeGuard {
	return p.Lock(hash)
}

func (p *spinLockPolicy) LockAll() {
	for i := range p.locks {
		p.locks[i].Lock()
	}
}

func (p *spinLockPolicy) UnlockAll() {
	for i := len(p.locks) - 1; i >= 0; i-- {
		p.locks[i].Unlock()
	}
}

func (p *spinLockPolicy) Split(int) {}

func (p *spinLockPolicy) StripeCount() int {
	return len(p.locks)
}
