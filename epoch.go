package chset

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Epoch is a grace-period tracker for deferred destruction of objects
// unlinked from a shared structure. Readers enter a read region with
// ReadLock; nothing retired during a region's lifetime is reclaimed before
// the region ends. Writers hand unlinked objects to Retire and their
// disposers run only after a grace period in which every read region active
// at retire time has exited.
//
// The scheme is epoch-based: a global epoch counter plus per-parity striped
// reader counts. ReadLock pins the current epoch's parity; Synchronize
// advances the epoch and waits for the drained parity to reach zero, twice,
// which covers readers on either parity at its start.
//
// Retired disposers are buffered; when the buffer reaches its capacity,
// Retire runs a synchronization inline. Retire and Synchronize must
// therefore not be called while the calling goroutine holds a read region;
// doing so deadlocks the grace period. This is a documented precondition,
// not a checked error.
//
// The zero Epoch is not usable, construct with NewEpoch.
type Epoch struct {
	//lint:ignore U1000 prevents false sharing
	pad [(CacheLineSize - unsafe.Sizeof(struct {
		epoch    atomic.Uint64
		readers  [2]readerSlots
		syncMu   sync.Mutex
		retireMu sync.Mutex
		limbo    []retired
		capacity int
	}{})%CacheLineSize) % CacheLineSize]byte

	epoch    atomic.Uint64
	readers  [2]readerSlots
	syncMu   sync.Mutex // serializes Synchronize callers
	retireMu sync.Mutex // guards limbo
	limbo    []retired
	capacity int
}

type retired struct {
	epoch uint64
	fn    func()
}

// readerSlots counts active readers of one epoch parity, striped across
// roughly one slot per CPU.
type readerSlots struct {
	stripes []counterStripe
	mask    uintptr
}

func (s *readerSlots) init(n int) {
	s.stripes = make([]counterStripe, n)
	s.mask = uintptr(n - 1)
}

func (s *readerSlots) inc(hint uintptr) uintptr {
	idx := hint & s.mask
	atomic.AddUintptr(&s.stripes[idx].c, 1)
	return idx
}

func (s *readerSlots) dec(idx uintptr) {
	atomic.AddUintptr(&s.stripes[idx].c, ^uintptr(0))
}

func (s *readerSlots) sum() uintptr {
	var sum uintptr
	for i := range s.stripes {
		sum += atomic.LoadUintptr(&s.stripes[i].c)
	}
	return sum
}

// EpochConfig defines configurable Epoch options.
type EpochConfig struct {
	retireCapacity int
}

// WithRetireCapacity sets the number of retired objects buffered before
// Retire synchronizes inline. Values below 1 are ignored.
func WithRetireCapacity(n int) func(*EpochConfig) {
	return func(c *EpochConfig) {
		if n >= 1 {
			c.retireCapacity = n
		}
	}
}

const defaultRetireCapacity = 256

// NewEpoch creates a grace-period tracker. A single Epoch may be shared by
// any number of sets; sharing widens grace periods but pools the retire
// buffer.
func NewEpoch(options ...func(*EpochConfig)) *Epoch {
	cfg := EpochConfig{retireCapacity: defaultRetireCapacity}
	for _, o := range options {
		o(&cfg)
	}
	g := &Epoch{capacity: cfg.retireCapacity}
	n := nextPowOf2(runtime.NumCPU())
	g.readers[0].init(n)
	g.readers[1].init(n)
	return g
}

// ReadTicket is a held read region. It must be released by Unlock on the
// same goroutine and must not cross goroutine boundaries. Regions nest:
// each ReadLock returns an independent ticket.
type ReadTicket struct {
	g      *Epoch
	parity uint64
	stripe uintptr
}

// ReadLock enters a read region and returns the ticket releasing it.
// Readers never block: entry is a counter increment plus an epoch recheck.
func (g *Epoch) ReadLock() ReadTicket {
	hint := readerHint()
	for {
		e := g.epoch.Load()
		s := &g.readers[e&1]
		idx := s.inc(hint)
		if g.epoch.Load() == e {
			return ReadTicket{g: g, parity: e & 1, stripe: idx}
		}
		// Lost a race with an epoch flip; back out and pin the
		// current parity instead.
		s.dec(idx)
	}
}

// Unlock leaves the read region. Objects retired while the region was held
// become reclaimable once every such region has exited.
func (t ReadTicket) Unlock() {
	t.g.readers[t.parity].dec(t.stripe)
}

// readerHint derives a stripe hint from the goroutine's stack address.
// Distinct goroutines get distinct stacks, which spreads reader
// registration without runtime pinning.
func readerHint() uintptr {
	var x byte
	return uintptr(unsafe.Pointer(&x)) >> 10
}

// Synchronize blocks until a full grace period has elapsed: every read
// region active when Synchronize was called has exited. Buffered disposers
// whose grace period has completed are run before returning.
//
// Must not be called while holding a read region.
func (g *Epoch) Synchronize() {
	g.syncMu.Lock()
	start := g.epoch.Load()
	g.flipAndWait()
	g.flipAndWait()
	g.syncMu.Unlock()

	g.reclaim(start)
}

// flipAndWait retires the current epoch parity and waits for its readers
// to drain.
func (g *Epoch) flipAndWait() {
	e := g.epoch.Add(1) - 1
	s := &g.readers[e&1]
	spins := 0
	for s.sum() != 0 {
		delay(&spins)
	}
}

// Retire schedules fn to run after a grace period. fn runs on an arbitrary
// goroutine that happens to synchronize, possibly this one.
//
// Must not be called while holding a read region.
func (g *Epoch) Retire(fn func()) {
	g.retireMu.Lock()
	g.limbo = append(g.limbo, retired{epoch: g.epoch.Load(), fn: fn})
	full := len(g.limbo) >= g.capacity
	g.retireMu.Unlock()

	if full {
		g.Synchronize()
	}
}

// reclaim runs buffered disposers retired no later than epoch bound; the
// two flips since then form their grace period.
func (g *Epoch) reclaim(bound uint64) {
	g.retireMu.Lock()
	var ready []retired
	kept := g.limbo[:0]
	for _, r := range g.limbo {
		if r.epoch <= bound {
			ready = append(ready, r)
		} else {
			kept = append(kept, r)
		}
	}
	g.limbo = kept
	g.retireMu.Unlock()

	for _, r := range ready {
		r.fn()
	}
}

// pending reports the number of buffered disposers. Test hook.
func (g *Epoch) pending() int {
	g.retireMu.Lock()
	n := len(g.limbo)
	g.retireMu.Unlock()
	return n
}
