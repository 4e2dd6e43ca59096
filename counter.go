package chset

import (
	"runtime"
	"sync/atomic"
)

// ItemCounter tracks the approximate number of live entries in a set.
// Implementations must be safe for concurrent use. The hint passed to Add
// is the index of the bucket the mutation touched; striped implementations
// use it to pick a stripe.
//
// Emptiness of a set is checked by item counting, so a counter that cannot
// produce a count would make Size and Empty meaningless. No such
// implementation exists here, and a nil counter panics at construction.
type ItemCounter interface {
	Add(hint uintptr, delta int)
	Value() int
	Reset()
}

// NewStripedCounter returns an ItemCounter striped across roughly one slot
// per CPU to reduce contention. It is the default counter for both set
// variants.
func NewStripedCounter() ItemCounter {
	n := nextPowOf2(runtime.NumCPU())
	return &stripedCounter{
		stripes: make([]counterStripe, n),
		mask:    uintptr(n - 1),
	}
}

type stripedCounter struct {
	stripes []counterStripe
	mask    uintptr
}

func (c *stripedCounter) Add(hint uintptr, delta int) {
	atomic.AddUintptr(&c.stripes[hint&c.mask].c, uintptr(delta))
}

func (c *stripedCounter) Value() int {
	var sum int
	for i := range c.stripes {
		sum += int(atomic.LoadUintptr(&c.stripes[i].c))
	}
	return sum
}

func (c *stripedCounter) Reset() {
	for i := range c.stripes {
		atomic.StoreUintptr(&c.stripes[i].c, 0)
	}
}

// NewAtomicCounter returns a single-cell ItemCounter. Cheaper to read than
// the striped counter, hotter to write under contention.
func NewAtomicCounter() ItemCounter {
	return new(atomicCounter)
}

type atomicCounter struct {
	c counterStripe
}

func (c *atomicCounter) Add(_ uintptr, delta int) {
	atomic.AddUintptr(&c.c.c, uintptr(delta))
}

func (c *atomicCounter) Value() int {
	return int(atomic.LoadUintptr(&c.c.c))
}

func (c *atomicCounter) Reset() {
	atomic.StoreUintptr(&c.c.c, 0)
}
