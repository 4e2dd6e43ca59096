package chset

import (
	"sync/atomic"
	"time"
	_ "unsafe"
)

const (
	// enableSpin controls whether spinning is enabled in custom
	// synchronization logic. When true, waiting operations call
	// runtime_doSpin() directly, which uses the CPU's PAUSE instruction
	// to reduce contention latency. This improves performance for short
	// waits but may slightly reduce throughput under high contention.
	enableSpin = true
)

// delay backs off a spinning waiter: PAUSE while the runtime considers
// spinning useful, short sleep otherwise.
func delay(spins *int) {
	const yieldSleep = 500 * time.Microsecond
	if //goland:noinspection ALL
	enableSpin && runtime_canSpin(*spins) {
		runtime_doSpin()
		*spins++
	} else {
		// time.Sleep with non-zero duration works effectively
		// as backoff under high concurrency.
		time.Sleep(yieldSleep)
		*spins = 0
	}
}

// nolint:all
//
//go:linkname runtime_canSpin sync.runtime_canSpin
//go:nosplit
func runtime_canSpin(i int) bool

// nolint:all
//
//go:linkname runtime_doSpin sync.runtime_doSpin
//go:nosplit
func runtime_doSpin()

// spinMutex is a tiny test-and-set lock. It serializes writers on a single
// bucket, where the critical section is a few pointer relinks; a full
// sync.Mutex would double the bucket's cache footprint.
type spinMutex struct {
	state atomic.Uint32
}

func (m *spinMutex) Lock() {
	if m.state.CompareAndSwap(0, 1) {
		return
	}
	m.slowLock()
}

func (m *spinMutex) slowLock() {
	spins := 0
	for !m.TryLock() {
		delay(&spins)
	}
}

func (m *spinMutex) TryLock() bool {
	return m.state.Load() == 0 && m.state.CompareAndSwap(0, 1)
}

func (m *spinMutex) Unlock() {
	m.state.Store(0)
}
