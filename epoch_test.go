package chset

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpoch_SynchronizeWithoutReaders(t *testing.T) {
	g := NewEpoch()
	done := make(chan struct{})
	go func() {
		g.Synchronize()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Synchronize blocked with no readers")
	}
}

func TestEpoch_ReadRegionBlocksGracePeriod(t *testing.T) {
	g := NewEpoch()
	rt := g.ReadLock()

	done := make(chan struct{})
	go func() {
		g.Synchronize()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("grace period completed while a read region was held")
	case <-time.After(100 * time.Millisecond):
	}

	rt.Unlock()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Synchronize still blocked after the region ended")
	}
}

func TestEpoch_RetireRunsAfterSynchronize(t *testing.T) {
	g := NewEpoch()
	var ran atomic.Int32
	g.Retire(func() { ran.Add(1) })
	g.Retire(func() { ran.Add(1) })

	require.EqualValues(t, 0, ran.Load(), "disposers ran before any grace period")
	assert.Equal(t, 2, g.pending())

	g.Synchronize()
	assert.EqualValues(t, 2, ran.Load())
	assert.Equal(t, 0, g.pending())
}

func TestEpoch_RetireCapacityTriggersSynchronize(t *testing.T) {
	g := NewEpoch(WithRetireCapacity(8))
	var ran atomic.Int32
	for i := 0; i < 8; i++ {
		g.Retire(func() { ran.Add(1) })
	}
	// The eighth retire filled the buffer and synchronized inline.
	assert.EqualValues(t, 8, ran.Load())
	assert.Equal(t, 0, g.pending())
}

func TestEpoch_NestedReadRegions(t *testing.T) {
	g := NewEpoch()
	outer := g.ReadLock()
	inner := g.ReadLock()
	inner.Unlock()

	done := make(chan struct{})
	go func() {
		g.Synchronize()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("outer region did not hold the grace period open")
	case <-time.After(100 * time.Millisecond):
	}
	outer.Unlock()
	<-done
}

func TestEpoch_ConcurrentReadersAndSynchronizers(t *testing.T) {
	g := NewEpoch()
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				rt := g.ReadLock()
				rt.Unlock()
			}
		}()
	}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				g.Synchronize()
			}
		}()
	}

	time.Sleep(200 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestEpoch_SharedAcrossSets(t *testing.T) {
	g := NewEpoch()
	var disposed atomic.Int32
	dispose := func(e *Entry[int, int]) { disposed.Add(1) }

	a := NewRCUSet[int, int](16, 2, WithEpoch[int, int](g), WithDisposer[int, int](dispose))
	b := NewRCUSet[int, int](16, 2, WithEpoch[int, int](g), WithDisposer[int, int](dispose))
	require.Same(t, g, a.Epoch())
	require.Same(t, g, b.Epoch())

	a.Insert(1, 1)
	b.Insert(2, 2)
	a.Erase(1)
	b.Erase(2)
	g.Synchronize()
	assert.EqualValues(t, 2, disposed.Load())
}
