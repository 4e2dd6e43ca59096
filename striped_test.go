package chset

import (
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestStripedSet_InsertFind(t *testing.T) {
	s := NewStripedSet[string, int](8, nil)
	if !s.Insert("a", 1) {
		t.Fatal("first insert failed")
	}
	if s.Insert("a", 2) {
		t.Fatal("duplicate insert succeeded")
	}
	if got := s.Size(); got != 1 {
		t.Fatalf("Size=%d, want 1", got)
	}
	if !s.Find("a") || s.Find("b") {
		t.Fatal("Find gave wrong answer")
	}
}

func TestStripedSet_OperationSurface(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	s := NewStripedSet[int, string](8, nil)

	if !s.InsertFn(1, func(e *Entry[int, string]) { e.Value = "one" }) {
		t.Fatal("InsertFn failed")
	}
	done, inserted := s.Ensure(2, func(isNew bool, e *Entry[int, string], _ int) {
		e.Value = "two"
	})
	if !done || !inserted {
		t.Fatalf("Ensure done=%v inserted=%v", done, inserted)
	}
	if !s.Emplace(func() (int, string) { return 3, "three" }) {
		t.Fatal("Emplace failed")
	}
	if got := s.Size(); got != 3 {
		t.Fatalf("Size=%d, want 3", got)
	}

	if !s.FindWith(2, less) {
		t.Fatal("FindWith missed key")
	}
	s.FindWithFn(1, less, func(e *Entry[int, string], _ int) {
		if e.Value != "one" {
			t.Errorf("Value=%q", e.Value)
		}
	})

	e, ok := s.Extract(2)
	if !ok || e.Value != "two" {
		t.Fatalf("Extract=(%+v,%v)", e, ok)
	}
	if s.Find(2) {
		t.Fatal("extracted key still findable")
	}

	var removed string
	if !s.EraseFn(3, func(e *Entry[int, string]) { removed = e.Value }) {
		t.Fatal("EraseFn failed")
	}
	if removed != "three" {
		t.Fatalf("onRemoved saw %q", removed)
	}
	if !s.EraseWith(1, less) {
		t.Fatal("EraseWith failed")
	}
	if !s.Empty() {
		t.Fatalf("Size=%d at end", s.Size())
	}
}

func TestStripedSet_ForcedResize(t *testing.T) {
	s := NewStripedSet[int, int](4, NewLoadFactorResizing(2))
	if got := s.BucketCount(); got != 4 {
		t.Fatalf("initial BucketCount=%d", got)
	}
	for i := 0; i < 10; i++ {
		s.Insert(i, i*100)
	}
	if got := s.BucketCount(); got <= 4 {
		t.Fatalf("BucketCount=%d after 10 inserts with threshold 2, want growth", got)
	}
	for i := 0; i < 10; i++ {
		ok := s.FindFn(i, func(e *Entry[int, int], _ int) {
			if e.Value != i*100 {
				t.Errorf("key %d value %d after resize", i, e.Value)
			}
		})
		if !ok {
			t.Fatalf("key %d lost across resize", i)
		}
	}
	if st := s.Stats(); st.TotalGrowths == 0 {
		t.Fatal("Stats.TotalGrowths=0 after forced resize")
	}
}

// collidingHasher funnels every key into one bucket to model hot-key skew.
func collidingHasher(_ int, _ uintptr) uintptr { return 0 }

func TestStripedSet_PolicyDivergenceUnderSkew(t *testing.T) {
	// With every key colliding, aggregate load stays below a generous
	// load-factor threshold while one bucket grows without bound. The
	// single-bucket policy must resize; the load-factor policy must not.
	const keys = 12

	lf := NewStripedSet[int, int](64, NewLoadFactorResizing(1024),
		WithKeyHasher[int, int](collidingHasher))
	sb := NewStripedSet[int, int](64, NewSingleBucketThreshold(8),
		WithKeyHasher[int, int](collidingHasher))
	for i := 0; i < keys; i++ {
		lf.Insert(i, i)
		sb.Insert(i, i)
	}

	if got := lf.BucketCount(); got != 64 {
		t.Errorf("load-factor policy resized under skew: BucketCount=%d", got)
	}
	if got := sb.BucketCount(); got <= 64 {
		t.Errorf("single-bucket policy did not resize under skew: BucketCount=%d", got)
	}
	for i := 0; i < keys; i++ {
		if !lf.Find(i) || !sb.Find(i) {
			t.Fatalf("key %d lost", i)
		}
	}
}

func TestStripedSet_CopyPoliciesEquivalent(t *testing.T) {
	policies := map[string]CopyPolicy[int, int]{
		"copy": CopyItem[int, int](),
		"move": MoveItem[int, int](),
		"swap": SwapItem[int, int](),
		"custom": CopyWith[int, int](func(dst Inserter[int, int], src *Entry[int, int]) {
			dst.Insert(src.Key, src.Value)
		}),
	}
	const keys = 100

	want := make(map[int]int)
	for i := 0; i < keys; i++ {
		want[i] = i * 7
	}

	for name, p := range policies {
		s := NewStripedSet[int, int](4, NewLoadFactorResizing(2),
			WithCopyPolicy[int, int](p))
		for i := 0; i < keys; i++ {
			s.Insert(i, i*7)
		}
		if got := s.BucketCount(); got <= 4 {
			t.Fatalf("%s: no resize happened, BucketCount=%d", name, got)
		}
		got := make(map[int]int)
		s.Range(func(e *Entry[int, int]) bool {
			got[e.Key] = e.Value
			return true
		})
		if len(got) != len(want) {
			t.Fatalf("%s: %d entries post-resize, want %d", name, len(got), len(want))
		}
		for k, v := range want {
			if got[k] != v {
				t.Fatalf("%s: key %d = %d, want %d", name, k, got[k], v)
			}
		}
	}
}

func TestStripedSet_LockPolicies(t *testing.T) {
	policies := map[string]func() LockPolicy{
		"striped":   func() LockPolicy { return NewStripedMutexPolicy(16) },
		"refinable": func() LockPolicy { return NewRefinableMutexPolicy(16) },
		"spin":      func() LockPolicy { return NewSpinLockPolicy(16) },
	}
	for name, mk := range policies {
		t.Run(name, func(t *testing.T) {
			s := NewStripedSet[int, int](16, NewLoadFactorResizing(4),
				WithLockPolicy[int, int](mk()))
			var wg sync.WaitGroup
			for g := 0; g < 8; g++ {
				wg.Add(1)
				go func(base int) {
					defer wg.Done()
					for i := 0; i < 1000; i++ {
						k := base*1000 + i
						s.Insert(k, k)
						s.Find(k)
					}
				}(g)
			}
			wg.Wait()
			if got := s.Size(); got != 8000 {
				t.Fatalf("Size=%d, want 8000", got)
			}
		})
	}
}

func TestStripedSet_RefinableSplitsWithGrowth(t *testing.T) {
	p := NewRefinableMutexPolicy(4)
	s := NewStripedSet[int, int](4, NewLoadFactorResizing(2),
		WithLockPolicy[int, int](p))
	before := p.StripeCount()
	for i := 0; i < 200; i++ {
		s.Insert(i, i)
	}
	if after := p.StripeCount(); after <= before {
		t.Fatalf("stripe count %d -> %d, want growth alongside table", before, after)
	}
	if st := s.Stats(); st.StripeCount != p.StripeCount() {
		t.Fatalf("Stats.StripeCount=%d, policy says %d", st.StripeCount, p.StripeCount())
	}
	if s.LockCount() != p.StripeCount() {
		t.Fatalf("LockCount=%d, policy says %d", s.LockCount(), p.StripeCount())
	}
}

func TestStripedSet_ConcurrentDisjointInserts(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 2500
	s := NewStripedSet[int, int](4, NewLoadFactorResizing(4))

	var eg errgroup.Group
	for g := 0; g < goroutines; g++ {
		base := g
		eg.Go(func() error {
			for i := 0; i < perGoroutine; i++ {
				k := base*perGoroutine + i
				if !s.Insert(k, k) {
					t.Errorf("insert of disjoint key %d failed", k)
				}
			}
			return nil
		})
	}
	_ = eg.Wait()

	if got := s.Size(); got != goroutines*perGoroutine {
		t.Fatalf("Size=%d, want %d", got, goroutines*perGoroutine)
	}
	for k := 0; k < goroutines*perGoroutine; k++ {
		if !s.Find(k) {
			t.Fatalf("key %d not findable; resizes happened concurrently", k)
		}
	}
	if st := s.Stats(); st.TotalGrowths == 0 {
		t.Fatal("expected at least one growth under this load")
	}
}

func TestStripedSet_ConcurrentMixedWorkload(t *testing.T) {
	const keys = 1024
	s := NewStripedSet[int, int](8, NewLoadFactorResizing(4))

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for r := 0; r < 50; r++ {
				for k := 0; k < keys; k++ {
					s.Insert(k, k)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for r := 0; r < 50; r++ {
				for k := 0; k < keys; k++ {
					s.Erase(k)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for r := 0; r < 50; r++ {
				s.Range(func(e *Entry[int, int]) bool {
					return e.Key >= 0
				})
			}
		}()
	}
	wg.Wait()

	live := 0
	for k := 0; k < keys; k++ {
		if s.Find(k) {
			live++
		}
	}
	if got := s.Size(); got != live {
		t.Fatalf("Size=%d, live keys=%d", got, live)
	}
}

func TestStripedSet_Clear(t *testing.T) {
	s := NewStripedSet[int, int](8, nil)
	for i := 0; i < 100; i++ {
		s.Insert(i, i)
	}
	s.Clear()
	if !s.Empty() {
		t.Fatalf("Size=%d after Clear", s.Size())
	}
	for i := 0; i < 100; i++ {
		if s.Find(i) {
			t.Fatalf("key %d found after Clear", i)
		}
	}
}

func TestStripedSet_NilCounterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("explicit nil counter did not panic at construction")
		}
	}()
	NewStripedSet[int, int](8, nil, WithCounter[int, int](nil))
}
