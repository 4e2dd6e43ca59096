package chset

import "iter"

// All returns a forward iterator over the set's entries, in bucket index
// order then intra-bucket order. The same concurrency caveats as Range
// apply: the sequence must be consumed on the goroutine that created it
// and a concurrent traversal is not guaranteed complete.
func (s *RCUSet[K, V]) All() iter.Seq[*Entry[K, V]] {
	return func(yield func(*Entry[K, V]) bool) {
		s.Range(yield)
	}
}

// All returns a forward iterator over the set's entries. The same
// concurrency caveats as Range apply.
func (s *StripedSet[K, V]) All() iter.Seq[*Entry[K, V]] {
	return func(yield func(*Entry[K, V]) bool) {
		s.Range(yield)
	}
}
