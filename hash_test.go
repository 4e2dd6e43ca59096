package chset

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestNextPowOf2(t *testing.T) {
	cases := map[int]int{
		-1: 1, 0: 1, 1: 1, 2: 2, 3: 4, 4: 4, 5: 8,
		63: 64, 64: 64, 65: 128, 1000: 1024,
	}
	for in, want := range cases {
		assert.Equal(t, want, nextPowOf2(in), "nextPowOf2(%d)", in)
	}
}

func TestCalcBucketCount(t *testing.T) {
	assert.Equal(t, 1, calcBucketCount(0, 1))
	assert.Equal(t, 1, calcBucketCount(1, 4))
	assert.Equal(t, 2, calcBucketCount(8, 4))
	assert.Equal(t, 4, calcBucketCount(9, 4))
	assert.Equal(t, 128, calcBucketCount(100, 1))
	// Nonsense load factors clamp instead of dividing by zero.
	assert.Equal(t, 16, calcBucketCount(16, 0))
}

func TestBucketIndex(t *testing.T) {
	for h := uintptr(0); h < 64; h++ {
		idx := bucketIndex(h, 7)
		assert.Less(t, int(idx), 8)
		assert.Equal(t, h%8, idx)
	}
}

func TestDefaultKeyHasher_IntIdentity(t *testing.T) {
	h, intKey := defaultKeyHasher[int]()
	assert.True(t, intKey)
	k := 12345
	assert.Equal(t, uintptr(12345), h(unsafe.Pointer(&k), 99))
}

func TestDefaultKeyHasher_Strings(t *testing.T) {
	h, intKey := defaultKeyHasher[string]()
	assert.False(t, intKey)

	a, b := "alpha", "alpha"
	seed := uintptr(42)
	assert.Equal(t, h(unsafe.Pointer(&a), seed), h(unsafe.Pointer(&b), seed),
		"equal keys must hash equally")

	c := "beta"
	// Not a guarantee, but a collision here would make the hasher useless.
	assert.NotEqual(t, h(unsafe.Pointer(&a), seed), h(unsafe.Pointer(&c), seed))
}

func TestCmpFromLess(t *testing.T) {
	compare := cmpFromLess(func(a, b int) bool { return a < b })
	assert.Negative(t, compare(1, 2))
	assert.Positive(t, compare(2, 1))
	assert.Zero(t, compare(3, 3))
}
