package chset

import (
	"math/bits"
	"unsafe"
)

// hashFunc hashes the key pointed to by its first argument with a seed.
// It matches the signature of the runtime's built-in map hasher.
type hashFunc func(unsafe.Pointer, uintptr) uintptr

// CompareFunc is a total order over keys: negative if a<b, zero if a==b,
// positive if a>b. Bucket containers keep entries sorted by it.
type CompareFunc[K any] func(a, b K) int

// LessFunc is a strict weak ordering usable in the *With operation
// variants. It must induce the same total order as the set's configured
// CompareFunc; supplying an inconsistent predicate is undefined behavior,
// not a checked error.
type LessFunc[K any] func(a, b K) bool

// cmpFromLess derives a three-way comparison from a less predicate.
func cmpFromLess[K any](less LessFunc[K]) CompareFunc[K] {
	return func(a, b K) int {
		if less(a, b) {
			return -1
		}
		if less(b, a) {
			return 1
		}
		return 0
	}
}

// bucketIndex maps a hash value to a bucket index. Valid only for a fixed
// (key, bucket_count) pairing; bitmask must be bucket_count-1 with
// bucket_count a power of two.
func bucketIndex(h, bitmask uintptr) uintptr {
	return h & bitmask
}

// calcBucketCount computes the bucket count from a max item estimate and a
// load factor: the smallest power of two >= ceil(maxItems/loadFactor),
// minimum 1.
func calcBucketCount(maxItems, loadFactor int) int {
	if loadFactor < 1 {
		loadFactor = 1
	}
	if maxItems < 1 {
		return 1
	}
	return nextPowOf2((maxItems + loadFactor - 1) / loadFactor)
}

// nextPowOf2 calculates the smallest power of 2 that is greater than or
// equal to n. Compatible with both 32-bit and 64-bit systems.
func nextPowOf2(n int) int {
	if n <= 0 {
		return 1
	}

	if bits.UintSize == 32 {
		v := uint32(n)
		v--
		v |= v >> 1
		v |= v >> 2
		v |= v >> 4
		v |= v >> 8
		v |= v >> 16
		v++
		return int(v)
	}

	v := uint64(n)
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return int(v)
}

// spread improves hash distribution by XORing the original hash with its
// high bits. Used for non-integer keys whose entropy tends to concentrate
// in the upper bits.
func spread(h uintptr) uintptr {
	return h ^ (h >> 16)
}

// defaultKeyHasher returns the hash function for K and whether K is an
// integer type. Integer keys hash to themselves: their natural distribution
// is sufficient and it keeps bucket addressing branch-free.
func defaultKeyHasher[K comparable]() (keyHash hashFunc, intKey bool) {
	keyHash = builtInKeyHasher[K]()

	switch any(*new(K)).(type) {
	case uint, int, uintptr:
		return func(value unsafe.Pointer, seed uintptr) uintptr {
			return *(*uintptr)(value)
		}, true

	case uint64, int64:
		if bits.UintSize == 32 {
			return func(value unsafe.Pointer, seed uintptr) uintptr {
				v := *(*uint64)(value)
				return uintptr(v) ^ uintptr(v>>32)
			}, true
		}

		return func(value unsafe.Pointer, seed uintptr) uintptr {
			return uintptr(*(*uint64)(value))
		}, true

	case uint32, int32:
		return func(value unsafe.Pointer, seed uintptr) uintptr {
			return uintptr(*(*uint32)(value))
		}, true

	case uint16, int16:
		return func(value unsafe.Pointer, seed uintptr) uintptr {
			return uintptr(*(*uint16)(value))
		}, true

	case uint8, int8:
		return func(value unsafe.Pointer, seed uintptr) uintptr {
			return uintptr(*(*uint8)(value))
		}, true

	default:
		return keyHash, false
	}
}

// builtInKeyHasher obtains Go's built-in hash function for K using the
// runtime's type representation. This provides direct access to the
// type-specific hasher without reflection overhead.
//
// Notes:
//   - This implementation relies on Go's internal type representation
//   - It should be verified for compatibility with each Go version upgrade
func builtInKeyHasher[K comparable]() hashFunc {
	var m map[K]struct{}
	return iTypeOf(m).MapType().Hasher
}

type iTFlag uint8
type iKind uint8
type iNameOff int32

// iTypeOff is the offset to a type from moduledata.types. See
// resolveTypeOff in runtime.
type iTypeOff int32

type iType struct {
	Size_       uintptr
	PtrBytes    uintptr // number of (prefix) bytes in the type that can contain pointers
	Hash        uint32  // hash of type; avoids computation in hash tables
	TFlag       iTFlag  // extra type information flags
	Align_      uint8   // alignment of variable with this type
	FieldAlign_ uint8   // alignment of struct field with this type
	Kind_       iKind   // enumeration for C
	// function for comparing objects of this type
	// (ptr to object A, ptr to object B) -> ==?
	Equal func(unsafe.Pointer, unsafe.Pointer) bool
	// GCData stores the GC type data for the garbage collector.
	GCData    *byte
	Str       iNameOff // string form
	PtrToThis iTypeOff // type for pointer to this type, may be zero
}

func (t *iType) MapType() *iMapType {
	return (*iMapType)(unsafe.Pointer(t))
}

type iMapType struct {
	iType
	Key   *iType
	Elem  *iType
	Group *iType // internal type representing a slot group
	// function for hashing keys (ptr to key, seed) -> hash
	Hasher func(unsafe.Pointer, uintptr) uintptr
}

func iTypeOf(a any) *iType {
	eface := *(*iEmptyInterface)(unsafe.Pointer(&a))
	// Types are either static (for compiler-created types) or
	// heap-allocated but always reachable (for reflection-created
	// types, held in the central map). So there is no need to
	// escape types. noescape here help avoid unnecessary escape
	// of v.
	return (*iType)(noescape(unsafe.Pointer(eface.Type)))
}

type iEmptyInterface struct {
	Type *iType
	Data unsafe.Pointer
}

// noescape hides a pointer from escape analysis.  noescape is
// the identity function but escape analysis doesn't think the
// output depends on the input.  noescape is inlined and currently
// compiles down to zero instructions.
// USE CAREFULLY!
//
// nolint:all
//
//go:nosplit
//goland:noinspection ALL
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
