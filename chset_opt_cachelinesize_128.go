//go:build chset_opt_cachelinesize_128 && !chset_opt_cachelinesize_256

package chset

// 128 bytes covers the spatial prefetcher pair on recent Intel and
// the actual line size on Apple silicon.
const CacheLineSize = 128
