//go:build chset_opt_cachelinesize_64 && !chset_opt_cachelinesize_128 && !chset_opt_cachelinesize_256

package chset

// Manual override for machines where the auto-detected cache line
// size is not the one that matters for false sharing.
const CacheLineSize = 64
