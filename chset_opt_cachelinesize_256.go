//go:build chset_opt_cachelinesize_256

package chset

const CacheLineSize = 256
