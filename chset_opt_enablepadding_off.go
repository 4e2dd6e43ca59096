//go:build !chset_opt_enablepadding

package chset

const enablePadding = false

// counterStripe represents a striped counter to reduce contention.
type counterStripe struct {
	c uintptr // Counter value, accessed atomically
}
