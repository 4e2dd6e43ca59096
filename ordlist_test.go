package chset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intCompare(a, b int) int { return a - b }

func listKeys(l *orderedList[int, string]) []int {
	var keys []int
	for n := l.head.Load(); n != nil; n = n.next.Load() {
		keys = append(keys, n.entry.Key)
	}
	return keys
}

func TestOrderedList_KeepsSortOrder(t *testing.T) {
	var l orderedList[int, string]
	for _, k := range []int{5, 1, 9, 3, 7} {
		require.True(t, l.insert(Entry[int, string]{Key: k}, intCompare, nil))
	}
	assert.Equal(t, []int{1, 3, 5, 7, 9}, listKeys(&l))
	assert.Equal(t, 5, l.count())

	assert.False(t, l.insert(Entry[int, string]{Key: 3}, intCompare, nil))
	assert.Equal(t, 5, l.count())
}

func TestOrderedList_UnlinkKeepsChainForReaders(t *testing.T) {
	var l orderedList[int, string]
	for _, k := range []int{1, 2, 3} {
		l.insert(Entry[int, string]{Key: k}, intCompare, nil)
	}
	n := l.unlink(2, intCompare, nil)
	require.NotNil(t, n)
	assert.Equal(t, []int{1, 3}, listKeys(&l))
	// A reader parked on the unlinked node can still reach its successor.
	succ := n.next.Load()
	require.NotNil(t, succ)
	assert.Equal(t, 3, succ.entry.Key)
}

func TestOrderedList_EnsureAndDetach(t *testing.T) {
	var l orderedList[int, string]
	done, inserted := l.ensure(4, intCompare, func(isNew bool, e *Entry[int, string], _ int) {
		assert.True(t, isNew)
		e.Value = "fresh"
	})
	assert.True(t, done)
	assert.True(t, inserted)

	done, inserted = l.ensure(4, intCompare, func(isNew bool, e *Entry[int, string], _ int) {
		assert.False(t, isNew)
		e.Value = "updated"
	})
	assert.True(t, done)
	assert.False(t, inserted)
	assert.Equal(t, "updated", l.search(4, intCompare).entry.Value)

	head := l.detachAll()
	require.NotNil(t, head)
	assert.Nil(t, l.head.Load())
	assert.Zero(t, l.count())
	assert.Equal(t, 4, head.entry.Key)
}
