package velox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFreeListIndexBoundaries(t *testing.T) {
	for i, upper := range freeListSizes[:kNumFreeLists] {
		if upper == kMaxInt32 {
			break
		}
		require.Equal(t, i, freeListIndex(upper-1), "size just below a boundary belongs to the lower class")
		require.Equal(t, i+1, freeListIndex(upper), "size at a boundary belongs to the next class up")
	}
}

func TestFreeListIndexMaskSkipsMaskedOutClasses(t *testing.T) {
	// Only classes 2 and 4 are "non-empty"; a size that would normally
	// land in class 0 must be promoted to the smallest present class
	// that can still hold it.
	mask := uint32(1<<2 | 1<<4)
	require.Equal(t, 2, freeListIndexMask(10, mask))

	// A size too big for every present class reports kNumFreeLists.
	require.Equal(t, kNumFreeLists, freeListIndexMask(freeListSizes[4], mask))
}

func TestDoubleLinkInsertAndRemove(t *testing.T) {
	var sentinel doubleLink
	sentinel.initSentinel()
	require.True(t, sentinel.empty())

	var a, b doubleLink
	sentinel.insert(&a)
	require.False(t, sentinel.empty())
	sentinel.insert(&b)

	// insert places items right after the sentinel, so the most
	// recently inserted item is first.
	require.Equal(t, &b, sentinel.next)
	require.Equal(t, &a, sentinel.next.next)
	require.Equal(t, &sentinel, sentinel.next.next.next)

	b.remove()
	require.Equal(t, &a, sentinel.next)
	a.remove()
	require.True(t, sentinel.empty())
}

func TestFreeListBitmapTracksEmptiness(t *testing.T) {
	a := newTestArena(t)

	h := a.Allocate(40, true)
	// Allocating forced a slab into existence, whose large remainder
	// sits in some class; the bitmap bit for that class must be set.
	require.NotZero(t, a.freeNonEmpty)
	a.CheckConsistency()

	a.Free(h)
	a.CheckConsistency()
}
