package velox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckConsistencyPassesOnAHealthyArena(t *testing.T) {
	a := newTestArena(t)
	h1 := a.Allocate(40, true)
	h2 := a.Allocate(80, false)
	a.CheckConsistency()

	a.Free(h1)
	a.CheckConsistency()
	a.Free(h2)
	a.CheckConsistency()
}

func TestCheckConsistencyDetectsCounterCorruption(t *testing.T) {
	a := newTestArena(t)
	h := a.Allocate(40, true)
	a.Free(h)
	a.CheckConsistency()

	a.numFree++ // corrupt the bookkeeping counter directly

	require.Panics(t, func() { a.CheckConsistency() })
}

func TestCheckConsistencyDetectsFreeListMembershipCorruption(t *testing.T) {
	a := newTestArena(t)
	h := a.Allocate(40, true)
	a.Free(h)
	a.CheckConsistency()

	// Forge a block past its class's upper bound into class 0's list.
	idx := freeListIndex(h.size())
	require.NotEqual(t, 0, idx, "test needs a block that is not already in class 0")
	sentinel := &a.freeLists[idx]
	link := sentinel.next
	link.remove()
	a.freeLists[0].insert(link)

	require.Panics(t, func() { a.CheckConsistency() })
}
