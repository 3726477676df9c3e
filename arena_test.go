package velox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestArena builds an Arena over a pool whose runs are large enough
// to host ordinary test allocations inside a single slab, matching
// what the upstream query engine would configure for a session-scoped
// allocator.
func newTestArena(t *testing.T) *Arena {
	t.Helper()
	pool := NewPagePool(DefaultAllocationTraits, 64) // up to 64 pages (256 KiB) per run
	return New(pool, DefaultOptions)
}

func TestAllocateFreeReuse(t *testing.T) {
	a := newTestArena(t)

	h1 := a.Allocate(32, true)
	require.NotNil(t, h1)
	require.False(t, h1.isFree())
	a.CheckConsistency()

	a.Free(h1)
	a.CheckConsistency()
	require.EqualValues(t, 1, a.Stats().NumFree)

	h2 := a.Allocate(32, true)
	require.Same(t, h1, h2, "freeing and reallocating the same size should reuse the same block")
	a.CheckConsistency()
}

func TestAllocateSplitsAndCoalescesThreeInOrder(t *testing.T) {
	a := newTestArena(t)

	h1 := a.Allocate(40, true)
	h2 := a.Allocate(40, true)
	h3 := a.Allocate(40, true)
	require.NotSame(t, h1, h2)
	require.NotSame(t, h2, h3)
	a.CheckConsistency()

	a.Free(h1)
	a.CheckConsistency()
	a.Free(h2)
	a.CheckConsistency()
	a.Free(h3)
	a.CheckConsistency()

	require.EqualValues(t, 1, a.Stats().NumFree, "fully freeing adjacent blocks in order must fully coalesce")
}

func TestAllocateCoalescesRegardlessOfFreeOrder(t *testing.T) {
	a := newTestArena(t)

	h1 := a.Allocate(40, true)
	h2 := a.Allocate(40, true)
	h3 := a.Allocate(40, true)

	a.Free(h3)
	a.CheckConsistency()
	a.Free(h1)
	a.CheckConsistency()
	a.Free(h2)
	a.CheckConsistency()

	require.EqualValues(t, 1, a.Stats().NumFree)
}

func TestOversizeAllocationUsesSideMap(t *testing.T) {
	a := newTestArena(t)

	h := a.Allocate(100000, true)
	require.EqualValues(t, 100000, h.size())
	require.EqualValues(t, 100000+int64(headerSize), a.Stats().SizeFromPool)
	require.EqualValues(t, 1, a.pagePool.NumLargeAllocations())
	require.EqualValues(t, 0, a.Stats().NumFree, "an oversize allocation must not touch the slab free lists")

	a.Free(h)
	require.EqualValues(t, 0, a.Stats().SizeFromPool)
	require.EqualValues(t, 0, a.pagePool.NumLargeAllocations())
}

func TestCloseReturnsOversizeAllocationsToThePool(t *testing.T) {
	a := newTestArena(t)

	a.Allocate(200000, true)
	a.Allocate(300000, true)
	require.EqualValues(t, 2, a.pagePool.NumLargeAllocations())

	a.Close()
	require.EqualValues(t, 0, a.pagePool.NumLargeAllocations())
}

func TestChecksOptionRunsConsistencyAfterEveryOp(t *testing.T) {
	pool := NewPagePool(DefaultAllocationTraits, 64)
	a := New(pool, Checks)

	h := a.Allocate(100, false)
	a.Free(h)
	// CheckConsistency ran twice above without panicking; if it hadn't,
	// any corruption introduced by a bug in allocate/free would have
	// panicked already.
}

func TestNewSlabFallsBackToAllocateFixedForOversizedStandardRuns(t *testing.T) {
	// A pool whose largest standard run is a single page forces every
	// slab request (which always asks for at least kUnitSize) down the
	// allocateFixed/WARN path in newSlab.
	pool := NewPagePool(DefaultAllocationTraits, 1)
	a := New(pool, DefaultOptions)

	h := a.Allocate(100, false)
	require.NotNil(t, h)
	require.EqualValues(t, 1, pool.NumSmallAllocations())
	a.CheckConsistency()

	a.Free(h)
	a.CheckConsistency()
}
