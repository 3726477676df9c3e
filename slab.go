// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package velox

import "unsafe"

// kUnitSize is the minimum slab size requested from the page pool,
// regardless of how small the triggering allocation was: large,
// infrequent upstream requests beat many tiny ones.
const kUnitSize = 64 * 1024

// roundUpPages rounds n up to a whole number of pages.
func roundUpPages(n uintptr, traits AllocationTraits) uintptr {
	return traits.NumPages(n) * traits.PageSize
}

// newSlab obtains a new slab able to satisfy at least minPayloadSize,
// writes its ARENA_END sentinel, and hands the resulting single free
// block to free() so it enters the free-list engine with correct
// boundary tags.
func (a *Arena) newSlab(minPayloadSize int32) {
	needed := maxUintptr(
		roundUpPages(uintptr(minPayloadSize)+2*headerSize, a.pagePool.traits),
		kUnitSize,
	)
	pagesNeeded := a.pagePool.traits.NumPages(needed)

	var base unsafe.Pointer
	var available uintptr
	if pagesNeeded > a.pagePool.LargestSizeClass() {
		WARN("unusually large allocation request received of bytes: %d\n", minPayloadSize)
		base = a.pagePool.AllocateFixed(needed)
		available = a.pagePool.traits.PageBytes(pagesNeeded) - headerSize
	} else {
		a.pagePool.NewRun(needed)
		base = a.pagePool.FirstFreeInRun()
		available = a.pagePool.AvailableInRun() - headerSize
	}
	check(base != nil, "page pool returned a nil run")
	check(available > 0, "page pool returned an empty run")

	// Write the end marker.
	*(*uint32)(unsafe.Add(base, available)) = arenaEnd
	a.cumulativeBytes += uint64(available)

	h := newHeaderAt(base, int32(available)-int32(headerSize))
	a.free(h)
}

func maxUintptr(a, b uintptr) uintptr {
	if a > b {
		return a
	}
	return b
}

// allocateFromPool serves an oversize request (size above kMaxAlloc,
// exactSize) directly from the upstream page pool, bypassing slabs
// entirely and recording the allocation in the side map so free() can
// return it individually at the right time.
func (a *Arena) allocateFromPool(size uintptr) unsafe.Pointer {
	ptr := a.pagePool.Allocate(size)
	a.cumulativeBytes += uint64(size)
	a.allocationsFromPool[ptr] = int32(size)
	a.sizeFromPool += uint64(size)
	return ptr
}

// freeToPool returns an oversize allocation to the upstream page pool
// and removes it from the side map.
func (a *Arena) freeToPool(ptr unsafe.Pointer, size uintptr) {
	recorded, ok := a.allocationsFromPool[ptr]
	check(ok, "freeToPool for block %p not allocated from the page pool", ptr)
	check(int32(size) == recorded, "freeToPool: bad size %d for block %p, expected %d", size, ptr, recorded)
	delete(a.allocationsFromPool, ptr)
	a.sizeFromPool -= uint64(size)
	a.cumulativeBytes -= uint64(size)
	a.pagePool.Free(ptr, size)
}
