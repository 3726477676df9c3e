// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package velox

// Stats is a snapshot of the arena's bookkeeping counters: cumulative
// live bytes, free bytes sitting in slabs, free block count, and bytes
// obtained directly from the page pool's oversize path.
type Stats struct {
	CumulativeBytes uint64
	FreeBytes       uint64
	NumFree         uint64
	SizeFromPool    uint64
}

// Stats returns a snapshot of the arena's current bookkeeping
// counters.
func (a *Arena) Stats() Stats {
	return Stats{
		CumulativeBytes: a.cumulativeBytes,
		FreeBytes:       a.freeBytes,
		NumFree:         a.numFree,
		SizeFromPool:    a.sizeFromPool,
	}
}

// Close tears the arena down: every outstanding oversize allocation is
// returned to the page pool. Slabs are owned by the page pool and are
// not individually released; they go away when the page pool itself
// is discarded.
func (a *Arena) Close() {
	for ptr, size := range a.allocationsFromPool {
		a.pagePool.Free(ptr, uintptr(size))
	}
	a.allocationsFromPool = nil
}
