// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package velox provides a specialized arena allocator for the
// variable-length payloads (string values, serialized intermediate
// state) attached to hash table entries, aggregation states, and
// other columnar query-engine operators.
//
// It hands out many small- to medium-sized blocks from large slabs
// obtained from an upstream page pool, lets a single logical value
// span multiple non-contiguous blocks via a pointer-chained extension
// scheme, and exposes a write-cursor/read-stream pair for iterative
// writing and random-access reading. It is single-threaded and
// non-reentrant: callers needing concurrency place an Arena behind
// their own synchronization instead of locking internally.
package velox

import "unsafe"

// Arena is a single allocator instance: a free-list engine plus the
// slab/oversize bookkeeping needed to keep it fed from a PagePool,
// plus the write-cursor state used by NewWrite/ExtendWrite/NewRange/
// FinishWrite. An Arena must always be used through a pointer: its
// free-list sentinels are self-referential and their addresses are
// taken, so copying an Arena by value corrupts them.
type Arena struct {
	options  Options
	pagePool *PagePool

	currentHeader *Header // non-nil iff a write is in progress

	freeLists    [kNumFreeLists]doubleLink
	freeNonEmpty uint32 // bitmap: bit i set iff freeLists[i] is non-empty

	numFree   uint64
	freeBytes uint64

	cumulativeBytes uint64
	sizeFromPool    uint64

	allocationsFromPool map[unsafe.Pointer]int32
}

// New creates an arena backed by pool, configured with options.
func New(pool *PagePool, options Options) *Arena {
	a := &Arena{
		options:             options,
		pagePool:            pool,
		allocationsFromPool: make(map[unsafe.Pointer]int32),
	}
	for i := range a.freeLists {
		a.freeLists[i].initSentinel()
	}
	return a
}

// Allocate obtains a block for size payload bytes. With exactSize the
// block holds at least size bytes and is trimmed down to it; without
// it the block is not trimmed and may be larger or smaller than size.
// When exactSize and size exceeds kMaxAlloc, the block is served
// directly from the page pool's oversize path instead of any slab.
func (a *Arena) Allocate(size int32, exactSize bool) *Header {
	h := a.allocate(size, exactSize)
	if a.options&Checks != 0 {
		a.CheckConsistency()
	}
	return h
}

// Free releases header, coalescing it with free neighbors and, for
// oversize standalone allocations, returning it to the page pool.
func (a *Arena) Free(header *Header) {
	a.free(header)
	if a.options&Checks != 0 {
		a.CheckConsistency()
	}
}

// HeaderOf converts a payload pointer, as returned by Allocate or
// read from a Position/StringView, back to the header that precedes
// it.
func HeaderOf(payload unsafe.Pointer) *Header { return headerOf(payload) }
