// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package velox

import (
	"math/bits"
	"unsafe"
)

// kNumFreeLists is the number of size-classed free lists: six finite
// cutoffs plus a seventh catch-all class holding everything at or
// above the largest cutoff (up to kMaxInt32). The eighth table entry
// below is a duplicate of kMaxInt32, padding freeListSizes to the
// width a vectorized lane compare would want; this implementation
// finds the matching class with a plain loop and a trailing-zero scan
// instead, so the padding is kept only for fidelity to the size-class
// table's shape, not for any SIMD register width here.
const kNumFreeLists = 7

// freeListSizes are the strictly increasing upper bounds of each size
// class. Class i holds blocks with freeListSizes[i-1] <= size <
// freeListSizes[i] (class 0: size < freeListSizes[0]).
var freeListSizes = [kNumFreeLists + 1]int32{
	72, 148, 276, 532, 1044, 2068, kMaxInt32, kMaxInt32,
}

const kMaxInt32 = int32(^uint32(0) >> 1)

// kMinAlloc is the smallest payload size the free-list engine will
// ever hand out. It must be large enough to host a doubleLink (two
// native pointers) at the start of a free block's payload without
// overlapping the 4-byte boundary tag mirrored in the last 4 bytes of
// that same payload: two real *Header pointers are 16 bytes wide on a
// 64-bit target, so kMinAlloc leaves headroom above that. See
// DESIGN.md for the rejected alternative (a compact offset-pair node).
const kMinAlloc int32 = 32

// kMaxAlloc is the largest size the free-list/slab path will serve.
// Requests above this with exactSize set bypass slabs entirely and go
// straight to the page pool's oversize path.
const kMaxAlloc int32 = 1 << 16 // 64 KiB

// kMinContiguous is the smallest size newContiguousRange will ask for
// when growing a value that must stay in one block.
const kMinContiguous int32 = 48

// kMaxCheckedForFit bounds how many entries of a size class are
// scanned looking for an exact fit before settling for "largest seen
// so far".
const kMaxCheckedForFit = 5

// doubleLink is the intrusive free-list node. It is placed at the
// start of a free block's payload via unsafe.Pointer aliasing,
// generalized to a full doubly linked list with an explicit sentinel
// per class.
type doubleLink struct {
	prev, next *doubleLink
}

func (l *doubleLink) empty() bool { return l.next == l }

func (l *doubleLink) initSentinel() {
	l.prev, l.next = l, l
}

// insert places item right after the sentinel l (i.e. at the head of
// the list l anchors).
func (l *doubleLink) insert(item *doubleLink) {
	item.next = l.next
	item.prev = l
	l.next.prev = item
	l.next = item
}

func (item *doubleLink) remove() {
	item.prev.next = item.next
	item.next.prev = item.prev
	item.prev, item.next = nil, nil
}

func linkOf(h *Header) *doubleLink { return (*doubleLink)(h.begin()) }

func headerOfLink(l *doubleLink) *Header { return headerOf(unsafe.Pointer(l)) }

// freeListIndexMask returns the smallest class index i with size <
// freeListSizes[i] among the classes set in mask, or kNumFreeLists if
// none qualify. This is the Go stand-in for the original's vectorized
// lane-compare + count_trailing_zeros: the semantics ("smallest
// qualifying class index") are identical, only the mechanism (plain
// loop building a bitmask, then bits.TrailingZeros32) differs, as the
// design notes explicitly allow.
func freeListIndexMask(size int32, mask uint32) int {
	var candidates uint32
	for i := 0; i < kNumFreeLists; i++ {
		if size < freeListSizes[i] {
			candidates |= 1 << uint(i)
		}
	}
	candidates &= mask
	if candidates == 0 {
		return kNumFreeLists
	}
	return bits.TrailingZeros32(candidates)
}

const allClassesMask uint32 = (1 << kNumFreeLists) - 1

// freeListIndex returns the smallest class index i with size <
// freeListSizes[i], considering every class.
func freeListIndex(size int32) int {
	return freeListIndexMask(size, allClassesMask)
}

// allocate is the free-list engine's top-level entry point. exactSize
// requests the returned block not be split any smaller than
// needed but, more importantly, routes sizes above kMaxAlloc straight
// to the page pool's oversize path instead of ever touching a slab.
func (a *Arena) allocate(size int32, exactSize bool) *Header {
	if size > kMaxAlloc && exactSize {
		check(size <= kSizeMask, "requested size %d exceeds kSizeMask", size)
		ptr := a.allocateFromPool(uintptr(size) + headerSize)
		h := newHeaderAt(ptr, size)
		return h
	}
	h := a.allocateFromFreeLists(size, exactSize, exactSize)
	if h == nil {
		a.newSlab(size)
		h = a.allocateFromFreeLists(size, exactSize, exactSize)
		check(h != nil, "newSlab did not yield a usable block for size %d", size)
		check(h.size() > 0, "newSlab yielded a zero-size block")
	}
	a.debugLog("allocate", h)
	return h
}

// allocateFromFreeLists tries classes from freeListIndex(preferred)
// upward (using the bitmap to
// skip empty classes), then, if mustHaveSize is false, classes below
// it downward, settling for anything available.
func (a *Arena) allocateFromFreeLists(preferred int32, mustHaveSize, isFinalSize bool) *Header {
	preferred = max32(preferred, kMinAlloc)
	if a.numFree == 0 {
		return nil
	}
	index := freeListIndexMask(preferred, a.freeNonEmpty)
	for index < kNumFreeLists {
		if h := a.allocateFromFreeList(preferred, mustHaveSize, isFinalSize, index); h != nil {
			return h
		}
		// Move to the next larger non-empty class.
		remaining := a.freeNonEmpty &^ lowMask(uint(index+1))
		if remaining == 0 {
			break
		}
		index = bits.TrailingZeros32(remaining)
	}
	if mustHaveSize {
		return nil
	}
	for index = freeListIndex(preferred) - 1; index >= 0; index-- {
		if h := a.allocateFromFreeList(preferred, false, isFinalSize, index); h != nil {
			return h
		}
	}
	return nil
}

// lowMask returns a bitmask with the low n bits set.
func lowMask(n uint) uint32 {
	if n >= 32 {
		return ^uint32(0)
	}
	return (uint32(1) << n) - 1
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

// allocateFromFreeList scans class freeListIdx looking for a block of
// at least preferredSize. With mustHaveSize false the scan stops after
// kMaxCheckedForFit entries and, failing a fit, falls back to the
// largest block seen; with mustHaveSize true the whole class is
// scanned and nil is returned if no block fits.
func (a *Arena) allocateFromFreeList(preferredSize int32, mustHaveSize, isFinalSize bool, freeListIdx int) *Header {
	sentinel := &a.freeLists[freeListIdx]
	var found, largest *Header
	counter := 0
	for item := sentinel.next; item != sentinel; item = item.next {
		h := headerOfLink(item)
		check(h.isFree(), "free list %d contains a non-free block %p", freeListIdx, h)
		size := h.size()
		if size >= preferredSize {
			found = h
			break
		}
		if largest == nil || size > largest.size() {
			largest = h
		}
		counter++
		if !mustHaveSize && counter >= kMaxCheckedForFit {
			break
		}
	}
	if !mustHaveSize && found == nil {
		found = largest
	}
	if found == nil {
		return nil
	}

	a.numFree--
	a.freeBytes -= uint64(found.size()) + uint64(headerSize)
	linkOf(found).remove()
	found.clearFree()
	a.clearClassBitIfEmpty(freeListIdx)

	if next := found.next(); next != nil {
		next.clearPreviousFree()
	}
	a.cumulativeBytes += uint64(found.size())
	if isFinalSize {
		a.freeRestOfBlock(found, preferredSize)
	}
	return found
}

func (a *Arena) clearClassBitIfEmpty(idx int) {
	if a.freeLists[idx].empty() {
		a.freeNonEmpty &^= 1 << uint(idx)
	}
}

// freeRestOfBlock splits keepBytes off the front of header and frees
// the remainder, unless the remainder would be too small to be worth
// it (<=kMinAlloc once its own header is accounted for).
func (a *Arena) freeRestOfBlock(header *Header, keepBytes int32) {
	keep := max32(keepBytes, kMinAlloc)
	freeSize := header.size() - keep - int32(headerSize)
	if freeSize <= kMinAlloc {
		return
	}
	header.setSize(keep)
	newHeader := newHeaderAt(header.end(), freeSize)
	a.free(newHeader)
}

// free releases header: an oversize standalone allocation short-
// circuits straight back to the pool; otherwise it walks the
// continuation chain, coalescing each node forward and backward with
// its slab neighbors before inserting it into its size class's free
// list.
func (a *Arena) free(header *Header) {
	if header.size() > kMaxAlloc && !a.pagePool.IsInCurrentAllocation(unsafe.Pointer(header)) {
		if size, ok := a.allocationsFromPool[unsafe.Pointer(header)]; ok {
			check(!header.isContinued(), "oversize block %p must not be continued", header)
			check(size == header.size()+int32(headerSize), "oversize free size mismatch")
			a.freeToPool(unsafe.Pointer(header), uintptr(size))
			return
		}
	}

	for header != nil {
		var continued *Header
		if header.isContinued() {
			continued = header.nextContinued()
			header.clearContinued()
		}
		check(!header.isFree(), "double free of block %p", header)
		a.freeBytes += uint64(header.size()) + uint64(headerSize)
		a.cumulativeBytes -= uint64(header.size())

		if next := header.next(); next != nil {
			check(!next.isPreviousFree(), "block %p: successor already marked previous-free before coalescing", header)
			if next.isFree() {
				a.numFree--
				linkOf(next).remove()
				nextIdx := freeListIndex(next.size())
				a.clearClassBitIfEmpty(nextIdx)
				header.setSize(header.size() + next.size() + int32(headerSize))
			}
		}

		if header.isPreviousFree() {
			prev := getPreviousFree(header)
			linkOf(prev).remove()
			prevIdx := freeListIndex(prev.size())
			a.clearClassBitIfEmpty(prevIdx)
			prev.setSize(prev.size() + header.size() + int32(headerSize))
			header = prev
		} else {
			a.numFree++
		}

		idx := freeListIndex(header.size())
		a.freeNonEmpty |= 1 << uint(idx)
		a.freeLists[idx].insert(linkOf(header))
		markFree(header)

		a.debugLog("free", header)
		header = continued
	}
}
