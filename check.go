// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package velox

import "unsafe"

// CheckConsistency walks every slab and every free list and verifies
// the allocator's structural invariants: header bounds, the
// previous-free flag matching its predecessor, boundary tags matching
// their block's size, no two adjacent free blocks, no free block
// marked continued, no continued block's successor marked free, the
// free-list bitmap matching list emptiness, free blocks sitting in the
// right size class, and the free-list walk agreeing with the running
// counters. It panics (via check/PANIC) on the first violation found;
// it is meant for tests and the opt-in Checks option, not the hot
// allocate/free path.
func (a *Arena) CheckConsistency() {
	var numFree, freeBytes uint64

	for i := 0; i < a.pagePool.NumSmallAllocations(); i++ {
		run := a.pagePool.AllocationAt(i)
		mem := run.Bytes()
		check(len(mem) > int(headerSize), "run %d too small to hold even the end sentinel", i)
		size := int32(len(mem)) - int32(headerSize)
		end := (*Header)(unsafe.Add(unsafe.Pointer(&mem[0]), size))
		header := (*Header)(unsafe.Pointer(&mem[0]))

		previousFree := false
		for header != end {
			check(
				uintptr(unsafe.Pointer(header)) >= uintptr(unsafe.Pointer(&mem[0])),
				"header %p precedes its run", header,
			)
			check(
				uintptr(unsafe.Pointer(header)) < uintptr(unsafe.Pointer(end)),
				"header %p at or past its run's end sentinel", header,
			)
			check(
				uintptr(header.end()) <= uintptr(unsafe.Pointer(end)),
				"block %p overruns its run", header,
			)
			check(header.isPreviousFree() == previousFree,
				"block %p: previousFree flag %v does not match predecessor's free state %v",
				header, header.isPreviousFree(), previousFree)

			if header.isFree() {
				check(!previousFree, "two adjacent free blocks at %p", header)
				check(!header.isContinued(), "free block %p is marked continued", header)
				if header.next() != nil {
					tag := *(*uint32)(unsafe.Add(header.end(), -4))
					check(int32(tag) == header.size(),
						"block %p boundary tag %d does not match size %d",
						header, tag, header.size())
				}
				numFree++
				freeBytes += uint64(header.size()) + uint64(headerSize)
			} else if header.isContinued() {
				continued := header.nextContinued()
				check(!continued.isFree(), "continued block %p's successor %p is marked free", header, continued)
			}
			previousFree = header.isFree()
			header = (*Header)(header.end())
		}
	}

	check(numFree == a.numFree, "numFree mismatch: walked %d, counter says %d", numFree, a.numFree)
	check(freeBytes == a.freeBytes, "freeBytes mismatch: walked %d, counter says %d", freeBytes, a.freeBytes)

	var numInFreeLists, bytesInFreeLists uint64
	for i := 0; i < kNumFreeLists; i++ {
		hasBit := a.freeNonEmpty&(1<<uint(i)) != 0
		nonEmpty := !a.freeLists[i].empty()
		check(hasBit == nonEmpty, "free-list bitmap bit %d (%v) disagrees with list emptiness (%v)", i, hasBit, nonEmpty)

		for item := a.freeLists[i].next; item != &a.freeLists[i]; item = item.next {
			h := headerOfLink(item)
			size := h.size()
			if i > 0 {
				check(size >= freeListSizes[i-1], "block %p of size %d in class %d below its lower bound %d", h, size, i, freeListSizes[i-1])
			}
			check(size < freeListSizes[i], "block %p of size %d in class %d at or above its upper bound %d", h, size, i, freeListSizes[i])
			numInFreeLists++
			bytesInFreeLists += uint64(size) + uint64(headerSize)
		}
	}
	check(numInFreeLists == a.numFree, "free-list walk found %d members, numFree counter says %d", numInFreeLists, a.numFree)
	check(bytesInFreeLists == a.freeBytes, "free-list walk found %d bytes, freeBytes counter says %d", bytesInFreeLists, a.freeBytes)
}
