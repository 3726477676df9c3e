// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package velox

import "unsafe"

// AllocationTraits describes the upstream page pool's page-size
// contract: how many bytes a page holds and how byte counts round to
// whole pages.
type AllocationTraits struct {
	PageSize uintptr
}

// DefaultAllocationTraits matches the common 4 KiB OS page used by the
// corpus's other slab-style allocators (couchbase-go-slab, go-slab).
var DefaultAllocationTraits = AllocationTraits{PageSize: 4096}

// NumPages returns the number of pages needed to cover n bytes.
func (t AllocationTraits) NumPages(n uintptr) uintptr {
	return (n + t.PageSize - 1) / t.PageSize
}

// PageBytes returns the byte size of n pages.
func (t AllocationTraits) PageBytes(n uintptr) uintptr {
	return n * t.PageSize
}

// Run is one contiguous, page-aligned-sized slice obtained from the
// PagePool, kept alive for the PagePool's own lifetime so the arena's
// unsafe.Pointer arithmetic over it stays legal. Run corresponds to
// what the upstream pool calls a "small allocation".
type Run struct {
	mem []byte
}

// Bytes exposes the run's backing storage. The arena never needs this
// directly (it walks the run through header pointer arithmetic) but
// the consistency checker uses it to bound its walk.
func (r *Run) Bytes() []byte { return r.mem }

func (r *Run) base() unsafe.Pointer { return unsafe.Pointer(&r.mem[0]) }

// PagePool is the upstream memory-pool collaborator the arena draws
// slabs from: it hands out runs for slabs (via NewRun, or AllocateFixed
// when a slab is too large for any standard size class) and, via
// Allocate, standalone oversize allocations that are tracked and freed
// individually.
type PagePool struct {
	traits AllocationTraits

	// largestClass bounds how many pages a single "standard run"
	// request may ask for before the slab pool must fall back to
	// allocateFixed. Mirrors pool()->largestSizeClass().
	largestClass uintptr

	small []*Run   // runs obtained via NewRun or AllocateFixed; "small allocations"
	large [][]byte // oversize allocations via Allocate; "large allocations"

	currentRun *Run // the run most recently handed out by NewRun
}

// NewPagePool constructs a page pool with the given page size and
// largest standard-run size class (in pages).
func NewPagePool(traits AllocationTraits, largestSizeClassPages uintptr) *PagePool {
	return &PagePool{traits: traits, largestClass: largestSizeClassPages}
}

// LargestSizeClass returns the largest number of pages a standard run
// may span.
func (p *PagePool) LargestSizeClass() uintptr { return p.largestClass }

// NewRun obtains a standard run of at least bytesNeeded bytes, rounded
// up to a whole number of pages, and makes it the "current allocation"
// for IsInCurrentAllocation/FirstFreeInRun/AvailableInRun.
func (p *PagePool) NewRun(bytesNeeded uintptr) {
	pages := p.traits.NumPages(bytesNeeded)
	if pages == 0 {
		pages = 1
	}
	run := &Run{mem: make([]byte, p.traits.PageBytes(pages))}
	p.small = append(p.small, run)
	p.currentRun = run
}

// FirstFreeInRun returns the start of the run most recently obtained
// via NewRun.
func (p *PagePool) FirstFreeInRun() unsafe.Pointer {
	return p.currentRun.base()
}

// AvailableInRun returns the number of usable bytes in the run most
// recently obtained via NewRun.
func (p *PagePool) AvailableInRun() uintptr {
	return uintptr(len(p.currentRun.mem))
}

// AllocateFixed obtains a slab-sized run of exactly n bytes (rounded
// up to a page) for the newSlab fallback taken when a request is too
// big for any standard size class. Unlike Allocate (the side-map
// oversize path for a single standalone value), the run returned here
// becomes a normal slab: many blocks get carved out of it and freed
// individually, so it is tracked as a "small allocation" like any run
// from NewRun, just not made the "current allocation".
func (p *PagePool) AllocateFixed(n uintptr) unsafe.Pointer {
	pages := p.traits.NumPages(n)
	run := &Run{mem: make([]byte, p.traits.PageBytes(pages))}
	p.small = append(p.small, run)
	return run.base()
}

// IsInCurrentAllocation reports whether ptr falls inside the run most
// recently obtained via NewRun. The free-list engine's free() path
// uses this as a cheap first check before consulting the oversize side
// map to decide whether a large block is a standalone value allocated
// via Allocate (and must be returned to the pool individually) or
// simply a coalesced free block that happens to be large but still
// lives inside an ordinary slab.
func (p *PagePool) IsInCurrentAllocation(ptr unsafe.Pointer) bool {
	if p.currentRun == nil {
		return false
	}
	start := uintptr(p.currentRun.base())
	end := start + uintptr(len(p.currentRun.mem))
	addr := uintptr(ptr)
	return addr >= start && addr < end
}

// NumSmallAllocations returns the number of runs obtained via NewRun
// or AllocateFixed, for the consistency checker's walk.
func (p *PagePool) NumSmallAllocations() int { return len(p.small) }

// AllocationAt returns the i-th run obtained via NewRun or
// AllocateFixed.
func (p *PagePool) AllocationAt(i int) *Run { return p.small[i] }

// NumLargeAllocations returns the number of standalone allocations
// currently outstanding via Allocate.
func (p *PagePool) NumLargeAllocations() int { return len(p.large) }

// Allocate obtains n bytes for the oversize side-map path.
func (p *PagePool) Allocate(n uintptr) unsafe.Pointer {
	mem := make([]byte, n)
	p.large = append(p.large, mem)
	return unsafe.Pointer(&mem[0])
}

// Free releases a standalone allocation obtained via Allocate; runs
// from AllocateFixed are not tracked here. It is O(n) in the number of outstanding large
// allocations, which is acceptable: oversize allocations are rare by
// construction (anything above kMaxAlloc).
func (p *PagePool) Free(ptr unsafe.Pointer, n uintptr) {
	for i, mem := range p.large {
		if len(mem) == 0 {
			continue
		}
		if unsafe.Pointer(&mem[0]) == ptr {
			p.large = append(p.large[:i], p.large[i+1:]...)
			return
		}
	}
	BUG("PagePool.Free: pointer %p not found among large allocations\n", ptr)
}
