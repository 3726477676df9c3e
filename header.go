// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package velox

import "unsafe"

// headerSize is H from the design: the fixed-width metadata prefix of
// every block. One machine word (uint32) holds three flags and a size.
const headerSize = unsafe.Sizeof(Header{})

// ptrSize is the width of the machine word a continuation link or a
// free-list node pointer occupies inside a block's payload.
const ptrSize = unsafe.Sizeof(uintptr(0))

const (
	flagFree         uint32 = 1 << 31
	flagContinued    uint32 = 1 << 30
	flagPreviousFree uint32 = 1 << 29
	flagsMask        uint32 = flagFree | flagContinued | flagPreviousFree

	// kSizeMask bounds the payload size a header can encode: the bits
	// left over once the three flags claim the top of the word.
	kSizeMask int32 = 1<<29 - 1

	// arenaEnd is a bit pattern that can never arise from a legal
	// header (a free block is never continued and a continued block is
	// never free, so a word with every flag and every size bit set is
	// unambiguous) and is written in place of a header to mark the end
	// of a slab.
	arenaEnd uint32 = 0xffffffff
)

// Header is the fixed-width metadata prefix of a block. It is never
// copied by value in live code; it is always addressed in place inside
// a slab or an oversize allocation via a *Header obtained through
// unsafe.Pointer arithmetic.
type Header struct {
	word uint32
}

// newHeaderAt placement-constructs a header of the given payload size
// at ptr, with all flags clear.
func newHeaderAt(ptr unsafe.Pointer, size int32) *Header {
	h := (*Header)(ptr)
	h.word = uint32(size)
	return h
}

func (h *Header) isArenaEnd() bool { return h.word == arenaEnd }

func (h *Header) size() int32 { return int32(h.word &^ flagsMask) }

func (h *Header) setSize(size int32) {
	h.word = (h.word & flagsMask) | uint32(size)
}

func (h *Header) isFree() bool       { return h.word&flagFree != 0 }
func (h *Header) setFree()           { h.word |= flagFree }
func (h *Header) clearFree()         { h.word &^= flagFree }

func (h *Header) isContinued() bool { return h.word&flagContinued != 0 }
func (h *Header) setContinued()     { h.word |= flagContinued }
func (h *Header) clearContinued()   { h.word &^= flagContinued }

func (h *Header) isPreviousFree() bool { return h.word&flagPreviousFree != 0 }
func (h *Header) setPreviousFree()     { h.word |= flagPreviousFree }
func (h *Header) clearPreviousFree()   { h.word &^= flagPreviousFree }

// begin returns the first byte of this block's payload.
func (h *Header) begin() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(h), headerSize)
}

// end returns the byte just past this block's payload, i.e. where the
// next header (or ARENA_END) begins.
func (h *Header) end() unsafe.Pointer {
	return unsafe.Add(h.begin(), h.size())
}

// next returns the header immediately after this block in slab order,
// or nil if what follows is the ARENA_END sentinel.
func (h *Header) next() *Header {
	n := (*Header)(h.end())
	if n.isArenaEnd() {
		return nil
	}
	return n
}

// nextContinued reads the trailing machine word of this block's
// payload as a pointer to the next header in a continuation chain.
// Only valid when isContinued() is true.
func (h *Header) nextContinued() *Header {
	wordPtr := (*unsafe.Pointer)(unsafe.Add(h.end(), -int(ptrSize)))
	return (*Header)(*wordPtr)
}

// setNextContinued writes the trailing machine word of this block's
// payload with a pointer to next.
func (h *Header) setNextContinued(next *Header) {
	wordPtr := (*unsafe.Pointer)(unsafe.Add(h.end(), -int(ptrSize)))
	*wordPtr = unsafe.Pointer(next)
}

// previousFreeSize returns a pointer to the boundary tag a free block
// writes in the last 4 bytes of its own payload: the 4 bytes
// immediately preceding this header.
func previousFreeSize(h *Header) *uint32 {
	return (*uint32)(unsafe.Add(unsafe.Pointer(h), -4))
}

// getPreviousFree returns the header of the free block immediately
// before h in slab order, or nil if h.isPreviousFree() is false.
func getPreviousFree(h *Header) *Header {
	if !h.isPreviousFree() {
		return nil
	}
	size := *previousFreeSize(h)
	prev := (*Header)(unsafe.Add(unsafe.Pointer(h), -(int(size) + int(headerSize))))
	return prev
}

// markFree sets the FREE flag on h, writes the trailing boundary-tag
// size word into h's own payload, and sets PREVIOUS_FREE on h's
// successor (if any) so it can find h's size later.
func markFree(h *Header) {
	h.setFree()
	// The boundary tag lives in the last 4 bytes of h's own payload,
	// which is exactly where a successor's previousFreeSize(successor)
	// would look, whether or not a successor actually exists.
	*(*uint32)(unsafe.Add(h.end(), -4)) = uint32(h.size())
	if next := h.next(); next != nil {
		next.setPreviousFree()
	}
}

// headerOf converts a payload pointer (as returned by allocate/begin)
// back to the header that precedes it.
func headerOf(payload unsafe.Pointer) *Header {
	return (*Header)(unsafe.Add(payload, -int(headerSize)))
}
