// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package velox

import "unsafe"

// Position is a stable cursor into a logical value stored across one
// or more chained blocks: the header of the block the position falls
// in, plus a byte pointer into that header's payload.
type Position struct {
	Header   *Header
	Position unsafe.Pointer
}

// inlineViewCapacity mirrors the small-string-inline cutoff a
// surrounding string-view encoding would use; kept here only so
// ContiguousString has something to dispatch on without pulling in
// that encoding's full machinery.
const inlineViewCapacity = 12

// StringView is a minimal stand-in for a surrounding operator's
// inline-vs-indirect string view encoding. It exists only so
// ContiguousString is exercisable: a short view stores its bytes
// inline, a long one stores a pointer to the first block of a
// (possibly chained) value.
type StringView struct {
	size   int32
	inline [inlineViewCapacity]byte
	data   unsafe.Pointer // valid iff size > inlineViewCapacity
}

func (v StringView) isInline() bool { return v.size <= inlineViewCapacity }

// Size returns the view's logical byte length.
func (v StringView) Size() int32 { return v.size }

// Data returns the view's bytes if inline, or the address of its
// first block's payload if indirect.
func (v StringView) Data() unsafe.Pointer {
	if v.isInline() {
		return unsafe.Pointer(&v.inline[0])
	}
	return v.data
}

// NewIndirectStringView builds a view over a (possibly chained) value
// starting at header, of the given logical size.
func NewIndirectStringView(header *Header, size int32) StringView {
	return StringView{size: size, data: header.begin()}
}

// NewWrite begins a fresh write: it requires no write already be in
// progress, obtains a block from the free-list engine, publishes it
// to stream, and returns a Position at the very start of that block.
func (a *Arena) NewWrite(stream *ByteStream, preferredSize int32) Position {
	check(a.currentHeader == nil, "NewWrite called before finishing the previous write")
	a.currentHeader = a.allocate(preferredSize, false)
	stream.SetRange(ByteRange{
		Data: headerBytes(a.currentHeader),
		Size: a.currentHeader.size(),
	})
	return Position{Header: a.currentHeader, Position: a.currentHeader.begin()}
}

// ExtendWrite resumes writing at position, truncating (freeing) any
// previously written continuation tail beyond it.
func (a *Arena) ExtendWrite(position Position, stream *ByteStream) {
	header := position.Header
	check(withinBlock(header, position.Position), "ExtendWrite starting outside of the current range")

	if header.isContinued() {
		a.free(header.nextContinued())
		header.clearContinued()
	}

	remaining := int32(uintptr(header.end()) - uintptr(position.Position))
	stream.SetRange(ByteRange{
		Data: unsafe.Slice((*byte)(position.Position), remaining),
		Size: remaining,
	})
	a.currentHeader = header
}

// NewRange allocates a new block to continue the value currently
// being written into, links it into the continuation chain, and
// publishes a range over its payload.
//
// Before the link is overwritten, the current block's trailing word
// is copied into the new block's first word. That trailing word may
// already hold real data the caller wrote before running out of room
// in the current block (the last sizeof(void*) bytes of any block are
// always liable to be repurposed as a continuation pointer once the
// caller keeps writing), so relocating it to the front of the new
// block -- rather than simply discarding it -- keeps the chain's
// logical bytes exactly equal to the concatenation of the published
// ranges. The CursorOffset on the returned range tells the caller
// those relocated bytes are already spoken for.
func (a *Arena) NewRange(bytes int32, contiguous bool) ByteRange {
	check(a.currentHeader != nil, "NewRange called before NewWrite or ExtendWrite")
	newHeader := a.allocate(bytes, contiguous)

	lastWordPtr := (*unsafe.Pointer)(unsafe.Add(a.currentHeader.end(), -int(ptrSize)))
	firstWordPtr := (*unsafe.Pointer)(newHeader.begin())
	*firstWordPtr = *lastWordPtr
	*lastWordPtr = unsafe.Pointer(newHeader)
	a.currentHeader.setContinued()
	a.currentHeader = newHeader

	return ByteRange{
		Data:         headerBytes(newHeader),
		Size:         newHeader.size(),
		CursorOffset: int32(ptrSize),
	}
}

// NewContiguousRange is NewRange with exactSize forced, for values
// that must not be split smaller than requested (e.g. a caller about
// to write a fixed-size struct that cannot itself span blocks).
func (a *Arena) NewContiguousRange(bytes int32) ByteRange {
	if bytes < kMinContiguous {
		bytes = kMinContiguous
	}
	return a.NewRange(bytes, true)
}

// FinishWrite ends the current write, trimming the unused tail of the
// current block (keeping numReserveBytes spare) and returning a
// Position at the logical write cursor.
func (a *Arena) FinishWrite(stream *ByteStream, numReserveBytes int32) Position {
	check(a.currentHeader != nil, "FinishWrite called before NewWrite or ExtendWrite")
	writePosition := stream.WritePosition()
	check(withinBlock(a.currentHeader, writePosition), "FinishWrite called with writePosition out of range")

	result := Position{Header: a.currentHeader, Position: writePosition}
	if a.currentHeader.isContinued() {
		a.free(a.currentHeader.nextContinued())
		a.currentHeader.clearContinued()
	}
	keep := int32(uintptr(writePosition)-uintptr(a.currentHeader.begin())) + numReserveBytes
	a.freeRestOfBlock(a.currentHeader, keep)
	a.currentHeader = nil
	return result
}

// PrepareRead walks the continuation chain starting at begin and
// loads every block's payload into stream as a sequence of
// ByteRanges, ready for ReadBytes. Non-mutating. Every range's
// CursorOffset is 0: unlike the write side, a chained block's leading
// bytes are ordinary logical content (see NewRange) -- only a
// non-terminal block's trailing sizeof(void*) bytes, which hold the
// forward pointer rather than data, are excluded.
func PrepareRead(begin *Header, stream *ByteStream) {
	var ranges []ByteRange
	header := begin
	for {
		size := header.size()
		continued := header.isContinued()
		if continued {
			size -= int32(ptrSize)
		}
		ranges = append(ranges, ByteRange{Data: headerBytes(header)[:size], Size: size})
		if !continued {
			break
		}
		header = header.nextContinued()
	}
	stream.ResetInput(ranges)
}

// Offset returns the logical byte offset of position within the
// chain rooted at header, or -1 if position does not fall inside any
// block's payload. Non-mutating.
func Offset(header *Header, position Position) int64 {
	var size int64
	for {
		continued := header.isContinued()
		length := header.size()
		if continued {
			length -= int32(ptrSize)
		}
		begin := header.begin()
		if withinRange(begin, length, position.Position) {
			return size + int64(uintptr(position.Position)-uintptr(begin))
		}
		if !continued {
			return -1
		}
		size += int64(length)
		header = header.nextContinued()
	}
}

// Seek is the inverse of Offset: it returns the Position offset bytes
// into the chain rooted at header, or a zero Position if the chain is
// shorter than offset. Non-mutating.
func Seek(header *Header, offset int64) Position {
	var size int64
	for {
		continued := header.isContinued()
		length := header.size()
		if continued {
			length -= int32(ptrSize)
		}
		begin := header.begin()
		if offset <= size+int64(length) {
			return Position{Header: header, Position: unsafe.Add(begin, offset-size)}
		}
		if !continued {
			return Position{}
		}
		size += int64(length)
		header = header.nextContinued()
	}
}

// Available returns how many further logical bytes are available
// starting from position: the unused tail of its current block plus
// the full usable payload of every subsequent chained block.
// Non-mutating.
func Available(position Position) int64 {
	header := position.Header
	startOffset := int64(uintptr(position.Position) - uintptr(header.begin()))
	size := -startOffset
	for {
		continued := header.isContinued()
		length := header.size()
		if continued {
			length -= int32(ptrSize)
		}
		size += int64(length)
		if !continued {
			return size
		}
		header = header.nextContinued()
	}
}

// EnsureAvailable grows the value at position, if needed, so that at
// least bytes further bytes are available, then repositions position
// to its original logical offset.
func (a *Arena) EnsureAvailable(bytes int32, position *Position) {
	if Available(*position) >= int64(bytes) {
		return
	}
	fromOffset := Offset(position.Header, *position)
	check(fromOffset >= 0, "EnsureAvailable called with a position outside its own chain")

	var stream ByteStream
	a.ExtendWrite(*position, &stream)
	var zero [128]byte
	remaining := bytes
	for remaining > 0 {
		n := remaining
		if int(n) > len(zero) {
			n = int32(len(zero))
		}
		stream.Append(zero[:n], func(needed int32) ByteRange {
			return a.NewRange(needed, false)
		})
		remaining -= n
	}
	a.FinishWrite(&stream, 0)
	*position = Seek(position.Header, fromOffset)
}

// ContiguousString returns view unchanged if it is already inline or
// its logical size fits within its starting block, otherwise copies
// its bytes into storage via PrepareRead and returns a view over
// storage.
func (a *Arena) ContiguousString(view StringView, storage *[]byte) StringView {
	if view.isInline() {
		return view
	}
	header := headerOf(view.Data())
	if view.Size() <= header.size() {
		return view
	}

	var stream ByteStream
	PrepareRead(header, &stream)
	*storage = make([]byte, view.Size())
	_, _ = stream.ReadBytes(*storage)
	return StringView{size: view.Size(), data: unsafe.Pointer(&(*storage)[0])}
}

func headerBytes(h *Header) []byte {
	return unsafe.Slice((*byte)(h.begin()), h.size())
}

func withinBlock(h *Header, p unsafe.Pointer) bool {
	return withinRange(h.begin(), h.size(), p)
}

func withinRange(begin unsafe.Pointer, length int32, p unsafe.Pointer) bool {
	start := uintptr(begin)
	end := start + uintptr(length)
	addr := uintptr(p)
	return addr >= start && addr <= end
}
