// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package velox

import (
	"errors"
	"unsafe"
)

// ByteRange is the unit the arena publishes to writers and consumes
// from readers. CursorOffset marks how
// many leading bytes of Data are already considered "consumed" --
// for a write range this is how many bytes of this range already
// hold logical content the writer must not overwrite (e.g. the
// stashed tail word NewRange relocates to the front of a freshly
// chained block, see cursor.go).
type ByteRange struct {
	Data         []byte
	Size         int32
	CursorOffset int32
}

// ByteStream is the minimal byte-stream reader/writer the arena writes
// into and reads from. It has no notion of headers, blocks, or
// continuation chains: it only tracks the range it is currently
// writing into, or the sequence of ranges it is reading from. All
// chain-walking lives in the arena (PrepareRead/Offset/Seek).
type ByteStream struct {
	writeBase unsafe.Pointer
	writeSize int32
	writePos  int32

	ranges   []ByteRange
	rangeIdx int
	rangePos int32
}

// ErrShortRead is returned by ReadBytes when fewer bytes are
// available across the remaining ranges than requested.
var ErrShortRead = errors.New("velox: short read")

// SetRange publishes a fresh range for writing and makes it current.
// This is how NewWrite/ExtendWrite/NewRange hand the caller somewhere
// to put bytes.
func (s *ByteStream) SetRange(r ByteRange) {
	if len(r.Data) > 0 {
		s.writeBase = unsafe.Pointer(&r.Data[0])
	} else {
		s.writeBase = nil
	}
	s.writeSize = r.Size
	s.writePos = r.CursorOffset
}

// Append writes data into the current range, calling needMore to
// obtain a new range (wired by the arena to NewRange) whenever the
// current one runs out of room. Append must only be called after
// SetRange.
func (s *ByteStream) Append(data []byte, needMore func(bytesNeeded int32) ByteRange) {
	for len(data) > 0 {
		room := s.writeSize - s.writePos
		if room <= 0 {
			s.SetRange(needMore(int32(len(data))))
			room = s.writeSize - s.writePos
		}
		n := int32(len(data))
		if n > room {
			n = room
		}
		dst := unsafe.Slice((*byte)(unsafe.Add(s.writeBase, s.writePos)), n)
		copy(dst, data[:n])
		s.writePos += n
		data = data[n:]
	}
}

// WritePosition returns the address just past the last byte written
// into the current range, i.e. the position FinishWrite should trim
// the block down to.
func (s *ByteStream) WritePosition() unsafe.Pointer {
	return unsafe.Add(s.writeBase, s.writePos)
}

// ResetInput discards any write state and prepares the stream to be
// read back from the given ranges, in order.
func (s *ByteStream) ResetInput(ranges []ByteRange) {
	s.writeBase, s.writeSize, s.writePos = nil, 0, 0
	s.ranges = ranges
	s.rangeIdx = 0
	s.rangePos = 0
	if len(ranges) > 0 {
		s.rangePos = ranges[0].CursorOffset
	}
}

// ReadBytes copies len(dst) bytes out of the stream, advancing across
// ranges as needed. It returns ErrShortRead if the stream runs out of
// ranges before dst is filled.
func (s *ByteStream) ReadBytes(dst []byte) (int, error) {
	total := 0
	for len(dst) > 0 {
		if s.rangeIdx >= len(s.ranges) {
			return total, ErrShortRead
		}
		cur := &s.ranges[s.rangeIdx]
		avail := cur.Size - s.rangePos
		if avail <= 0 {
			s.rangeIdx++
			if s.rangeIdx < len(s.ranges) {
				s.rangePos = s.ranges[s.rangeIdx].CursorOffset
			}
			continue
		}
		n := int32(len(dst))
		if n > avail {
			n = avail
		}
		copy(dst[:n], cur.Data[s.rangePos:s.rangePos+n])
		s.rangePos += n
		dst = dst[n:]
		total += int(n)
	}
	return total, nil
}
