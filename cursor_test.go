package velox

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func writeValue(t *testing.T, a *Arena, data []byte) *Header {
	t.Helper()
	var stream ByteStream
	pos := a.NewWrite(&stream, int32(len(data))/2+1)
	stream.Append(data, func(needed int32) ByteRange {
		return a.NewRange(needed, false)
	})
	a.FinishWrite(&stream, 0)
	return pos.Header
}

func readValue(t *testing.T, header *Header, size int32) []byte {
	t.Helper()
	var stream ByteStream
	PrepareRead(header, &stream)
	dst := make([]byte, size)
	n, err := stream.ReadBytes(dst)
	require.NoError(t, err)
	require.Equal(t, int(size), n)
	return dst
}

func TestWriteReadRoundTripSingleBlock(t *testing.T) {
	a := newTestArena(t)
	data := []byte("hello, arena")

	first := writeValue(t, a, data)
	got := readValue(t, first, int32(len(data)))
	require.Equal(t, data, got)
	a.CheckConsistency()
}

func TestWriteReadRoundTripChainedAcrossBlocks(t *testing.T) {
	a := newTestArena(t)

	var stream ByteStream
	pos := a.NewWrite(&stream, 64)
	blockSize := pos.Header.size()

	// Write well past the first block's capacity so Append must pull in
	// at least one continuation block via NewRange.
	data := make([]byte, int(blockSize)+500)
	for i := range data {
		data[i] = byte(i)
	}
	stream.Append(data, func(needed int32) ByteRange {
		return a.NewRange(needed, false)
	})
	a.FinishWrite(&stream, 0)

	require.True(t, pos.Header.isContinued(), "writing past one block's capacity must chain a continuation")

	got := readValue(t, pos.Header, int32(len(data)))
	require.Equal(t, data, got, "chained read must reassemble the logical value exactly, despite the stashed tail word")
	a.CheckConsistency()
}

// TestNewRangeStashesTailWord exercises the Open Question resolved in
// DESIGN.md: extending a value relocates whatever the caller had
// already written into the current block's trailing pointer-word slot
// to the front of the freshly linked block, rather than discarding it.
func TestNewRangeStashesTailWord(t *testing.T) {
	a := newTestArena(t)

	mem := make([]byte, 256)
	current := newHeaderAt(unsafe.Pointer(&mem[0]), 64)
	a.currentHeader = current

	tailWord := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}[:ptrSize]
	lastWordPtr := unsafe.Add(current.end(), -int(ptrSize))
	copy(unsafe.Slice((*byte)(lastWordPtr), ptrSize), tailWord)

	r := a.NewRange(64, false)

	require.EqualValues(t, ptrSize, r.CursorOffset)
	require.Equal(t, tailWord, r.Data[:ptrSize], "the new block's first word must hold the old block's stashed tail bytes")
	require.True(t, current.isContinued())

	newHeader := headerOf(unsafe.Pointer(&r.Data[0]))
	require.Equal(t, newHeader, current.nextContinued())

	relinked := *(*unsafe.Pointer)(lastWordPtr)
	require.Equal(t, unsafe.Pointer(newHeader), relinked, "the old block's trailing word must now point at the new block")
}

func TestOffsetAndSeekAreInverses(t *testing.T) {
	a := newTestArena(t)
	data := []byte("0123456789")
	header := writeValue(t, a, data)

	for offset := int64(0); offset < int64(len(data)); offset++ {
		pos := Seek(header, offset)
		require.Equal(t, offset, Offset(header, pos))
	}
}

func TestAvailableCoversRestOfBlockAndChain(t *testing.T) {
	a := newTestArena(t)
	header := writeValue(t, a, []byte("short"))

	pos := Seek(header, 0)
	require.Equal(t, int64(header.size()), Available(pos))

	pos = Seek(header, 2)
	require.Equal(t, int64(header.size())-2, Available(pos))
}

func TestEnsureAvailableGrowsWithoutMovingLogicalOffset(t *testing.T) {
	a := newTestArena(t)
	header := writeValue(t, a, []byte("short"))

	pos := Seek(header, 3)
	require.Less(t, Available(pos), int64(1024))

	a.EnsureAvailable(1024, &pos)
	require.GreaterOrEqual(t, Available(pos), int64(1024))
	require.Equal(t, int64(3), Offset(pos.Header, pos))
	a.CheckConsistency()
}

func TestContiguousStringReturnsInlineUnchanged(t *testing.T) {
	a := newTestArena(t)
	view := StringView{size: 4, inline: [12]byte{'a', 'b', 'c', 'd'}}

	var storage []byte
	got := a.ContiguousString(view, &storage)
	require.Equal(t, view, got)
	require.Nil(t, storage)
}

func TestContiguousStringCopiesChainedValue(t *testing.T) {
	a := newTestArena(t)

	var stream ByteStream
	pos := a.NewWrite(&stream, 64)
	data := make([]byte, int(pos.Header.size())+200)
	for i := range data {
		data[i] = byte(i + 7)
	}
	stream.Append(data, func(needed int32) ByteRange {
		return a.NewRange(needed, false)
	})
	a.FinishWrite(&stream, 0)

	view := NewIndirectStringView(pos.Header, int32(len(data)))
	var storage []byte
	got := a.ContiguousString(view, &storage)
	require.Len(t, storage, len(data))
	require.Equal(t, data, unsafe.Slice((*byte)(got.Data()), got.Size()))
}
