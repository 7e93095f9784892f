package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	binpkg "github.com/robert-malhotra/go-nexus/internal/binary"
	"github.com/robert-malhotra/go-nexus/internal/message"
)

func byteType() *message.Datatype {
	return message.NewFixedPointDatatype(1, false, message.OrderLE)
}

func iota8(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestCompactReadSlice(t *testing.T) {
	data := iota8(12)
	c := NewCompact(&message.DataLayout{Class: message.LayoutCompact, CompactData: data},
		message.NewDataspace([]uint64{3, 4}, nil), byteType())

	all, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, data, all)
	all[0] = 0xFF
	assert.Equal(t, byte(0), data[0], "Read returns a copy")

	box, err := c.ReadSlice([]uint64{1, 1}, []uint64{2, 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6, 9, 10}, box)

	_, err = c.ReadSlice([]uint64{2, 0}, []uint64{2, 1})
	assert.ErrorContains(t, err, "exceeds extent 3")
	_, err = c.ReadSlice([]uint64{0}, []uint64{1})
	assert.ErrorContains(t, err, "rank 2")
}

func TestContiguousReadSlice(t *testing.T) {
	file := &memFile{}
	cfg := binpkg.DefaultConfig()
	require.NoError(t, binpkg.NewWriter(file, cfg).At(100).WriteBytes(iota8(12)))
	reader := binpkg.NewReader(file, cfg)

	l, err := New(&message.DataLayout{Class: message.LayoutContiguous, Address: 100, Size: 12},
		message.NewDataspace([]uint64{3, 4}, nil), byteType(), nil, reader)
	require.NoError(t, err)
	assert.Equal(t, message.LayoutContiguous, l.Class())

	all, err := l.Read()
	require.NoError(t, err)
	assert.Equal(t, iota8(12), all)

	box, err := l.ReadSlice([]uint64{0, 2}, []uint64{3, 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 3, 6, 7, 10, 11}, box)

	empty, err := l.ReadSlice([]uint64{1, 0}, []uint64{0, 4})
	require.NoError(t, err)
	assert.Empty(t, empty)

	unset := NewContiguous(&message.DataLayout{Address: ^uint64(0)},
		message.NewDataspace([]uint64{3, 4}, nil), byteType(), reader)
	_, err = unset.Read()
	assert.ErrorIs(t, err, errNotAllocated)
	_, err = unset.ReadSlice([]uint64{0, 0}, []uint64{1, 1})
	assert.ErrorIs(t, err, errNotAllocated)
}

func TestChunkedReadSliceTouchesOverlappingChunks(t *testing.T) {
	file := &memFile{}
	cfg := binpkg.DefaultConfig()
	raw := int16Data(15)

	cw := NewChunkWriter(binpkg.NewWriter(file, cfg), []uint32{2, 2}, 2, nil, bumpAllocator(64))
	idx, err := cw.Write(raw, []uint64{5, 3}, nil)
	require.NoError(t, err)

	lm := message.NewChunkedLayout([]uint32{2, 2}, 2, message.ChunkIndexFixedArray)
	lm.ChunkIndexAddr = idx.Address
	c, err := NewChunked(lm, message.NewDataspace([]uint64{5, 3}, nil),
		message.NewFixedPointDatatype(2, true, message.OrderLE), nil, binpkg.NewReader(file, cfg))
	require.NoError(t, err)

	got, err := c.ReadSlice([]uint64{1, 1}, []uint64{3, 2})
	require.NoError(t, err)
	var want []byte
	for r := 1; r < 4; r++ {
		want = append(want, raw[(r*3+1)*2:(r*3+3)*2]...)
	}
	assert.Equal(t, want, got)

	row, err := c.ReadSlice([]uint64{4, 0}, []uint64{1, 3})
	require.NoError(t, err)
	assert.Equal(t, raw[24:30], row)
}

func TestChunkedUnallocatedReadsZero(t *testing.T) {
	lm := message.NewChunkedLayout([]uint32{2}, 1, message.ChunkIndexFixedArray)
	lm.ChunkIndexAddr = ^uint64(0)
	c, err := NewChunked(lm, message.NewDataspace([]uint64{5}, nil), byteType(), nil,
		binpkg.NewReader(&memFile{}, binpkg.DefaultConfig()))
	require.NoError(t, err)

	got, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 5), got)
}

func TestChunkedImplicitIndex(t *testing.T) {
	file := &memFile{}
	cfg := binpkg.DefaultConfig()
	data := iota8(12)
	w := binpkg.NewWriter(file, cfg)
	addr := int64(32)
	for _, chunk := range SplitIntoChunks(data, []uint64{3, 4}, []uint32{2, 3}, 1) {
		require.NoError(t, w.At(addr).WriteBytes(chunk))
		addr += int64(len(chunk))
	}

	lm := message.NewChunkedLayout([]uint32{2, 3}, 1, message.ChunkIndexImplicit)
	lm.ChunkIndexAddr = 32
	c, err := NewChunked(lm, message.NewDataspace([]uint64{3, 4}, nil), byteType(), nil,
		binpkg.NewReader(file, cfg))
	require.NoError(t, err)

	got, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestChunkedRejectsUnknownIndex(t *testing.T) {
	lm := message.NewChunkedLayout([]uint32{2}, 1, message.ChunkIndexType(9))
	lm.ChunkIndexAddr = 64
	c, err := NewChunked(lm, message.NewDataspace([]uint64{4}, nil), byteType(), nil,
		binpkg.NewReader(&memFile{}, binpkg.DefaultConfig()))
	require.NoError(t, err)

	_, err = c.Read()
	assert.ErrorContains(t, err, "not supported")

	lm.ChunkDims = []uint32{0, 1}
	_, err = NewChunked(lm, message.NewDataspace([]uint64{4}, nil), byteType(), nil, nil)
	assert.ErrorContains(t, err, "zero")
}

func TestEachRowOffsets(t *testing.T) {
	var rows [][3]uint64
	err := eachRow([]uint64{4, 5}, []uint64{1, 2}, []uint64{2, 3}, []uint64{0, 0}, []uint64{2, 3}, 2,
		func(s, d, n uint64) error {
			rows = append(rows, [3]uint64{s, d, n})
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, [][3]uint64{{14, 0, 6}, {24, 6, 6}}, rows)
}
