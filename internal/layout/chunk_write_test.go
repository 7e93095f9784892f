package layout

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	binpkg "github.com/robert-malhotra/go-nexus/internal/binary"
	"github.com/robert-malhotra/go-nexus/internal/filter"
	"github.com/robert-malhotra/go-nexus/internal/message"
)

type memFile struct {
	buf []byte
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	if end := int(off) + len(p); end > len(m.buf) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	return copy(m.buf[off:], p), nil
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func bumpAllocator(next uint64) func(int64) uint64 {
	return func(size int64) uint64 {
		addr := next
		next += uint64(size)
		return addr
	}
}

func int16Data(n int) []byte {
	raw := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(i*7+1))
	}
	return raw
}

func TestSplitIntoChunksPadsEdges(t *testing.T) {
	// 3x3 bytes split into 2x2 chunks
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	chunks := SplitIntoChunks(data, []uint64{3, 3}, []uint32{2, 2}, 1)

	require.Len(t, chunks, 4)
	assert.Equal(t, []byte{1, 2, 4, 5}, chunks[0])
	assert.Equal(t, []byte{3, 0, 6, 0}, chunks[1])
	assert.Equal(t, []byte{7, 8, 0, 0}, chunks[2])
	assert.Equal(t, []byte{9, 0, 0, 0}, chunks[3])

	assert.Nil(t, SplitIntoChunks(nil, []uint64{0, 3}, []uint32{1, 3}, 4))
}

func TestPageBitsAndSizeLen(t *testing.T) {
	assert.Equal(t, uint8(10), pageBitsFor(1))
	assert.Equal(t, uint8(10), pageBitsFor(1024))
	assert.Equal(t, uint8(11), pageBitsFor(1025))
	assert.Equal(t, 2, chunkSizeLen(200))
	assert.Equal(t, 3, chunkSizeLen(4096))
}

func TestChunkWriterRoundtrip(t *testing.T) {
	dims := []uint64{5, 3}
	raw := int16Data(15)

	pipelines := map[string]*message.FilterPipeline{
		"unfiltered": nil,
		"shuffle+deflate": message.NewFilterPipeline(
			message.FilterInfo{ID: message.FilterShuffle, ClientData: []uint32{2}},
			message.FilterInfo{ID: message.FilterDeflate, ClientData: []uint32{6}},
		),
		"zstd+fletcher32": message.NewFilterPipeline(
			message.FilterInfo{ID: filter.FilterZstd, Name: "zstd", ClientData: []uint32{3}},
			message.FilterInfo{ID: message.FilterFletcher32},
		),
	}

	growth := []struct {
		name    string
		maxDims []uint64
		index   message.ChunkIndexType
	}{
		{"fixed", nil, message.ChunkIndexFixedArray},
		{"bounded", []uint64{9, 3}, message.ChunkIndexFixedArray},
		{"unlimited rows", []uint64{unlimited, 3}, message.ChunkIndexExtensibleArray},
		{"unlimited columns", []uint64{7, unlimited}, message.ChunkIndexExtensibleArray},
		{"unlimited", []uint64{unlimited, unlimited}, message.ChunkIndexBTreeV2},
	}

	for name, fp := range pipelines {
		for _, g := range growth {
			t.Run(name+"/"+g.name, func(t *testing.T) {
				file := &memFile{}
				cfg := binpkg.DefaultConfig()
				w := binpkg.NewWriter(file, cfg)

				var pipeline *filter.Pipeline
				if fp != nil {
					var err error
					pipeline, err = filter.NewPipeline(fp)
					require.NoError(t, err)
				}

				cw := NewChunkWriter(w, []uint32{2, 2}, 2, pipeline, bumpAllocator(64))
				idx, err := cw.Write(raw, dims, g.maxDims)
				require.NoError(t, err)
				assert.Equal(t, g.index, idx.Type)

				layoutMsg := message.NewChunkedLayout([]uint32{2, 2}, 2, idx.Type)
				layoutMsg.ChunkIndexAddr = idx.Address
				layoutMsg.PageBits = idx.PageBits

				ds := message.NewDataspace(dims, g.maxDims)
				dt := message.NewFixedPointDatatype(2, true, message.OrderLE)
				reader := binpkg.NewReader(file, cfg)

				chunked, err := NewChunked(layoutMsg, ds, dt, fp, reader)
				require.NoError(t, err)
				got, err := chunked.Read()
				require.NoError(t, err)
				assert.Equal(t, raw, got)

				box, err := chunked.ReadSlice([]uint64{3, 1}, []uint64{2, 2})
				require.NoError(t, err)
				assert.Equal(t, append(append([]byte(nil), raw[20:24]...), raw[26:30]...), box)
			})
		}
	}
}

func TestIndexFor(t *testing.T) {
	assert.Equal(t, message.ChunkIndexFixedArray, IndexFor(nil))
	assert.Equal(t, message.ChunkIndexFixedArray, IndexFor([]uint64{4, 8}))
	assert.Equal(t, message.ChunkIndexExtensibleArray, IndexFor([]uint64{4, unlimited}))
	assert.Equal(t, message.ChunkIndexBTreeV2, IndexFor([]uint64{unlimited, 8, unlimited}))
}

func TestBoundedFixedArraySlotsFollowMaximumExtent(t *testing.T) {
	file := &memFile{}
	cfg := binpkg.DefaultConfig()
	cw := NewChunkWriter(binpkg.NewWriter(file, cfg), []uint32{1, 2}, 1, nil, bumpAllocator(64))
	idx, err := cw.Write(iota8(6), []uint64{2, 3}, []uint64{3, 6})
	require.NoError(t, err)

	lm := message.NewChunkedLayout([]uint32{1, 2}, 1, idx.Type)
	lm.ChunkIndexAddr = idx.Address
	c, err := NewChunked(lm, message.NewDataspace([]uint64{2, 3}, []uint64{3, 6}), byteType(), nil,
		binpkg.NewReader(file, cfg))
	require.NoError(t, err)

	entries, err := c.entries()
	require.NoError(t, err)
	var origins [][]uint64
	for _, e := range entries {
		origins = append(origins, e.Offset)
	}
	// A row of the maximum extent holds three chunks, two of them in use.
	assert.Equal(t, [][]uint64{{0, 0}, {0, 2}, {1, 0}, {1, 2}}, origins)

	got, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, iota8(6), got)
}
