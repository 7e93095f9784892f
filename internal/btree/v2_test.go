package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	binpkg "github.com/robert-malhotra/go-nexus/internal/binary"
	"github.com/robert-malhotra/go-nexus/internal/message"
)

func (m *image) WriteAt(p []byte, off int64) (int, error) {
	m.place(int(off), p)
	return len(p), nil
}

func withChecksum(b []byte) []byte {
	return append(b, le(binpkg.Lookup3Checksum(b))...)
}

func TestReadChunkIndexV2Leaf(t *testing.T) {
	var m image
	// Filtered rank 2 records: address, 2 byte size, filter mask, then the
	// chunk coordinates in chunk units.
	leaf := append([]byte("BTLF"), 0, recordFilteredChunk)
	leaf = append(leaf, le(uint64(0x400), uint16(90), uint32(0), uint64(0), uint64(1))...)
	leaf = append(leaf, le(uint64(0x500), uint16(70), uint32(1), uint64(2), uint64(0))...)
	m.place(200, withChecksum(leaf))

	head := append([]byte("BTHD"), 0, recordFilteredChunk)
	head = append(head, le(uint32(512), uint16(30), uint16(0), uint8(100), uint8(40),
		uint64(200), uint16(2), uint64(2))...)
	m.place(100, withChecksum(head))

	entries, err := ReadChunkIndexV2(reader(m), 100, []uint64{4, 8})
	require.NoError(t, err)
	assert.Equal(t, []ChunkEntry{
		{Offset: []uint64{0, 8}, Size: 90, Address: 0x400},
		{Offset: []uint64{8, 0}, Size: 70, FilterMask: 1, Address: 0x500},
	}, entries)

	_, err = ReadChunkIndexV2(reader(m), 100, []uint64{4})
	assert.ErrorContains(t, err, "do not fit")

	m[210] ^= 0xFF
	_, err = ReadChunkIndexV2(reader(m), 100, []uint64{4, 8})
	assert.ErrorContains(t, err, "checksum")
}

func TestReadChunkIndexV2Empty(t *testing.T) {
	var m image
	head := append([]byte("BTHD"), 0, recordChunk)
	head = append(head, le(uint32(512), uint16(16), uint16(0), uint8(100), uint8(40),
		undefined, uint16(0), uint64(0))...)
	m.place(64, withChecksum(head))

	entries, err := ReadChunkIndexV2(reader(m), 64, []uint64{10})
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = ReadChunkIndexV2(reader(m), 0, []uint64{10})
	assert.ErrorContains(t, err, "bad signature")
}

func TestChunkIndexV2Roundtrip(t *testing.T) {
	chunk := []uint64{2, 3}
	entries := func(n int, filtered bool) []ChunkEntry {
		out := make([]ChunkEntry, n)
		for i := range out {
			out[i] = ChunkEntry{Offset: []uint64{uint64(i/4) * 2, uint64(i%4) * 3}, Address: uint64(0x10000 + 64*i)}
			if filtered {
				out[i].Size, out[i].FilterMask = uint32(20+i), uint32(i%2)
			}
		}
		return out
	}
	tests := []struct {
		name     string
		n        int
		sizeLen  int
		nodeSize uint32
	}{
		{"single leaf", 5, 0, 2048},
		{"filtered leaf", 7, 2, 2048},
		// 64 byte nodes hold two records per leaf and one per internal
		// node, so forty records need a tree of depth four.
		{"deep tree", 40, 0, 64},
		{"deep filtered tree", 17, 1, 80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m image
			next := uint64(64)
			alloc := func(size int64) uint64 {
				addr := next
				next += uint64(size)
				return addr
			}
			w := binpkg.NewWriter(&m, binpkg.DefaultConfig())
			want := entries(tt.n, tt.sizeLen > 0)
			p := message.DefaultBTreeV2Params
			p.NodeSize = tt.nodeSize

			addr, err := WriteChunkIndexV2(w, alloc, want, chunk, tt.sizeLen, p)
			require.NoError(t, err)
			got, err := ReadChunkIndexV2(reader(m), addr, chunk)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	var m image
	w := binpkg.NewWriter(&m, binpkg.DefaultConfig())
	addr, err := WriteChunkIndexV2(w, func(int64) uint64 { return 0 }, nil, chunk, 0, message.DefaultBTreeV2Params)
	require.NoError(t, err)
	got, err := ReadChunkIndexV2(reader(m), addr, chunk)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestV2ShapeLevels(t *testing.T) {
	s, err := newV2Shape(64, 16, 8)
	require.NoError(t, err)
	want := []v2Level{
		{maxRecords: 3, cumRecords: 3},
		{maxRecords: 1, cumRecords: 7, cumSize: 1},
		{maxRecords: 1, cumRecords: 15, cumSize: 1},
	}
	lvl, err := s.level(2)
	require.NoError(t, err)
	assert.Equal(t, want[2], lvl)
	assert.Equal(t, want, s.levels)
	assert.Equal(t, 9, s.pointerSize(1))
	assert.Equal(t, 10, s.pointerSize(2))

	_, err = newV2Shape(20, 16, 8)
	assert.ErrorContains(t, err, "cannot hold")
}
