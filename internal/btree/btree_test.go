package btree

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	binpkg "github.com/robert-malhotra/go-nexus/internal/binary"
	"github.com/robert-malhotra/go-nexus/internal/heap"
)

const undefined = ^uint64(0)

type image []byte

func (m image) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m)) {
		return 0, io.EOF
	}
	n := copy(p, m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// place writes b at off, growing the image.
func (m *image) place(off int, b []byte) {
	if end := off + len(b); end > len(*m) {
		*m = append(*m, make([]byte, end-len(*m))...)
	}
	copy((*m)[off:], b)
}

func le(vals ...any) []byte {
	var buf bytes.Buffer
	for _, v := range vals {
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}
	return buf.Bytes()
}

func nodeHeader(kind, level uint8, entries uint16) []byte {
	return append([]byte("TREE"), le(kind, level, entries, undefined, undefined)...)
}

func reader(m image) *binpkg.Reader {
	return binpkg.NewReader(m, binpkg.Config{ByteOrder: binary.LittleEndian, OffsetSize: 8, LengthSize: 8})
}

func TestReadChunkIndex(t *testing.T) {
	var m image
	// Rank 1 leaf: chunks at 0 and 4, one unallocated chunk at 8.
	leaf := nodeHeader(chunkNode, 0, 3)
	leaf = append(leaf, le(uint32(16), uint32(0), uint64(0), uint64(0), uint64(512))...)
	leaf = append(leaf, le(uint32(12), uint32(2), uint64(4), uint64(0), uint64(600))...)
	leaf = append(leaf, le(uint32(16), uint32(0), uint64(8), uint64(0), undefined)...)
	leaf = append(leaf, le(uint32(0), uint32(0), uint64(12), uint64(0))...)
	m.place(100, leaf)

	root := nodeHeader(chunkNode, 1, 1)
	root = append(root, le(uint32(0), uint32(0), uint64(0), uint64(0), uint64(100))...)
	root = append(root, le(uint32(0), uint32(0), uint64(12), uint64(0))...)
	m.place(300, root)

	entries, err := ReadChunkIndex(reader(m), 300, 1)
	require.NoError(t, err)
	assert.Equal(t, []ChunkEntry{
		{Offset: []uint64{0}, Size: 16, Address: 512},
		{Offset: []uint64{4}, Size: 12, FilterMask: 2, Address: 600},
	}, entries)

	_, err = ReadChunkIndex(reader(m), 0, 1)
	assert.ErrorContains(t, err, "bad signature")
}

func TestReadChunkIndexRejectsGroupNode(t *testing.T) {
	var m image
	m.place(0, nodeHeader(groupNode, 0, 0))
	_, err := ReadChunkIndex(reader(m), 0, 2)
	assert.ErrorContains(t, err, "type 0, want 1")
}

func TestReadGroupEntries(t *testing.T) {
	var m image
	names := []byte("\x00entry\x00shortcut\x00/entry/data\x00")
	m.place(0, append([]byte("HEAP"), le([3]byte{}, uint8(0), uint64(len(names)), uint64(0), uint64(64))...))
	m.place(64, names)

	tree := nodeHeader(groupNode, 0, 1)
	tree = append(tree, le(uint64(0), uint64(200), uint64(0))...)
	m.place(128, tree)

	snod := append([]byte("SNOD"), le(uint8(1), uint8(0), uint16(2))...)
	snod = append(snod, le(uint64(1), uint64(800), uint32(1), uint32(0), [16]byte{})...)
	var scratch [16]byte
	binary.LittleEndian.PutUint32(scratch[:], 16)
	snod = append(snod, le(uint64(7), undefined, uint32(2), uint32(0), scratch)...)
	m.place(200, snod)

	r := reader(m)
	lh, err := heap.ReadLocalHeap(r, 0)
	require.NoError(t, err)
	entries, err := ReadGroupEntries(r, 128, lh)
	require.NoError(t, err)
	assert.Equal(t, []GroupEntry{
		{Name: "entry", ObjectAddress: 800},
		{Name: "shortcut", Soft: true, Target: "/entry/data"},
	}, entries)
}
