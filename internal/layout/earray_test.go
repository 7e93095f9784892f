package layout

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	binpkg "github.com/robert-malhotra/go-nexus/internal/binary"
	"github.com/robert-malhotra/go-nexus/internal/btree"
	"github.com/robert-malhotra/go-nexus/internal/message"
)

const noAddr = ^uint64(0)

// block appends little-endian fields to a signature.
func block(sig string, fields ...any) []byte {
	buf := bytes.NewBufferString(sig)
	for _, f := range fields {
		_ = binary.Write(buf, binary.LittleEndian, f)
	}
	return buf.Bytes()
}

func checksummed(b []byte) []byte {
	return binary.LittleEndian.AppendUint32(b, binpkg.Lookup3Checksum(b))
}

func origins(entries []btree.ChunkEntry) [][]uint64 {
	var out [][]uint64
	for _, e := range entries {
		out = append(out, e.Offset)
	}
	return out
}

func TestExtensibleArrayIndexBlocks(t *testing.T) {
	file := &memFile{}
	w := func(addr int64, b []byte) {
		_, err := file.WriteAt(b, addr)
		require.NoError(t, err)
	}

	// Header at 100, index block at 200 and the first data block at 600.
	w(100, checksummed(block("EAHD", uint8(0), uint8(0), uint8(8), uint8(32), uint8(4), uint8(16), uint8(4), uint8(10),
		uint64(0), uint64(0), uint64(1), uint64(158), uint64(7), uint64(20), uint64(200))))

	iblock := block("EAIB", uint8(0), uint8(0), uint64(100), noAddr, uint64(0x1000), noAddr, noAddr, uint64(600))
	for range 5 + 25 {
		iblock = append(iblock, block("", noAddr)...)
	}
	w(200, checksummed(iblock))

	dblock := block("EADB", uint8(0), uint8(0), uint64(100), uint32(0))
	for i := range 16 {
		addr := noAddr
		if i == 2 {
			addr = 0x2000
		}
		dblock = append(dblock, block("", addr)...)
	}
	w(600, checksummed(dblock))

	// Rows grow without bound; two chunks span a row, so array index 1 is
	// the second chunk of row 0 and index 6 the first chunk of row 3.
	lm := message.NewChunkedLayout([]uint32{1, 2}, 1, message.ChunkIndexExtensibleArray)
	lm.ChunkIndexAddr = 100
	c, err := NewChunked(lm, message.NewDataspace([]uint64{5, 4}, []uint64{unlimited, 4}), byteType(), nil,
		binpkg.NewReader(file, binpkg.DefaultConfig()))
	require.NoError(t, err)

	entries, err := c.entries()
	require.NoError(t, err)
	assert.Equal(t, [][]uint64{{0, 2}, {3, 0}}, origins(entries))
	assert.Equal(t, uint64(0x1000), entries[0].Address)
	assert.Equal(t, uint64(0x2000), entries[1].Address)

	file.buf[610] ^= 0xFF
	_, err = c.entries()
	assert.ErrorContains(t, err, "checksum")
}

func TestExtensibleArraySuperBlocksAndPages(t *testing.T) {
	file := &memFile{}
	cfg := binpkg.DefaultConfig()
	cw := NewChunkWriter(binpkg.NewWriter(file, cfg), []uint32{1}, 1, nil, bumpAllocator(64))

	// Sixteen element pages split every data block after the first; index
	// 1000 lands in the sixth super block, past those the index block
	// lists directly.
	p := message.DefaultEArrayParams
	p.PageBits = 4
	want := []uint64{0, 3, 4, 19, 20, 70, 239, 240, 300, 303, 1000}
	var elems []arrayElement
	for _, i := range want {
		elems = append(elems, arrayElement{index: i, entry: btree.ChunkEntry{Address: 0x100000 + i}})
	}
	addr, err := cw.WriteExtensibleArrayIndex(elems, p)
	require.NoError(t, err)

	lm := message.NewChunkedLayout([]uint32{1}, 1, message.ChunkIndexExtensibleArray)
	lm.EArray = p
	lm.ChunkIndexAddr = addr
	c, err := NewChunked(lm, message.NewDataspace([]uint64{1001}, []uint64{unlimited}), byteType(), nil,
		binpkg.NewReader(file, cfg))
	require.NoError(t, err)

	entries, err := c.entries()
	require.NoError(t, err)
	var got []uint64
	for _, e := range entries {
		assert.Equal(t, 0x100000+e.Offset[0], e.Address)
		got = append(got, e.Offset[0])
	}
	assert.Equal(t, want, got)

	a, err := newEArray(p, 8, 8)
	require.NoError(t, err)
	s, j, slot := a.locate(1000)
	assert.Equal(t, 5, s)
	assert.Equal(t, uint64(3), j)
	assert.Equal(t, uint64(116), slot)
	assert.Equal(t, uint64(8), a.pages(s))
}

func TestExtensibleArrayNeedsOneUnlimitedDimension(t *testing.T) {
	file := &memFile{}
	cfg := binpkg.DefaultConfig()
	cw := NewChunkWriter(binpkg.NewWriter(file, cfg), []uint32{2}, 1, nil, bumpAllocator(64))
	idx, err := cw.Write(iota8(4), []uint64{4}, []uint64{unlimited})
	require.NoError(t, err)

	lm := message.NewChunkedLayout([]uint32{2}, 1, idx.Type)
	lm.ChunkIndexAddr = idx.Address
	c, err := NewChunked(lm, message.NewDataspace([]uint64{4}, nil), byteType(), nil, binpkg.NewReader(file, cfg))
	require.NoError(t, err)
	_, err = c.Read()
	assert.ErrorContains(t, err, "without an unlimited dimension")
}

func TestPagedFixedArray(t *testing.T) {
	file := &memFile{}
	w := func(addr int64, b []byte) {
		_, err := file.WriteAt(b, addr)
		require.NoError(t, err)
	}

	// Five entries in two-entry pages; the middle page was never written.
	w(100, block("FAHD", uint8(0), uint8(0), uint8(8), uint8(1), uint64(5), uint64(200)))
	w(200, checksummed(block("FADB", uint8(0), uint8(0), uint64(100), uint8(0b1010_0000))))
	w(219, checksummed(block("", uint64(0x500), noAddr)))
	w(239, []byte("never written"))
	w(259, checksummed(block("", uint64(0x900))))

	lm := message.NewChunkedLayout([]uint32{1}, 1, message.ChunkIndexFixedArray)
	lm.ChunkIndexAddr = 100
	c, err := NewChunked(lm, message.NewDataspace([]uint64{5}, nil), byteType(), nil,
		binpkg.NewReader(file, binpkg.DefaultConfig()))
	require.NoError(t, err)

	entries, err := c.entries()
	require.NoError(t, err)
	assert.Equal(t, [][]uint64{{0}, {4}}, origins(entries))
	assert.Equal(t, uint64(0x900), entries[1].Address)
}
