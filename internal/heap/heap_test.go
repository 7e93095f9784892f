package heap

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	binpkg "github.com/robert-malhotra/go-nexus/internal/binary"
)

type memFile struct{ buf []byte }

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	if end := int(off) + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
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

var cfg = binpkg.Config{ByteOrder: binary.LittleEndian, OffsetSize: 8, LengthSize: 8}

func TestWriteStringsRoundtrip(t *testing.T) {
	f := &memFile{}
	next := uint64(48)
	alloc := func(n int64) uint64 {
		addr := next
		next += uint64(n)
		return addr
	}

	strs := []string{"NXentry", "", "counts per second"}
	ids, err := WriteStrings(binpkg.NewWriter(f, cfg), alloc, strs)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, ID{Collection: 48, Index: 1}, ids[0])
	assert.Zero(t, (next-48)%8, "collections are 8-byte aligned")

	c, err := ReadCollection(binpkg.NewReader(f, cfg), 48)
	require.NoError(t, err)
	for i, id := range ids {
		s, err := c.String(id.Index)
		require.NoError(t, err)
		assert.Equal(t, strs[i], s)
	}
	_, err = c.String(9)
	assert.ErrorContains(t, err, "not found")

	_, err = ReadCollection(binpkg.NewReader(f, cfg), 0)
	assert.Error(t, err)
	_, err = ReadCollection(binpkg.NewReader(f, cfg), 49)
	assert.ErrorContains(t, err, "bad signature")

	none, err := WriteStrings(binpkg.NewWriter(f, cfg), alloc, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIDEncoding(t *testing.T) {
	b := make([]byte, IDSize(4))
	ID{Collection: 0x01020304, Index: 7}.Put(b, 4)
	assert.Equal(t, []byte{4, 3, 2, 1, 7, 0, 0, 0}, b)

	id, err := ParseID(b, 4)
	require.NoError(t, err)
	assert.Equal(t, ID{Collection: 0x01020304, Index: 7}, id)

	_, err = ParseID(b[:5], 4)
	assert.Error(t, err)
}

func TestReadLocalHeap(t *testing.T) {
	f := &memFile{}
	data := []byte("\x00entry\x00data\x00")
	head := make([]byte, 32)
	copy(head, "HEAP")
	binary.LittleEndian.PutUint64(head[8:], uint64(len(data)))
	binary.LittleEndian.PutUint64(head[16:], 1)
	binary.LittleEndian.PutUint64(head[24:], 100)
	_, _ = f.WriteAt(head, 16)
	_, _ = f.WriteAt(data, 100)

	h, err := ReadLocalHeap(binpkg.NewReader(f, cfg), 16)
	require.NoError(t, err)
	assert.Equal(t, "", h.GetString(0))
	assert.Equal(t, "entry", h.GetString(1))
	assert.Equal(t, "data", h.GetString(7))
	assert.Equal(t, "", h.GetString(99))

	_, err = ReadLocalHeap(binpkg.NewReader(f, cfg), 100)
	assert.ErrorContains(t, err, "bad signature")
}
