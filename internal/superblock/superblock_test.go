package superblock

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	binpkg "github.com/robert-malhotra/go-nexus/internal/binary"
)

func le(v uint64, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func TestWriteRead(t *testing.T) {
	for _, version := range []uint8{2, 3} {
		sb := New(version, 8, 8)
		sb.FileConsistencyFlags = FlagWriteAccess
		sb.RootGroupAddress = 48
		sb.EOFAddress = 4096

		buf := &binpkg.Buf{}
		require.NoError(t, sb.Write(binpkg.NewWriter(buf, sb.Config())))
		assert.Len(t, buf.Bytes(), sb.Size())

		got, err := Read(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, version, got.Version)
		assert.Equal(t, FlagWriteAccess, got.FileConsistencyFlags)
		assert.Equal(t, uint64(48), got.RootGroupAddress)
		assert.Equal(t, uint64(4096), got.EOFAddress)
		assert.Equal(t, ^uint64(0), got.ExtensionAddress)
		assert.Equal(t, version >= 3, got.SupportsSWMR())
	}
}

func TestFourByteOffsets(t *testing.T) {
	sb := New(2, 4, 4)
	sb.RootGroupAddress = 40
	buf := &binpkg.Buf{}
	require.NoError(t, sb.Write(binpkg.NewWriter(buf, sb.Config())))
	assert.Len(t, buf.Bytes(), 8+4+16+4)

	got, err := Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, uint8(4), got.OffsetSize)
	assert.Equal(t, uint64(40), got.RootGroupAddress)
	assert.Equal(t, uint64(0xFFFFFFFF), got.ExtensionAddress)
}

func TestChecksumMismatch(t *testing.T) {
	sb := New(3, 8, 8)
	buf := &binpkg.Buf{}
	require.NoError(t, sb.Write(binpkg.NewWriter(buf, sb.Config())))
	b := buf.Bytes()
	b[len(b)-5] ^= 0x01

	_, err := Read(bytes.NewReader(b))
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestAfterUserBlock(t *testing.T) {
	sb := New(2, 8, 8)
	buf := &binpkg.Buf{}
	require.NoError(t, sb.Write(binpkg.NewWriter(buf, sb.Config()).At(1024)))

	got, err := Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, int64(1024), got.FileOffset)
}

func TestVersion0(t *testing.T) {
	head := []byte{0, 0, 0, 0, 0, 8, 8, 0}
	head = append(head, le(4, 2)...)  // group leaf K
	head = append(head, le(16, 2)...) // group internal K
	head = append(head, le(0, 4)...)  // flags
	// Base, free space, EOF and driver addresses, then the root entry with
	// a cached symbol table.
	entry := bytes.Join([][]byte{
		le(0, 8), le(^uint64(0), 8), le(2048, 8), le(^uint64(0), 8),
		le(0, 8), le(96, 8),
		le(1, 4), le(0, 4), le(136, 8), le(680, 8),
	}, nil)
	b := bytes.Join([][]byte{Signature, head, entry}, nil)

	got, err := Read(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, uint8(0), got.Version)
	assert.Equal(t, uint64(2048), got.EOFAddress)
	assert.Equal(t, uint64(96), got.RootGroupAddress)
	assert.Equal(t, uint64(136), got.RootGroupBTreeAddress)
	assert.Equal(t, uint64(680), got.RootGroupLocalHeapAddress)
	assert.False(t, got.SupportsSWMR())
}

func TestNotHDF5(t *testing.T) {
	_, err := Read(bytes.NewReader(make([]byte, 4096)))
	assert.ErrorIs(t, err, ErrNotHDF5)

	b := append(append([]byte{}, Signature...), 9)
	_, err = Read(bytes.NewReader(append(b, make([]byte, 64)...)))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}
