package binary

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type buffer struct{ b []byte }

func (m *buffer) WriteAt(p []byte, off int64) (int, error) {
	if end := int(off) + len(p); end > len(m.b) {
		m.b = append(m.b, make([]byte, end-len(m.b))...)
	}
	return copy(m.b[off:], p), nil
}

func (m *buffer) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.b)) {
		return 0, io.EOF
	}
	n := copy(p, m.b[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func TestFieldsRoundtrip(t *testing.T) {
	for _, size := range []int{4, 8} {
		cfg := DefaultConfig()
		cfg.OffsetSize, cfg.LengthSize = size, size
		buf := &buffer{}

		w := NewWriter(buf, cfg)
		require.NoError(t, w.WriteUint8(0xAB))
		require.NoError(t, w.WriteUint16(0x1234))
		require.NoError(t, w.WriteUintN(0x0A0B0C, 3))
		require.NoError(t, w.WriteOffset(0x1000))
		require.NoError(t, w.WriteLength(42))
		require.NoError(t, w.WriteUint64(1<<40))
		assert.Equal(t, int64(1+2+3+2*size+8), w.Pos())

		r := NewReader(buf, cfg)
		u8, err := r.ReadUint8()
		require.NoError(t, err)
		assert.Equal(t, uint8(0xAB), u8)
		u16, err := r.ReadUint16()
		require.NoError(t, err)
		assert.Equal(t, uint16(0x1234), u16)
		u24, err := r.ReadUintN(3)
		require.NoError(t, err)
		assert.Equal(t, uint64(0x0A0B0C), u24)
		off, err := r.ReadOffset()
		require.NoError(t, err)
		assert.Equal(t, uint64(0x1000), off)
		n, err := r.ReadLength()
		require.NoError(t, err)
		assert.Equal(t, uint64(42), n)
		u64, err := r.ReadUint64()
		require.NoError(t, err)
		assert.Equal(t, uint64(1<<40), u64)

		assert.Equal(t, []byte{0x0C, 0x0B, 0x0A}, buf.b[3:6], "3-byte fields are little-endian")
	}
}

func TestUndefinedOffset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OffsetSize = 4
	w := NewWriter(&buffer{}, cfg)
	assert.Equal(t, uint64(0xFFFFFFFF), w.UndefinedOffset())

	r := NewReader(&buffer{}, cfg)
	assert.True(t, r.IsUndefinedOffset(0xFFFFFFFF))
	assert.False(t, r.IsUndefinedOffset(0xFFFFFFFE))

	r = NewReader(&buffer{}, DefaultConfig())
	assert.True(t, r.IsUndefinedOffset(^uint64(0)))
}

func TestCursorMovement(t *testing.T) {
	buf := &buffer{}
	w := NewWriter(buf, DefaultConfig())
	require.NoError(t, w.WriteBytes([]byte("GCOL")))
	require.NoError(t, w.WriteZeros(4))
	assert.Equal(t, []byte{'G', 'C', 'O', 'L', 0, 0, 0, 0}, buf.b)

	r := NewReader(buf, DefaultConfig())
	r.Skip(3)
	assert.Equal(t, int64(3), r.Pos())
	r.Align(8)
	assert.Equal(t, int64(8), r.Pos())
	r.Align(8)
	assert.Equal(t, int64(8), r.Pos())

	peek, err := r.At(0).Peek(4)
	require.NoError(t, err)
	assert.Equal(t, "GCOL", string(peek))
	assert.Equal(t, int64(8), r.Pos(), "At does not move the original reader")

	_, err = r.ReadBytes(1)
	assert.Error(t, err)
}

func TestLookup3Checksum(t *testing.T) {
	assert.Equal(t, uint32(0xdeadbeef), Lookup3Checksum(nil))
	assert.Equal(t, uint32(0x17770551), Lookup3Checksum([]byte("Four score and seven years ago")))

	twelve := make([]byte, 12)
	for i := range twelve {
		twelve[i] = byte(i)
	}
	assert.Equal(t, uint32(0x5e4aa593), Lookup3Checksum(twelve))
	assert.Equal(t, uint32(0xbc9d6816), Lookup3Checksum(append(twelve, 12)))
}

func TestFletcher32(t *testing.T) {
	assert.Equal(t, uint32(0x56502d2a), Fletcher32([]byte("abcdef")))
	assert.Equal(t, uint32(0xf04fc729), Fletcher32([]byte("abcde")))
}
