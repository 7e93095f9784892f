package object

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	binpkg "github.com/robert-malhotra/go-nexus/internal/binary"
	"github.com/robert-malhotra/go-nexus/internal/message"
)

type mem struct{ b []byte }

func (m *mem) WriteAt(p []byte, off int64) (int, error) {
	if end := int(off) + len(p); end > len(m.b) {
		m.b = append(m.b, make([]byte, end-len(m.b))...)
	}
	return copy(m.b[off:], p), nil
}

func (m *mem) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.b)) {
		return 0, io.EOF
	}
	n := copy(p, m.b[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

// raw is a message written as given bytes.
type raw struct {
	typ message.Type
	b   []byte
}

func (m raw) Type() message.Type            { return m.typ }
func (m raw) Encode(w *binpkg.Writer) error { return w.WriteBytes(m.b) }

var cfg = binpkg.DefaultConfig()

func le(v uint64, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func encodeMsg(t *testing.T, m message.Encoder) []byte {
	t.Helper()
	buf := &binpkg.Buf{}
	require.NoError(t, m.Encode(binpkg.NewWriter(buf, cfg)))
	return buf.Bytes()
}

// place encodes a header and writes it at addr.
func place(t *testing.T, f *mem, addr int64, msgs []message.Message, minChunk int) []byte {
	t.Helper()
	w := binpkg.NewWriter(f, cfg)
	b, err := Encode(w, msgs, minChunk)
	require.NoError(t, err)
	require.NoError(t, w.At(addr).WriteBytes(b))
	return b
}

func TestDatasetHeaderRoundtrip(t *testing.T) {
	f := &mem{}
	attr := message.NewAttribute("units", message.NewVarLenStringDatatype(message.CharsetUTF8),
		message.NewScalarDataspace(), make([]byte, 16))
	place(t, f, 48, []message.Message{
		message.NewDataspace([]uint64{10, 3}, nil),
		message.NewFloatDatatype(8, message.OrderLE),
		message.NewContiguousLayout(0x400, 240),
		attr,
	}, 0)

	h, err := Read(binpkg.NewReader(f, cfg), 48)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), h.Version)
	assert.Equal(t, uint64(48), h.Address)
	assert.Len(t, h.Messages, 4)
	assert.Equal(t, []uint64{10, 3}, h.Dataspace().Dimensions)
	assert.Equal(t, message.ClassFloatPoint, h.Datatype().Class)
	assert.Equal(t, uint64(0x400), h.DataLayout().Address)
	assert.Nil(t, h.FilterPipeline())
	require.Len(t, h.All(message.TypeAttribute), 1)
	assert.Equal(t, "units", h.All(message.TypeAttribute)[0].(*message.Attribute).Name)
}

func TestGroupHeaderPadding(t *testing.T) {
	f := &mem{}
	b := place(t, f, 0, []message.Message{message.NewLinkInfo(), message.NewGroupInfo()}, MinGroupChunkSize)
	assert.Equal(t, byte(0), b[5], "one-byte chunk size")
	assert.Equal(t, byte(MinGroupChunkSize), b[6])
	assert.Len(t, b, 7+MinGroupChunkSize+4)

	h, err := Read(binpkg.NewReader(f, cfg), 0)
	require.NoError(t, err)
	assert.Len(t, h.Messages, 2, "NIL padding is dropped")
	assert.NotNil(t, h.First(message.TypeGroupInfo))
}

func TestGapShorterThanMessagePrefix(t *testing.T) {
	f := &mem{}
	b := place(t, f, 0, []message.Message{message.NewGroupInfo()}, 8)
	assert.Len(t, b, 7+8+4)

	h, err := Read(binpkg.NewReader(f, cfg), 0)
	require.NoError(t, err)
	assert.Len(t, h.Messages, 1)
}

func TestChecksumMismatch(t *testing.T) {
	f := &mem{}
	b := place(t, f, 0, []message.Message{message.NewDataspace([]uint64{4}, nil)}, 0)
	f.b[len(b)-6] ^= 0xFF

	_, err := Read(binpkg.NewReader(f, cfg), 0)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestMessageTooLarge(t *testing.T) {
	attr := message.NewAttribute("big", message.NewFixedPointDatatype(1, false, message.OrderLE),
		message.NewDataspace([]uint64{70000}, nil), make([]byte, 70000))
	_, err := Encode(binpkg.NewWriter(&mem{}, cfg), []message.Message{attr}, 0)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestContinuationBlocks(t *testing.T) {
	link := encodeMsg(t, message.NewHardLink("detector", 0x99))
	block := bytes.Join([][]byte{[]byte("OCHK"), {byte(message.TypeLink)}, le(uint64(len(link)), 2), {0}, link}, nil)
	block = append(block, le(uint64(binpkg.Lookup3Checksum(block)), 4)...)

	f := &mem{}
	require.NoError(t, binpkg.NewWriter(f, cfg).At(512).WriteBytes(block))
	cont := raw{message.TypeObjectHeaderContinuation, append(le(512, 8), le(uint64(len(block)), 8)...)}
	place(t, f, 0, []message.Message{message.NewGroupInfo(), cont}, 0)

	h, err := Read(binpkg.NewReader(f, cfg), 0)
	require.NoError(t, err)
	require.Len(t, h.Messages, 2)
	assert.Equal(t, "detector", h.All(message.TypeLink)[0].(*message.Link).Name)

	// A continuation that points back at its own block never ends.
	loop := bytes.Join([][]byte{[]byte("OCHK"), {byte(message.TypeObjectHeaderContinuation)}, le(16, 2), {0},
		le(1024, 8), le(4+4+16+4, 8)}, nil)
	loop = append(loop, le(uint64(binpkg.Lookup3Checksum(loop)), 4)...)
	require.NoError(t, binpkg.NewWriter(f, cfg).At(1024).WriteBytes(loop))
	place(t, f, 2048, []message.Message{raw{message.TypeObjectHeaderContinuation, append(le(1024, 8), le(uint64(len(loop)), 8)...)}}, 0)

	_, err = Read(binpkg.NewReader(f, cfg), 2048)
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestReadVersion1(t *testing.T) {
	space := encodeMsg(t, message.NewScalarDataspace())
	link := encodeMsg(t, message.NewHardLink("x", 0x99))
	pad := func(b []byte) []byte { return append(b, make([]byte, (len(b)+7)&^7-len(b))...) }
	msg := func(typ message.Type, body []byte) []byte {
		body = pad(body)
		return bytes.Join([][]byte{le(uint64(typ), 2), le(uint64(len(body)), 2), {0, 0, 0, 0}, body}, nil)
	}

	contBlock := msg(message.TypeLink, link)
	messages := append(msg(message.TypeDataspace, space),
		msg(message.TypeObjectHeaderContinuation, append(le(256, 8), le(uint64(len(contBlock)), 8)...))...)
	head := bytes.Join([][]byte{{1, 0}, le(3, 2), le(1, 4), le(uint64(len(messages)), 4), {0, 0, 0, 0}}, nil)

	f := &mem{}
	w := binpkg.NewWriter(f, cfg)
	require.NoError(t, w.At(64).WriteBytes(append(head, messages...)))
	require.NoError(t, w.At(256).WriteBytes(contBlock))

	h, err := Read(binpkg.NewReader(f, cfg), 64)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), h.Version)
	require.Len(t, h.Messages, 2)
	assert.True(t, h.Dataspace().IsScalar())
	assert.Equal(t, uint64(0x99), h.First(message.TypeLink).(*message.Link).ObjectAddress)
}

func TestReadRejectsGarbage(t *testing.T) {
	f := &mem{b: make([]byte, 32)}
	_, err := Read(binpkg.NewReader(f, cfg), 0)
	assert.ErrorIs(t, err, ErrInvalidHeader)
}
