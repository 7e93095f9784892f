// Package binary reads and writes the little-endian, variable-width fields
// of HDF5 metadata. Offsets (file addresses) and lengths have per-file
// widths recorded in the superblock.
package binary

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Config holds the field widths and byte order of one file.
type Config struct {
	ByteOrder  binary.ByteOrder
	OffsetSize int // 2, 4 or 8 bytes
	LengthSize int // 2, 4 or 8 bytes
}

// DefaultConfig is the layout assumed before the superblock is parsed:
// little-endian with 8-byte offsets and lengths.
func DefaultConfig() Config {
	return Config{ByteOrder: binary.LittleEndian, OffsetSize: 8, LengthSize: 8}
}

// cursor is the position and field layout shared by Reader and Writer.
type cursor struct {
	cfg Config
	pos int64
}

func (c *cursor) Pos() int64 { return c.pos }

// Skip advances the position by n bytes.
func (c *cursor) Skip(n int64) { c.pos += n }

// Align advances the position to the next multiple of alignment.
func (c *cursor) Align(alignment int64) {
	if alignment <= 1 {
		return
	}
	if rem := c.pos % alignment; rem != 0 {
		c.pos += alignment - rem
	}
}

func (c *cursor) OffsetSize() int             { return c.cfg.OffsetSize }
func (c *cursor) LengthSize() int             { return c.cfg.LengthSize }
func (c *cursor) ByteOrder() binary.ByteOrder { return c.cfg.ByteOrder }

// undefined is the all-ones value of a size-byte field.
func undefined(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*size) - 1
}

func (c *cursor) decode(buf []byte) uint64 {
	switch len(buf) {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(c.cfg.ByteOrder.Uint16(buf))
	case 4:
		return uint64(c.cfg.ByteOrder.Uint32(buf))
	case 8:
		return c.cfg.ByteOrder.Uint64(buf)
	}
	var v uint64
	for i := len(buf) - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v
}

func (c *cursor) encode(buf []byte, v uint64) {
	switch len(buf) {
	case 1:
		buf[0] = uint8(v)
	case 2:
		c.cfg.ByteOrder.PutUint16(buf, uint16(v))
	case 4:
		c.cfg.ByteOrder.PutUint32(buf, uint32(v))
	case 8:
		c.cfg.ByteOrder.PutUint64(buf, v)
	default:
		for i := range buf {
			buf[i] = byte(v >> (8 * i))
		}
	}
}

// Reader decodes fields from an io.ReaderAt, advancing its own position.
type Reader struct {
	cursor
	r io.ReaderAt
}

func NewReader(r io.ReaderAt, cfg Config) *Reader {
	return &Reader{cursor: cursor{cfg: cfg}, r: r}
}

// At returns a reader over the same source positioned at offset.
func (r *Reader) At(offset int64) *Reader {
	return &Reader{cursor: cursor{cfg: r.cfg, pos: offset}, r: r.r}
}

// Over returns a reader over data that shares r's field widths.
func (r *Reader) Over(data []byte) *Reader {
	return NewReader(bytes.NewReader(data), r.cfg)
}

// ReadBytes reads exactly n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	buf, err := r.Peek(n)
	if err != nil {
		return nil, err
	}
	r.pos += int64(len(buf))
	return buf, nil
}

// Peek reads n bytes without advancing.
func (r *Reader) Peek(n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := r.r.ReadAt(buf, r.pos); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadUintN reads an n-byte unsigned integer.
func (r *Reader) ReadUintN(n int) (uint64, error) {
	buf, err := r.ReadBytes(n)
	if err != nil {
		return 0, err
	}
	return r.decode(buf), nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	v, err := r.ReadUintN(1)
	return uint8(v), err
}

func (r *Reader) ReadUint16() (uint16, error) {
	v, err := r.ReadUintN(2)
	return uint16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	v, err := r.ReadUintN(4)
	return uint32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	return r.ReadUintN(8)
}

// ReadOffset reads a file address.
func (r *Reader) ReadOffset() (uint64, error) {
	return r.ReadUintN(r.cfg.OffsetSize)
}

// ReadLength reads a length field.
func (r *Reader) ReadLength() (uint64, error) {
	return r.ReadUintN(r.cfg.LengthSize)
}

// IsUndefinedOffset reports whether addr is the all-ones "no address" value.
func (r *Reader) IsUndefinedOffset(addr uint64) bool {
	return addr == undefined(r.cfg.OffsetSize)
}

// Writer encodes fields to an io.WriterAt, advancing its own position.
type Writer struct {
	cursor
	w io.WriterAt
}

func NewWriter(w io.WriterAt, cfg Config) *Writer {
	return &Writer{cursor: cursor{cfg: cfg}, w: w}
}

// At returns a writer over the same destination positioned at offset.
func (w *Writer) At(offset int64) *Writer {
	return &Writer{cursor: cursor{cfg: w.cfg, pos: offset}, w: w.w}
}

// Counter returns a writer with w's field widths that discards its output.
// Its position after writing is the number of bytes written.
func (w *Writer) Counter() *Writer {
	return NewWriter(discard{}, w.cfg)
}

// Buffer returns a writer with w's field widths that encodes into memory.
func (w *Writer) Buffer() (*Writer, *Buf) {
	b := &Buf{}
	return NewWriter(b, w.cfg), b
}

type discard struct{}

func (discard) WriteAt(p []byte, _ int64) (int, error) { return len(p), nil }

// Buf is a growable in-memory io.WriterAt.
type Buf struct {
	b []byte
}

func (b *Buf) WriteAt(p []byte, off int64) (int, error) {
	if end := int(off) + len(p); end > len(b.b) {
		b.b = append(b.b, make([]byte, end-len(b.b))...)
	}
	return copy(b.b[off:], p), nil
}

// Bytes returns the bytes written so far.
func (b *Buf) Bytes() []byte { return b.b }

func (w *Writer) WriteBytes(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	n, err := w.w.WriteAt(data, w.pos)
	w.pos += int64(n)
	return err
}

// WriteZeros writes n zero bytes.
func (w *Writer) WriteZeros(n int) error {
	if n <= 0 {
		return nil
	}
	return w.WriteBytes(make([]byte, n))
}

// WriteUintN writes v as an n-byte unsigned integer.
func (w *Writer) WriteUintN(v uint64, n int) error {
	buf := make([]byte, n)
	w.encode(buf, v)
	return w.WriteBytes(buf)
}

func (w *Writer) WriteUint8(v uint8) error   { return w.WriteUintN(uint64(v), 1) }
func (w *Writer) WriteUint16(v uint16) error { return w.WriteUintN(uint64(v), 2) }
func (w *Writer) WriteUint32(v uint32) error { return w.WriteUintN(uint64(v), 4) }
func (w *Writer) WriteUint64(v uint64) error { return w.WriteUintN(v, 8) }

// WriteOffset writes a file address.
func (w *Writer) WriteOffset(v uint64) error {
	return w.WriteUintN(v, w.cfg.OffsetSize)
}

// WriteLength writes a length field.
func (w *Writer) WriteLength(v uint64) error {
	return w.WriteUintN(v, w.cfg.LengthSize)
}

// UndefinedOffset returns the all-ones "no address" value.
func (w *Writer) UndefinedOffset() uint64 {
	return undefined(w.cfg.OffsetSize)
}

// Width returns the smallest of 1, 2, 4 or 8 bytes that holds v.
func Width(v uint64) int {
	switch {
	case v <= 0xFF:
		return 1
	case v <= 0xFFFF:
		return 2
	case v <= 0xFFFFFFFF:
		return 4
	}
	return 8
}
