// Package message decodes and encodes the header messages stored in object
// headers: dataspaces, datatypes, storage layouts, filter pipelines, links
// and attributes. Message types it does not model are carried as Unknown.
package message

import (
	"fmt"

	"github.com/robert-malhotra/go-nexus/internal/binary"
)

// Type is a header message type number.
type Type uint16

const (
	TypeNIL                      Type = 0x00
	TypeDataspace                Type = 0x01
	TypeLinkInfo                 Type = 0x02
	TypeDatatype                 Type = 0x03
	TypeLink                     Type = 0x06
	TypeDataLayout               Type = 0x08
	TypeGroupInfo                Type = 0x0A
	TypeFilterPipeline           Type = 0x0B
	TypeAttribute                Type = 0x0C
	TypeObjectHeaderContinuation Type = 0x10
	TypeSymbolTable              Type = 0x11
)

type Message interface {
	Type() Type
}

// Encoder is a message that can be written into a new object header.
type Encoder interface {
	Message
	Encode(w *binary.Writer) error
}

// Size returns the number of bytes m encodes to with w's field widths.
func Size(m Encoder, w *binary.Writer) (int, error) {
	c := w.Counter()
	if err := m.Encode(c); err != nil {
		return 0, err
	}
	return int(c.Pos()), nil
}

var decoders = map[Type]func(data []byte, r *binary.Reader) (Message, error){
	TypeDataspace: func(data []byte, r *binary.Reader) (Message, error) {
		return decodeDataspace(r.Over(data))
	},
	TypeDatatype: func(data []byte, r *binary.Reader) (Message, error) {
		dt, _, err := decodeDatatype(data, r)
		return dt, err
	},
	TypeDataLayout: func(data []byte, r *binary.Reader) (Message, error) {
		return decodeDataLayout(r.Over(data))
	},
	TypeFilterPipeline: func(data []byte, r *binary.Reader) (Message, error) {
		return decodeFilterPipeline(r.Over(data))
	},
	TypeAttribute: func(data []byte, r *binary.Reader) (Message, error) {
		return decodeAttribute(data, r)
	},
	TypeLink: func(data []byte, r *binary.Reader) (Message, error) {
		return decodeLink(r.Over(data))
	},
	TypeSymbolTable: func(data []byte, r *binary.Reader) (Message, error) {
		return decodeSymbolTable(r.Over(data))
	},
	TypeObjectHeaderContinuation: func(data []byte, r *binary.Reader) (Message, error) {
		return decodeContinuation(r.Over(data))
	},
}

// Parse decodes one message body. r supplies the file's field widths; data
// is read through a reader of its own.
func Parse(typ Type, data []byte, r *binary.Reader) (Message, error) {
	decode, ok := decoders[typ]
	if !ok {
		return &Unknown{typ: typ, Data: data}, nil
	}
	m, err := decode(data, r)
	if err != nil {
		return nil, fmt.Errorf("message type %#x: %w", uint16(typ), err)
	}
	return m, nil
}

// Unknown is a message kept only as its raw body.
type Unknown struct {
	typ  Type
	Data []byte
}

func (m *Unknown) Type() Type { return m.typ }

// Continuation points at the next block of header messages.
type Continuation struct {
	Offset uint64
	Length uint64
}

func (m *Continuation) Type() Type { return TypeObjectHeaderContinuation }

func decodeContinuation(r *binary.Reader) (*Continuation, error) {
	f := &fields{r: r}
	c := &Continuation{Offset: f.offset(), Length: f.length()}
	return c, f.err
}

// SymbolTable locates the v1 B-tree and local heap of an old-style group.
type SymbolTable struct {
	BTreeAddress     uint64
	LocalHeapAddress uint64
}

func (m *SymbolTable) Type() Type { return TypeSymbolTable }

func decodeSymbolTable(r *binary.Reader) (*SymbolTable, error) {
	f := &fields{r: r}
	st := &SymbolTable{BTreeAddress: f.offset(), LocalHeapAddress: f.offset()}
	return st, f.err
}

// fields reads consecutive fields and keeps the first error; every read
// after a failure returns zero.
type fields struct {
	r   *binary.Reader
	err error
}

func (f *fields) uintN(n int) uint64 {
	if f.err != nil {
		return 0
	}
	v, err := f.r.ReadUintN(n)
	f.err = err
	return v
}

func (f *fields) u8() uint8      { return uint8(f.uintN(1)) }
func (f *fields) u16() uint16    { return uint16(f.uintN(2)) }
func (f *fields) u32() uint32    { return uint32(f.uintN(4)) }
func (f *fields) offset() uint64 { return f.uintN(f.r.OffsetSize()) }
func (f *fields) length() uint64 { return f.uintN(f.r.LengthSize()) }
func (f *fields) skip(n int)     { f.r.Skip(int64(n)) }
func (f *fields) pos() int       { return int(f.r.Pos()) }

func (f *fields) lengths(n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = f.length()
	}
	return out
}

func (f *fields) bytes(n int) []byte {
	if f.err != nil || n <= 0 {
		return nil
	}
	b, err := f.r.ReadBytes(n)
	f.err = err
	return b
}

// cstring reads a NUL-terminated string and returns it with the number of
// bytes consumed, terminator included.
func (f *fields) cstring() (string, int) {
	var b []byte
	for f.err == nil {
		c := f.u8()
		if c == 0 {
			break
		}
		b = append(b, c)
	}
	return string(b), len(b) + 1
}

// emit writes consecutive fields and keeps the first error.
type emit struct {
	w   *binary.Writer
	err error
}

func (e *emit) uintN(v uint64, n int) {
	if e.err == nil {
		e.err = e.w.WriteUintN(v, n)
	}
}

func (e *emit) u8(v uint8)      { e.uintN(uint64(v), 1) }
func (e *emit) u16(v uint16)    { e.uintN(uint64(v), 2) }
func (e *emit) u32(v uint32)    { e.uintN(uint64(v), 4) }
func (e *emit) offset(v uint64) { e.uintN(v, e.w.OffsetSize()) }
func (e *emit) length(v uint64) { e.uintN(v, e.w.LengthSize()) }

func (e *emit) bytes(b []byte) {
	if e.err == nil {
		e.err = e.w.WriteBytes(b)
	}
}

func (e *emit) cstring(s string) {
	e.bytes([]byte(s))
	e.u8(0)
}

func (e *emit) message(m Encoder) {
	if e.err == nil {
		e.err = m.Encode(e.w)
	}
}

// pad8 rounds n up to a multiple of eight.
func pad8(n int) int {
	return (n + 7) &^ 7
}
