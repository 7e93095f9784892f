package message

import (
	"fmt"

	"github.com/robert-malhotra/go-nexus/internal/binary"
)

type DatatypeClass uint8

const (
	ClassFixedPoint DatatypeClass = 0
	ClassFloatPoint DatatypeClass = 1
	ClassTime       DatatypeClass = 2
	ClassString     DatatypeClass = 3
	ClassBitfield   DatatypeClass = 4
	ClassOpaque     DatatypeClass = 5
	ClassCompound   DatatypeClass = 6
	ClassReference  DatatypeClass = 7
	ClassEnum       DatatypeClass = 8
	ClassVarLen     DatatypeClass = 9
	ClassArray      DatatypeClass = 10
)

type ByteOrder uint8

const (
	OrderLE ByteOrder = 0
	OrderBE ByteOrder = 1
)

type StringPadding uint8

const (
	PadNullTerm StringPadding = 0
	PadNullPad  StringPadding = 1
	PadSpacePad StringPadding = 2
)

type CharacterSet uint8

const (
	CharsetASCII CharacterSet = 0
	CharsetUTF8  CharacterSet = 1
)

// Datatype describes the stored form of one element.
//
// Numbers, fixed and variable-length strings and enums are decoded into
// fields. Other classes (compound, array, opaque, reference, time and
// variable-length sequences) keep only Class and Size plus their encoding,
// which Encode writes back unchanged.
type Datatype struct {
	Class     DatatypeClass
	Version   uint8
	ClassBits uint32
	Size      uint32

	ByteOrder    ByteOrder
	Signed       bool
	BitOffset    uint16
	BitPrecision uint16

	StringPadding  StringPadding
	CharSet        CharacterSet
	IsVarLenString bool
	VarLenType     *Datatype

	// Enums: BaseType is the integer type of the values.
	BaseType   *Datatype
	EnumNames  []string
	EnumValues []int64

	// Properties holds the twelve bytes of floating-point bit layout.
	Properties []byte

	raw []byte
}

func (m *Datatype) Type() Type { return TypeDatatype }

// IsBool reports whether m is the one-byte FALSE=0, TRUE=1 enum that h5py
// and the NeXus tools use for booleans.
func (m *Datatype) IsBool() bool {
	if m.Class != ClassEnum || m.Size != 1 || len(m.EnumNames) != 2 || len(m.EnumValues) != 2 {
		return false
	}
	want := map[string]int64{"FALSE": 0, "TRUE": 1}
	for i, name := range m.EnumNames {
		if v, ok := want[name]; !ok || v != m.EnumValues[i] {
			return false
		}
	}
	return m.EnumNames[0] != m.EnumNames[1]
}

// decodeDatatype decodes the datatype at the start of data and reports how
// many bytes it used.
func decodeDatatype(data []byte, r *binary.Reader) (*Datatype, int, error) {
	f := &fields{r: r.Over(data)}
	head, bits, size := f.u8(), uint32(f.uintN(3)), f.u32()
	if f.err != nil {
		return nil, 0, fmt.Errorf("datatype: %w", f.err)
	}
	dt := &Datatype{Class: DatatypeClass(head & 0x0F), Version: head >> 4, ClassBits: bits, Size: size}

	switch dt.Class {
	case ClassFixedPoint, ClassBitfield:
		dt.ByteOrder = ByteOrder(bits & 0x01)
		dt.Signed = dt.Class == ClassFixedPoint && bits&0x08 != 0
		dt.BitOffset, dt.BitPrecision = f.u16(), f.u16()
	case ClassFloatPoint:
		dt.ByteOrder = ByteOrder(bits & 0x01)
		dt.Properties = f.bytes(12)
	case ClassString:
		dt.StringPadding = StringPadding(bits & 0x0F)
		dt.CharSet = CharacterSet(bits >> 4 & 0x0F)
	case ClassEnum:
		if err := dt.decodeEnum(f, data[8:], r); err != nil {
			return nil, 0, err
		}
	case ClassVarLen:
		if bits&0x0F != 1 {
			return verbatim(dt, data)
		}
		dt.IsVarLenString = true
		dt.StringPadding = StringPadding(bits >> 4 & 0x0F)
		dt.CharSet = CharacterSet(bits >> 8 & 0x0F)
		base, n, err := decodeDatatype(data[8:], r)
		if err != nil {
			return nil, 0, fmt.Errorf("string base type: %w", err)
		}
		dt.VarLenType = base
		f.skip(n)
	default:
		return verbatim(dt, data)
	}

	if f.err != nil {
		return nil, 0, fmt.Errorf("datatype class %d: %w", dt.Class, f.err)
	}
	return dt, f.pos(), nil
}

func verbatim(dt *Datatype, data []byte) (*Datatype, int, error) {
	dt.raw = append([]byte(nil), data...)
	return dt, len(data), nil
}

// decodeEnum reads the base type, then the member names, then the values.
// Names before version 3 are padded to eight bytes.
func (m *Datatype) decodeEnum(f *fields, props []byte, r *binary.Reader) error {
	base, n, err := decodeDatatype(props, r)
	if err != nil {
		return fmt.Errorf("enum base type: %w", err)
	}
	if base.Class != ClassFixedPoint {
		return fmt.Errorf("enum base type has class %d", base.Class)
	}
	m.BaseType, m.ByteOrder = base, base.ByteOrder
	f.skip(n)

	count := int(m.ClassBits & 0xFFFF)
	m.EnumNames = make([]string, count)
	for i := range m.EnumNames {
		name, used := f.cstring()
		if m.Version < 3 {
			f.skip(pad8(used) - used)
		}
		m.EnumNames[i] = name
	}
	m.EnumValues = make([]int64, count)
	for i := range m.EnumValues {
		m.EnumValues[i] = decodeInt(f.bytes(int(base.Size)), base.ByteOrder, base.Signed)
	}
	return nil
}

func (m *Datatype) Encode(w *binary.Writer) error {
	if m.raw != nil {
		return w.WriteBytes(m.raw)
	}
	version := m.Version
	if version == 0 {
		version = 1
	}

	e := &emit{w: w}
	e.u8(uint8(m.Class) | version<<4)
	e.uintN(uint64(m.ClassBits), 3)
	e.u32(m.Size)
	switch m.Class {
	case ClassFixedPoint, ClassBitfield:
		e.u16(m.BitOffset)
		e.u16(m.BitPrecision)
	case ClassFloatPoint:
		props := m.Properties
		if len(props) != 12 {
			props = ieeeProperties(m.Size)
		}
		e.bytes(props)
	case ClassEnum:
		e.message(m.BaseType)
		for _, name := range m.EnumNames {
			e.cstring(name)
			if version < 3 {
				e.bytes(make([]byte, pad8(len(name)+1)-len(name)-1))
			}
		}
		for _, v := range m.EnumValues {
			e.bytes(encodeInt(v, int(m.BaseType.Size), m.BaseType.ByteOrder))
		}
	case ClassVarLen:
		e.message(m.VarLenType)
	}
	return e.err
}

// ieeeProperties is the bit layout of IEEE 754 binary32 and binary64: bit
// offset, precision, exponent location and size, mantissa location and
// size, exponent bias.
func ieeeProperties(size uint32) []byte {
	switch size {
	case 4:
		return []byte{0, 0, 32, 0, 23, 8, 0, 23, 127, 0, 0, 0}
	case 8:
		return []byte{0, 0, 64, 0, 52, 11, 0, 52, 0xFF, 0x03, 0, 0}
	}
	return make([]byte, 12)
}

func decodeInt(b []byte, order ByteOrder, signed bool) int64 {
	var v uint64
	for i := range b {
		j := i
		if order == OrderLE {
			j = len(b) - 1 - i
		}
		v = v<<8 | uint64(b[j])
	}
	if n := len(b); signed && n > 0 && n < 8 && v&(1<<(8*n-1)) != 0 {
		v |= ^uint64(0) << (8 * n)
	}
	return int64(v)
}

func encodeInt(v int64, size int, order ByteOrder) []byte {
	b := make([]byte, size)
	for i := range b {
		shift := i
		if order == OrderBE {
			shift = size - 1 - i
		}
		b[i] = byte(uint64(v) >> (8 * shift))
	}
	return b
}

func NewFixedPointDatatype(size uint32, signed bool, order ByteOrder) *Datatype {
	bits := uint32(order)
	if signed {
		bits |= 0x08
	}
	return &Datatype{
		Class:        ClassFixedPoint,
		ClassBits:    bits,
		Size:         size,
		ByteOrder:    order,
		Signed:       signed,
		BitPrecision: uint16(size * 8),
	}
}

// NewFloatDatatype returns an IEEE float of 4 or 8 bytes. The class bits
// carry the byte order, implied mantissa normalization and the sign bit
// position.
func NewFloatDatatype(size uint32, order ByteOrder) *Datatype {
	bits := uint32(order) | 0x20 | (size*8-1)<<8
	return &Datatype{
		Class:      ClassFloatPoint,
		ClassBits:  bits,
		Size:       size,
		ByteOrder:  order,
		Properties: ieeeProperties(size),
	}
}

// NewVarLenStringDatatype returns a NUL-terminated variable-length string.
// Size is the in-file reference size and is fixed up per file by callers.
func NewVarLenStringDatatype(charset CharacterSet) *Datatype {
	return &Datatype{
		Class:          ClassVarLen,
		ClassBits:      1 | uint32(PadNullTerm)<<4 | uint32(charset)<<8,
		Size:           16,
		StringPadding:  PadNullTerm,
		CharSet:        charset,
		IsVarLenString: true,
		VarLenType: &Datatype{
			Class:     ClassString,
			ClassBits: uint32(PadNullTerm) | uint32(charset)<<4,
			Size:      1,
			CharSet:   charset,
		},
	}
}

func NewEnumDatatype(base *Datatype, names []string, values []int64) *Datatype {
	return &Datatype{
		Class:      ClassEnum,
		ClassBits:  uint32(len(names)) & 0xFFFF,
		Size:       base.Size,
		ByteOrder:  base.ByteOrder,
		BaseType:   base,
		EnumNames:  names,
		EnumValues: values,
	}
}

func NewBoolDatatype() *Datatype {
	return NewEnumDatatype(NewFixedPointDatatype(1, true, OrderLE),
		[]string{"FALSE", "TRUE"}, []int64{0, 1})
}
