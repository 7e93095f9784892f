package hdf5

import (
	"fmt"

	"github.com/robert-malhotra/go-nexus/internal/message"
)

// Class is the broad category of a stored element type.
type Class int

const (
	ClassOther Class = iota
	ClassInteger
	ClassFloat
	ClassString
	ClassBool
	ClassEnum
	ClassCompound
	ClassArray
	ClassBitfield
	ClassOpaque
)

var classNames = map[Class]string{
	ClassOther:    "other",
	ClassInteger:  "integer",
	ClassFloat:    "float",
	ClassString:   "string",
	ClassBool:     "bool",
	ClassEnum:     "enum",
	ClassCompound: "compound",
	ClassArray:    "array",
	ClassBitfield: "bitfield",
	ClassOpaque:   "opaque",
}

func (c Class) String() string {
	return classNames[c]
}

// TypeInfo describes a stored element type.
type TypeInfo struct {
	Class  Class
	Size   int  // bytes per element as stored
	Signed bool // integers only
	VarLen bool // variable-length strings
}

func (ti TypeInfo) String() string {
	switch ti.Class {
	case ClassInteger:
		if ti.Signed {
			return fmt.Sprintf("int%d", ti.Size*8)
		}
		return fmt.Sprintf("uint%d", ti.Size*8)
	case ClassFloat:
		return fmt.Sprintf("float%d", ti.Size*8)
	case ClassString:
		if ti.VarLen {
			return "string"
		}
		return fmt.Sprintf("string[%d]", ti.Size)
	default:
		return ti.Class.String()
	}
}

// Type is a stored element type.
type Type struct {
	dt *message.Datatype
}

// IntType returns a little-endian integer type of size 1, 2, 4 or 8 bytes.
func IntType(size int, signed bool) (Type, error) {
	switch size {
	case 1, 2, 4, 8:
		return Type{message.NewFixedPointDatatype(uint32(size), signed, message.OrderLE)}, nil
	}
	return Type{}, fmt.Errorf("%w: integer size %d", ErrUnsupported, size)
}

// FloatType returns an IEEE float type of size 4 or 8 bytes.
func FloatType(size int) (Type, error) {
	switch size {
	case 4, 8:
		return Type{message.NewFloatDatatype(uint32(size), message.OrderLE)}, nil
	}
	return Type{}, fmt.Errorf("%w: float size %d", ErrUnsupported, size)
}

// BoolType returns the 8-bit enumeration {FALSE=0, TRUE=1}.
func BoolType() Type {
	return Type{message.NewBoolDatatype()}
}

// StringType returns a variable-length UTF-8 string type.
func StringType() Type {
	return Type{message.NewVarLenStringDatatype(message.CharsetUTF8)}
}

// Valid reports whether t was produced by a constructor or read from a file.
func (t Type) Valid() bool {
	return t.dt != nil
}

// Info summarises the type.
func (t Type) Info() TypeInfo {
	return typeInfo(t.dt)
}

func (t Type) String() string {
	if t.dt == nil {
		return "invalid"
	}
	return t.Info().String()
}

func typeInfo(dt *message.Datatype) TypeInfo {
	if dt == nil {
		return TypeInfo{}
	}
	ti := TypeInfo{Size: int(dt.Size)}
	switch dt.Class {
	case message.ClassFixedPoint:
		ti.Class = ClassInteger
		ti.Signed = dt.Signed
	case message.ClassFloatPoint:
		ti.Class = ClassFloat
	case message.ClassString:
		ti.Class = ClassString
	case message.ClassVarLen:
		if dt.IsVarLenString {
			ti.Class = ClassString
			ti.VarLen = true
		}
	case message.ClassEnum:
		ti.Class = ClassEnum
		if dt.IsBool() {
			ti.Class = ClassBool
		}
	case message.ClassCompound:
		ti.Class = ClassCompound
	case message.ClassArray:
		ti.Class = ClassArray
	case message.ClassBitfield:
		ti.Class = ClassBitfield
	case message.ClassOpaque:
		ti.Class = ClassOpaque
	}
	return ti
}

// storageDatatype sizes variable-length references for the file's offset width.
func (f *File) storageDatatype(t Type) (*message.Datatype, error) {
	if t.dt == nil {
		return nil, fmt.Errorf("%w: invalid type", ErrUnsupported)
	}
	if t.dt.Class == message.ClassVarLen {
		dt := *t.dt
		dt.Size = uint32(f.vlenRefSize())
		return &dt, nil
	}
	return t.dt, nil
}
