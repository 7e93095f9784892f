package nexus

import (
	"fmt"

	"github.com/robert-malhotra/go-nexus/hdf5"
)

// DType is the semantic element type of a field or attribute.
type DType string

const (
	Int8     DType = "int8"
	Int16    DType = "int16"
	Int32    DType = "int32"
	Int64    DType = "int64"
	Uint8    DType = "uint8"
	Uint16   DType = "uint16"
	Uint32   DType = "uint32"
	Uint64   DType = "uint64"
	Float32  DType = "float32"
	Float64  DType = "float64"
	Float128 DType = "float128"
	Bool     DType = "bool"
	String   DType = "string"

	// Int and Float are reported for stored integers and floats of an
	// unrecognised width. Created fields of these types are int64 and float32.
	Int   DType = "int"
	Float DType = "float"

	// Unknown is reported for compound, array, opaque and other stored types.
	Unknown DType = "unknown"
)

var aliases = map[string]DType{
	"long":    Int64,
	"uint":    Int64,
	"str":     String,
	"unicode": String,
}

// ParseDType accepts the type names and the legacy aliases long, uint, str
// and unicode.
func ParseDType(s string) (DType, error) {
	if dt, ok := aliases[s]; ok {
		return dt, nil
	}
	dt := DType(s)
	if _, err := storageType(dt); err != nil && dt != Float128 {
		return "", err
	}
	return dt, nil
}

func (dt DType) String() string {
	return string(dt)
}

// storageType maps a semantic type to the stored type used on creation.
func storageType(dt DType) (hdf5.Type, error) {
	switch dt {
	case Int8:
		return hdf5.IntType(1, true)
	case Int16:
		return hdf5.IntType(2, true)
	case Int32:
		return hdf5.IntType(4, true)
	case Int64, Int:
		return hdf5.IntType(8, true)
	case Uint8:
		return hdf5.IntType(1, false)
	case Uint16:
		return hdf5.IntType(2, false)
	case Uint32:
		return hdf5.IntType(4, false)
	case Uint64:
		return hdf5.IntType(8, false)
	case Float32, Float:
		return hdf5.FloatType(4)
	case Float64:
		return hdf5.FloatType(8)
	case Bool:
		return hdf5.BoolType(), nil
	case String:
		return hdf5.StringType(), nil
	case Float128:
		return hdf5.Type{}, fmt.Errorf("%w: %s is read-only", ErrTypeMismatch, dt)
	}
	return hdf5.Type{}, fmt.Errorf("%w: unknown type %q", ErrTypeMismatch, string(dt))
}

// semanticType maps a stored type back to its semantic tag.
func semanticType(ti hdf5.TypeInfo) DType {
	switch ti.Class {
	case hdf5.ClassFloat:
		switch ti.Size {
		case 4:
			return Float32
		case 8:
			return Float64
		case 16:
			return Float128
		}
		return Float
	case hdf5.ClassInteger:
		var signed, unsigned DType
		switch ti.Size {
		case 1:
			signed, unsigned = Int8, Uint8
		case 2:
			signed, unsigned = Int16, Uint16
		case 4:
			signed, unsigned = Int32, Uint32
		case 8:
			signed, unsigned = Int64, Uint64
		default:
			return Int
		}
		if ti.Signed {
			return signed
		}
		return unsigned
	case hdf5.ClassBool:
		return Bool
	case hdf5.ClassEnum:
		return Int
	case hdf5.ClassString:
		return String
	}
	return Unknown
}
