// Package dtype moves element values between Go slices and the raw bytes
// of HDF5 fixed-point, floating-point, enumeration, bitfield, opaque and
// string types. Compound, array and reference types are not converted.
package dtype

import (
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/robert-malhotra/go-nexus/internal/message"
)

// ByteOrder returns the byte order of a numeric datatype.
func ByteOrder(dt *message.Datatype) binary.ByteOrder {
	if dt.ByteOrder == message.OrderBE {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// GoTypeToDatatype returns the datatype used to store values of t, or of
// the elements of t when it is a slice, array or pointer. Strings are
// stored as variable-length UTF-8.
func GoTypeToDatatype(t reflect.Type) (*message.Datatype, error) {
	for t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		return message.NewFixedPointDatatype(uint32(t.Size()), true, message.OrderLE), nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		return message.NewFixedPointDatatype(uint32(t.Size()), false, message.OrderLE), nil
	case reflect.Float32, reflect.Float64:
		return message.NewFloatDatatype(uint32(t.Size()), message.OrderLE), nil
	case reflect.Bool:
		return message.NewBoolDatatype(), nil
	case reflect.String:
		return message.NewVarLenStringDatatype(message.CharsetUTF8), nil
	}
	return nil, fmt.Errorf("unsupported Go type: %v", t)
}

// uintOf reads an unsigned integer of len(b) bytes.
func uintOf(b []byte, order binary.ByteOrder) (uint64, error) {
	switch len(b) {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(order.Uint16(b)), nil
	case 4:
		return uint64(order.Uint32(b)), nil
	case 8:
		return order.Uint64(b), nil
	}
	return 0, fmt.Errorf("unsupported integer size: %d", len(b))
}

// putUint stores the low len(b) bytes of v.
func putUint(b []byte, v uint64, order binary.ByteOrder) error {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		order.PutUint16(b, uint16(v))
	case 4:
		order.PutUint32(b, uint32(v))
	case 8:
		order.PutUint64(b, v)
	default:
		return fmt.Errorf("unsupported integer size: %d", len(b))
	}
	return nil
}

// signExtend interprets the low size bytes of v as two's complement.
func signExtend(v uint64, size int) int64 {
	shift := 64 - 8*uint(size)
	return int64(v<<shift) >> shift
}
