package dtype

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"unsafe"

	"github.com/robert-malhotra/go-nexus/internal/binary"
	"github.com/robert-malhotra/go-nexus/internal/heap"
	"github.com/robert-malhotra/go-nexus/internal/message"
)

// Convert decodes n elements of dt from data into dest, a pointer to a
// slice or to a single value.
func Convert(dt *message.Datatype, data []byte, n uint64, dest interface{}) error {
	return ConvertWithReader(dt, data, n, dest, nil)
}

// ConvertWithReader is Convert for types whose elements live in the global
// heap. reader resolves variable-length strings.
func ConvertWithReader(dt *message.Datatype, data []byte, n uint64, dest interface{}, reader *binary.Reader) error {
	if dt == nil {
		return fmt.Errorf("nil datatype")
	}
	ptr := reflect.ValueOf(dest)
	if ptr.Kind() != reflect.Ptr || ptr.IsNil() {
		return fmt.Errorf("dest must be a non-nil pointer, got %T", dest)
	}
	out := ptr.Elem()

	stride := int(dt.Size)
	if dt.Class == message.ClassVarLen && reader != nil {
		stride = 4 + heap.IDSize(reader.OffsetSize())
	}
	if stride <= 0 {
		return fmt.Errorf("datatype has element size %d", stride)
	}
	if need := int(n) * stride; len(data) < need {
		return fmt.Errorf("have %d bytes for %d elements of %d bytes", len(data), n, stride)
	}

	if out.Kind() == reflect.Slice && directCopyable(dt, out.Type().Elem()) {
		out.Set(reflect.MakeSlice(out.Type(), int(n), int(n)))
		if n > 0 {
			copy(unsafe.Slice((*byte)(out.UnsafePointer()), int(n)*stride), data)
		}
		return nil
	}

	dec, err := decoderFor(dt, reader)
	if err != nil {
		return err
	}
	if out.Kind() != reflect.Slice {
		if n == 0 {
			return fmt.Errorf("no element to decode into %s", out.Type())
		}
		return decodeInto(out, dec, data[:stride])
	}
	out.Set(reflect.MakeSlice(out.Type(), int(n), int(n)))
	for i := 0; i < int(n); i++ {
		if err := decodeInto(out.Index(i), dec, data[i*stride:(i+1)*stride]); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

func decodeInto(dst reflect.Value, dec decoder, elem []byte) error {
	v, err := dec(elem)
	if err != nil {
		return err
	}
	return assign(dst, reflect.ValueOf(v))
}

// decoder turns the bytes of one stored element into a Go value.
type decoder func(elem []byte) (interface{}, error)

func decoderFor(dt *message.Datatype, reader *binary.Reader) (decoder, error) {
	order := ByteOrder(dt)
	switch dt.Class {
	case message.ClassFixedPoint:
		return intDecoder(dt, dt.Signed), nil

	case message.ClassEnum:
		signed := dt.BaseType == nil || dt.BaseType.Signed
		return intDecoder(dt, signed), nil

	case message.ClassBitfield:
		return intDecoder(dt, false), nil

	case message.ClassFloatPoint:
		return func(b []byte) (interface{}, error) {
			switch len(b) {
			case 4:
				return math.Float32frombits(order.Uint32(b)), nil
			case 8:
				return math.Float64frombits(order.Uint64(b)), nil
			}
			return nil, fmt.Errorf("unsupported float size: %d", len(b))
		}, nil

	case message.ClassString:
		spacePadded := dt.StringPadding == message.PadSpacePad
		return func(b []byte) (interface{}, error) {
			if i := bytes.IndexByte(b, 0); i >= 0 {
				b = b[:i]
			}
			if spacePadded {
				b = bytes.TrimRight(b, " ")
			}
			return string(b), nil
		}, nil

	case message.ClassVarLen:
		if !dt.IsVarLenString {
			return nil, fmt.Errorf("variable-length sequences are not supported")
		}
		return stringRefDecoder(reader), nil

	case message.ClassOpaque:
		return func(b []byte) (interface{}, error) {
			return append([]byte(nil), b...), nil
		}, nil
	}
	return nil, fmt.Errorf("unsupported datatype class for conversion: %d", dt.Class)
}

func intDecoder(dt *message.Datatype, signed bool) decoder {
	order := ByteOrder(dt)
	return func(b []byte) (interface{}, error) {
		v, err := uintOf(b, order)
		if err != nil {
			return nil, err
		}
		if signed {
			return signExtend(v, len(b)), nil
		}
		return v, nil
	}
}

// stringRefDecoder resolves variable-length string references: a 4-byte
// length followed by a global heap ID. Collections are read once.
func stringRefDecoder(reader *binary.Reader) decoder {
	collections := make(map[uint64]*heap.Collection)
	return func(b []byte) (interface{}, error) {
		offsetSize := 8
		if reader != nil {
			offsetSize = reader.OffsetSize()
		}
		id, err := heap.ParseID(b[4:], offsetSize)
		if err != nil {
			return nil, err
		}
		if id.Collection == 0 {
			return "", nil
		}
		if reader == nil {
			return nil, fmt.Errorf("global heap at 0x%x needs a file reader", id.Collection)
		}
		c, ok := collections[id.Collection]
		if !ok {
			if c, err = heap.ReadCollection(reader, id.Collection); err != nil {
				return nil, fmt.Errorf("reading global heap at 0x%x: %w", id.Collection, err)
			}
			collections[id.Collection] = c
		}
		return c.String(id.Index)
	}
}

// assign stores v in dst, converting between numeric kinds. Integers are
// true when nonzero.
func assign(dst, v reflect.Value) error {
	switch {
	case dst.Kind() == reflect.Interface:
		dst.Set(v)
	case dst.Kind() == reflect.Bool && v.CanInt():
		dst.SetBool(v.Int() != 0)
	case dst.Kind() == reflect.Bool && v.CanUint():
		dst.SetBool(v.Uint() != 0)
	case (dst.Kind() == reflect.String) != (v.Kind() == reflect.String):
		return fmt.Errorf("cannot store %s in %s", v.Type(), dst.Type())
	case v.Type().ConvertibleTo(dst.Type()):
		dst.Set(v.Convert(dst.Type()))
	default:
		return fmt.Errorf("cannot store %s in %s", v.Type(), dst.Type())
	}
	return nil
}

// directCopyable reports whether little-endian elements of dt have the
// memory layout of elem.
func directCopyable(dt *message.Datatype, elem reflect.Type) bool {
	if dt.ByteOrder != message.OrderLE || uintptr(dt.Size) != elem.Size() || !littleEndianHost {
		return false
	}
	switch dt.Class {
	case message.ClassFixedPoint:
		switch elem.Kind() {
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return dt.Signed
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return !dt.Signed
		}
	case message.ClassFloatPoint:
		return elem.Kind() == reflect.Float32 || elem.Kind() == reflect.Float64
	}
	return false
}

var littleEndianHost = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()
