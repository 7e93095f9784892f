package dtype

import (
	"fmt"
	"math"
	"reflect"

	"github.com/robert-malhotra/go-nexus/internal/message"
)

// Encode stores src, a scalar or a slice, as elements of dt. Numbers are
// converted to the stored type, narrowing integers to their low bytes.
// Variable-length strings are written through the global heap, not here.
func Encode(dt *message.Datatype, src interface{}) ([]byte, error) {
	if dt == nil {
		return nil, fmt.Errorf("nil datatype")
	}
	v := reflect.ValueOf(src)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		s := reflect.MakeSlice(reflect.SliceOf(v.Type()), 1, 1)
		s.Index(0).Set(v)
		v = s
	}

	size := int(dt.Size)
	put, err := encoderFor(dt)
	if err != nil {
		return nil, err
	}
	out := make([]byte, v.Len()*size)
	for i := 0; i < v.Len(); i++ {
		if err := put(out[i*size:(i+1)*size], v.Index(i)); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return out, nil
}

type encoder func(dst []byte, v reflect.Value) error

func encoderFor(dt *message.Datatype) (encoder, error) {
	order := ByteOrder(dt)
	switch dt.Class {
	case message.ClassFixedPoint, message.ClassEnum:
		enum := dt.Class == message.ClassEnum
		return func(dst []byte, v reflect.Value) error {
			u, err := intBits(v, dt.Signed, enum)
			if err != nil {
				return err
			}
			return putUint(dst, u, order)
		}, nil

	case message.ClassFloatPoint:
		return func(dst []byte, v reflect.Value) error {
			var f float64
			switch {
			case v.CanFloat():
				f = v.Float()
			case v.CanInt():
				f = float64(v.Int())
			case v.CanUint():
				f = float64(v.Uint())
			default:
				return fmt.Errorf("cannot encode %v as float", v.Kind())
			}
			switch len(dst) {
			case 4:
				order.PutUint32(dst, math.Float32bits(float32(f)))
			case 8:
				order.PutUint64(dst, math.Float64bits(f))
			default:
				return fmt.Errorf("unsupported float size: %d", len(dst))
			}
			return nil
		}, nil

	case message.ClassString:
		return func(dst []byte, v reflect.Value) error {
			if v.Kind() != reflect.String {
				return fmt.Errorf("cannot encode %v as string", v.Kind())
			}
			n := copy(dst, v.String())
			if dt.StringPadding == message.PadSpacePad {
				for i := n; i < len(dst); i++ {
					dst[i] = ' '
				}
			}
			return nil
		}, nil
	}
	return nil, fmt.Errorf("unsupported datatype class for encoding: %d", dt.Class)
}

// intBits returns the two's complement bits of an integer value. Floats
// are truncated toward zero. Enums take integers and booleans only.
func intBits(v reflect.Value, signed, enum bool) (uint64, error) {
	switch {
	case v.CanInt():
		return uint64(v.Int()), nil
	case v.CanUint():
		return v.Uint(), nil
	case v.Kind() == reflect.Bool:
		if v.Bool() {
			return 1, nil
		}
		return 0, nil
	case v.CanFloat() && !enum:
		if signed {
			return uint64(int64(v.Float())), nil
		}
		return uint64(v.Float()), nil
	}
	kind := "fixed-point"
	if enum {
		kind = "enum"
	}
	return 0, fmt.Errorf("cannot encode %v as %s", v.Kind(), kind)
}
