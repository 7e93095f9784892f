package nexus

import (
	"fmt"
	"reflect"

	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/mat"
)

type number interface {
	constraints.Integer | constraints.Float
}

func castSlice[T, U number](src []T) []U {
	out := make([]U, len(src))
	for i, v := range src {
		out[i] = U(v)
	}
	return out
}

func boolsTo[U number](src []bool) []U {
	out := make([]U, len(src))
	for i, v := range src {
		if v {
			out[i] = 1
		}
	}
	return out
}

func nonZero[T number](src []T) []bool {
	out := make([]bool, len(src))
	for i, v := range src {
		out[i] = v != 0
	}
	return out
}

// castTo converts a flat slice of any numeric or bool element type to []U.
func castTo[U number](data any) ([]U, error) {
	switch s := data.(type) {
	case []U:
		return s, nil
	case []int8:
		return castSlice[int8, U](s), nil
	case []int16:
		return castSlice[int16, U](s), nil
	case []int32:
		return castSlice[int32, U](s), nil
	case []int64:
		return castSlice[int64, U](s), nil
	case []int:
		return castSlice[int, U](s), nil
	case []uint8:
		return castSlice[uint8, U](s), nil
	case []uint16:
		return castSlice[uint16, U](s), nil
	case []uint32:
		return castSlice[uint32, U](s), nil
	case []uint64:
		return castSlice[uint64, U](s), nil
	case []uint:
		return castSlice[uint, U](s), nil
	case []float32:
		return castSlice[float32, U](s), nil
	case []float64:
		return castSlice[float64, U](s), nil
	case []bool:
		return boolsTo[U](s), nil
	}
	return nil, fmt.Errorf("%w: cannot convert %T to numbers", ErrTypeMismatch, data)
}

func toBools(data any) ([]bool, error) {
	switch s := data.(type) {
	case []bool:
		return s, nil
	case []string:
		return nil, fmt.Errorf("%w: cannot convert strings to bool", ErrTypeMismatch)
	}
	vals, err := castTo[float64](data)
	if err != nil {
		return nil, err
	}
	return nonZero(vals), nil
}

// coerce converts a flat slice to the element type stored for dt.
func coerce(data any, dt DType) (any, error) {
	switch dt {
	case Int8:
		return castTo[int8](data)
	case Int16:
		return castTo[int16](data)
	case Int32:
		return castTo[int32](data)
	case Int64, Int:
		return castTo[int64](data)
	case Uint8:
		return castTo[uint8](data)
	case Uint16:
		return castTo[uint16](data)
	case Uint32:
		return castTo[uint32](data)
	case Uint64:
		return castTo[uint64](data)
	case Float32:
		return castTo[float32](data)
	case Float64, Float:
		return castTo[float64](data)
	case Bool:
		return toBools(data)
	case String:
		if s, ok := data.([]string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("%w: cannot store %T as strings", ErrTypeMismatch, data)
	}
	return nil, fmt.Errorf("%w: cannot write %s values", ErrTypeMismatch, dt)
}

// makeSlice returns a zeroed slice of n elements of the type stored for dt.
func makeSlice(dt DType, n int) (any, error) {
	switch dt {
	case Int8:
		return make([]int8, n), nil
	case Int16:
		return make([]int16, n), nil
	case Int32:
		return make([]int32, n), nil
	case Int64, Int:
		return make([]int64, n), nil
	case Uint8:
		return make([]uint8, n), nil
	case Uint16:
		return make([]uint16, n), nil
	case Uint32:
		return make([]uint32, n), nil
	case Uint64:
		return make([]uint64, n), nil
	case Float32:
		return make([]float32, n), nil
	case Float64, Float:
		return make([]float64, n), nil
	case Bool:
		return make([]bool, n), nil
	case String:
		return make([]string, n), nil
	}
	return nil, fmt.Errorf("%w: cannot read %s values", ErrTypeMismatch, dt)
}

// flatten turns a write argument into a flat typed slice and its shape.
// It accepts scalars, nested rectangular slices, *Array and mat.Matrix.
func flatten(value any) (any, []int, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil, fmt.Errorf("%w: nil value", ErrTypeMismatch)
	case *Array:
		return v.Data, v.Shape, nil
	case mat.Matrix:
		r, c := v.Dims()
		data := make([]float64, 0, r*c)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				data = append(data, v.At(i, j))
			}
		}
		return data, []int{r, c}, nil
	}

	rv := reflect.ValueOf(value)
	var shape []int
	elem := rv.Type()
	for probe := rv; probe.Kind() == reflect.Slice || probe.Kind() == reflect.Array; {
		shape = append(shape, probe.Len())
		elem = elem.Elem()
		if probe.Len() == 0 {
			for elem.Kind() == reflect.Slice || elem.Kind() == reflect.Array {
				shape = append(shape, 0)
				elem = elem.Elem()
			}
			break
		}
		probe = probe.Index(0)
	}

	flat := reflect.MakeSlice(reflect.SliceOf(elem), 0, product(shape))
	var walk func(v reflect.Value, d int) error
	walk = func(v reflect.Value, d int) error {
		if d == len(shape) {
			flat = reflect.Append(flat, v)
			return nil
		}
		if v.Len() != shape[d] {
			return fmt.Errorf("%w: ragged value at depth %d", ErrShapeMismatch, d)
		}
		for i := 0; i < v.Len(); i++ {
			if err := walk(v.Index(i), d+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(rv, 0); err != nil {
		return nil, nil, err
	}
	return flat.Interface(), shape, nil
}

func product(shape []int) int {
	n := 1
	for _, e := range shape {
		n *= e
	}
	return n
}
