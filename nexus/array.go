package nexus

import (
	"fmt"
	"reflect"

	"gonum.org/v1/gonum/mat"
)

// Array is a row-major value read from or written to a field or attribute.
// Data is a typed slice such as []int32, []float64, []bool or []string.
// A rank-0 array is a scalar holding one element.
type Array struct {
	Shape []int
	Data  any
}

// Scalar wraps a single value in a rank-0 array.
func Scalar(v any) *Array {
	rv := reflect.ValueOf(v)
	s := reflect.MakeSlice(reflect.SliceOf(rv.Type()), 1, 1)
	s.Index(0).Set(rv)
	return &Array{Data: s.Interface()}
}

// Rank returns the number of dimensions.
func (a *Array) Rank() int {
	return len(a.Shape)
}

// Len returns the number of elements.
func (a *Array) Len() int {
	return reflect.ValueOf(a.Data).Len()
}

// At returns the element at the given coordinates. A scalar takes none.
func (a *Array) At(coords ...int) (any, error) {
	if len(coords) != len(a.Shape) {
		return nil, fmt.Errorf("%w: %d coordinates for rank %d", ErrMalformedSelection, len(coords), len(a.Shape))
	}
	flat := 0
	for i, c := range coords {
		if c < 0 || c >= a.Shape[i] {
			return nil, fmt.Errorf("%w: coordinate %d out of range for extent %d", ErrMalformedSelection, c, a.Shape[i])
		}
		flat = flat*a.Shape[i] + c
	}
	return reflect.ValueOf(a.Data).Index(flat).Interface(), nil
}

// Value returns the single element of a scalar, or Data otherwise.
func (a *Array) Value() any {
	if len(a.Shape) == 0 && a.Len() == 1 {
		return reflect.ValueOf(a.Data).Index(0).Interface()
	}
	return a.Data
}

// Dense converts a numeric array of rank 0, 1 or 2 to a matrix. Vectors
// become a single column.
func (a *Array) Dense() (*mat.Dense, error) {
	vals, err := castTo[float64](a.Data)
	if err != nil {
		return nil, err
	}
	switch len(a.Shape) {
	case 0:
		return mat.NewDense(1, 1, vals), nil
	case 1:
		if a.Shape[0] == 0 {
			return nil, fmt.Errorf("%w: empty array", ErrShapeMismatch)
		}
		return mat.NewDense(a.Shape[0], 1, vals), nil
	case 2:
		if a.Shape[0] == 0 || a.Shape[1] == 0 {
			return nil, fmt.Errorf("%w: empty array", ErrShapeMismatch)
		}
		return mat.NewDense(a.Shape[0], a.Shape[1], vals), nil
	}
	return nil, fmt.Errorf("%w: rank %d has no matrix form", ErrShapeMismatch, len(a.Shape))
}

// gather returns the elements of data at the flat positions idx.
func gather(data any, idx []int) any {
	src := reflect.ValueOf(data)
	out := reflect.MakeSlice(src.Type(), len(idx), len(idx))
	for i, p := range idx {
		out.Index(i).Set(src.Index(p))
	}
	return out.Interface()
}

// scatter stores src at the flat positions idx of dst. A one-element src is
// broadcast.
func scatter(dst any, idx []int, src any) error {
	d, s := reflect.ValueOf(dst), reflect.ValueOf(src)
	switch s.Len() {
	case len(idx):
		for i, p := range idx {
			d.Index(p).Set(s.Index(i))
		}
	case 1:
		for _, p := range idx {
			d.Index(p).Set(s.Index(0))
		}
	default:
		return fmt.Errorf("%w: %d values for %d selected elements", ErrShapeMismatch, s.Len(), len(idx))
	}
	return nil
}

// SqueezeKnownSingletons drops singleton axes from arrays of rank 1 to 3 in
// a fixed order, for consumers that expect the smallest rank.
//
// Rank 3 drops axis 2, then axis 1, then axis 0 while the array is still
// rank 3. A rank-2 result with a singleton second axis keeps its first row;
// otherwise one with a singleton first axis keeps its first column. A rank-1
// result of length one becomes a scalar. The rank-2 rules select the first
// element of the other axis too, so a 1xN or Nx1 array collapses to its
// first element; this reproduces established behaviour and is not a general
// squeeze.
func SqueezeKnownSingletons(a *Array) *Array {
	shape := append([]int(nil), a.Shape...)
	data := a.Data

	if len(shape) == 3 && shape[2] == 1 {
		shape = []int{shape[0], shape[1]}
	}
	if len(shape) == 3 && shape[1] == 1 {
		shape = []int{shape[0], shape[2]}
	}
	if len(shape) == 3 && shape[0] == 1 {
		shape = []int{shape[1], shape[2]}
	}
	nonEmpty := reflect.ValueOf(data).Len() > 0
	if len(shape) == 2 && shape[1] == 1 && nonEmpty {
		// v[0, :]
		data = gather(data, span(0, shape[1], 1))
		shape = []int{shape[1]}
	}
	if len(shape) == 2 && shape[0] == 1 && nonEmpty {
		// v[:, 0]
		data = gather(data, span(0, shape[0], shape[1]))
		shape = []int{shape[0]}
	}
	if len(shape) == 1 && shape[0] == 1 {
		shape = nil
	}
	return &Array{Shape: shape, Data: data}
}

func span(start, n, step int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = start + i*step
	}
	return idx
}
