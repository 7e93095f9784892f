package nexus

import (
	"fmt"

	"github.com/robert-malhotra/go-nexus/internal/selexpr"
)

// Selection is an index expression: Index, Slice, Ellipsis or a Tuple of
// those, one term per dimension.
type Selection interface {
	selection()
}

// Index selects a single position. Negative values count from the end.
type Index int

// Slice selects start:stop:step. Nil bounds take their usual defaults.
type Slice struct {
	Start, Stop, Step *int
}

// Ellipsis expands to the full extent of every dimension it stands for.
type Ellipsis struct{}

// Tuple applies one term per dimension.
type Tuple []Selection

func (Index) selection()    {}
func (Slice) selection()    {}
func (Ellipsis) selection() {}
func (Tuple) selection()    {}

// Span returns the slice start:stop.
func Span(start, stop int) Slice {
	return Slice{Start: &start, Stop: &stop}
}

// SpanStep returns the slice start:stop:step.
func SpanStep(start, stop, step int) Slice {
	return Slice{Start: &start, Stop: &stop, Step: &step}
}

// From returns the slice start:.
func From(start int) Slice {
	return Slice{Start: &start}
}

// To returns the slice :stop.
func To(stop int) Slice {
	return Slice{Stop: &stop}
}

// ParseSelection parses text such as "1:10:2, ..., -1".
func ParseSelection(text string) (Selection, error) {
	terms, err := selexpr.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSelection, err)
	}
	tuple := make(Tuple, len(terms))
	for i, t := range terms {
		switch t.Kind {
		case selexpr.KindIndex:
			tuple[i] = Index(t.Index)
		case selexpr.KindEllipsis:
			tuple[i] = Ellipsis{}
		default:
			tuple[i] = Slice{Start: t.Start, Stop: t.Stop, Step: t.Step}
		}
	}
	if len(tuple) == 1 {
		return tuple[0], nil
	}
	return tuple, nil
}

// Hyperslab is a strided rectangular selection. Along dimension i it selects
// the positions Offset[i] + c*(Block[i]+Stride[i]) + b for c < Count[i] and
// b < Block[i]: Stride is the gap between blocks, not the step.
type Hyperslab struct {
	Offset []int
	Block  []int
	Count  []int
	Stride []int
}

// Translate converts a selection into a hyperslab over shape. A nil
// hyperslab means the whole array.
func Translate(sel Selection, shape []int) (*Hyperslab, error) {
	var terms []Selection
	switch s := sel.(type) {
	case nil, Ellipsis:
		return nil, nil
	case Tuple:
		terms = s
	default:
		terms = []Selection{s}
	}

	ellipses := 0
	for _, t := range terms {
		if _, ok := t.(Ellipsis); ok {
			ellipses++
		}
	}
	if ellipses > 1 {
		return nil, fmt.Errorf("%w: more than one ellipsis", ErrMalformedSelection)
	}
	if len(terms)-ellipses > len(shape) {
		return nil, fmt.Errorf("%w: %d indices for rank %d", ErrMalformedSelection, len(terms)-ellipses, len(shape))
	}

	h := &Hyperslab{}
	dim := 0
	for _, t := range terms {
		switch t := t.(type) {
		case Ellipsis:
			for n := len(shape) - (len(terms) - 1); n > 0; n-- {
				h.full(shape[dim])
				dim++
			}
		case Index:
			i := int(t)
			if i < 0 {
				i = shape[dim] + i
			}
			if i < 0 || i >= shape[dim] {
				return nil, fmt.Errorf("%w: index %d out of range for dimension %d of extent %d",
					ErrMalformedSelection, int(t), dim, shape[dim])
			}
			h.add(i, 1, 1, 1)
			dim++
		case Slice:
			if err := h.slice(t, shape[dim]); err != nil {
				return nil, fmt.Errorf("dimension %d: %w", dim, err)
			}
			dim++
		default:
			return nil, fmt.Errorf("%w: unsupported term %T", ErrMalformedSelection, t)
		}
	}
	for ; dim < len(shape); dim++ {
		h.full(shape[dim])
	}

	if len(h.Offset) == 0 {
		return nil, nil
	}
	return h, nil
}

func (h *Hyperslab) add(offset, block, count, stride int) {
	h.Offset = append(h.Offset, offset)
	h.Block = append(h.Block, block)
	h.Count = append(h.Count, count)
	h.Stride = append(h.Stride, stride)
}

func (h *Hyperslab) full(extent int) {
	h.add(0, extent, 1, 1)
}

func (h *Hyperslab) slice(s Slice, n int) error {
	step := 1
	if s.Step != nil {
		step = *s.Step
	}
	if step <= 0 {
		return fmt.Errorf("%w: step %d", ErrMalformedSelection, step)
	}
	start, stop := 0, n
	if s.Start != nil {
		start = clampBound(*s.Start, n)
	}
	if s.Stop != nil {
		stop = clampBound(*s.Stop, n)
	}
	stop = max(stop, start)

	if step == 1 {
		h.add(start, stop-start, 1, 1)
		return nil
	}
	h.add(start, 1, (stop-start+step-1)/step, step-1)
	return nil
}

// clampBound normalises a slice bound: negative values count from the end
// and the result lies in [0, n].
func clampBound(i, n int) int {
	if i < 0 {
		i = n + i
	}
	return min(max(i, 0), n)
}

// Shape returns the extent of the selection along each dimension.
func (h *Hyperslab) Shape() []int {
	shape := make([]int, len(h.Offset))
	for i := range shape {
		shape[i] = h.Block[i] * h.Count[i]
	}
	return shape
}

// NumElements returns the number of selected elements.
func (h *Hyperslab) NumElements() int {
	n := 1
	for _, e := range h.Shape() {
		n *= e
	}
	return n
}

// Indices returns the row-major flat positions the hyperslab selects within
// an array of the given shape, in row-major order of the selection.
func (h *Hyperslab) Indices(shape []int) ([]int, error) {
	if len(shape) != len(h.Offset) {
		return nil, fmt.Errorf("%w: hyperslab rank %d for rank %d", ErrMalformedSelection, len(h.Offset), len(shape))
	}
	coords := make([][]int, len(shape))
	for d := range shape {
		for c := 0; c < h.Count[d]; c++ {
			for b := 0; b < h.Block[d]; b++ {
				p := h.Offset[d] + c*(h.Block[d]+h.Stride[d]) + b
				if p >= shape[d] {
					return nil, fmt.Errorf("%w: position %d beyond extent %d of dimension %d",
						ErrMalformedSelection, p, shape[d], d)
				}
				coords[d] = append(coords[d], p)
			}
		}
	}

	out := make([]int, 0, h.NumElements())
	var walk func(d, base int)
	walk = func(d, base int) {
		if d == len(shape) {
			out = append(out, base)
			return
		}
		for _, p := range coords[d] {
			walk(d+1, base*shape[d]+p)
		}
	}
	walk(0, 0)
	return out, nil
}

// bounds returns the smallest box holding every selected position.
func (h *Hyperslab) bounds(shape []int) (start, count []uint64, err error) {
	if len(shape) != len(h.Offset) {
		return nil, nil, fmt.Errorf("%w: hyperslab rank %d for rank %d", ErrMalformedSelection, len(h.Offset), len(shape))
	}
	start = make([]uint64, len(shape))
	count = make([]uint64, len(shape))
	for d := range shape {
		last := h.Offset[d] + (h.Count[d]-1)*(h.Block[d]+h.Stride[d]) + h.Block[d] - 1
		if h.Offset[d] < 0 || last >= shape[d] {
			return nil, nil, fmt.Errorf("%w: position %d beyond extent %d of dimension %d",
				ErrMalformedSelection, last, shape[d], d)
		}
		start[d] = uint64(h.Offset[d])
		count[d] = uint64(last - h.Offset[d] + 1)
	}
	return start, count, nil
}

// relativeTo shifts the hyperslab so that start becomes the origin.
func (h *Hyperslab) relativeTo(start []uint64) *Hyperslab {
	r := &Hyperslab{
		Offset: make([]int, len(h.Offset)),
		Block:  h.Block,
		Count:  h.Count,
		Stride: h.Stride,
	}
	for d := range r.Offset {
		r.Offset[d] = h.Offset[d] - int(start[d])
	}
	return r
}
