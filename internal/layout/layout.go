// Package layout moves dataset elements between their row-major in-memory
// form and the compact, contiguous and chunked storage layouts.
//
// Every layout can read the whole dataset or a box: a rectangular region
// given by a start coordinate and a per-dimension count. Boxes are returned
// densely packed in row-major order, so a caller selecting one frame of a
// [frames, rows, cols] stack reads only that frame's chunks.
package layout

import (
	"fmt"

	"github.com/robert-malhotra/go-nexus/internal/binary"
	"github.com/robert-malhotra/go-nexus/internal/message"
)

// Layout reads the raw elements of one dataset.
type Layout interface {
	// Read returns every element in row-major order.
	Read() ([]byte, error)

	// ReadSlice returns count[d] elements along each dimension d starting at
	// start[d], in row-major order.
	ReadSlice(start, count []uint64) ([]byte, error)

	Class() message.LayoutClass
}

// New returns the reader for a dataset's layout message.
func New(
	layout *message.DataLayout,
	dataspace *message.Dataspace,
	datatype *message.Datatype,
	filterPipeline *message.FilterPipeline,
	reader *binary.Reader,
) (Layout, error) {
	if layout == nil {
		return nil, fmt.Errorf("nil layout message")
	}

	switch layout.Class {
	case message.LayoutCompact:
		return NewCompact(layout, dataspace, datatype), nil
	case message.LayoutContiguous:
		return NewContiguous(layout, dataspace, datatype, reader), nil
	case message.LayoutChunked:
		return NewChunked(layout, dataspace, datatype, filterPipeline, reader)
	default:
		return nil, fmt.Errorf("unsupported layout class: %d", layout.Class)
	}
}

func dimsOf(ds *message.Dataspace) []uint64 {
	if ds == nil {
		return nil
	}
	return ds.Dimensions
}

func elemSize(dt *message.Datatype) uint64 {
	if dt == nil {
		return 0
	}
	return uint64(dt.Size)
}

func calculateDataSize(dataspace *message.Dataspace, datatype *message.Datatype) uint64 {
	if dataspace == nil || datatype == nil {
		return 0
	}
	return dataspace.NumElements() * uint64(datatype.Size)
}

func product(dims []uint64) uint64 {
	n := uint64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

// checkBox reports whether the box lies inside dims.
func checkBox(dims, start, count []uint64) error {
	if len(start) != len(dims) || len(count) != len(dims) {
		return fmt.Errorf("box of rank %d/%d for a rank %d dataset", len(start), len(count), len(dims))
	}
	for d := range dims {
		if start[d]+count[d] > dims[d] {
			return fmt.Errorf("box [%d, %d) exceeds extent %d of dimension %d",
				start[d], start[d]+count[d], dims[d], d)
		}
	}
	return nil
}

// rowStrides returns the byte stride of each dimension of a row-major array.
func rowStrides(dims []uint64, elem uint64) []uint64 {
	strides := make([]uint64, len(dims))
	s := elem
	for d := len(dims) - 1; d >= 0; d-- {
		strides[d] = s
		s *= dims[d]
	}
	return strides
}

// eachRow visits the innermost rows of a box of extent elements that sits at
// srcAt in an array shaped srcDims and is copied to dstAt in an array shaped
// dstDims. fn receives byte offsets into both arrays and the row length.
func eachRow(srcDims, srcAt, dstDims, dstAt, extent []uint64, elem uint64, fn func(src, dst, n uint64) error) error {
	rank := len(extent)
	if rank == 0 {
		return fn(0, 0, elem)
	}
	for _, e := range extent {
		if e == 0 {
			return nil
		}
	}

	ss, ds := rowStrides(srcDims, elem), rowStrides(dstDims, elem)
	row := extent[rank-1] * elem
	idx := make([]uint64, rank)
	for {
		var so, do uint64
		for d := 0; d < rank; d++ {
			so += (srcAt[d] + idx[d]) * ss[d]
			do += (dstAt[d] + idx[d]) * ds[d]
		}
		if err := fn(so, do, row); err != nil {
			return err
		}

		d := rank - 2
		for ; d >= 0; d-- {
			if idx[d]++; idx[d] < extent[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return nil
		}
	}
}

// copyBox copies a box between two row-major buffers. Rows that fall
// outside either buffer are skipped.
func copyBox(dst []byte, dstDims, dstAt []uint64, src []byte, srcDims, srcAt, extent []uint64, elem uint64) {
	_ = eachRow(srcDims, srcAt, dstDims, dstAt, extent, elem, func(s, d, n uint64) error {
		if s+n <= uint64(len(src)) && d+n <= uint64(len(dst)) {
			copy(dst[d:d+n], src[s:s+n])
		}
		return nil
	})
}
