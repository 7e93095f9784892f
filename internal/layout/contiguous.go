package layout

import (
	"errors"
	"fmt"

	"github.com/robert-malhotra/go-nexus/internal/binary"
	"github.com/robert-malhotra/go-nexus/internal/message"
)

var errNotAllocated = errors.New("contiguous data not allocated")

// Contiguous reads data stored as one block of the file.
type Contiguous struct {
	address uint64
	size    uint64
	dims    []uint64
	elem    uint64
	reader  *binary.Reader
}

func NewContiguous(
	layout *message.DataLayout,
	dataspace *message.Dataspace,
	datatype *message.Datatype,
	reader *binary.Reader,
) *Contiguous {
	size := layout.Size
	if size == 0 {
		size = calculateDataSize(dataspace, datatype)
	}
	return &Contiguous{
		address: layout.Address,
		size:    size,
		dims:    dimsOf(dataspace),
		elem:    elemSize(datatype),
		reader:  reader,
	}
}

func (c *Contiguous) Class() message.LayoutClass {
	return message.LayoutContiguous
}

func (c *Contiguous) Read() ([]byte, error) {
	if c.reader.IsUndefinedOffset(c.address) {
		return nil, errNotAllocated
	}
	if c.size == 0 {
		return []byte{}, nil
	}
	data, err := c.reader.At(int64(c.address)).ReadBytes(int(c.size))
	if err != nil {
		return nil, fmt.Errorf("reading contiguous data: %w", err)
	}
	return data, nil
}

// ReadSlice reads the rows of the box straight from the file.
func (c *Contiguous) ReadSlice(start, count []uint64) ([]byte, error) {
	if len(c.dims) == 0 && len(start) == 0 && len(count) == 0 {
		return c.Read()
	}
	if err := checkBox(c.dims, start, count); err != nil {
		return nil, err
	}
	if c.reader.IsUndefinedOffset(c.address) {
		return nil, errNotAllocated
	}

	out := make([]byte, product(count)*c.elem)
	err := eachRow(c.dims, start, count, make([]uint64, len(count)), count, c.elem, func(s, d, n uint64) error {
		row, err := c.reader.At(int64(c.address+s)).ReadBytes(int(n))
		if err != nil {
			return fmt.Errorf("reading contiguous data: %w", err)
		}
		copy(out[d:], row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
