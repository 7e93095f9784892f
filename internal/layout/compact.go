package layout

import (
	"github.com/robert-malhotra/go-nexus/internal/message"
)

// Compact holds data stored inside the object header.
type Compact struct {
	data []byte
	dims []uint64
	elem uint64
}

func NewCompact(layout *message.DataLayout, dataspace *message.Dataspace, datatype *message.Datatype) *Compact {
	return &Compact{
		data: layout.CompactData,
		dims: dimsOf(dataspace),
		elem: elemSize(datatype),
	}
}

func (c *Compact) Class() message.LayoutClass {
	return message.LayoutCompact
}

// Read returns a copy of the stored bytes.
func (c *Compact) Read() ([]byte, error) {
	return append([]byte(nil), c.data...), nil
}

func (c *Compact) ReadSlice(start, count []uint64) ([]byte, error) {
	if len(c.dims) == 0 && len(start) == 0 && len(count) == 0 {
		return c.Read()
	}
	if err := checkBox(c.dims, start, count); err != nil {
		return nil, err
	}
	out := make([]byte, product(count)*c.elem)
	copyBox(out, count, make([]uint64, len(count)), c.data, c.dims, start, count, c.elem)
	return out, nil
}
