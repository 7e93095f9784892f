package layout

import (
	"fmt"

	"github.com/robert-malhotra/go-nexus/internal/binary"
	"github.com/robert-malhotra/go-nexus/internal/btree"
	"github.com/robert-malhotra/go-nexus/internal/filter"
	"github.com/robert-malhotra/go-nexus/internal/message"
)

// Chunked reads chunked storage through its chunk index. Version 1-3 layouts
// are indexed by a v1 B-tree; version 4 layouts by a single chunk, implicit
// placement, a fixed array, an extensible array or a v2 B-tree.
type Chunked struct {
	layout   *message.DataLayout
	dims     []uint64
	maxDims  []uint64
	chunk    []uint64
	elem     uint64
	pipeline *filter.Pipeline
	reader   *binary.Reader
}

func NewChunked(
	layout *message.DataLayout,
	dataspace *message.Dataspace,
	datatype *message.Datatype,
	filterPipeline *message.FilterPipeline,
	reader *binary.Reader,
) (*Chunked, error) {
	dims := dimsOf(dataspace)
	if len(dims) == 0 {
		dims = []uint64{1}
	}
	// The stored chunk dimensions carry one extra entry, the element size.
	if len(layout.ChunkDims) < len(dims) {
		return nil, fmt.Errorf("chunked layout has %d chunk dimensions for a rank %d dataset",
			len(layout.ChunkDims), len(dims))
	}
	chunk := make([]uint64, len(dims))
	for d := range chunk {
		if chunk[d] = uint64(layout.ChunkDims[d]); chunk[d] == 0 {
			return nil, fmt.Errorf("chunk dimension %d is zero", d)
		}
	}

	c := &Chunked{
		layout:  layout,
		dims:    dims,
		maxDims: dims,
		chunk:   chunk,
		elem:    elemSize(datatype),
		reader:  reader,
	}
	if dataspace != nil && len(dataspace.MaxDims) == len(dims) {
		c.maxDims = dataspace.MaxDims
	}
	if filterPipeline != nil {
		p, err := filter.NewPipeline(filterPipeline)
		if err != nil {
			return nil, fmt.Errorf("creating filter pipeline: %w", err)
		}
		c.pipeline = p
	}
	return c, nil
}

func (c *Chunked) Class() message.LayoutClass {
	return message.LayoutChunked
}

func (c *Chunked) chunkBytes() uint64 {
	return product(c.chunk) * c.elem
}

// Read returns the whole dataset. Chunks that were never written read as
// zero.
func (c *Chunked) Read() ([]byte, error) {
	return c.ReadSlice(make([]uint64, len(c.dims)), c.dims)
}

// ReadSlice decodes only the chunks that intersect the box.
func (c *Chunked) ReadSlice(start, count []uint64) ([]byte, error) {
	if err := checkBox(c.dims, start, count); err != nil {
		return nil, err
	}
	entries, err := c.entries()
	if err != nil {
		return nil, fmt.Errorf("reading chunk index: %w", err)
	}

	out := make([]byte, product(count)*c.elem)
	rank := len(c.dims)
	at := make([]uint64, rank)
	extent := make([]uint64, rank)
	inChunk := make([]uint64, rank)
	inBox := make([]uint64, rank)
	for _, e := range entries {
		if !c.intersect(e.Offset, start, count, at, extent) {
			continue
		}
		data, err := c.readChunk(e)
		if err != nil {
			return nil, err
		}
		for d := range at {
			inChunk[d] = at[d] - e.Offset[d]
			inBox[d] = at[d] - start[d]
		}
		copyBox(out, count, inBox, data, c.chunk, inChunk, extent, c.elem)
	}
	return out, nil
}

// intersect fills at and extent with the overlap of the chunk at origin and
// the box, and reports whether they overlap.
func (c *Chunked) intersect(origin, start, count, at, extent []uint64) bool {
	if len(origin) < len(c.dims) {
		return false
	}
	for d := range c.dims {
		lo := max(origin[d], start[d])
		hi := min(origin[d]+c.chunk[d], start[d]+count[d])
		if hi <= lo {
			return false
		}
		at[d], extent[d] = lo, hi-lo
	}
	return true
}

func (c *Chunked) readChunk(e btree.ChunkEntry) ([]byte, error) {
	size := uint64(e.Size)
	if size == 0 {
		size = c.chunkBytes()
	}
	raw, err := c.reader.At(int64(e.Address)).ReadBytes(int(size))
	if err != nil {
		return nil, fmt.Errorf("reading chunk %v: %w", e.Offset, err)
	}
	if c.pipeline == nil || c.pipeline.Empty() {
		return raw, nil
	}
	data, err := c.pipeline.Decode(raw, e.FilterMask)
	if err != nil {
		return nil, fmt.Errorf("decoding chunk %v: %w", e.Offset, err)
	}
	return data, nil
}

// entries lists the allocated chunks.
func (c *Chunked) entries() ([]btree.ChunkEntry, error) {
	addr := c.layout.ChunkIndexAddr
	if addr == 0 || c.reader.IsUndefinedOffset(addr) {
		return nil, nil
	}
	if c.layout.Version < 4 {
		return btree.ReadChunkIndex(c.reader, addr, len(c.dims))
	}

	switch c.layout.ChunkIndexType {
	case message.ChunkIndexSingleChunk:
		return []btree.ChunkEntry{{
			Offset:     make([]uint64, len(c.dims)),
			Address:    addr,
			Size:       c.layout.FilteredChunkSize,
			FilterMask: c.layout.SingleChunkFilterMask,
		}}, nil
	case message.ChunkIndexImplicit:
		grid := c.grid()
		n := product(grid)
		entries := make([]btree.ChunkEntry, n)
		for i := range entries {
			entries[i] = btree.ChunkEntry{
				Offset:  c.origin(uint64(i), grid),
				Address: addr + uint64(i)*c.chunkBytes(),
			}
		}
		return entries, nil
	case message.ChunkIndexFixedArray:
		return c.fixedArrayEntries(addr)
	case message.ChunkIndexExtensibleArray:
		return c.extensibleArrayEntries(addr)
	case message.ChunkIndexBTreeV2:
		return btree.ReadChunkIndexV2(c.reader, addr, c.chunk)
	}
	return nil, fmt.Errorf("chunk index type %d is not supported", c.layout.ChunkIndexType)
}

// grid returns the number of chunks along each dimension.
func (c *Chunked) grid() []uint64 {
	g := make([]uint64, len(c.dims))
	for d := range g {
		g[d] = (c.dims[d] + c.chunk[d] - 1) / c.chunk[d]
	}
	return g
}

// maxGrid returns the number of chunks along each dimension at the maximum
// extent. Unbounded dimensions count their current chunks.
func (c *Chunked) maxGrid() []uint64 {
	g := c.grid()
	for d, m := range c.maxDims {
		if m != unlimited && m > c.dims[d] {
			g[d] = (m + c.chunk[d] - 1) / c.chunk[d]
		}
	}
	return g
}

// linear is the row-major position of the chunk at origin within grid.
func (c *Chunked) linear(origin, grid []uint64) uint64 {
	var i uint64
	for d := range grid {
		i = i*grid[d] + origin[d]/c.chunk[d]
	}
	return i
}

// origin returns the first element of the i-th chunk in row-major chunk
// order.
func (c *Chunked) origin(i uint64, grid []uint64) []uint64 {
	o := make([]uint64, len(grid))
	for d := len(grid) - 1; d >= 0; d-- {
		o[d] = (i % grid[d]) * c.chunk[d]
		i /= grid[d]
	}
	return o
}

// fixedArrayEntries reads a fixed array index: the FAHD header followed by
// an FADB data block of one entry per chunk. Arrays of more than 2^pageBits
// entries keep them in pages after the data block, each with its own
// checksum and a bit in the block saying whether it was ever written.
func (c *Chunked) fixedArrayEntries(addr uint64) ([]btree.ChunkEntry, error) {
	r := c.reader.At(int64(addr))
	head, err := r.ReadBytes(8)
	if err != nil {
		return nil, fmt.Errorf("reading fixed array header: %w", err)
	}
	if string(head[:4]) != "FAHD" {
		return nil, fmt.Errorf("fixed array header: bad signature %q", head[:4])
	}
	if head[4] != 0 {
		return nil, fmt.Errorf("fixed array header: version %d", head[4])
	}
	o := c.reader.OffsetSize()
	elem := chunkElement{}
	if head[5] == 1 {
		elem.sizeLen = int(head[6]) - o - 4
	}
	if elem.size(o) != int(head[6]) || elem.sizeLen < 0 || elem.sizeLen > 8 {
		return nil, fmt.Errorf("fixed array entries of %d bytes do not index chunks", head[6])
	}
	pageBits := head[7]
	n, err := r.ReadLength()
	if err != nil {
		return nil, err
	}
	block, err := r.ReadOffset()
	if err != nil {
		return nil, err
	}

	grid := c.maxGrid()
	entries := make([]btree.ChunkEntry, 0, n)
	read := func(r *binary.Reader, first, count uint64) error {
		for i := first; i < first+count; i++ {
			e, err := elem.decode(r)
			if err != nil {
				return fmt.Errorf("reading fixed array entry %d: %w", i, err)
			}
			if e.Address == 0 || c.reader.IsUndefinedOffset(e.Address) {
				continue
			}
			e.Offset = c.origin(i, grid)
			entries = append(entries, e)
		}
		return nil
	}

	if pageBits >= 64 || n <= 1<<pageBits {
		br, err := readBlock(c.reader, block, 10+o+int(n)*elem.size(o), "FADB", "fixed array data block")
		if err != nil {
			return nil, err
		}
		br.Skip(1 + int64(o))
		if err := read(br, 0, n); err != nil {
			return nil, err
		}
		return entries, nil
	}

	pageElems := uint64(1) << pageBits
	pages := (n + pageElems - 1) / pageElems
	initSize := int(pages+7) / 8
	br, err := readBlock(c.reader, block, 10+o+initSize, "FADB", "fixed array data block")
	if err != nil {
		return nil, err
	}
	br.Skip(1 + int64(o))
	initialized, err := br.ReadBytes(initSize)
	if err != nil {
		return nil, err
	}
	at := block + uint64(10+o+initSize)
	for p := range pages {
		count := min(pageElems, n-p*pageElems)
		size := int(count)*elem.size(o) + 4
		if initialized[p/8]&(0x80>>(p%8)) != 0 {
			buf, err := c.reader.At(int64(at)).ReadBytes(size)
			if err != nil {
				return nil, fmt.Errorf("reading fixed array page %d: %w", p, err)
			}
			if err := verifyChecksum(buf, "fixed array page"); err != nil {
				return nil, err
			}
			if err := read(c.reader.Over(buf), p*pageElems, count); err != nil {
				return nil, err
			}
		}
		at += uint64(size)
	}
	return entries, nil
}
