package btree

import (
	"fmt"
	"math/bits"

	"go.uber.org/multierr"

	"github.com/robert-malhotra/go-nexus/internal/binary"
	"github.com/robert-malhotra/go-nexus/internal/message"
)

// Record types of the version 2 B-trees that index chunked datasets.
const (
	recordChunk         uint8 = 10
	recordFilteredChunk uint8 = 11
)

// nodePrefix is the signature, version, type and checksum every v2 node
// carries around its records.
const nodePrefix = 10

// v2Shape derives how many records fit in the nodes at each depth of a
// version 2 B-tree, and the widths of the record counts that internal nodes
// store for their children.
type v2Shape struct {
	nodeSize   int
	recordSize int
	offsetSize int
	nrecSize   int
	levels     []v2Level
}

type v2Level struct {
	maxRecords uint64
	cumRecords uint64 // records held by a full subtree rooted at this depth
	cumSize    int
}

// encSize is the byte width that holds counts up to n.
func encSize(n uint64) int {
	if n == 0 {
		return 1
	}
	return (bits.Len64(n)-1)/8 + 1
}

func newV2Shape(nodeSize, recordSize, offsetSize int) (*v2Shape, error) {
	if recordSize <= 0 || nodeSize-nodePrefix < recordSize {
		return nil, fmt.Errorf("v2 B-tree node of %d bytes cannot hold a %d byte record", nodeSize, recordSize)
	}
	leaf := uint64((nodeSize - nodePrefix) / recordSize)
	return &v2Shape{
		nodeSize:   nodeSize,
		recordSize: recordSize,
		offsetSize: offsetSize,
		nrecSize:   encSize(leaf),
		levels:     []v2Level{{maxRecords: leaf, cumRecords: leaf}},
	}, nil
}

// pointerSize is the width of a child pointer in an internal node at depth.
func (s *v2Shape) pointerSize(depth int) int {
	n := s.offsetSize + s.nrecSize
	if depth > 1 {
		n += s.levels[depth-1].cumSize
	}
	return n
}

// level returns the shape of nodes at depth, deriving any missing levels.
func (s *v2Shape) level(depth int) (v2Level, error) {
	for len(s.levels) <= depth {
		u := len(s.levels)
		ptr := s.pointerSize(u)
		if s.nodeSize < nodePrefix+ptr+s.recordSize {
			return v2Level{}, fmt.Errorf("v2 B-tree node of %d bytes cannot hold internal records", s.nodeSize)
		}
		n := uint64((s.nodeSize - nodePrefix - ptr) / (s.recordSize + ptr))
		cum := (n+1)*s.levels[u-1].cumRecords + n
		s.levels = append(s.levels, v2Level{maxRecords: n, cumRecords: cum, cumSize: encSize(cum)})
	}
	return s.levels[depth], nil
}

// chunkRecords encodes and decodes the chunk records of one tree.
type chunkRecords struct {
	chunk    []uint64
	sizeLen  int // zero for unfiltered chunks
	filtered bool
}

func (c *chunkRecords) size(offsetSize int) int {
	n := offsetSize + 8*len(c.chunk)
	if c.filtered {
		n += c.sizeLen + 4
	}
	return n
}

func (c *chunkRecords) decode(r *binary.Reader) (ChunkEntry, error) {
	var e ChunkEntry
	var err error
	if e.Address, err = r.ReadOffset(); err != nil {
		return e, err
	}
	if c.filtered {
		size, err := r.ReadUintN(c.sizeLen)
		if err != nil {
			return e, err
		}
		e.Size = uint32(size)
		if e.FilterMask, err = r.ReadUint32(); err != nil {
			return e, err
		}
	}
	e.Offset = make([]uint64, len(c.chunk))
	for d := range e.Offset {
		scaled, err := r.ReadUint64()
		if err != nil {
			return e, err
		}
		e.Offset[d] = scaled * c.chunk[d]
	}
	return e, nil
}

func (c *chunkRecords) encode(w *binary.Writer, e ChunkEntry) error {
	errs := []error{w.WriteOffset(e.Address)}
	if c.filtered {
		errs = append(errs, w.WriteUintN(uint64(e.Size), c.sizeLen), w.WriteUint32(e.FilterMask))
	}
	for d, cd := range c.chunk {
		errs = append(errs, w.WriteUint64(e.Offset[d]/cd))
	}
	return multierr.Combine(errs...)
}

// verifyChecksum checks the trailing lookup3 checksum of a metadata block.
func verifyChecksum(block []byte, what string) error {
	n := len(block) - 4
	stored := uint32(block[n]) | uint32(block[n+1])<<8 | uint32(block[n+2])<<16 | uint32(block[n+3])<<24
	if sum := binary.Lookup3Checksum(block[:n]); sum != stored {
		return fmt.Errorf("%s: checksum %#x, stored %#x", what, sum, stored)
	}
	return nil
}

// ReadChunkIndexV2 returns the allocated chunks of a version 2 B-tree chunk
// index. chunk holds the chunk dimensions, which turn the stored chunk
// coordinates back into element offsets.
func ReadChunkIndexV2(r *binary.Reader, addr uint64, chunk []uint64) ([]ChunkEntry, error) {
	o, l := r.OffsetSize(), r.LengthSize()
	head, err := r.At(int64(addr)).ReadBytes(16 + o + 2 + l + 4)
	if err != nil {
		return nil, fmt.Errorf("reading v2 B-tree header at %#x: %w", addr, err)
	}
	if string(head[:4]) != "BTHD" {
		return nil, fmt.Errorf("v2 B-tree header at %#x: bad signature %q", addr, head[:4])
	}
	if err := verifyChecksum(head, "v2 B-tree header"); err != nil {
		return nil, err
	}
	h := r.Over(head)
	h.Skip(4)
	version, _ := h.ReadUint8()
	kind, _ := h.ReadUint8()
	nodeSize, _ := h.ReadUint32()
	recordSize, _ := h.ReadUint16()
	depth, _ := h.ReadUint16()
	h.Skip(2) // split and merge percentages
	root, _ := h.ReadOffset()
	rootRecords, _ := h.ReadUint16()
	if version != 0 {
		return nil, fmt.Errorf("v2 B-tree header: version %d", version)
	}

	recs := &chunkRecords{chunk: chunk, filtered: kind == recordFilteredChunk}
	switch kind {
	case recordChunk:
	case recordFilteredChunk:
		recs.sizeLen = int(recordSize) - o - 4 - 8*len(chunk)
		if recs.sizeLen < 1 || recs.sizeLen > 8 {
			return nil, fmt.Errorf("v2 B-tree records of %d bytes do not fit rank %d chunks", recordSize, len(chunk))
		}
	default:
		return nil, fmt.Errorf("v2 B-tree record type %d does not index chunks", kind)
	}
	if recs.size(o) != int(recordSize) {
		return nil, fmt.Errorf("v2 B-tree records of %d bytes do not fit rank %d chunks", recordSize, len(chunk))
	}
	if rootRecords == 0 || r.IsUndefinedOffset(root) {
		return nil, nil
	}

	shape, err := newV2Shape(int(nodeSize), int(recordSize), o)
	if err != nil {
		return nil, err
	}
	t := &v2Reader{r: r, shape: shape, recs: recs}
	return t.node(root, uint64(rootRecords), int(depth), nil)
}

type v2Reader struct {
	r     *binary.Reader
	shape *v2Shape
	recs  *chunkRecords
}

// node appends the records below the node at addr in key order.
func (t *v2Reader) node(addr, nrec uint64, depth int, out []ChunkEntry) ([]ChunkEntry, error) {
	sig, what := "BTLF", "v2 B-tree leaf"
	size := nodePrefix + int(nrec)*t.shape.recordSize
	var ptr int
	if depth > 0 {
		if _, err := t.shape.level(depth); err != nil {
			return nil, err
		}
		sig, what = "BTIN", "v2 B-tree internal node"
		ptr = t.shape.pointerSize(depth)
		size += int(nrec+1) * ptr
	}
	if size > t.shape.nodeSize {
		return nil, fmt.Errorf("%s at %#x: %d records overflow the node", what, addr, nrec)
	}
	block, err := t.r.At(int64(addr)).ReadBytes(size)
	if err != nil {
		return nil, fmt.Errorf("reading %s at %#x: %w", what, addr, err)
	}
	if string(block[:4]) != sig {
		return nil, fmt.Errorf("%s at %#x: bad signature %q", what, addr, block[:4])
	}
	if err := verifyChecksum(block, what); err != nil {
		return nil, err
	}

	nr := t.r.Over(block)
	nr.Skip(6)
	records := make([]ChunkEntry, nrec)
	for i := range records {
		if records[i], err = t.recs.decode(nr); err != nil {
			return nil, fmt.Errorf("%s at %#x: record %d: %w", what, addr, i, err)
		}
	}
	if depth == 0 {
		return appendAllocated(t.r, out, records...), nil
	}

	for i := uint64(0); i <= nrec; i++ {
		child, err := nr.ReadOffset()
		if err != nil {
			return nil, err
		}
		childRecords, err := nr.ReadUintN(t.shape.nrecSize)
		if err != nil {
			return nil, err
		}
		nr.Skip(int64(ptr - t.shape.offsetSize - t.shape.nrecSize))
		if out, err = t.node(child, childRecords, depth-1, out); err != nil {
			return nil, err
		}
		if i < nrec {
			out = appendAllocated(t.r, out, records[i])
		}
	}
	return out, nil
}

func appendAllocated(r *binary.Reader, out []ChunkEntry, entries ...ChunkEntry) []ChunkEntry {
	for _, e := range entries {
		if e.Address != 0 && !r.IsUndefinedOffset(e.Address) {
			out = append(out, e)
		}
	}
	return out
}

// WriteChunkIndexV2 writes entries, sorted row-major by offset, as a
// version 2 B-tree chunk index and returns the header address. sizeLen is
// the width of the stored chunk size of filtered chunks and zero otherwise.
func WriteChunkIndexV2(w *binary.Writer, alloc func(size int64) uint64, entries []ChunkEntry,
	chunk []uint64, sizeLen int, p message.BTreeV2Params) (uint64, error) {
	o := w.OffsetSize()
	recs := &chunkRecords{chunk: chunk, sizeLen: sizeLen, filtered: sizeLen > 0}
	kind := recordChunk
	if recs.filtered {
		kind = recordFilteredChunk
	}
	shape, err := newV2Shape(int(p.NodeSize), recs.size(o), o)
	if err != nil {
		return 0, err
	}

	n := uint64(len(entries))
	depth := 0
	for {
		lvl, err := shape.level(depth)
		if err != nil {
			return 0, err
		}
		if lvl.cumRecords >= n {
			break
		}
		depth++
	}
	if depth > 0xFFFF {
		return 0, fmt.Errorf("v2 B-tree of %d records is too deep", n)
	}

	headerAddr := alloc(int64(16 + o + 2 + w.LengthSize() + 4))
	b := &v2Builder{w: w, alloc: alloc, shape: shape, recs: recs, kind: kind}
	root, rootRecords := w.UndefinedOffset(), uint64(0)
	if n > 0 {
		if root, rootRecords, err = b.build(entries, depth); err != nil {
			return 0, err
		}
	}

	hw, buf := w.Buffer()
	err = multierr.Combine(
		hw.WriteBytes([]byte("BTHD")),
		hw.WriteUint8(0),
		hw.WriteUint8(kind),
		hw.WriteUint32(p.NodeSize),
		hw.WriteUint16(uint16(shape.recordSize)),
		hw.WriteUint16(uint16(depth)),
		hw.WriteUint8(p.SplitPercent),
		hw.WriteUint8(p.MergePercent),
		hw.WriteOffset(root),
		hw.WriteUint16(uint16(rootRecords)),
		hw.WriteLength(n),
	)
	if err == nil {
		err = hw.WriteUint32(binary.Lookup3Checksum(buf.Bytes()))
	}
	if err == nil {
		err = w.At(int64(headerAddr)).WriteBytes(buf.Bytes())
	}
	if err != nil {
		return 0, fmt.Errorf("writing v2 B-tree header: %w", err)
	}
	return headerAddr, nil
}

type v2Builder struct {
	w     *binary.Writer
	alloc func(size int64) uint64
	shape *v2Shape
	recs  *chunkRecords
	kind  uint8
}

// build writes entries as a subtree of the given depth, spreading them
// evenly over the children, and returns its root address and record count.
func (b *v2Builder) build(entries []ChunkEntry, depth int) (uint64, uint64, error) {
	nw, buf := b.w.Buffer()
	sig := "BTLF"
	if depth > 0 {
		sig = "BTIN"
	}
	errs := []error{nw.WriteBytes([]byte(sig)), nw.WriteUint8(0), nw.WriteUint8(b.kind)}

	if depth == 0 {
		for _, e := range entries {
			errs = append(errs, b.recs.encode(nw, e))
		}
		addr, err := b.flush(nw, buf, multierr.Combine(errs...))
		return addr, uint64(len(entries)), err
	}

	// The children hold everything but the separators between them.
	n := uint64(len(entries))
	below := b.shape.levels[depth-1].cumRecords
	children := (n + 1 + below) / (below + 1)
	per, extra := (n-children+1)/children, (n-children+1)%children

	type pointer struct{ addr, nrec, total uint64 }
	ptrs := make([]pointer, 0, children)
	var seps []ChunkEntry
	at := uint64(0)
	for i := uint64(0); i < children; i++ {
		m := per
		if i < extra {
			m++
		}
		sub := entries[at : at+m]
		addr, nrec, err := b.build(sub, depth-1)
		if err != nil {
			return 0, 0, err
		}
		ptrs = append(ptrs, pointer{addr, nrec, m})
		at += m
		if i+1 < children {
			seps = append(seps, entries[at])
			at++
		}
	}
	for _, e := range seps {
		errs = append(errs, b.recs.encode(nw, e))
	}
	for _, p := range ptrs {
		errs = append(errs, nw.WriteOffset(p.addr), nw.WriteUintN(p.nrec, b.shape.nrecSize))
		if depth > 1 {
			errs = append(errs, nw.WriteUintN(p.total, b.shape.levels[depth-1].cumSize))
		}
	}
	addr, err := b.flush(nw, buf, multierr.Combine(errs...))
	return addr, uint64(len(seps)), err
}

// flush checksums a node image and writes it into a full-size node.
func (b *v2Builder) flush(nw *binary.Writer, buf *binary.Buf, err error) (uint64, error) {
	if err == nil {
		err = nw.WriteUint32(binary.Lookup3Checksum(buf.Bytes()))
	}
	if err != nil {
		return 0, fmt.Errorf("encoding v2 B-tree node: %w", err)
	}
	image := make([]byte, b.shape.nodeSize)
	copy(image, buf.Bytes())
	addr := b.alloc(int64(len(image)))
	if err := b.w.At(int64(addr)).WriteBytes(image); err != nil {
		return 0, fmt.Errorf("writing v2 B-tree node: %w", err)
	}
	return addr, nil
}
