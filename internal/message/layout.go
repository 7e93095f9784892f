package message

import (
	"fmt"

	"github.com/robert-malhotra/go-nexus/internal/binary"
)

type LayoutClass uint8

const (
	LayoutCompact    LayoutClass = 0
	LayoutContiguous LayoutClass = 1
	LayoutChunked    LayoutClass = 2
	LayoutVirtual    LayoutClass = 3
)

// ChunkIndexType selects the chunk index of a version 4 chunked layout.
type ChunkIndexType uint8

const (
	ChunkIndexSingleChunk     ChunkIndexType = 1
	ChunkIndexImplicit        ChunkIndexType = 2
	ChunkIndexFixedArray      ChunkIndexType = 3
	ChunkIndexExtensibleArray ChunkIndexType = 4
	ChunkIndexBTreeV2         ChunkIndexType = 5
)

// EArrayParams are the creation parameters of an extensible array chunk
// index.
type EArrayParams struct {
	MaxBits       uint8 // log2 of the largest element count
	IndexElements uint8 // elements kept in the index block
	MinPointers   uint8 // data block pointers of the smallest super block
	MinElements   uint8 // elements of the smallest data block
	PageBits      uint8 // log2 of the elements in a data block page
}

// BTreeV2Params are the creation parameters of a version 2 B-tree chunk
// index.
type BTreeV2Params struct {
	NodeSize     uint32
	SplitPercent uint8
	MergePercent uint8
}

// Parameters the HDF5 library gives new datasets.
var (
	DefaultEArrayParams  = EArrayParams{MaxBits: 32, IndexElements: 4, MinPointers: 4, MinElements: 16, PageBits: 10}
	DefaultBTreeV2Params = BTreeV2Params{NodeSize: 2048, SplitPercent: 100, MergePercent: 40}
)

// DataLayout says where a dataset's elements are stored.
//
// ChunkDims carries one more entry than the dataset rank: the element size
// in bytes. Layouts before version 4 index their chunks with a v1 B-tree.
type DataLayout struct {
	Version uint8
	Class   LayoutClass

	CompactData []byte

	Address uint64
	Size    uint64

	ChunkDims          []uint32
	ChunkIndexAddr     uint64
	ChunkIndexType     ChunkIndexType
	ChunkFlags         uint8
	DimensionSizeBytes uint8

	// Single chunk index with filters.
	FilteredChunkSize     uint32
	SingleChunkFilterMask uint32

	// Fixed array index.
	PageBits uint8

	EArray EArrayParams
	BTree  BTreeV2Params
}

func (m *DataLayout) Type() Type { return TypeDataLayout }

func decodeDataLayout(r *binary.Reader) (*DataLayout, error) {
	f := &fields{r: r}
	l := &DataLayout{Version: f.u8()}
	var err error
	switch l.Version {
	case 1, 2:
		l.decodeV1(f)
	case 3, 4:
		err = l.decodeV3(f)
	default:
		if f.err == nil {
			err = fmt.Errorf("data layout version %d is not supported", l.Version)
		}
	}
	if err == nil {
		err = f.err
	}
	if err != nil {
		return nil, fmt.Errorf("data layout: %w", err)
	}
	return l, nil
}

// decodeV1 reads the layouts of versions 1 and 2: class, an address unless
// compact, the dimension sizes and compact data last.
func (m *DataLayout) decodeV1(f *fields) {
	rank, class := int(f.u8()), LayoutClass(f.u8())
	f.skip(5)
	m.Class = class
	if class != LayoutCompact {
		m.Address = f.offset()
	}
	dims := make([]uint32, rank)
	for i := range dims {
		dims[i] = f.u32()
	}
	switch class {
	case LayoutChunked:
		m.ChunkIndexAddr, m.Address = m.Address, 0
		m.ChunkDims = dims
	case LayoutCompact:
		m.CompactData = f.bytes(int(f.u32()))
	}
}

func (m *DataLayout) decodeV3(f *fields) error {
	m.Class = LayoutClass(f.u8())
	switch m.Class {
	case LayoutCompact:
		m.CompactData = f.bytes(int(f.u16()))
	case LayoutContiguous:
		m.Address, m.Size = f.offset(), f.length()
	case LayoutChunked:
		if m.Version == 3 {
			rank := int(f.u8())
			m.ChunkIndexAddr = f.offset()
			m.ChunkDims = make([]uint32, rank)
			for i := range m.ChunkDims {
				m.ChunkDims[i] = f.u32()
			}
			return nil
		}
		m.decodeV4Chunked(f)
	default:
		if f.err == nil {
			return fmt.Errorf("layout class %d is not supported", m.Class)
		}
	}
	return nil
}

func (m *DataLayout) decodeV4Chunked(f *fields) {
	m.ChunkFlags = f.u8()
	rank := int(f.u8())
	m.DimensionSizeBytes = f.u8()
	m.ChunkDims = make([]uint32, rank)
	for i := range m.ChunkDims {
		m.ChunkDims[i] = uint32(f.uintN(int(m.DimensionSizeBytes)))
	}
	m.ChunkIndexType = ChunkIndexType(f.u8())
	switch m.ChunkIndexType {
	case ChunkIndexSingleChunk:
		if m.ChunkFlags&0x02 != 0 {
			m.FilteredChunkSize = uint32(f.length())
			m.SingleChunkFilterMask = f.u32()
		}
	case ChunkIndexFixedArray:
		m.PageBits = f.u8()
	case ChunkIndexExtensibleArray:
		m.EArray = EArrayParams{MaxBits: f.u8(), IndexElements: f.u8(), MinPointers: f.u8(), MinElements: f.u8(), PageBits: f.u8()}
	case ChunkIndexBTreeV2:
		m.BTree = BTreeV2Params{NodeSize: f.u32(), SplitPercent: f.u8(), MergePercent: f.u8()}
	}
	m.ChunkIndexAddr = f.offset()
}

// Encode writes version 3, or version 4 for chunked layouts that were not
// read as version 3.
func (m *DataLayout) Encode(w *binary.Writer) error {
	e := &emit{w: w}
	v4 := m.Class == LayoutChunked && (m.Version == 0 || m.Version >= 4)
	if v4 {
		e.u8(4)
	} else {
		e.u8(3)
	}
	e.u8(uint8(m.Class))

	switch m.Class {
	case LayoutCompact:
		e.u16(uint16(len(m.CompactData)))
		e.bytes(m.CompactData)
	case LayoutContiguous:
		e.offset(m.Address)
		e.length(m.Size)
	case LayoutChunked:
		if !v4 {
			e.u8(uint8(len(m.ChunkDims)))
			e.offset(m.ChunkIndexAddr)
			for _, d := range m.ChunkDims {
				e.u32(d)
			}
			break
		}
		m.encodeV4Chunked(e)
	default:
		return fmt.Errorf("layout class %d cannot be written", m.Class)
	}
	return e.err
}

func (m *DataLayout) encodeV4Chunked(e *emit) {
	width := int(m.DimensionSizeBytes)
	if width == 0 {
		width = dimWidth(m.ChunkDims)
	}
	e.u8(m.ChunkFlags)
	e.u8(uint8(len(m.ChunkDims)))
	e.u8(uint8(width))
	for _, d := range m.ChunkDims {
		e.uintN(uint64(d), width)
	}
	e.u8(uint8(m.ChunkIndexType))
	switch m.ChunkIndexType {
	case ChunkIndexSingleChunk:
		if m.ChunkFlags&0x02 != 0 {
			e.length(uint64(m.FilteredChunkSize))
			e.u32(m.SingleChunkFilterMask)
		}
	case ChunkIndexFixedArray:
		bits := m.PageBits
		if bits == 0 {
			bits = 10
		}
		e.u8(bits)
	case ChunkIndexExtensibleArray:
		p := m.EArray
		if p == (EArrayParams{}) {
			p = DefaultEArrayParams
		}
		e.bytes([]byte{p.MaxBits, p.IndexElements, p.MinPointers, p.MinElements, p.PageBits})
	case ChunkIndexBTreeV2:
		p := m.BTree
		if p == (BTreeV2Params{}) {
			p = DefaultBTreeV2Params
		}
		e.u32(p.NodeSize)
		e.u8(p.SplitPercent)
		e.u8(p.MergePercent)
	}
	e.offset(m.ChunkIndexAddr)
}

func dimWidth(dims []uint32) int {
	var largest uint32
	for _, d := range dims {
		largest = max(largest, d)
	}
	return binary.Width(uint64(largest))
}

func NewCompactLayout(data []byte) *DataLayout {
	return &DataLayout{Version: 3, Class: LayoutCompact, CompactData: data}
}

func NewContiguousLayout(address, size uint64) *DataLayout {
	return &DataLayout{Version: 3, Class: LayoutContiguous, Address: address, Size: size}
}

// NewChunkedLayout returns a version 4 layout. The element size is appended
// to chunkDims.
func NewChunkedLayout(chunkDims []uint32, elementSize uint32, index ChunkIndexType) *DataLayout {
	dims := append(append([]uint32(nil), chunkDims...), elementSize)
	l := &DataLayout{
		Version:            4,
		Class:              LayoutChunked,
		ChunkDims:          dims,
		ChunkIndexType:     index,
		DimensionSizeBytes: uint8(dimWidth(dims)),
	}
	switch index {
	case ChunkIndexExtensibleArray:
		l.EArray = DefaultEArrayParams
	case ChunkIndexBTreeV2:
		l.BTree = DefaultBTreeV2Params
	}
	return l
}
