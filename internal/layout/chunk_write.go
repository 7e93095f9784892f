package layout

import (
	"fmt"

	"github.com/robert-malhotra/go-nexus/internal/binary"
	"github.com/robert-malhotra/go-nexus/internal/btree"
	"github.com/robert-malhotra/go-nexus/internal/filter"
	"github.com/robert-malhotra/go-nexus/internal/message"
)

// ChunkWriter writes chunked dataset data together with its chunk index.
type ChunkWriter struct {
	w           *binary.Writer
	chunkDims   []uint32
	elementSize uint32
	pipeline    *filter.Pipeline
	allocator   func(size int64) uint64
}

// NewChunkWriter creates a new chunk writer. pipeline may be nil.
func NewChunkWriter(w *binary.Writer, chunkDims []uint32, elementSize uint32, pipeline *filter.Pipeline, allocator func(size int64) uint64) *ChunkWriter {
	return &ChunkWriter{
		w:           w,
		chunkDims:   chunkDims,
		elementSize: elementSize,
		pipeline:    pipeline,
		allocator:   allocator,
	}
}

// ChunkSize returns the unfiltered size in bytes of one chunk.
func (cw *ChunkWriter) ChunkSize() uint64 {
	size := uint64(cw.elementSize)
	for _, dim := range cw.chunkDims {
		size *= uint64(dim)
	}
	return size
}

func (cw *ChunkWriter) filtered() bool {
	return cw.pipeline != nil && !cw.pipeline.Empty()
}

// ChunkIndex describes a written chunk index.
type ChunkIndex struct {
	Type     message.ChunkIndexType
	Address  uint64 // index header, or undefined when there are no chunks
	PageBits uint8  // fixed array only
}

// IndexFor returns the chunk index for a dataset with the given maximum
// dimensions: a fixed array when every dimension is bounded, an extensible
// array for one unlimited dimension and a v2 B-tree for more.
func IndexFor(maxDims []uint64) message.ChunkIndexType {
	n := 0
	for _, m := range maxDims {
		if m == unlimited {
			n++
		}
	}
	switch n {
	case 0:
		return message.ChunkIndexFixedArray
	case 1:
		return message.ChunkIndexExtensibleArray
	}
	return message.ChunkIndexBTreeV2
}

// Write splits data (row-major, shaped dims) into padded chunks, encodes
// them through the pipeline, writes them, and indexes them with the index
// IndexFor picks for maxDims. A nil maxDims means the dataset cannot grow.
func (cw *ChunkWriter) Write(data []byte, dims, maxDims []uint64) (ChunkIndex, error) {
	if len(maxDims) != len(dims) {
		maxDims = dims
	}
	kind := IndexFor(maxDims)
	chunks := SplitIntoChunks(data, dims, cw.chunkDims, cw.elementSize)
	if len(chunks) == 0 {
		return ChunkIndex{Type: kind, Address: cw.w.UndefinedOffset(), PageBits: 10}, nil
	}

	sizes := make([]uint32, len(chunks))
	masks := make([]uint32, len(chunks))
	if cw.filtered() {
		for i, chunk := range chunks {
			encoded, mask, err := cw.pipeline.Encode(chunk)
			if err != nil {
				return ChunkIndex{}, fmt.Errorf("encoding chunk %d: %w", i, err)
			}
			chunks[i] = encoded
			masks[i] = mask
		}
	}
	for i, chunk := range chunks {
		sizes[i] = uint32(len(chunk))
	}

	addrs, err := cw.WriteChunks(chunks)
	if err != nil {
		return ChunkIndex{}, err
	}

	c := &Chunked{dims: dims, maxDims: maxDims, chunk: make([]uint64, len(dims))}
	for d := range c.chunk {
		c.chunk[d] = uint64(cw.chunkDims[d])
	}
	grid := c.grid()
	entries := make([]btree.ChunkEntry, len(chunks))
	for i := range entries {
		entries[i] = btree.ChunkEntry{
			Offset:     c.origin(uint64(i), grid),
			Address:    addrs[i],
			Size:       sizes[i],
			FilterMask: masks[i],
		}
	}

	idx := ChunkIndex{Type: kind}
	switch kind {
	case message.ChunkIndexFixedArray:
		// The array has a slot for every chunk the dataset may ever hold.
		full := c.maxGrid()
		n := product(full)
		all, allSizes, allMasks := make([]uint64, n), make([]uint32, n), make([]uint32, n)
		for i := range all {
			all[i] = cw.w.UndefinedOffset()
		}
		for _, e := range entries {
			k := c.linear(e.Offset, full)
			all[k], allSizes[k], allMasks[k] = e.Address, e.Size, e.FilterMask
		}
		fa, err := cw.WriteFixedArrayIndex(all, allSizes, allMasks)
		if err != nil {
			return ChunkIndex{}, err
		}
		idx.Address, idx.PageBits = fa.Address, fa.PageBits

	case message.ChunkIndexExtensibleArray:
		unlim, swizzled, err := c.swizzledGrid()
		if err != nil {
			return ChunkIndex{}, err
		}
		elems := make([]arrayElement, len(entries))
		for i, e := range entries {
			elems[i] = arrayElement{index: c.swizzledIndex(e.Offset, unlim, swizzled), entry: e}
		}
		if idx.Address, err = cw.WriteExtensibleArrayIndex(elems, message.DefaultEArrayParams); err != nil {
			return ChunkIndex{}, err
		}

	default:
		sizeLen := 0
		if cw.filtered() {
			sizeLen = chunkSizeLen(cw.ChunkSize())
		}
		idx.Address, err = btree.WriteChunkIndexV2(cw.w, cw.allocator, entries, c.chunk, sizeLen,
			message.DefaultBTreeV2Params)
		if err != nil {
			return ChunkIndex{}, err
		}
	}
	return idx, nil
}

// WriteChunks writes multiple chunks and returns their addresses.
func (cw *ChunkWriter) WriteChunks(chunks [][]byte) ([]uint64, error) {
	addrs := make([]uint64, len(chunks))
	for i, chunk := range chunks {
		addr := cw.allocator(int64(len(chunk)))
		if err := cw.w.At(int64(addr)).WriteBytes(chunk); err != nil {
			return nil, fmt.Errorf("writing chunk %d: %w", i, err)
		}
		addrs[i] = addr
	}
	return addrs, nil
}

// pageBitsFor returns the smallest page size (at least 2^10 entries) that
// holds n entries, so the data block is never paged.
func pageBitsFor(n int) uint8 {
	bits := uint8(10)
	for (1<<bits) < n && bits < 32 {
		bits++
	}
	return bits
}

// chunkSizeLen is the byte width of the filtered chunk size field: one
// byte more than the unfiltered chunk size needs, capped at 8.
func chunkSizeLen(chunkBytes uint64) int {
	n := 1
	for v := chunkBytes >> 8; v > 0; v >>= 8 {
		n++
	}
	n++
	if n > 8 {
		n = 8
	}
	return n
}

// WriteFixedArrayIndex writes a Fixed Array chunk index (FAHD + FADB).
// Entries for filtered datasets carry the stored chunk size and filter mask.
func (cw *ChunkWriter) WriteFixedArrayIndex(chunkAddrs []uint64, chunkSizes, filterMasks []uint32) (ChunkIndex, error) {
	numChunks := len(chunkAddrs)
	offsetSize := cw.w.OffsetSize()
	lengthSize := cw.w.LengthSize()
	pageBits := pageBitsFor(numChunks)

	clientID := uint8(0)
	entrySize := offsetSize
	sizeLen := 0
	if cw.filtered() {
		clientID = 1
		sizeLen = chunkSizeLen(cw.ChunkSize())
		entrySize = offsetSize + sizeLen + 4
	}

	// FAHD: signature, version, client ID, entry size, page bits,
	// max entries (length), data block address (offset), checksum
	headerSize := 4 + 1 + 1 + 1 + 1 + lengthSize + offsetSize + 4
	headerAddr := cw.allocator(int64(headerSize))

	// FADB: signature, version, client ID, header address, entries, checksum
	dataBlockSize := 4 + 1 + 1 + offsetSize + numChunks*entrySize + 4
	dataBlockAddr := cw.allocator(int64(dataBlockSize))

	fadb := make([]byte, dataBlockSize)
	idx := copy(fadb, "FADB")
	fadb[idx] = 0
	fadb[idx+1] = clientID
	idx += 2
	putUint64LE(fadb[idx:], headerAddr, offsetSize)
	idx += offsetSize
	for i, addr := range chunkAddrs {
		putUint64LE(fadb[idx:], addr, offsetSize)
		idx += offsetSize
		if clientID == 1 {
			putUint64LE(fadb[idx:], uint64(chunkSizes[i]), sizeLen)
			idx += sizeLen
			putUint32LE(fadb[idx:], filterMasks[i])
			idx += 4
		}
	}
	putUint32LE(fadb[idx:], binary.Lookup3Checksum(fadb[:idx]))
	if err := cw.w.At(int64(dataBlockAddr)).WriteBytes(fadb); err != nil {
		return ChunkIndex{}, fmt.Errorf("writing fixed array data block: %w", err)
	}

	fahd := make([]byte, headerSize)
	idx = copy(fahd, "FAHD")
	fahd[idx] = 0
	fahd[idx+1] = clientID
	fahd[idx+2] = uint8(entrySize)
	fahd[idx+3] = pageBits
	idx += 4
	putUint64LE(fahd[idx:], uint64(numChunks), lengthSize)
	idx += lengthSize
	putUint64LE(fahd[idx:], dataBlockAddr, offsetSize)
	idx += offsetSize
	putUint32LE(fahd[idx:], binary.Lookup3Checksum(fahd[:idx]))
	if err := cw.w.At(int64(headerAddr)).WriteBytes(fahd); err != nil {
		return ChunkIndex{}, fmt.Errorf("writing fixed array header: %w", err)
	}

	return ChunkIndex{Type: message.ChunkIndexFixedArray, Address: headerAddr, PageBits: pageBits}, nil
}

func putUint64LE(b []byte, v uint64, size int) {
	for i := 0; i < size; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// SplitIntoChunks splits row-major data into full-size chunks in row-major
// chunk order. Edge chunks are zero-padded to the full chunk extent.
func SplitIntoChunks(data []byte, dataDims []uint64, chunkDims []uint32, elementSize uint32) [][]byte {
	if len(dataDims) == 0 {
		return nil
	}
	c := &Chunked{dims: dataDims, chunk: make([]uint64, len(dataDims)), elem: uint64(elementSize)}
	for d, cd := range chunkDims[:len(dataDims)] {
		c.chunk[d] = uint64(cd)
	}
	grid := c.grid()
	n := product(grid)
	if n == 0 {
		return nil
	}

	chunks := make([][]byte, n)
	zero := make([]uint64, len(dataDims))
	extent := make([]uint64, len(dataDims))
	for i := range chunks {
		origin := c.origin(uint64(i), grid)
		for d := range extent {
			extent[d] = min(c.chunk[d], dataDims[d]-origin[d])
		}
		chunks[i] = make([]byte, c.chunkBytes())
		copyBox(chunks[i], c.chunk, zero, data, dataDims, origin, extent, c.elem)
	}
	return chunks
}
