package layout

import (
	"fmt"
	"math/bits"
	"sort"

	"go.uber.org/multierr"

	"github.com/robert-malhotra/go-nexus/internal/binary"
	"github.com/robert-malhotra/go-nexus/internal/btree"
	"github.com/robert-malhotra/go-nexus/internal/message"
)

// unlimited is the maximum extent of a dimension that grows without bound.
const unlimited = ^uint64(0)

// earray is the block geometry of an extensible array. Elements past those
// kept in the index block live in data blocks grouped by super block; the
// index block points directly at the data blocks of the first super blocks
// and at the super blocks that follow.
type earray struct {
	elemSize   int
	params     message.EArrayParams
	offsetSize int
	blockOff   int    // width of a block's first element index
	pageElems  uint64 // elements per data block page
	supers     []superBlock
	direct     int // super blocks whose data blocks the index block lists
	directData int // data block addresses in the index block
}

type superBlock struct {
	dataBlocks uint64
	blockElems uint64
	start      uint64 // first element, not counting the index block
	firstBlock uint64 // data blocks in all earlier super blocks
}

func log2(n uint64) int { return bits.Len64(n) - 1 }

func newEArray(p message.EArrayParams, elemSize, offsetSize int) (*earray, error) {
	if p.MinElements == 0 || p.MinElements&(p.MinElements-1) != 0 ||
		p.MinPointers == 0 || p.MinPointers&(p.MinPointers-1) != 0 ||
		p.MaxBits == 0 || p.MaxBits > 64 || int(p.MaxBits) < log2(uint64(p.MinElements)) {
		return nil, fmt.Errorf("extensible array parameters %+v are invalid", p)
	}
	a := &earray{
		elemSize:   elemSize,
		params:     p,
		offsetSize: offsetSize,
		blockOff:   (int(p.MaxBits) + 7) / 8,
		pageElems:  1 << p.PageBits,
		direct:     2 * log2(uint64(p.MinPointers)),
		directData: 2 * (int(p.MinPointers) - 1),
	}
	var start, first uint64
	n := 1 + int(p.MaxBits) - log2(uint64(p.MinElements))
	for s := range n {
		sb := superBlock{
			dataBlocks: 1 << (s / 2),
			blockElems: (1 << ((s + 1) / 2)) * uint64(p.MinElements),
			start:      start,
			firstBlock: first,
		}
		a.supers = append(a.supers, sb)
		start += sb.dataBlocks * sb.blockElems
		first += sb.dataBlocks
	}
	a.direct = min(a.direct, len(a.supers))
	return a, nil
}

// locate returns the super block, data block and slot of an element that is
// not kept in the index block.
func (a *earray) locate(idx uint64) (s int, block, slot uint64) {
	idx -= uint64(a.params.IndexElements)
	s = log2(idx/uint64(a.params.MinElements) + 1)
	if s >= len(a.supers) {
		return s, 0, 0
	}
	rel := idx - a.supers[s].start
	return s, rel / a.supers[s].blockElems, rel % a.supers[s].blockElems
}

func (a *earray) pages(s int) uint64 {
	if e := a.supers[s].blockElems; e > a.pageElems {
		return e / a.pageElems
	}
	return 0
}

// The fixed parts of each block: signature, version, client ID, header
// address and checksum, plus the first element index of super and data
// blocks.
func (a *earray) headerSize(lengthSize int) int { return 12 + 6*lengthSize + a.offsetSize + 4 }
func (a *earray) blockPrefix() int              { return 10 + a.offsetSize + a.blockOff }

func (a *earray) indexBlockSize() int {
	return 10 + a.offsetSize + int(a.params.IndexElements)*a.elemSize +
		(a.directData+len(a.supers)-a.direct)*a.offsetSize
}

func (a *earray) pageInitSize(s int) int { return int(a.pages(s)+7) / 8 }

func (a *earray) superBlockSize(s int) int {
	n := int(a.supers[s].dataBlocks)
	return a.blockPrefix() + n*a.pageInitSize(s) + n*a.offsetSize
}

func (a *earray) pageSize() int { return int(a.pageElems)*a.elemSize + 4 }

func (a *earray) dataBlockSize(s int) int {
	n := a.supers[s].blockElems
	if p := a.pages(s); p > 0 {
		return a.blockPrefix() + int(p)*a.pageSize()
	}
	return a.blockPrefix() + int(n)*a.elemSize
}

// chunkElement is the element format of chunk index arrays: an address,
// then for filtered chunks the stored size and filter mask.
type chunkElement struct {
	sizeLen int
}

func (c chunkElement) size(offsetSize int) int {
	if c.sizeLen == 0 {
		return offsetSize
	}
	return offsetSize + c.sizeLen + 4
}

func (c chunkElement) decode(r *binary.Reader) (btree.ChunkEntry, error) {
	var e btree.ChunkEntry
	var err error
	if e.Address, err = r.ReadOffset(); err != nil || c.sizeLen == 0 {
		return e, err
	}
	size, err := r.ReadUintN(c.sizeLen)
	if err != nil {
		return e, err
	}
	e.Size = uint32(size)
	e.FilterMask, err = r.ReadUint32()
	return e, err
}

func (c chunkElement) encode(w *binary.Writer, e btree.ChunkEntry) error {
	if c.sizeLen == 0 {
		return w.WriteOffset(e.Address)
	}
	return multierr.Combine(
		w.WriteOffset(e.Address),
		w.WriteUintN(uint64(e.Size), c.sizeLen),
		w.WriteUint32(e.FilterMask),
	)
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

// readBlock reads a checksummed metadata block and returns a reader over it
// positioned after the signature and version.
func readBlock(r *binary.Reader, addr uint64, size int, sig, what string) (*binary.Reader, error) {
	buf, err := r.At(int64(addr)).ReadBytes(size)
	if err != nil {
		return nil, fmt.Errorf("reading %s at %#x: %w", what, addr, err)
	}
	if string(buf[:4]) != sig {
		return nil, fmt.Errorf("%s at %#x: bad signature %q", what, addr, buf[:4])
	}
	if buf[4] != 0 {
		return nil, fmt.Errorf("%s at %#x: version %d", what, addr, buf[4])
	}
	if err := verifyChecksum(buf, fmt.Sprintf("%s at %#x", what, addr)); err != nil {
		return nil, err
	}
	br := r.Over(buf)
	br.Skip(5)
	return br, nil
}

// earrayReader collects the elements of one extensible array.
type earrayReader struct {
	r    *binary.Reader
	a    *earray
	elem chunkElement
	out  func(idx uint64, e btree.ChunkEntry)
}

// extensibleArrayEntries reads an extensible array chunk index. The array
// is indexed by chunk position with the unlimited dimension slowest.
func (c *Chunked) extensibleArrayEntries(addr uint64) ([]btree.ChunkEntry, error) {
	o, l := c.reader.OffsetSize(), c.reader.LengthSize()
	hr, err := readBlock(c.reader, addr, 12+6*l+o+4, "EAHD", "extensible array header")
	if err != nil {
		return nil, err
	}
	client, _ := hr.ReadUint8()
	elemSize, _ := hr.ReadUint8()
	var p message.EArrayParams
	p.MaxBits, _ = hr.ReadUint8()
	p.IndexElements, _ = hr.ReadUint8()
	p.MinElements, _ = hr.ReadUint8()
	p.MinPointers, _ = hr.ReadUint8()
	p.PageBits, _ = hr.ReadUint8()
	hr.Skip(int64(6 * l)) // statistics
	iblock, _ := hr.ReadOffset()

	elem := chunkElement{}
	if client == 1 {
		elem.sizeLen = int(elemSize) - o - 4
	}
	if elem.size(o) != int(elemSize) || elem.sizeLen < 0 || elem.sizeLen > 8 {
		return nil, fmt.Errorf("extensible array elements of %d bytes do not index chunks", elemSize)
	}
	a, err := newEArray(p, int(elemSize), o)
	if err != nil {
		return nil, err
	}
	if c.reader.IsUndefinedOffset(iblock) {
		return nil, nil
	}

	unlim, swizzled, err := c.swizzledGrid()
	if err != nil {
		return nil, err
	}
	var entries []btree.ChunkEntry
	er := &earrayReader{r: c.reader, a: a, elem: elem, out: func(idx uint64, e btree.ChunkEntry) {
		if e.Address == 0 || c.reader.IsUndefinedOffset(e.Address) {
			return
		}
		e.Offset = c.swizzledOrigin(idx, unlim, swizzled)
		entries = append(entries, e)
	}}
	if err := er.indexBlock(iblock); err != nil {
		return nil, err
	}
	return entries, nil
}

func (er *earrayReader) indexBlock(addr uint64) error {
	a := er.a
	r, err := readBlock(er.r, addr, a.indexBlockSize(), "EAIB", "extensible array index block")
	if err != nil {
		return err
	}
	r.Skip(1 + int64(a.offsetSize)) // client ID, header address
	for i := range uint64(a.params.IndexElements) {
		e, err := er.elem.decode(r)
		if err != nil {
			return err
		}
		er.out(i, e)
	}

	direct := make([]uint64, a.directData)
	for i := range direct {
		if direct[i], err = r.ReadOffset(); err != nil {
			return err
		}
	}
	for s := range a.direct {
		sb := a.supers[s]
		for j := range sb.dataBlocks {
			k := sb.firstBlock + j
			if k >= uint64(len(direct)) || er.r.IsUndefinedOffset(direct[k]) {
				continue
			}
			if err := er.dataBlock(direct[k], s, j, nil); err != nil {
				return err
			}
		}
	}
	for s := a.direct; s < len(a.supers); s++ {
		sblock, err := r.ReadOffset()
		if err != nil {
			return err
		}
		if er.r.IsUndefinedOffset(sblock) {
			continue
		}
		if err := er.superBlock(sblock, s); err != nil {
			return err
		}
	}
	return nil
}

func (er *earrayReader) superBlock(addr uint64, s int) error {
	a := er.a
	r, err := readBlock(er.r, addr, a.superBlockSize(s), "EASB", "extensible array super block")
	if err != nil {
		return err
	}
	r.Skip(1 + int64(a.offsetSize+a.blockOff))
	sb := a.supers[s]
	initialized, err := r.ReadBytes(int(sb.dataBlocks) * a.pageInitSize(s))
	if err != nil {
		return err
	}
	for j := range sb.dataBlocks {
		dblock, err := r.ReadOffset()
		if err != nil {
			return err
		}
		if er.r.IsUndefinedOffset(dblock) {
			continue
		}
		if err := er.dataBlock(dblock, s, j, initialized); err != nil {
			return err
		}
	}
	return nil
}

// dataBlock reads data block j of super block s. Paged blocks keep their
// elements in pages after the block; initialized has a bit per page, most
// significant first, with the pages of the super block's blocks in order.
func (er *earrayReader) dataBlock(addr uint64, s int, j uint64, initialized []byte) error {
	a := er.a
	sb := a.supers[s]
	first := uint64(a.params.IndexElements) + sb.start + j*sb.blockElems
	pages := a.pages(s)
	if pages == 0 {
		r, err := readBlock(er.r, addr, a.dataBlockSize(s), "EADB", "extensible array data block")
		if err != nil {
			return err
		}
		r.Skip(1 + int64(a.offsetSize+a.blockOff))
		return er.elements(r, first, sb.blockElems)
	}

	if _, err := readBlock(er.r, addr, a.blockPrefix(), "EADB", "extensible array data block"); err != nil {
		return err
	}
	for p := range pages {
		bit := j*pages + p
		if initialized != nil && initialized[bit/8]&(0x80>>(bit%8)) == 0 {
			continue
		}
		at := addr + uint64(a.blockPrefix()) + p*uint64(a.pageSize())
		buf, err := er.r.At(int64(at)).ReadBytes(a.pageSize())
		if err != nil {
			return fmt.Errorf("reading extensible array page at %#x: %w", at, err)
		}
		if err := verifyChecksum(buf, fmt.Sprintf("extensible array page at %#x", at)); err != nil {
			return err
		}
		if err := er.elements(er.r.Over(buf), first+p*a.pageElems, a.pageElems); err != nil {
			return err
		}
	}
	return nil
}

func (er *earrayReader) elements(r *binary.Reader, first, n uint64) error {
	for i := range n {
		e, err := er.elem.decode(r)
		if err != nil {
			return err
		}
		er.out(first+i, e)
	}
	return nil
}

// swizzledGrid returns the unlimited dimension and the maximum number of
// chunks along each dimension once the unlimited one is moved first.
func (c *Chunked) swizzledGrid() (int, []uint64, error) {
	unlim := -1
	for d, m := range c.maxDims {
		if m == unlimited {
			if unlim >= 0 {
				return 0, nil, fmt.Errorf("extensible array index over more than one unlimited dimension")
			}
			unlim = d
		}
	}
	if unlim < 0 {
		return 0, nil, fmt.Errorf("extensible array index without an unlimited dimension")
	}
	grid := make([]uint64, 0, len(c.maxDims))
	grid = append(grid, 0)
	for d, m := range c.maxDims {
		if d != unlim {
			grid = append(grid, (m+c.chunk[d]-1)/c.chunk[d])
		}
	}
	return unlim, grid, nil
}

// swizzledOrigin is the first element of the chunk at array index idx.
func (c *Chunked) swizzledOrigin(idx uint64, unlim int, grid []uint64) []uint64 {
	scaled := make([]uint64, len(grid))
	for d := len(grid) - 1; d > 0; d-- {
		scaled[d] = idx % grid[d]
		idx /= grid[d]
	}
	scaled[0] = idx

	o := make([]uint64, len(grid))
	o[unlim] = scaled[0] * c.chunk[unlim]
	k := 1
	for d := range o {
		if d != unlim {
			o[d] = scaled[k] * c.chunk[d]
			k++
		}
	}
	return o
}

// swizzledIndex is the inverse of swizzledOrigin.
func (c *Chunked) swizzledIndex(origin []uint64, unlim int, grid []uint64) uint64 {
	idx := origin[unlim] / c.chunk[unlim]
	k := 1
	for d := range origin {
		if d != unlim {
			idx = idx*grid[k] + origin[d]/c.chunk[d]
			k++
		}
	}
	return idx
}

type arrayElement struct {
	index uint64
	entry btree.ChunkEntry
}

// earrayWriter lays out an extensible array holding a set of elements.
type earrayWriter struct {
	w     *binary.Writer
	alloc func(size int64) uint64
	a     *earray
	elem  chunkElement
	head  uint64
	stats struct{ supers, superBytes, blocks, blockBytes, maxIndex, elements uint64 }
}

// WriteExtensibleArrayIndex writes an extensible array chunk index over the
// given elements and returns its header address.
func (cw *ChunkWriter) WriteExtensibleArrayIndex(elems []arrayElement, p message.EArrayParams) (uint64, error) {
	o := cw.w.OffsetSize()
	elem := chunkElement{}
	client := uint8(0)
	if cw.filtered() {
		client = 1
		elem.sizeLen = chunkSizeLen(cw.ChunkSize())
	}
	a, err := newEArray(p, elem.size(o), o)
	if err != nil {
		return 0, err
	}
	ew := &earrayWriter{w: cw.w, alloc: cw.allocator, a: a, elem: elem}
	ew.head = ew.alloc(int64(a.headerSize(cw.w.LengthSize())))

	undef := btree.ChunkEntry{Address: cw.w.UndefinedOffset()}
	iblock := make([]btree.ChunkEntry, p.IndexElements)
	for i := range iblock {
		iblock[i] = undef
	}
	// Data blocks that hold any element, by super block and position.
	type blockKey struct {
		s int
		j uint64
	}
	blocks := make(map[blockKey][]btree.ChunkEntry)
	for _, e := range elems {
		ew.stats.maxIndex = max(ew.stats.maxIndex, e.index+1)
		if e.index < uint64(p.IndexElements) {
			iblock[e.index] = e.entry
			continue
		}
		s, j, slot := a.locate(e.index)
		if s >= len(a.supers) {
			return 0, fmt.Errorf("chunk %d exceeds the extensible array", e.index)
		}
		k := blockKey{s, j}
		if blocks[k] == nil {
			blocks[k] = make([]btree.ChunkEntry, a.supers[s].blockElems)
			for i := range blocks[k] {
				blocks[k][i] = undef
			}
		}
		blocks[k][slot] = e.entry
	}

	keys := make([]blockKey, 0, len(blocks))
	for k := range blocks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(x, y int) bool {
		if keys[x].s != keys[y].s {
			return keys[x].s < keys[y].s
		}
		return keys[x].j < keys[y].j
	})

	ew.stats.elements = uint64(p.IndexElements)
	direct := make([]uint64, a.directData)
	for i := range direct {
		direct[i] = undef.Address
	}
	supers := make(map[int][]uint64)
	for _, k := range keys {
		addr, err := ew.dataBlock(k.s, k.j, blocks[k], client)
		if err != nil {
			return 0, err
		}
		if k.s < a.direct {
			direct[a.supers[k.s].firstBlock+k.j] = addr
			continue
		}
		if supers[k.s] == nil {
			supers[k.s] = make([]uint64, a.supers[k.s].dataBlocks)
			for i := range supers[k.s] {
				supers[k.s][i] = undef.Address
			}
		}
		supers[k.s][k.j] = addr
	}

	superAddrs := make([]uint64, len(a.supers)-a.direct)
	for i := range superAddrs {
		superAddrs[i] = undef.Address
		if dblocks := supers[a.direct+i]; dblocks != nil {
			if superAddrs[i], err = ew.superBlock(a.direct+i, dblocks, client); err != nil {
				return 0, err
			}
		}
	}

	iw, buf := ew.w.Buffer()
	errs := []error{iw.WriteBytes([]byte("EAIB")), iw.WriteUint8(0), iw.WriteUint8(client), iw.WriteOffset(ew.head)}
	for _, e := range iblock {
		errs = append(errs, elem.encode(iw, e))
	}
	for _, addr := range append(direct, superAddrs...) {
		errs = append(errs, iw.WriteOffset(addr))
	}
	iaddr, err := ew.flush(iw, buf, multierr.Combine(errs...), "index block")
	if err != nil {
		return 0, err
	}

	hw, buf := ew.w.Buffer()
	st := ew.stats
	err = multierr.Combine(
		hw.WriteBytes([]byte("EAHD")),
		hw.WriteUint8(0),
		hw.WriteUint8(client),
		hw.WriteUint8(uint8(a.elemSize)),
		hw.WriteBytes([]byte{p.MaxBits, p.IndexElements, p.MinElements, p.MinPointers, p.PageBits}),
		hw.WriteLength(st.supers),
		hw.WriteLength(st.superBytes),
		hw.WriteLength(st.blocks),
		hw.WriteLength(st.blockBytes),
		hw.WriteLength(st.maxIndex),
		hw.WriteLength(st.elements),
		hw.WriteOffset(iaddr),
	)
	if err == nil {
		err = hw.WriteUint32(binary.Lookup3Checksum(buf.Bytes()))
	}
	if err == nil {
		err = ew.w.At(int64(ew.head)).WriteBytes(buf.Bytes())
	}
	if err != nil {
		return 0, fmt.Errorf("writing extensible array header: %w", err)
	}
	return ew.head, nil
}

// flush checksums a block image and writes it at a fresh address.
func (ew *earrayWriter) flush(bw *binary.Writer, buf *binary.Buf, err error, what string) (uint64, error) {
	if err == nil {
		err = bw.WriteUint32(binary.Lookup3Checksum(buf.Bytes()))
	}
	var addr uint64
	if err == nil {
		addr = ew.alloc(int64(len(buf.Bytes())))
		err = ew.w.At(int64(addr)).WriteBytes(buf.Bytes())
	}
	if err != nil {
		return 0, fmt.Errorf("writing extensible array %s: %w", what, err)
	}
	return addr, nil
}

func (ew *earrayWriter) prefix(sig string, client uint8, first uint64) (*binary.Writer, *binary.Buf, []error) {
	bw, buf := ew.w.Buffer()
	return bw, buf, []error{
		bw.WriteBytes([]byte(sig)),
		bw.WriteUint8(0),
		bw.WriteUint8(client),
		bw.WriteOffset(ew.head),
		bw.WriteUintN(first, ew.a.blockOff),
	}
}

// dataBlock writes data block j of super block s. Paged blocks write every
// page, so all of them are marked initialized in the super block.
func (ew *earrayWriter) dataBlock(s int, j uint64, elems []btree.ChunkEntry, client uint8) (uint64, error) {
	a := ew.a
	sb := a.supers[s]
	bw, buf, errs := ew.prefix("EADB", client, sb.start+j*sb.blockElems)
	pages := a.pages(s)
	if pages == 0 {
		for _, e := range elems {
			errs = append(errs, ew.elem.encode(bw, e))
		}
	}
	errs = append(errs, bw.WriteUint32(0))
	if err := multierr.Combine(errs...); err != nil {
		return 0, fmt.Errorf("encoding extensible array data block: %w", err)
	}
	image := buf.Bytes()
	sum := binary.Lookup3Checksum(image[:len(image)-4])
	putUint32LE(image[len(image)-4:], sum)

	for p := range pages {
		pw, pbuf := ew.w.Buffer()
		var errs []error
		for _, e := range elems[p*a.pageElems : (p+1)*a.pageElems] {
			errs = append(errs, ew.elem.encode(pw, e))
		}
		if err := multierr.Combine(errs...); err != nil {
			return 0, fmt.Errorf("encoding extensible array page: %w", err)
		}
		page := pbuf.Bytes()
		page = append(page, 0, 0, 0, 0)
		putUint32LE(page[len(page)-4:], binary.Lookup3Checksum(page[:len(page)-4]))
		image = append(image, page...)
	}

	addr := ew.alloc(int64(len(image)))
	if err := ew.w.At(int64(addr)).WriteBytes(image); err != nil {
		return 0, fmt.Errorf("writing extensible array data block: %w", err)
	}
	ew.stats.blocks++
	ew.stats.blockBytes += uint64(len(image))
	ew.stats.elements += sb.blockElems
	return addr, nil
}

func (ew *earrayWriter) superBlock(s int, dblocks []uint64, client uint8) (uint64, error) {
	a := ew.a
	bw, buf, errs := ew.prefix("EASB", client, a.supers[s].start)
	if pages := a.pages(s); pages > 0 {
		bitmap := make([]byte, len(dblocks)*a.pageInitSize(s))
		for j, addr := range dblocks {
			if ew.w.UndefinedOffset() == addr {
				continue
			}
			for p := range pages {
				bit := uint64(j)*pages + p
				bitmap[bit/8] |= 0x80 >> (bit % 8)
			}
		}
		errs = append(errs, bw.WriteBytes(bitmap))
	}
	for _, addr := range dblocks {
		errs = append(errs, bw.WriteOffset(addr))
	}
	addr, err := ew.flush(bw, buf, multierr.Combine(errs...), "super block")
	if err != nil {
		return 0, err
	}
	ew.stats.supers++
	ew.stats.superBytes += uint64(a.superBlockSize(s))
	return addr, nil
}
