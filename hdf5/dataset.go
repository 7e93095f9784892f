package hdf5

import (
	"fmt"
	"reflect"

	"github.com/robert-malhotra/go-nexus/internal/dtype"
	"github.com/robert-malhotra/go-nexus/internal/filter"
	"github.com/robert-malhotra/go-nexus/internal/layout"
	"github.com/robert-malhotra/go-nexus/internal/message"
)

// Dataset represents an HDF5 dataset.
type Dataset struct {
	handle
}

// FilterInfo describes one stage of a dataset's filter pipeline.
type FilterInfo struct {
	ID     uint16
	Name   string
	Params []uint32
}

// Filter IDs understood by the writer.
const (
	FilterDeflate    = message.FilterDeflate
	FilterShuffle    = message.FilterShuffle
	FilterFletcher32 = message.FilterFletcher32
	FilterZstd       = filter.FilterZstd
)

func (d *Dataset) parts() *headerParts {
	return partsOf(d.node.header)
}

// Shape returns the dimensions of the dataset. Scalars have no dimensions.
func (d *Dataset) Shape() []uint64 {
	ds := d.node.header.Dataspace()
	if ds.IsScalar() {
		return nil
	}
	return append([]uint64(nil), ds.Dimensions...)
}

// Dims is an alias for Shape.
func (d *Dataset) Dims() []uint64 {
	return d.Shape()
}

// MaxDims returns the maximum dimensions; Unlimited marks unbounded ones.
// A dataset without recorded maxima returns its current shape.
func (d *Dataset) MaxDims() []uint64 {
	ds := d.node.header.Dataspace()
	if len(ds.MaxDims) == 0 {
		return d.Shape()
	}
	return append([]uint64(nil), ds.MaxDims...)
}

// Rank returns the number of dimensions.
func (d *Dataset) Rank() int {
	return d.node.header.Dataspace().Rank
}

// NumElements returns the total number of elements.
func (d *Dataset) NumElements() uint64 {
	return numElements(d.node.header.Dataspace())
}

// IsScalar returns true if the dataset is a scalar (single value).
func (d *Dataset) IsScalar() bool {
	return d.node.header.Dataspace().IsScalar()
}

// Type returns the stored element type.
func (d *Dataset) Type() Type {
	return Type{d.node.header.Datatype()}
}

// DtypeSize returns the size of each element in bytes.
func (d *Dataset) DtypeSize() int {
	return int(d.node.header.Datatype().Size)
}

// Chunks returns the chunk dimensions, or nil for unchunked storage.
func (d *Dataset) Chunks() []uint64 {
	l := d.node.header.DataLayout()
	if l == nil || l.Class != message.LayoutChunked {
		return nil
	}
	rank := d.Rank()
	chunks := make([]uint64, 0, rank)
	for i := 0; i < rank && i < len(l.ChunkDims); i++ {
		chunks = append(chunks, uint64(l.ChunkDims[i]))
	}
	return chunks
}

// Filters returns the filter pipeline in application order.
func (d *Dataset) Filters() []FilterInfo {
	fp := d.node.header.FilterPipeline()
	if fp == nil {
		return nil
	}
	infos := make([]FilterInfo, len(fp.Filters))
	for i, fi := range fp.Filters {
		infos[i] = FilterInfo{ID: fi.ID, Name: filter.Name(fi.ID), Params: fi.ClientData}
	}
	return infos
}

// StorageSize returns the bytes of raw data the layout addresses, before
// filtering. Chunked datasets report whole chunks.
func (d *Dataset) StorageSize() uint64 {
	elem := uint64(d.DtypeSize())
	chunks := d.Chunks()
	if chunks == nil {
		return d.NumElements() * elem
	}
	total := elem
	for i, dim := range d.Shape() {
		n := (dim + chunks[i] - 1) / chunks[i]
		total *= n * chunks[i]
	}
	return total
}

// Refresh re-reads the file's superblock and re-resolves the dataset so a
// SWMR reader observes data appended by the writer.
func (d *Dataset) Refresh() error {
	f := d.node.file
	if err := f.Refresh(); err != nil {
		return err
	}
	if f.writable() {
		return nil
	}
	n, err := f.locate(d.node.path, nil)
	if err != nil {
		return err
	}
	if n.isGroup() {
		return ErrNotDataset
	}
	d.node = n
	return nil
}

func (d *Dataset) layout() (layout.Layout, error) {
	p := d.parts()
	if p.layout == nil {
		return nil, fmt.Errorf("dataset missing layout message")
	}
	return layout.New(p.layout, p.dataspace, p.datatype, p.pipeline, d.node.file.reader)
}

// ReadRaw reads all data from the dataset as raw bytes.
func (d *Dataset) ReadRaw() ([]byte, error) {
	if d.node.file.closed {
		return nil, ErrClosed
	}
	l, err := d.layout()
	if err != nil {
		return nil, fmt.Errorf("creating layout: %w", err)
	}
	raw, err := l.Read()
	if err != nil {
		return nil, fmt.Errorf("reading data: %w", err)
	}
	return raw, nil
}

// Read reads all data from the dataset into dest.
// dest should be a pointer to a slice of the appropriate type.
func (d *Dataset) Read(dest interface{}) error {
	raw, err := d.ReadRaw()
	if err != nil {
		return err
	}
	return dtype.ConvertWithReader(d.node.header.Datatype(), raw, d.NumElements(), dest, d.node.file.reader)
}

// ReadBox reads the box of count[i] elements from start[i] along each
// dimension into dest, in row-major order. Chunked datasets decode only the
// chunks the box touches.
func (d *Dataset) ReadBox(start, count []uint64, dest interface{}) error {
	if d.node.file.closed {
		return ErrClosed
	}
	l, err := d.layout()
	if err != nil {
		return fmt.Errorf("creating layout: %w", err)
	}
	raw, err := l.ReadSlice(start, count)
	if err != nil {
		return fmt.Errorf("reading box: %w", err)
	}
	n := uint64(1)
	for _, c := range count {
		n *= c
	}
	return dtype.ConvertWithReader(d.node.header.Datatype(), raw, n, dest, d.node.file.reader)
}

// ReadFloat64 reads the dataset as float64 values.
func (d *Dataset) ReadFloat64() ([]float64, error) {
	var result []float64
	err := d.Read(&result)
	return result, err
}

// ReadInt64 reads the dataset as int64 values.
func (d *Dataset) ReadInt64() ([]int64, error) {
	var result []int64
	err := d.Read(&result)
	return result, err
}

// ReadStrings reads a string dataset.
func (d *Dataset) ReadStrings() ([]string, error) {
	var result []string
	err := d.Read(&result)
	return result, err
}

// Write replaces the dataset contents. src holds exactly NumElements values
// in row-major order; strings are accepted for string datasets.
func (d *Dataset) Write(src interface{}) error {
	f := d.node.file
	if err := f.checkWritable(); err != nil {
		return err
	}
	p := d.parts()
	raw, err := f.encodeValue(p.datatype, numElements(p.dataspace), src)
	if err != nil {
		return fmt.Errorf("encoding data: %w", err)
	}
	return d.store(p, raw)
}

// WriteStrings replaces the contents of a string dataset.
func (d *Dataset) WriteStrings(strs []string) error {
	return d.Write(strs)
}

// WriteRaw replaces the dataset contents with stored-form bytes.
func (d *Dataset) WriteRaw(raw []byte) error {
	f := d.node.file
	if err := f.checkWritable(); err != nil {
		return err
	}
	p := d.parts()
	if want := numElements(p.dataspace) * uint64(p.datatype.Size); uint64(len(raw)) != want {
		return fmt.Errorf("data size mismatch: expected %d, got %d", want, len(raw))
	}
	return d.store(p, raw)
}

// Resize changes the current dimensions within the maximum dimensions.
// Existing values keep their coordinates; new elements are zero.
func (d *Dataset) Resize(dims []uint64) error {
	f := d.node.file
	if err := f.checkWritable(); err != nil {
		return err
	}
	p := d.parts()
	if p.layout.Class != message.LayoutChunked {
		return fmt.Errorf("%w: resizing %s requires chunked storage", ErrUnsupported, d.path)
	}
	old := d.Shape()
	if len(dims) != len(old) {
		return fmt.Errorf("resize %s: rank %d, want %d", d.path, len(dims), len(old))
	}
	maxDims := d.MaxDims()
	for i, n := range dims {
		if maxDims[i] != Unlimited && n > maxDims[i] {
			return fmt.Errorf("resize %s: dimension %d to %d exceeds maximum %d", d.path, i, n, maxDims[i])
		}
	}

	raw, err := d.ReadRaw()
	if err != nil {
		return err
	}
	p.dataspace = message.NewDataspace(append([]uint64(nil), dims...), p.dataspace.MaxDims)
	return d.store(p, reshape(raw, old, dims, int(p.datatype.Size)))
}

// store writes raw as the dataset's data and commits a header pointing at it.
func (d *Dataset) store(p *headerParts, raw []byte) error {
	f := d.node.file
	l, err := f.writeStorage(p, raw)
	if err != nil {
		return err
	}
	p.layout = l
	return f.commit(d.node, p.messages())
}

// writeStorage appends raw in the layout class of p and returns the new
// layout message.
func (f *File) writeStorage(p *headerParts, raw []byte) (*message.DataLayout, error) {
	switch p.layout.Class {
	case message.LayoutChunked:
		dims := p.dataspace.Dimensions
		chunkDims := p.layout.ChunkDims[:len(dims)]
		pipeline, err := filter.NewPipeline(p.pipeline)
		if err != nil {
			return nil, err
		}
		cw := layout.NewChunkWriter(f.writer, chunkDims, p.datatype.Size, pipeline, f.allocate)
		idx, err := cw.Write(raw, dims, p.dataspace.MaxDims)
		if err != nil {
			return nil, fmt.Errorf("writing chunks: %w", err)
		}
		l := message.NewChunkedLayout(chunkDims, p.datatype.Size, idx.Type)
		l.ChunkIndexAddr = idx.Address
		l.PageBits = idx.PageBits
		return l, nil

	case message.LayoutCompact:
		return message.NewCompactLayout(raw), nil

	default:
		addr := f.allocate(int64(len(raw)))
		if err := f.writer.At(int64(addr)).WriteBytes(raw); err != nil {
			return nil, fmt.Errorf("writing data: %w", err)
		}
		return message.NewContiguousLayout(addr, uint64(len(raw))), nil
	}
}

// CreateDataset creates a dataset of the given type and dimensions with
// zero-valued contents. Empty dims create a scalar.
//
// Datasets with maximum dimensions, WithUnlimited or any filter are chunked;
// without WithChunks the chunk shape is the initial shape with zero extents
// replaced by one.
func (g *Group) CreateDataset(name string, t Type, dims []uint64, opts ...DatasetOption) (*Dataset, error) {
	f := g.node.file
	if err := f.checkWritable(); err != nil {
		return nil, err
	}
	if err := validName(name); err != nil {
		return nil, err
	}
	if partsOf(g.node.header).link(name) >= 0 {
		return nil, fmt.Errorf("%q in %s: %w", name, g.path, ErrExists)
	}

	options := defaultDatasetOptions()
	for _, opt := range opts {
		opt(options)
	}

	dt, err := f.storageDatatype(t)
	if err != nil {
		return nil, err
	}
	dims = append([]uint64(nil), dims...)

	maxDims := options.maxDims
	if options.unlimited {
		maxDims = make([]uint64, len(dims))
		for i := range maxDims {
			maxDims[i] = Unlimited
		}
	}
	if maxDims != nil && len(maxDims) != len(dims) {
		return nil, fmt.Errorf("dataset %q: %d maximum dimensions for rank %d", name, len(maxDims), len(dims))
	}
	for i := range maxDims {
		if maxDims[i] != Unlimited && maxDims[i] < dims[i] {
			return nil, fmt.Errorf("dataset %q: dimension %d exceeds its maximum", name, i)
		}
	}

	chunks := options.chunks
	if chunks == nil && (maxDims != nil || options.filtered()) {
		chunks = make([]uint64, len(dims))
		for i, n := range dims {
			chunks[i] = max(n, 1)
		}
	}

	p := &headerParts{datatype: dt}
	if len(dims) == 0 {
		if chunks != nil {
			return nil, fmt.Errorf("%w: chunked scalar dataset %q", ErrUnsupported, name)
		}
		p.dataspace = message.NewScalarDataspace()
	} else {
		p.dataspace = message.NewDataspace(dims, maxDims)
	}

	if chunks != nil {
		if len(chunks) != len(dims) {
			return nil, fmt.Errorf("dataset %q: %d chunk dimensions for rank %d", name, len(chunks), len(dims))
		}
		chunkDims := make([]uint32, len(chunks))
		for i, c := range chunks {
			if c == 0 || c > 0xFFFFFFFF {
				return nil, fmt.Errorf("dataset %q: invalid chunk dimension %d", name, c)
			}
			chunkDims[i] = uint32(c)
		}
		p.layout = message.NewChunkedLayout(chunkDims, dt.Size, layout.IndexFor(maxDims))
		p.pipeline = options.pipeline(dt.Size)
	} else {
		p.layout = message.NewContiguousLayout(0, 0)
	}

	n := numElements(p.dataspace)
	var raw []byte
	if dt.Class == message.ClassVarLen {
		if raw, err = f.writeStrings(make([]string, n)); err != nil {
			return nil, err
		}
	} else {
		raw = make([]byte, n*uint64(dt.Size))
	}
	if p.layout, err = f.writeStorage(p, raw); err != nil {
		return nil, err
	}

	addr, header, err := f.writeHeader(p.messages(), false)
	if err != nil {
		return nil, fmt.Errorf("writing dataset header: %w", err)
	}
	if err := g.addLink(message.NewHardLink(name, addr)); err != nil {
		return nil, fmt.Errorf("adding link to parent: %w", err)
	}

	nd := &node{file: f, path: joinPath(g.node.path, name), addr: addr, header: header}
	f.nodes[nd.path] = nd
	return &Dataset{handle{file: g.file, path: joinPath(g.path, name), node: nd}}, nil
}

// CreateDatasetFrom creates a one-dimensional or scalar dataset holding data,
// with the type inferred as in WriteAttr.
func (g *Group) CreateDatasetFrom(name string, data interface{}, opts ...DatasetOption) (*Dataset, error) {
	t, dims, err := inferType(data)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", name, err)
	}
	ds, err := g.CreateDataset(name, t, dims, opts...)
	if err != nil {
		return nil, err
	}
	if err := ds.Write(data); err != nil {
		return nil, err
	}
	return ds, nil
}

// inferType maps a Go scalar or flat slice to a stored type and dimensions.
// Scalars have nil dimensions.
func inferType(value interface{}) (Type, []uint64, error) {
	v := reflect.ValueOf(value)
	if !v.IsValid() {
		return Type{}, nil, fmt.Errorf("cannot store nil")
	}
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	var dims []uint64
	elem := v.Type()
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		dims = []uint64{uint64(v.Len())}
		elem = elem.Elem()
		if elem.Kind() == reflect.Slice || elem.Kind() == reflect.Array {
			return Type{}, nil, fmt.Errorf("%w: nested slices", ErrUnsupported)
		}
	}
	dt, err := dtype.GoTypeToDatatype(elem)
	if err != nil {
		return Type{}, nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return Type{dt}, dims, nil
}

// reshape copies the overlap of a row-major array with shape from into a
// zeroed array with shape to.
func reshape(raw []byte, from, to []uint64, elemSize int) []byte {
	total := uint64(elemSize)
	for _, n := range to {
		total *= n
	}
	out := make([]byte, total)
	if len(raw) == 0 || total == 0 {
		return out
	}

	rank := len(to)
	fromStride := make([]uint64, rank)
	toStride := make([]uint64, rank)
	fs, ts := uint64(elemSize), uint64(elemSize)
	for i := rank - 1; i >= 0; i-- {
		fromStride[i], toStride[i] = fs, ts
		fs *= from[i]
		ts *= to[i]
	}

	var copyDim func(dim int, src, dst uint64)
	copyDim = func(dim int, src, dst uint64) {
		n := min(from[dim], to[dim])
		if dim == rank-1 {
			copy(out[dst:dst+n*uint64(elemSize)], raw[src:src+n*uint64(elemSize)])
			return
		}
		for i := uint64(0); i < n; i++ {
			copyDim(dim+1, src+i*fromStride[dim], dst+i*toStride[dim])
		}
	}
	copyDim(0, 0, 0)
	return out
}
