package nexus

import (
	"fmt"
	"reflect"

	"github.com/robert-malhotra/go-nexus/hdf5"
)

// Field is a leaf holding a rectangular array of one element type.
type Field struct {
	tree
	name   string
	path   string
	parent *Group
	h      *hdf5.Dataset
}

func newField(parent *Group, name string, h *hdf5.Dataset) *Field {
	f := &Field{
		name:   name,
		path:   childPath(parent.path, name),
		parent: parent,
		h:      h,
	}
	f.file = parent.file
	parent.register(f)
	return f
}

// Name returns the field name within its group.
func (f *Field) Name() string { return f.name }

// Path returns the NeXus path computed when the field was opened.
func (f *Field) Path() string { return f.path }

// Handle returns the storage handle, or nil once closed.
func (f *Field) Handle() *hdf5.Dataset { return f.h }

// IsValid reports whether the field is open.
func (f *Field) IsValid() bool {
	return f.h != nil && f.h.Valid()
}

// Close closes the field and the attributes opened through it.
func (f *Field) Close() error {
	f.parent.forget(f)
	return f.release()
}

func (f *Field) release() error {
	if f.h == nil {
		return nil
	}
	err := f.closeChildren()
	f.h = nil
	return err
}

// Reopen opens the dataset through the parent group again and reopens
// the attributes opened through the field.
func (f *Field) Reopen() error {
	if !f.parent.IsValid() {
		return invalid(f.path)
	}
	h, err := f.parent.h.OpenDataset(f.name)
	if err != nil {
		return fmt.Errorf("reopening %s: %w", f.path, storageErr(err))
	}
	f.h = h
	f.parent.attach(f)
	return f.reopenChildren()
}

// Refresh rereads the field's metadata from disk, picking up growth by a
// SWMR writer without reopening the file.
func (f *Field) Refresh() error {
	if !f.IsValid() {
		return invalid(f.path)
	}
	return storageErr(f.h.Refresh())
}

// Attributes returns the attributes of the field.
func (f *Field) Attributes() *AttributeManager {
	return newAttributeManager(f, f.path)
}

func (f *Field) attrHolder() (attrHolder, error) {
	if !f.IsValid() {
		return nil, invalid(f.path)
	}
	return f.h, nil
}

// Shape returns the current extents. A scalar field reports [1].
func (f *Field) Shape() ([]int, error) {
	if !f.IsValid() {
		return nil, invalid(f.path)
	}
	return extents(f.h.Shape()), nil
}

func extents(dims []uint64) []int {
	if len(dims) == 0 {
		return []int{1}
	}
	shape := make([]int, len(dims))
	for i, d := range dims {
		shape[i] = int(d)
	}
	return shape
}

// DType returns the element type as stored on disk.
func (f *Field) DType() (DType, error) {
	if !f.IsValid() {
		return "", invalid(f.path)
	}
	return semanticType(f.h.Type().Info()), nil
}

// Size returns the number of elements.
func (f *Field) Size() (int, error) {
	if !f.IsValid() {
		return 0, invalid(f.path)
	}
	return int(f.h.NumElements()), nil
}

// Chunk returns the chunk shape, or nil for unchunked storage.
func (f *Field) Chunk() ([]int, error) {
	if !f.IsValid() {
		return nil, invalid(f.path)
	}
	chunks := f.h.Chunks()
	if chunks == nil {
		return nil, nil
	}
	return extents(chunks), nil
}

// Filters returns the deflate settings the field was created with, or nil
// when it is not deflated.
func (f *Field) Filters() (*Deflate, error) {
	if !f.IsValid() {
		return nil, invalid(f.path)
	}
	return deflateOf(f.h.Filters()), nil
}

// Grow extends dimension dim by ext elements. Existing values keep their
// coordinates and new elements are zero.
func (f *Field) Grow(dim, ext int) error {
	if !f.IsValid() {
		return invalid(f.path)
	}
	dims := f.h.Shape()
	if dim < 0 || dim >= len(dims) {
		return fmt.Errorf("%w: dimension %d of rank %d", ErrMalformedSelection, dim, len(dims))
	}
	if ext < 0 {
		return fmt.Errorf("%w: negative growth %d", ErrShapeMismatch, ext)
	}
	dims = append([]uint64(nil), dims...)
	dims[dim] += uint64(ext)
	if err := f.h.Resize(dims); err != nil {
		return fmt.Errorf("growing %s: %w", f.path, storageErr(err))
	}
	return nil
}

// Read returns the whole field.
func (f *Field) Read() (*Array, error) {
	if !f.IsValid() {
		return nil, invalid(f.path)
	}
	return readValue(f.h, f.path)
}

// Write replaces the whole field. value may be a scalar, a nested slice, an
// *Array or a mat.Matrix holding as many elements as the field.
func (f *Field) Write(value any) error {
	if !f.IsValid() {
		return invalid(f.path)
	}
	return writeValue(f.h, f.path, value)
}

// Get reads the elements selected by sel. The result is squeezed by
// SqueezeKnownSingletons.
func (f *Field) Get(sel Selection) (*Array, error) {
	if !f.IsValid() {
		return nil, invalid(f.path)
	}
	return getValue(f.h, f.path, sel)
}

// Set writes value to the elements selected by sel. A single value is
// broadcast over the selection.
func (f *Field) Set(sel Selection, value any) error {
	if !f.IsValid() {
		return invalid(f.path)
	}
	return setValue(f.h, f.path, sel, value)
}

// storage is the part of a dataset or attribute that values move through.
type storage interface {
	Shape() []uint64
	NumElements() uint64
	Type() hdf5.Type
	Read(dest interface{}) error
	Write(value interface{}) error
}

func readValue(s storage, path string) (*Array, error) {
	dt := semanticType(s.Type().Info())
	n := int(s.NumElements())
	var shape []int
	if dims := s.Shape(); len(dims) > 0 {
		shape = extents(dims)
	}
	if dt == String && n == 0 {
		return &Array{Shape: shape, Data: []string{}}, nil
	}

	data, err := makeSlice(dt, n)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	ptr := reflect.New(reflect.TypeOf(data))
	if err := s.Read(ptr.Interface()); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, storageErr(err))
	}
	return &Array{Shape: shape, Data: ptr.Elem().Interface()}, nil
}

func writeValue(s storage, path string, value any) error {
	data, _, err := flatten(value)
	if err != nil {
		return err
	}
	dt := semanticType(s.Type().Info())
	if data, err = coerce(data, dt); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if got, want := reflect.ValueOf(data).Len(), int(s.NumElements()); got != want {
		return fmt.Errorf("%s: %w: %d values for %d elements", path, ErrShapeMismatch, got, want)
	}
	if err := s.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", path, storageErr(err))
	}
	return nil
}

// boxReader is implemented by storage that can read a box without reading
// the whole array.
type boxReader interface {
	ReadBox(start, count []uint64, dest interface{}) error
}

func getValue(s storage, path string, sel Selection) (*Array, error) {
	shape := extents(s.Shape())
	if i, ok := sel.(Index); ok && i == 0 && len(shape) == 1 && shape[0] == 1 {
		whole, err := readValue(s, path)
		if err != nil {
			return nil, err
		}
		return &Array{Data: whole.Data}, nil
	}

	hs, err := Translate(sel, shape)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if br, ok := s.(boxReader); ok && hs != nil && hs.NumElements() > 0 && len(s.Shape()) > 0 {
		return readBox(br, s, path, hs)
	}

	whole, err := readValue(s, path)
	if err != nil {
		return nil, err
	}
	if hs == nil {
		return whole, nil
	}
	idx, err := hs.Indices(shape)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return SqueezeKnownSingletons(&Array{Shape: hs.Shape(), Data: gather(whole.Data, idx)}), nil
}

// readBox reads the bounding box of hs and picks the selected elements out
// of it.
func readBox(br boxReader, s storage, path string, hs *Hyperslab) (*Array, error) {
	start, count, err := hs.bounds(extents(s.Shape()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	boxShape := extents(count)
	data, err := makeSlice(semanticType(s.Type().Info()), product(boxShape))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	ptr := reflect.New(reflect.TypeOf(data))
	if err := br.ReadBox(start, count, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, storageErr(err))
	}
	idx, err := hs.relativeTo(start).Indices(boxShape)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return SqueezeKnownSingletons(&Array{Shape: hs.Shape(), Data: gather(ptr.Elem().Interface(), idx)}), nil
}

func setValue(s storage, path string, sel Selection, value any) error {
	src, _, err := flatten(value)
	if err != nil {
		return err
	}
	dt := semanticType(s.Type().Info())
	if src, err = coerce(src, dt); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	shape := extents(s.Shape())
	if i, ok := sel.(Index); ok && i == 0 && len(shape) == 1 && shape[0] == 1 {
		return writeValue(s, path, &Array{Data: src})
	}

	whole, err := readValue(s, path)
	if err != nil {
		return err
	}
	hs, err := Translate(sel, shape)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	var idx []int
	if hs == nil {
		idx = span(0, product(shape), 1)
	} else if idx, err = hs.Indices(shape); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := scatter(whole.Data, idx, src); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return writeValue(s, path, whole)
}
