package hdf5

import (
	"fmt"

	"github.com/robert-malhotra/go-nexus/internal/dtype"
	"github.com/robert-malhotra/go-nexus/internal/message"
)

// maxAttributeMessage is the largest attribute a compact object header can hold.
const maxAttributeMessage = 0xFFFF

// Attribute represents an HDF5 attribute attached to a dataset or group.
// It always reflects the owner's current state.
type Attribute struct {
	owner *node
	name  string
}

func (a *Attribute) msg() *message.Attribute {
	if a.owner.detached || a.owner.header == nil {
		return nil
	}
	for _, m := range a.owner.header.All(message.TypeAttribute) {
		attr := m.(*message.Attribute)
		if attr.Name == a.name {
			return attr
		}
	}
	return nil
}

func (a *Attribute) current() (*message.Attribute, error) {
	if a.owner.file.closed {
		return nil, ErrClosed
	}
	m := a.msg()
	if m == nil {
		return nil, fmt.Errorf("attribute %q: %w", a.name, ErrNotFound)
	}
	if m.Datatype == nil {
		return nil, fmt.Errorf("attribute %q has no datatype", a.name)
	}
	return m, nil
}

// Name returns the attribute name.
func (a *Attribute) Name() string {
	return a.name
}

// Valid reports whether the attribute still exists.
func (a *Attribute) Valid() bool {
	return !a.owner.file.closed && a.msg() != nil
}

// Shape returns the dimensions of the attribute value.
func (a *Attribute) Shape() []uint64 {
	m := a.msg()
	if m == nil || m.Dataspace == nil || m.Dataspace.IsScalar() {
		return nil
	}
	return m.Dataspace.Dimensions
}

// NumElements returns the total number of elements.
func (a *Attribute) NumElements() uint64 {
	m := a.msg()
	if m == nil {
		return 0
	}
	return numElements(m.Dataspace)
}

func numElements(ds *message.Dataspace) uint64 {
	if ds == nil || ds.IsScalar() {
		return 1
	}
	return ds.NumElements()
}

// IsScalar returns true if the attribute is a scalar value.
func (a *Attribute) IsScalar() bool {
	m := a.msg()
	return m == nil || m.Dataspace == nil || m.Dataspace.IsScalar()
}

// Type returns the stored element type.
func (a *Attribute) Type() Type {
	if m := a.msg(); m != nil {
		return Type{m.Datatype}
	}
	return Type{}
}

// Read reads the attribute value into dest.
// dest should be a pointer to the appropriate type.
func (a *Attribute) Read(dest interface{}) error {
	m, err := a.current()
	if err != nil {
		return err
	}
	return dtype.ConvertWithReader(m.Datatype, m.Data, numElements(m.Dataspace), dest, a.owner.file.reader)
}

// ReadRaw returns the stored bytes of the attribute value.
func (a *Attribute) ReadRaw() ([]byte, error) {
	m, err := a.current()
	if err != nil {
		return nil, err
	}
	return m.Data, nil
}

// ReadFloat64 reads the attribute as float64 values.
func (a *Attribute) ReadFloat64() ([]float64, error) {
	var result []float64
	err := a.Read(&result)
	return result, err
}

// ReadInt64 reads the attribute as int64 values.
func (a *Attribute) ReadInt64() ([]int64, error) {
	var result []int64
	err := a.Read(&result)
	return result, err
}

// ReadString reads the attribute as string values.
func (a *Attribute) ReadString() ([]string, error) {
	var result []string
	err := a.Read(&result)
	return result, err
}

// ReadScalarString reads a scalar string attribute.
func (a *Attribute) ReadScalarString() (string, error) {
	vals, err := a.ReadString()
	if err != nil {
		return "", err
	}
	if len(vals) == 0 {
		return "", fmt.Errorf("no values in attribute")
	}
	return vals[0], nil
}

// Write replaces the attribute value, keeping its type and shape.
func (a *Attribute) Write(value interface{}) error {
	m, err := a.current()
	if err != nil {
		return err
	}
	f := a.owner.file
	if err := f.checkWritable(); err != nil {
		return err
	}
	raw, err := f.encodeValue(m.Datatype, numElements(m.Dataspace), value)
	if err != nil {
		return fmt.Errorf("encoding attribute %q: %w", a.name, err)
	}
	return f.putAttr(a.owner, message.NewAttribute(a.name, m.Datatype, m.Dataspace, raw), true)
}

// Value reads the attribute and returns an auto-typed Go value.
// Returns appropriate types based on HDF5 datatype:
//   - Fixed-point (integers): int64/uint64 or slices of them
//   - Floating-point: float64 or []float64
//   - String: string or []string
//   - Boolean enum: bool or []bool
//   - Compound: map[string]interface{} or a slice of them
//
// For scalar attributes, returns a single value. For array dataspaces,
// returns a slice.
func (a *Attribute) Value() (interface{}, error) {
	m, err := a.current()
	if err != nil {
		return nil, err
	}
	scalar := a.IsScalar()

	switch info := typeInfo(m.Datatype); info.Class {
	case ClassInteger:
		if info.Signed {
			return readValue[int64](a, scalar)
		}
		return readValue[uint64](a, scalar)
	case ClassFloat:
		return readValue[float64](a, scalar)
	case ClassString:
		return readValue[string](a, scalar)
	case ClassBool:
		return readValue[bool](a, scalar)
	case ClassEnum:
		return readValue[int64](a, scalar)
	default:
		var result interface{}
		if err := a.Read(&result); err != nil {
			return nil, err
		}
		return result, nil
	}
}

func readValue[T any](a *Attribute, scalar bool) (interface{}, error) {
	var vals []T
	if err := a.Read(&vals); err != nil {
		return nil, err
	}
	if scalar && len(vals) == 1 {
		return vals[0], nil
	}
	return vals, nil
}

// putAttr adds or replaces an attribute on n and commits it.
func (f *File) putAttr(n *node, attr *message.Attribute, replace bool) error {
	if err := f.checkWritable(); err != nil {
		return err
	}
	size, err := message.Size(attr, f.writer)
	if err != nil {
		return fmt.Errorf("encoding attribute %q: %w", attr.Name, err)
	}
	if size > maxAttributeMessage {
		return fmt.Errorf("%w: attribute %q needs %d bytes", ErrUnsupported, attr.Name, size)
	}
	parts := partsOf(n.header)
	if i := parts.attr(attr.Name); i >= 0 {
		if !replace {
			return fmt.Errorf("attribute %q: %w", attr.Name, ErrExists)
		}
		parts.attrs[i] = attr
	} else {
		parts.attrs = append(parts.attrs, attr)
	}
	return f.commit(n, parts.messages())
}
