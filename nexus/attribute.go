package nexus

import (
	"fmt"

	"github.com/robert-malhotra/go-nexus/hdf5"
)

// attrHolder is the storage object attributes live on.
type attrHolder interface {
	Attrs() []string
	Attr(name string) *hdf5.Attribute
	HasAttr(name string) bool
	CreateAttr(name string, t hdf5.Type, dims []uint64) (*hdf5.Attribute, error)
	WriteAttr(name string, value interface{}) error
	DeleteAttr(name string) error
}

// attrOwner is a node that carries attributes: a *Group or a *Field.
type attrOwner interface {
	attrHolder() (attrHolder, error)
	register(c child)
	attach(c child)
	forget(c child)
	dropAttr(name string)
}

// Attribute is a named scalar or small array attached to a group or field.
// Its path is the owner's path followed by "@" and the name.
type Attribute struct {
	name  string
	path  string
	owner attrOwner
	h     *hdf5.Attribute
}

func newAttribute(owner attrOwner, ownerPath string, h *hdf5.Attribute) *Attribute {
	a := &Attribute{
		name:  h.Name(),
		path:  ownerPath + "@" + h.Name(),
		owner: owner,
		h:     h,
	}
	owner.register(a)
	return a
}

// Name returns the attribute name.
func (a *Attribute) Name() string { return a.name }

// Path returns the owner path followed by "@" and the name.
func (a *Attribute) Path() string { return a.path }

// IsValid reports whether the attribute is open and still stored.
func (a *Attribute) IsValid() bool {
	return a.h != nil && a.h.Valid()
}

// Close invalidates the attribute.
func (a *Attribute) Close() error {
	a.owner.forget(a)
	return a.release()
}

func (a *Attribute) release() error {
	a.h = nil
	return nil
}

// Reopen looks the attribute up on its owner again.
func (a *Attribute) Reopen() error {
	holder, err := a.owner.attrHolder()
	if err != nil {
		return err
	}
	h := holder.Attr(a.name)
	if h == nil {
		return fmt.Errorf("reopening %s: %w", a.path, ErrNotFound)
	}
	a.h = h
	a.owner.attach(a)
	return nil
}

// Shape returns the extents of the value. A scalar reports [1].
func (a *Attribute) Shape() ([]int, error) {
	if !a.IsValid() {
		return nil, invalid(a.path)
	}
	return extents(a.h.Shape()), nil
}

// DType returns the element type as stored on disk.
func (a *Attribute) DType() (DType, error) {
	if !a.IsValid() {
		return "", invalid(a.path)
	}
	return semanticType(a.h.Type().Info()), nil
}

// Size returns the number of elements.
func (a *Attribute) Size() (int, error) {
	if !a.IsValid() {
		return 0, invalid(a.path)
	}
	return int(a.h.NumElements()), nil
}

// Read returns the whole value. Scalars come back with rank 0.
func (a *Attribute) Read() (*Array, error) {
	if !a.IsValid() {
		return nil, invalid(a.path)
	}
	return readValue(a.h, a.path)
}

// Write replaces the value, keeping the stored type and shape.
func (a *Attribute) Write(value any) error {
	if !a.IsValid() {
		return invalid(a.path)
	}
	return writeValue(a.h, a.path, value)
}

// Get reads the elements selected by sel, squeezed like Field.Get.
func (a *Attribute) Get(sel Selection) (*Array, error) {
	if !a.IsValid() {
		return nil, invalid(a.path)
	}
	return getValue(a.h, a.path, sel)
}

// Set writes value to the elements selected by sel.
func (a *Attribute) Set(sel Selection, value any) error {
	if !a.IsValid() {
		return invalid(a.path)
	}
	return setValue(a.h, a.path, sel, value)
}
