package nexus

import (
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
)

// AttributeManager creates, finds and deletes the attributes of one node.
type AttributeManager struct {
	owner  attrOwner
	path   string
	opened []*Attribute
}

func newAttributeManager(owner attrOwner, path string) *AttributeManager {
	return &AttributeManager{owner: owner, path: path}
}

// IsValid reports whether the owning node is open.
func (m *AttributeManager) IsValid() bool {
	_, err := m.owner.attrHolder()
	return err == nil
}

// Create adds an attribute holding the zero value of dt: zeros, false or
// empty strings. An existing attribute of the same name yields
// ErrAlreadyExists unless WithOverwrite is given, in which case it is
// deleted first.
func (m *AttributeManager) Create(name string, dt DType, opts ...AttrOption) (*Attribute, error) {
	o := &attrOptions{}
	for _, opt := range opts {
		opt(o)
	}
	holder, err := m.owner.attrHolder()
	if err != nil {
		return nil, err
	}
	typ, err := storageType(dt)
	if err != nil {
		return nil, err
	}
	var dims []uint64
	for _, e := range o.shape {
		if e < 0 {
			return nil, fmt.Errorf("%w: negative extent in shape %v", ErrShapeMismatch, o.shape)
		}
		dims = append(dims, uint64(e))
	}

	if holder.HasAttr(name) {
		if !o.overwrite {
			return nil, fmt.Errorf("%s@%s: %w", m.path, name, ErrAlreadyExists)
		}
		if err := holder.DeleteAttr(name); err != nil {
			return nil, fmt.Errorf("replacing %s@%s: %w", m.path, name, storageErr(err))
		}
	}
	h, err := holder.CreateAttr(name, typ, dims)
	if err != nil {
		return nil, fmt.Errorf("creating %s@%s: %w", m.path, name, storageErr(err))
	}
	return m.track(newAttribute(m.owner, m.path, h)), nil
}

// Set creates or replaces an attribute with a type inferred from value.
func (m *AttributeManager) Set(name string, value any) error {
	holder, err := m.owner.attrHolder()
	if err != nil {
		return err
	}
	if a, ok := value.(*Array); ok {
		value = a.Value()
	}
	if err := holder.WriteAttr(name, value); err != nil {
		return fmt.Errorf("writing %s@%s: %w", m.path, name, storageErr(err))
	}
	return nil
}

// Get opens the attribute called name.
func (m *AttributeManager) Get(name string) (*Attribute, error) {
	holder, err := m.owner.attrHolder()
	if err != nil {
		return nil, err
	}
	h := holder.Attr(name)
	if h == nil {
		return nil, fmt.Errorf("%s@%s: %w", m.path, name, ErrNotFound)
	}
	return m.track(newAttribute(m.owner, m.path, h)), nil
}

// Names returns the attribute names in storage order.
func (m *AttributeManager) Names() ([]string, error) {
	holder, err := m.owner.attrHolder()
	if err != nil {
		return nil, err
	}
	return holder.Attrs(), nil
}

// Len returns the number of attributes.
func (m *AttributeManager) Len() (int, error) {
	names, err := m.Names()
	return len(names), err
}

// Delete removes the attribute called name. Handles opened on it are closed
// and no longer reopened with their owner.
func (m *AttributeManager) Delete(name string) error {
	holder, err := m.owner.attrHolder()
	if err != nil {
		return err
	}
	if err := holder.DeleteAttr(name); err != nil {
		return fmt.Errorf("deleting %s@%s: %w", m.path, name, storageErr(err))
	}
	m.owner.dropAttr(name)
	m.opened = slices.DeleteFunc(m.opened, func(a *Attribute) bool { return a.name == name })
	return nil
}

// Close closes the attributes opened through the manager. They stay
// attached to the owner, so Reopen on the manager or the owner revives them.
func (m *AttributeManager) Close() error {
	var err error
	for _, a := range m.opened {
		err = multierr.Append(err, a.release())
	}
	return err
}

// Reopen reopens the attributes opened through the manager.
func (m *AttributeManager) Reopen() error {
	var err error
	for _, a := range m.opened {
		err = multierr.Append(err, a.Reopen())
	}
	return err
}

func (m *AttributeManager) track(a *Attribute) *Attribute {
	m.opened = append(m.opened, a)
	return a
}
