package nexus

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/robert-malhotra/go-nexus/hdf5"
	"github.com/robert-malhotra/go-nexus/internal/log"
)

// Group is an internal node of the tree. Its path segment carries the
// NX_class suffix, as in /entry:NXentry, unless the class is absent or
// NXroot.
type Group struct {
	tree
	name   string
	path   string
	parent *Group
	h      *hdf5.Group
}

func newGroup(parent *Group, h *hdf5.Group) *Group {
	g := &Group{
		name:   h.Name(),
		path:   childPath(parent.path, h.Name()),
		parent: parent,
		h:      h,
	}
	if class := nxClass(h); class != "" && class != "NXroot" {
		g.path += ":" + class
	}
	g.file = parent.file
	parent.register(g)
	return g
}

func nxClass(h *hdf5.Group) string {
	a := h.Attr("NX_class")
	if a == nil {
		return ""
	}
	s, err := a.ReadScalarString()
	if err != nil {
		return ""
	}
	return s
}

// Name returns the link name of the group, or "/" for the root.
func (g *Group) Name() string { return g.name }

// Path returns the NeXus path, with class suffixes, computed when the
// group was opened.
func (g *Group) Path() string { return g.path }

// File returns the file the group was opened from.
func (g *Group) File() *File { return g.file }

// Handle returns the storage handle, or nil once closed.
func (g *Group) Handle() *hdf5.Group { return g.h }

// IsValid reports whether the group is open.
func (g *Group) IsValid() bool {
	return g.h != nil && g.h.Valid()
}

// NXClass returns the NX_class attribute, or "" when absent.
func (g *Group) NXClass() string {
	if !g.IsValid() {
		return ""
	}
	return nxClass(g.h)
}

// Close closes the group and everything opened through it. The root group
// stays attached to its file.
func (g *Group) Close() error {
	if g.parent != nil {
		g.parent.forget(g)
	}
	return g.release()
}

func (g *Group) release() error {
	if g.h == nil {
		return nil
	}
	err := g.closeChildren()
	g.h = nil
	return err
}

// Reopen opens the group through its parent again, then reopens the nodes
// opened through it.
func (g *Group) Reopen() error {
	var (
		h   *hdf5.Group
		err error
	)
	if g.parent == nil {
		fh := g.file.Handle()
		if fh == nil {
			return invalid(g.path)
		}
		h = fh.Root()
	} else {
		if !g.parent.IsValid() {
			return invalid(g.path)
		}
		h, err = g.parent.h.OpenGroup(g.name)
		if err != nil {
			return fmt.Errorf("reopening %s: %w", g.path, storageErr(err))
		}
		g.parent.attach(g)
	}
	g.h = h
	return g.reopenChildren()
}

// Attributes returns the attributes of the group.
func (g *Group) Attributes() *AttributeManager {
	return newAttributeManager(g, g.path)
}

func (g *Group) attrHolder() (attrHolder, error) {
	if !g.IsValid() {
		return nil, invalid(g.path)
	}
	return g.h, nil
}

// Open returns the child group, field, attribute or link called name, in
// that order of precedence. A name matching none of them yields ErrNotFound.
func (g *Group) Open(name string) (Node, error) {
	if !g.IsValid() {
		return nil, invalid(g.path)
	}
	kind, err := g.h.Kind(name)
	if err != nil {
		return nil, storageErr(err)
	}
	switch {
	case kind == hdf5.KindGroup:
		return nodeOrNil(g.OpenGroup(name))
	case kind == hdf5.KindDataset:
		return nodeOrNil(g.OpenField(name))
	case g.h.HasAttr(name):
		return nodeOrNil(g.Attributes().Get(name))
	}
	l, err := g.findLink(name)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("%s/%s: %w", g.path, name, ErrNotFound)
	}
	return l, nil
}

// nodeOrNil keeps a typed nil pointer out of the Node interface.
func nodeOrNil[T Node](n T, err error) (Node, error) {
	if err != nil {
		return nil, err
	}
	return n, nil
}

// OpenLink wraps the raw link entry called name without resolving it, so a
// link to a group is returned as a *Link rather than a *Group. It is the
// best-effort path for links whose targets cannot be opened.
func (g *Group) OpenLink(name string) (*Link, error) {
	if !g.IsValid() {
		return nil, invalid(g.path)
	}
	l, err := g.findLink(name)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("link %s/%s: %w", g.path, name, ErrNotFound)
	}
	if !l.IsValid() {
		log.Debugw(g.file.ctx, "opened unresolved link", "path", l.path, "target", l.TargetPath())
	}
	return l, nil
}

// OpenGroup opens the child group called name.
func (g *Group) OpenGroup(name string) (*Group, error) {
	if !g.IsValid() {
		return nil, invalid(g.path)
	}
	h, err := g.h.OpenGroup(name)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", g.path, name, storageErr(err))
	}
	return newGroup(g, h), nil
}

// OpenField opens the child field called name.
func (g *Group) OpenField(name string) (*Field, error) {
	if !g.IsValid() {
		return nil, invalid(g.path)
	}
	h, err := g.h.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", g.path, name, storageErr(err))
	}
	return newField(g, name, h), nil
}

// CreateGroup creates a child group and, when nxclass is not empty, stamps
// its NX_class attribute.
func (g *Group) CreateGroup(name, nxclass string) (*Group, error) {
	if !g.IsValid() {
		return nil, invalid(g.path)
	}
	h, err := g.h.CreateGroup(name)
	if err != nil {
		return nil, fmt.Errorf("creating group %s/%s: %w", g.path, name, storageErr(err))
	}
	if nxclass != "" {
		if err := h.WriteAttr("NX_class", nxclass); err != nil {
			return nil, fmt.Errorf("stamping %s/%s: %w", g.path, name, storageErr(err))
		}
	}
	return newGroup(g, h), nil
}

// CreateField creates a chunked field whose dimensions can all grow. The
// default shape is [1]; the default chunk is the shape with zero extents
// replaced by one.
func (g *Group) CreateField(name string, dt DType, opts ...FieldOption) (*Field, error) {
	if !g.IsValid() {
		return nil, invalid(g.path)
	}
	o := &fieldOptions{shape: []int{1}}
	for _, opt := range opts {
		opt(o)
	}
	typ, err := storageType(dt)
	if err != nil {
		return nil, err
	}

	dims := make([]uint64, len(o.shape))
	chunk := make([]uint64, len(o.shape))
	for i, e := range o.shape {
		if e < 0 {
			return nil, fmt.Errorf("%w: negative extent in shape %v", ErrShapeMismatch, o.shape)
		}
		dims[i] = uint64(e)
		chunk[i] = uint64(max(e, 1))
	}
	if o.chunk != nil {
		if len(o.chunk) != len(o.shape) {
			return nil, fmt.Errorf("%w: chunk %v for shape %v", ErrShapeMismatch, o.chunk, o.shape)
		}
		for i, e := range o.chunk {
			chunk[i] = uint64(max(e, 1))
		}
	}

	dopts := append([]hdf5.DatasetOption{hdf5.WithChunks(chunk...), hdf5.WithUnlimited()}, o.deflate.datasetOptions()...)
	h, err := g.h.CreateDataset(name, typ, dims, dopts...)
	if err != nil {
		return nil, fmt.Errorf("creating field %s/%s: %w", g.path, name, storageErr(err))
	}
	return newField(g, name, h), nil
}

// Names returns the names of the group's links, dangling ones included.
func (g *Group) Names() ([]string, error) {
	if !g.IsValid() {
		return nil, invalid(g.path)
	}
	names, err := g.h.Members()
	return names, storageErr(err)
}

// Exists reports whether the group has a link called name.
func (g *Group) Exists(name string) (bool, error) {
	names, err := g.Names()
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// Size returns the number of links in the group.
func (g *Group) Size() (int, error) {
	names, err := g.Names()
	return len(names), err
}

// Iter returns a fresh one-shot iterator over the group's children in the
// order of Names.
func (g *Group) Iter() *Iter {
	names, err := g.Names()
	return &Iter{group: g, names: names, err: err}
}

// Iter walks the children of a group. Each call to Next opens the next
// child.
//
//	it := g.Iter()
//	for it.Next() {
//		n := it.Node()
//	}
//	if err := it.Err(); err != nil {
type Iter struct {
	group *Group
	names []string
	node  Node
	err   error
}

// Next opens the next child and reports whether it succeeded.
func (it *Iter) Next() bool {
	if it.err != nil || len(it.names) == 0 {
		it.node = nil
		return false
	}
	name := it.names[0]
	it.names = it.names[1:]
	it.node, it.err = it.group.Open(name)
	return it.err == nil
}

// Node returns the child opened by the last call to Next.
func (it *Iter) Node() Node { return it.node }

// Err returns the error that stopped the iteration, if any.
func (it *Iter) Err() error { return it.err }

// Link creates a link called name to target and returns it. A target of the
// form "file:/path" whose file differs from the group's own file becomes an
// external link; any other target is a link within the file.
func (g *Group) Link(target, name string) (*Link, error) {
	if !g.IsValid() {
		return nil, invalid(g.path)
	}
	var err error
	if file, obj, ok := strings.Cut(target, ":/"); ok {
		obj = "/" + obj
		ext, same, absErr := externalName(file, g.file.path)
		switch {
		case absErr != nil:
			return nil, absErr
		case same:
			err = g.h.CreateSoftLink(name, obj)
		default:
			err = g.h.CreateExternalLink(name, ext, obj)
		}
	} else {
		err = g.h.CreateSoftLink(name, target)
	}
	if err != nil {
		return nil, fmt.Errorf("linking %s/%s to %s: %w", g.path, name, target, storageErr(err))
	}

	l, err := g.findLink(name)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("link %s/%s: %w", g.path, name, ErrNotFound)
	}
	return l, nil
}

// externalName returns the name to record for an external target file,
// relative to the directory of the local file when the target lies below
// it. same reports that target is the local file.
func externalName(target, local string) (name string, same bool, err error) {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", false, err
	}
	absLocal, err := filepath.Abs(local)
	if err != nil {
		return "", false, err
	}
	if absTarget == absLocal {
		return absTarget, true, nil
	}
	if rel, err := filepath.Rel(filepath.Dir(absLocal), absTarget); err == nil && !strings.HasPrefix(rel, "..") {
		return rel, false, nil
	}
	return absTarget, false, nil
}

// Links returns every link of the group in storage order.
func (g *Group) Links() ([]*Link, error) {
	if !g.IsValid() {
		return nil, invalid(g.path)
	}
	infos, err := g.h.Links()
	if err != nil {
		return nil, storageErr(err)
	}
	links := make([]*Link, len(infos))
	for i := range infos {
		links[i] = newLink(g, infos[i])
	}
	return links, nil
}

func (g *Group) findLink(name string) (*Link, error) {
	infos, err := g.h.Links()
	if err != nil {
		return nil, storageErr(err)
	}
	for i := range infos {
		if infos[i].Name == name {
			return newLink(g, infos[i]), nil
		}
	}
	return nil, nil
}
