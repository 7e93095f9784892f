package hdf5

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/robert-malhotra/go-nexus/internal/message"
)

// handle is the state shared by groups and datasets: the path the handle was
// opened by and the cached header of the object it resolved to.
type handle struct {
	file *File
	path string
	node *node
}

// Name returns the last component of the object's path.
func (o *handle) Name() string {
	if o.path == "/" {
		return "/"
	}
	return path.Base(o.path)
}

// Path returns the full path the object was opened by.
func (o *handle) Path() string {
	return o.path
}

// File returns the file holding the object, which differs from the opening
// file when the object was reached through an external link.
func (o *handle) File() *File {
	return o.node.file
}

// Valid reports whether the handle still refers to a live object.
func (o *handle) Valid() bool {
	return !o.node.file.closed && !o.node.detached
}

// Attrs returns the attribute names in storage order.
func (o *handle) Attrs() []string {
	var names []string
	for _, msg := range o.node.header.All(message.TypeAttribute) {
		names = append(names, msg.(*message.Attribute).Name)
	}
	return names
}

// Attr returns an attribute by name, or nil if not found.
func (o *handle) Attr(name string) *Attribute {
	a := &Attribute{owner: o.node, name: name}
	if a.msg() == nil {
		return nil
	}
	return a
}

// HasAttr returns true if the object has an attribute with the given name.
func (o *handle) HasAttr(name string) bool {
	return o.Attr(name) != nil
}

// CreateAttr creates a zero-valued attribute. A nil or empty dims creates a
// scalar. It fails with ErrExists when the name is taken.
func (o *handle) CreateAttr(name string, t Type, dims []uint64) (*Attribute, error) {
	f := o.node.file
	if err := f.checkWritable(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty attribute name", ErrInvalidPath)
	}
	dt, err := f.storageDatatype(t)
	if err != nil {
		return nil, err
	}

	space := message.NewScalarDataspace()
	if len(dims) > 0 {
		space = message.NewDataspace(dims, nil)
	}
	n := numElements(space)

	var raw []byte
	if dt.Class == message.ClassVarLen {
		raw, err = f.writeStrings(make([]string, n))
		if err != nil {
			return nil, err
		}
	} else {
		raw = make([]byte, n*uint64(dt.Size))
	}

	if err := f.putAttr(o.node, message.NewAttribute(name, dt, space, raw), false); err != nil {
		return nil, err
	}
	return &Attribute{owner: o.node, name: name}, nil
}

// WriteAttr creates or replaces an attribute, inferring its type from value.
// Strings are stored as variable-length UTF-8 and booleans as an enum.
// Slices produce a one-dimensional attribute; other values a scalar.
func (o *handle) WriteAttr(name string, value interface{}) error {
	f := o.node.file
	if err := f.checkWritable(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: empty attribute name", ErrInvalidPath)
	}

	t, dims, err := inferType(value)
	if err != nil {
		return fmt.Errorf("attribute %q: %w", name, err)
	}
	dt, err := f.storageDatatype(t)
	if err != nil {
		return err
	}
	space := message.NewScalarDataspace()
	if dims != nil {
		space = message.NewDataspace(dims, nil)
	}
	raw, err := f.encodeValue(dt, numElements(space), value)
	if err != nil {
		return fmt.Errorf("encoding attribute %q: %w", name, err)
	}
	return f.putAttr(o.node, message.NewAttribute(name, dt, space, raw), true)
}

// DeleteAttr removes an attribute.
func (o *handle) DeleteAttr(name string) error {
	f := o.node.file
	if err := f.checkWritable(); err != nil {
		return err
	}
	parts := partsOf(o.node.header)
	i := parts.attr(name)
	if i < 0 {
		return fmt.Errorf("attribute %q: %w", name, ErrNotFound)
	}
	parts.attrs = append(parts.attrs[:i], parts.attrs[i+1:]...)
	return f.commit(o.node, parts.messages())
}

// Group represents an HDF5 group.
type Group struct {
	handle
}

// Kind is the kind of object a link resolves to.
type Kind int

const (
	KindMissing Kind = iota
	KindGroup
	KindDataset
)

func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindDataset:
		return "dataset"
	default:
		return "missing"
	}
}

// LinkType distinguishes hard, soft and external links.
type LinkType int

const (
	LinkHard LinkType = iota
	LinkSoft
	LinkExternal
)

func (t LinkType) String() string {
	switch t {
	case LinkSoft:
		return "soft"
	case LinkExternal:
		return "external"
	default:
		return "hard"
	}
}

// LinkInfo describes one link of a group. Dangling links are reported too.
type LinkInfo struct {
	Name string
	Type LinkType
	// File is the target file of an external link, empty otherwise.
	File string
	// Path is the target object path: the hard-link path, the soft link
	// value, or the path inside the external file.
	Path string
}

// resolve finds the object at a path relative to g, or absolute when the
// path starts with "/".
func (g *Group) resolve(p string) (*node, error) {
	if g.node.file.closed {
		return nil, ErrClosed
	}
	visited := make(map[string]bool)
	if strings.HasPrefix(p, "/") {
		return g.node.file.locate(p, visited)
	}
	return g.node.walk(SplitPath(p), visited)
}

func (g *Group) childPath(rel string) string {
	if strings.HasPrefix(rel, "/") {
		return CleanPath(rel)
	}
	return path.Join(g.path, rel)
}

// OpenGroup opens a subgroup by relative path.
func (g *Group) OpenGroup(relativePath string) (*Group, error) {
	n, err := g.resolve(relativePath)
	if err != nil {
		return nil, fmt.Errorf("finding %q: %w", relativePath, err)
	}
	if !n.isGroup() {
		return nil, ErrNotGroup
	}
	return &Group{handle{file: g.file, path: g.childPath(relativePath), node: n}}, nil
}

// OpenDataset opens a dataset by relative path.
func (g *Group) OpenDataset(relativePath string) (*Dataset, error) {
	n, err := g.resolve(relativePath)
	if err != nil {
		return nil, fmt.Errorf("finding %q: %w", relativePath, err)
	}
	if n.isGroup() {
		return nil, ErrNotDataset
	}
	return &Dataset{handle{file: g.file, path: g.childPath(relativePath), node: n}}, nil
}

// Kind reports what a relative path resolves to. Names that do not exist,
// dangling soft links and external links to missing files are KindMissing.
func (g *Group) Kind(relativePath string) (Kind, error) {
	n, err := g.resolve(relativePath)
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, fs.ErrNotExist), errors.Is(err, ErrNotGroup):
		return KindMissing, nil
	case err != nil:
		return KindMissing, err
	case n.isGroup():
		return KindGroup, nil
	default:
		return KindDataset, nil
	}
}

// Links returns the group's links in storage order.
func (g *Group) Links() ([]LinkInfo, error) {
	if g.node.file.closed {
		return nil, ErrClosed
	}
	links, err := g.node.links()
	if err != nil {
		return nil, err
	}
	infos := make([]LinkInfo, len(links))
	for i, l := range links {
		switch {
		case l.IsSoft():
			infos[i] = LinkInfo{Name: l.Name, Type: LinkSoft, Path: l.SoftLinkValue}
		case l.IsExternal():
			infos[i] = LinkInfo{Name: l.Name, Type: LinkExternal, File: l.ExternalFile, Path: l.ExternalPath}
		default:
			infos[i] = LinkInfo{Name: l.Name, Type: LinkHard, Path: joinPath(g.node.path, l.Name)}
		}
	}
	return infos, nil
}

// Members returns the names of all members (groups and datasets) in this group.
func (g *Group) Members() ([]string, error) {
	links, err := g.Links()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(links))
	for i, l := range links {
		names[i] = l.Name
	}
	return names, nil
}

// NumObjects returns the number of links in this group.
func (g *Group) NumObjects() (int, error) {
	members, err := g.Members()
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

func (g *Group) addLink(link *message.Link) error {
	return g.node.file.editLinks(g.node, func(p *headerParts) error {
		if p.link(link.Name) >= 0 {
			return fmt.Errorf("%q in %s: %w", link.Name, g.path, ErrExists)
		}
		p.links = append(p.links, link)
		return nil
	})
}

// CreateGroup creates a new subgroup with the given name.
func (g *Group) CreateGroup(name string) (*Group, error) {
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

	addr, header, err := f.writeHeader((&headerParts{}).messages(), true)
	if err != nil {
		return nil, fmt.Errorf("writing group header: %w", err)
	}
	if err := g.addLink(message.NewHardLink(name, addr)); err != nil {
		return nil, fmt.Errorf("adding link to parent: %w", err)
	}

	n := &node{file: f, path: joinPath(g.node.path, name), addr: addr, header: header}
	f.nodes[n.path] = n
	return &Group{handle{file: g.file, path: joinPath(g.path, name), node: n}}, nil
}

// CreateSoftLink adds a link named name whose value is the target path.
// The target need not exist.
func (g *Group) CreateSoftLink(name, target string) error {
	if err := validName(name); err != nil {
		return err
	}
	return g.addLink(message.NewSoftLink(name, target))
}

// CreateExternalLink adds a link to objectPath inside another file.
func (g *Group) CreateExternalLink(name, file, objectPath string) error {
	if err := validName(name); err != nil {
		return err
	}
	return g.addLink(message.NewExternalLink(name, file, CleanPath(objectPath)))
}

// Unlink removes a link. Objects it pointed to are left unreachable.
func (g *Group) Unlink(name string) error {
	err := g.node.file.editLinks(g.node, func(p *headerParts) error {
		i := p.link(name)
		if i < 0 {
			return fmt.Errorf("%q in %s: %w", name, g.path, ErrNotFound)
		}
		p.links = append(p.links[:i], p.links[i+1:]...)
		return nil
	})
	if err != nil {
		return err
	}
	g.node.file.detach(joinPath(g.node.path, name))
	return nil
}
