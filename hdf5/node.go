package hdf5

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/robert-malhotra/go-nexus/internal/btree"
	"github.com/robert-malhotra/go-nexus/internal/heap"
	"github.com/robert-malhotra/go-nexus/internal/message"
	"github.com/robert-malhotra/go-nexus/internal/object"
)

// node is the cached state of one object header, keyed by the object's
// hard-link path. Handles share nodes so a commit through one handle is
// seen by every other handle on the same object.
type node struct {
	file     *File
	path     string
	addr     uint64
	header   *object.Header
	detached bool
}

func (n *node) isGroup() bool {
	return n.header.Dataspace() == nil
}

// headerParts is the editable view of an object header.
type headerParts struct {
	dataspace *message.Dataspace
	datatype  *message.Datatype
	layout    *message.DataLayout
	pipeline  *message.FilterPipeline
	links     []*message.Link
	attrs     []*message.Attribute
	legacy    bool
}

func partsOf(h *object.Header) *headerParts {
	p := &headerParts{
		dataspace: h.Dataspace(),
		datatype:  h.Datatype(),
		layout:    h.DataLayout(),
		pipeline:  h.FilterPipeline(),
		legacy:    h.First(message.TypeSymbolTable) != nil,
	}
	for _, msg := range h.All(message.TypeLink) {
		p.links = append(p.links, cloneLink(msg.(*message.Link)))
	}
	for _, msg := range h.All(message.TypeAttribute) {
		p.attrs = append(p.attrs, msg.(*message.Attribute))
	}
	return p
}

// messages lays out the header: group bookkeeping and links, or the
// dataset description, followed by attributes.
func (p *headerParts) messages() []message.Message {
	var msgs []message.Message
	if p.dataspace == nil {
		msgs = append(msgs, message.NewLinkInfo(), message.NewGroupInfo())
		for _, l := range p.links {
			msgs = append(msgs, l)
		}
	} else {
		msgs = append(msgs, p.dataspace, p.datatype, p.layout)
		if p.pipeline != nil && len(p.pipeline.Filters) > 0 {
			msgs = append(msgs, p.pipeline)
		}
	}
	for _, a := range p.attrs {
		msgs = append(msgs, a)
	}
	return msgs
}

func (p *headerParts) link(name string) int {
	for i, l := range p.links {
		if l.Name == name {
			return i
		}
	}
	return -1
}

func (p *headerParts) attr(name string) int {
	for i, a := range p.attrs {
		if a.Name == name {
			return i
		}
	}
	return -1
}

func cloneLink(l *message.Link) *message.Link {
	switch {
	case l.IsSoft():
		return message.NewSoftLink(l.Name, l.SoftLinkValue)
	case l.IsExternal():
		return message.NewExternalLink(l.Name, l.ExternalFile, l.ExternalPath)
	default:
		return message.NewHardLink(l.Name, l.ObjectAddress)
	}
}

// writeHeader appends a new object header and returns it parsed back.
func (f *File) writeHeader(msgs []message.Message, group bool) (uint64, *object.Header, error) {
	minChunk := 0
	if group {
		minChunk = object.MinGroupChunkSize
	}
	buf, err := object.Encode(f.writer, msgs, minChunk)
	if err != nil {
		return 0, nil, fmt.Errorf("encoding object header: %w", err)
	}
	addr := f.allocate(int64(len(buf)))
	if err := f.writer.At(int64(addr)).WriteBytes(buf); err != nil {
		return 0, nil, fmt.Errorf("writing object header: %w", err)
	}
	header, err := object.Read(f.reader, addr)
	if err != nil {
		return 0, nil, fmt.Errorf("reading back object header: %w", err)
	}
	return addr, header, nil
}

// commit stores a new version of n and relinks its ancestors up to the root.
func (f *File) commit(n *node, msgs []message.Message) error {
	if err := f.checkWritable(); err != nil {
		return err
	}
	if n.detached {
		return fmt.Errorf("%s: %w", n.path, ErrNotFound)
	}

	group := true
	for _, m := range msgs {
		if m.Type() == message.TypeDataspace {
			group = false
		}
	}
	addr, header, err := f.writeHeader(msgs, group)
	if err != nil {
		return fmt.Errorf("committing %s: %w", n.path, err)
	}
	n.addr, n.header = addr, header

	if n.path == "/" {
		f.superblock.RootGroupAddress = addr
		return f.writeSuperblock()
	}

	parent, err := f.locate(path.Dir(n.path), nil)
	if err != nil {
		return fmt.Errorf("locating parent of %s: %w", n.path, err)
	}
	return f.relink(parent, path.Base(n.path), addr)
}

func (f *File) relink(parent *node, name string, addr uint64) error {
	parts := partsOf(parent.header)
	if parts.legacy {
		return fmt.Errorf("%w: symbol-table group %s is read-only", ErrUnsupported, parent.path)
	}
	i := parts.link(name)
	if i < 0 {
		return fmt.Errorf("relinking %q under %s: %w", name, parent.path, ErrNotFound)
	}
	parts.links[i] = message.NewHardLink(name, addr)
	return f.commit(parent, parts.messages())
}

// editLinks applies fn to the links of group n and commits the result.
func (f *File) editLinks(n *node, fn func(p *headerParts) error) error {
	if err := f.checkWritable(); err != nil {
		return err
	}
	parts := partsOf(n.header)
	if parts.legacy {
		return fmt.Errorf("%w: symbol-table group %s is read-only", ErrUnsupported, n.path)
	}
	if err := fn(parts); err != nil {
		return err
	}
	return f.commit(n, parts.messages())
}

// detach invalidates cached nodes at or below p.
func (f *File) detach(p string) {
	for key, n := range f.nodes {
		if key == p || strings.HasPrefix(key, p+"/") {
			n.detached = true
			delete(f.nodes, key)
		}
	}
}

// nodeAt returns the cached node for a hard-link path, reading the header
// when the cache is empty or refers to a replaced object.
func (f *File) nodeAt(p string, addr uint64) (*node, error) {
	if n, ok := f.nodes[p]; ok && n.addr == addr {
		return n, nil
	}
	header, err := object.Read(f.reader, addr)
	if err != nil {
		return nil, fmt.Errorf("reading object header at 0x%x: %w", addr, err)
	}
	if old, ok := f.nodes[p]; ok {
		old.detached = true
	}
	n := &node{file: f, path: p, addr: addr, header: header}
	f.nodes[p] = n
	return n, nil
}

// locate resolves an absolute path, following soft and external links.
// The visited map tracks followed links to detect cycles.
func (f *File) locate(p string, visited map[string]bool) (*node, error) {
	if f.closed {
		return nil, ErrClosed
	}
	if visited == nil {
		visited = make(map[string]bool)
	}
	return f.nodes["/"].walk(SplitPath(p), visited)
}

func (n *node) walk(parts []string, visited map[string]bool) (*node, error) {
	current := n
	for _, name := range parts {
		if !current.isGroup() {
			return nil, fmt.Errorf("%q is not a group: %w", current.path, ErrNotGroup)
		}
		next, err := current.child(name, visited)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// child resolves one link of group n.
func (n *node) child(name string, visited map[string]bool) (*node, error) {
	links, err := n.links()
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		if link.Name == name {
			return n.follow(link, visited)
		}
	}
	return nil, fmt.Errorf("%q in %s: %w", name, n.path, ErrNotFound)
}

func (n *node) follow(link *message.Link, visited map[string]bool) (*node, error) {
	f := n.file
	switch {
	case link.IsHard():
		return f.nodeAt(joinPath(n.path, link.Name), link.ObjectAddress)

	case link.IsSoft():
		target := link.SoftLinkValue
		if !strings.HasPrefix(target, "/") {
			target = joinPath(n.path, target)
		}
		if len(visited) >= MaxLinkDepth {
			return nil, ErrLinkDepth
		}
		if visited[target] {
			return nil, fmt.Errorf("circular soft link detected: %s", target)
		}
		visited[target] = true
		return f.locate(target, visited)

	case link.IsExternal():
		if len(visited) >= MaxLinkDepth {
			return nil, ErrLinkDepth
		}
		key := link.ExternalFile + ":" + link.ExternalPath
		if visited[key] {
			return nil, fmt.Errorf("circular external link detected: %s", key)
		}
		visited[key] = true
		ext, err := f.openExternalFile(link.ExternalFile)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%s: %w", err, ErrNotFound)
			}
			return nil, err
		}
		return ext.locate(link.ExternalPath, visited)

	default:
		return nil, fmt.Errorf("unknown link type: %d", link.LinkType)
	}
}

// links returns the group's links in storage order. Symbol-table groups
// are translated into hard and soft link messages.
func (n *node) links() ([]*message.Link, error) {
	var links []*message.Link
	for _, msg := range n.header.All(message.TypeLink) {
		links = append(links, msg.(*message.Link))
	}
	if len(links) > 0 {
		return links, nil
	}

	var symTable *message.SymbolTable
	if msg := n.header.First(message.TypeSymbolTable); msg != nil {
		symTable = msg.(*message.SymbolTable)
	} else if n.path == "/" && n.file.superblock.RootGroupBTreeAddress != 0 {
		// Root group of a v0/v1 file: cached addresses from the superblock scratch pad
		symTable = &message.SymbolTable{
			BTreeAddress:     n.file.superblock.RootGroupBTreeAddress,
			LocalHeapAddress: n.file.superblock.RootGroupLocalHeapAddress,
		}
	}
	if symTable == nil {
		return nil, nil
	}

	localHeap, err := heap.ReadLocalHeap(n.file.reader, symTable.LocalHeapAddress)
	if err != nil {
		return nil, fmt.Errorf("reading local heap: %w", err)
	}
	entries, err := btree.ReadGroupEntries(n.file.reader, symTable.BTreeAddress, localHeap)
	if err != nil {
		return nil, fmt.Errorf("reading B-tree: %w", err)
	}
	for _, entry := range entries {
		if entry.Soft {
			links = append(links, message.NewSoftLink(entry.Name, entry.Target))
			continue
		}
		links = append(links, message.NewHardLink(entry.Name, entry.ObjectAddress))
	}
	return links, nil
}
