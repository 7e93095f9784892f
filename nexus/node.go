package nexus

import (
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
)

// Node is an element of the file tree: *Group, *Field, *Attribute or *Link.
type Node interface {
	Name() string
	// Path is the NeXus path computed when the node was opened.
	Path() string
	IsValid() bool
	// Close invalidates the node and every node opened through it, and
	// detaches it so that a Reopen of its parent leaves it closed. Closing
	// an invalid node is a no-op.
	Close() error
	// Reopen re-derives the node from its parent, then reopens every node
	// opened through it.
	Reopen() error
}

// child is a node registered with the tree it was opened through.
type child interface {
	Node
	// release invalidates the node but leaves it registered, so a Reopen of
	// its parent brings it back.
	release() error
}

// tree records the nodes opened through a node so that Close and Reopen
// reach them. A node closed by its caller is forgotten.
type tree struct {
	file     *File
	children []child
}

func (t *tree) register(c child) {
	t.children = append(t.children, c)
}

// attach registers c again after its caller closed it.
func (t *tree) attach(c child) {
	if !slices.Contains(t.children, c) {
		t.children = append(t.children, c)
	}
}

func (t *tree) forget(c child) {
	t.children = slices.DeleteFunc(t.children, func(n child) bool { return n == c })
}

// dropAttr releases and forgets the attributes called name.
func (t *tree) dropAttr(name string) {
	t.children = slices.DeleteFunc(t.children, func(n child) bool {
		a, ok := n.(*Attribute)
		if !ok || a.name != name {
			return false
		}
		a.release()
		return true
	})
}

func (t *tree) closeChildren() error {
	var err error
	for _, c := range t.children {
		if c.IsValid() {
			err = multierr.Append(err, c.release())
		}
	}
	return err
}

func (t *tree) reopenChildren() error {
	var err error
	for _, c := range t.children {
		err = multierr.Append(err, c.Reopen())
	}
	return err
}

func childPath(parent, name string) string {
	if parent == "" || parent[len(parent)-1] == '/' {
		return parent + name
	}
	return parent + "/" + name
}
