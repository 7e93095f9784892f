package cmd

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/robert-malhotra/go-nexus/hdf5"
	"github.com/robert-malhotra/go-nexus/nexus"
)

var errNotGroup = errors.New("not a group")

type attributed interface {
	nexus.Node
	Attributes() *nexus.AttributeManager
}

// resolve opens the node at p below root. Segments may carry a ":NXclass"
// suffix, which is ignored, and a trailing "@name" selects an attribute.
// Links are followed.
func resolve(root *nexus.Group, p string) (nexus.Node, error) {
	p, attr, hasAttr := strings.Cut(p, "@")
	var node nexus.Node = root
	for _, seg := range strings.Split(path.Clean("/"+p), "/") {
		if seg == "" {
			continue
		}
		g, ok := node.(*nexus.Group)
		if !ok {
			return nil, fmt.Errorf("%s: %w", node.Path(), errNotGroup)
		}
		name, _, _ := strings.Cut(seg, ":")
		n, err := g.Open(name)
		if err != nil {
			return nil, err
		}
		if l, ok := n.(*nexus.Link); ok {
			if n, err = l.Resolve(); err != nil {
				return nil, err
			}
		}
		node = n
	}
	if !hasAttr {
		return node, nil
	}
	owner, ok := node.(attributed)
	if !ok {
		return nil, fmt.Errorf("%s: attributes live on groups and fields", node.Path())
	}
	return owner.Attributes().Get(attr)
}

// resolveGroup opens the group at p.
func resolveGroup(root *nexus.Group, p string) (*nexus.Group, error) {
	n, err := resolve(root, p)
	if err != nil {
		return nil, err
	}
	g, ok := n.(*nexus.Group)
	if !ok {
		return nil, fmt.Errorf("%s: %w", n.Path(), errNotGroup)
	}
	return g, nil
}

// splitParent splits p into the group that holds its last segment and
// the name of that segment.
func splitParent(root *nexus.Group, p string) (*nexus.Group, string, error) {
	dir, name := path.Split(path.Clean("/" + p))
	if name == "" {
		return nil, "", fmt.Errorf("%q has no final name", p)
	}
	g, err := resolveGroup(root, dir)
	return g, name, err
}

// visit calls fn for every node below g in link order, descending into
// groups reached by hard links. Soft and external links are reported as
// *nexus.Link and not followed, so cycles are never entered.
func visit(g *nexus.Group, depth int, fn func(n nexus.Node, depth int) error) error {
	links, err := g.Links()
	if err != nil {
		return err
	}
	for _, l := range links {
		if l.Type() != hdf5.LinkHard {
			if err := fn(l, depth); err != nil {
				return err
			}
			continue
		}
		n, err := g.Open(l.Name())
		if err != nil {
			return err
		}
		if err := fn(n, depth); err != nil {
			return err
		}
		if child, ok := n.(*nexus.Group); ok {
			if err := visit(child, depth+1, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// formatValue renders a value on one line. Arrays of rank two or more are
// shown flat.
func formatValue(a *nexus.Array) string {
	if a.Rank() == 0 {
		if s, ok := a.Value().(string); ok {
			return strconv.Quote(s)
		}
		return fmt.Sprint(a.Value())
	}
	if s, ok := a.Data.([]string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprint(a.Data)
}

// describe summarises a node's type and shape.
func describe(n nexus.Node) (string, error) {
	switch n := n.(type) {
	case *nexus.Field:
		dt, err := n.DType()
		if err != nil {
			return "", err
		}
		shape, err := n.Shape()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %v", dt, shape), nil
	case *nexus.Attribute:
		dt, err := n.DType()
		if err != nil {
			return "", err
		}
		shape, err := n.Shape()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %v", dt, shape), nil
	case *nexus.Group:
		return n.NXClass(), nil
	case *nexus.Link:
		s := n.Type().String() + " -> " + n.TargetPath()
		if !n.IsValid() {
			s += " (dangling)"
		}
		return s, nil
	}
	return "", nil
}
