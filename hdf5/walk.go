package hdf5

import "errors"

// Object is a group or a dataset.
type Object interface {
	Path() string
	Attrs() []string
	Attr(name string) *Attribute
}

var (
	_ Object = (*Group)(nil)
	_ Object = (*Dataset)(nil)
)

// WalkFunc is called for every object reached by Walk. obj is nil when the
// link at path could not be resolved, and err says why. Returning SkipGroup
// for a group leaves its members unvisited; for any other object it skips
// the rest of the enclosing group. SkipAll ends the walk.
type WalkFunc func(path string, obj Object, err error) error

var (
	SkipGroup = errors.New("skip this group")
	SkipAll   = errors.New("skip everything")
)

// Walk visits g and everything below it in link order, depth first. Soft
// and external links are followed, but no group is entered twice.
func Walk(g *Group, fn WalkFunc) error {
	err := walk(g, fn, map[*node]bool{})
	if errors.Is(err, SkipAll) {
		return nil
	}
	return err
}

func walk(g *Group, fn WalkFunc, seen map[*node]bool) error {
	seen[g.node] = true
	switch err := fn(g.Path(), g, nil); {
	case errors.Is(err, SkipGroup):
		return nil
	case err != nil:
		return err
	}

	links, err := g.Links()
	if err != nil {
		return err
	}
	for _, l := range links {
		p := g.childPath(l.Name)
		n, err := g.resolve(l.Name)
		switch {
		case err != nil:
			err = fn(p, nil, err)
		case !n.isGroup():
			err = fn(p, &Dataset{handle{file: g.file, path: p, node: n}}, nil)
		case !seen[n]:
			err = walk(&Group{handle{file: g.file, path: p, node: n}}, fn, seen)
		}
		if errors.Is(err, SkipGroup) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// AttrInfo is one attribute reached by WalkAttrs. Value holds the decoded
// value, or Err the reason it could not be read.
type AttrInfo struct {
	Path   string // object@name
	Object Object
	Name   string
	Value  any
	Err    error
}

// WalkAttrs calls fn for every attribute of every object below the root.
func (f *File) WalkAttrs(fn func(AttrInfo) error) error {
	if f.closed {
		return ErrClosed
	}
	return Walk(f.Root(), func(p string, obj Object, err error) error {
		if err != nil {
			return nil
		}
		for _, name := range obj.Attrs() {
			info := AttrInfo{Path: JoinAttrPath(p, name), Object: obj, Name: name}
			if a := obj.Attr(name); a != nil {
				info.Value, info.Err = a.Value()
			}
			if err := fn(info); err != nil {
				return err
			}
		}
		return nil
	})
}
