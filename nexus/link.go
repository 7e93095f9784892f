package nexus

import (
	"fmt"
	"path"
	"strings"

	"github.com/robert-malhotra/go-nexus/hdf5"
)

// Link is a named reference from a group to an object in the same file or
// in another file. A link whose target is missing is still listed by its
// group but reports IsValid false.
type Link struct {
	name   string
	path   string
	parent *Group
	info   *hdf5.LinkInfo
}

func newLink(parent *Group, info hdf5.LinkInfo) *Link {
	l := &Link{
		name:   info.Name,
		path:   childPath(parent.path, info.Name),
		parent: parent,
		info:   &info,
	}
	parent.register(l)
	return l
}

// Name returns the link name.
func (l *Link) Name() string { return l.name }

// Path returns the path of the link entry in its group.
func (l *Link) Path() string { return l.path }

// IsValid reports whether the link entry exists and its target resolves.
func (l *Link) IsValid() bool {
	if l.info == nil || !l.parent.IsValid() {
		return false
	}
	kind, err := l.parent.h.Kind(l.name)
	return err == nil && kind != hdf5.KindMissing
}

// Type returns the kind of link. A closed link reports LinkHard.
func (l *Link) Type() hdf5.LinkType {
	if l.info == nil {
		return hdf5.LinkHard
	}
	return l.info.Type
}

// IsExternal reports whether the target lives in another file.
func (l *Link) IsExternal() bool {
	return l.info != nil && l.info.Type == hdf5.LinkExternal
}

// Close invalidates the link.
func (l *Link) Close() error {
	l.parent.forget(l)
	return l.release()
}

func (l *Link) release() error {
	l.info = nil
	return nil
}

// Reopen scans the parent's links for the name again. When the entry is
// gone the link stays invalid and no error is returned.
func (l *Link) Reopen() error {
	l.info = nil
	if !l.parent.IsValid() {
		return invalid(l.path)
	}
	infos, err := l.parent.h.Links()
	if err != nil {
		return storageErr(err)
	}
	l.parent.attach(l)
	for i := range infos {
		if infos[i].Name == l.name {
			l.info = &infos[i]
			break
		}
	}
	return nil
}

// TargetPath returns the target as "<file>:/<object path>". Links within a
// file name the file that contains them.
func (l *Link) TargetPath() string {
	if l.info == nil {
		return ""
	}
	file, target := l.info.File, l.info.Path
	if l.info.Type != hdf5.LinkExternal {
		file = l.parent.file.path
		if l.info.Type == hdf5.LinkSoft && !strings.HasPrefix(target, "/") && l.parent.h != nil {
			target = path.Join(l.parent.h.Path(), target)
		}
	}
	return file + ":/" + strings.TrimPrefix(target, "/")
}

// Resolve opens the link's target.
func (l *Link) Resolve() (Node, error) {
	if l.info == nil {
		return nil, invalid(l.path)
	}
	if !l.IsValid() {
		return nil, fmt.Errorf("%s -> %s: %w", l.path, l.TargetPath(), ErrNotFound)
	}
	return l.parent.Open(l.name)
}
