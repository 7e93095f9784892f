package hdf5

import (
	"fmt"
	"strings"
)

// ParseAttrPath splits "/object/path@name" at its last '@'. An empty
// object part names the root group and a missing leading slash is added.
func ParseAttrPath(p string) (objectPath, attrName string, err error) {
	i := strings.LastIndexByte(p, '@')
	if i < 0 || i == len(p)-1 {
		return "", "", fmt.Errorf("%w: %q is not of the form object@attribute", ErrInvalidPath, p)
	}
	return CleanPath(p[:i]), p[i+1:], nil
}

// JoinAttrPath is the inverse of ParseAttrPath.
func JoinAttrPath(objectPath, attrName string) string {
	if objectPath == "/" {
		return "/@" + attrName
	}
	return objectPath + "@" + attrName
}

// SplitPath returns the members named by p. Empty and "." components are
// dropped, so "/", "" and "/./" all name the root.
func SplitPath(p string) []string {
	parts := []string{}
	for _, s := range strings.Split(p, "/") {
		if s != "" && s != "." {
			parts = append(parts, s)
		}
	}
	return parts
}

// CleanPath returns p as an absolute path without empty components or a
// trailing slash.
func CleanPath(p string) string {
	return "/" + strings.Join(SplitPath(p), "/")
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// validName rejects names that cannot be stored as a single link.
func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return nil
}
