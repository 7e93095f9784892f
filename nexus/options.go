package nexus

import "github.com/robert-malhotra/go-nexus/hdf5"

// LibVer selects the format versions written to a file.
type LibVer = hdf5.LibVer

const (
	LibVerEarliest = hdf5.LibVerEarliest
	LibVerLatest   = hdf5.LibVerLatest
)

type fileOptions struct {
	readonly  *bool
	swmr      *bool
	libver    *LibVer
	overwrite bool
}

// FileOption configures Open, Create and File.Reopen.
type FileOption func(*fileOptions)

// ReadOnly opens the file without write access.
func ReadOnly(readonly bool) FileOption {
	return func(o *fileOptions) { o.readonly = &readonly }
}

// SWMR requests single-writer/multiple-reader access.
func SWMR(swmr bool) FileOption {
	return func(o *fileOptions) { o.swmr = &swmr }
}

// WithLibVer sets the library version bounds. The default is LibVerLatest.
func WithLibVer(v LibVer) FileOption {
	return func(o *fileOptions) { o.libver = &v }
}

// Overwrite lets Create truncate an existing file.
func Overwrite(overwrite bool) FileOption {
	return func(o *fileOptions) { o.overwrite = overwrite }
}

func fileOptionsOf(opts []FileOption) *fileOptions {
	o := &fileOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type fieldOptions struct {
	shape   []int
	chunk   []int
	deflate *Deflate
}

// FieldOption configures Group.CreateField.
type FieldOption func(*fieldOptions)

// WithShape sets the initial shape. The default is [1].
func WithShape(dims ...int) FieldOption {
	return func(o *fieldOptions) { o.shape = dims }
}

// WithChunk sets the chunk shape. The default is the initial shape with
// zero extents replaced by one.
func WithChunk(dims ...int) FieldOption {
	return func(o *fieldOptions) { o.chunk = dims }
}

// WithDeflate compresses the field.
func WithDeflate(d *Deflate) FieldOption {
	return func(o *fieldOptions) { o.deflate = d }
}

type attrOptions struct {
	shape     []int
	overwrite bool
}

// AttrOption configures AttributeManager.Create.
type AttrOption func(*attrOptions)

// WithAttrShape creates an array attribute. Without it the attribute is a
// scalar.
func WithAttrShape(dims ...int) AttrOption {
	return func(o *attrOptions) { o.shape = dims }
}

// WithOverwrite replaces an existing attribute of the same name.
func WithOverwrite() AttrOption {
	return func(o *attrOptions) { o.overwrite = true }
}
