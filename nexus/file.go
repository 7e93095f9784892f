package nexus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relvacode/iso8601"
	"go.uber.org/multierr"

	"github.com/robert-malhotra/go-nexus/hdf5"
	"github.com/robert-malhotra/go-nexus/internal/log"
)

// NeXusVersion is stamped on the root group of created files.
const NeXusVersion = "4.3.0"

// timeLayout is the ISO 8601 form used for file_time and file_update_time.
const timeLayout = "2006-01-02T15:04:05.000000-07:00"

// File is an open NeXus file. It owns exactly one root group, whose path is
// "/". A File is not safe for concurrent use; concurrent access to the same
// path is only sound under SWMR with one writer.
type File struct {
	tree
	ctx    context.Context
	path   string
	h      *hdf5.File
	flags  hdf5.Flags
	libver LibVer
	root   *Group
}

// Open opens an existing file. By default the file is opened read-write with
// the latest library version bounds and without SWMR.
func Open(path string, opts ...FileOption) (*File, error) {
	o := fileOptionsOf(opts)
	flags, libver := openFlags(o, false, false, LibVerLatest)
	f := newFile(path)
	if err := f.open(flags, libver); err != nil {
		return nil, err
	}
	log.Debugw(f.ctx, "opened", "mode", flags)
	return f, nil
}

// Create creates a new file and stamps the root attributes. Without
// Overwrite(true) an existing file yields ErrAlreadyExists.
func Create(path string, opts ...FileOption) (*File, error) {
	o := fileOptionsOf(opts)
	flags := hdf5.FlagExclusive
	if o.overwrite {
		flags = hdf5.FlagTruncate
	}
	libver := LibVerLatest
	if o.libver != nil {
		libver = *o.libver
	}

	f := newFile(path)
	if err := f.open(flags, libver); err != nil {
		return nil, err
	}
	if err := f.stamp(); err != nil {
		return nil, multierr.Append(err, f.Close())
	}
	log.Debugw(f.ctx, "created", "libver", libver)
	return f, nil
}

func newFile(path string) *File {
	f := &File{
		ctx:  log.AddTags(context.Background(), "file", path),
		path: path,
	}
	f.file = f
	return f
}

// openFlags combines explicit options with the current mode.
func openFlags(o *fileOptions, readonly, swmr bool, libver LibVer) (hdf5.Flags, LibVer) {
	if o.readonly != nil {
		readonly = *o.readonly
	}
	if o.swmr != nil {
		swmr = *o.swmr
	}
	if o.libver != nil {
		libver = *o.libver
	}
	flags := hdf5.FlagReadWrite
	if readonly {
		flags = hdf5.FlagReadOnly
	}
	if swmr {
		libver = LibVerLatest
		if readonly {
			flags |= hdf5.FlagSWMRRead
		} else {
			flags |= hdf5.FlagSWMRWrite
		}
	}
	return flags, libver
}

func (f *File) open(flags hdf5.Flags, libver LibVer) error {
	h, err := hdf5.OpenFile(f.path, flags, hdf5.WithLibVer(libver))
	if err != nil {
		if errors.Is(err, hdf5.ErrUnsupported) && flags.SWMR() {
			return fmt.Errorf("%s: %w: %w", f.path, ErrUnsupportedMode, err)
		}
		return fmt.Errorf("opening %s: %w", f.path, storageErr(err))
	}
	f.h = h
	f.flags = flags
	f.libver = libver
	if f.root == nil {
		f.root = &Group{name: "/", path: "/"}
		f.root.file = f
		f.register(f.root)
	}
	f.root.h = h.Root()
	return nil
}

func (f *File) stamp() error {
	now := time.Now().Format(timeLayout)
	root := f.h.Root()
	for _, kv := range [][2]string{
		{"file_time", now},
		{"HDF5_version", ""},
		{"NX_class", "NXroot"},
		{"NeXus_version", NeXusVersion},
		{"file_name", f.path},
		{"file_update_time", now},
	} {
		if err := root.WriteAttr(kv[0], kv[1]); err != nil {
			return fmt.Errorf("stamping %s: %w", kv[0], storageErr(err))
		}
	}
	return nil
}

// Name returns the file path.
func (f *File) Name() string { return f.path }

// Path returns "/", the path of the root group.
func (f *File) Path() string { return "/" }

// Handle returns the storage handle, or nil once closed.
func (f *File) Handle() *hdf5.File { return f.h }

// IsValid reports whether the storage handle is open.
func (f *File) IsValid() bool {
	return f.h != nil && f.h.Root() != nil
}

// Root returns the root group.
func (f *File) Root() (*Group, error) {
	if !f.IsValid() {
		return nil, invalid(f.path)
	}
	return f.root, nil
}

// Attributes returns the attributes of the root group.
func (f *File) Attributes() *AttributeManager {
	return f.root.Attributes()
}

// Close closes every node opened from the file, then the file itself.
func (f *File) Close() error {
	if !f.IsValid() {
		return nil
	}
	err := f.closeChildren()
	st := f.h.AllocStats()
	err = multierr.Append(err, f.h.Close())
	f.h = nil
	log.Debugw(f.ctx, "closed", "appended", st.Bytes, "allocations", st.Allocations)
	return storageErr(err)
}

// Reopen closes the storage handle and opens it again. Options left unset
// keep the current mode; requesting SWMR forces the latest version bounds.
// Nodes opened from the file are reopened afterwards, so a reader observes
// changes made by a writer since the last open.
func (f *File) Reopen(opts ...FileOption) error {
	o := fileOptionsOf(opts)
	flags, libver := openFlags(o, !f.flags.Writable(), f.flags.SWMR(), f.libver)
	if flags.SWMR() && f.h != nil && f.h.Version() < 3 {
		return fmt.Errorf("%s: %w: superblock version %d", f.path, ErrUnsupportedMode, f.h.Version())
	}

	if f.h != nil {
		if err := f.h.Close(); err != nil {
			return storageErr(err)
		}
		f.h = nil
	}
	if err := f.open(flags, libver); err != nil {
		return err
	}
	log.Debugw(f.ctx, "reopened", "mode", flags)
	return f.reopenChildren()
}

// Flush writes buffered state to disk without closing.
func (f *File) Flush() error {
	if f.h == nil {
		return invalid(f.path)
	}
	return storageErr(f.h.Flush())
}

// Readonly reports whether the file was opened without write access. The
// second result is false when the handle cannot be inspected.
func (f *File) Readonly() (readonly, ok bool) {
	if !f.IsValid() {
		return false, false
	}
	return !f.h.Intent().Writable(), true
}

// Touch rewrites file_update_time with the current time.
func (f *File) Touch() error {
	if !f.IsValid() {
		return invalid(f.path)
	}
	return storageErr(f.h.Root().WriteAttr("file_update_time", time.Now().Format(timeLayout)))
}

// Created parses the file_time root attribute.
func (f *File) Created() (time.Time, error) {
	return f.timeAttr("file_time")
}

// Updated parses the file_update_time root attribute.
func (f *File) Updated() (time.Time, error) {
	return f.timeAttr("file_update_time")
}

func (f *File) timeAttr(name string) (time.Time, error) {
	if !f.IsValid() {
		return time.Time{}, invalid(f.path)
	}
	a := f.h.Root().Attr(name)
	if a == nil {
		return time.Time{}, fmt.Errorf("%s@%s: %w", f.path, name, ErrNotFound)
	}
	s, err := a.ReadScalarString()
	if err != nil {
		return time.Time{}, storageErr(err)
	}
	return iso8601.ParseString(s)
}
