package hdf5

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/robert-malhotra/go-nexus/internal/alloc"
	binpkg "github.com/robert-malhotra/go-nexus/internal/binary"
	"github.com/robert-malhotra/go-nexus/internal/object"
	"github.com/robert-malhotra/go-nexus/internal/superblock"
)

// File represents an open HDF5 file.
//
// Writable files are persisted copy-on-write: every mutation appends new
// objects, rewrites the ancestors of the changed object up to the root and
// finally rewrites the superblock. A File is not safe for concurrent use.
type File struct {
	path          string
	flags         Flags
	file          *os.File
	reader        *binpkg.Reader
	superblock    *superblock.Superblock
	nodes         map[string]*node
	closed        bool
	externalFiles map[string]*File // Cache of opened external files

	// Write support fields
	writer    *binpkg.Writer
	allocator *alloc.Allocator
}

// Open opens an HDF5 file for reading.
func Open(path string) (*File, error) {
	return OpenFile(path, FlagReadOnly)
}

// Create creates a new HDF5 file at the given path, truncating any existing file.
func Create(path string, opts ...FileOption) (*File, error) {
	return OpenFile(path, FlagReadWrite|FlagTruncate, opts...)
}

// OpenReadWrite opens an existing HDF5 file for reading and writing.
func OpenReadWrite(path string) (*File, error) {
	return OpenFile(path, FlagReadWrite)
}

// OpenFile opens or creates a file according to flags.
//
// FlagTruncate and FlagExclusive create a new file using the options; other
// flag combinations open an existing file. SWMR access in either direction
// requires a version 3 superblock, otherwise ErrUnsupported is returned.
func OpenFile(path string, flags Flags, opts ...FileOption) (*File, error) {
	if flags&FlagSWMRRead != 0 && flags.Writable() {
		return nil, fmt.Errorf("%w: SWMR read access on a writable file", ErrUnsupported)
	}
	if flags&FlagSWMRWrite != 0 && !flags.Writable() {
		return nil, fmt.Errorf("%w: SWMR write access on a read-only file", ErrUnsupported)
	}

	options := defaultFileOptions()
	for _, opt := range opts {
		opt(options)
	}

	if flags&(FlagTruncate|FlagExclusive) != 0 {
		return create(path, flags|FlagReadWrite, options)
	}

	mode := os.O_RDONLY
	if flags.Writable() {
		mode = os.O_RDWR
	}
	osFile, err := os.OpenFile(path, mode, 0)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}

	sb, err := superblock.Read(osFile)
	if err != nil {
		osFile.Close()
		if errors.Is(err, superblock.ErrNotHDF5) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotHDF5)
		}
		return nil, fmt.Errorf("reading superblock: %w", err)
	}
	if flags.Writable() && sb.BaseAddress != 0 {
		osFile.Close()
		return nil, fmt.Errorf("%w: files with a user block are read-only", ErrUnsupported)
	}
	if flags.Writable() && sb.Version < 2 {
		osFile.Close()
		return nil, fmt.Errorf("%w: superblock version %d is read-only", ErrUnsupported, sb.Version)
	}
	if flags.SWMR() && !sb.SupportsSWMR() {
		osFile.Close()
		return nil, fmt.Errorf("%w: SWMR needs superblock version 3, file has %d", ErrUnsupported, sb.Version)
	}

	f := &File{
		path:       path,
		flags:      flags,
		file:       osFile,
		reader:     binpkg.NewReader(based(osFile, sb.BaseAddress), sb.Config()),
		superblock: sb,
	}
	if err := f.loadRoot(); err != nil {
		osFile.Close()
		return nil, fmt.Errorf("opening root group: %w", err)
	}

	if flags.Writable() {
		f.writer = binpkg.NewWriter(osFile, sb.Config())
		f.allocator = alloc.New(sb.EOFAddress)
		f.markConsistency()
		if err := f.writeSuperblock(); err != nil {
			osFile.Close()
			return nil, fmt.Errorf("writing superblock: %w", err)
		}
	}

	return f, nil
}

// create writes a superblock and an empty root group to a new file.
func create(path string, flags Flags, options *fileOptions) (*File, error) {
	sb := superblock.New(options.libver.superblockVersion(), options.offsetSize, options.lengthSize)
	if flags.SWMR() && !sb.SupportsSWMR() {
		return nil, fmt.Errorf("%w: SWMR needs the latest library version bounds", ErrUnsupported)
	}

	mode := os.O_RDWR | os.O_CREATE
	if flags&FlagExclusive != 0 {
		mode |= os.O_EXCL
	} else {
		mode |= os.O_TRUNC
	}
	osFile, err := os.OpenFile(path, mode, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrExists)
		}
		return nil, fmt.Errorf("creating file: %w", err)
	}

	cfg := sb.Config()
	f := &File{
		path:       path,
		flags:      flags,
		file:       osFile,
		reader:     binpkg.NewReader(osFile, cfg),
		superblock: sb,
		writer:     binpkg.NewWriter(osFile, cfg),
		allocator:  alloc.New(uint64(sb.Size())),
	}
	f.markConsistency()

	root := &node{file: f, path: "/"}
	f.nodes = map[string]*node{"/": root}
	if err := f.commit(root, (&headerParts{}).messages()); err != nil {
		osFile.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing root group: %w", err)
	}
	return f, nil
}

// loadRoot (re)reads the root group and resets the object cache.
func (f *File) loadRoot() error {
	header, err := object.Read(f.reader, f.superblock.RootGroupAddress)
	if err != nil {
		return fmt.Errorf("reading object header: %w", err)
	}
	f.nodes = map[string]*node{
		"/": {file: f, path: "/", addr: f.superblock.RootGroupAddress, header: header},
	}
	return nil
}

func (f *File) markConsistency() {
	if !f.superblock.SupportsSWMR() {
		return
	}
	f.superblock.FileConsistencyFlags = superblock.FlagWriteAccess
	if f.flags&FlagSWMRWrite != 0 {
		f.superblock.FileConsistencyFlags |= superblock.FlagSWMRWrite
	}
}

// Close closes the HDF5 file and all opened external files.
// A writable file has its consistency flags cleared and is synced first.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	writable := f.writable()
	f.closed = true

	var err error
	if writable {
		f.superblock.FileConsistencyFlags = 0
		err = multierr.Append(err, f.writeSuperblock())
		err = multierr.Append(err, f.file.Sync())
	}

	for _, extFile := range f.externalFiles {
		err = multierr.Append(err, extFile.Close())
	}
	f.externalFiles = nil
	f.nodes = nil

	return multierr.Append(err, f.file.Close())
}

// Flush writes the superblock and syncs the file to disk.
func (f *File) Flush() error {
	if f.closed {
		return ErrClosed
	}
	if !f.writable() {
		return nil
	}
	if err := f.writeSuperblock(); err != nil {
		return err
	}
	return f.file.Sync()
}

// Refresh re-reads the superblock so a reader observes objects committed by
// a writer since the file was opened. Open handles must be re-resolved.
func (f *File) Refresh() error {
	if f.closed {
		return ErrClosed
	}
	if f.writable() {
		return nil
	}
	sb, err := superblock.Read(f.file)
	if err != nil {
		return fmt.Errorf("reading superblock: %w", err)
	}
	f.superblock = sb
	return f.loadRoot()
}

// based addresses r relative to the base address recorded in the
// superblock, which is past any user block.
func based(r io.ReaderAt, base uint64) io.ReaderAt {
	if base == 0 {
		return r
	}
	return io.NewSectionReader(r, int64(base), math.MaxInt64-int64(base))
}

func (f *File) writeSuperblock() error {
	f.superblock.EOFAddress = f.allocator.EOFAddr()
	if err := f.superblock.Write(f.writer.At(0)); err != nil {
		return fmt.Errorf("writing superblock: %w", err)
	}
	return nil
}

// Root returns the root group of the file.
func (f *File) Root() *Group {
	if f.closed {
		return nil
	}
	return &Group{handle{file: f, path: "/", node: f.nodes["/"]}}
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

// Version returns the superblock version.
func (f *File) Version() int {
	return int(f.superblock.Version)
}

// Intent returns the flags the file was opened with.
func (f *File) Intent() Flags {
	return f.flags
}

// LibVer returns the format bounds implied by the superblock version.
func (f *File) LibVer() LibVer {
	if f.superblock.SupportsSWMR() {
		return LibVerLatest
	}
	return LibVerEarliest
}

// ConsistencyFlags returns the superblock file consistency flags.
func (f *File) ConsistencyFlags() uint8 {
	return f.superblock.FileConsistencyFlags
}

// IsWritable returns true if the file was opened for writing.
func (f *File) IsWritable() bool {
	return f.writable()
}

// Size returns the logical end-of-file address.
func (f *File) Size() uint64 {
	if f.allocator != nil {
		return f.allocator.EOFAddr()
	}
	return f.superblock.EOFAddress
}

// AllocStats returns allocation statistics (for debugging/testing).
func (f *File) AllocStats() alloc.Stats {
	if f.allocator == nil {
		return alloc.Stats{}
	}
	return f.allocator.Stats()
}

func (f *File) writable() bool {
	return !f.closed && f.flags.Writable()
}

func (f *File) checkWritable() error {
	if f.closed {
		return ErrClosed
	}
	if !f.flags.Writable() {
		return ErrReadOnly
	}
	return nil
}

// allocate reserves space in the file and returns the address.
func (f *File) allocate(size int64) uint64 {
	return f.allocator.Alloc(uint64(size))
}

// OpenGroup opens a group by path.
func (f *File) OpenGroup(path string) (*Group, error) {
	if f.closed {
		return nil, ErrClosed
	}
	return f.Root().OpenGroup(path)
}

// OpenDataset opens a dataset by path.
func (f *File) OpenDataset(path string) (*Dataset, error) {
	if f.closed {
		return nil, ErrClosed
	}
	return f.Root().OpenDataset(path)
}

// GetAttr returns an attribute by path.
// Path format: /group/object@attribute_name
//
// Examples:
//   - "/@root_attr" - attribute on root group
//   - "/data@units" - attribute on dataset 'data'
func (f *File) GetAttr(path string) (*Attribute, error) {
	if f.closed {
		return nil, ErrClosed
	}

	objectPath, attrName, err := ParseAttrPath(path)
	if err != nil {
		return nil, err
	}

	n, err := f.Root().resolve(objectPath)
	if err != nil {
		return nil, fmt.Errorf("opening object %s: %w", objectPath, err)
	}

	attr := (&handle{file: n.file, path: objectPath, node: n}).Attr(attrName)
	if attr == nil {
		return nil, fmt.Errorf("attribute %s: %w", attrName, ErrNotFound)
	}
	return attr, nil
}

// ReadAttr reads an attribute value by path.
// This is a convenience method that combines GetAttr and Attribute.Value().
func (f *File) ReadAttr(path string) (interface{}, error) {
	attr, err := f.GetAttr(path)
	if err != nil {
		return nil, err
	}
	return attr.Value()
}

// openExternalFile opens an external file by name, relative to the current file's directory.
// Files are cached and opened read-only.
func (f *File) openExternalFile(filename string) (*File, error) {
	if extFile, ok := f.externalFiles[filename]; ok {
		return extFile, nil
	}

	extPath := filename
	if !filepath.IsAbs(extPath) {
		extPath = filepath.Join(filepath.Dir(f.path), filename)
	}
	if abs, err := filepath.Abs(extPath); err == nil {
		if self, err := filepath.Abs(f.path); err == nil && abs == self {
			return f, nil
		}
	}

	extFile, err := Open(extPath)
	if err != nil {
		return nil, fmt.Errorf("opening external file %q: %w", extPath, err)
	}

	if f.externalFiles == nil {
		f.externalFiles = make(map[string]*File)
	}
	f.externalFiles[filename] = extFile

	return extFile, nil
}
