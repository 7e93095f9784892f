package hdf5

import (
	"fmt"
	"strings"

	"github.com/robert-malhotra/go-nexus/internal/filter"
	"github.com/robert-malhotra/go-nexus/internal/message"
)

// Flags selects how a file is opened.
type Flags uint8

const (
	// FlagReadOnly opens an existing file for reading.
	FlagReadOnly Flags = 0
	// FlagReadWrite opens a file for reading and writing.
	FlagReadWrite Flags = 1 << iota
	// FlagTruncate creates the file, discarding any existing content.
	FlagTruncate
	// FlagExclusive creates the file and fails if it already exists.
	FlagExclusive
	// FlagSWMRRead opens a file for reading while a SWMR writer holds it.
	FlagSWMRRead
	// FlagSWMRWrite marks a writable file for single-writer/multiple-reader access.
	FlagSWMRWrite
)

// Writable reports whether the flags permit modification.
func (fl Flags) Writable() bool {
	return fl&(FlagReadWrite|FlagTruncate|FlagExclusive) != 0
}

// SWMR reports whether either SWMR flag is set.
func (fl Flags) SWMR() bool {
	return fl&(FlagSWMRRead|FlagSWMRWrite) != 0
}

func (fl Flags) String() string {
	if fl == FlagReadOnly {
		return "r"
	}
	var parts []string
	for _, f := range []struct {
		flag Flags
		name string
	}{
		{FlagReadWrite, "rw"},
		{FlagTruncate, "trunc"},
		{FlagExclusive, "excl"},
		{FlagSWMRRead, "swmr-read"},
		{FlagSWMRWrite, "swmr-write"},
	} {
		if fl&f.flag != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// LibVer bounds the on-disk format versions a writer produces.
type LibVer int

const (
	// LibVerEarliest writes a version 2 superblock.
	LibVerEarliest LibVer = iota
	// LibVerLatest writes a version 3 superblock, which can carry SWMR access.
	LibVerLatest
)

func (v LibVer) String() string {
	switch v {
	case LibVerEarliest:
		return "earliest"
	case LibVerLatest:
		return "latest"
	default:
		return fmt.Sprintf("LibVer(%d)", int(v))
	}
}

// ParseLibVer parses "earliest" or "latest".
func ParseLibVer(s string) (LibVer, error) {
	switch strings.ToLower(s) {
	case "earliest":
		return LibVerEarliest, nil
	case "latest":
		return LibVerLatest, nil
	default:
		return 0, fmt.Errorf("unknown library version bound %q", s)
	}
}

func (v LibVer) superblockVersion() uint8 {
	if v == LibVerEarliest {
		return 2
	}
	return 3
}

// FileOption configures file creation options.
type FileOption func(*fileOptions)

type fileOptions struct {
	offsetSize int
	lengthSize int
	libver     LibVer
}

func defaultFileOptions() *fileOptions {
	return &fileOptions{
		offsetSize: 8,
		lengthSize: 8,
		libver:     LibVerLatest,
	}
}

// WithOffsetSize sets the size in bytes for file offsets (2, 4, or 8).
func WithOffsetSize(size int) FileOption {
	return func(o *fileOptions) {
		if size == 2 || size == 4 || size == 8 {
			o.offsetSize = size
		}
	}
}

// WithLengthSize sets the size in bytes for lengths (2, 4, or 8).
func WithLengthSize(size int) FileOption {
	return func(o *fileOptions) {
		if size == 2 || size == 4 || size == 8 {
			o.lengthSize = size
		}
	}
}

// WithLibVer sets the format bounds for newly created files.
// Existing files keep the bounds recorded in their superblock.
func WithLibVer(v LibVer) FileOption {
	return func(o *fileOptions) {
		o.libver = v
	}
}

// Unlimited marks a dimension as growable without bound.
const Unlimited = ^uint64(0)

// DatasetOption configures dataset creation options.
type DatasetOption func(*datasetOptions)

type datasetOptions struct {
	chunks     []uint64
	maxDims    []uint64
	unlimited  bool
	deflate    int
	shuffle    bool
	fletcher32 bool
	zstd       int
}

func defaultDatasetOptions() *datasetOptions {
	return &datasetOptions{deflate: -1, zstd: -1}
}

// WithChunks sets the chunk dimensions for a chunked dataset.
// Required for resizable datasets and compression.
func WithChunks(dims ...uint64) DatasetOption {
	return func(o *datasetOptions) {
		o.chunks = dims
	}
}

// WithMaxDims sets the maximum dimensions for a resizable dataset.
// Use Unlimited for an unbounded dimension.
func WithMaxDims(dims ...uint64) DatasetOption {
	return func(o *datasetOptions) {
		o.maxDims = dims
	}
}

// WithUnlimited makes every dimension unbounded.
func WithUnlimited() DatasetOption {
	return func(o *datasetOptions) {
		o.unlimited = true
	}
}

// WithDeflate enables gzip compression at the given level (0-9).
func WithDeflate(level int) DatasetOption {
	return func(o *datasetOptions) {
		if level >= 0 && level <= 9 {
			o.deflate = level
		}
	}
}

// WithShuffle enables the shuffle filter (improves compression).
func WithShuffle() DatasetOption {
	return func(o *datasetOptions) {
		o.shuffle = true
	}
}

// WithFletcher32 enables Fletcher32 checksum validation.
func WithFletcher32() DatasetOption {
	return func(o *datasetOptions) {
		o.fletcher32 = true
	}
}

// WithZstd enables Zstandard compression at the given level.
func WithZstd(level int) DatasetOption {
	return func(o *datasetOptions) {
		if level >= 0 {
			o.zstd = level
		}
	}
}

func (o *datasetOptions) filtered() bool {
	return o.deflate >= 0 || o.zstd >= 0 || o.shuffle || o.fletcher32
}

// pipeline returns the filter pipeline message in application order:
// shuffle, compression, then the checksum over the compressed bytes.
func (o *datasetOptions) pipeline(elemSize uint32) *message.FilterPipeline {
	var filters []message.FilterInfo
	if o.shuffle {
		filters = append(filters, message.FilterInfo{ID: message.FilterShuffle, ClientData: []uint32{elemSize}})
	}
	if o.deflate >= 0 {
		filters = append(filters, message.FilterInfo{ID: message.FilterDeflate, ClientData: []uint32{uint32(o.deflate)}})
	}
	if o.zstd >= 0 {
		filters = append(filters, message.FilterInfo{
			ID:         filter.FilterZstd,
			Flags:      0x01,
			Name:       "Zstandard compression",
			ClientData: []uint32{uint32(o.zstd)},
		})
	}
	if o.fletcher32 {
		filters = append(filters, message.FilterInfo{ID: message.FilterFletcher32})
	}
	if len(filters) == 0 {
		return nil
	}
	return message.NewFilterPipeline(filters...)
}
