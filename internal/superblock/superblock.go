// Package superblock locates and decodes the superblock, the fixed entry
// point of a file that records field widths and the root group address.
package superblock

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	binpkg "github.com/robert-malhotra/go-nexus/internal/binary"
)

// Signature opens every superblock.
var Signature = []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}

var (
	ErrNotHDF5            = errors.New("not an HDF5 file: signature not found")
	ErrUnsupportedVersion = errors.New("unsupported superblock version")
	ErrChecksumMismatch   = errors.New("superblock checksum mismatch")
)

// File consistency flags. A writer marks the file while it holds it open so
// other processes can detect an unclean close.
const (
	FlagWriteAccess uint8 = 0x01
	FlagSWMRWrite   uint8 = 0x04
)

// maxSearch bounds the signature search. The superblock sits at byte 0 or
// after a user block of 512, 1024, 2048... bytes.
const maxSearch = 1 << 30

type Superblock struct {
	Version              uint8
	OffsetSize           uint8
	LengthSize           uint8
	FileConsistencyFlags uint8

	BaseAddress      uint64
	ExtensionAddress uint64
	EOFAddress       uint64
	RootGroupAddress uint64

	// Versions 0 and 1 cache the root group's symbol table in the
	// superblock. Zero when the entry carries no cache.
	RootGroupBTreeAddress     uint64
	RootGroupLocalHeapAddress uint64

	// FileOffset is where the signature was found.
	FileOffset int64
}

// New returns an empty superblock of the given version and field widths.
func New(version uint8, offsetSize, lengthSize int) *Superblock {
	return &Superblock{Version: version, OffsetSize: uint8(offsetSize), LengthSize: uint8(lengthSize)}
}

// Read searches r for the signature and decodes the superblock behind it.
func Read(r io.ReaderAt) (*Superblock, error) {
	sig := make([]byte, len(Signature)+1)
	for off := int64(0); off <= maxSearch; off = max(512, off*2) {
		if _, err := r.ReadAt(sig, off); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, err
		}
		if !bytes.Equal(sig[:len(Signature)], Signature) {
			continue
		}

		version := sig[len(Signature)]
		var sb *Superblock
		var err error
		switch version {
		case 0, 1:
			sb, err = decodeV0(r, off, version)
		case 2, 3:
			sb, err = decodeV2(r, off, version)
		default:
			return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
		}
		if err != nil {
			return nil, fmt.Errorf("superblock v%d at %d: %w", version, off, err)
		}
		sb.FileOffset = off
		return sb, nil
	}
	return nil, ErrNotHDF5
}

// Config returns the field layout that the rest of the file is decoded with.
func (sb *Superblock) Config() binpkg.Config {
	cfg := binpkg.DefaultConfig()
	cfg.OffsetSize = int(sb.OffsetSize)
	cfg.LengthSize = int(sb.LengthSize)
	return cfg
}

// SupportsSWMR reports whether the format can record SWMR write access.
func (sb *Superblock) SupportsSWMR() bool {
	return sb.Version >= 3
}

// Size is the encoded length of a version 2 or 3 superblock.
func (sb *Superblock) Size() int {
	return len(Signature) + 4 + 4*int(sb.OffsetSize) + 4
}

func validWidth(n uint8) bool {
	return n == 2 || n == 4 || n == 8
}

// decodeV0 reads versions 0 and 1. The root group is given by a symbol
// table entry whose scratch pad may cache the group's B-tree and heap.
func decodeV0(ra io.ReaderAt, off int64, version uint8) (*Superblock, error) {
	head := make([]byte, 16)
	if _, err := ra.ReadAt(head, off+8); err != nil {
		return nil, err
	}
	sb := &Superblock{Version: version, OffsetSize: head[5], LengthSize: head[6]}
	if !validWidth(sb.OffsetSize) || !validWidth(sb.LengthSize) {
		return nil, fmt.Errorf("field widths %d/%d", sb.OffsetSize, sb.LengthSize)
	}

	pos := off + 24
	if version == 1 {
		pos += 4
	}
	r := binpkg.NewReader(ra, sb.Config()).At(pos)
	addrs := make([]uint64, 6) // base, free space, EOF, driver, link name, object header
	for i := range addrs {
		v, err := r.ReadOffset()
		if err != nil {
			return nil, err
		}
		addrs[i] = v
	}
	sb.BaseAddress, sb.EOFAddress, sb.RootGroupAddress = addrs[0], addrs[2], addrs[5]

	cache, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if cache == 1 {
		r.Skip(4)
		if sb.RootGroupBTreeAddress, err = r.ReadOffset(); err != nil {
			return nil, err
		}
		if sb.RootGroupLocalHeapAddress, err = r.ReadOffset(); err != nil {
			return nil, err
		}
	}
	return sb, nil
}

// decodeV2 reads versions 2 and 3, which differ only in the meaning of the
// consistency flags, and verifies the trailing checksum.
func decodeV2(ra io.ReaderAt, off int64, version uint8) (*Superblock, error) {
	head := make([]byte, 12)
	if _, err := ra.ReadAt(head, off); err != nil {
		return nil, err
	}
	sb := &Superblock{Version: version, OffsetSize: head[9], LengthSize: head[10], FileConsistencyFlags: head[11]}
	if !validWidth(sb.OffsetSize) || !validWidth(sb.LengthSize) {
		return nil, fmt.Errorf("field widths %d/%d", sb.OffsetSize, sb.LengthSize)
	}

	b := make([]byte, sb.Size())
	if _, err := ra.ReadAt(b, off); err != nil {
		return nil, err
	}
	n := len(b) - 4
	r := binpkg.NewReader(bytes.NewReader(b), sb.Config()).At(12)
	for _, dst := range []*uint64{&sb.BaseAddress, &sb.ExtensionAddress, &sb.EOFAddress, &sb.RootGroupAddress} {
		v, err := r.ReadOffset()
		if err != nil {
			return nil, err
		}
		*dst = v
	}
	sum, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if sum != binpkg.Lookup3Checksum(b[:n]) {
		return nil, ErrChecksumMismatch
	}
	return sb, nil
}
