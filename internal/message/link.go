package message

import (
	"bytes"
	"fmt"
	"math/bits"

	"github.com/robert-malhotra/go-nexus/internal/binary"
)

type LinkType uint8

const (
	LinkTypeHard     LinkType = 0
	LinkTypeSoft     LinkType = 1
	LinkTypeExternal LinkType = 64
)

// Link is one entry of a new-style group. Hard links carry an object
// address, soft links a path, external links a file name and a path in it.
type Link struct {
	LinkType      LinkType
	Name          string
	ObjectAddress uint64
	SoftLinkValue string
	ExternalFile  string
	ExternalPath  string
}

func (m *Link) Type() Type { return TypeLink }

func (m *Link) IsHard() bool     { return m.LinkType == LinkTypeHard }
func (m *Link) IsSoft() bool     { return m.LinkType == LinkTypeSoft }
func (m *Link) IsExternal() bool { return m.LinkType == LinkTypeExternal }

func NewHardLink(name string, addr uint64) *Link {
	return &Link{LinkType: LinkTypeHard, Name: name, ObjectAddress: addr}
}

func NewSoftLink(name, target string) *Link {
	return &Link{LinkType: LinkTypeSoft, Name: name, SoftLinkValue: target}
}

func NewExternalLink(name, file, path string) *Link {
	return &Link{LinkType: LinkTypeExternal, Name: name, ExternalFile: file, ExternalPath: path}
}

const (
	linkHasCreationOrder = 0x04
	linkHasType          = 0x08
	linkHasCharset       = 0x10
)

func decodeLink(r *binary.Reader) (*Link, error) {
	f := &fields{r: r}
	version, flags := f.u8(), f.u8()
	if f.err == nil && version != 1 {
		return nil, fmt.Errorf("link version %d is not supported", version)
	}
	l := &Link{}
	if flags&linkHasType != 0 {
		l.LinkType = LinkType(f.u8())
	}
	if flags&linkHasCreationOrder != 0 {
		f.skip(8)
	}
	if flags&linkHasCharset != 0 {
		f.skip(1)
	}
	l.Name = string(f.bytes(int(f.uintN(1 << (flags & 0x03)))))

	switch l.LinkType {
	case LinkTypeHard:
		l.ObjectAddress = f.offset()
	case LinkTypeSoft:
		l.SoftLinkValue = string(f.bytes(int(f.u16())))
	case LinkTypeExternal:
		// A flags byte, then the file name and the object path, each
		// NUL-terminated.
		value := f.bytes(int(f.u16()))
		if len(value) > 1 {
			parts := bytes.SplitN(value[1:], []byte{0}, 3)
			l.ExternalFile = string(parts[0])
			if len(parts) > 1 {
				l.ExternalPath = string(parts[1])
			}
		}
	default:
		if f.err == nil {
			return nil, fmt.Errorf("link %q has unsupported type %d", l.Name, l.LinkType)
		}
	}
	if f.err != nil {
		return nil, fmt.Errorf("link: %w", f.err)
	}
	return l, nil
}

func (m *Link) Encode(w *binary.Writer) error {
	width := binary.Width(uint64(len(m.Name)))
	flags := uint8(bits.TrailingZeros(uint(width)))
	if m.LinkType != LinkTypeHard {
		flags |= linkHasType
	}

	e := &emit{w: w}
	e.u8(1)
	e.u8(flags)
	if m.LinkType != LinkTypeHard {
		e.u8(uint8(m.LinkType))
	}
	e.uintN(uint64(len(m.Name)), width)
	e.bytes([]byte(m.Name))
	switch m.LinkType {
	case LinkTypeHard:
		e.offset(m.ObjectAddress)
	case LinkTypeSoft:
		e.u16(uint16(len(m.SoftLinkValue)))
		e.bytes([]byte(m.SoftLinkValue))
	case LinkTypeExternal:
		e.u16(uint16(len(m.ExternalFile) + len(m.ExternalPath) + 3))
		e.u8(0)
		e.cstring(m.ExternalFile)
		e.cstring(m.ExternalPath)
	default:
		return fmt.Errorf("link %q has unsupported type %d", m.Name, m.LinkType)
	}
	return e.err
}

// LinkInfo marks a new-style group whose links are stored in the header.
type LinkInfo struct {
	FractalHeapAddr uint64
	NameIndexAddr   uint64
}

// NewLinkInfo returns link info with no fractal heap or name index. The
// all-ones address is truncated to the file's offset width when written.
func NewLinkInfo() *LinkInfo {
	return &LinkInfo{FractalHeapAddr: ^uint64(0), NameIndexAddr: ^uint64(0)}
}

func (m *LinkInfo) Type() Type { return TypeLinkInfo }

func (m *LinkInfo) Encode(w *binary.Writer) error {
	e := &emit{w: w}
	e.u8(0)
	e.u8(0)
	e.offset(m.FractalHeapAddr)
	e.offset(m.NameIndexAddr)
	return e.err
}

// GroupInfo records a group's storage thresholds; only the defaults are
// written.
type GroupInfo struct{}

func NewGroupInfo() *GroupInfo { return &GroupInfo{} }

func (m *GroupInfo) Type() Type { return TypeGroupInfo }

func (m *GroupInfo) Encode(w *binary.Writer) error {
	return w.WriteBytes([]byte{0, 0})
}
