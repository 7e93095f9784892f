// Package object reads and writes object headers: the message lists that
// describe every group and dataset in a file.
package object

import (
	"encoding/binary"
	"errors"
	"fmt"

	binpkg "github.com/robert-malhotra/go-nexus/internal/binary"
	"github.com/robert-malhotra/go-nexus/internal/message"
)

var (
	ErrInvalidHeader      = errors.New("invalid object header")
	ErrUnsupportedVersion = errors.New("unsupported object header version")
	ErrChecksumMismatch   = errors.New("object header checksum mismatch")
)

// maxDepth bounds the chain of continuation blocks followed from one header.
const maxDepth = 64

// Header is a decoded object header. Continuation blocks are followed while
// reading, so Messages holds the messages of every block in file order.
type Header struct {
	Version  uint8
	Address  uint64
	Messages []message.Message
}

// Read decodes the version 1 or version 2 object header at addr.
func Read(r *binpkg.Reader, addr uint64) (*Header, error) {
	hr := r.At(int64(addr))
	sig, err := hr.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("reading object header at %d: %w", addr, err)
	}

	h := &Header{Address: addr}
	switch {
	case string(sig) == "OHDR":
		h.Version = 2
		err = h.readV2(hr)
	case sig[0] == 1:
		h.Version = 1
		err = h.readV1(hr)
	default:
		return nil, fmt.Errorf("%w at %d", ErrInvalidHeader, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("object header at %d: %w", addr, err)
	}
	return h, nil
}

// First returns the first message of the given type, or nil.
func (h *Header) First(typ message.Type) message.Message {
	for _, m := range h.Messages {
		if m.Type() == typ {
			return m
		}
	}
	return nil
}

// All returns every message of the given type.
func (h *Header) All(typ message.Type) []message.Message {
	var out []message.Message
	for _, m := range h.Messages {
		if m.Type() == typ {
			out = append(out, m)
		}
	}
	return out
}

func first[T message.Message](h *Header, typ message.Type) T {
	m, _ := h.First(typ).(T)
	return m
}

func (h *Header) Dataspace() *message.Dataspace {
	return first[*message.Dataspace](h, message.TypeDataspace)
}

func (h *Header) Datatype() *message.Datatype {
	return first[*message.Datatype](h, message.TypeDatatype)
}

func (h *Header) DataLayout() *message.DataLayout {
	return first[*message.DataLayout](h, message.TypeDataLayout)
}

func (h *Header) FilterPipeline() *message.FilterPipeline {
	return first[*message.FilterPipeline](h, message.TypeFilterPipeline)
}

// format is the message prefix layout of one header version.
type format struct {
	v2      bool
	ordered bool
}

func (f format) prefix() int {
	switch {
	case !f.v2:
		return 8
	case f.ordered:
		return 6
	}
	return 4
}

// readV1 reads the 16-byte prefix (version, message count, reference count
// and message block size) and the message block that follows.
func (h *Header) readV1(r *binpkg.Reader) error {
	head, err := r.ReadBytes(16)
	if err != nil {
		return err
	}
	block, err := r.ReadBytes(int(binary.LittleEndian.Uint32(head[8:12])))
	if err != nil {
		return fmt.Errorf("reading messages: %w", err)
	}
	return h.readBlock(r, block, format{}, 0)
}

// readV2 reads the OHDR prefix, checks the chunk checksum and decodes the
// first chunk. Optional timestamps and attribute phase values are skipped.
func (h *Header) readV2(r *binpkg.Reader) error {
	start := r.Pos()
	r.Skip(4)
	version, err := r.ReadUint8()
	if err != nil {
		return err
	}
	if version != 2 {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	flags, err := r.ReadUint8()
	if err != nil {
		return err
	}
	if flags&0x20 != 0 {
		r.Skip(16)
	}
	if flags&0x10 != 0 {
		r.Skip(4)
	}
	size, err := r.ReadUintN(1 << (flags & 0x03))
	if err != nil {
		return err
	}

	prefix := int(r.Pos() - start)
	chunk, err := r.At(start).ReadBytes(prefix + int(size) + 4)
	if err != nil {
		return fmt.Errorf("reading first chunk: %w", err)
	}
	if err := verify(chunk); err != nil {
		return err
	}
	return h.readBlock(r, chunk[prefix:len(chunk)-4], format{v2: true, ordered: flags&0x04 != 0}, 0)
}

// verify checks the trailing Jenkins lookup3 checksum of a v2 chunk.
func verify(chunk []byte) error {
	n := len(chunk) - 4
	if binary.LittleEndian.Uint32(chunk[n:]) != binpkg.Lookup3Checksum(chunk[:n]) {
		return ErrChecksumMismatch
	}
	return nil
}

// readBlock decodes consecutive messages. A tail shorter than a message
// prefix is a gap and is ignored; version 1 messages start on eight-byte
// boundaries.
func (h *Header) readBlock(r *binpkg.Reader, b []byte, f format, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: more than %d continuation blocks", ErrInvalidHeader, maxDepth)
	}
	for pos := 0; pos+f.prefix() <= len(b); {
		var typ message.Type
		var size int
		if f.v2 {
			typ, size = message.Type(b[pos]), int(binary.LittleEndian.Uint16(b[pos+1:]))
		} else {
			typ, size = message.Type(binary.LittleEndian.Uint16(b[pos:])), int(binary.LittleEndian.Uint16(b[pos+2:]))
		}
		pos += f.prefix()
		if pos+size > len(b) {
			return fmt.Errorf("%w: message type %#x overruns its block", ErrInvalidHeader, uint16(typ))
		}
		if err := h.add(r, typ, b[pos:pos+size], f, depth); err != nil {
			return err
		}
		pos += size
		if !f.v2 {
			pos = (pos + 7) &^ 7
		}
	}
	return nil
}

// add decodes one message, following continuations. Messages that fail to
// decode are dropped.
func (h *Header) add(r *binpkg.Reader, typ message.Type, data []byte, f format, depth int) error {
	if typ == message.TypeNIL {
		return nil
	}
	m, err := message.Parse(typ, data, r)
	if err != nil {
		return nil
	}
	c, ok := m.(*message.Continuation)
	if !ok {
		h.Messages = append(h.Messages, m)
		return nil
	}

	b, err := r.At(int64(c.Offset)).ReadBytes(int(c.Length))
	if err != nil {
		return fmt.Errorf("reading continuation block at %d: %w", c.Offset, err)
	}
	if !f.v2 {
		return h.readBlock(r, b, f, depth+1)
	}
	if len(b) < 8 || string(b[:4]) != "OCHK" {
		return fmt.Errorf("%w: continuation block at %d has no OCHK signature", ErrInvalidHeader, c.Offset)
	}
	if err := verify(b); err != nil {
		return fmt.Errorf("continuation block at %d: %w", c.Offset, err)
	}
	return h.readBlock(r, b[4:len(b)-4], f, depth+1)
}
