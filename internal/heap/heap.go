// Package heap reads local heaps, the name store of symbol table groups, and
// reads and writes global heap collections, which hold variable-length
// strings.
package heap

import (
	"bytes"
	"encoding/binary"
	"fmt"

	binpkg "github.com/robert-malhotra/go-nexus/internal/binary"
)

// LocalHeap is the data segment of a local heap.
type LocalHeap struct {
	data []byte
}

// ReadLocalHeap reads the local heap at addr.
func ReadLocalHeap(r *binpkg.Reader, addr uint64) (*LocalHeap, error) {
	hr := r.At(int64(addr))
	head, err := hr.ReadBytes(8)
	if err != nil {
		return nil, fmt.Errorf("reading local heap at %#x: %w", addr, err)
	}
	if string(head[:4]) != "HEAP" {
		return nil, fmt.Errorf("local heap at %#x: bad signature %q", addr, head[:4])
	}
	if head[4] != 0 {
		return nil, fmt.Errorf("local heap at %#x: version %d", addr, head[4])
	}
	size, err := hr.ReadLength()
	if err != nil {
		return nil, err
	}
	if _, err := hr.ReadLength(); err != nil { // free list head
		return nil, err
	}
	dataAddr, err := hr.ReadOffset()
	if err != nil {
		return nil, err
	}
	data, err := r.At(int64(dataAddr)).ReadBytes(int(size))
	if err != nil {
		return nil, fmt.Errorf("reading local heap data: %w", err)
	}
	return &LocalHeap{data: data}, nil
}

// GetString returns the NUL-terminated string at off, or "" when off lies
// outside the heap.
func (h *LocalHeap) GetString(off uint64) string {
	if off >= uint64(len(h.data)) {
		return ""
	}
	s := h.data[off:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s)
}

// ID addresses one object of a global heap collection.
type ID struct {
	Collection uint64
	Index      uint32
}

// IDSize is the stored size of an ID.
func IDSize(offsetSize int) int {
	return offsetSize + 4
}

// ParseID decodes a little-endian ID.
func ParseID(b []byte, offsetSize int) (ID, error) {
	if len(b) < IDSize(offsetSize) {
		return ID{}, fmt.Errorf("global heap ID needs %d bytes, have %d", IDSize(offsetSize), len(b))
	}
	return ID{
		Collection: getUint(b, offsetSize),
		Index:      binary.LittleEndian.Uint32(b[offsetSize:]),
	}, nil
}

// Put encodes id into b.
func (id ID) Put(b []byte, offsetSize int) {
	putUint(b, id.Collection, offsetSize)
	binary.LittleEndian.PutUint32(b[offsetSize:], id.Index)
}

// Collection is a global heap collection read into memory.
type Collection struct {
	objects map[uint16][]byte
}

// objectHeader is the size of an object's index, reference count, reserved
// bytes and length.
func objectHeader(lengthSize int) int {
	return 8 + lengthSize
}

func pad8(n int) int {
	return (8 - n%8) % 8
}

// ReadCollection reads the collection at addr.
func ReadCollection(r *binpkg.Reader, addr uint64) (*Collection, error) {
	if addr == 0 || r.IsUndefinedOffset(addr) {
		return nil, fmt.Errorf("invalid global heap address %#x", addr)
	}
	hr := r.At(int64(addr))
	head, err := hr.ReadBytes(8)
	if err != nil {
		return nil, fmt.Errorf("reading global heap at %#x: %w", addr, err)
	}
	if string(head[:4]) != "GCOL" {
		return nil, fmt.Errorf("global heap at %#x: bad signature %q", addr, head[:4])
	}
	if head[4] != 1 {
		return nil, fmt.Errorf("global heap at %#x: version %d", addr, head[4])
	}
	size, err := hr.ReadLength()
	if err != nil {
		return nil, err
	}

	ls := r.LengthSize()
	c := &Collection{objects: make(map[uint16][]byte)}
	left := int64(size) - int64(8+ls)
	for left >= int64(objectHeader(ls)) {
		index, err := hr.ReadUint16()
		if err != nil || index == 0 {
			break
		}
		hr.Skip(6) // reference count, reserved
		n, err := hr.ReadLength()
		if err != nil {
			break
		}
		data, err := hr.ReadBytes(int(n))
		if err != nil {
			return nil, fmt.Errorf("reading global heap object %d: %w", index, err)
		}
		c.objects[index] = data
		hr.Skip(int64(pad8(int(n))))
		left -= int64(objectHeader(ls) + int(n) + pad8(int(n)))
	}
	return c, nil
}

// String returns object index as a string, dropping any NUL terminator.
func (c *Collection) String(index uint32) (string, error) {
	data, ok := c.objects[uint16(index)]
	if !ok || index > 0xFFFF {
		return "", fmt.Errorf("global heap object %d not found", index)
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return string(data), nil
}

// MaxObjects is the number of objects one collection can index.
const MaxObjects = 0xFFFF

// WriteStrings stores strs, NUL-terminated, in one new collection placed by
// alloc and returns their IDs in order.
func WriteStrings(w *binpkg.Writer, alloc func(size int64) uint64, strs []string) ([]ID, error) {
	if len(strs) == 0 {
		return nil, nil
	}
	if len(strs) > MaxObjects {
		return nil, fmt.Errorf("%d strings exceed a global heap collection", len(strs))
	}

	ls := w.LengthSize()
	size := 8 + ls
	for _, s := range strs {
		size += objectHeader(ls) + len(s) + 1 + pad8(len(s)+1)
	}
	size += 2 // index 0 ends the objects
	size += pad8(size)

	buf := make([]byte, size)
	copy(buf, "GCOL")
	buf[4] = 1
	putUint(buf[8:], uint64(size), ls)
	off := 8 + ls
	for i, s := range strs {
		binary.LittleEndian.PutUint16(buf[off:], uint16(i+1))
		binary.LittleEndian.PutUint16(buf[off+2:], 1)
		putUint(buf[off+8:], uint64(len(s)+1), ls)
		off += objectHeader(ls)
		off += copy(buf[off:], s) + 1
		off += pad8(len(s) + 1)
	}

	addr := alloc(int64(size))
	if err := w.At(int64(addr)).WriteBytes(buf); err != nil {
		return nil, fmt.Errorf("writing global heap: %w", err)
	}
	ids := make([]ID, len(strs))
	for i := range ids {
		ids[i] = ID{Collection: addr, Index: uint32(i + 1)}
	}
	return ids, nil
}

func getUint(b []byte, size int) uint64 {
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putUint(b []byte, v uint64, size int) {
	for i := 0; i < size; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
