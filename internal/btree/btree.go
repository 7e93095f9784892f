// Package btree reads version 1 B-trees, the symbol table index of groups
// in earliest-format files and the chunk index of version 1-3 layouts. It
// also reads and writes the version 2 B-trees that index chunked datasets
// with more than one unlimited dimension.
package btree

import (
	"fmt"

	"github.com/robert-malhotra/go-nexus/internal/binary"
	"github.com/robert-malhotra/go-nexus/internal/heap"
)

const (
	groupNode uint8 = 0
	chunkNode uint8 = 1
)

// node is a B-tree node positioned at its first key.
type node struct {
	level   uint8
	entries int
	r       *binary.Reader
}

func readNode(r *binary.Reader, addr uint64, kind uint8) (*node, error) {
	nr := r.At(int64(addr))
	head, err := nr.ReadBytes(8)
	if err != nil {
		return nil, fmt.Errorf("reading B-tree node at %#x: %w", addr, err)
	}
	if string(head[:4]) != "TREE" {
		return nil, fmt.Errorf("B-tree node at %#x: bad signature %q", addr, head[:4])
	}
	if head[4] != kind {
		return nil, fmt.Errorf("B-tree node at %#x: type %d, want %d", addr, head[4], kind)
	}
	nr.Skip(2 * int64(r.OffsetSize())) // sibling addresses
	return &node{
		level:   head[5],
		entries: int(r.ByteOrder().Uint16(head[6:])),
		r:       nr,
	}, nil
}

// ChunkEntry locates one stored chunk.
type ChunkEntry struct {
	// Offset is the chunk's first element in dataset coordinates.
	Offset []uint64
	// FilterMask has bit i set when filter i was skipped for this chunk.
	FilterMask uint32
	// Size is the stored (possibly filtered) size in bytes.
	Size    uint32
	Address uint64
}

// ReadChunkIndex returns the allocated chunks of a rank ndims dataset.
func ReadChunkIndex(r *binary.Reader, addr uint64, ndims int) ([]ChunkEntry, error) {
	return readChunkNode(r, addr, ndims, nil)
}

func readChunkNode(r *binary.Reader, addr uint64, ndims int, out []ChunkEntry) ([]ChunkEntry, error) {
	n, err := readNode(r, addr, chunkNode)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n.entries; i++ {
		key, err := readChunkKey(n.r, ndims)
		if err != nil {
			return nil, fmt.Errorf("reading chunk key %d at %#x: %w", i, addr, err)
		}
		child, err := n.r.ReadOffset()
		if err != nil {
			return nil, err
		}
		if n.level > 0 {
			if out, err = readChunkNode(r, child, ndims, out); err != nil {
				return nil, err
			}
			continue
		}
		if key.Size == 0 || r.IsUndefinedOffset(child) {
			continue
		}
		key.Address = child
		out = append(out, key)
	}
	return out, nil
}

// readChunkKey reads the size, filter mask and ndims+1 offsets of a key.
// The last offset indexes the element bytes and is dropped.
func readChunkKey(r *binary.Reader, ndims int) (ChunkEntry, error) {
	var key ChunkEntry
	size, err := r.ReadUint32()
	if err != nil {
		return key, err
	}
	mask, err := r.ReadUint32()
	if err != nil {
		return key, err
	}
	key.Size, key.FilterMask = size, mask
	key.Offset = make([]uint64, ndims)
	for d := 0; d <= ndims; d++ {
		v, err := r.ReadUint64()
		if err != nil {
			return key, err
		}
		if d < ndims {
			key.Offset[d] = v
		}
	}
	return key, nil
}

// GroupEntry is one member of a symbol table group.
type GroupEntry struct {
	Name          string
	ObjectAddress uint64
	// Soft marks a soft link; Target is then its path.
	Soft   bool
	Target string
}

// ReadGroupEntries lists the members of a symbol table group whose names
// live in localHeap.
func ReadGroupEntries(r *binary.Reader, addr uint64, localHeap *heap.LocalHeap) ([]GroupEntry, error) {
	return readGroupNode(r, addr, localHeap, nil)
}

func readGroupNode(r *binary.Reader, addr uint64, localHeap *heap.LocalHeap, out []GroupEntry) ([]GroupEntry, error) {
	n, err := readNode(r, addr, groupNode)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n.entries; i++ {
		if _, err := n.r.ReadLength(); err != nil {
			return nil, err
		}
		child, err := n.r.ReadOffset()
		if err != nil {
			return nil, err
		}
		if n.level > 0 {
			out, err = readGroupNode(r, child, localHeap, out)
		} else {
			out, err = readSymbolNode(r, child, localHeap, out)
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Symbol table entry cache types.
const (
	cacheNone     = 0
	cacheHeader   = 1
	cacheSoftLink = 2
)

func readSymbolNode(r *binary.Reader, addr uint64, localHeap *heap.LocalHeap, out []GroupEntry) ([]GroupEntry, error) {
	nr := r.At(int64(addr))
	head, err := nr.ReadBytes(8)
	if err != nil {
		return nil, fmt.Errorf("reading symbol table node at %#x: %w", addr, err)
	}
	if string(head[:4]) != "SNOD" {
		return nil, fmt.Errorf("symbol table node at %#x: bad signature %q", addr, head[:4])
	}
	if head[4] != 1 {
		return nil, fmt.Errorf("symbol table node at %#x: version %d", addr, head[4])
	}
	count := int(r.ByteOrder().Uint16(head[6:]))

	for i := 0; i < count; i++ {
		nameOff, err := nr.ReadOffset()
		if err != nil {
			return nil, err
		}
		objAddr, err := nr.ReadOffset()
		if err != nil {
			return nil, err
		}
		cache, err := nr.ReadUint32()
		if err != nil {
			return nil, err
		}
		nr.Skip(4)
		scratch, err := nr.ReadBytes(16)
		if err != nil {
			return nil, err
		}

		e := GroupEntry{Name: localHeap.GetString(nameOff), ObjectAddress: objAddr}
		if e.Name == "" {
			continue
		}
		if cache == cacheSoftLink {
			e.Soft = true
			e.Target = localHeap.GetString(uint64(r.ByteOrder().Uint32(scratch)))
			e.ObjectAddress = 0
		}
		out = append(out, e)
	}
	return out, nil
}
