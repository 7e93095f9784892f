package hdf5

import (
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/robert-malhotra/go-nexus/internal/dtype"
	"github.com/robert-malhotra/go-nexus/internal/heap"
	"github.com/robert-malhotra/go-nexus/internal/message"
)

// vlenRefSize is the stored size of a variable-length reference:
// sequence length, collection address and object index.
func (f *File) vlenRefSize() int {
	return 4 + heap.IDSize(int(f.superblock.OffsetSize))
}

// writeStrings stores strs in new global heap collections and returns the
// encoded references. Existing collections are never modified.
func (f *File) writeStrings(strs []string) ([]byte, error) {
	refSize := f.vlenRefSize()
	offsetSize := int(f.superblock.OffsetSize)
	raw := make([]byte, len(strs)*refSize)

	for start := 0; start < len(strs); start += heap.MaxObjects {
		end := min(start+heap.MaxObjects, len(strs))
		ids, err := heap.WriteStrings(f.writer, f.allocate, strs[start:end])
		if err != nil {
			return nil, err
		}
		for i, id := range ids {
			ref := raw[(start+i)*refSize:]
			binary.LittleEndian.PutUint32(ref, uint32(len(strs[start+i])))
			id.Put(ref[4:], offsetSize)
		}
	}
	return raw, nil
}

// encodeValue converts a Go value into n stored elements of dt.
func (f *File) encodeValue(dt *message.Datatype, n uint64, value interface{}) ([]byte, error) {
	if dt.Class == message.ClassVarLen {
		if !dt.IsVarLenString {
			return nil, fmt.Errorf("%w: writing variable-length sequences", ErrUnsupported)
		}
		strs, err := stringsOf(value)
		if err != nil {
			return nil, err
		}
		if uint64(len(strs)) != n {
			return nil, fmt.Errorf("value has %d strings, want %d", len(strs), n)
		}
		return f.writeStrings(strs)
	}

	raw, err := dtype.Encode(dt, value)
	if err != nil {
		return nil, err
	}
	if want := n * uint64(dt.Size); uint64(len(raw)) != want {
		return nil, fmt.Errorf("value has %d elements, want %d", uint64(len(raw))/uint64(dt.Size), n)
	}
	return raw, nil
}

func stringsOf(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.String {
		strs := make([]string, rv.Len())
		for i := range strs {
			strs[i] = rv.Index(i).String()
		}
		return strs, nil
	}
	return nil, fmt.Errorf("cannot store %T as strings", value)
}
