package message

import (
	"fmt"

	"github.com/robert-malhotra/go-nexus/internal/binary"
)

// Registered filter identifiers. Identifiers from 256 up belong to third
// party filters and are stored with a name.
const (
	FilterDeflate     uint16 = 1
	FilterShuffle     uint16 = 2
	FilterFletcher32  uint16 = 3
	FilterSZIP        uint16 = 4
	FilterNBit        uint16 = 5
	FilterScaleOffset uint16 = 6
)

type FilterInfo struct {
	ID         uint16
	Flags      uint16
	Name       string
	ClientData []uint32
}

// IsOptional reports whether a chunk may skip the filter when it fails.
func (f *FilterInfo) IsOptional() bool {
	return f.Flags&0x01 != 0
}

// FilterPipeline lists the filters applied to each chunk, in write order.
type FilterPipeline struct {
	Filters []FilterInfo
}

func (m *FilterPipeline) Type() Type { return TypeFilterPipeline }

func NewFilterPipeline(filters ...FilterInfo) *FilterPipeline {
	return &FilterPipeline{Filters: filters}
}

// decodeFilterPipeline reads versions 1 and 2. Version 1 always stores a
// name, padded to eight bytes, and pads odd client data counts.
func decodeFilterPipeline(r *binary.Reader) (*FilterPipeline, error) {
	f := &fields{r: r}
	version, n := f.u8(), int(f.u8())
	switch version {
	case 1:
		f.skip(6)
	case 2:
	default:
		if f.err == nil {
			return nil, fmt.Errorf("filter pipeline version %d is not supported", version)
		}
	}

	fp := &FilterPipeline{Filters: make([]FilterInfo, n)}
	for i := range fp.Filters {
		fi := &fp.Filters[i]
		fi.ID = f.u16()
		nameLen := 0
		if version == 1 || fi.ID >= 256 {
			nameLen = int(f.u16())
		}
		fi.Flags = f.u16()
		values := int(f.u16())
		if version == 1 {
			nameLen = pad8(nameLen)
		}
		fi.Name = cstring(f.bytes(nameLen))
		fi.ClientData = make([]uint32, values)
		for j := range fi.ClientData {
			fi.ClientData[j] = f.u32()
		}
		if version == 1 && values%2 == 1 {
			f.skip(4)
		}
	}
	if f.err != nil {
		return nil, fmt.Errorf("filter pipeline: %w", f.err)
	}
	return fp, nil
}

// Encode writes version 2.
func (m *FilterPipeline) Encode(w *binary.Writer) error {
	e := &emit{w: w}
	e.u8(2)
	e.u8(uint8(len(m.Filters)))
	for _, fi := range m.Filters {
		e.u16(fi.ID)
		named := fi.ID >= 256
		if named {
			e.u16(uint16(len(fi.Name) + 1))
		}
		e.u16(fi.Flags)
		e.u16(uint16(len(fi.ClientData)))
		if named {
			e.cstring(fi.Name)
		}
		for _, v := range fi.ClientData {
			e.u32(v)
		}
	}
	return e.err
}
