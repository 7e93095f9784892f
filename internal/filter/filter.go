// Package filter implements the chunk filters of a dataset's filter
// pipeline. Writers apply the filters in pipeline order and readers undo
// them in reverse. Bit i of a chunk's filter mask marks filter i as skipped
// for that chunk.
package filter

import (
	"fmt"

	"github.com/robert-malhotra/go-nexus/internal/message"
)

// FilterZstd is the registered identifier of the Zstandard filter.
const FilterZstd uint16 = 32015

// Filter transforms one chunk. Client data is bound when it is built.
type Filter interface {
	Encode(chunk []byte) ([]byte, error)
	Decode(chunk []byte) ([]byte, error)
}

type codec struct {
	name string
	new  func(clientData []uint32) Filter
}

// Filters with a nil constructor are known by name but cannot be applied.
var codecs = map[uint16]codec{
	message.FilterDeflate:     {"deflate", func(cd []uint32) Filter { return newDeflate(cd) }},
	message.FilterShuffle:     {"shuffle", func(cd []uint32) Filter { return newShuffle(cd) }},
	message.FilterFletcher32:  {"fletcher32", func([]uint32) Filter { return fletcher32{} }},
	message.FilterSZIP:        {"szip", nil},
	message.FilterNBit:        {"nbit", nil},
	message.FilterScaleOffset: {"scaleoffset", nil},
	FilterZstd:                {"zstd", func(cd []uint32) Filter { return newZstd(cd) }},
}

// Name returns the short name of a filter identifier.
func Name(id uint16) string {
	if c, ok := codecs[id]; ok {
		return c.name
	}
	return fmt.Sprintf("filter-%d", id)
}

// New builds the filter described by info. It returns a nil Filter and no
// error for an optional filter that is not available.
func New(info message.FilterInfo) (Filter, error) {
	c := codecs[info.ID]
	if c.new != nil {
		return c.new(info.ClientData), nil
	}
	if info.IsOptional() {
		return nil, nil
	}
	return nil, fmt.Errorf("%s filter (ID %d) is not supported", Name(info.ID), info.ID)
}

// Pipeline is the filter chain of one dataset.
type Pipeline struct {
	stages []stage
}

type stage struct {
	id       uint16
	optional bool
	f        Filter // nil for an unavailable optional filter
}

// NewPipeline builds the filters of fp. A nil fp gives an empty pipeline.
func NewPipeline(fp *message.FilterPipeline) (*Pipeline, error) {
	p := &Pipeline{}
	if fp == nil {
		return p, nil
	}
	for _, info := range fp.Filters {
		f, err := New(info)
		if err != nil {
			return nil, err
		}
		p.stages = append(p.stages, stage{id: info.ID, optional: info.IsOptional(), f: f})
	}
	return p, nil
}

func (p *Pipeline) Len() int    { return len(p.stages) }
func (p *Pipeline) Empty() bool { return len(p.stages) == 0 }

// Encode runs chunk through every filter. An optional filter that is
// unavailable or fails is skipped and recorded in the returned mask.
func (p *Pipeline) Encode(chunk []byte) ([]byte, uint32, error) {
	var mask uint32
	for i, s := range p.stages {
		if s.f == nil {
			mask |= 1 << i
			continue
		}
		out, err := s.f.Encode(chunk)
		switch {
		case err == nil:
			chunk = out
		case s.optional:
			mask |= 1 << i
		default:
			return nil, 0, fmt.Errorf("%s filter: %w", Name(s.id), err)
		}
	}
	return chunk, mask, nil
}

// Decode undoes Encode for a chunk stored with the given mask.
func (p *Pipeline) Decode(chunk []byte, mask uint32) ([]byte, error) {
	for i := len(p.stages) - 1; i >= 0; i-- {
		s := p.stages[i]
		if mask&(1<<i) != 0 {
			continue
		}
		if s.f == nil {
			return nil, fmt.Errorf("%s filter (ID %d) is not available", Name(s.id), s.id)
		}
		var err error
		if chunk, err = s.f.Decode(chunk); err != nil {
			return nil, fmt.Errorf("%s filter: %w", Name(s.id), err)
		}
	}
	return chunk, nil
}
