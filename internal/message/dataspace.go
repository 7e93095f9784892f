package message

import (
	"fmt"

	"github.com/robert-malhotra/go-nexus/internal/binary"
)

// SpaceKind distinguishes scalar, simple and null dataspaces.
type SpaceKind uint8

const (
	SpaceScalar SpaceKind = 0
	SpaceSimple SpaceKind = 1
	SpaceNull   SpaceKind = 2
)

// Dataspace is the shape of a dataset or attribute. MaxDims is nil when the
// maximum extent equals the current one.
type Dataspace struct {
	Kind       SpaceKind
	Rank       int
	Dimensions []uint64
	MaxDims    []uint64
}

func (m *Dataspace) Type() Type { return TypeDataspace }

func (m *Dataspace) NumElements() uint64 {
	switch m.Kind {
	case SpaceScalar:
		return 1
	case SpaceSimple:
		if len(m.Dimensions) == 0 {
			return 0
		}
		n := uint64(1)
		for _, d := range m.Dimensions {
			n *= d
		}
		return n
	}
	return 0
}

func (m *Dataspace) IsScalar() bool {
	return m.Kind == SpaceScalar
}

func decodeDataspace(r *binary.Reader) (*Dataspace, error) {
	f := &fields{r: r}
	version, rank, flags := f.u8(), int(f.u8()), f.u8()
	ds := &Dataspace{Kind: SpaceSimple, Rank: rank}
	switch version {
	case 1:
		f.skip(5)
		if rank == 0 {
			ds.Kind = SpaceScalar
		}
	case 2:
		ds.Kind = SpaceKind(f.u8())
	default:
		if f.err == nil {
			return nil, fmt.Errorf("dataspace version %d is not supported", version)
		}
	}
	if ds.Kind == SpaceSimple {
		ds.Dimensions = f.lengths(rank)
		if flags&0x01 != 0 {
			ds.MaxDims = f.lengths(rank)
		}
	} else {
		ds.Rank = 0
	}
	if f.err != nil {
		return nil, fmt.Errorf("dataspace: %w", f.err)
	}
	return ds, nil
}

// Encode writes a version 2 dataspace.
func (m *Dataspace) Encode(w *binary.Writer) error {
	e := &emit{w: w}
	var flags uint8
	if len(m.MaxDims) > 0 {
		flags = 0x01
	}
	e.u8(2)
	e.u8(uint8(m.Rank))
	e.u8(flags)
	e.u8(uint8(m.Kind))
	for _, d := range m.Dimensions {
		e.length(d)
	}
	if flags != 0 {
		for _, d := range m.MaxDims {
			e.length(d)
		}
	}
	return e.err
}

// NewDataspace returns a simple dataspace. maxDims may be nil.
func NewDataspace(dims, maxDims []uint64) *Dataspace {
	return &Dataspace{Kind: SpaceSimple, Rank: len(dims), Dimensions: dims, MaxDims: maxDims}
}

func NewScalarDataspace() *Dataspace {
	return &Dataspace{Kind: SpaceScalar}
}
