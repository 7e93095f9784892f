package message

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/robert-malhotra/go-nexus/internal/binary"
)

// Attribute is a named value stored in an object header.
type Attribute struct {
	Name      string
	Datatype  *Datatype
	Dataspace *Dataspace
	Data      []byte
}

func (m *Attribute) Type() Type { return TypeAttribute }

func NewAttribute(name string, datatype *Datatype, dataspace *Dataspace, data []byte) *Attribute {
	return &Attribute{Name: name, Datatype: datatype, Dataspace: dataspace, Data: data}
}

// decodeAttribute reads versions 1 to 3. Version 1 pads the name, datatype
// and dataspace to eight bytes each; version 3 adds a name encoding byte.
func decodeAttribute(data []byte, r *binary.Reader) (*Attribute, error) {
	f := &fields{r: r.Over(data)}
	version, flags := f.u8(), f.u8()
	nameLen, typeLen, spaceLen := int(f.u16()), int(f.u16()), int(f.u16())
	switch version {
	case 1, 2:
	case 3:
		f.skip(1)
	default:
		if f.err == nil {
			return nil, fmt.Errorf("attribute version %d is not supported", version)
		}
	}
	if flags&0x03 != 0 {
		return nil, errors.New("attribute with a shared datatype or dataspace is not supported")
	}
	pad := func(n int) int {
		if version == 1 {
			return pad8(n)
		}
		return n
	}
	name, typeBytes, spaceBytes := f.bytes(pad(nameLen)), f.bytes(pad(typeLen)), f.bytes(pad(spaceLen))
	if f.err != nil {
		return nil, fmt.Errorf("attribute: %w", f.err)
	}

	a := &Attribute{Name: cstring(name)}
	dt, _, err := decodeDatatype(typeBytes[:typeLen], r)
	if err != nil {
		return nil, fmt.Errorf("attribute %q: %w", a.Name, err)
	}
	ds, err := decodeDataspace(r.Over(spaceBytes[:spaceLen]))
	if err != nil {
		return nil, fmt.Errorf("attribute %q: %w", a.Name, err)
	}
	a.Datatype, a.Dataspace = dt, ds

	n := int(ds.NumElements() * uint64(dt.Size))
	if a.Data = f.bytes(n); f.err != nil {
		return nil, fmt.Errorf("attribute %q value: %w", a.Name, f.err)
	}
	return a, nil
}

// cstring returns b up to its first NUL.
func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Encode writes a version 3 attribute.
func (m *Attribute) Encode(w *binary.Writer) error {
	typeLen, err := Size(m.Datatype, w)
	if err != nil {
		return err
	}
	spaceLen, err := Size(m.Dataspace, w)
	if err != nil {
		return err
	}
	charset := CharsetASCII
	for i := 0; i < len(m.Name); i++ {
		if m.Name[i] >= utf8.RuneSelf {
			charset = CharsetUTF8
			break
		}
	}

	e := &emit{w: w}
	e.u8(3)
	e.u8(0)
	e.u16(uint16(len(m.Name) + 1))
	e.u16(uint16(typeLen))
	e.u16(uint16(spaceLen))
	e.u8(uint8(charset))
	e.cstring(m.Name)
	e.message(m.Datatype)
	e.message(m.Dataspace)
	e.bytes(m.Data)
	return e.err
}
