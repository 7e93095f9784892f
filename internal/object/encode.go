package object

import (
	"errors"
	"fmt"
	"math/bits"

	"go.uber.org/multierr"

	binpkg "github.com/robert-malhotra/go-nexus/internal/binary"
	"github.com/robert-malhotra/go-nexus/internal/message"
)

// MinGroupChunkSize is the smallest first chunk written for a group header.
// HDF5 library readers expect room for link messages in a new group.
const MinGroupChunkSize = 120

// ErrMessageTooLarge is returned for a message that does not fit the
// two-byte size field of a version 2 header.
var ErrMessageTooLarge = errors.New("header message too large")

// Encode lays out msgs as a version 2 object header with a single chunk of
// at least minChunk bytes and returns its bytes, checksum included. Messages
// that cannot be encoded are left out. Unused space becomes a NIL message,
// or a gap when it is shorter than a message prefix.
func Encode(w *binpkg.Writer, msgs []message.Message, minChunk int) ([]byte, error) {
	var body []message.Encoder
	var sizes []int
	total := 0
	for _, m := range msgs {
		enc, ok := m.(message.Encoder)
		if !ok {
			continue
		}
		n, err := message.Size(enc, w)
		if err != nil {
			return nil, fmt.Errorf("message type %#x: %w", uint16(m.Type()), err)
		}
		if n > 0xFFFF {
			return nil, fmt.Errorf("%w: type %#x needs %d bytes", ErrMessageTooLarge, uint16(m.Type()), n)
		}
		body = append(body, enc)
		sizes = append(sizes, n)
		total += 4 + n
	}
	chunk := max(total, minChunk)
	width := binpkg.Width(uint64(chunk))

	hw, buf := w.Buffer()
	err := multierr.Combine(
		hw.WriteBytes([]byte("OHDR")),
		hw.WriteUint8(2),
		hw.WriteUint8(uint8(bits.TrailingZeros(uint(width)))),
		hw.WriteUintN(uint64(chunk), width),
	)
	for i, m := range body {
		err = multierr.Append(err, multierr.Combine(
			hw.WriteUint8(uint8(m.Type())),
			hw.WriteUint16(uint16(sizes[i])),
			hw.WriteUint8(0),
			m.Encode(hw),
		))
	}
	if gap := chunk - total; gap >= 4 {
		err = multierr.Append(err, multierr.Combine(
			hw.WriteUint8(uint8(message.TypeNIL)),
			hw.WriteUint16(uint16(gap-4)),
			hw.WriteUint8(0),
			hw.WriteZeros(gap-4),
		))
	} else {
		err = multierr.Append(err, hw.WriteZeros(gap))
	}
	if err != nil {
		return nil, err
	}
	if err := hw.WriteUint32(binpkg.Lookup3Checksum(buf.Bytes())); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
