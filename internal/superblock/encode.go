package superblock

import (
	"go.uber.org/multierr"

	binpkg "github.com/robert-malhotra/go-nexus/internal/binary"
)

// Write encodes a version 2 or 3 superblock at w's position. Earlier
// versions are written as version 2. An unset extension address is written
// as undefined.
func (sb *Superblock) Write(w *binpkg.Writer) error {
	version := max(sb.Version, 2)
	ext := sb.ExtensionAddress
	if ext == 0 {
		ext = w.UndefinedOffset()
	}

	bw, buf := w.Buffer()
	err := multierr.Combine(
		bw.WriteBytes(Signature),
		bw.WriteUint8(version),
		bw.WriteUint8(sb.OffsetSize),
		bw.WriteUint8(sb.LengthSize),
		bw.WriteUint8(sb.FileConsistencyFlags),
		bw.WriteOffset(sb.BaseAddress),
		bw.WriteOffset(ext),
		bw.WriteOffset(sb.EOFAddress),
		bw.WriteOffset(sb.RootGroupAddress),
	)
	if err != nil {
		return err
	}
	if err := bw.WriteUint32(binpkg.Lookup3Checksum(buf.Bytes())); err != nil {
		return err
	}
	return w.WriteBytes(buf.Bytes())
}
