package filter

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	binpkg "github.com/robert-malhotra/go-nexus/internal/binary"
)

// deflate stores chunks as zlib streams. Client data holds the level.
type deflate struct {
	level int
}

func newDeflate(cd []uint32) deflate {
	level := 6
	if len(cd) > 0 {
		level = int(min(cd[0], 9))
	}
	return deflate{level: level}
}

func (f deflate) Encode(chunk []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, f.level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(chunk); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (deflate) Decode(chunk []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(chunk))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// zstdDecoder is shared. DecodeAll is safe for concurrent use.
var zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))

// zstdFilter is the registered Zstandard filter. Client data holds the
// level; 0 or absent selects 3.
type zstdFilter struct {
	level zstd.EncoderLevel
}

func newZstd(cd []uint32) zstdFilter {
	level := 3
	if len(cd) > 0 && cd[0] > 0 {
		level = int(cd[0])
	}
	return zstdFilter{level: zstd.EncoderLevelFromZstd(level)}
}

func (f zstdFilter) Encode(chunk []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(f.level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(chunk, make([]byte, 0, len(chunk)/2)), nil
}

func (zstdFilter) Decode(chunk []byte) ([]byte, error) {
	return zstdDecoder.DecodeAll(chunk, nil)
}

// shuffle transposes the bytes of fixed-size elements so that byte j of
// every element is stored together. A tail shorter than one element is
// kept in place.
type shuffle struct {
	size int
}

func newShuffle(cd []uint32) shuffle {
	if len(cd) > 0 && cd[0] > 1 {
		return shuffle{size: int(cd[0])}
	}
	return shuffle{size: 1}
}

func (f shuffle) Encode(chunk []byte) ([]byte, error) { return f.transpose(chunk, true), nil }
func (f shuffle) Decode(chunk []byte) ([]byte, error) { return f.transpose(chunk, false), nil }

func (f shuffle) transpose(in []byte, forward bool) []byte {
	n := len(in) / f.size
	if f.size == 1 || n < 2 {
		return in
	}
	out := make([]byte, len(in))
	for i := 0; i < n; i++ {
		for j := 0; j < f.size; j++ {
			if forward {
				out[j*n+i] = in[i*f.size+j]
			} else {
				out[i*f.size+j] = in[j*n+i]
			}
		}
	}
	copy(out[n*f.size:], in[n*f.size:])
	return out
}

var errChecksum = errors.New("fletcher32 checksum mismatch")

// fletcher32 appends a little-endian Fletcher-32 checksum to each chunk.
type fletcher32 struct{}

func (fletcher32) Encode(chunk []byte) ([]byte, error) {
	sum := binpkg.Fletcher32(chunk)
	return append(chunk[:len(chunk):len(chunk)], byte(sum), byte(sum>>8), byte(sum>>16), byte(sum>>24)), nil
}

func (fletcher32) Decode(chunk []byte) ([]byte, error) {
	n := len(chunk) - 4
	if n < 0 {
		return nil, fmt.Errorf("%w: chunk of %d bytes", errChecksum, len(chunk))
	}
	t := chunk[n:]
	stored := uint32(t[0]) | uint32(t[1])<<8 | uint32(t[2])<<16 | uint32(t[3])<<24
	if got := binpkg.Fletcher32(chunk[:n]); got != stored {
		return nil, fmt.Errorf("%w: stored %#08x, computed %#08x", errChecksum, stored, got)
	}
	return chunk[:n], nil
}
