// Package codec maps PSARC compression tags to block decompressors.
package codec

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz/lzma"

	"github.com/meigma/psarc/internal/lzo"
	"github.com/meigma/psarc/internal/psarctype"
)

// Codec decompresses a single block.
//
// sizeHint is the expected decoded size of the block. Codecs use it to
// preallocate output; lz4 requires it because its block format carries no
// length.
type Codec interface {
	Name() string
	Decompress(src []byte, sizeHint int) ([]byte, error)
}

// Tags understood by Lookup.
const (
	TagZlib = "zlib"
	TagLZMA = "lzma"
	TagLZO  = "lzo"
	TagZstd = "zstd"
	TagLZ4  = "lz4"
)

var (
	registryOnce sync.Once
	registry     map[string]Codec
)

func codecs() map[string]Codec {
	registryOnce.Do(func() {
		registry = map[string]Codec{
			TagZlib: &zlibCodec{},
			TagLZMA: lzmaCodec{},
			TagLZO:  lzoCodec{},
			TagZstd: &zstdCodec{},
			TagLZ4:  lz4Codec{},
		}
	})
	return registry
}

// Lookup returns the codec for a compression tag. Tags are matched after
// trimming NUL and space padding, ignoring case; "lzo1x" is an alias of
// "lzo".
func Lookup(tag string) (Codec, error) {
	name := strings.ToLower(strings.TrimRight(tag, "\x00 "))
	if name == "lzo1x" {
		name = TagLZO
	}
	c, ok := codecs()[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", psarctype.ErrUnsupportedCompression, tag)
	}
	return c, nil
}

// Tags returns the registered tag names.
func Tags() []string {
	return []string{TagZlib, TagLZMA, TagLZO, TagZstd, TagLZ4}
}

// readAll drains r into a buffer preallocated to sizeHint.
func readAll(r io.Reader, sizeHint int) ([]byte, error) {
	if sizeHint < 0 {
		sizeHint = 0
	}
	buf := bytes.NewBuffer(make([]byte, 0, sizeHint))
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// zlibCodec reuses readers through zlib.Resetter.
type zlibCodec struct {
	pool sync.Pool
}

func (*zlibCodec) Name() string { return TagZlib }

func (c *zlibCodec) Decompress(src []byte, sizeHint int) ([]byte, error) {
	br := bytes.NewReader(src)
	var zr io.ReadCloser
	if v, ok := c.pool.Get().(io.ReadCloser); ok {
		if err := v.(zlib.Resetter).Reset(br, nil); err != nil {
			return nil, err
		}
		zr = v
	} else {
		r, err := zlib.NewReader(br)
		if err != nil {
			return nil, err
		}
		zr = r
	}
	out, err := readAll(zr, sizeHint)
	if cerr := zr.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	c.pool.Put(zr)
	return out, nil
}

type lzmaCodec struct{}

func (lzmaCodec) Name() string { return TagLZMA }

func (lzmaCodec) Decompress(src []byte, sizeHint int) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	return readAll(r, sizeHint)
}

type lzoCodec struct{}

func (lzoCodec) Name() string { return TagLZO }

func (lzoCodec) Decompress(src []byte, sizeHint int) ([]byte, error) {
	return lzo.Decompress(src, sizeHint)
}

// zstdCodec shares one decoder; DecodeAll is safe for concurrent use.
type zstdCodec struct {
	once sync.Once
	dec  *zstd.Decoder
	err  error
}

func (*zstdCodec) Name() string { return TagZstd }

func (c *zstdCodec) Decompress(src []byte, sizeHint int) ([]byte, error) {
	c.once.Do(func() {
		c.dec, c.err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	if c.err != nil {
		return nil, c.err
	}
	if sizeHint < 0 {
		sizeHint = 0
	}
	return c.dec.DecodeAll(src, make([]byte, 0, sizeHint))
}

type lz4Codec struct{}

func (lz4Codec) Name() string { return TagLZ4 }

func (lz4Codec) Decompress(src []byte, sizeHint int) ([]byte, error) {
	if sizeHint <= 0 {
		return nil, fmt.Errorf("lz4: block size unknown")
	}
	dst := make([]byte, sizeHint)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}
