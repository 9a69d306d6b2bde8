// Package block decodes an entry's sequence of physical blocks into its
// uncompressed content.
package block

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"

	"github.com/meigma/psarc/internal/codec"
	"github.com/meigma/psarc/internal/psarctype"
	"github.com/meigma/psarc/internal/sizing"
	"github.com/meigma/psarc/internal/toc"
)

// Stream is the per-entry block decoder.
//
// A Stream holds explicit state: the block-size table cursor, the count of
// decoded bytes and the declared total. Each call to Next consumes exactly
// one physical block from r. Streams are single-pass and must not be shared
// between goroutines.
type Stream struct {
	r          io.Reader
	table      Table
	codec      codec.Codec
	compressed bool

	cursor  uint32
	decoded uint64
	total   uint64
	blocks  int
	err     error
}

// NewStream returns a decoder for entry. r must be positioned at
// entry.DataOffset.
//
// When compressed is false every block is copied verbatim. Otherwise a
// block is decompressed with c unless it is the final block and its
// physical size equals the remaining decoded size, in which case it was
// stored raw.
func NewStream(r io.Reader, table Table, entry toc.Entry, c codec.Codec, compressed bool) *Stream {
	return &Stream{
		r:          r,
		table:      table,
		codec:      c,
		compressed: compressed,
		cursor:     entry.BlockOffset,
		total:      entry.UncompressedSize,
	}
}

// Next decodes and returns the next block. It returns io.EOF once the
// decoded count reaches the declared total. Errors are sticky.
//
// A block that carries the decoded count past the total is returned as-is
// and ends the stream.
func (s *Stream) Next() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.decoded >= s.total {
		s.err = io.EOF
		return nil, io.EOF
	}

	slot := s.cursor
	physical, err := s.table.PhysicalSize(slot)
	if err != nil {
		return nil, s.fail(err)
	}
	s.cursor++

	raw := make([]byte, physical)
	if _, err := io.ReadFull(s.r, raw); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, s.fail(fmt.Errorf("read block %d: %w", slot, err))
	}

	out := raw
	if s.compressed && s.decoded+uint64(physical) != s.total {
		out, err = s.decompress(slot, raw)
		if err != nil {
			return nil, s.fail(err)
		}
	}

	s.decoded += uint64(len(out))
	s.blocks++
	return out, nil
}

func (s *Stream) decompress(slot uint32, raw []byte) ([]byte, error) {
	if s.codec == nil {
		return nil, fmt.Errorf("%w: block %d has no codec", psarctype.ErrUnsupportedCompression, slot)
	}
	remaining := s.total - s.decoded
	hint, err := sizing.ToInt(min(remaining, uint64(s.table.DefaultBlockSize)), psarctype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	out, err := s.codec.Decompress(raw, hint)
	if err != nil {
		return nil, fmt.Errorf("%w: block %d (%s): %v", psarctype.ErrDecompression, slot, s.codec.Name(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: block %d decoded to zero bytes", psarctype.ErrDecompression, slot)
	}
	return out, nil
}

func (s *Stream) fail(err error) error {
	s.err = err
	return err
}

// All returns an iterator over the remaining blocks. Iteration stops after
// the first error, which is yielded with a nil block.
func (s *Stream) All() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			b, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

// Blocks returns the number of blocks consumed so far.
func (s *Stream) Blocks() int { return s.blocks }

// Decoded returns the number of decoded bytes produced so far.
func (s *Stream) Decoded() uint64 { return s.decoded }

// Total returns the entry's declared uncompressed size.
func (s *Stream) Total() uint64 { return s.total }

// Cursor returns the next block-size table slot to be read.
func (s *Stream) Cursor() uint32 { return s.cursor }

// Close releases the underlying reader if it is an io.Closer. Further
// calls to Next fail with fs.ErrClosed.
func (s *Stream) Close() error {
	if s.err == nil || errors.Is(s.err, io.EOF) {
		s.err = fs.ErrClosed
	}
	if c, ok := s.r.(io.Closer); ok {
		s.r = nil
		return c.Close()
	}
	return nil
}

// Reader adapts a Stream to io.Reader.
type Reader struct {
	s   *Stream
	buf []byte
}

// NewReader returns a reader over the decoded content of s.
func NewReader(s *Stream) *Reader {
	return &Reader{s: s}
}

// Close closes the underlying stream.
func (r *Reader) Close() error {
	r.buf = nil
	return r.s.Close()
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.buf) == 0 {
		b, err := r.s.Next()
		if err != nil {
			return 0, err
		}
		r.buf = b
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// WriteTo implements io.WriterTo so io.Copy writes whole blocks.
func (r *Reader) WriteTo(w io.Writer) (int64, error) {
	var written int64
	if len(r.buf) > 0 {
		n, err := w.Write(r.buf)
		written += int64(n)
		r.buf = nil
		if err != nil {
			return written, err
		}
	}
	for {
		b, err := r.s.Next()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}
		n, err := w.Write(b)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
}
