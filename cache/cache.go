// Package cache wraps a ByteSource with an in-memory block cache.
//
// Opening a remote archive touches the header, table of contents and
// manifest several times in small reads. Caching fixed-size blocks turns
// those into a handful of range requests. Large sequential reads and
// ranged entry reads, as issued while unpacking, bypass the cache.
package cache

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// ByteSource provides random access to data for block caching.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// RangeReader provides range reads for sequential access that bypasses the cache.
type RangeReader interface {
	ReadRange(off, length int64) (io.ReadCloser, error)
}

// DefaultBlockSize is the default block size used by the cache.
const DefaultBlockSize int64 = 64 << 10

// DefaultMaxBlocks bounds the number of resident blocks.
const DefaultMaxBlocks = 256

// DefaultMaxBlocksPerRead caps cached blocks per ReadAt to avoid large sequential reads.
const DefaultMaxBlocksPerRead = 4

type config struct {
	blockSize        int64
	maxBlocks        int
	maxBlocksPerRead int
}

// Option configures a Source.
type Option func(*config)

// WithBlockSize sets the block size used for caching.
func WithBlockSize(n int64) Option {
	return func(c *config) {
		c.blockSize = n
	}
}

// WithMaxBlocks sets how many blocks stay resident before the least
// recently used one is evicted.
func WithMaxBlocks(n int) Option {
	return func(c *config) {
		c.maxBlocks = n
	}
}

// WithMaxBlocksPerRead bypasses caching when a ReadAt spans more than n blocks.
// Values <= 0 disable the limit.
func WithMaxBlocksPerRead(n int) Option {
	return func(c *config) {
		c.maxBlocksPerRead = n
	}
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// Source is a ByteSource that caches reads in fixed-size blocks.
// It is safe for concurrent use.
type Source struct {
	src              ByteSource
	blockSize        int64
	maxBlocksPerRead int
	blocks           *lru.Cache[int64, []byte]
	fetchGroup       singleflight.Group // deduplicates concurrent fetches for same block
	hits             atomic.Uint64
	misses           atomic.Uint64
}

// New wraps src with a block cache.
func New(src ByteSource, opts ...Option) (*Source, error) {
	if src == nil {
		return nil, errors.New("block cache: source is nil")
	}
	cfg := config{
		blockSize:        DefaultBlockSize,
		maxBlocks:        DefaultMaxBlocks,
		maxBlocksPerRead: DefaultMaxBlocksPerRead,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.blockSize <= 0 {
		return nil, errors.New("block cache: block size must be > 0")
	}
	if cfg.blockSize > math.MaxInt32 {
		return nil, errors.New("block cache: block size too large")
	}
	if cfg.maxBlocks <= 0 {
		return nil, errors.New("block cache: max blocks must be > 0")
	}
	blocks, err := lru.New[int64, []byte](cfg.maxBlocks)
	if err != nil {
		return nil, fmt.Errorf("block cache: %w", err)
	}
	return &Source{
		src:              src,
		blockSize:        cfg.blockSize,
		maxBlocksPerRead: cfg.maxBlocksPerRead,
		blocks:           blocks,
	}, nil
}

// Size returns the size of the wrapped source.
func (s *Source) Size() int64 {
	return s.src.Size()
}

// Len returns the number of resident blocks.
func (s *Source) Len() int {
	return s.blocks.Len()
}

// Stats returns hit and miss counts since creation.
func (s *Source) Stats() Stats {
	return Stats{Hits: s.hits.Load(), Misses: s.misses.Load()}
}

// ReadAt implements io.ReaderAt.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	size := s.src.Size()
	if off >= size {
		return 0, io.EOF
	}

	expected := int64(len(p))
	if off+expected > size {
		expected = size - off
	}

	startBlock := off / s.blockSize
	endBlock := (off + expected - 1) / s.blockSize
	if s.maxBlocksPerRead > 0 && endBlock-startBlock+1 > int64(s.maxBlocksPerRead) {
		return s.src.ReadAt(p, off)
	}

	var n int64
	for blockIndex := startBlock; blockIndex <= endBlock; blockIndex++ {
		blockStart := blockIndex * s.blockSize
		blockEnd := min(blockStart+s.blockSize, size)

		data, err := s.block(blockIndex, blockStart, blockEnd-blockStart)
		if err != nil {
			return int(n), err
		}

		copyStart := max(off, blockStart)
		copyEnd := min(off+expected, blockEnd)
		n += int64(copy(p[copyStart-off:copyEnd-off], data[copyStart-blockStart:copyEnd-blockStart]))
	}

	if expected < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// ReadRange streams length bytes at off. Ranges are read sequentially once,
// so they go straight to the wrapped source when it supports ranges and are
// served through ReadAt otherwise. Either way nothing is cached.
func (s *Source) ReadRange(off, length int64) (io.ReadCloser, error) {
	if off < 0 || length < 0 {
		return nil, fmt.Errorf("read range %d+%d: negative offset or length", off, length)
	}
	if rr, ok := s.src.(RangeReader); ok {
		return rr.ReadRange(off, length)
	}
	return io.NopCloser(io.NewSectionReader(s.src, off, length)), nil
}

func (s *Source) block(index, off, length int64) ([]byte, error) {
	if data, ok := s.blocks.Get(index); ok {
		s.hits.Add(1)
		return data, nil
	}
	result, err, _ := s.fetchGroup.Do(strconv.FormatInt(index, 10), func() (any, error) {
		// Another caller may have filled the block while we waited.
		if data, ok := s.blocks.Get(index); ok {
			s.hits.Add(1)
			return data, nil
		}
		s.misses.Add(1)
		buf := make([]byte, int(length))
		n, err := s.src.ReadAt(buf, off)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if int64(n) != length {
			return nil, io.ErrUnexpectedEOF
		}
		s.blocks.Add(index, buf)
		return buf, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil //nolint:errcheck // type assertion always succeeds when err is nil
}
