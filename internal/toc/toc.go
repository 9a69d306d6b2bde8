// Package toc decodes the fixed PSARC header, its table of contents and the
// block-size table that follows it.
//
// All multi-byte integers are big-endian. Entry sizes and offsets are stored
// as 5-byte integers (see Uint40). The block-size table carries no explicit
// count; its length is derived from the first entry's data offset (see
// BlockTableLen).
package toc

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/psarc/internal/psarctype"
)

const (
	// Magic is the tag every archive starts with.
	Magic = "PSAR"

	// HeaderSize is the size in bytes of the fixed header.
	HeaderSize = 32

	// EntrySize is the minimum size in bytes of one TOC entry record.
	EntrySize = 30
)

// Flags are the archive-wide flag bits.
type Flags uint32

const (
	// FlagIgnoreCase marks archives whose manifest paths are case-insensitive.
	FlagIgnoreCase Flags = 1 << 0

	// FlagAbsolutePaths marks archives whose manifest paths start with '/'.
	FlagAbsolutePaths Flags = 1 << 1

	// FlagEncryptedTOC marks archives with an encrypted table of contents.
	FlagEncryptedTOC Flags = 1 << 2
)

// IgnoreCase reports whether FlagIgnoreCase is set.
func (f Flags) IgnoreCase() bool { return f&FlagIgnoreCase != 0 }

// AbsolutePaths reports whether FlagAbsolutePaths is set.
func (f Flags) AbsolutePaths() bool { return f&FlagAbsolutePaths != 0 }

// EncryptedTOC reports whether FlagEncryptedTOC is set.
func (f Flags) EncryptedTOC() bool { return f&FlagEncryptedTOC != 0 }

// Digest is the MD5 digest of an entry's canonical path.
type Digest [16]byte

// String returns the lowercase hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Entry is one TOC record. Entry 0 is always the manifest.
type Entry struct {
	// Index is the position of the record in the table of contents.
	Index int

	// NameDigest is the MD5 of the uppercased manifest path.
	NameDigest Digest

	// BlockOffset is the first block-size table slot of this entry.
	BlockOffset uint32

	// UncompressedSize is the declared decoded size of the entry.
	UncompressedSize uint64

	// DataOffset is the absolute archive offset of the first data block.
	DataOffset uint64
}

// Header is the parsed archive header with its entries and block-size table.
type Header struct {
	MajorVersion     uint16
	MinorVersion     uint16
	Compression      [4]byte
	TOCLength        uint32
	TOCEntrySize     uint32
	TOCEntryCount    uint32
	DefaultBlockSize uint32
	Flags            Flags

	Entries    []Entry
	BlockSizes []uint16
}

// CompressionTag returns the compression tag with NUL and space padding
// removed and folded to lowercase.
func (h *Header) CompressionTag() string {
	tag := bytes.TrimRight(h.Compression[:], "\x00 ")
	return string(bytes.ToLower(tag))
}

// fixedHeader mirrors the on-disk layout after the magic.
type fixedHeader struct {
	MajorVersion     uint16
	MinorVersion     uint16
	Compression      [4]byte
	TOCLength        uint32
	TOCEntrySize     uint32
	TOCEntryCount    uint32
	DefaultBlockSize uint32
	Flags            uint32
}

// Uint40 decodes a 5-byte big-endian unsigned integer. The value occupies
// the low 40 bits; the top three bytes are zero.
func Uint40(b []byte) uint64 {
	_ = b[4]
	return uint64(b[0])<<32 | uint64(b[1])<<24 | uint64(b[2])<<16 | uint64(b[3])<<8 | uint64(b[4])
}

// BlockTableLen returns the number of 16-bit slots in the block-size table,
// derived from the first entry's data offset and the entry table geometry.
func BlockTableLen(firstDataOffset uint64, entryCount, entrySize uint32) (int, error) {
	tableStart := uint64(HeaderSize) + uint64(entryCount)*uint64(entrySize)
	if firstDataOffset < tableStart {
		return 0, fmt.Errorf("%w: first data offset %d precedes block-size table at %d",
			psarctype.ErrFormat, firstDataOffset, tableStart)
	}
	span := firstDataOffset - tableStart
	if span%2 != 0 {
		return 0, fmt.Errorf("%w: block-size table span %d is not a multiple of 2",
			psarctype.ErrFormat, span)
	}
	n := span / 2
	if n > uint64(maxInt) {
		return 0, psarctype.ErrSizeOverflow
	}
	return int(n), nil
}

const maxInt = int(^uint(0) >> 1)

// Parse reads the header, entry table and block-size table from r.
//
// size is the total length of the source; declared geometry beyond it is
// rejected before any allocation. On success r is positioned just past the
// block-size table.
func Parse(r io.Reader, size int64) (*Header, error) {
	var magic [4]byte
	if err := readFull(r, magic[:], "magic"); err != nil {
		return nil, err
	}
	if string(magic[:]) != Magic {
		return nil, fmt.Errorf("%w: bad magic %q", psarctype.ErrFormat, magic[:])
	}

	var fh fixedHeader
	if err := binary.Read(r, binary.BigEndian, &fh); err != nil {
		return nil, truncated("header", err)
	}

	h := &Header{
		MajorVersion:     fh.MajorVersion,
		MinorVersion:     fh.MinorVersion,
		Compression:      fh.Compression,
		TOCLength:        fh.TOCLength,
		TOCEntrySize:     fh.TOCEntrySize,
		TOCEntryCount:    fh.TOCEntryCount,
		DefaultBlockSize: fh.DefaultBlockSize,
		Flags:            Flags(fh.Flags),
	}
	if h.Flags.EncryptedTOC() {
		return nil, fmt.Errorf("%w: encrypted table of contents", psarctype.ErrFormat)
	}
	if h.TOCEntryCount == 0 {
		return nil, fmt.Errorf("%w: empty table of contents", psarctype.ErrFormat)
	}
	if h.TOCEntrySize < EntrySize {
		return nil, fmt.Errorf("%w: entry size %d below %d", psarctype.ErrFormat, h.TOCEntrySize, EntrySize)
	}
	tableStart := uint64(HeaderSize) + uint64(h.TOCEntryCount)*uint64(h.TOCEntrySize)
	if size >= 0 && tableStart > uint64(size) {
		return nil, fmt.Errorf("%w: %d entries of %d bytes exceed source length %d",
			psarctype.ErrFormat, h.TOCEntryCount, h.TOCEntrySize, size)
	}

	entries, err := readEntries(r, h.TOCEntryCount, h.TOCEntrySize)
	if err != nil {
		return nil, err
	}
	h.Entries = entries

	n, err := BlockTableLen(entries[0].DataOffset, h.TOCEntryCount, h.TOCEntrySize)
	if err != nil {
		return nil, err
	}
	if size >= 0 && entries[0].DataOffset > uint64(size) {
		return nil, fmt.Errorf("%w: block-size table of %d slots exceeds source length %d",
			psarctype.ErrFormat, n, size)
	}
	h.BlockSizes, err = readBlockSizes(r, n)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func readEntries(r io.Reader, count, recordSize uint32) ([]Entry, error) {
	entries := make([]Entry, count)
	record := make([]byte, recordSize)
	for i := range entries {
		if err := readFull(r, record, fmt.Sprintf("entry %d", i)); err != nil {
			return nil, err
		}
		e := &entries[i]
		e.Index = i
		copy(e.NameDigest[:], record[0:16])
		e.BlockOffset = binary.BigEndian.Uint32(record[16:20])
		e.UncompressedSize = Uint40(record[20:25])
		e.DataOffset = Uint40(record[25:30])
	}
	return entries, nil
}

func readBlockSizes(r io.Reader, n int) ([]uint16, error) {
	raw := make([]byte, 2*n)
	if err := readFull(r, raw, "block-size table"); err != nil {
		return nil, err
	}
	sizes := make([]uint16, n)
	for i := range sizes {
		sizes[i] = binary.BigEndian.Uint16(raw[2*i:])
	}
	return sizes, nil
}

func readFull(r io.Reader, p []byte, what string) error {
	if _, err := io.ReadFull(r, p); err != nil {
		return truncated(what, err)
	}
	return nil
}

// truncated maps short reads to ErrFormat and keeps other I/O errors intact.
func truncated(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated %s", psarctype.ErrFormat, what)
	}
	return fmt.Errorf("read %s: %w", what, err)
}
