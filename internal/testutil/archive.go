package testutil

import (
	"bytes"
	"crypto/md5" //nolint:gosec // PSARC name digests are MD5
	"encoding/binary"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz/lzma"
)

// File is one packaged file in a fixture archive.
type File struct {
	Path string
	Data []byte

	// Stored writes every block verbatim, as producers do for payload kinds
	// that are never compressed.
	Stored bool

	// NameDigest overrides the digest written to the TOC when non-nil.
	NameDigest []byte
}

// Archive describes a fixture archive.
type Archive struct {
	// Compression is the header tag: zlib (default), lzma, lzo, zstd or lz4.
	Compression string

	// BlockSize is the default block size (default 65536).
	BlockSize uint32

	// Flags is written to the archive flags field.
	Flags uint32

	// Files are packaged after the manifest in order.
	Files []File

	// Manifest replaces the generated manifest text when non-nil.
	Manifest []byte

	// ZeroFullSlots writes slot value 0 for every block whose physical size
	// equals BlockSize, instead of only for 65536-byte blocks.
	ZeroFullSlots bool
}

// Layout reports where the builder placed things.
type Layout struct {
	// BlockCounts holds the number of blocks of each TOC entry, manifest first.
	BlockCounts []int

	// RawFinal reports, per TOC entry, whether the final block was stored raw.
	RawFinal []bool

	// BlockSlots is the length of the block-size table.
	BlockSlots int
}

type builtEntry struct {
	digest      [16]byte
	size        uint64
	blockOffset uint32
	blocks      [][]byte
	rawFinal    bool
}

// Build encodes a as PSARC bytes.
func Build(tb testing.TB, a Archive) []byte {
	tb.Helper()
	data, _ := BuildLayout(tb, a)
	return data
}

// BuildLayout encodes a as PSARC bytes and reports the resulting layout.
func BuildLayout(tb testing.TB, a Archive) ([]byte, Layout) {
	tb.Helper()
	if a.Compression == "" {
		a.Compression = "zlib"
	}
	if a.BlockSize == 0 {
		a.BlockSize = 65536
	}

	manifest := a.Manifest
	if manifest == nil {
		paths := make([]string, len(a.Files))
		for i, f := range a.Files {
			paths[i] = f.Path
		}
		manifest = []byte(strings.Join(paths, "\n"))
	}

	var slots []uint16
	entries := make([]builtEntry, 0, len(a.Files)+1)
	add := func(digest [16]byte, data []byte, stored bool) {
		e := buildEntry(tb, a, data, stored)
		e.digest = digest
		e.blockOffset = uint32(len(slots)) //nolint:gosec // fixtures are small
		for _, b := range e.blocks {
			slots = append(slots, slotValue(tb, a, len(b)))
		}
		entries = append(entries, e)
	}

	add([16]byte{}, manifest, false)
	for _, f := range a.Files {
		digest := md5.Sum([]byte(strings.ToUpper(f.Path))) //nolint:gosec // see import
		if f.NameDigest != nil {
			copy(digest[:], f.NameDigest)
		}
		add(digest, f.Data, f.Stored)
	}

	const headerSize, entrySize = 32, 30
	tocLength := headerSize + entrySize*len(entries) + 2*len(slots)

	var buf bytes.Buffer
	buf.WriteString("PSAR")
	var tag [4]byte
	copy(tag[:], a.Compression)
	writeBE(&buf, uint16(1), uint16(4), tag)
	writeBE(&buf, uint32(tocLength), uint32(entrySize), uint32(len(entries)), a.BlockSize, a.Flags) //nolint:gosec // fixtures are small

	layout := Layout{BlockSlots: len(slots)}
	offset := uint64(tocLength) //nolint:gosec // fixtures are small
	for _, e := range entries {
		buf.Write(e.digest[:])
		writeBE(&buf, e.blockOffset)
		buf.Write(uint40(e.size))
		buf.Write(uint40(offset))
		for _, b := range e.blocks {
			offset += uint64(len(b))
		}
		layout.BlockCounts = append(layout.BlockCounts, len(e.blocks))
		layout.RawFinal = append(layout.RawFinal, e.rawFinal)
	}
	for _, s := range slots {
		writeBE(&buf, s)
	}
	for _, e := range entries {
		for _, b := range e.blocks {
			buf.Write(b)
		}
	}
	return buf.Bytes(), layout
}

func buildEntry(tb testing.TB, a Archive, data []byte, stored bool) builtEntry {
	tb.Helper()
	e := builtEntry{size: uint64(len(data))}
	bs := int(a.BlockSize)
	for start := 0; start < len(data); start += bs {
		end := min(start+bs, len(data))
		chunk := data[start:end]
		final := end == len(data)
		if stored {
			e.blocks = append(e.blocks, chunk)
			continue
		}
		comp := CompressBlock(tb, a.Compression, chunk)
		if final && (comp == nil || len(comp) >= len(chunk)) {
			e.blocks = append(e.blocks, chunk)
			e.rawFinal = true
			continue
		}
		if comp == nil {
			tb.Fatalf("testutil: %s cannot compress non-final block at %d", a.Compression, start)
		}
		if start+len(comp) == len(data) {
			tb.Fatalf("testutil: compressed block at %d is indistinguishable from a raw final block", start)
		}
		e.blocks = append(e.blocks, comp)
	}
	return e
}

func slotValue(tb testing.TB, a Archive, n int) uint16 {
	tb.Helper()
	switch {
	case n == 65536 || (a.ZeroFullSlots && n == int(a.BlockSize)):
		return 0
	case n > 65535:
		tb.Fatalf("testutil: block of %d bytes does not fit a 16-bit slot", n)
	}
	return uint16(n) //nolint:gosec // checked above
}

// CompressBlock compresses one block with the named algorithm. It returns
// nil when the algorithm reports the block as incompressible.
func CompressBlock(tb testing.TB, tag string, data []byte) []byte {
	tb.Helper()
	var buf bytes.Buffer
	switch tag {
	case "zlib":
		w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
		if err != nil {
			tb.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			tb.Fatal(err)
		}
		if err := w.Close(); err != nil {
			tb.Fatal(err)
		}
	case "lzma":
		w, err := lzma.NewWriter(&buf)
		if err != nil {
			tb.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			tb.Fatal(err)
		}
		if err := w.Close(); err != nil {
			tb.Fatal(err)
		}
	case "zstd":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			tb.Fatal(err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil)
	case "lz4":
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			tb.Fatal(err)
		}
		if n == 0 {
			return nil
		}
		return dst[:n]
	case "lzo":
		return LZOCompress(data)
	default:
		tb.Fatalf("testutil: unknown compression %q", tag)
	}
	return buf.Bytes()
}

// LZOLiterals encodes data as an LZO1X stream made only of literal runs.
func LZOLiterals(data []byte) []byte {
	var out []byte
	switch n := len(data); {
	case n == 0:
	case n <= 238:
		out = append(out, byte(17+n))
	default:
		out = append(out, 0)
		rem := n - 18
		for rem > 255 {
			out = append(out, 0)
			rem -= 255
		}
		out = append(out, byte(rem))
	}
	out = append(out, data...)
	return append(out, 0x11, 0x00, 0x00)
}

func uint40(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[3:]
}

func writeBE(buf *bytes.Buffer, values ...any) {
	for _, v := range values {
		_ = binary.Write(buf, binary.BigEndian, v) //nolint:errcheck // bytes.Buffer writes cannot fail
	}
}
