package psarc

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"

	"github.com/meigma/psarc/internal/block"
	"github.com/meigma/psarc/internal/codec"
	"github.com/meigma/psarc/internal/index"
	"github.com/meigma/psarc/internal/manifest"
	"github.com/meigma/psarc/internal/pathutil"
	"github.com/meigma/psarc/internal/sizing"
	"github.com/meigma/psarc/internal/toc"
)

// headerReadSize buffers the many small reads of header parsing, which
// matters for sources where every ReadAt is a network round trip.
const headerReadSize = 64 << 10

// Archive provides access to the entries of a PSARC archive.
//
// Archive implements fs.FS, fs.StatFS, fs.ReadFileFS, and fs.ReadDirFS over
// the resolved manifest paths. Leading slashes are stripped and directories
// are synthesized from path prefixes. An Archive is safe for concurrent use
// as long as its ByteSource is.
type Archive struct {
	source      ByteSource
	header      *toc.Header
	codec       codec.Codec
	table       block.Table
	names       *manifest.Map
	entries     []Entry
	idx         *index.Index
	policy      CompressionPolicy
	maxFileSize uint64
	logger      *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// New reads the header, table of contents and manifest from source.
//
// Entry data is read lazily by the accessors. Errors wrap ErrFormat for
// malformed archives, ErrUnsupportedCompression for unknown codecs, and
// ErrEncoding or ErrDigestCollision for bad manifests.
func New(source ByteSource, opts ...Option) (*Archive, error) {
	a := &Archive{
		source:      source,
		policy:      DefaultPolicy(),
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(a)
	}

	size := source.Size()
	h, err := toc.Parse(bufio.NewReaderSize(io.NewSectionReader(source, 0, size), headerReadSize), size)
	if err != nil {
		return nil, err
	}
	c, err := codec.Lookup(h.CompressionTag())
	if err != nil {
		return nil, err
	}
	a.header = h
	a.codec = c
	a.table = block.Table{Sizes: h.BlockSizes, DefaultBlockSize: h.DefaultBlockSize}

	text, err := a.readAll(h.Entries[0], true)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	names, err := manifest.Parse(text)
	if err != nil {
		return nil, err
	}
	a.names = names
	a.buildIndex()

	a.log().Debug("opened archive",
		"version", fmt.Sprintf("%d.%d", h.MajorVersion, h.MinorVersion),
		"compression", c.Name(),
		"entries", len(a.entries),
		"resolved", a.idx.Len(),
		"block_slots", len(h.BlockSizes))
	return a, nil
}

// buildIndex resolves every non-manifest entry and indexes the valid paths.
func (a *Archive) buildIndex() {
	a.entries = make([]Entry, 0, len(a.header.Entries)-1)
	records := make([]index.Record, 0, len(a.header.Entries)-1)
	for _, te := range a.header.Entries[1:] {
		e := Entry{
			Index:       te.Index,
			NameDigest:  te.NameDigest,
			BlockOffset: te.BlockOffset,
			Size:        te.UncompressedSize,
			DataOffset:  te.DataOffset,
		}
		if p, ok := a.names.Lookup(te.NameDigest); ok {
			e.Path = p
			if name := pathutil.Clean(p); name != "." && fs.ValidPath(name) {
				records = append(records, index.Record{Path: name, Entry: te.Index})
			} else {
				a.log().Warn("entry path not addressable", "index", te.Index, "path", p)
			}
		} else {
			a.log().Debug("entry has no manifest path", "index", te.Index, "digest", te.NameDigest.String())
		}
		a.entries = append(a.entries, e)
	}

	idx, dups := index.New(records)
	for _, p := range dups {
		a.log().Warn("duplicate entry path", "path", p)
	}
	a.idx = idx
}

// Header returns a summary of the archive header.
func (a *Archive) Header() HeaderInfo {
	h := a.header
	return HeaderInfo{
		MajorVersion:     h.MajorVersion,
		MinorVersion:     h.MinorVersion,
		Compression:      h.CompressionTag(),
		TOCLength:        h.TOCLength,
		TOCEntrySize:     h.TOCEntrySize,
		TOCEntryCount:    h.TOCEntryCount,
		DefaultBlockSize: h.DefaultBlockSize,
		Flags:            h.Flags,
		BlockSlots:       len(h.BlockSizes),
	}
}

// Len returns the number of entries, not counting the manifest.
func (a *Archive) Len() int {
	return len(a.entries)
}

// Entries returns an iterator over all entries except the manifest, in
// table-of-contents order.
func (a *Archive) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range a.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Entry returns the entry for a path in fs.FS form.
func (a *Archive) Entry(name string) (Entry, bool) {
	i, ok := a.idx.Lookup(name)
	if !ok {
		return Entry{}, false
	}
	return a.entries[i-1], true
}

// Resolve returns the manifest path whose digest matches e.NameDigest.
// It returns an error wrapping ErrNotFound when no manifest line matches.
func (a *Archive) Resolve(e Entry) (string, error) {
	p, ok := a.names.Lookup(e.NameDigest)
	if !ok {
		return "", fmt.Errorf("%w: entry %d digest %s", ErrNotFound, e.Index, e.NameDigest)
	}
	return p, nil
}

// Manifest returns the manifest paths in file order.
func (a *Archive) Manifest() []string {
	return a.names.Paths()
}

// Blocks returns the decoded blocks of e in order.
//
// When compressed is false every block is yielded verbatim; otherwise
// blocks go through the archive's codec, except a final block whose stored
// size equals the remaining decoded size. Iteration stops after the first
// error. The yielded slices are not reused.
func (a *Archive) Blocks(e Entry, compressed bool) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		s, err := a.openStream(e.tocEntry(), compressed)
		if err != nil {
			yield(nil, err)
			return
		}
		defer s.Close()
		for b, err := range s.All() {
			if !yield(b, err) {
				return
			}
		}
	}
}

// ReadEntry returns the decoded content of e, applying the archive's
// compression policy to its path.
func (a *Archive) ReadEntry(e Entry) ([]byte, error) {
	return a.readAll(e.tocEntry(), a.compressed(e.Path))
}

// compressed applies the policy to a manifest path. Unresolved entries are
// decompressed.
func (a *Archive) compressed(path string) bool {
	if path == "" {
		return true
	}
	return a.policy.Compressed(pathutil.Clean(path))
}

// readAll decodes a whole entry into memory, bounded by maxFileSize.
func (a *Archive) readAll(e toc.Entry, compressed bool) ([]byte, error) {
	if a.maxFileSize > 0 && e.UncompressedSize > a.maxFileSize {
		return nil, fmt.Errorf("%w: entry %d is %d bytes, limit %d",
			ErrSizeOverflow, e.Index, e.UncompressedSize, a.maxFileSize)
	}
	s, err := a.openStream(e, compressed)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return sizing.ReadAll(block.NewReader(s), e.UncompressedSize, a.maxFileSize, ErrSizeOverflow)
}

// openStream returns a stream with its own cursor at e.DataOffset. The
// caller must close it.
//
// Sources implementing RangeReader serve the blocks the entry normally
// occupies as one range; reads past that span fall through to ReadAt.
func (a *Archive) openStream(e toc.Entry, compressed bool) (*block.Stream, error) {
	size := a.source.Size()
	off, err := sizing.ToInt64(e.DataOffset, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	if off > size {
		return nil, fmt.Errorf("%w: entry %d data offset %d past end of archive (%d bytes)",
			ErrFormat, e.Index, off, size)
	}

	var r io.Reader = io.NewSectionReader(a.source, off, size-off)
	if rr, ok := a.source.(RangeReader); ok {
		// An unusable span leaves the plain section so the stream reports
		// the table error itself.
		if span, err := a.table.Span(e.BlockOffset, e.UncompressedSize); err == nil && span > 0 && off < size {
			length := int64(min(span, uint64(size-off))) //nolint:gosec // bounded by size
			body, err := rr.ReadRange(off, length)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", e.Index, err)
			}
			r = &spanReader{
				Reader: io.MultiReader(body, io.NewSectionReader(a.source, off+length, size-off-length)),
				body:   body,
			}
		}
	}
	return block.NewStream(r, a.table, e, a.codec, compressed), nil
}

// spanReader reads a ranged body, then the rest of the source.
type spanReader struct {
	io.Reader
	body io.Closer
}

func (r *spanReader) Close() error {
	return r.body.Close()
}

// streamOpener adapts an Archive to the extraction pipeline.
type streamOpener struct {
	a *Archive
}

func (o streamOpener) OpenStream(e toc.Entry, compressed bool) (*block.Stream, error) {
	return o.a.openStream(e, compressed)
}
