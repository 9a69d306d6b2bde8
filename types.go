package psarc

import (
	"github.com/meigma/psarc/internal/psarctype"
	"github.com/meigma/psarc/internal/toc"
)

// Re-export types from internal packages for the public API.
type (
	// Digest is the MD5 digest of an entry's uppercased manifest path.
	Digest = toc.Digest

	// Flags are the archive-wide flag bits.
	Flags = toc.Flags

	// ProgressEvent represents a progress update during extraction.
	ProgressEvent = psarctype.ProgressEvent

	// ProgressStage identifies the current phase of an operation.
	ProgressStage = psarctype.ProgressStage

	// ProgressFunc receives progress updates during operations.
	ProgressFunc = psarctype.ProgressFunc
)

// Re-export flag constants.
const (
	FlagIgnoreCase    = toc.FlagIgnoreCase
	FlagAbsolutePaths = toc.FlagAbsolutePaths
	FlagEncryptedTOC  = toc.FlagEncryptedTOC
)

// Re-export progress stage constants.
const (
	StageResolving  = psarctype.StageResolving
	StageExtracting = psarctype.StageExtracting
	StageExtracted  = psarctype.StageExtracted
)

// Entry describes one file in the archive's table of contents.
type Entry struct {
	// Index is the position of the entry in the table of contents.
	// Index 0 is the manifest and never appears in Entries.
	Index int

	// Path is the manifest line that hashes to NameDigest, in its original
	// case. It is empty when no manifest line matches.
	Path string

	// NameDigest is the digest stored in the table of contents.
	NameDigest Digest

	// BlockOffset is the first block-size table slot of the entry.
	BlockOffset uint32

	// Size is the declared uncompressed size.
	Size uint64

	// DataOffset is the absolute offset of the entry's first block.
	DataOffset uint64
}

func (e Entry) tocEntry() toc.Entry {
	return toc.Entry{
		Index:            e.Index,
		NameDigest:       e.NameDigest,
		BlockOffset:      e.BlockOffset,
		UncompressedSize: e.Size,
		DataOffset:       e.DataOffset,
	}
}

// HeaderInfo summarizes the archive header.
type HeaderInfo struct {
	MajorVersion     uint16
	MinorVersion     uint16
	Compression      string
	TOCLength        uint32
	TOCEntrySize     uint32
	TOCEntryCount    uint32
	DefaultBlockSize uint32
	Flags            Flags

	// BlockSlots is the number of entries in the block-size table.
	BlockSlots int
}
