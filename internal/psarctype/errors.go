package psarctype

import "errors"

// Sentinel errors for archive operations.
var (
	// ErrFormat is returned when the header, table of contents or block-size
	// table is malformed or truncated.
	ErrFormat = errors.New("psarc: invalid format")

	// ErrDecompression is returned when a block fails to decompress.
	ErrDecompression = errors.New("psarc: decompression failed")

	// ErrEncoding is returned when the manifest is not valid UTF-8.
	ErrEncoding = errors.New("psarc: manifest is not valid UTF-8")

	// ErrNotFound is returned when an entry's name digest has no manifest line.
	ErrNotFound = errors.New("psarc: no manifest path for entry")

	// ErrDigestCollision is returned when two different manifest lines hash
	// to the same name digest.
	ErrDigestCollision = errors.New("psarc: manifest digest collision")

	// ErrUnsupportedCompression is returned for an unknown compression tag.
	ErrUnsupportedCompression = errors.New("psarc: unsupported compression")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("psarc: size overflow")
)
