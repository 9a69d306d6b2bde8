package psarc

import "github.com/meigma/psarc/internal/psarctype"

// Sentinel errors re-exported from internal/psarctype.
var (
	// ErrFormat is returned when the header, table of contents or block-size
	// table is malformed or truncated.
	ErrFormat = psarctype.ErrFormat

	// ErrDecompression is returned when a block fails to decompress.
	ErrDecompression = psarctype.ErrDecompression

	// ErrEncoding is returned when the manifest is not valid UTF-8.
	ErrEncoding = psarctype.ErrEncoding

	// ErrNotFound is returned when an entry's digest matches no manifest line.
	ErrNotFound = psarctype.ErrNotFound

	// ErrDigestCollision is returned when two different manifest lines hash
	// to the same digest.
	ErrDigestCollision = psarctype.ErrDigestCollision

	// ErrUnsupportedCompression is returned for an unknown compression tag.
	ErrUnsupportedCompression = psarctype.ErrUnsupportedCompression

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = psarctype.ErrSizeOverflow
)
