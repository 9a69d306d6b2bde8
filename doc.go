// Package psarc reads PlayStation archive (PSARC) files.
//
// A PSARC file holds a fixed header, a table of contents, a table of block
// sizes and the entry payloads. Every entry is split into blocks that are
// compressed individually with the archive's codec (zlib, lzma, lzo, zstd
// or lz4). Entry names are not stored in the table of contents; entry 0 is
// a manifest listing one path per line, and every other entry is matched to
// its path through the MD5 digest of the uppercased path.
//
// # Quick Start
//
// Unpack an archive to a directory:
//
//	archive, err := psarc.OpenFile("game.psarc")
//	if err != nil {
//	    return err
//	}
//	defer archive.Close()
//
//	stats, err := archive.Unpack(ctx, "unpacked")
//
// An Archive is also an fs.FS over the manifest paths, with leading slashes
// removed:
//
//	data, err := fs.ReadFile(archive, "sce_sys/param.sfo")
//	matches, err := fs.Glob(archive, "sce_sys/*.png")
//
// # Compression policy
//
// Producers store some payload kinds raw regardless of the archive codec.
// DefaultPolicy mirrors the PlayStation tools; use WithPolicy with a
// PatternPolicy or PolicyFunc to override it. The lower-level Blocks
// accessor takes the decision as an explicit argument.
//
// # Remote archives
//
// The http subpackage provides a ByteSource backed by HTTP range requests,
// so entries can be read without downloading the whole archive. Wrapping
// it with the cache subpackage keeps the header and manifest reads local:
//
//	src, err := http.NewSource("https://example.com/game.psarc")
//	if err != nil {
//		return err
//	}
//	cached, err := cache.New(src)
//	if err != nil {
//		return err
//	}
//	archive, err := psarc.New(cached)
package psarc
