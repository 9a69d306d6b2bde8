package psarc

import (
	"fmt"
	"io"
	"os"
)

// ByteSource provides random access to archive bytes.
//
// Implementations exist for local files (see OpenFile) and HTTP range
// requests (see the http subpackage). ReadAt must be safe for concurrent
// use; Unpack reads several entries at once.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// RangeReader is implemented by sources that serve a contiguous byte range
// more cheaply as one stream than as separate ReadAt calls, such as the
// http subpackage. Each decoded entry reads its blocks through one range.
type RangeReader interface {
	ReadRange(off, length int64) (io.ReadCloser, error)
}

// fileSource wraps *os.File to implement ByteSource.
// os.File has ReadAt but not Size, so we cache the size at construction.
type fileSource struct {
	file *os.File
	size int64
}

// newFileSource creates a fileSource from an open file.
func newFileSource(f *os.File) (*fileSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive file: %w", err)
	}
	return &fileSource{file: f, size: info.Size()}, nil
}

// ReadAt implements io.ReaderAt.
func (fs *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return fs.file.ReadAt(p, off)
}

// Size returns the total size of the file.
func (fs *fileSource) Size() int64 {
	return fs.size
}

// ArchiveFile wraps an Archive with its underlying file handle.
// Close must be called to release file resources.
type ArchiveFile struct {
	*Archive
	file *os.File
}

// Close closes the underlying archive file.
func (af *ArchiveFile) Close() error {
	if af.file == nil {
		return nil
	}
	err := af.file.Close()
	af.file = nil
	return err
}

// OpenFile opens a PSARC archive on disk.
//
// The header, table of contents and manifest are read immediately; entry
// data is read on demand. The returned ArchiveFile must be closed.
func OpenFile(path string, opts ...Option) (*ArchiveFile, error) {
	f, err := os.Open(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	source, err := newFileSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	a, err := New(source, opts...)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &ArchiveFile{
		Archive: a,
		file:    f,
	}, nil
}

// Interface compliance.
var (
	_ ByteSource                 = (*fileSource)(nil)
	_ interface{ Close() error } = (*ArchiveFile)(nil)
)
