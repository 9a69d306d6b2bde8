// Package file provides the fs.File and fs.FileInfo types served by an
// archive.
package file

import (
	"io"
	"io/fs"
	"time"

	"github.com/meigma/psarc/internal/psarctype"
	"github.com/meigma/psarc/internal/sizing"
)

// File implements fs.File over an entry's decoded content.
type File struct {
	info   *Info
	r      io.Reader
	closed bool
}

// Interface compliance.
var (
	_ fs.File     = (*File)(nil)
	_ io.WriterTo = (*File)(nil)
)

// New returns a File reading decoded content from r. If r is an io.Closer
// it is closed with the File.
func New(info *Info, r io.Reader) *File {
	return &File{info: info, r: r}
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, &fs.PathError{Op: "read", Path: f.info.name, Err: fs.ErrClosed}
	}
	return f.r.Read(p)
}

// WriteTo implements io.WriterTo so io.Copy moves whole blocks.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	if f.closed {
		return 0, &fs.PathError{Op: "read", Path: f.info.name, Err: fs.ErrClosed}
	}
	return io.Copy(w, f.r)
}

// Stat implements fs.File.
func (f *File) Stat() (fs.FileInfo, error) {
	return f.info, nil
}

// Close implements fs.File.
func (f *File) Close() error {
	if f.closed {
		return &fs.PathError{Op: "close", Path: f.info.name, Err: fs.ErrClosed}
	}
	f.closed = true
	if c, ok := f.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Info implements fs.FileInfo for archive entries.
type Info struct {
	name  string
	size  int64
	entry int
}

// NewInfo creates an Info for the TOC entry at position entry.
func NewInfo(name string, size uint64, entry int) (*Info, error) {
	n, err := sizing.ToInt64(size, psarctype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	return &Info{name: name, size: n, entry: entry}, nil
}

func (fi *Info) Name() string       { return fi.name }
func (fi *Info) Size() int64        { return fi.size }
func (fi *Info) Mode() fs.FileMode  { return 0o444 }
func (fi *Info) ModTime() time.Time { return time.Time{} }
func (fi *Info) IsDir() bool        { return false }
func (fi *Info) Sys() any           { return nil }

// Entry returns the position of the entry in the table of contents.
func (fi *Info) Entry() int {
	return fi.entry
}

// DirInfo implements fs.FileInfo for synthetic directories.
type DirInfo struct {
	name string
}

// NewDirInfo creates a DirInfo with the given name.
func NewDirInfo(name string) *DirInfo {
	return &DirInfo{name: name}
}

func (di *DirInfo) Name() string       { return di.name }
func (di *DirInfo) Size() int64        { return 0 }
func (di *DirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o555 }
func (di *DirInfo) ModTime() time.Time { return time.Time{} }
func (di *DirInfo) IsDir() bool        { return true }
func (di *DirInfo) Sys() any           { return nil }

// DirEntry implements fs.DirEntry by wrapping fs.FileInfo.
type DirEntry struct {
	info fs.FileInfo
}

// NewDirEntry creates a DirEntry wrapping the given FileInfo.
func NewDirEntry(info fs.FileInfo) *DirEntry {
	return &DirEntry{info: info}
}

func (de *DirEntry) Name() string               { return de.info.Name() }
func (de *DirEntry) IsDir() bool                { return de.info.IsDir() }
func (de *DirEntry) Type() fs.FileMode          { return de.info.Mode().Type() }
func (de *DirEntry) Info() (fs.FileInfo, error) { return de.info, nil }
func (de *DirEntry) String() string             { return fs.FormatDirEntry(de) }
