package psarc

import (
	"io"
	"io/fs"
	"slices"
	"strings"

	"github.com/meigma/psarc/internal/block"
	"github.com/meigma/psarc/internal/file"
	"github.com/meigma/psarc/internal/pathutil"
)

// Interface compliance.
var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
	_ fs.ReadDirFS  = (*Archive)(nil)
)

// Open implements fs.FS.
//
// Open returns an fs.File streaming the named entry's decoded content, or a
// directory for path prefixes of entries.
func (a *Archive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	if e, ok := a.Entry(name); ok {
		info, err := file.NewInfo(pathutil.Base(name), e.Size, e.Index)
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		s, err := a.openStream(e.tocEntry(), a.compressed(e.Path))
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		return file.New(info, block.NewReader(s)), nil
	}

	if name == "." || a.idx.IsDir(name) {
		return &openDir{a: a, name: name}, nil
	}

	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// Stat implements fs.StatFS.
//
// File sizes are the declared uncompressed sizes from the table of
// contents; no data is read.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}

	if e, ok := a.Entry(name); ok {
		info, err := file.NewInfo(pathutil.Base(name), e.Size, e.Index)
		if err != nil {
			return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
		}
		return info, nil
	}

	if name == "." || a.idx.IsDir(name) {
		return file.NewDirInfo(pathutil.Base(name)), nil
	}

	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// ReadFile implements fs.ReadFileFS.
//
// ReadFile decodes the whole entry into memory, subject to WithMaxFileSize.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}

	e, ok := a.Entry(name)
	if !ok {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
	}
	content, err := a.ReadEntry(e)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return content, nil
}

// ReadDir implements fs.ReadDirFS.
//
// ReadDir returns directory entries for the named directory, sorted by name.
// Directory entries are synthesized from entry paths; the archive does not
// store directories.
func (a *Archive) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}

	if !a.idx.IsDir(name) {
		if _, ok := a.Entry(name); ok {
			return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
		}
		if name != "." {
			return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
		}
	}
	return a.dirEntries(name), nil
}

// dirEntries lists the immediate children of name, synthesizing
// subdirectories for nested paths.
func (a *Archive) dirEntries(name string) []fs.DirEntry {
	prefix := pathutil.DirPrefix(name)
	entries := make([]fs.DirEntry, 0)
	seen := make(map[string]struct{})
	for rec := range a.idx.WithPrefix(prefix) {
		child, isSubDir := pathutil.Child(rec.Path, prefix)
		if _, ok := seen[child]; ok {
			continue
		}
		seen[child] = struct{}{}

		if isSubDir {
			entries = append(entries, file.NewDirEntry(file.NewDirInfo(child)))
			continue
		}
		e := a.entries[rec.Entry-1]
		info, err := file.NewInfo(child, e.Size, e.Index)
		if err != nil {
			a.log().Warn("skipping entry", "path", rec.Path, "error", err)
			continue
		}
		entries = append(entries, file.NewDirEntry(info))
	}
	slices.SortFunc(entries, func(x, y fs.DirEntry) int {
		return strings.Compare(x.Name(), y.Name())
	})
	return entries
}

// openDir implements fs.File and fs.ReadDirFile for synthetic directories.
type openDir struct {
	a       *Archive
	name    string
	entries []fs.DirEntry
	offset  int
	listed  bool
}

func (d *openDir) Read(_ []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}

func (d *openDir) Stat() (fs.FileInfo, error) {
	return file.NewDirInfo(pathutil.Base(d.name)), nil
}

func (d *openDir) Close() error {
	return nil
}

func (d *openDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if !d.listed {
		d.entries = d.a.dirEntries(d.name)
		d.listed = true
	}

	rest := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return slices.Clone(rest), nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	n = min(n, len(rest))
	d.offset += n
	return slices.Clone(rest[:n]), nil
}
