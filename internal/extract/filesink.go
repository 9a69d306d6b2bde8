package extract

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
)

// tempPrefix marks in-progress files next to their final path.
const tempPrefix = ".psarc-"

// FileSink writes entries below a destination directory.
//
// Every path is opened through one os.Root, so names that escape the
// destination, including through symlinks, are rejected by the kernel-side
// lookup. An entry is written to a temporary sibling and renamed into
// place on Commit. A FileSink is safe for concurrent use and must be
// closed.
type FileSink struct {
	root      *os.Root
	overwrite bool
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite replaces existing files.
// By default, entries whose destination exists are skipped.
func WithOverwrite(overwrite bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// NewFileSink opens destDir, which must exist, as the root for extraction.
func NewFileSink(destDir string, opts ...FileSinkOption) (*FileSink, error) {
	root, err := os.OpenRoot(destDir)
	if err != nil {
		return nil, fmt.Errorf("open destination: %w", err)
	}
	s := &FileSink{root: root}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the destination root.
func (s *FileSink) Close() error {
	return s.root.Close()
}

// ShouldProcess reports whether item needs writing. Without overwrite an
// existing destination, of any type, is left alone. Paths that cannot be
// looked up return true so that Writer reports the problem.
func (s *FileSink) ShouldProcess(item *Item) bool {
	if s.overwrite || !validName(item.Path) {
		return true
	}
	_, err := s.root.Lstat(item.Path)
	return err != nil
}

// Writer creates the parent directories of item and a temporary file
// beside its destination.
func (s *FileSink) Writer(item *Item) (Committer, error) {
	if !validName(item.Path) {
		return nil, &fs.PathError{Op: "extract", Path: item.Path, Err: fs.ErrInvalid}
	}
	dir := path.Dir(item.Path)
	if err := s.root.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	f, temp, err := s.createTemp(dir)
	if err != nil {
		return nil, err
	}
	return &fileCommitter{root: s.root, file: f, temp: temp, name: item.Path}, nil
}

// validName accepts fs.FS style names other than the root itself. os.Root
// accepts slash-separated names on every platform.
func validName(name string) bool {
	return name != "." && fs.ValidPath(name)
}

func (s *FileSink) createTemp(dir string) (*os.File, string, error) {
	const attempts = 10
	var suffix [8]byte
	for range attempts {
		if _, err := rand.Read(suffix[:]); err != nil {
			return nil, "", err
		}
		name := path.Join(dir, tempPrefix+hex.EncodeToString(suffix[:]))
		f, err := s.root.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) //nolint:gosec // extracted files are shared
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create temp file in %s: %w", dir, err)
		}
	}
	return nil, "", fmt.Errorf("create temp file in %s: exhausted retries", dir)
}

// fileCommitter owns one temporary file until Commit or Discard.
type fileCommitter struct {
	root *os.Root
	file *os.File
	temp string
	name string
}

func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.file.Write(p)
}

// Commit closes the temporary file and renames it over the destination.
func (c *fileCommitter) Commit() error {
	if err := c.file.Close(); err != nil {
		_ = c.root.Remove(c.temp) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close %s: %w", c.temp, err)
	}
	if err := c.root.Rename(c.temp, c.name); err != nil {
		_ = c.root.Remove(c.temp) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", c.name, err)
	}
	return nil
}

// Discard closes and removes the temporary file.
func (c *fileCommitter) Discard() error {
	_ = c.file.Close() //nolint:errcheck // the file is removed either way
	return c.root.Remove(c.temp)
}
