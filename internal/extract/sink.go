package extract

import (
	"io"

	"github.com/meigma/psarc/internal/toc"
)

// Item is one archive entry selected for extraction.
type Item struct {
	// Path is the destination path in fs.ValidPath form.
	Path string

	// Entry locates the entry's payload and block run.
	Entry toc.Entry

	// Compressed reports whether the entry's blocks go through the codec.
	Compressed bool
}

// Sink receives decoded entry content during extraction.
//
// Implementations determine where content is written and can filter which
// items to process.
type Sink interface {
	// ShouldProcess returns false if this item should be skipped.
	ShouldProcess(item *Item) bool

	// Writer returns a writer for the item's content.
	// The returned Committer must have Commit() called after every block was
	// written, or Discard() called on any error.
	Writer(item *Item) (Committer, error)
}

// Committer is a writer that can be committed or discarded.
//
// Implementations should stage writes until Commit is called. A file-based
// implementation writes to a temp file and renames it on Commit, or removes
// it on Discard.
type Committer interface {
	io.Writer

	// Commit finalizes the write, making content available.
	Commit() error

	// Discard aborts the write and cleans up any temporary resources.
	Discard() error
}
