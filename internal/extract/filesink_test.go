package extract

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSinkCommit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := newSink(t, dir)
	item := &Item{Path: "sce_sys/icon0.png"}
	require.True(t, sink.ShouldProcess(item))

	w, err := sink.Writer(item)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)

	// Nothing appears at the final path before Commit.
	_, err = os.Stat(filepath.Join(dir, "sce_sys", "icon0.png"))
	require.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, w.Commit())
	got, err := os.ReadFile(filepath.Join(dir, "sce_sys", "icon0.png"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
	assertNoTempFiles(t, filepath.Join(dir, "sce_sys"))

	// Existing files are skipped unless overwriting.
	assert.False(t, sink.ShouldProcess(item))
	assert.True(t, newSink(t, dir, WithOverwrite(true)).ShouldProcess(item))
}

func TestFileSinkOverwrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("old contents"), 0o600))

	w, err := newSink(t, dir, WithOverwrite(true)).Writer(&Item{Path: "a.txt"})
	require.NoError(t, err)
	_, err = w.Write([]byte("new"))
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	got, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestFileSinkDiscard(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := newSink(t, dir).Writer(&Item{Path: "partial/file.bin"})
	require.NoError(t, err)
	_, err = w.Write([]byte("half"))
	require.NoError(t, err)
	require.NoError(t, w.Discard())

	_, err = os.Stat(filepath.Join(dir, "partial", "file.bin"))
	require.ErrorIs(t, err, fs.ErrNotExist)
	assertNoTempFiles(t, filepath.Join(dir, "partial"))
}

func TestFileSinkRejectsTraversal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := newSink(t, dir)
	for _, p := range []string{"../escape.txt", "/abs/path", "a/../../b", ".", ""} {
		_, err := sink.Writer(&Item{Path: p})
		require.ErrorIs(t, err, fs.ErrInvalid, p)
	}
}

func TestFileSinkRejectsSymlinkEscape(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link")))

	_, err := newSink(t, dir).Writer(&Item{Path: "link/evil.txt"})
	require.Error(t, err)

	entries, err := os.ReadDir(outside)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func newSink(t *testing.T, dir string, opts ...FileSinkOption) *FileSink {
	t.Helper()
	sink, err := NewFileSink(dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, tempPrefix+"*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFileSinkMissingDestination(t *testing.T) {
	t.Parallel()

	_, err := NewFileSink(filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestFileSinkSymlinkedParentIsNotSkipped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "evil.txt"), []byte("x"), 0o600))
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link")))

	// The existing file outside the root must not count as already extracted.
	item := &Item{Path: "link/evil.txt"}
	sink := newSink(t, dir)
	require.True(t, sink.ShouldProcess(item))
	_, err := sink.Writer(item)
	require.Error(t, err)
}
