package psarc

import (
	"bytes"
	"io"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/psarc/internal/testutil"
)

func TestFS(t *testing.T) {
	t.Parallel()

	archive := newTestArchive(t, testutil.Archive{BlockSize: 1024, Files: sampleFiles()})
	err := fstest.TestFS(archive,
		"sce_sys",
		"sce_sys/param.sfo",
		"sce_sys/icon0.png",
		"data",
		"data/levels",
		"data/levels/level01.bin",
		"data/levels/level02.bin",
		"data/empty.dat",
		"readme.txt",
	)
	require.NoError(t, err)
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	files := sampleFiles()
	archive := newTestArchive(t, testutil.Archive{BlockSize: 1024, Files: files})

	f, err := archive.Open("data/levels/level01.bin")
	require.NoError(t, err)
	defer f.Close()

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, "level01.bin", info.Name())
	assert.Equal(t, int64(len(files[2].Data)), info.Size())
	assert.False(t, info.IsDir())

	// Small reads cross block boundaries.
	var got bytes.Buffer
	buf := make([]byte, 100)
	for {
		n, err := f.Read(buf)
		got.Write(buf[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, files[2].Data, got.Bytes())
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	archive := newTestArchive(t, testutil.Archive{Files: sampleFiles()})

	_, err := archive.Open("/readme.txt")
	require.ErrorIs(t, err, fs.ErrInvalid)
	_, err = archive.Open("../readme.txt")
	require.ErrorIs(t, err, fs.ErrInvalid)
	_, err = archive.Open("missing.txt")
	require.ErrorIs(t, err, fs.ErrNotExist)
	_, err = archive.Stat("missing")
	require.ErrorIs(t, err, fs.ErrNotExist)
	_, err = archive.ReadFile("data")
	require.ErrorIs(t, err, fs.ErrNotExist)
	_, err = archive.ReadDir("readme.txt")
	require.ErrorIs(t, err, fs.ErrInvalid)
	_, err = archive.ReadDir("nope")
	require.ErrorIs(t, err, fs.ErrNotExist)

	var pathErr *fs.PathError
	_, err = archive.ReadFile("missing.txt")
	require.ErrorAs(t, err, &pathErr)
	assert.Equal(t, "readfile", pathErr.Op)
}

func TestReadDir(t *testing.T) {
	t.Parallel()

	archive := newTestArchive(t, testutil.Archive{Files: sampleFiles()})

	names := func(entries []fs.DirEntry) []string {
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Name())
		}
		return out
	}

	root, err := archive.ReadDir(".")
	require.NoError(t, err)
	assert.Equal(t, []string{"data", "readme.txt", "sce_sys"}, names(root))
	assert.True(t, root[0].IsDir())
	assert.False(t, root[1].IsDir())

	data, err := archive.ReadDir("data")
	require.NoError(t, err)
	assert.Equal(t, []string{"empty.dat", "levels"}, names(data))

	info, err := archive.Stat("data/levels")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "levels", info.Name())

	// Paged reads from an open directory.
	d, err := archive.Open("data/levels")
	require.NoError(t, err)
	rd, ok := d.(fs.ReadDirFile)
	require.True(t, ok)
	first, err := rd.ReadDir(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"level01.bin"}, names(first))
	second, err := rd.ReadDir(5)
	require.NoError(t, err)
	assert.Equal(t, []string{"level02.bin"}, names(second))
	_, err = rd.ReadDir(1)
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, d.Close())
}

func TestFSHelpers(t *testing.T) {
	t.Parallel()

	archive := newTestArchive(t, testutil.Archive{Files: sampleFiles()})

	matches, err := fs.Glob(archive, "data/levels/*.bin")
	require.NoError(t, err)
	assert.Equal(t, []string{"data/levels/level01.bin", "data/levels/level02.bin"}, matches)

	sub, err := fs.Sub(archive, "sce_sys")
	require.NoError(t, err)
	got, err := fs.ReadFile(sub, "param.sfo")
	require.NoError(t, err)
	assert.Equal(t, "PSF\x00 parameters", string(got))

	var walked []string
	err = fs.WalkDir(archive, ".", func(p string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		if !d.IsDir() {
			walked = append(walked, p)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, walked, len(sampleFiles()))
}

func TestFSEmptyArchive(t *testing.T) {
	t.Parallel()

	archive := newTestArchive(t, testutil.Archive{})
	entries, err := archive.ReadDir(".")
	require.NoError(t, err)
	assert.Empty(t, entries)

	info, err := archive.Stat(".")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
