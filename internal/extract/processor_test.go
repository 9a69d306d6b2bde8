package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/psarc/internal/block"
	"github.com/meigma/psarc/internal/codec"
	"github.com/meigma/psarc/internal/psarctype"
	"github.com/meigma/psarc/internal/testutil"
	"github.com/meigma/psarc/internal/toc"
)

// archiveOpener opens streams over an in-memory fixture archive.
type archiveOpener struct {
	data   []byte
	header *toc.Header
	codec  codec.Codec
}

func newArchiveOpener(t *testing.T, a testutil.Archive) *archiveOpener {
	t.Helper()
	data := testutil.Build(t, a)
	h, err := toc.Parse(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	c, err := codec.Lookup(h.CompressionTag())
	require.NoError(t, err)
	return &archiveOpener{data: data, header: h, codec: c}
}

func (o *archiveOpener) OpenStream(entry toc.Entry, compressed bool) (*block.Stream, error) {
	off := int64(entry.DataOffset) //nolint:gosec // fixture offsets are small
	section := io.NewSectionReader(bytes.NewReader(o.data), off, int64(len(o.data))-off)
	table := block.Table{Sizes: o.header.BlockSizes, DefaultBlockSize: o.header.DefaultBlockSize}
	return block.NewStream(section, table, entry, o.codec, compressed), nil
}

// items returns one Item per file entry, using the file paths as given.
func (o *archiveOpener) items(files []testutil.File) []*Item {
	out := make([]*Item, 0, len(files))
	for i, f := range files {
		out = append(out, &Item{
			Path:       f.Path,
			Entry:      o.header.Entries[i+1],
			Compressed: !f.Stored,
		})
	}
	return out
}

// mockSink captures processed entries for testing.
type mockSink struct {
	mu            sync.Mutex
	shouldProcess func(*Item) bool
	written       map[string][]byte
	discarded     []string
	errors        map[string]error
}

func newMockSink() *mockSink {
	return &mockSink{
		shouldProcess: func(*Item) bool { return true },
		written:       make(map[string][]byte),
		errors:        make(map[string]error),
	}
}

func (s *mockSink) ShouldProcess(item *Item) bool {
	return s.shouldProcess(item)
}

func (s *mockSink) Writer(item *Item) (Committer, error) {
	if err, ok := s.errors[item.Path]; ok {
		return nil, err
	}
	return &mockCommitter{sink: s, path: item.Path}, nil
}

type mockCommitter struct {
	sink *mockSink
	path string
	data []byte
}

func (c *mockCommitter) Write(p []byte) (int, error) {
	c.data = append(c.data, p...)
	return len(p), nil
}

func (c *mockCommitter) Commit() error {
	c.sink.mu.Lock()
	defer c.sink.mu.Unlock()
	c.sink.written[c.path] = c.data
	return nil
}

func (c *mockCommitter) Discard() error {
	c.sink.mu.Lock()
	defer c.sink.mu.Unlock()
	c.sink.discarded = append(c.sink.discarded, c.path)
	return nil
}

func fixtureFiles(n int) []testutil.File {
	files := make([]testutil.File, 0, n)
	for i := range n {
		files = append(files, testutil.File{
			Path: fmt.Sprintf("dir%d/file%d.bin", i%3, i),
			Data: bytes.Repeat([]byte{byte('a' + i%26)}, 1000+i*700),
		})
	}
	return files
}

func TestProcessor_Serial(t *testing.T) {
	t.Parallel()

	files := fixtureFiles(4)
	files = append(files, testutil.File{Path: "raw.png", Data: []byte("\x89PNG not really"), Stored: true})
	opener := newArchiveOpener(t, testutil.Archive{BlockSize: 1024, Files: files})

	var mu sync.Mutex
	var events []psarctype.ProgressEvent
	sink := newMockSink()
	proc := NewProcessor(opener, WithWorkers(-1), WithProcessorProgress(func(ev psarctype.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}))

	stats, err := proc.Process(context.Background(), opener.items(files), sink)
	require.NoError(t, err)

	var total uint64
	for _, f := range files {
		assert.Equal(t, f.Data, sink.written[f.Path], f.Path)
		total += uint64(len(f.Data))
	}
	assert.Equal(t, len(files), stats.Processed)
	assert.Zero(t, stats.Skipped)
	assert.Equal(t, total, stats.TotalBytes)

	// Serial runs report entries in order, each started then committed.
	require.Len(t, events, 2*len(files))
	for i, f := range files {
		start, end := events[2*i], events[2*i+1]
		assert.Equal(t, psarctype.StageExtracting, start.Stage)
		assert.Equal(t, f.Path, start.Path)
		assert.Equal(t, i, start.FilesDone)
		assert.Equal(t, psarctype.StageExtracted, end.Stage)
		assert.Equal(t, uint64(len(f.Data)), end.BytesDone)
		assert.Equal(t, i+1, end.FilesDone)
		assert.Equal(t, len(files), end.FilesTotal)
	}
}

func TestProcessor_Parallel(t *testing.T) {
	t.Parallel()

	files := fixtureFiles(12)
	opener := newArchiveOpener(t, testutil.Archive{BlockSize: 2048, Files: files})
	sink := newMockSink()

	stats, err := NewProcessor(opener, WithWorkers(4)).Process(context.Background(), opener.items(files), sink)
	require.NoError(t, err)
	assert.Equal(t, len(files), stats.Processed)
	for _, f := range files {
		assert.Equal(t, f.Data, sink.written[f.Path], f.Path)
	}
}

func TestProcessor_ShouldProcess(t *testing.T) {
	t.Parallel()

	files := []testutil.File{
		{Path: "a.txt", Data: []byte("hello")},
		{Path: "skip.txt", Data: []byte("world")},
	}
	opener := newArchiveOpener(t, testutil.Archive{Files: files})
	sink := newMockSink()
	sink.shouldProcess = func(item *Item) bool {
		return item.Path != "skip.txt"
	}

	stats, err := NewProcessor(opener).Process(context.Background(), opener.items(files), sink)
	require.NoError(t, err)

	assert.Equal(t, []byte("hello"), sink.written["a.txt"])
	assert.NotContains(t, sink.written, "skip.txt")
	assert.Equal(t, ProcessStats{Processed: 1, Skipped: 1, TotalBytes: 5}, stats)
}

func TestProcessor_EmptyItems(t *testing.T) {
	t.Parallel()

	proc := NewProcessor(&archiveOpener{})
	stats, err := proc.Process(context.Background(), nil, newMockSink())
	require.NoError(t, err)
	assert.Equal(t, ProcessStats{}, stats)
}

func TestProcessor_WriterError(t *testing.T) {
	t.Parallel()

	files := fixtureFiles(3)
	opener := newArchiveOpener(t, testutil.Archive{Files: files})
	sink := newMockSink()
	errDenied := errors.New("denied")
	sink.errors[files[1].Path] = errDenied

	_, err := NewProcessor(opener, WithWorkers(-1)).Process(context.Background(), opener.items(files), sink)
	require.ErrorIs(t, err, errDenied)
	assert.Contains(t, err.Error(), files[1].Path)
	assert.Contains(t, sink.written, files[0].Path)
	assert.NotContains(t, sink.written, files[2].Path)
}

func TestProcessor_DecodeErrorDiscards(t *testing.T) {
	t.Parallel()

	files := []testutil.File{{Path: "big.bin", Data: bytes.Repeat([]byte("z"), 5000)}}
	opener := newArchiveOpener(t, testutil.Archive{BlockSize: 1024, Files: files})
	items := opener.items(files)

	// Claim more data than the entry's blocks describe.
	items[0].Entry.UncompressedSize = 1 << 20

	sink := newMockSink()
	_, err := NewProcessor(opener).Process(context.Background(), items, sink)
	require.Error(t, err)
	assert.Empty(t, sink.written)
	assert.Equal(t, []string{"big.bin"}, sink.discarded)
}

func TestProcessor_Canceled(t *testing.T) {
	t.Parallel()

	files := fixtureFiles(5)
	opener := newArchiveOpener(t, testutil.Archive{Files: files})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, workers := range []int{-1, 4} {
		sink := newMockSink()
		stats, err := NewProcessor(opener, WithWorkers(workers)).Process(ctx, opener.items(files), sink)
		require.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, stats.Processed)
		assert.Empty(t, sink.written)
	}
}

func TestWorkerCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, (&Processor{workers: -1}).workerCount(10))
	assert.Equal(t, 3, (&Processor{workers: 8}).workerCount(3))
	assert.Equal(t, 2, (&Processor{workers: 2}).workerCount(10))
	assert.GreaterOrEqual(t, (&Processor{}).workerCount(10), 1)
}
