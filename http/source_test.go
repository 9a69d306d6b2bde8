package http_test

import (
	"bytes"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/psarc"
	psarchttp "github.com/meigma/psarc/http"
	"github.com/meigma/psarc/internal/testutil"
)

func serve(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	modTime := time.Unix(1_700_000_000, 0).UTC()
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("ETag", `"v1"`)
		nethttp.ServeContent(w, r, "archive.psarc", modTime, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSourceReadAt(t *testing.T) {
	t.Parallel()

	data := []byte("0123456789abcdef")
	src, err := psarchttp.NewSource(serve(t, data).URL)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), src.Size())

	buf := make([]byte, 4)
	n, err := src.ReadAt(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "3456", string(buf))

	// Reads past the end are trimmed.
	n, err = src.ReadAt(buf, 14)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, n)
	assert.Equal(t, "ef", string(buf[:n]))

	_, err = src.ReadAt(buf, int64(len(data)))
	require.ErrorIs(t, err, io.EOF)

	_, err = src.ReadAt(buf, -1)
	require.Error(t, err)

	n, err = src.ReadAt(nil, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSourceHeaders(t *testing.T) {
	t.Parallel()

	var missing atomic.Int32
	data := []byte("payload")
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Header.Get("Authorization") != "Bearer token" || r.Header.Get("X-Trace") != "abc" {
			missing.Add(1)
		}
		nethttp.ServeContent(w, r, "x", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)

	headers := nethttp.Header{}
	headers.Set("Authorization", "Bearer token")
	src, err := psarchttp.NewSource(srv.URL,
		psarchttp.WithClient(srv.Client()),
		psarchttp.WithHeaders(headers),
		psarchttp.WithHeader("X-Trace", "abc"),
	)
	require.NoError(t, err)

	buf := make([]byte, len(data))
	_, err = src.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, data, buf)
	assert.Zero(t, missing.Load())
}

func TestSourceRangeUnsupported(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		_, _ = w.Write([]byte("no ranges here"))
	}))
	t.Cleanup(srv.Close)

	_, err := psarchttp.NewSource(srv.URL)
	require.ErrorIs(t, err, psarchttp.ErrRangeUnsupported)
}

func TestSourceStatFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(nethttp.NotFoundHandler())
	t.Cleanup(srv.Close)

	_, err := psarchttp.NewSource(srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestSourceConditionalRetry(t *testing.T) {
	t.Parallel()

	var conditional, retried atomic.Int32
	data := []byte("conditional content")
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("ETag", `"v1"`)
		if r.Header.Get("If-Match") != "" {
			conditional.Add(1)
			w.WriteHeader(nethttp.StatusPreconditionFailed)
			return
		}
		if r.Method == nethttp.MethodGet && r.Header.Get("Range") != "bytes=0-0" {
			retried.Add(1)
		}
		nethttp.ServeContent(w, r, "x", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)

	src, err := psarchttp.NewSource(srv.URL, psarchttp.WithConditionalHeaders())
	require.NoError(t, err)

	buf := make([]byte, 11)
	_, err = src.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "conditional", string(buf))
	assert.Equal(t, int32(1), conditional.Load())
	assert.Equal(t, int32(1), retried.Load())
}

func TestSourceArchive(t *testing.T) {
	t.Parallel()

	files := []testutil.File{
		{Path: "/readme.txt", Data: []byte("remote archives work\n")},
		{Path: "/data/level.bin", Data: bytes.Repeat([]byte("level"), 5000)},
	}
	data := testutil.Build(t, testutil.Archive{BlockSize: 4096, Files: files})

	var requests atomic.Int32
	modTime := time.Unix(1_700_000_000, 0).UTC()
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		requests.Add(1)
		nethttp.ServeContent(w, r, "game.psarc", modTime, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)

	src, err := psarchttp.NewSource(srv.URL)
	require.NoError(t, err)

	archive, err := psarc.New(src)
	require.NoError(t, err)
	assert.Equal(t, len(files), archive.Len())

	got, err := archive.ReadFile("readme.txt")
	require.NoError(t, err)
	assert.Equal(t, files[0].Data, got)

	got, err = archive.ReadFile("data/level.bin")
	require.NoError(t, err)
	assert.Equal(t, files[1].Data, got)
	assert.Positive(t, requests.Load())
}

func TestSourceSizeMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method == nethttp.MethodHead {
			w.Header().Set("Content-Length", "99")
			return
		}
		w.Header().Set("Content-Range", "bytes 0-0/10")
		w.WriteHeader(nethttp.StatusPartialContent)
		_, _ = w.Write([]byte("x"))
	}))
	t.Cleanup(srv.Close)

	_, err := psarchttp.NewSource(srv.URL)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "mismatch"), err.Error())
	assert.False(t, errors.Is(err, psarchttp.ErrRangeUnsupported))
}

func TestSourceReadRange(t *testing.T) {
	t.Parallel()

	data := []byte("0123456789abcdef")
	src, err := psarchttp.NewSource(serve(t, data).URL)
	require.NoError(t, err)

	rc, err := src.ReadRange(4, 6)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "456789", string(got))

	// Ranges past the end are trimmed.
	rc, err = src.ReadRange(12, 100)
	require.NoError(t, err)
	got, err = io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "cdef", string(got))
	require.NoError(t, rc.Close())

	for _, r := range [][2]int64{{0, 0}, {16, 4}} {
		rc, err = src.ReadRange(r[0], r[1])
		require.NoError(t, err)
		got, err = io.ReadAll(rc)
		require.NoError(t, err)
		assert.Empty(t, got)
	}

	_, err = src.ReadRange(-1, 2)
	require.Error(t, err)
}

func TestSourceReadRangeShortBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method == nethttp.MethodHead {
			return
		}
		if r.Header.Get("Range") == "bytes=0-0" {
			w.Header().Set("Content-Range", "bytes 0-0/100")
			w.WriteHeader(nethttp.StatusPartialContent)
			_, _ = w.Write([]byte("x"))
			return
		}
		// Claims the range but stops early.
		w.WriteHeader(nethttp.StatusPartialContent)
		_, _ = w.Write([]byte("short"))
	}))
	t.Cleanup(srv.Close)

	src, err := psarchttp.NewSource(srv.URL)
	require.NoError(t, err)
	rc, err := src.ReadRange(0, 50)
	require.NoError(t, err)
	defer rc.Close()
	_, err = io.ReadAll(rc)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = src.ReadAt(make([]byte, 50), 0)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestSourceUnpackOneRequestPerEntry(t *testing.T) {
	t.Parallel()

	files := []testutil.File{
		{Path: "/readme.txt", Data: []byte("one request each\n")},
		{Path: "/data/level.bin", Data: bytes.Repeat([]byte("level"), 5000)},
		{Path: "/gfx/logo.png", Data: bytes.Repeat([]byte{0x89, 0x50}, 3000), Stored: true},
		{Path: "/empty.dat"},
	}
	data := testutil.Build(t, testutil.Archive{BlockSize: 4096, Files: files})

	var ranged atomic.Int32
	var counting atomic.Bool
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if counting.Load() && r.Header.Get("Range") != "" {
			ranged.Add(1)
		}
		nethttp.ServeContent(w, r, "game.psarc", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)

	src, err := psarchttp.NewSource(srv.URL)
	require.NoError(t, err)
	archive, err := psarc.New(src)
	require.NoError(t, err)

	counting.Store(true)
	dest := t.TempDir()
	stats, err := archive.Unpack(t.Context(), dest, psarc.UnpackWithWorkers(-1))
	require.NoError(t, err)
	assert.Equal(t, len(files), stats.Processed)

	// The empty entry has no blocks and needs no request.
	assert.Equal(t, int32(3), ranged.Load())

	got, err := os.ReadFile(filepath.Join(dest, "data", "level.bin"))
	require.NoError(t, err)
	assert.Equal(t, files[1].Data, got)
	got, err = os.ReadFile(filepath.Join(dest, "gfx", "logo.png"))
	require.NoError(t, err)
	assert.Equal(t, files[2].Data, got)
}
