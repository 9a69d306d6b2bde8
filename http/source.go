// Package http provides a psarc.ByteSource backed by HTTP range requests.
//
// Archive headers and manifests are small, so an archive can be listed or
// partially unpacked from a web server without downloading it first. The
// Source also implements psarc.RangeReader: each decoded entry costs one
// request covering its blocks.
package http //nolint:revive // intentional naming for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"strconv"
	"strings"
)

// ErrRangeUnsupported is returned when the server ignores Range headers.
var ErrRangeUnsupported = errors.New("http: range requests not supported")

// Source reads a remote archive with HTTP range requests.
// It is safe for concurrent use.
type Source struct {
	url         string
	client      *nethttp.Client
	headers     nethttp.Header
	conditional bool
	logger      *slog.Logger

	size int64
	// validators pin reads to the representation seen by NewSource.
	etag         string
	lastModified string
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeaders adds headers to every request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Source) {
		for key, values := range headers {
			for _, value := range values {
				s.header().Add(key, value)
			}
		}
	}
}

// WithHeader sets a single header on every request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		s.header().Set(key, value)
	}
}

// WithConditionalHeaders sends If-Match / If-Unmodified-Since with range
// reads so that an archive replaced on the server is noticed. A server that
// answers 412 is asked again without conditions.
func WithConditionalHeaders() Option {
	return func(s *Source) {
		s.conditional = true
	}
}

// WithLogger logs each range request at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

func (s *Source) header() nethttp.Header {
	if s.headers == nil {
		s.headers = make(nethttp.Header)
	}
	return s.headers
}

func (s *Source) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// NewSource fetches the first byte of url to learn its size and confirm
// range support. A HEAD response, when the server gives one, must agree
// with the size from Content-Range.
func NewSource(url string, opts ...Option) (*Source, error) {
	s := &Source{url: url}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	if err := s.stat(); err != nil {
		return nil, fmt.Errorf("stat %s: %w", url, err)
	}
	s.log().Debug("opened remote archive", "url", url, "size", s.size, "etag", s.etag)
	return s, nil
}

// Size returns the size of the remote archive.
func (s *Source) Size() int64 {
	return s.size
}

// ReadAt implements io.ReaderAt with one range request.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	want := min(int64(len(p)), s.size-off)

	body, err := s.fetch(off, want)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	n, err := io.ReadFull(body, p[:want])
	if err != nil {
		return n, err
	}
	if want < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

// ReadRange returns a stream of length bytes starting at off. The stream
// fails with io.ErrUnexpectedEOF if the server sends fewer bytes. A range
// reaching past the end is trimmed.
func (s *Source) ReadRange(off, length int64) (io.ReadCloser, error) {
	if off < 0 || length < 0 {
		return nil, fmt.Errorf("read range %d+%d: negative offset or length", off, length)
	}
	if off >= s.size || length == 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return s.fetch(off, min(length, s.size-off))
}

// fetch issues a GET for [off, off+length) and returns the body of the
// 206 response, limited to length bytes.
func (s *Source) fetch(off, length int64) (io.ReadCloser, error) {
	resp, err := s.get(off, length, s.conditional)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == nethttp.StatusPreconditionFailed && s.conditional {
		discard(resp)
		s.log().Debug("conditional range rejected, retrying", "offset", off, "length", length)
		resp, err = s.get(off, length, false)
		if err != nil {
			return nil, err
		}
	}
	s.log().Debug("range request", "offset", off, "length", length, "status", resp.StatusCode)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
		return &rangeBody{body: resp.Body, remaining: length}, nil
	case nethttp.StatusRequestedRangeNotSatisfiable:
		discard(resp)
		return nil, io.EOF
	case nethttp.StatusOK:
		discard(resp)
		return nil, ErrRangeUnsupported
	default:
		discard(resp)
		return nil, fmt.Errorf("range %d+%d: %s", off, length, resp.Status)
	}
}

func (s *Source) get(off, length int64, conditional bool) (*nethttp.Response, error) {
	req, err := s.request(nethttp.MethodGet)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", "bytes="+strconv.FormatInt(off, 10)+"-"+strconv.FormatInt(off+length-1, 10))
	if conditional {
		if s.etag != "" && req.Header.Get("If-Match") == "" {
			req.Header.Set("If-Match", s.etag)
		}
		if s.lastModified != "" && req.Header.Get("If-Unmodified-Since") == "" {
			req.Header.Set("If-Unmodified-Since", s.lastModified)
		}
	}
	return s.client.Do(req)
}

func (s *Source) request(method string) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(context.Background(), method, s.url, nethttp.NoBody)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		req.Header[key] = append([]string(nil), values...)
	}
	// Transparent gzip would break byte offsets.
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	return req, nil
}

// stat learns the size from a bytes=0-0 request and cross-checks a HEAD.
func (s *Source) stat() error {
	resp, err := s.get(0, 1, false)
	if err != nil {
		return err
	}
	discard(resp)
	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusOK:
		return ErrRangeUnsupported
	default:
		return fmt.Errorf("first byte: %s", resp.Status)
	}

	size, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return err
	}
	s.size = size
	s.etag = resp.Header.Get("ETag")
	s.lastModified = resp.Header.Get("Last-Modified")

	req, err := s.request(nethttp.MethodHead)
	if err != nil {
		return err
	}
	head, err := s.client.Do(req)
	if err != nil {
		// HEAD is advisory.
		return nil //nolint:nilerr // the ranged request already succeeded
	}
	discard(head)
	if head.StatusCode == nethttp.StatusOK && head.ContentLength > 0 && head.ContentLength != size {
		return fmt.Errorf("content size mismatch: head=%d range=%d", head.ContentLength, size)
	}
	if s.etag == "" {
		s.etag = head.Header.Get("ETag")
	}
	if s.lastModified == "" {
		s.lastModified = head.Header.Get("Last-Modified")
	}
	return nil
}

const maxDrain = 64 << 10

// rangeBody limits a 206 body to the requested length and reports a short
// body as io.ErrUnexpectedEOF.
type rangeBody struct {
	body      io.ReadCloser
	remaining int64
}

func (b *rangeBody) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.body.Read(p)
	b.remaining -= int64(n)
	if errors.Is(err, io.EOF) {
		if b.remaining > 0 {
			return n, io.ErrUnexpectedEOF
		}
		err = nil
	}
	return n, err
}

func (b *rangeBody) Close() error {
	// Drain a short tail so the connection can be reused; an abandoned
	// large remainder is cheaper to drop with the connection.
	if b.remaining > 0 && b.remaining <= maxDrain {
		_, _ = io.CopyN(io.Discard, b.body, b.remaining) //nolint:errcheck // best-effort drain
	}
	return b.body.Close()
}

func discard(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
	_ = resp.Body.Close()
}

// parseContentRange returns the total size from "bytes start-end/size".
func parseContentRange(value string) (int64, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	_, total, ok := strings.Cut(rest, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}
