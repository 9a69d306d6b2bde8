// Package sizing provides overflow-checked conversions for sizes read from
// archive headers.
package sizing

import (
	"bytes"
	"io"
	"math"
)

// maxPrealloc caps how much ReadAll reserves up front from an untrusted hint.
const maxPrealloc = 64 << 20

// ToInt converts a uint64 to int, returning overflowErr if it doesn't fit.
func ToInt(size uint64, overflowErr error) (int, error) {
	if size > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// ToInt64 converts a uint64 to int64, returning overflowErr if it doesn't fit.
func ToInt64(size uint64, overflowErr error) (int64, error) {
	if size > uint64(math.MaxInt64) {
		return 0, overflowErr
	}
	return int64(size), nil
}

// ReadAll reads r to EOF, reserving room for hint bytes first.
//
// A non-zero limit bounds the result: overflowErr is returned as soon as
// more than limit bytes have been produced.
func ReadAll(r io.Reader, hint, limit uint64, overflowErr error) ([]byte, error) {
	if limit > 0 {
		if limit > uint64(math.MaxInt64-1) {
			return nil, overflowErr
		}
		r = &io.LimitedReader{R: r, N: int64(limit) + 1} //nolint:gosec // checked above
	}

	var buf bytes.Buffer
	if grow := min(hint, maxPrealloc); grow > 0 {
		buf.Grow(int(grow)) //nolint:gosec // bounded by maxPrealloc
	}
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	if limit > 0 && uint64(buf.Len()) > limit { //nolint:gosec // len is always non-negative
		return nil, overflowErr
	}
	return buf.Bytes(), nil
}
