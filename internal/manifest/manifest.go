// Package manifest resolves entry name digests to paths using the archive
// manifest, the newline-separated path list stored as entry 0.
package manifest

import (
	"bytes"
	"crypto/md5" //nolint:gosec // PSARC name digests are MD5 by definition
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/meigma/psarc/internal/psarctype"
	"github.com/meigma/psarc/internal/toc"
)

// Digest returns the name digest of path: the MD5 of its uppercase form
// under full Unicode case mapping.
func Digest(path string) toc.Digest {
	upper := cases.Upper(language.Und).String(path)
	return md5.Sum([]byte(upper)) //nolint:gosec // see import
}

// Map is a digest to path mapping built from one manifest.
type Map struct {
	paths   map[toc.Digest]string
	ordered []string
}

// Parse builds a Map from decoded manifest bytes.
//
// Lines are split on '\n' with one trailing '\r' removed; empty lines are
// ignored. A repeated identical line is accepted, but two different lines
// with the same digest fail with ErrDigestCollision.
func Parse(data []byte) (*Map, error) {
	if !utf8.Valid(data) {
		return nil, psarctype.ErrEncoding
	}
	m := &Map{paths: make(map[toc.Digest]string)}
	for line := range bytes.SplitSeq(data, []byte{'\n'}) {
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) == 0 {
			continue
		}
		path := string(line)
		d := Digest(path)
		if prev, ok := m.paths[d]; ok {
			if prev == path {
				continue
			}
			return nil, fmt.Errorf("%w: %q and %q share digest %s", psarctype.ErrDigestCollision, prev, path, d)
		}
		m.paths[d] = path
		m.ordered = append(m.ordered, path)
	}
	return m, nil
}

// Lookup returns the manifest path for digest d.
func (m *Map) Lookup(d toc.Digest) (string, bool) {
	p, ok := m.paths[d]
	return p, ok
}

// Len returns the number of distinct paths.
func (m *Map) Len() int {
	return len(m.ordered)
}

// Paths returns the distinct paths in manifest order.
func (m *Map) Paths() []string {
	out := make([]string, len(m.ordered))
	copy(out, m.ordered)
	return out
}
