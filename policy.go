package psarc

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/meigma/psarc/internal/pathutil"
)

// CompressionPolicy decides whether an entry's blocks are decompressed.
//
// Producers store some payload kinds fully raw regardless of the archive's
// codec. Paths are passed in fs.FS form, without the leading slash.
type CompressionPolicy interface {
	Compressed(path string) bool
}

// PolicyFunc adapts a function to CompressionPolicy.
type PolicyFunc func(path string) bool

// Compressed implements CompressionPolicy.
func (f PolicyFunc) Compressed(path string) bool {
	return f(path)
}

// DefaultPolicy returns the policy used by the PlayStation packaging tools:
// entries ending in .png, .at3 or .bnk are stored raw, except names ending
// in snd0_1.at3. Suffixes are case-sensitive.
func DefaultPolicy() CompressionPolicy {
	return PolicyFunc(defaultCompressed)
}

func defaultCompressed(path string) bool {
	if strings.HasSuffix(path, "snd0_1.at3") {
		return true
	}
	return !strings.HasSuffix(path, ".png") &&
		!strings.HasSuffix(path, ".at3") &&
		!strings.HasSuffix(path, ".bnk")
}

// PatternPolicy selects raw entries by doublestar pattern.
//
// A pattern without a slash is matched against the base name only, so
// "*.png" matches at any depth. Entries matching Always are decompressed
// even when they also match Raw. Everything else is decompressed.
type PatternPolicy struct {
	Raw    []string
	Always []string
}

// Compressed implements CompressionPolicy.
func (p PatternPolicy) Compressed(path string) bool {
	if matchAny(p.Always, path) {
		return true
	}
	return !matchAny(p.Raw, path)
}

// Validate reports the first malformed pattern.
func (p PatternPolicy) Validate() error {
	for _, patterns := range [][]string{p.Raw, p.Always} {
		if err := validatePatterns(patterns); err != nil {
			return err
		}
	}
	return nil
}

func validatePatterns(patterns []string) error {
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("%w: %q", doublestar.ErrBadPattern, pattern)
		}
	}
	return nil
}

// matchAny reports whether path matches one of patterns. Malformed
// patterns never match.
func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		target := path
		if !strings.Contains(pattern, "/") {
			target = pathutil.Base(path)
		}
		if ok, err := doublestar.Match(pattern, target); err == nil && ok {
			return true
		}
	}
	return false
}
