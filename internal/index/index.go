// Package index provides a path-sorted view of the resolved archive entries.
package index

import (
	"iter"
	"slices"
	"sort"
	"strings"
)

// Record maps a cleaned path to the position of its TOC entry.
type Record struct {
	Path  string
	Entry int
}

// Index provides O(log n) lookups by path.
//
// Records are sorted by path, enabling prefix scans for directory
// operations.
type Index struct {
	records []Record
}

// New builds an index from records.
//
// When several records share a path the one with the lowest Entry wins;
// the paths that were dropped are returned in dups.
func New(records []Record) (idx *Index, dups []string) {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b Record) int {
		if c := strings.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return a.Entry - b.Entry
	})

	out := sorted[:0]
	for i, r := range sorted {
		if i > 0 && r.Path == sorted[i-1].Path {
			dups = append(dups, r.Path)
			continue
		}
		out = append(out, r)
	}
	return &Index{records: out}, dups
}

// Lookup returns the entry position recorded for path.
func (idx *Index) Lookup(path string) (int, bool) {
	i, ok := slices.BinarySearchFunc(idx.records, path, func(r Record, p string) int {
		return strings.Compare(r.Path, p)
	})
	if !ok {
		return 0, false
	}
	return idx.records[i].Entry, true
}

// Len returns the number of indexed paths.
func (idx *Index) Len() int {
	return len(idx.records)
}

// Records returns an iterator over all records in path order.
func (idx *Index) Records() iter.Seq[Record] {
	return slices.Values(idx.records)
}

// WithPrefix returns an iterator over the records whose path starts with
// prefix, in path order.
func (idx *Index) WithPrefix(prefix string) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		start := sort.Search(len(idx.records), func(i int) bool {
			return idx.records[i].Path >= prefix
		})
		for _, r := range idx.records[start:] {
			if !strings.HasPrefix(r.Path, prefix) {
				return
			}
			if !yield(r) {
				return
			}
		}
	}
}

// IsDir reports whether name is a directory prefix of any indexed path.
func (idx *Index) IsDir(name string) bool {
	if name == "." {
		return len(idx.records) > 0
	}
	for range idx.WithPrefix(name + "/") {
		return true
	}
	return false
}
