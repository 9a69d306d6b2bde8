// Package pathutil provides path manipulation for slash-separated archive paths.
package pathutil

import "strings"

// Clean converts a manifest path to fs.ValidPath form.
//
// It performs the following transformations:
//   - Strips leading and trailing slashes: "/sce_sys/icon0.png" → "sce_sys/icon0.png"
//   - Collapses consecutive slashes: "a//b" → "a/b"
//   - Converts empty string and "/" to root: "" → "."
//
// "." and ".." elements are preserved so that callers reject them via
// fs.ValidPath instead of silently resolving them.
func Clean(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "."
	}
	if !strings.Contains(p, "//") {
		return p
	}
	parts := strings.Split(p, "/")
	result := parts[:0]
	for _, part := range parts {
		if part != "" {
			result = append(result, part)
		}
	}
	return strings.Join(result, "/")
}

// Base returns the last element of a slash-separated path.
// If path is empty or ".", it returns ".".
func Base(path string) string {
	if path == "" || path == "." {
		return "."
	}
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// DirPrefix converts a directory name to its prefix form.
// For ".", returns "" (empty prefix matches all).
// For other paths, appends "/" to match children.
func DirPrefix(name string) string {
	if name == "." {
		return ""
	}
	return name + "/"
}

// Child extracts the immediate child name from a full path given a prefix.
// Returns the child name and whether it's a subdirectory (has more path components).
// If path doesn't have the prefix, behavior is undefined.
func Child(path, prefix string) (name string, isSubDir bool) {
	relPath := strings.TrimPrefix(path, prefix)
	if idx := strings.Index(relPath, "/"); idx >= 0 {
		return relPath[:idx], true
	}
	return relPath, false
}
