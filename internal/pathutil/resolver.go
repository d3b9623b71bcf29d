// Package pathutil turns untrusted, user-supplied relative paths into
// validated paths that are safe to join under the storage root. This is the
// security boundary for every filesystem operation the service performs.
//
// Known limitation: symlinks inside the storage root are followed by the
// operating system and can point outside it. Operators must not place
// symlinks under the uploads directory.
package pathutil

import (
	"errors"
	"path"
	"strings"
	"unicode/utf8"
)

// ErrInvalidPath marks a path that cannot be resolved to any location under
// the storage root.
var ErrInvalidPath = errors.New("invalid path")

// RelativePath is a normalized path guaranteed free of parent-directory and
// root-anchoring components. Values are only produced by Resolve, so holding
// one is proof the path stays under the storage root.
type RelativePath struct {
	rel string
}

func (p RelativePath) String() string { return p.rel }

// Dir returns the parent directory of the path, or "" when the path has no
// parent below the root.
func (p RelativePath) Dir() string {
	d := path.Dir(p.rel)
	if d == "." {
		return ""
	}
	return d
}

// Base returns the last element of the path.
func (p RelativePath) Base() string { return path.Base(p.rel) }

// Resolve validates and normalizes an untrusted relative path. The input is
// split into slash-separated components; empty, current-directory,
// parent-directory and root-anchoring components are dropped and the named
// components are kept in their original order. Inputs that decompose to
// nothing, contain a NUL byte, or are not valid UTF-8 fail with
// ErrInvalidPath.
func Resolve(raw string) (RelativePath, error) {
	if raw == "" || !utf8.ValidString(raw) || strings.ContainsRune(raw, 0) {
		return RelativePath{}, ErrInvalidPath
	}

	var segments []string
	for _, seg := range strings.Split(raw, "/") {
		switch seg {
		case "", ".", "..":
			continue
		}
		segments = append(segments, seg)
	}

	if len(segments) == 0 {
		return RelativePath{}, ErrInvalidPath
	}

	return RelativePath{rel: path.Join(segments...)}, nil
}

// HasDotDot reports whether the raw path contains a ".." sequence. The HTTP
// layer rejects such paths outright instead of silently normalizing them, so
// a caller attempting traversal gets an explicit 400.
func HasDotDot(raw string) bool {
	return strings.Contains(raw, "..")
}
