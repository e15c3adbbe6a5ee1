package odal

import (
	"strings"
)

// Path is a validated, normalized relative path within a store. The zero
// value is not a valid path; construct one with ParsePath. Paths compare
// equal iff their normalized string forms are equal.
type Path struct {
	s string
}

// ParsePath normalizes raw into a canonical Path. Backslashes become forward
// slashes, repeated separators collapse, leading/trailing separators and "."
// segments are dropped. It fails with an InvalidPath error when raw contains
// a null byte, a ".." segment, or normalizes to the empty string.
func ParsePath(raw string) (Path, error) {
	if strings.ContainsRune(raw, 0) {
		return Path{}, NewInvalidPath(raw, "path contains null byte")
	}
	var parts []string
	for seg := range strings.SplitSeq(strings.ReplaceAll(raw, `\`, "/"), "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			return Path{}, NewInvalidPath(raw, "path contains '..' segment")
		}
		parts = append(parts, seg)
	}
	if len(parts) == 0 {
		return Path{}, NewInvalidPath(raw, "path is empty after normalization")
	}
	return Path{s: strings.Join(parts, "/")}, nil
}

// String returns the normalized path string.
func (p Path) String() string { return p.s }

// IsZero reports whether p is the zero (unconstructed) value.
func (p Path) IsZero() bool { return p.s == "" }

// Name returns the final path segment.
func (p Path) Name() string {
	if i := strings.LastIndexByte(p.s, '/'); i >= 0 {
		return p.s[i+1:]
	}
	return p.s
}

// Parent returns the parent path. The second result is false for
// single-segment paths, which have no parent.
func (p Path) Parent() (Path, bool) {
	i := strings.LastIndexByte(p.s, '/')
	if i < 0 {
		return Path{}, false
	}
	return Path{s: p.s[:i]}, true
}

// Parts returns the ordered path segments.
func (p Path) Parts() []string {
	if p.s == "" {
		return nil
	}
	return strings.Split(p.s, "/")
}

// Join appends a segment (which may itself be a relative subpath) and
// re-validates the result.
func (p Path) Join(segment string) (Path, error) {
	return ParsePath(p.s + "/" + segment)
}

// Suffix returns the final extension including the dot, or "" if the name
// has none. A leading dot alone (".profile") is not an extension.
func (p Path) Suffix() string {
	name := p.Name()
	if dot := strings.LastIndexByte(name, '.'); dot > 0 {
		return name[dot:]
	}
	return ""
}
