package pathutil

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned for absolute paths and paths with "." or ".." segments
var ErrInvalidPath = errors.New("invalid path")

// RelPath is a sanitized, slash-separated path relative to a repository root.
// The empty RelPath is the root itself.
type RelPath string

// Root is the repository root
const Root RelPath = ""

// Sanitize validates a user supplied path and returns its canonical form.
// "" and "." denote the root. Repeated and trailing slashes are collapsed.
func Sanitize(p string) (RelPath, error) {
	p = filepath.ToSlash(p)
	if p == "" || p == "." {
		return Root, nil
	}
	if path.IsAbs(p) || filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: %q should be relative, not absolute", ErrInvalidPath, p)
	}

	segments := make([]string, 0, strings.Count(p, "/")+1)
	for _, s := range strings.Split(p, "/") {
		switch s {
		case "":
			continue
		case ".":
			return "", fmt.Errorf("%w: %q cannot contain \".\"", ErrInvalidPath, p)
		case "..":
			return "", fmt.Errorf("%w: %q cannot contain \"..\"", ErrInvalidPath, p)
		}
		segments = append(segments, s)
	}
	return RelPath(strings.Join(segments, "/")), nil
}

// MustSanitize is Sanitize for constant paths; it panics on invalid input.
func MustSanitize(p string) RelPath {
	r, err := Sanitize(p)
	if err != nil {
		panic(err)
	}
	return r
}

// FromOS returns the path of target relative to baseDir.
// Both arguments are operating system paths; target must live under baseDir.
func FromOS(baseDir, target string) (RelPath, error) {
	rel, err := filepath.Rel(baseDir, target)
	if err != nil {
		return "", err
	}
	return Sanitize(rel)
}

// String returns the slash-separated form, "." for the root
func (p RelPath) String() string {
	if p == Root {
		return "."
	}
	return string(p)
}

// IsRoot reports whether p is the repository root
func (p RelPath) IsRoot() bool {
	return p == Root
}

// Parts returns the path segments; the root has none
func (p RelPath) Parts() []string {
	if p == Root {
		return nil
	}
	return strings.Split(string(p), "/")
}

// Depth returns the number of segments in p
func (p RelPath) Depth() int {
	if p == Root {
		return 0
	}
	return strings.Count(string(p), "/") + 1
}

// Join appends name segments to p. Names are not re-validated.
func (p RelPath) Join(names ...string) RelPath {
	out := string(p)
	for _, n := range names {
		if n == "" {
			continue
		}
		if out == "" {
			out = n
		} else {
			out += "/" + n
		}
	}
	return RelPath(out)
}

// JoinPath appends another relative path to p
func (p RelPath) JoinPath(o RelPath) RelPath {
	return p.Join(string(o))
}

// Parent returns the directory containing p. The parent of the root is the root.
func (p RelPath) Parent() RelPath {
	i := strings.LastIndexByte(string(p), '/')
	if i < 0 {
		return Root
	}
	return p[:i]
}

// Base returns the last segment of p
func (p RelPath) Base() string {
	i := strings.LastIndexByte(string(p), '/')
	return string(p[i+1:])
}

// Rel returns the suffix of p below base, and false if p is not base or a descendant of it
func (p RelPath) Rel(base RelPath) (RelPath, bool) {
	switch {
	case base == Root:
		return p, true
	case p == base:
		return Root, true
	case strings.HasPrefix(string(p), string(base)+"/"):
		return p[len(base)+1:], true
	}
	return "", false
}

// IsUnder reports whether p is base or lies below it
func (p RelPath) IsUnder(base RelPath) bool {
	_, ok := p.Rel(base)
	return ok
}

// IsStrictlyUnder reports whether p lies below base and is not base itself
func (p RelPath) IsStrictlyUnder(base RelPath) bool {
	return p != base && p.IsUnder(base)
}

// OSPath converts p to an operating system path fragment
func (p RelPath) OSPath() string {
	return filepath.FromSlash(string(p))
}

// Less orders paths segment by segment, so every ancestor sorts before its descendants
func Less(a, b RelPath) bool {
	as, bs := a.Parts(), b.Parts()
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] != bs[i] {
			return as[i] < bs[i]
		}
	}
	return len(as) < len(bs)
}
