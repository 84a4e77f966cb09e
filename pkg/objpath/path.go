package objpath

import (
	"errors"
	"fmt"
	"strings"
)

// Delimiter separates the segments of a Path.
const Delimiter = "/"

// maxKeyLength matches the S3 object key limit in bytes.
const maxKeyLength = 1024

var (
	ErrEmptySegment = errors.New("path contains an empty segment")
	ErrDotSegment   = errors.New("path contains a relative segment")
	ErrControlChar  = errors.New("path contains a control character")
	ErrTooLong      = errors.New("path exceeds 1024 bytes")
)

// Path is a normalized, slash-delimited object key. The zero value is the
// root of the bucket.
type Path struct {
	raw string
}

// Parse validates s and returns it as a Path. Leading and trailing
// delimiters are removed; empty segments, "." and ".." segments and
// control characters are rejected.
func Parse(s string) (Path, error) {
	trimmed := strings.Trim(s, Delimiter)
	if trimmed == "" {
		return Path{}, nil
	}

	if len(trimmed) > maxKeyLength {
		return Path{}, fmt.Errorf("parse %q: %w", s, ErrTooLong)
	}

	if strings.ContainsFunc(trimmed, func(c rune) bool {
		return c < 0x20 || c == 0x7f
	}) {
		return Path{}, fmt.Errorf("parse %q: %w", s, ErrControlChar)
	}

	for segment := range strings.SplitSeq(trimmed, Delimiter) {
		switch segment {
		case "":
			return Path{}, fmt.Errorf("parse %q: %w", s, ErrEmptySegment)
		case ".", "..":
			return Path{}, fmt.Errorf("parse %q: %w", s, ErrDotSegment)
		}
	}

	return Path{raw: trimmed}, nil
}

// MustParse is like Parse but panics on invalid input. It is intended for
// constants and tests.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// FromParts joins parts with the delimiter and parses the result.
func FromParts(parts ...string) (Path, error) {
	return Parse(strings.Join(parts, Delimiter))
}

// String returns the logical (unencoded) key.
func (p Path) String() string {
	return p.raw
}

// IsRoot reports whether p is the empty path.
func (p Path) IsRoot() bool {
	return p.raw == ""
}

// Parts returns the segments of p.
func (p Path) Parts() []string {
	if p.raw == "" {
		return nil
	}
	return strings.Split(p.raw, Delimiter)
}

// Filename returns the last segment of p.
func (p Path) Filename() string {
	if idx := strings.LastIndex(p.raw, Delimiter); idx >= 0 {
		return p.raw[idx+1:]
	}
	return p.raw
}

// Extension returns the extension of the last segment without the dot.
func (p Path) Extension() string {
	name := p.Filename()
	idx := strings.LastIndexByte(name, '.')
	if idx <= 0 || idx == len(name)-1 {
		return ""
	}
	return name[idx+1:]
}

// Child returns p extended with one more segment.
func (p Path) Child(name string) (Path, error) {
	if p.raw == "" {
		return Parse(name)
	}
	return Parse(p.raw + Delimiter + name)
}

// Prefix returns p formatted as a listing prefix: the key followed by the
// delimiter. The root path has no prefix.
func (p Path) Prefix() string {
	if p.raw == "" {
		return ""
	}
	return p.raw + Delimiter
}
