package objpath

import (
	"fmt"
	"net/url"
	"strings"
)

const upperhex = "0123456789ABCDEF"

// shouldEscape reports whether c must be percent-encoded. Only the RFC 3986
// unreserved characters survive, which is stricter than net/url: '+', '=',
// '!', '$' and friends are legal in a URL path but change the canonical
// request that the signature covers.
func shouldEscape(c byte, encodeSlash bool) bool {
	if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
		return false
	}

	switch c {
	case '-', '_', '.', '~':
		return false
	case '/':
		return encodeSlash
	}

	return true
}

func escape(s string, encodeSlash bool) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if shouldEscape(s[i], encodeSlash) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !shouldEscape(c, encodeSlash) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

// Encode percent-encodes p for use in a URL path or in a header that
// embeds a key, such as x-amz-copy-source. Delimiters are kept.
func Encode(p Path) string {
	return escape(p.raw, false)
}

// EncodeComponent percent-encodes s as a single component, escaping the
// delimiter too.
func EncodeComponent(s string) string {
	return escape(s, true)
}

// Decode reverses Encode.
func Decode(s string) (Path, error) {
	raw, err := url.PathUnescape(s)
	if err != nil {
		return Path{}, fmt.Errorf("decode %q: %w", s, err)
	}
	return Parse(raw)
}
