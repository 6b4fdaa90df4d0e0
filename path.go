// Canonical path normalization.
//
// The single normalization rule applied at every ingress point to the
// core (spec §4.F, §9 Design Note 2): lowercase, backslash replaced with
// forward slash, repeated slashes collapsed, no trailing slash except at
// the root. This is the only path form ever used as an index key.
package mediadb

import "strings"

// canonicalPath normalizes p into the sole form used by path_index and
// directory_index. It is idempotent: canonicalPath(canonicalPath(p)) == canonicalPath(p).
func canonicalPath(p string) string {
	p = strings.ToLower(p)
	p = strings.ReplaceAll(p, `\`, "/")

	var b strings.Builder
	b.Grow(len(p))
	prevSlash := false
	for _, r := range p {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	out := b.String()

	if len(out) > 1 && strings.HasSuffix(out, "/") {
		out = strings.TrimRight(out, "/")
	}
	return out
}

// parentDir returns the canonical parent directory of a canonical path,
// used as the directory_index key. Root ("/") is its own parent.
func parentDir(canonical string) string {
	if canonical == "" || canonical == "/" {
		return "/"
	}
	idx := strings.LastIndexByte(canonical, '/')
	if idx <= 0 {
		return "/"
	}
	return canonical[:idx]
}

// prefixUpperBound returns the exclusive upper bound for a btree
// AscendRange scan matching every key with the given prefix: all bytes
// of prefix unchanged except the last byte incremented, or a sentinel
// that exceeds any valid path if the prefix is empty or all 0xFF bytes.
func prefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0xFF {
			b[i]++
			return string(b[:i+1])
		}
	}
	// All bytes were 0xFF (or prefix empty): no finite upper bound short
	// of "greater than any possible path". A path byte never exceeds
	// 0xFF, so appending 0xFF bytes is never reached in practice for an
	// empty prefix; returning a high-value sentinel is sufficient.
	return string(b) + "\xff\xff\xff\xff"
}
