package ustr

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// MAX_NAME bounds a single path component (Validate checks it). MAX_PATH
// is a whole-path bound that nothing checks; the resolver's ENAMETOOLONG
// limit is fs.MAXPATHLEN (1024) instead.
const (
	MAX_NAME = 255
	MAX_PATH = 4096
)

var utf8Strict = unicode.UTF8.NewDecoder()

// Validate rejects a name blob that cannot have arrived as a well-formed
// path component: empty, over MAX_NAME, containing a NUL or '/', or not
// valid UTF-8. Directory-command name blobs arrive over the wire as raw
// byte slices (spec §6) with no guarantee of well-formedness, so every
// component is run through this before it reaches the DNLC hash.
func Validate(name Ustr) bool {
	if len(name) == 0 || len(name) > MAX_NAME {
		return false
	}
	for _, c := range name {
		if c == 0 || c == '/' {
			return false
		}
	}
	if _, _, err := transform.Bytes(utf8Strict, name); err != nil {
		return false
	}
	return utf8.Valid(name)
}

// Split breaks a path into its first component and the remainder, the
// step bpath.Canonicalize repeats to walk a path component by component.
// Leading slashes are skipped; Split("a/b/c") == ("a", "b/c").
func Split(p Ustr) (head Ustr, rest Ustr) {
	i := 0
	for i < len(p) && p[i] == '/' {
		i++
	}
	p = p[i:]
	idx := p.IndexByte('/')
	if idx == -1 {
		return p, nil
	}
	head = p[:idx]
	j := idx
	for j < len(p) && p[j] == '/' {
		j++
	}
	return head, p[j:]
}
