// Package bpath canonicalizes in-kernel path strings: stripping trailing
// slashes, collapsing repeated slashes and dropping "." components; ".."
// is left in place for the resolver, which walks it through vnode_covered
// at traversal time (this is purely
// string hygiene performed before a path ever reaches the resolver, the
// same division of labor as the teacher's fd.Cwd_t.Canonicalpath caller).
package bpath

import "cheviot/src/ustr"

// Canonicalize strips trailing '/', collapses repeated '/', and removes
// "." components. Leading ".." and mid-path ".." are left alone: mount
// traversal means ".." cannot be resolved lexically (spec §4.7).
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	if len(p) == 0 {
		return ustr.MkUstrDot()
	}
	abs := p.IsAbsolute()
	var comps []ustr.Ustr
	rest := p
	for len(rest) > 0 {
		var head ustr.Ustr
		head, rest = ustr.Split(rest)
		if len(head) == 0 || head.Isdot() {
			continue
		}
		comps = append(comps, head)
	}
	out := ustr.MkUstr()
	if abs {
		out = append(out, '/')
	}
	for i, c := range comps {
		if i > 0 {
			out = append(out, '/')
		}
		out = append(out, c...)
	}
	if len(out) == 0 {
		return ustr.MkUstrDot()
	}
	return out
}

// Dirname returns all but the final component of p (the "parent" half used
// by LOOKUP_PARENT, spec §4.8).
func Dirname(p ustr.Ustr) ustr.Ustr {
	idx := lastSlash(p)
	if idx == -1 {
		return ustr.MkUstrDot()
	}
	if idx == 0 {
		return ustr.MkUstrRoot()
	}
	return p[:idx]
}

// Basename returns the final component of p.
func Basename(p ustr.Ustr) ustr.Ustr {
	idx := lastSlash(p)
	if idx == -1 {
		return p
	}
	return p[idx+1:]
}

func lastSlash(p ustr.Ustr) int {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return i
		}
	}
	return -1
}
