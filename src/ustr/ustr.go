// Package ustr carries path and name strings through the kernel as raw
// byte slices: path components arrive over the wire as untrusted byte
// blobs (spec §6), so nothing here assumes valid UTF-8 — validation is
// an explicit step (validate.go), not a property of the type.
package ustr

/// Ustr is an immutable kernel string.
type Ustr []uint8

/// Isdot reports whether the string equals ".".
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

/// Isdotdot reports whether the string equals "..".
func (us Ustr) Isdotdot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

/// Eq reports whether both strings contain identical bytes.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

/// MkUstr creates an empty Ustr.
func MkUstr() Ustr {
	return Ustr{}
}

/// MkUstrDot returns ".".
func MkUstrDot() Ustr {
	return Ustr(".")
}

/// MkUstrRoot returns "/".
func MkUstrRoot() Ustr {
	return Ustr("/")
}

/// DotDot is a reusable "..".
var DotDot = Ustr{'.', '.'}

/// MkUstrSlice truncates a byte slice at its first NUL, the form names
/// take when copied out of a fixed-width on-disk field.
func MkUstrSlice(buf []uint8) Ustr {
	for i := 0; i < len(buf); i++ {
		if buf[i] == 0 {
			return buf[:i]
		}
	}
	return buf
}

/// Extend appends '/' and p, always copying so the receiver stays
/// immutable.
func (us Ustr) Extend(p Ustr) Ustr {
	tmp := make(Ustr, len(us))
	copy(tmp, us)
	r := append(tmp, '/')
	return append(r, p...)
}

/// ExtendStr is Extend for a Go string component.
func (us Ustr) ExtendStr(p string) Ustr {
	return us.Extend(Ustr(p))
}

/// IsAbsolute reports whether the path begins with '/'.
func (us Ustr) IsAbsolute() bool {
	return len(us) > 0 && us[0] == '/'
}

/// IndexByte returns the index of b, or -1.
func (us Ustr) IndexByte(b uint8) int {
	for i, v := range us {
		if v == b {
			return i
		}
	}
	return -1
}

func (us Ustr) String() string {
	return string(us)
}
