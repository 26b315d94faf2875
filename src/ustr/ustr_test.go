package ustr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	require.True(t, Validate(Ustr("startup.cfg")))
	require.True(t, Validate(Ustr("unicode-héllo")))

	require.False(t, Validate(Ustr("")))
	require.False(t, Validate(Ustr("has/slash")))
	require.False(t, Validate(Ustr{'n', 0, 'l'}))
	// overlong/invalid UTF-8 sequences are rejected before they reach
	// the name cache
	require.False(t, Validate(Ustr{0xc0, 0x80}))
	require.False(t, Validate(Ustr{0xff, 0xfe}))

	long := make(Ustr, MAX_NAME+1)
	for i := range long {
		long[i] = 'a'
	}
	require.False(t, Validate(long))
	require.True(t, Validate(long[:MAX_NAME]))
}

func TestSplit(t *testing.T) {
	head, rest := Split(Ustr("a/b/c"))
	require.Equal(t, "a", head.String())
	require.Equal(t, "b/c", rest.String())

	head, rest = Split(Ustr("/leading//slashes"))
	require.Equal(t, "leading", head.String())
	require.Equal(t, "slashes", rest.String())

	head, rest = Split(Ustr("last"))
	require.Equal(t, "last", head.String())
	require.Empty(t, rest)
}

func TestUstrBasics(t *testing.T) {
	require.True(t, Ustr(".").Isdot())
	require.True(t, Ustr("..").Isdotdot())
	require.True(t, Ustr("/a").IsAbsolute())
	require.False(t, Ustr("a").IsAbsolute())
	require.True(t, Ustr("abc").Eq(Ustr("abc")))
	require.False(t, Ustr("abc").Eq(Ustr("abd")))
	require.Equal(t, "a/b", Ustr("a").ExtendStr("b").String())
	require.Equal(t, "nul", MkUstrSlice([]uint8{'n', 'u', 'l', 0, 'x'}).String())
	require.Equal(t, 1, Ustr("abc").IndexByte('b'))
	require.Equal(t, -1, Ustr("abc").IndexByte('z'))
}
