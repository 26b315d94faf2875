package hashtable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"cheviot/src/ustr"
)

func TestSetGetDel(t *testing.T) {
	ht := MkHash(128)

	_, ok := ht.Get("missing")
	require.False(t, ok)

	ht.Set("a", 1)
	ht.Set("b", 2)
	v, ok := ht.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	ht.Del("a")
	_, ok = ht.Get("a")
	require.False(t, ok)
	v, ok = ht.Get("b")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestIntAndUstrKeys(t *testing.T) {
	ht := MkHash(64)
	ht.Set(42, "int")
	ht.Set(ustr.Ustr("name"), "ustr")

	v, ok := ht.Get(42)
	require.True(t, ok)
	require.Equal(t, "int", v)
	v, ok = ht.Get(ustr.Ustr("name"))
	require.True(t, ok)
	require.Equal(t, "ustr", v)
}

func TestElems(t *testing.T) {
	ht := MkHash(64)
	for i := 0; i < 50; i++ {
		ht.Set(fmt.Sprintf("k%d", i), i)
	}
	require.Len(t, ht.Elems(), 50)
	require.Equal(t, 50, ht.Size())
}

func TestManyCollisions(t *testing.T) {
	// a small table forces every bucket to chain
	ht := MkHash(2)
	for i := 0; i < 200; i++ {
		ht.Set(i, i*i)
	}
	for i := 0; i < 200; i++ {
		v, ok := ht.Get(i)
		require.True(t, ok)
		require.Equal(t, i*i, v)
	}
}
