package circbuf

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"cheviot/src/defs"
	"cheviot/src/mem"
)

func TestMain(m *testing.M) {
	mem.Phys_init(512)
	os.Exit(m.Run())
}

// sliceUio is a minimal in-test Userio_i over a byte slice.
type sliceUio struct {
	b   []uint8
	off int
}

func (u *sliceUio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, u.b[u.off:])
	u.off += n
	return n, 0
}
func (u *sliceUio) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(u.b[u.off:], src)
	u.off += n
	return n, 0
}
func (u *sliceUio) Remain() int  { return len(u.b) - u.off }
func (u *sliceUio) Totalsz() int { return len(u.b) }

func TestCopyinCopyout(t *testing.T) {
	var cb Circbuf_t
	require.Equal(t, defs.Err_t(0), cb.Cb_init(64, mem.Physmem))

	src := &sliceUio{b: []uint8("hello circular world")}
	n, err := cb.Copyin(src)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 20, n)
	require.Equal(t, 20, cb.Used())

	out := make([]uint8, 20)
	dst := &sliceUio{b: out}
	n, err = cb.Copyout(dst)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 20, n)
	require.Equal(t, "hello circular world", string(out))
	require.True(t, cb.Empty())
}

func TestWraparound(t *testing.T) {
	var cb Circbuf_t
	require.Equal(t, defs.Err_t(0), cb.Cb_init(8, mem.Physmem))

	// fill, drain 5, refill: head/tail wrap the 8-byte ring
	cb.Copyin(&sliceUio{b: []uint8("abcdefgh")})
	out := make([]uint8, 5)
	cb.Copyout_n(&sliceUio{b: out}, 5)
	require.Equal(t, "abcde", string(out))

	n, err := cb.Copyin(&sliceUio{b: []uint8("12345")})
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 5, n)
	require.True(t, cb.Full())

	all := make([]uint8, 8)
	n, err = cb.Copyout(&sliceUio{b: all})
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 8, n)
	require.Equal(t, "fgh12345", string(all))
}

func TestFullStopsCopyin(t *testing.T) {
	var cb Circbuf_t
	require.Equal(t, defs.Err_t(0), cb.Cb_init(4, mem.Physmem))

	n, _ := cb.Copyin(&sliceUio{b: []uint8("abcdef")})
	require.Equal(t, 4, n)
	n, _ = cb.Copyin(&sliceUio{b: []uint8("xyz")})
	require.Equal(t, 0, n)
	require.Equal(t, 0, cb.Left())
}
