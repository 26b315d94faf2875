package vm

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"cheviot/src/defs"
	"cheviot/src/mem"
)

func TestMain(m *testing.M) {
	mem.Phys_init(4096)
	os.Exit(m.Run())
}

func mkAs(t *testing.T) *Vm_t {
	as := MkVm()
	as.Vmadd_anon(USERMIN, 16*mem.PGSIZE, PTE_U|PTE_W)
	return as
}

func TestReadWriteUserMemory(t *testing.T) {
	as := mkAs(t)
	msg := []uint8("user memory contents")
	require.Equal(t, defs.Err_t(0), as.K2user(msg, USERMIN+100))

	got := make([]uint8, len(msg))
	require.Equal(t, defs.Err_t(0), as.User2k(got, USERMIN+100))
	require.Equal(t, msg, got)
}

func TestFaultOutsideMappingIsEFAULT(t *testing.T) {
	as := mkAs(t)
	err := as.K2user([]uint8("x"), USERMIN+64*mem.PGSIZE)
	require.Equal(t, defs.Err_t(-defs.EFAULT), err)
	require.Equal(t, defs.Err_t(-defs.EFAULT), as.Pgfault(0, uintptr(USERMIN+64*mem.PGSIZE), PTE_U))
}

func TestWriteToReadonlyIsEFAULT(t *testing.T) {
	as := MkVm()
	as.Vmadd_anon(USERMIN, mem.PGSIZE, PTE_U)
	require.Equal(t, defs.Err_t(-defs.EFAULT), as.K2user([]uint8("x"), USERMIN))
}

// spec property 7: the child reads equal the parent's at the moment of
// fork; afterwards no written byte crosses between them.
func TestForkCopyOnWrite(t *testing.T) {
	parent := mkAs(t)
	orig := []uint8("shared before fork")
	require.Equal(t, defs.Err_t(0), parent.K2user(orig, USERMIN))

	child := parent.Fork()

	got := make([]uint8, len(orig))
	require.Equal(t, defs.Err_t(0), child.User2k(got, USERMIN))
	require.Equal(t, orig, got)

	// child writes; parent must not see it
	require.Equal(t, defs.Err_t(0), child.K2user([]uint8("CHILD"), USERMIN))
	require.Equal(t, defs.Err_t(0), parent.User2k(got, USERMIN))
	require.Equal(t, orig, got)

	// parent writes; child must not see it
	require.Equal(t, defs.Err_t(0), parent.K2user([]uint8("PARENT"), USERMIN+8))
	require.Equal(t, defs.Err_t(0), child.User2k(got, USERMIN))
	require.Equal(t, []uint8("CHILDd before fork"), got)
}

func TestForkRefcounts(t *testing.T) {
	parent := mkAs(t)
	require.Equal(t, defs.Err_t(0), parent.K2user([]uint8("x"), USERMIN))

	parent.Lock_pmap()
	pte, ok := parent.Pmap.Lookup(uintptr(USERMIN))
	parent.Unlock_pmap()
	require.True(t, ok)
	before := mem.Physmem.Refcnt(pte.Page)

	child := parent.Fork()
	require.Equal(t, before+1, mem.Physmem.Refcnt(pte.Page))

	child.Lock_pmap()
	child.Uvmfree()
	child.Unlock_pmap()
	require.Equal(t, before, mem.Physmem.Refcnt(pte.Page))
}

func TestUserbuf(t *testing.T) {
	as := mkAs(t)
	require.Equal(t, defs.Err_t(0), as.K2user([]uint8("0123456789"), USERMIN))

	ub := as.Mkuserbuf(USERMIN, 10)
	dst := make([]uint8, 4)
	n, err := ub.Uioread(dst)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 4, n)
	require.Equal(t, "0123", string(dst))
	require.Equal(t, 6, ub.Remain())

	n, err = ub.Uiowrite([]uint8("XY"))
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 2, n)

	got := make([]uint8, 10)
	require.Equal(t, defs.Err_t(0), as.User2k(got, USERMIN))
	require.Equal(t, "0123XY6789", string(got))
}

func TestUserstr(t *testing.T) {
	as := mkAs(t)
	require.Equal(t, defs.Err_t(0), as.K2user(append([]uint8("a string"), 0), USERMIN+5))
	s, err := as.Userstr(USERMIN+5, 64)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, "a string", s.String())
}

func TestFakeubuf(t *testing.T) {
	var fb Fakeubuf_t
	fb.Fake_init([]uint8("kernel buffer"))
	dst := make([]uint8, 6)
	n, err := fb.Uioread(dst)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 6, n)
	require.Equal(t, "kernel", string(dst))
	require.Equal(t, 7, fb.Remain())
}

func TestUseriovec(t *testing.T) {
	as := mkAs(t)
	// two data buffers and an iovec array describing them, all in user
	// memory
	bufA, bufB := USERMIN+0x100, USERMIN+0x300
	iovArr := USERMIN + 0x500
	require.Equal(t, defs.Err_t(0), as.Userwriten(iovArr, 8, bufA))
	require.Equal(t, defs.Err_t(0), as.Userwriten(iovArr+8, 8, 4))
	require.Equal(t, defs.Err_t(0), as.Userwriten(iovArr+16, 8, bufB))
	require.Equal(t, defs.Err_t(0), as.Userwriten(iovArr+24, 8, 4))

	var iov Useriovec_t
	require.Equal(t, defs.Err_t(0), iov.Iov_init(as, uint(iovArr), 2))
	require.Equal(t, 8, iov.Totalsz())

	n, err := iov.Uiowrite([]uint8("abcdwxyz"))
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 8, n)

	got := make([]uint8, 4)
	require.Equal(t, defs.Err_t(0), as.User2k(got, bufA))
	require.Equal(t, "abcd", string(got))
	require.Equal(t, defs.Err_t(0), as.User2k(got, bufB))
	require.Equal(t, "wxyz", string(got))
}

func TestUnmapAndRefault(t *testing.T) {
	as := mkAs(t)
	require.Equal(t, defs.Err_t(0), as.K2user([]uint8("z"), USERMIN))
	require.Equal(t, defs.Err_t(0), as.Unmap(USERMIN, 16*mem.PGSIZE))
	// fully unmapped: access faults
	require.Equal(t, defs.Err_t(-defs.EFAULT), as.K2user([]uint8("x"), USERMIN))
}

func TestProtectDropsWrite(t *testing.T) {
	as := mkAs(t)
	require.Equal(t, defs.Err_t(0), as.K2user([]uint8("w"), USERMIN))
	require.Equal(t, defs.Err_t(0), as.Protect(USERMIN, 16*mem.PGSIZE, PTE_U))
	require.Equal(t, defs.Err_t(-defs.EFAULT), as.K2user([]uint8("x"), USERMIN))

	// reads still work
	got := make([]uint8, 1)
	require.Equal(t, defs.Err_t(0), as.User2k(got, USERMIN))
	require.Equal(t, "w", string(got))
}
