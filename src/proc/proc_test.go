package proc

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"cheviot/src/defs"
	"cheviot/src/fd"
	"cheviot/src/fdops"
	"cheviot/src/mem"
)

func TestMain(m *testing.M) {
	mem.Phys_init(8192)
	os.Exit(m.Run())
}

// nopfops_t is a minimal open-file stub counting opens/closes.
type nopfops_t struct {
	opens  int
	closes int
}

func (n *nopfops_t) Close() defs.Err_t  { n.closes++; return 0 }
func (n *nopfops_t) Reopen() defs.Err_t { n.opens++; return 0 }
func (n *nopfops_t) Fstat(fdops.Stater) defs.Err_t             { return 0 }
func (n *nopfops_t) Lseek(int, int) (int, defs.Err_t)          { return 0, 0 }
func (n *nopfops_t) Mmap(int, int, int) (uint, defs.Err_t)     { return 0, -defs.ENOSYS }
func (n *nopfops_t) Pathi() interface{}                        { return nil }
func (n *nopfops_t) Read(fdops.Userio_i) (int, defs.Err_t)     { return 0, 0 }
func (n *nopfops_t) Unlink(string) defs.Err_t                  { return -defs.ENOSYS }
func (n *nopfops_t) Write(fdops.Userio_i) (int, defs.Err_t)    { return 0, 0 }
func (n *nopfops_t) Fullpath() (string, defs.Err_t)            { return "", 0 }
func (n *nopfops_t) Truncate(uint) defs.Err_t                  { return 0 }
func (n *nopfops_t) Pread(fdops.Userio_i, int) (int, defs.Err_t) { return 0, 0 }
func (n *nopfops_t) Pwrite(fdops.Userio_i, int) (int, defs.Err_t) {
	return 0, 0
}
func (n *nopfops_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return fdops.Ready_t{}, 0
}

func TestFdAllocLowestFree(t *testing.T) {
	p := MkProc(1, "t")
	a, err := p.Fd_new(&nopfops_t{}, 0, 0)
	require.Equal(t, defs.Err_t(0), err)
	b, _ := p.Fd_new(&nopfops_t{}, 0, 0)
	c, _ := p.Fd_new(&nopfops_t{}, 0, 0)
	require.Equal(t, []int{0, 1, 2}, []int{a, b, c})

	require.Equal(t, defs.Err_t(0), p.Close(b))
	again, _ := p.Fd_new(&nopfops_t{}, 0, 0)
	require.Equal(t, 1, again, "freed slot is reused lowest-first")
}

func TestFdTableFullIsEMFILE(t *testing.T) {
	p := MkProc(1, "t")
	for i := 0; i < NPROC_FD; i++ {
		_, err := p.Fd_new(&nopfops_t{}, 0, 0)
		require.Equal(t, defs.Err_t(0), err)
	}
	_, err := p.Fd_new(&nopfops_t{}, 0, 0)
	require.Equal(t, defs.Err_t(-defs.EMFILE), err)
}

func TestDupSharesDescription(t *testing.T) {
	p := MkProc(1, "t")
	fo := &nopfops_t{}
	fdn, _ := p.Fd_new(fo, fd.FD_READ, 0)
	dup, err := p.Dup(fdn, 0)
	require.Equal(t, defs.Err_t(0), err)
	require.NotEqual(t, fdn, dup)
	require.Equal(t, 1, fo.opens)

	require.Equal(t, defs.Err_t(0), p.Close(fdn))
	require.Equal(t, defs.Err_t(0), p.Close(dup))
	require.Equal(t, 2, fo.closes)
}

func TestDup2ClosesTarget(t *testing.T) {
	p := MkProc(1, "t")
	src := &nopfops_t{}
	victim := &nopfops_t{}
	a, _ := p.Fd_new(src, 0, 0)
	b, _ := p.Fd_new(victim, 0, 0)

	n, err := p.Dup2(a, b)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, b, n)
	require.Equal(t, 1, victim.closes, "dup2 closes a live newfd")

	// dup2 onto itself is a no-op
	n, err = p.Dup2(a, a)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, a, n)
}

func TestFcntlCloexec(t *testing.T) {
	p := MkProc(1, "t")
	fo := &nopfops_t{}
	fdn, _ := p.Fd_new(fo, 0, 0)

	v, err := p.Fcntl(fdn, defs.F_GETFD, 0)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 0, v)

	p.Fcntl(fdn, defs.F_SETFD, 1)
	v, _ = p.Fcntl(fdn, defs.F_GETFD, 0)
	require.Equal(t, 1, v)

	p.CloexecSweep()
	require.Nil(t, p.Fd_get(fdn))
	require.Equal(t, 1, fo.closes)
}

func TestFcntlDupfdFloor(t *testing.T) {
	p := MkProc(1, "t")
	fdn, _ := p.Fd_new(&nopfops_t{}, 0, 0)
	n, err := p.Fcntl(fdn, defs.F_DUPFD, 10)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 10, n)
}

func TestForkCopiesFdTable(t *testing.T) {
	p := MkProc(1, "t")
	fo := &nopfops_t{}
	fdn, _ := p.Fd_new(fo, fd.FD_READ, 0)

	child, err := p.Fork(2)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 1, fo.opens, "fork bumps each description's share count")
	require.NotNil(t, child.Fd_get(fdn))

	// closing in the child leaves the parent's descriptor alive
	require.Equal(t, defs.Err_t(0), child.Close(fdn))
	require.NotNil(t, p.Fd_get(fdn))
}

func TestExitWaitpid(t *testing.T) {
	p := MkProc(1, "t")
	child, _ := p.Fork(2)

	// nohang with a live child reports nothing yet
	pid, _, err := p.Waitpid(-1, true)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, defs.Pid_t(0), pid)

	go child.Exit(3)
	pid, st, err := p.Waitpid(-1, false)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, defs.Pid_t(2), pid)
	require.Equal(t, 3, st)

	// reaped: nothing left to wait for
	_, _, err = p.Waitpid(-1, true)
	require.Equal(t, defs.Err_t(-defs.ECHILD), err)
}

func TestSignalMaskAndPending(t *testing.T) {
	p := MkProc(1, "t")
	_, err := p.Sigprocmask(1, 1<<uint(defs.SIGTERM))
	require.Equal(t, defs.Err_t(0), err)

	p.SignalRaise(defs.SIGTERM)
	require.Equal(t, 0, p.SigPendingTake(), "blocked signal stays pending")

	p.Sigprocmask(2, 1<<uint(defs.SIGTERM))
	require.Equal(t, defs.SIGTERM, p.SigPendingTake())
	require.Equal(t, 0, p.SigPendingTake())
}

func TestSigactionRejectsKill(t *testing.T) {
	p := MkProc(1, "t")
	_, err := p.Sigaction(defs.SIGKILL, &Sigaction_t{Handler: 1})
	require.Equal(t, defs.Err_t(-defs.EINVAL), err)

	old, err := p.Sigaction(defs.SIGTERM, &Sigaction_t{Handler: 7, Flags: defs.SA_RESTART})
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, uint(0), old.Handler)
	cur, _ := p.Sigaction(defs.SIGTERM, nil)
	require.Equal(t, uint(7), cur.Handler)
}
