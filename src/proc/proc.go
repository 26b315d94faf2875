// Package proc implements processes (spec §3's Process): the per-process
// handle table with its close-on-exec bits, the current directory, the
// parent/child links waitpid walks, signal state, and the one in-flight
// message pointer synchronous IPC pins. Adapted from the teacher's
// proc.go (Proc_t with an Fds slice guarded by Fdl, Fd_insert/Fd_get/
// Fd_del/Fd_dup, and a Tnote_t per thread); narrowed to one thread per
// process, which is all this kernel's syscall surface needs.
package proc

import (
	"sync"

	"cheviot/src/accnt"
	"cheviot/src/defs"
	"cheviot/src/fd"
	"cheviot/src/fdops"
	"cheviot/src/msg"
	"cheviot/src/res"
	"cheviot/src/tinfo"
	"cheviot/src/vm"
)

/// NPROC_FD is the number of handle slots per process (spec §4.4).
const NPROC_FD = 128

/// Sigaction_t records one signal's disposition.
type Sigaction_t struct {
	Handler uint
	Mask    uint64
	Flags   uint
}

/// Proc_t is one process.
type Proc_t struct {
	Pid  defs.Pid_t
	Name string
	Vm   *vm.Vm_t

	Uid uint
	Gid uint

	// handle table (spec §4.4); Fdl guards fds and nfds
	Fdl  sync.Mutex
	fds  []*fd.Fd_t
	nfds int

	Cwd *fd.Cwd_t
	// Root, when non-nil, confines absolute path resolution (chroot)
	Root *fd.Cwd_t

	Pproc    *Proc_t
	childl   sync.Mutex
	children map[defs.Pid_t]*Proc_t

	Tnote *tinfo.Tnote_t
	Accnt *accnt.Accnt_t

	// signal state; sigl guards all three words
	sigl       sync.Mutex
	sigacts    [defs.NSIG]Sigaction_t
	Sigmask    uint64
	Sigpending uint64

	// the one in-flight synchronous IPC message (spec §3); msgl guards
	// both fields
	msgl         sync.Mutex
	inflight     *msg.Msg_t
	inflightPort *msg.Port_t

	// exit/wait handshake: parent sleeps on waitRendez until a child
	// marks itself dead and wakes it
	waitRendez res.Rendez_t
	// sigsuspend parks here; SignalRaise wakes it
	sigRendez res.Rendez_t
	Dead      bool
	Status    int

	// register state exec establishes for the return to user space
	Entry uint
	Sp    uint
}

/// MkProc allocates a process with an empty handle table and a fresh
/// address space.
func MkProc(pid defs.Pid_t, name string) *Proc_t {
	p := &Proc_t{
		Pid:      pid,
		Name:     name,
		Vm:       vm.MkVm(),
		fds:      make([]*fd.Fd_t, NPROC_FD),
		children: make(map[defs.Pid_t]*Proc_t),
		Tnote:    tinfo.MkTnote(),
		Accnt:    &accnt.Accnt_t{},
	}
	p.waitRendez.Init()
	p.sigRendez.Init()
	return p
}

/// Fd_new installs fops in the lowest free slot at or above minfd,
/// returning the handle or -EMFILE when the table is full (spec §4.4's
/// alloc_fd).
func (p *Proc_t) Fd_new(fops fdops.Fdops_i, perms int, minfd int) (int, defs.Err_t) {
	p.Fdl.Lock()
	defer p.Fdl.Unlock()
	for i := minfd; i < NPROC_FD; i++ {
		if p.fds[i] == nil {
			p.fds[i] = &fd.Fd_t{Fops: fops, Perms: perms}
			p.nfds++
			return i, 0
		}
	}
	return 0, -defs.EMFILE
}

/// Fd_get returns the descriptor behind fdn, nil if the slot is empty.
func (p *Proc_t) Fd_get(fdn int) *fd.Fd_t {
	if fdn < 0 || fdn >= NPROC_FD {
		return nil
	}
	p.Fdl.Lock()
	defer p.Fdl.Unlock()
	return p.fds[fdn]
}

/// Fd_del empties slot fdn, returning what was there.
func (p *Proc_t) Fd_del(fdn int) (*fd.Fd_t, bool) {
	if fdn < 0 || fdn >= NPROC_FD {
		return nil, false
	}
	p.Fdl.Lock()
	defer p.Fdl.Unlock()
	f := p.fds[fdn]
	if f == nil {
		return nil, false
	}
	p.fds[fdn] = nil
	p.nfds--
	return f, true
}

/// Close closes handle fdn (spec §4.4's free_fd).
func (p *Proc_t) Close(fdn int) defs.Err_t {
	f, ok := p.Fd_del(fdn)
	if !ok {
		return -defs.EBADF
	}
	return f.Fops.Close()
}

/// Dup duplicates fdn into the lowest free slot at or above minfd,
/// sharing the open file description (spec §4.4's dup; F_DUPFD passes a
/// floor). The duplicate never inherits close-on-exec.
func (p *Proc_t) Dup(fdn, minfd int) (int, defs.Err_t) {
	of := p.Fd_get(fdn)
	if of == nil {
		return 0, -defs.EBADF
	}
	nf, err := fd.Copyfd(of)
	if err != 0 {
		return 0, err
	}
	nf.Perms &^= fd.FD_CLOEXEC
	nfd, err := p.Fd_new(nf.Fops, nf.Perms, minfd)
	if err != 0 {
		nf.Fops.Close()
		return 0, err
	}
	return nfd, 0
}

/// Dup2 duplicates oldn onto newn, closing a live newn first (spec
/// §4.4's dup2).
func (p *Proc_t) Dup2(oldn, newn int) (int, defs.Err_t) {
	if newn < 0 || newn >= NPROC_FD {
		return 0, -defs.EBADF
	}
	of := p.Fd_get(oldn)
	if of == nil {
		return 0, -defs.EBADF
	}
	if oldn == newn {
		return newn, 0
	}
	nf, err := fd.Copyfd(of)
	if err != 0 {
		return 0, err
	}
	nf.Perms &^= fd.FD_CLOEXEC
	p.Fdl.Lock()
	old := p.fds[newn]
	p.fds[newn] = nf
	if old == nil {
		p.nfds++
	}
	p.Fdl.Unlock()
	if old != nil {
		old.Fops.Close()
	}
	return newn, 0
}

/// Fcntl implements F_DUPFD/F_GETFD/F_SETFD (spec §4.4).
func (p *Proc_t) Fcntl(fdn, cmd, arg int) (int, defs.Err_t) {
	switch cmd {
	case defs.F_DUPFD:
		return p.Dup(fdn, arg)
	case defs.F_GETFD:
		f := p.Fd_get(fdn)
		if f == nil {
			return 0, -defs.EBADF
		}
		if f.Perms&fd.FD_CLOEXEC != 0 {
			return 1, 0
		}
		return 0, 0
	case defs.F_SETFD:
		p.Fdl.Lock()
		defer p.Fdl.Unlock()
		if fdn < 0 || fdn >= NPROC_FD || p.fds[fdn] == nil {
			return 0, -defs.EBADF
		}
		if arg != 0 {
			p.fds[fdn].Perms |= fd.FD_CLOEXEC
		} else {
			p.fds[fdn].Perms &^= fd.FD_CLOEXEC
		}
		return 0, 0
	default:
		return 0, -defs.EINVAL
	}
}

/// CloexecSweep closes every descriptor marked close-on-exec, the sweep
/// exec performs (spec §4.4).
func (p *Proc_t) CloexecSweep() {
	var victims []*fd.Fd_t
	p.Fdl.Lock()
	for i, f := range p.fds {
		if f != nil && f.Perms&fd.FD_CLOEXEC != 0 {
			victims = append(victims, f)
			p.fds[i] = nil
			p.nfds--
		}
	}
	p.Fdl.Unlock()
	for _, f := range victims {
		f.Fops.Close()
	}
}

/// CloseAll empties the handle table, used by exit.
func (p *Proc_t) CloseAll() {
	var victims []*fd.Fd_t
	p.Fdl.Lock()
	for i, f := range p.fds {
		if f != nil {
			victims = append(victims, f)
			p.fds[i] = nil
			p.nfds--
		}
	}
	p.Fdl.Unlock()
	for _, f := range victims {
		f.Fops.Close()
	}
}

/// Fork produces a child sharing every page copy-on-write and holding a
/// duplicate of the handle table, each description's share count bumped
/// (spec §4.4: "fork copies the table and increments each Filp's
/// refcount").
func (p *Proc_t) Fork(childPid defs.Pid_t) (*Proc_t, defs.Err_t) {
	child := MkProc(childPid, p.Name)
	child.Vm = p.Vm.Fork()
	child.Uid, child.Gid = p.Uid, p.Gid
	child.Pproc = p

	p.Fdl.Lock()
	for i, f := range p.fds {
		if f == nil {
			continue
		}
		nf, err := fd.Copyfd(f)
		if err != 0 {
			p.Fdl.Unlock()
			child.CloseAll()
			return nil, err
		}
		child.fds[i] = nf
		child.nfds++
	}
	p.Fdl.Unlock()

	if p.Cwd != nil {
		cf, err := fd.Copyfd(p.Cwd.Fd)
		if err != 0 {
			child.CloseAll()
			return nil, err
		}
		child.Cwd = &fd.Cwd_t{Fd: cf, Path: append([]uint8{}, p.Cwd.Path...)}
	}

	p.sigl.Lock()
	child.sigacts = p.sigacts
	child.Sigmask = p.Sigmask
	p.sigl.Unlock()

	p.childl.Lock()
	p.children[childPid] = child
	p.childl.Unlock()
	return child, 0
}

/// Exit marks p dead with status, releases its handles and address
/// space, and wakes a parent blocked in Waitpid.
func (p *Proc_t) Exit(status int) {
	p.CloseAll()
	if p.Cwd != nil {
		p.Cwd.Fd.Fops.Close()
		p.Cwd = nil
	}
	p.Vm.Lock_pmap()
	p.Vm.Uvmfree()
	p.Vm.Unlock_pmap()
	p.Tnote.Alive = false

	p.childl.Lock()
	p.Status = status
	p.Dead = true
	p.childl.Unlock()
	if pp := p.Pproc; pp != nil {
		pp.SignalRaise(defs.SIGCHLD)
		pp.waitRendez.WakeupAll()
	}
}

/// Waitpid reaps a dead child: pid -1 means any child; it blocks until
/// one dies unless nohang. Returns the child's pid and exit status.
func (p *Proc_t) Waitpid(pid defs.Pid_t, nohang bool) (defs.Pid_t, int, defs.Err_t) {
	for {
		g := p.waitRendez.Gen()
		p.childl.Lock()
		if len(p.children) == 0 {
			p.childl.Unlock()
			return 0, 0, -defs.ECHILD
		}
		for cpid, c := range p.children {
			if pid != -1 && cpid != pid {
				continue
			}
			c.childl.Lock()
			dead := c.Dead
			st := c.Status
			c.childl.Unlock()
			if dead {
				delete(p.children, cpid)
				p.childl.Unlock()
				return cpid, st, 0
			}
		}
		p.childl.Unlock()
		if nohang {
			return 0, 0, 0
		}
		p.waitRendez.SleepOn(g)
	}
}

/// Sigaction installs a handler disposition for sig, returning the old
/// one.
func (p *Proc_t) Sigaction(sig int, act *Sigaction_t) (Sigaction_t, defs.Err_t) {
	if sig <= 0 || sig >= defs.NSIG || sig == defs.SIGKILL {
		return Sigaction_t{}, -defs.EINVAL
	}
	p.sigl.Lock()
	defer p.sigl.Unlock()
	old := p.sigacts[sig]
	if act != nil {
		p.sigacts[sig] = *act
	}
	return old, 0
}

/// Sigprocmask applies how (0=set, 1=block, 2=unblock) to the mask.
func (p *Proc_t) Sigprocmask(how int, mask uint64) (uint64, defs.Err_t) {
	p.sigl.Lock()
	defer p.sigl.Unlock()
	old := p.Sigmask
	switch how {
	case 0:
		p.Sigmask = mask
	case 1:
		p.Sigmask |= mask
	case 2:
		p.Sigmask &^= mask
	default:
		return old, -defs.EINVAL
	}
	return old, 0
}

/// SignalRaise marks sig pending and, when the signal is deliverable and
/// its action has SA_RESTART clear (or no handler at all), unwinds any
/// message still queued on a port so the blocked send returns EINTR
/// (spec §5's Cancellation clause).
func (p *Proc_t) SignalRaise(sig int) {
	if sig <= 0 || sig >= defs.NSIG {
		return
	}
	p.sigl.Lock()
	p.Sigpending |= 1 << uint(sig)
	blocked := p.Sigmask&(1<<uint(sig)) != 0 && sig != defs.SIGKILL
	restart := p.sigacts[sig].Flags&defs.SA_RESTART != 0
	p.sigl.Unlock()
	p.sigRendez.WakeupAll()
	if blocked || restart {
		return
	}

	p.msgl.Lock()
	m, port := p.inflight, p.inflightPort
	p.msgl.Unlock()
	if m != nil && port != nil {
		port.Cancel(m)
	}
	if sig == defs.SIGKILL {
		p.Tnote.Kill(-defs.EINTR)
	}
}

/// Sigsuspend installs mask and blocks until a signal not in it is
/// delivered, always returning -EINTR per POSIX.
func (p *Proc_t) Sigsuspend(mask uint64) defs.Err_t {
	p.sigl.Lock()
	old := p.Sigmask
	p.Sigmask = mask
	p.sigl.Unlock()
	for {
		g := p.sigRendez.Gen()
		if s := p.SigPendingTake(); s != 0 {
			break
		}
		p.sigRendez.SleepOn(g)
	}
	p.sigl.Lock()
	p.Sigmask = old
	p.sigl.Unlock()
	return -defs.EINTR
}

/// SigPendingTake consumes and returns the lowest pending, unblocked
/// signal, or 0.
func (p *Proc_t) SigPendingTake() int {
	p.sigl.Lock()
	defer p.sigl.Unlock()
	ready := p.Sigpending &^ p.Sigmask
	for s := 1; s < defs.NSIG; s++ {
		if ready&(1<<uint(s)) != 0 {
			p.Sigpending &^= 1 << uint(s)
			return s
		}
	}
	return 0
}

/// MsgBegin records m as p's one in-flight message before the caller
/// parks on it (spec §3's in-flight pointer); MsgEnd clears it.
func (p *Proc_t) MsgBegin(m *msg.Msg_t, port *msg.Port_t) {
	p.msgl.Lock()
	if p.inflight != nil {
		p.msgl.Unlock()
		panic("second in-flight message")
	}
	p.inflight, p.inflightPort = m, port
	p.msgl.Unlock()
}

/// MsgEnd clears the in-flight pointer after the reply (or cancel).
func (p *Proc_t) MsgEnd() {
	p.msgl.Lock()
	p.inflight, p.inflightPort = nil, nil
	p.msgl.Unlock()
}
