// Anonymous pipes (spec §3's Pipe, §8 scenario 2): a ring buffer with
// reader/writer counts attached to an anonymous v-node of type I_FIFO.
// The ring itself is the teacher's circbuf; the blocking discipline
// (sleep on the pipe's rendez until space/bytes appear, EOF at zero
// writers, EPIPE at zero readers) follows the teacher's pipe fops.
package fs

import (
	"sync"

	"cheviot/src/circbuf"
	"cheviot/src/defs"
	"cheviot/src/fdops"
	"cheviot/src/kqueue"
	"cheviot/src/limits"
	"cheviot/src/mem"
	"cheviot/src/res"
)

/// PIPESZ is the ring capacity; one page, as the teacher sizes it.
const PIPESZ = mem.PGSIZE

/// Pipe_t is the shared state behind both ends of a pipe.
type Pipe_t struct {
	kqueue.NoteList_t

	mu     sync.Mutex
	rendez res.Rendez_t
	cb     circbuf.Circbuf_t

	readers int
	writers int
	closed  bool
}

/// MkPipe allocates a pipe with one reader and one writer end open.
func MkPipe() (*Pipe_t, defs.Err_t) {
	if !limits.Syslimit.Pipes.Take() {
		return nil, -defs.ENFILE
	}
	p := &Pipe_t{readers: 1, writers: 1}
	p.rendez.Init()
	if err := p.cb.Cb_init(PIPESZ, mem.Physmem); err != 0 {
		return nil, err
	}
	return p, 0
}

/// Read copies buffered bytes to dst, blocking while the pipe is empty
/// and a writer remains; zero writers and an empty ring is EOF.
func (p *Pipe_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	for {
		g := p.rendez.Gen()
		p.mu.Lock()
		if !p.cb.Empty() {
			n, err := p.cb.Copyout_n(dst, dst.Remain())
			p.mu.Unlock()
			p.rendez.WakeupAll()
			p.Fire(int64(n))
			return n, err
		}
		if p.writers == 0 {
			p.mu.Unlock()
			return 0, 0
		}
		p.mu.Unlock()
		p.rendez.SleepOn(g)
	}
}

/// Write copies src into the ring, blocking while full; writing with no
/// reader left fails with EPIPE (the caller's signal delivery turns that
/// into SIGPIPE).
func (p *Pipe_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	total := 0
	for src.Remain() > 0 {
		g := p.rendez.Gen()
		p.mu.Lock()
		if p.readers == 0 {
			p.mu.Unlock()
			if total > 0 {
				return total, 0
			}
			return 0, -defs.EPIPE
		}
		if p.cb.Left() == 0 {
			p.mu.Unlock()
			p.rendez.SleepOn(g)
			continue
		}
		n, err := p.cb.Copyin(src)
		p.mu.Unlock()
		total += n
		p.rendez.WakeupAll()
		p.Fire(int64(n))
		if err != 0 {
			return total, err
		}
	}
	return total, 0
}

// endClose drops one end; the last end of either kind wakes all sleepers
// so blocked peers observe EOF/EPIPE.
func (p *Pipe_t) endClose(writer bool) {
	p.mu.Lock()
	if writer {
		p.writers--
	} else {
		p.readers--
	}
	done := p.readers == 0 && p.writers == 0
	if done && !p.closed {
		p.closed = true
		p.cb.Cb_release()
		limits.Syslimit.Pipes.Give()
	}
	p.mu.Unlock()
	p.rendez.WakeupAll()
	p.Fire(0)
}

func (p *Pipe_t) endReopen(writer bool) {
	p.mu.Lock()
	if writer {
		p.writers++
	} else {
		p.readers++
	}
	p.mu.Unlock()
}

/// Poll reports pipe readiness for the given end-agnostic request.
func (p *Pipe_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ev int
	if !p.cb.Empty() || p.writers == 0 {
		ev |= fdops.R_READ
	}
	if p.cb.Left() > 0 || p.readers == 0 {
		ev |= fdops.R_WRITE
	}
	return fdops.Ready_t{Events: ev & pm.Events}, 0
}

// Readable reports whether a read would not block, the kqueue
// EVFILT_READ initial-readiness predicate (spec §9's registration race).
func (p *Pipe_t) Readable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.cb.Empty() || p.writers == 0
}

/// Pipefops_t is one end of a pipe as an Fdops_i.
type Pipefops_t struct {
	Pipe   *Pipe_t
	Writer bool

	mu    sync.Mutex
	count int
}

/// MkPipefops wraps one end of p.
func MkPipefops(p *Pipe_t, writer bool) *Pipefops_t {
	return &Pipefops_t{Pipe: p, Writer: writer, count: 1}
}

func (pf *Pipefops_t) Close() defs.Err_t {
	pf.mu.Lock()
	pf.count--
	last := pf.count == 0
	pf.mu.Unlock()
	if last {
		pf.Pipe.endClose(pf.Writer)
	}
	return 0
}

func (pf *Pipefops_t) Reopen() defs.Err_t {
	pf.mu.Lock()
	pf.count++
	pf.mu.Unlock()
	pf.Pipe.endReopen(pf.Writer)
	return 0
}

func (pf *Pipefops_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	if pf.Writer {
		return 0, -defs.EBADF
	}
	return pf.Pipe.Read(dst)
}

func (pf *Pipefops_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	if !pf.Writer {
		return 0, -defs.EBADF
	}
	return pf.Pipe.Write(src)
}

func (pf *Pipefops_t) Fstat(st fdops.Stater) defs.Err_t {
	st.Wmode(defs.Mkmode(defs.I_FIFO, 0600))
	st.Wnlink(1)
	return 0
}

func (pf *Pipefops_t) Lseek(int, int) (int, defs.Err_t) { return 0, -defs.EINVAL }

func (pf *Pipefops_t) Mmap(int, int, int) (uint, defs.Err_t) { return 0, -defs.ENOSYS }

func (pf *Pipefops_t) Pathi() interface{} { return nil }

func (pf *Pipefops_t) Fullpath() (string, defs.Err_t) { return "", -defs.EINVAL }

func (pf *Pipefops_t) Truncate(uint) defs.Err_t { return -defs.EINVAL }

func (pf *Pipefops_t) Pread(fdops.Userio_i, int) (int, defs.Err_t) { return 0, -defs.EINVAL }

func (pf *Pipefops_t) Pwrite(fdops.Userio_i, int) (int, defs.Err_t) { return 0, -defs.EINVAL }

func (pf *Pipefops_t) Unlink(string) defs.Err_t { return -defs.ENOSYS }

func (pf *Pipefops_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return pf.Pipe.Poll(pm)
}
