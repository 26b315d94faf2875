// Event syscalls: kqueue/kevent over the knote machinery, poll on top
// of the per-descriptor readiness probes, the timer handles of
// create_timer/set_timer, and create_interrupt's IRQ handles (spec §4.6,
// §4.3, §6).
package sys

import (
	"sync"
	"time"

	"cheviot/src/defs"
	"cheviot/src/fd"
	"cheviot/src/fdops"
	"cheviot/src/fs"
	"cheviot/src/irq"
	"cheviot/src/kqueue"
	"cheviot/src/proc"
	"cheviot/src/timer"
)

/// Kev_t is one kevent changelist/eventlist record at the syscall
/// boundary: the watched descriptor, the filter, and the control flags.
type Kev_t struct {
	Ident  int
	Filter kqueue.Filt_t
	Flags  int
	Data   int64
}

/// kqfops_t wraps a KQueue_t as a descriptor.
type kqfops_t struct {
	kq *kqueue.KQueue_t
}

func (kf *kqfops_t) Close() defs.Err_t { kf.kq.Close(); return 0 }
func (kf *kqfops_t) Reopen() defs.Err_t { return 0 }
func (kf *kqfops_t) Read(fdops.Userio_i) (int, defs.Err_t)  { return 0, -defs.EINVAL }
func (kf *kqfops_t) Write(fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (kf *kqfops_t) Fstat(st fdops.Stater) defs.Err_t       { return -defs.EINVAL }
func (kf *kqfops_t) Lseek(int, int) (int, defs.Err_t)       { return 0, -defs.EINVAL }
func (kf *kqfops_t) Mmap(int, int, int) (uint, defs.Err_t)  { return 0, -defs.ENOSYS }
func (kf *kqfops_t) Pathi() interface{}                     { return nil }
func (kf *kqfops_t) Fullpath() (string, defs.Err_t)         { return "", -defs.EINVAL }
func (kf *kqfops_t) Truncate(uint) defs.Err_t               { return -defs.EINVAL }
func (kf *kqfops_t) Pread(fdops.Userio_i, int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (kf *kqfops_t) Pwrite(fdops.Userio_i, int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (kf *kqfops_t) Unlink(string) defs.Err_t { return -defs.ENOSYS }
func (kf *kqfops_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return fdops.Ready_t{}, 0
}

/// Kqueue allocates an event queue descriptor (spec §4.6).
func (k *Kernel_t) Kqueue(p *proc.Proc_t) (int, defs.Err_t) {
	return p.Fd_new(&kqfops_t{kq: kqueue.MkKQueue()}, fd.FD_READ, 0)
}

// watchTarget maps a changelist record to the object's note list and its
// current readiness, the predicate that closes the registration race
// (spec §9: a filter added for an already-ready object must raise an
// initial event).
func (k *Kernel_t) watchTarget(p *proc.Proc_t, kev Kev_t) (*kqueue.NoteList_t, bool, defs.Err_t) {
	switch kev.Filter {
	case kqueue.EVFILT_IRQ:
		h := irqHandlerFor(irq.Vec_t(kev.Ident))
		if h == nil {
			return nil, false, -defs.EINVAL
		}
		return &h.NoteList_t, h.Pending(), 0
	case kqueue.EVFILT_TIMER:
		f := p.Fd_get(kev.Ident)
		if f == nil {
			return nil, false, -defs.EBADF
		}
		tf, ok := f.Fops.(*timerfops_t)
		if !ok {
			return nil, false, -defs.EINVAL
		}
		return &tf.NoteList_t, tf.Fired(), 0
	}

	f := p.Fd_get(kev.Ident)
	if f == nil {
		return nil, false, -defs.EBADF
	}
	switch fo := f.Fops.(type) {
	case *portfops_t:
		return &fo.mnt.Sb.Port.NoteList_t, fo.mnt.Sb.Port.Pending(), 0
	case *fs.Pipefops_t:
		ready := false
		if kev.Filter == kqueue.EVFILT_READ {
			ready = fo.Pipe.Readable()
		}
		return &fo.Pipe.NoteList_t, ready, 0
	case *fs.Fsfops_t:
		v := fo.Vnode()
		ready := kev.Filter == kqueue.EVFILT_READ || kev.Filter == kqueue.EVFILT_WRITE
		if kev.Filter == kqueue.EVFILT_VNODE {
			ready = false
		}
		return &v.NoteList_t, ready, 0
	default:
		return nil, false, -defs.EINVAL
	}
}

/// Kevent applies the changelist, then drains up to max ready events,
/// blocking per timeout (zero polls, negative blocks indefinitely, spec
/// §4.6).
func (k *Kernel_t) Kevent(p *proc.Proc_t, kqfd int, changes []Kev_t, max int, timeout time.Duration) ([]Kev_t, defs.Err_t) {
	f := p.Fd_get(kqfd)
	if f == nil {
		return nil, -defs.EBADF
	}
	kf, ok := f.Fops.(*kqfops_t)
	if !ok {
		return nil, -defs.EBADF
	}

	for _, c := range changes {
		if c.Flags&kqueue.EV_ADD == 0 {
			continue
		}
		nl, ready, err := k.watchTarget(p, c)
		if err != 0 {
			return nil, err
		}
		kf.kq.Register(nl, c.Ident, c.Filter, c.Flags, ready)
	}

	if max <= 0 {
		return nil, 0
	}
	notes := kf.kq.Kevent(max, timeout, func(kn *kqueue.KNote_t) {})
	out := make([]Kev_t, 0, len(notes))
	for _, kn := range notes {
		ident, _ := kn.Ident.(int)
		out = append(out, Kev_t{Ident: ident, Filter: kn.Filt, Flags: kn.Flags, Data: kn.Data})
	}
	return out, 0
}

/// Poll probes each descriptor's readiness, sleeping in short slices
/// until something is ready or the timeout elapses (zero polls once,
/// negative blocks until ready).
func (k *Kernel_t) Poll(p *proc.Proc_t, fds []int, events []int, timeout time.Duration) ([]int, defs.Err_t) {
	if len(fds) != len(events) {
		return nil, -defs.EINVAL
	}
	deadline := time.Now().Add(timeout)
	for {
		out := make([]int, len(fds))
		any := false
		for i, fdn := range fds {
			f := p.Fd_get(fdn)
			if f == nil {
				return nil, -defs.EBADF
			}
			r, err := f.Fops.Poll(fdops.Pollmsg_t{Events: events[i]})
			if err != 0 {
				return nil, err
			}
			out[i] = r.Events
			if r.Events != 0 {
				any = true
			}
		}
		if any || timeout == 0 {
			return out, 0
		}
		if timeout > 0 && time.Now().After(deadline) {
			return out, 0
		}
		time.Sleep(time.Millisecond)
	}
}

/// timerfops_t is a create_timer handle: arming it schedules a wheel
/// timer; firing raises EVFILT_TIMER on watchers exactly once per arming
/// (spec §4.3's contract).
type timerfops_t struct {
	kqueue.NoteList_t

	k     *Kernel_t
	mu    sync.Mutex
	fired bool
	armed bool
}

func mkTimerfops(k *Kernel_t) *timerfops_t {
	return &timerfops_t{k: k}
}

/// Fire implements timer.Timeout_i.
func (tf *timerfops_t) Fire() {
	tf.mu.Lock()
	tf.fired = true
	tf.armed = false
	tf.mu.Unlock()
	tf.NoteList_t.Fire(1)
}

func (tf *timerfops_t) Fired() bool {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	return tf.fired
}

func (tf *timerfops_t) Close() defs.Err_t  { return 0 }
func (tf *timerfops_t) Reopen() defs.Err_t { return 0 }
func (tf *timerfops_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	tf.mu.Lock()
	f := tf.fired
	tf.fired = false
	tf.mu.Unlock()
	if !f {
		return 0, -defs.EAGAIN
	}
	n, err := dst.Uiowrite([]byte{1})
	return n, err
}
func (tf *timerfops_t) Write(fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (tf *timerfops_t) Fstat(fdops.Stater) defs.Err_t          { return -defs.EINVAL }
func (tf *timerfops_t) Lseek(int, int) (int, defs.Err_t)       { return 0, -defs.EINVAL }
func (tf *timerfops_t) Mmap(int, int, int) (uint, defs.Err_t)  { return 0, -defs.ENOSYS }
func (tf *timerfops_t) Pathi() interface{}                     { return nil }
func (tf *timerfops_t) Fullpath() (string, defs.Err_t)         { return "", -defs.EINVAL }
func (tf *timerfops_t) Truncate(uint) defs.Err_t               { return -defs.EINVAL }
func (tf *timerfops_t) Pread(fdops.Userio_i, int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (tf *timerfops_t) Pwrite(fdops.Userio_i, int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (tf *timerfops_t) Unlink(string) defs.Err_t { return -defs.ENOSYS }
func (tf *timerfops_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	var ev int
	if tf.Fired() {
		ev = fdops.R_READ
	}
	return fdops.Ready_t{Events: ev & pm.Events}, 0
}

/// CreateTimer allocates a timer handle (spec §6's create_timer).
func (k *Kernel_t) CreateTimer(p *proc.Proc_t) (int, defs.Err_t) {
	return p.Fd_new(mkTimerfops(k), fd.FD_READ, 0)
}

/// SetTimer arms fdn's timer: relative after d, or absolute at wheel
/// second sec when absolute is set (spec §4.3's two timer kinds).
func (k *Kernel_t) SetTimer(p *proc.Proc_t, fdn int, d time.Duration, absolute bool, sec int64) defs.Err_t {
	f := p.Fd_get(fdn)
	if f == nil {
		return -defs.EBADF
	}
	tf, ok := f.Fops.(*timerfops_t)
	if !ok {
		return -defs.EINVAL
	}
	tf.mu.Lock()
	tf.fired = false
	tf.armed = true
	tf.mu.Unlock()
	if absolute {
		k.Wheel.ArmAbsolute(sec, tf)
	} else {
		k.Wheel.ArmRelative(d, tf)
	}
	return 0
}

/// GetSystemTime returns the wheel's (seconds, jiffy) pair (spec §6).
func (k *Kernel_t) GetSystemTime() (int64, timer.Jiffy_t) {
	return k.Wheel.Now()
}

/// irqfops_t is a create_interrupt handle: a knote-able object fed by
/// the irq package's delivery.
type irqfops_t struct {
	kqueue.NoteList_t

	vec     irq.Vec_t
	pending chan struct{}
}

var irqHandlersLock sync.Mutex
var irqHandlers = make(map[irq.Vec_t]*irqfops_t)

func irqHandlerFor(v irq.Vec_t) *irqfops_t {
	irqHandlersLock.Lock()
	defer irqHandlersLock.Unlock()
	return irqHandlers[v]
}

func (ih *irqfops_t) Pending() bool {
	return len(ih.pending) > 0
}

/// CreateInterrupt allocates an interrupt vector and a handle whose
/// EVFILT_IRQ knotes fire on delivery (spec §6's create_interrupt).
func (k *Kernel_t) CreateInterrupt(p *proc.Proc_t) (int, irq.Vec_t, defs.Err_t) {
	vec := irq.Alloc()
	ih := &irqfops_t{vec: vec, pending: make(chan struct{}, 1)}
	ch := irq.Subscribe(vec)
	go func() {
		for range ch {
			select {
			case ih.pending <- struct{}{}:
			default:
			}
			ih.NoteList_t.Fire(int64(vec))
		}
	}()
	irqHandlersLock.Lock()
	irqHandlers[vec] = ih
	irqHandlersLock.Unlock()
	fdn, err := p.Fd_new(ih, fd.FD_READ, 0)
	if err != 0 {
		return 0, 0, err
	}
	return fdn, vec, 0
}

func (ih *irqfops_t) Close() defs.Err_t  { return 0 }
func (ih *irqfops_t) Reopen() defs.Err_t { return 0 }
func (ih *irqfops_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	select {
	case <-ih.pending:
		return dst.Uiowrite([]byte{1})
	default:
		return 0, -defs.EAGAIN
	}
}
func (ih *irqfops_t) Write(fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (ih *irqfops_t) Fstat(fdops.Stater) defs.Err_t          { return -defs.EINVAL }
func (ih *irqfops_t) Lseek(int, int) (int, defs.Err_t)       { return 0, -defs.EINVAL }
func (ih *irqfops_t) Mmap(int, int, int) (uint, defs.Err_t)  { return 0, -defs.ENOSYS }
func (ih *irqfops_t) Pathi() interface{}                     { return nil }
func (ih *irqfops_t) Fullpath() (string, defs.Err_t)         { return "", -defs.EINVAL }
func (ih *irqfops_t) Truncate(uint) defs.Err_t               { return -defs.EINVAL }
func (ih *irqfops_t) Pread(fdops.Userio_i, int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (ih *irqfops_t) Pwrite(fdops.Userio_i, int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (ih *irqfops_t) Unlink(string) defs.Err_t { return -defs.ENOSYS }
func (ih *irqfops_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	var ev int
	if ih.Pending() {
		ev = fdops.R_READ
	}
	return fdops.Ready_t{Events: ev & pm.Events}, 0
}
