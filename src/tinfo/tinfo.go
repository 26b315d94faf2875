// Package tinfo tracks per-kernel-thread bookkeeping: liveness, kill
// requests, and the error a killed thread should wake up with.
//
// The teacher stashes the current thread's note in a goroutine-local slot
// via a patched runtime (runtime.Gptr/Setgptr). Design note §9 of this
// spec calls that kind of implicit singleton out directly: "global kernel
// state... becomes an explicit KernelContext passed to every subsystem".
// Every caller here receives its own *Tnote_t explicitly (as a field of
// proc.Proc_t) instead of fishing it out of goroutine-local state, so this
// package carries no global "current thread" registry.
package tinfo

import "sync"

import "cheviot/src/defs"

/// Tnote_t stores per-thread state consulted by the scheduler and by
/// signal/timeout delivery.
type Tnote_t struct {
	Alive    bool
	Killed   bool
	Isdoomed bool
	// protects Killed, Killnaps.Cond, and Kerr; a leaf lock
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

/// MkTnote allocates a live, non-doomed thread note.
func MkTnote() *Tnote_t {
	t := &Tnote_t{Alive: true}
	t.Killnaps.Killch = make(chan bool, 1)
	t.Killnaps.Cond = sync.NewCond(t)
	return t
}

/// Doomed reports whether the thread is marked as doomed.
func (t *Tnote_t) Doomed() bool {
	t.Lock()
	defer t.Unlock()
	return t.Isdoomed
}

/// Kill requests that the thread unwind at its next cancellation point,
/// recording err as the reason a blocked syscall should return (spec §5's
/// Cancellation paragraph — EINTR on a signaled in-flight send).
func (t *Tnote_t) Kill(err defs.Err_t) {
	t.Lock()
	t.Killed = true
	t.Killnaps.Kerr = err
	t.Killnaps.Cond.Broadcast()
	select {
	case t.Killnaps.Killch <- true:
	default:
	}
	t.Unlock()
}

/// IsKilled reports whether a kill is pending and the error to return.
func (t *Tnote_t) IsKilled() (bool, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	return t.Killed, t.Killnaps.Kerr
}

/// Threadinfo_t is a system-wide table of thread notes keyed by tid, for
/// enumerating live threads. No other package in this kernel fills it;
/// each proc.Proc_t holds its own note.
type Threadinfo_t struct {
	sync.Mutex
	Notes map[defs.Tid_t]*Tnote_t
}

/// Init initializes the thread info map.
func (ti *Threadinfo_t) Init() {
	ti.Notes = make(map[defs.Tid_t]*Tnote_t)
}

/// Add registers a new thread note under tid.
func (ti *Threadinfo_t) Add(tid defs.Tid_t, tn *Tnote_t) {
	ti.Lock()
	defer ti.Unlock()
	ti.Notes[tid] = tn
}

/// Del forgets a thread note.
func (ti *Threadinfo_t) Del(tid defs.Tid_t) {
	ti.Lock()
	defer ti.Unlock()
	delete(ti.Notes, tid)
}

/// Get returns the thread note for tid, if any.
func (ti *Threadinfo_t) Get(tid defs.Tid_t) (*Tnote_t, bool) {
	ti.Lock()
	defer ti.Unlock()
	tn, ok := ti.Notes[tid]
	return tn, ok
}
