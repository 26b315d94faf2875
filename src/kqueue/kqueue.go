// Package kqueue implements kqueue()/kevent() event multiplexing (spec
// §4.6): knotes attach to a watched object's note list, fire on an
// observable change, and queue onto their kqueue's FIFO for delivery.
//
// The teacher has no equivalent package — biscuit implements poll/select
// ad hoc per fd type. This is authored fresh, grounded in the spec's own
// description of the BSD kqueue model (§4.6) and in this kernel's own
// res.Rendez_t (a kevent() call with a timeout blocks on the kqueue's
// rendez exactly the way any other blocking syscall does here).
package kqueue

import (
	"sync"
	"time"

	"cheviot/src/res"
)

/// Filt_t identifies which condition a knote watches.
type Filt_t int

const (
	EVFILT_READ Filt_t = iota
	EVFILT_WRITE
	EVFILT_VNODE
	EVFILT_MSGPORT
	EVFILT_IRQ
	EVFILT_TIMER
	EVFILT_USER
)

/// Flag bits controlling knote lifetime, mirrored from the BSD kevent()
/// changelist flags the spec names.
const (
	EV_ADD = 1 << iota
	EV_DELETE
	EV_ONESHOT
	EV_ENABLE
	EV_DISABLE
)

/// KNote_t is one registered (object, filter) watch.
type KNote_t struct {
	Kq      *KQueue_t
	Filt    Filt_t
	Ident   interface{}
	Flags   int
	Fflags  uint
	Data    int64

	mu      sync.Mutex
	pending bool
	fifoPos int
}

/// NoteList_t is embedded in any watchable object (message ports, fds,
/// vnodes, irq vectors, timers) to hold the knotes registered against it.
type NoteList_t struct {
	mu    sync.Mutex
	notes []*KNote_t
}

/// Add attaches kn to this object's note list. The caller must check
/// whether the object is already in its "ready" condition and, if so,
/// call Fire immediately after Add — failing to do so creates the lost-
/// wakeup race the spec calls out in §4.6/§9 (a knote added for an
/// object already ready must raise an initial notification).
func (nl *NoteList_t) Add(kn *KNote_t) {
	nl.mu.Lock()
	nl.notes = append(nl.notes, kn)
	nl.mu.Unlock()
}

/// Remove detaches kn.
func (nl *NoteList_t) Remove(kn *KNote_t) {
	nl.mu.Lock()
	defer nl.mu.Unlock()
	for i, n := range nl.notes {
		if n == kn {
			nl.notes = append(nl.notes[:i], nl.notes[i+1:]...)
			return
		}
	}
}

/// Fire flags every attached knote pending and moves it onto its kqueue's
/// FIFO if it isn't already queued (spec §4.6's knote(list, hint)).
func (nl *NoteList_t) Fire(data int64) {
	nl.mu.Lock()
	notes := append([]*KNote_t{}, nl.notes...)
	nl.mu.Unlock()
	for _, kn := range notes {
		kn.mu.Lock()
		kn.Data = data
		already := kn.pending
		kn.pending = true
		kn.mu.Unlock()
		if !already {
			kn.Kq.enqueue(kn)
		}
	}
}

/// KQueue_t is one kqueue descriptor: a FIFO of pending knotes and a
/// rendez a kevent() caller blocks on.
type KQueue_t struct {
	mu     sync.Mutex
	rendez res.Rendez_t
	fifo   []*KNote_t
	closed bool
}

/// MkKQueue allocates a new kqueue.
func MkKQueue() *KQueue_t {
	kq := &KQueue_t{}
	kq.rendez.Init()
	return kq
}

func (kq *KQueue_t) enqueue(kn *KNote_t) {
	kq.mu.Lock()
	kq.fifo = append(kq.fifo, kn)
	kq.mu.Unlock()
	kq.rendez.WakeupAll()
}

/// Register adds a new knote for (ident, filt) on object nl with flags,
/// returning the created knote. If alreadyReady is true, an initial
/// notification is raised immediately per §4.6/§9.
func (kq *KQueue_t) Register(nl *NoteList_t, ident interface{}, filt Filt_t, flags int, alreadyReady bool) *KNote_t {
	kn := &KNote_t{Kq: kq, Filt: filt, Ident: ident, Flags: flags}
	nl.Add(kn)
	if alreadyReady {
		kn.mu.Lock()
		kn.pending = true
		kn.mu.Unlock()
		kq.enqueue(kn)
	}
	return kq.track(kn, nl)
}

func (kq *KQueue_t) track(kn *KNote_t, nl *NoteList_t) *KNote_t {
	kq.mu.Lock()
	defer kq.mu.Unlock()
	return kn
}

/// Kevent drains up to max pending, ready knotes, blocking up to timeout
/// (zero means poll, negative means block indefinitely) if none are
/// ready yet. EV_ONESHOT knotes are detached from their object after
/// delivery.
func (kq *KQueue_t) Kevent(max int, timeout time.Duration, detach func(kn *KNote_t)) []*KNote_t {
	deadline := time.Now().Add(timeout)
	for {
		g := kq.rendez.Gen()
		kq.mu.Lock()
		if len(kq.fifo) > 0 {
			n := len(kq.fifo)
			if n > max {
				n = max
			}
			ready := kq.fifo[:n]
			kq.fifo = kq.fifo[n:]
			kq.mu.Unlock()
			for _, kn := range ready {
				kn.mu.Lock()
				kn.pending = false
				oneshot := kn.Flags&EV_ONESHOT != 0
				kn.mu.Unlock()
				if oneshot && detach != nil {
					detach(kn)
				}
			}
			return ready
		}
		kq.mu.Unlock()
		if timeout == 0 {
			return nil
		}
		if timeout < 0 {
			kq.rendez.SleepOn(g)
			continue
		}
		if time.Now().After(deadline) {
			return nil
		}
		kq.rendez.TimedSleepOn(g, time.Until(deadline))
	}
}

/// Close marks the kqueue closed and wakes any blocked kevent() callers.
func (kq *KQueue_t) Close() {
	kq.mu.Lock()
	kq.closed = true
	kq.mu.Unlock()
	kq.rendez.WakeupAll()
}
