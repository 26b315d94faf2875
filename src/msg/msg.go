// Package msg implements the kernel's synchronous message-port IPC (spec
// §4.5): a sender blocks on send(port, iov) until the server that owns
// the port replies. Grounded on original_source/kernel/fs/msg.c's
// KSendMsg/SysReceiveMsg/SysReplyMsg/SysReadMsg/SysWriteMsg/SysSeekMsg —
// this port keeps that FIFO-pending-list, single-in-flight-message-per-
// sender, partial-read/write-by-cursor design. A message's scatter/
// gather payload is pinned for the message's lifetime (the sender is
// blocked), so it is presented to the server as a random-access Msgbuf_i
// rather than a stream: seek_msg repositions the server's cursor
// anywhere in the payload.
package msg

import (
	"sync"

	"cheviot/src/defs"
	"cheviot/src/kqueue"
	"cheviot/src/res"
)

/// Mstate_t is a message's position in the SEND -> RECEIVED -> REPLIED
/// state machine (spec §4.5).
type Mstate_t int

const (
	MSG_SEND Mstate_t = iota
	MSG_RECEIVED
	MSG_REPLIED
)

/// Msgbuf_i is the pinned view of a sender's scatter/gather payload.
/// The iov addresses stay valid for the message's whole lifetime because
/// the sender is blocked until reply (spec §4.5's pinning invariant), so
/// random access at any offset is always safe.
type Msgbuf_i interface {
	ReadAt(dst []byte, off int) (int, defs.Err_t)
	WriteAt(src []byte, off int) (int, defs.Err_t)
	Len() int
}

/// Bytes_t is the kernel-buffer Msgbuf_i: a plain byte slice, used for
/// every fsreq the VFS itself builds and for user payloads the syscall
/// layer has copied in.
type Bytes_t struct {
	B []byte
}

func (bb *Bytes_t) ReadAt(dst []byte, off int) (int, defs.Err_t) {
	if off < 0 || off >= len(bb.B) {
		return 0, 0
	}
	return copy(dst, bb.B[off:]), 0
}

func (bb *Bytes_t) WriteAt(src []byte, off int) (int, defs.Err_t) {
	if off < 0 || off >= len(bb.B) {
		return 0, 0
	}
	return copy(bb.B[off:], src), 0
}

func (bb *Bytes_t) Len() int { return len(bb.B) }

/// Msg_t is one in-flight scatter/gather request.
type Msg_t struct {
	mu     sync.Mutex
	rendez res.Rendez_t

	Pid   defs.Pid_t
	State Mstate_t

	io     Msgbuf_i
	offset int

	ReplyStatus defs.Err_t
}

func mkMsg(pid defs.Pid_t, io Msgbuf_i) *Msg_t {
	m := &Msg_t{Pid: pid, State: MSG_SEND, io: io}
	m.rendez.Init()
	return m
}

/// Port_t is the server side of one mounted filesystem's connection:
/// a FIFO of pending messages and, per sending pid, the one message that
/// pid currently has in flight (spec §4.5: "a sender has at most one
/// in-flight message at any time; so does each server, but servers
/// multiplex over pid").
type Port_t struct {
	kqueue.NoteList_t

	mu       sync.Mutex
	pending  []*Msg_t
	inflight map[defs.Pid_t]*Msg_t
	aborted  bool
}

/// MkPort allocates an empty, unaborted message port.
func MkPort() *Port_t {
	return &Port_t{inflight: make(map[defs.Pid_t]*Msg_t)}
}

/// Begin queues a message carrying io on port on behalf of pid without
/// blocking, returning the in-flight message the caller parks itself on
/// with Wait. The split exists so a process can record its one in-flight
/// message pointer before sleeping, giving kill/signal delivery
/// something to Cancel (spec §5's Cancellation paragraph).
func (p *Port_t) Begin(pid defs.Pid_t, io Msgbuf_i) (*Msg_t, defs.Err_t) {
	m := mkMsg(pid, io)

	p.mu.Lock()
	if p.aborted {
		p.mu.Unlock()
		return nil, -defs.EIO
	}
	p.pending = append(p.pending, m)
	p.mu.Unlock()

	p.Fire(1)
	return m, 0
}

/// Wait blocks until m is replied, returning the server's reply status.
func (m *Msg_t) Wait() defs.Err_t {
	for {
		g := m.rendez.Gen()
		m.mu.Lock()
		done := m.State == MSG_REPLIED
		m.mu.Unlock()
		if done {
			break
		}
		m.rendez.SleepOn(g)
	}
	return m.ReplyStatus
}

/// Send is Begin+Wait for callers with no cancellation to arrange (the
/// VFS's own fsreq traffic).
func (p *Port_t) Send(pid defs.Pid_t, io Msgbuf_i) defs.Err_t {
	m, err := p.Begin(pid, io)
	if err != 0 {
		return err
	}
	return m.Wait()
}

/// Cancel unwinds m with -EINTR if the server has not yet received it,
/// reporting whether it did. A message the server already dequeued
/// cannot be withdrawn; the sender keeps waiting for the reply, the
/// POSIX-correct behavior for a signal that arrives mid-service.
func (p *Port_t) Cancel(m *Msg_t) bool {
	p.mu.Lock()
	found := false
	for i, pm := range p.pending {
		if pm == m {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			found = true
			break
		}
	}
	p.mu.Unlock()
	if !found {
		return false
	}
	m.mu.Lock()
	m.ReplyStatus = -defs.EINTR
	m.State = MSG_REPLIED
	m.mu.Unlock()
	m.rendez.WakeupAll()
	return true
}

/// GetMsg dequeues the head pending message (FIFO), marks it RECEIVED,
/// and streams up to len(buf) bytes from its payload starting at its
/// cursor, advancing it. Returns the sender's pid and how many bytes
/// were copied. If no message is pending it returns ok == false without
/// blocking; a server that wants to block parks an EVFILT_MSGPORT knote
/// on the port instead.
func (p *Port_t) GetMsg(buf []byte) (pid defs.Pid_t, n int, ok bool) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return 0, 0, false
	}
	m := p.pending[0]
	p.pending = p.pending[1:]
	p.inflight[m.Pid] = m
	p.mu.Unlock()

	m.mu.Lock()
	m.State = MSG_RECEIVED
	nr, _ := m.io.ReadAt(buf, m.offset)
	m.offset += nr
	m.mu.Unlock()
	return m.Pid, nr, true
}

func (p *Port_t) lookup(pid defs.Pid_t) *Msg_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight[pid]
}

/// ReadMsg copies up to len(buf) bytes from pid's in-flight message at
/// its current cursor into buf, advancing the cursor.
func (p *Port_t) ReadMsg(pid defs.Pid_t, buf []byte) (int, defs.Err_t) {
	m := p.lookup(pid)
	if m == nil {
		return 0, -defs.EINVAL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State != MSG_RECEIVED {
		return 0, -defs.EINVAL
	}
	n, _ := m.io.ReadAt(buf, m.offset)
	m.offset += n
	return n, 0
}

/// WriteMsg copies up to len(buf) bytes from buf into pid's in-flight
/// message at its current cursor, advancing the cursor.
func (p *Port_t) WriteMsg(pid defs.Pid_t, buf []byte) (int, defs.Err_t) {
	m := p.lookup(pid)
	if m == nil {
		return 0, -defs.EINVAL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State != MSG_RECEIVED {
		return 0, -defs.EINVAL
	}
	n, _ := m.io.WriteAt(buf, m.offset)
	m.offset += n
	return n, 0
}

/// SeekMsg sets pid's in-flight message cursor to an absolute offset.
func (p *Port_t) SeekMsg(pid defs.Pid_t, offset int) defs.Err_t {
	m := p.lookup(pid)
	if m == nil {
		return -defs.EINVAL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State != MSG_RECEIVED {
		return -defs.EINVAL
	}
	if offset < 0 || offset > m.io.Len() {
		return -defs.EINVAL
	}
	m.offset = offset
	return 0
}

/// ReplyMsg completes pid's in-flight message with status and wakes the
/// blocked sender.
func (p *Port_t) ReplyMsg(pid defs.Pid_t, status defs.Err_t) defs.Err_t {
	p.mu.Lock()
	m, ok := p.inflight[pid]
	if ok {
		delete(p.inflight, pid)
	}
	p.mu.Unlock()
	if !ok {
		return -defs.EINVAL
	}
	m.mu.Lock()
	if m.State != MSG_RECEIVED {
		m.mu.Unlock()
		return -defs.EINVAL
	}
	m.ReplyStatus = status
	m.State = MSG_REPLIED
	m.mu.Unlock()
	m.rendez.WakeupAll()
	return 0
}

/// Abort closes the port: every pending and in-flight message is
/// completed with an I/O error and every blocked sender is woken (spec
/// §4.5's server-abort clause). Further Begin calls fail immediately.
func (p *Port_t) Abort() {
	p.mu.Lock()
	p.aborted = true
	pending := p.pending
	p.pending = nil
	inflight := make([]*Msg_t, 0, len(p.inflight))
	for _, m := range p.inflight {
		inflight = append(inflight, m)
	}
	p.inflight = make(map[defs.Pid_t]*Msg_t)
	p.mu.Unlock()

	for _, m := range append(pending, inflight...) {
		m.mu.Lock()
		m.ReplyStatus = -defs.EIO
		m.State = MSG_REPLIED
		m.mu.Unlock()
		m.rendez.WakeupAll()
	}
	p.Fire(1)
}

/// Aborted reports whether the port has been closed.
func (p *Port_t) Aborted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aborted
}

/// Pending reports whether the port has at least one queued message, the
/// readiness condition an EVFILT_MSGPORT/POLLIN watcher checks.
func (p *Port_t) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending) > 0
}
