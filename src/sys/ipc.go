// Mount management and the message-port syscalls (spec §6's mount
// protocol and get_msg/put_msg/read_msg/write_msg/seek_msg/reply_msg).
// A server process holds the descriptor mount() returned and drives its
// side of the protocol through these; the in-tree IFS server calls the
// port methods directly, but exercises the same code.
package sys

import (
	"cheviot/src/defs"
	"cheviot/src/fd"
	"cheviot/src/fs"
	"cheviot/src/msg"
	"cheviot/src/proc"
)

/// Mount splices a fresh server-backed filesystem over path (spec §6:
/// mount returns the fd of the server's side of the superblock port;
/// closing that fd aborts the mount). The returned Mount_t lets the
/// caller hand the port to a server loop.
func (k *Kernel_t) Mount(p *proc.Proc_t, path string, mode uint) (int, *fs.Mount_t, defs.Err_t) {
	mnt, err := fs.Mount(k.rootVnode(p), k.resolver(p), path, mode, p.Uid, p.Gid)
	if err != 0 {
		return 0, nil, err
	}
	k.mu.Lock()
	k.mounts = append(k.mounts, mnt)
	k.mu.Unlock()

	pf := &portfops_t{k: k, mnt: mnt, count: 1}
	fdn, err := p.Fd_new(pf, fd.FD_READ|fd.FD_WRITE, 0)
	if err != 0 {
		k.teardown(mnt)
		return 0, nil, err
	}
	return fdn, mnt, 0
}

// teardown force-unmounts mnt, used when the server's port descriptor
// closes or the server aborts.
func (k *Kernel_t) teardown(mnt *fs.Mount_t) {
	k.mu.Lock()
	for i, m := range k.mounts {
		if m == mnt {
			k.mounts = append(k.mounts[:i], k.mounts[i+1:]...)
			break
		}
	}
	k.mu.Unlock()
	fs.Unmount(mnt)
}

/// Unmount detaches the mount whose root covers path. Per the decision
/// recorded in DESIGN.md: EBUSY while any descriptor still references a
/// v-node below the mount, otherwise drain dirty data and succeed.
func (k *Kernel_t) Unmount(p *proc.Proc_t, path string) defs.Err_t {
	lk, err := k.namei(p, path, 0)
	if err != 0 {
		return err
	}
	v := lk.Vnode
	k.vput(p, v)

	k.mu.Lock()
	var mnt *fs.Mount_t
	for _, m := range k.mounts {
		if m.Root == v {
			mnt = m
			break
		}
	}
	k.mu.Unlock()
	if mnt == nil {
		return -defs.EINVAL
	}
	if mnt == k.RootMnt {
		return -defs.EBUSY
	}
	if mnt.Busy() {
		return -defs.EBUSY
	}
	k.teardown(mnt)
	return 0
}

/// PivotRoot swaps the system root for newroot's mount, reattaching the
/// old root under putold (spec §6, §8 scenario 6).
func (k *Kernel_t) PivotRoot(p *proc.Proc_t, newroot, putold string) defs.Err_t {
	lk, err := k.namei(p, newroot, 0)
	if err != 0 {
		return err
	}
	nv := lk.Vnode
	k.vput(p, nv)

	k.mu.Lock()
	var mnt *fs.Mount_t
	for _, m := range k.mounts {
		if m.Root == nv {
			mnt = m
			break
		}
	}
	oldRoot := k.RootMnt
	k.mu.Unlock()
	if mnt == nil || mnt == oldRoot {
		return -defs.EINVAL
	}

	// detach the new root from its covered v-node, then stack the old
	// root beneath it; both sides of each cyclic link move together
	// (spec §9's teardown note)
	if mnt.Covered != nil {
		mnt.Covered.Lock()
		mnt.Covered.MountedHere = nil
		mnt.Root.Covered = nil
		mnt.Covered.Unlock()
		mnt.Covered = nil
	}
	rel := putold
	if len(rel) > len(newroot) && rel[:len(newroot)] == newroot {
		rel = rel[len(newroot):]
	}
	if _, err := fs.PivotRoot(mnt, oldRoot.Root, k.resolver(p), rel); err != 0 {
		return err
	}
	k.mu.Lock()
	k.RootMnt = mnt
	k.mu.Unlock()
	return 0
}

/// MoveMount relocates a mounted filesystem onto a new covered v-node
/// (spec §6's move_mount).
func (k *Kernel_t) MoveMount(p *proc.Proc_t, mntRoot, newPath string) defs.Err_t {
	lk, err := k.namei(p, mntRoot, 0)
	if err != 0 {
		return err
	}
	v := lk.Vnode
	k.vput(p, v)
	k.mu.Lock()
	var mnt *fs.Mount_t
	for _, m := range k.mounts {
		if m.Root == v {
			mnt = m
			break
		}
	}
	k.mu.Unlock()
	if mnt == nil || mnt == k.RootMnt {
		return -defs.EINVAL
	}
	return fs.MoveMount(mnt, k.rootVnode(p), k.resolver(p), newPath)
}

// portFor pulls the message port behind a port descriptor.
func portFor(p *proc.Proc_t, fdn int) (*msg.Port_t, defs.Err_t) {
	f := p.Fd_get(fdn)
	if f == nil {
		return nil, -defs.EBADF
	}
	pf, ok := f.Fops.(*portfops_t)
	if !ok {
		return nil, -defs.EINVAL
	}
	return pf.mnt.Sb.Port, 0
}

/// PutMsg sends buf on the port behind fdn and blocks for the reply,
/// recording the in-flight message so a signal can cancel it (spec §3's
/// in-flight pointer, §5's Cancellation). The reply status comes back;
/// the server's partial writes land in buf.
func (k *Kernel_t) PutMsg(p *proc.Proc_t, fdn int, buf []byte) defs.Err_t {
	port, err := portFor(p, fdn)
	if err != 0 {
		return err
	}
	m, err := port.Begin(p.Pid, &msg.Bytes_t{B: buf})
	if err != 0 {
		return err
	}
	p.MsgBegin(m, port)
	status := m.Wait()
	p.MsgEnd()
	return status
}

/// GetMsg dequeues the next request on the port behind fdn (spec §4.5).
func (k *Kernel_t) GetMsg(p *proc.Proc_t, fdn int, buf []byte) (defs.Pid_t, int, defs.Err_t) {
	port, err := portFor(p, fdn)
	if err != 0 {
		return 0, 0, err
	}
	pid, n, ok := port.GetMsg(buf)
	if !ok {
		return 0, 0, -defs.EAGAIN
	}
	return pid, n, 0
}

/// ReadMsg/WriteMsg/SeekMsg/ReplyMsg are the stateful in-flight message
/// accessors (spec §4.5).
func (k *Kernel_t) ReadMsg(p *proc.Proc_t, fdn int, pid defs.Pid_t, buf []byte) (int, defs.Err_t) {
	port, err := portFor(p, fdn)
	if err != 0 {
		return 0, err
	}
	return port.ReadMsg(pid, buf)
}

func (k *Kernel_t) WriteMsg(p *proc.Proc_t, fdn int, pid defs.Pid_t, buf []byte) (int, defs.Err_t) {
	port, err := portFor(p, fdn)
	if err != 0 {
		return 0, err
	}
	return port.WriteMsg(pid, buf)
}

func (k *Kernel_t) SeekMsg(p *proc.Proc_t, fdn int, pid defs.Pid_t, off int) defs.Err_t {
	port, err := portFor(p, fdn)
	if err != 0 {
		return err
	}
	return port.SeekMsg(pid, off)
}

func (k *Kernel_t) ReplyMsg(p *proc.Proc_t, fdn int, pid defs.Pid_t, status defs.Err_t) defs.Err_t {
	port, err := portFor(p, fdn)
	if err != 0 {
		return err
	}
	return port.ReplyMsg(pid, status)
}
