// Device descriptors: the dispatch from an opened I_DEV v-node to its
// in-kernel implementation (the stat and profiling pseudo-devices) and the
// message-port descriptor mount() returns; the descriptor wrappers for
// kqueue/timer/interrupt handles are in event.go. The teacher dispatches on a device
// major the same way in its specialfile code (D_CONSOLE/D_DEVNULL/
// D_STAT/D_PROF), which is where the major numbers in defs come from.
package sys

import (
	"bytes"
	"fmt"
	"sync"

	"cheviot/src/defs"
	"cheviot/src/fdops"
	"cheviot/src/fs"
	"cheviot/src/limits"
	"cheviot/src/proc"
	"cheviot/src/stats"
)

// fopsFor picks the open-file implementation for a resolved v-node:
// kernel pseudo-devices are served in-kernel, everything else goes
// through the owning server.
func (k *Kernel_t) fopsFor(p *proc.Proc_t, v *fs.Vnode_t, path string) fdops.Fdops_i {
	if v.Itype == defs.I_DEV {
		maj, _ := defs.Unmkdev(uint(v.Rdev))
		switch maj {
		case defs.D_STAT:
			k.vput(p, v)
			return &snapfops_t{snap: k.statSnapshot}
		case defs.D_PROF:
			k.vput(p, v)
			return &snapfops_t{snap: profSnapshot}
		}
	}
	return fs.MkFsfops(v, clientFor(p, v), path)
}

// statSnapshot renders kernel counters for the D_STAT device.
func (k *Kernel_t) statSnapshot() []byte {
	var buf bytes.Buffer
	k.mu.Lock()
	fmt.Fprintf(&buf, "procs %v\n", len(k.procs))
	fmt.Fprintf(&buf, "mounts %v\n", len(k.mounts))
	k.mu.Unlock()
	sec, jif := k.Wheel.Now()
	fmt.Fprintf(&buf, "uptime %v.%02v\n", sec, jif)
	fmt.Fprintf(&buf, "lhits %v\n", limits.Lhits)
	fmt.Fprintf(&buf, "irqs %v\n", stats.Irqs)
	return buf.Bytes()
}

// profSnapshot renders a pprof-format profile of the kernel's sampled
// cycle counters for the D_PROF device.
func profSnapshot() []byte {
	b, err := stats.ProfileBytes()
	if err != nil {
		return []byte{}
	}
	return b
}

/// snapfops_t is a read-only pseudo-device descriptor: each open takes a
/// fresh snapshot; reads consume it.
type snapfops_t struct {
	mu   sync.Mutex
	snap func() []byte
	data []byte
	have bool
	off  int
}

func (sf *snapfops_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if !sf.have {
		sf.data = sf.snap()
		sf.have = true
	}
	if sf.off >= len(sf.data) {
		return 0, 0
	}
	n, err := dst.Uiowrite(sf.data[sf.off:])
	sf.off += n
	return n, err
}

func (sf *snapfops_t) Write(fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.EPERM }
func (sf *snapfops_t) Close() defs.Err_t                      { return 0 }
func (sf *snapfops_t) Reopen() defs.Err_t                     { return 0 }
func (sf *snapfops_t) Fstat(st fdops.Stater) defs.Err_t {
	st.Wmode(defs.Mkmode(defs.I_DEV, 0444))
	return 0
}
func (sf *snapfops_t) Lseek(int, int) (int, defs.Err_t)            { return 0, -defs.EINVAL }
func (sf *snapfops_t) Mmap(int, int, int) (uint, defs.Err_t)       { return 0, -defs.ENOSYS }
func (sf *snapfops_t) Pathi() interface{}                          { return nil }
func (sf *snapfops_t) Fullpath() (string, defs.Err_t)              { return "", -defs.EINVAL }
func (sf *snapfops_t) Truncate(uint) defs.Err_t                    { return -defs.EPERM }
func (sf *snapfops_t) Pread(fdops.Userio_i, int) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (sf *snapfops_t) Pwrite(fdops.Userio_i, int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (sf *snapfops_t) Unlink(string) defs.Err_t { return -defs.ENOSYS }
func (sf *snapfops_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return fdops.Ready_t{Events: pm.Events & fdops.R_READ}, 0
}

/// portfops_t is the descriptor mount() returns: the server's side of
/// the superblock's message port. Closing the last share aborts the
/// mount (spec §6's mount protocol).
type portfops_t struct {
	mu    sync.Mutex
	k     *Kernel_t
	mnt   *fs.Mount_t
	count int
}

func (pf *portfops_t) Close() defs.Err_t {
	pf.mu.Lock()
	pf.count--
	last := pf.count == 0
	pf.mu.Unlock()
	if last {
		pf.k.teardown(pf.mnt)
	}
	return 0
}

func (pf *portfops_t) Reopen() defs.Err_t {
	pf.mu.Lock()
	pf.count++
	pf.mu.Unlock()
	return 0
}

func (pf *portfops_t) Read(fdops.Userio_i) (int, defs.Err_t)  { return 0, -defs.EINVAL }
func (pf *portfops_t) Write(fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (pf *portfops_t) Fstat(st fdops.Stater) defs.Err_t {
	st.Wmode(defs.Mkmode(defs.I_PORT, 0600))
	return 0
}
func (pf *portfops_t) Lseek(int, int) (int, defs.Err_t)      { return 0, -defs.EINVAL }
func (pf *portfops_t) Mmap(int, int, int) (uint, defs.Err_t) { return 0, -defs.ENOSYS }
func (pf *portfops_t) Pathi() interface{}                    { return pf.mnt.ServerVnode }
func (pf *portfops_t) Fullpath() (string, defs.Err_t)        { return "", -defs.EINVAL }
func (pf *portfops_t) Truncate(uint) defs.Err_t              { return -defs.EINVAL }
func (pf *portfops_t) Pread(fdops.Userio_i, int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (pf *portfops_t) Pwrite(fdops.Userio_i, int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (pf *portfops_t) Unlink(string) defs.Err_t { return -defs.ENOSYS }
func (pf *portfops_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	var ev int
	if pf.mnt.Sb.Port.Pending() {
		ev |= fdops.R_READ
	}
	return fdops.Ready_t{Events: ev & pm.Events}, 0
}
