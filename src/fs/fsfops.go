// File-descriptor operations over v-nodes: the Fdops_i implementation
// behind every fd that names a file, directory, or device on a mounted
// filesystem. Adapted from the teacher's fs/fsfops.go shape (Fsfops_t
// holding a locked file + offset + open count); regular-file data moves
// through the block cache (rw.go), everything else round-trips to the
// owning server (proto.go).
package fs

import (
	"sync"

	"cheviot/src/defs"
	"cheviot/src/fdops"
	"cheviot/src/util"
)

/// Fsfops_t is one open file description: a v-node reference, a seek
/// cursor, and a share count bumped by dup (spec §3's Filp). The mutex
/// serializes offset updates between sharing descriptors.
type Fsfops_t struct {
	sync.Mutex

	vn     *Vnode_t
	client *Client_t
	path   string

	offset int64
	count  int
	append bool
}

/// MkFsfops opens a file description over v, which the caller has
/// already referenced; the description owns that reference.
func MkFsfops(v *Vnode_t, c *Client_t, path string) *Fsfops_t {
	return &Fsfops_t{vn: v, client: c, path: path, count: 1}
}

/// Vnode exposes the backing v-node (the fd layer's Pathi).
func (fo *Fsfops_t) Vnode() *Vnode_t { return fo.vn }

/// SetAppend makes every Write land at end-of-file (O_APPEND).
func (fo *Fsfops_t) SetAppend() { fo.append = true }

func (fo *Fsfops_t) aborted() bool {
	return fo.vn.Sb.Port.Aborted()
}

/// Close drops one share; the last share releases the v-node reference,
/// which may notify the server (spec §4.7's vnode_put).
func (fo *Fsfops_t) Close() defs.Err_t {
	fo.Lock()
	fo.count--
	last := fo.count == 0
	fo.Unlock()
	if last {
		c := fo.client
		fo.vn.Sb.Vcache.Put(fo.vn, func(v *Vnode_t) {
			if !v.Sb.Port.Aborted() {
				c.Close(v)
			}
		})
	}
	return 0
}

/// Reopen adds a share (dup/fork).
func (fo *Fsfops_t) Reopen() defs.Err_t {
	fo.Lock()
	fo.count++
	fo.Unlock()
	return 0
}

/// Fstat fills st from the cached v-node attributes.
func (fo *Fsfops_t) Fstat(st fdops.Stater) defs.Err_t {
	v := fo.vn
	st.Wino(v.Ino)
	st.Wmode(defs.Mkmode(v.Itype, v.Mode))
	st.Wsize(uint(v.Size))
	st.Wuid(v.Uid)
	st.Wgid(v.Gid)
	st.Wnlink(v.Nlink)
	st.Wdev(0)
	st.Wrdev(0)
	return 0
}

/// Lseek repositions the shared seek cursor (spec §6's lseek/lseek64).
func (fo *Fsfops_t) Lseek(off int, whence int) (int, defs.Err_t) {
	fo.Lock()
	defer fo.Unlock()
	var n int64
	switch whence {
	case defs.SEEK_SET:
		n = int64(off)
	case defs.SEEK_CUR:
		n = fo.offset + int64(off)
	case defs.SEEK_END:
		n = fo.vn.Size + int64(off)
	default:
		return 0, -defs.EINVAL
	}
	if n < 0 {
		return 0, -defs.EINVAL
	}
	fo.offset = n
	return int(n), 0
}

// chunk is the kernel bounce buffer size for moving bytes between a
// Userio_i and the block cache.
const chunk = BSIZE

func (fo *Fsfops_t) readAt(dst fdops.Userio_i, off *int64) (int, defs.Err_t) {
	if fo.aborted() {
		return 0, -defs.EIO
	}
	v := fo.vn
	switch v.Itype {
	case defs.I_DIR:
		return 0, -defs.EISDIR
	case defs.I_FIFO:
		if v.Pipe == nil {
			return 0, -defs.EINVAL
		}
		return v.Pipe.Read(dst)
	case defs.I_FILE:
		total := 0
		buf := make([]byte, util.Min(chunk, dst.Totalsz()))
		for dst.Remain() > 0 {
			want := util.Min(len(buf), dst.Remain())
			n, err := ReadFile(v, buf[:want], off)
			if err != 0 {
				return total, err
			}
			if n == 0 {
				break
			}
			did, err := dst.Uiowrite(buf[:n])
			total += did
			if err != 0 || did < n {
				return total, err
			}
		}
		return total, 0
	default:
		// devices and symlinks round-trip to the server uncached
		buf := make([]byte, util.Min(chunk, dst.Remain()))
		n, err := fo.client.Read(v, *off, buf)
		if err != 0 {
			return 0, err
		}
		did, err2 := dst.Uiowrite(buf[:n])
		*off += int64(did)
		return did, err2
	}
}

func (fo *Fsfops_t) writeAt(src fdops.Userio_i, off *int64) (int, defs.Err_t) {
	if fo.aborted() {
		return 0, -defs.EIO
	}
	v := fo.vn
	switch v.Itype {
	case defs.I_DIR:
		return 0, -defs.EISDIR
	case defs.I_FIFO:
		if v.Pipe == nil {
			return 0, -defs.EINVAL
		}
		return v.Pipe.Write(src)
	case defs.I_FILE:
		total := 0
		buf := make([]byte, util.Min(chunk, src.Totalsz()))
		for src.Remain() > 0 {
			n, err := src.Uioread(buf)
			if err != 0 {
				return total, err
			}
			if n == 0 {
				break
			}
			did, err := WriteFile(v, buf[:n], off)
			total += did
			if err != 0 || did < n {
				return total, err
			}
		}
		return total, 0
	default:
		buf := make([]byte, util.Min(chunk, src.Remain()))
		n, err := src.Uioread(buf)
		if err != 0 {
			return 0, err
		}
		did, err2 := fo.client.Write(v, *off, buf[:n])
		*off += int64(did)
		return did, err2
	}
}

/// Read reads from the shared cursor.
func (fo *Fsfops_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	fo.Lock()
	defer fo.Unlock()
	return fo.readAt(dst, &fo.offset)
}

/// Write writes at the shared cursor (or at EOF in append mode).
func (fo *Fsfops_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	fo.Lock()
	defer fo.Unlock()
	if fo.append {
		fo.offset = fo.vn.Size
	}
	return fo.writeAt(src, &fo.offset)
}

/// Pread reads at an explicit offset without moving the cursor.
func (fo *Fsfops_t) Pread(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	o := int64(offset)
	return fo.readAt(dst, &o)
}

/// Pwrite writes at an explicit offset without moving the cursor.
func (fo *Fsfops_t) Pwrite(src fdops.Userio_i, offset int) (int, defs.Err_t) {
	o := int64(offset)
	return fo.writeAt(src, &o)
}

/// Truncate resizes the file through the server and discards any cached
/// cluster past the new end (spec §4.9's truncation invariant).
func (fo *Fsfops_t) Truncate(newlen uint) defs.Err_t {
	if fo.aborted() {
		return -defs.EIO
	}
	if err := fo.client.Truncate(fo.vn, int64(newlen)); err != 0 {
		return err
	}
	fo.vn.Sb.DiscardFrom(fo.vn.Ino, int64(newlen))
	fo.vn.SetSize(int64(newlen))
	return 0
}

/// Mmap is served by the syscall layer mapping the description as a
/// file-backed region; the description itself has nothing to map.
func (fo *Fsfops_t) Mmap(length int, prot int, flags int) (uint, defs.Err_t) {
	return 0, -defs.ENOSYS
}

/// Pathi returns the backing v-node.
func (fo *Fsfops_t) Pathi() interface{} { return fo.vn }

/// Fullpath returns the path this description was opened by.
func (fo *Fsfops_t) Fullpath() (string, defs.Err_t) { return fo.path, 0 }

/// Unlink of an open description is not a VFS operation here; paths are
/// unlinked through the resolver.
func (fo *Fsfops_t) Unlink(path string) defs.Err_t { return -defs.ENOSYS }

/// Poll reports readiness: plain files and directories are always ready,
/// FIFOs defer to their pipe.
func (fo *Fsfops_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	if fo.vn.Itype == defs.I_FIFO && fo.vn.Pipe != nil {
		return fo.vn.Pipe.Poll(pm)
	}
	return fdops.Ready_t{Events: pm.Events}, 0
}
