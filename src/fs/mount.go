// Mount and pivot_root (spec §6). Grounded on original_source's
// mount.c sys_mount (allocate a superblock and its two v-nodes — an
// I_PORT server endpoint and the mounted filesystem's root — splice the
// root onto the covered v-node, and purge any cached DNLC entry for the
// covered name since it now resolves through the mount instead). Adapted
// to this port's explicit-superblock/explicit-resolver style: nothing
// here reaches for a kernel-global root_vnode the way the original did,
// per this port's passed-by-reference design (spec's Design Note, see
// DESIGN.md).
package fs

import (
	"cheviot/src/defs"
	"cheviot/src/msg"
)

/// Mount_t is the kernel-side record of one mounted filesystem: its
/// superblock, the server-facing v-node a server opens to speak the
/// fsreq/fsreply protocol, the mounted filesystem's root v-node, and
/// (unless this is the system root) the v-node it is mounted on top of.
type Mount_t struct {
	Sb          *Superblock_t
	ServerVnode *Vnode_t
	Root        *Vnode_t
	Covered     *Vnode_t

	disk *PortDisk_t
}

// serverIno is the inode number reserved for the I_PORT server endpoint
// v-node; it never collides with a real inode.
const serverIno = ^uint(0)

/// Mount establishes a new mounted filesystem whose server speaks over a
/// fresh message port. If root is nil, the new filesystem's root v-node
/// becomes the system root and path is ignored; otherwise path is
/// resolved against root/rs to find the covered v-node, which must
/// exist, be a directory, and not already be a mount point. The new
/// superblock's block cache sends its strategy messages over the same
/// port (spec §2: "the block cache itself talks to an underlying block-
/// device server via the same IPC").
func Mount(root *Vnode_t, rs Resolver_i, path string, mode, uid, gid uint) (*Mount_t, defs.Err_t) {
	var covered *Vnode_t
	if root != nil {
		lk, err := ResolvePath(root, root, rs, path, 0)
		if err != 0 {
			return nil, err
		}
		if lk.Vnode == nil {
			return nil, -defs.ENOENT
		}
		covered = lk.Vnode
		if covered.Itype != defs.I_DIR {
			return nil, -defs.ENOTDIR
		}
		covered.Lock()
		if covered.MountedHere != nil || covered.Covered != nil {
			// already spliced into a mount, either as a covered v-node
			// or as a mount root; no stacking
			covered.Unlock()
			return nil, -defs.EBUSY
		}
		covered.Sb.Vcache.purgeFor(covered)
	}

	port := msg.MkPort()
	disk := MkPortDisk(port, 0)
	sb := MkSuperblock(disk, port)

	serverVnode := sb.Vcache.Get(serverIno)
	serverVnode.MarkValid(defs.I_PORT, 0, 0777, uid, gid, 1)
	serverVnode.MarkRoot()

	rvnode := sb.Vcache.Get(0)
	rvnode.MarkValid(defs.I_DIR, 0, mode, uid, gid, 2)
	rvnode.MarkRoot()

	if covered != nil {
		rvnode.Covered = covered
		covered.MountedHere = rvnode
		covered.Unlock()
		covered.Fire(int64(0))
	}
	rvnode.Fire(int64(0))

	sb.StartFlusher()

	return &Mount_t{Sb: sb, ServerVnode: serverVnode, Root: rvnode, Covered: covered, disk: disk}, 0
}

/// Unmount tears down mnt: drains dirty bufs to the server while its
/// port still works, then aborts the port (waking every blocked sender
/// with an I/O error, spec §4.5), stops its flusher and strategy worker,
/// unsplices it from its covered v-node if any, and purges its DNLC
/// entries (spec §4.8's "unmount purges by superblock").
func Unmount(mnt *Mount_t) defs.Err_t {
	mnt.Sb.Sync()
	mnt.Sb.StopFlusher()
	mnt.Sb.Port.Abort()
	if mnt.disk != nil {
		mnt.disk.Stop()
	}
	mnt.Sb.Vcache.Purge()
	if mnt.Covered != nil {
		mnt.Covered.Lock()
		mnt.Covered.MountedHere = nil
		mnt.Root.Covered = nil
		mnt.Covered.Unlock()
		mnt.Covered.Fire(int64(0))
	}
	return 0
}

/// Busy reports whether any v-node under mnt other than its two roots is
/// still referenced, the condition that makes unmount fail with EBUSY
/// instead of draining (spec §9's open question; see DESIGN.md).
func (mnt *Mount_t) Busy() bool {
	return mnt.Sb.Vcache.AnyReferenced(func(v *Vnode_t) bool {
		return v == mnt.Root || v == mnt.ServerVnode
	})
}

/// PivotRoot makes newMnt's root the system root, stacking the previous
/// root as a mount at putOldPath beneath it (spec §6's pivot_root): the
/// old root's Covered link is rewritten to the new root's resolved
/// putOldPath v-node.
func PivotRoot(newMnt *Mount_t, oldRoot *Vnode_t, rs Resolver_i, putOldPath string) (*Vnode_t, defs.Err_t) {
	lk, err := ResolvePath(newMnt.Root, newMnt.Root, rs, putOldPath, 0)
	if err != 0 {
		return nil, err
	}
	if lk.Vnode == nil {
		return nil, -defs.ENOENT
	}
	putOld := lk.Vnode
	if putOld.Itype != defs.I_DIR {
		return nil, -defs.ENOTDIR
	}
	putOld.Lock()
	if putOld.MountedHere != nil {
		putOld.Unlock()
		return nil, -defs.EBUSY
	}
	oldRoot.Covered = putOld
	putOld.MountedHere = oldRoot
	putOld.Unlock()
	putOld.Fire(int64(0))
	return newMnt.Root, 0
}

/// MoveMount relocates a mounted filesystem from its current covered
/// v-node onto newCovered, which must be an unmounted directory. Both
/// sides of the cyclic covered/mounted-here link are rewritten together
/// (spec §9's teardown note applies to moves too).
func MoveMount(mnt *Mount_t, root *Vnode_t, rs Resolver_i, newPath string) defs.Err_t {
	lk, err := ResolvePath(root, root, rs, newPath, 0)
	if err != 0 {
		return err
	}
	if lk.Vnode == nil {
		return -defs.ENOENT
	}
	nc := lk.Vnode
	if nc.Itype != defs.I_DIR {
		return -defs.ENOTDIR
	}
	if nc == mnt.Root {
		return -defs.EBUSY
	}
	nc.Lock()
	if nc.MountedHere != nil {
		nc.Unlock()
		return -defs.EBUSY
	}
	if mnt.Covered != nil {
		mnt.Covered.Lock()
		mnt.Covered.MountedHere = nil
		mnt.Covered.Unlock()
	}
	mnt.Root.Covered = nc
	nc.MountedHere = mnt.Root
	mnt.Covered = nc
	nc.Unlock()
	nc.Fire(int64(0))
	return 0
}
