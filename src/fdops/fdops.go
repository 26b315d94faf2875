// Package fdops defines the interfaces that every open-file-description
// implementation (pipes, message-port handles, vnode files, console
// devices, the stat/prof pseudo-devices) must satisfy so the fd layer can
// treat them uniformly.
package fdops

import "cheviot/src/defs"

/// Pollmsg_t describes a poll/select-style readiness request registered
/// against a Fdops_i. Filt names the filter (EVFILT_READ/WRITE, etc. as
/// defined by the kqueue package) being watched.
type Pollmsg_t struct {
	Filt  int
	Events int
}

/// Readiness event bits carried in Pollmsg_t.Events and Ready_t.Events.
const (
	R_READ  = 1 << iota /// readable without blocking
	R_WRITE             /// writable without blocking
	R_ERROR             /// error condition pending
	R_HUP               /// peer hung up
)

/// Ready_t reports which of the requested events are currently ready.
type Ready_t struct {
	Events int
}

/// Userio_i abstracts a user-space buffer so kernel code can move bytes
/// to/from it without depending directly on the vm package, mirroring the
/// teacher's split between Fdops_i (syscall surface) and Userio_i
/// (the actual copy).
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

/// Fdops_i is implemented by every object reachable through a file
/// descriptor: plain files, pipes, message-port handles, kqueue
/// descriptors, and device files.
type Fdops_i interface {
	/// Close releases any resources held for this open file description.
	/// Called each time a descriptor referencing it is closed; objects
	/// shared through Reopen drop one share per call.
	Close() defs.Err_t

	/// Fstat fills in a stat structure describing the underlying object.
	Fstat(st Stater) defs.Err_t

	/// Lseek repositions the file offset.
	Lseek(off int, whence int) (int, defs.Err_t)

	/// Mmap maps the file's contents into an address space; returns
	/// ENOSYS for objects that cannot be mapped.
	Mmap(len int, prot int, flags int) (uint, defs.Err_t)

	/// Pathi returns the backing path/vnode identity, for fdops backed by
	/// the filesystem; non-path-backed objects return nil.
	Pathi() interface{}

	/// Read reads into the given user buffer, returning bytes read.
	Read(dst Userio_i) (int, defs.Err_t)

	/// Reopen increments the backing object's open-reference count, used
	/// when a descriptor is dup'd.
	Reopen() defs.Err_t

	/// Unlink removes the backing directory entry, if any.
	Unlink(path string) defs.Err_t

	/// Write writes from the given user buffer, returning bytes written.
	Write(src Userio_i) (int, defs.Err_t)

	/// Fullpath returns the canonical path backing this fd, if any.
	Fullpath() (string, defs.Err_t)

	/// Truncate truncates/extends the backing object to newlen bytes.
	Truncate(newlen uint) defs.Err_t

	/// Pread reads at a given offset without moving the file offset.
	Pread(dst Userio_i, offset int) (int, defs.Err_t)

	/// Pwrite writes at a given offset without moving the file offset.
	Pwrite(src Userio_i, offset int) (int, defs.Err_t)

	/// Accept/Bind/Connect/Listen/etc are deliberately absent: networking
	/// is an explicit Non-goal (spec §1).

	/// Poll registers/tests readiness per Pollmsg_t and returns a Ready_t.
	Poll(pm Pollmsg_t) (Ready_t, defs.Err_t)
}

/// Stater is the minimal surface Fstat needs from a stat buffer, avoiding
/// a direct dependency on the stat package from fdops's interface.
type Stater interface {
	Wdev(uint)
	Wino(uint)
	Wmode(uint)
	Wsize(uint)
	Wrdev(uint)
	Wuid(uint)
	Wgid(uint)
	Wnlink(uint)
}
