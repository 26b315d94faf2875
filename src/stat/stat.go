package stat

import "unsafe"

/// Stat_t mirrors a file's stat information, as copied out in response to
/// sys_stat/sys_fstat. The field order is part of the user-visible ABI so
/// it is never reordered once fixed. Kept field-for-field from the teacher,
/// extended with uid/gid/nlink/atime per the Data Model's v-node fields
/// (spec §3), which the teacher's stat did not yet expose.
type Stat_t struct {
	_dev    uint
	_ino    uint
	_mode   uint
	_size   uint
	_rdev   uint
	_uid    uint
	_gid    uint
	_nlink  uint
	_blocks uint
	_a_sec  uint
	_a_nsec uint
	_m_sec  uint
	_m_nsec uint
}

/// Wdev stores the device ID.
func (st *Stat_t) Wdev(v uint) { st._dev = v }

/// Wino stores the inode number.
func (st *Stat_t) Wino(v uint) { st._ino = v }

/// Wmode records the file mode.
func (st *Stat_t) Wmode(v uint) { st._mode = v }

/// Wsize records the file size.
func (st *Stat_t) Wsize(v uint) { st._size = v }

/// Wrdev stores the rdev field.
func (st *Stat_t) Wrdev(v uint) { st._rdev = v }

/// Wuid stores the owning user ID.
func (st *Stat_t) Wuid(v uint) { st._uid = v }

/// Wgid stores the owning group ID.
func (st *Stat_t) Wgid(v uint) { st._gid = v }

/// Wnlink stores the hard-link count.
func (st *Stat_t) Wnlink(v uint) { st._nlink = v }

/// Wmtime stores the modification time as (seconds, nanoseconds).
func (st *Stat_t) Wmtime(sec, nsec uint) { st._m_sec, st._m_nsec = sec, nsec }

/// Watime stores the access time as (seconds, nanoseconds).
func (st *Stat_t) Watime(sec, nsec uint) { st._a_sec, st._a_nsec = sec, nsec }

/// Mode returns the stored mode value.
func (st *Stat_t) Mode() uint { return st._mode }

/// Size returns the stored size.
func (st *Stat_t) Size() uint { return st._size }

/// Rdev returns the stored rdev.
func (st *Stat_t) Rdev() uint { return st._rdev }

/// Rino returns the stored inode number.
func (st *Stat_t) Rino() uint { return st._ino }

/// Uid returns the stored owner uid.
func (st *Stat_t) Uid() uint { return st._uid }

/// Nlink returns the stored hard-link count.
func (st *Stat_t) Nlink() uint { return st._nlink }

/// Bytes exposes the raw bytes of the structure for copying to user space.
/// This crosses the kernel/user boundary on a single machine, not the wire
/// (unlike fsreq payloads), so native byte order is correct here.
func (st *Stat_t) Bytes() []uint8 {
	const sz = unsafe.Sizeof(*st)
	sl := (*[sz]uint8)(unsafe.Pointer(&st._dev))
	return sl[:]
}
