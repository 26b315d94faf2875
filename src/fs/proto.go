// Server protocol (spec §4.10): the fsreq/fsreply wire format spoken
// between the kernel VFS and a user-space filesystem or device-driver
// server over a message port. Grounded on original_source's vfs.c
// (vfs_lookup builds a [req, name, reply, payload] iov and sends it
// synchronously, reading the result back out of the reply area once
// KSendMsg returns); re-expressed with util.PutLE32/LE64 fixed-width
// encoding instead of vfs.c's raw C struct layout, since this port's iov
// is a plain byte buffer rather than a pointer into the sender's own
// address space. The name component travels as a length-prefixed blob,
// no NUL required (spec §6).
package fs

import (
	"sync"

	"cheviot/src/defs"
	"cheviot/src/msg"
	"cheviot/src/util"
)

/// Cmd_t enumerates the fsreq commands named in spec §4.10.
type Cmd_t uint32

const (
	CMD_LOOKUP Cmd_t = iota
	CMD_CLOSE
	CMD_CREATE
	CMD_READ
	CMD_WRITE
	CMD_READDIR
	CMD_MKDIR
	CMD_RMDIR
	CMD_MKNOD
	CMD_UNLINK
	CMD_RENAME
	CMD_TRUNCATE
	CMD_CHMOD
	CMD_CHOWN
	CMD_ISATTY
	CMD_TCGETATTR
	CMD_TCSETATTR
)

/// ReqHeaderSz is the fixed-size leading part of every request: cmd, the
/// directory/target inode number, two scalar argument slots (offset and
/// length, or mode and rdev, per command), and the sizes of the three
/// variable areas that follow: name, payload, and reply-data.
const ReqHeaderSz = 4 + 8 + 8 + 8 + 4 + 4 + 4

/// Req_t is the decoded fixed part of an fsreq.
type Req_t struct {
	Cmd        Cmd_t
	Ino        uint
	Arg1       int64
	Arg2       int64
	NameLen    int
	PayloadLen int
	DataLen    int
}

/// EncodeReq packs r into a ReqHeaderSz-byte prefix of buf.
func EncodeReq(buf []byte, r *Req_t) {
	util.PutLE32(buf[0:4], uint32(r.Cmd))
	util.PutLE64(buf[4:12], uint64(r.Ino))
	util.PutLE64(buf[12:20], uint64(r.Arg1))
	util.PutLE64(buf[20:28], uint64(r.Arg2))
	util.PutLE32(buf[28:32], uint32(r.NameLen))
	util.PutLE32(buf[32:36], uint32(r.PayloadLen))
	util.PutLE32(buf[36:40], uint32(r.DataLen))
}

/// DecodeReq unpacks the fixed request header from buf.
func DecodeReq(buf []byte) *Req_t {
	return &Req_t{
		Cmd:        Cmd_t(util.LE32(buf[0:4])),
		Ino:        uint(util.LE64(buf[4:12])),
		Arg1:       int64(util.LE64(buf[12:20])),
		Arg2:       int64(util.LE64(buf[20:28])),
		NameLen:    int(util.LE32(buf[28:32])),
		PayloadLen: int(util.LE32(buf[32:36])),
		DataLen:    int(util.LE32(buf[36:40])),
	}
}

/// ReplySz is the fixed reply area trailing every request: the result
/// inode and its attributes, valid for the commands that return one
/// (LOOKUP, CREATE, MKDIR, MKNOD) and for READDIR's resume cookie. The
/// scalar status (<=0 is -errno, >=0 a byte count, spec §4.10) travels
/// via reply_msg and is returned by the sender's send(), not here.
const ReplySz = 8 + 4 + 4 + 4 + 4 + 4 + 8 + 8

/// Attr_t is the decoded fixed reply: the attributes of the v-node a
/// directory command resolved or created. Size doubles as READDIR's
/// next-cookie slot.
type Attr_t struct {
	Ino   uint
	Itype defs.Itype_t
	Mode  uint
	Uid   uint
	Gid   uint
	Nlink uint
	Size  int64
	Rdev  int64
}

/// EncodeAttr packs a into a ReplySz-byte buffer.
func EncodeAttr(buf []byte, a *Attr_t) {
	util.PutLE64(buf[0:8], uint64(a.Ino))
	util.PutLE32(buf[8:12], uint32(a.Itype))
	util.PutLE32(buf[12:16], uint32(a.Mode))
	util.PutLE32(buf[16:20], uint32(a.Uid))
	util.PutLE32(buf[20:24], uint32(a.Gid))
	util.PutLE32(buf[24:28], uint32(a.Nlink))
	util.PutLE64(buf[28:36], uint64(a.Size))
	util.PutLE64(buf[36:44], uint64(a.Rdev))
}

/// DecodeAttr unpacks a fixed reply area.
func DecodeAttr(buf []byte) *Attr_t {
	return &Attr_t{
		Ino:   uint(util.LE64(buf[0:8])),
		Itype: defs.Itype_t(util.LE32(buf[8:12])),
		Mode:  uint(util.LE32(buf[12:16])),
		Uid:   uint(util.LE32(buf[16:20])),
		Gid:   uint(util.LE32(buf[20:24])),
		Nlink: uint(util.LE32(buf[24:28])),
		Size:  int64(util.LE64(buf[28:36])),
		Rdev:  int64(util.LE64(buf[36:44])),
	}
}

// direntAlign keeps each packed dirent record 8-byte aligned (spec §4.10).
const direntAlign = 8

/// Dirent_t is one record of a READDIR blob.
type Dirent_t struct {
	Ino    uint
	Cookie int64
	Name   string
}

/// PackDirent appends d to blob as a densely packed, 8-byte-aligned
/// {d_ino, d_cookie, d_reclen, d_name[]} record.
func PackDirent(blob []byte, d *Dirent_t) []byte {
	reclen := util.Roundup(8+8+2+len(d.Name), direntAlign)
	rec := make([]byte, reclen)
	util.PutLE64(rec[0:8], uint64(d.Ino))
	util.PutLE64(rec[8:16], uint64(d.Cookie))
	util.PutLE16(rec[16:18], uint16(reclen))
	copy(rec[18:], d.Name)
	return append(blob, rec...)
}

/// UnpackDirents walks a READDIR blob, returning every record in it.
func UnpackDirents(blob []byte) []Dirent_t {
	var ret []Dirent_t
	for len(blob) >= 18 {
		reclen := int(util.LE16(blob[16:18]))
		if reclen < 18 || reclen > len(blob) {
			break
		}
		name := blob[18:reclen]
		for len(name) > 0 && name[len(name)-1] == 0 {
			name = name[:len(name)-1]
		}
		ret = append(ret, Dirent_t{
			Ino:    uint(util.LE64(blob[0:8])),
			Cookie: int64(util.LE64(blob[8:16])),
			Name:   string(name),
		})
		blob = blob[reclen:]
	}
	return ret
}

/// Client_t is the kernel-side proxy for one mount's server: it builds
/// fsreq/fsreply iovs and sends them synchronously over the mount's
/// message port (spec §4.10), and implements Resolver_i so the path
/// walker can drive it directly.
type Client_t struct {
	Port *msg.Port_t
	Pid  defs.Pid_t
}

// roundtrip sends one fsreq and blocks for the reply. datasz reserves a
// reply-data area the server fills (READ, READDIR); status is the
// server's reply_msg status.
func (c *Client_t) roundtrip(cmd Cmd_t, ino uint, arg1, arg2 int64, name string, payload []byte, datasz int) (status defs.Err_t, attr *Attr_t, data []byte) {
	r := &Req_t{Cmd: cmd, Ino: ino, Arg1: arg1, Arg2: arg2,
		NameLen: len(name), PayloadLen: len(payload), DataLen: datasz}
	buf := make([]byte, ReqHeaderSz+len(name)+len(payload)+datasz+ReplySz)
	EncodeReq(buf, r)
	off := ReqHeaderSz
	copy(buf[off:], name)
	off += len(name)
	copy(buf[off:], payload)
	off += len(payload)
	dataOff := off

	status = c.Port.Send(c.Pid, &msg.Bytes_t{B: buf})
	if status < 0 {
		return status, nil, nil
	}
	data = buf[dataOff : dataOff+datasz]
	attr = DecodeAttr(buf[dataOff+datasz:])
	return status, attr, data
}

// fill installs a freshly resolved v-node's attributes if the cache
// entry was newly allocated.
func fill(v *Vnode_t, a *Attr_t) {
	if !v.Valid() {
		v.MarkValid(a.Itype, a.Size, a.Mode, a.Uid, a.Gid, a.Nlink)
		v.Rdev = a.Rdev
	}
}

/// Lookup1 implements Resolver_i: resolves name within dir through dir's
/// owning server.
func (c *Client_t) Lookup1(dir *Vnode_t, name string) (*Vnode_t, defs.Err_t) {
	status, attr, _ := c.roundtrip(CMD_LOOKUP, dir.Ino, 0, 0, name, nil, 0)
	if status < 0 {
		return nil, status
	}
	if attr.Ino == dir.Ino {
		dir.Refup()
		return dir, 0
	}
	v := dir.Sb.Vcache.Get(attr.Ino)
	fill(v, attr)
	return v, 0
}

/// Readlink implements Resolver_i: reads a symlink v-node's target
/// through its owning server.
func (c *Client_t) Readlink(v *Vnode_t) (string, defs.Err_t) {
	status, _, data := c.roundtrip(CMD_READ, v.Ino, 0, int64(MAXPATHLEN), "", nil, MAXPATHLEN)
	if status < 0 {
		return "", status
	}
	return string(data[:int(status)]), 0
}

/// GetAttr refreshes v's cached attributes (a LOOKUP of "." on v).
func (c *Client_t) GetAttr(v *Vnode_t) (*Attr_t, defs.Err_t) {
	status, attr, _ := c.roundtrip(CMD_LOOKUP, v.Ino, 0, 0, ".", nil, 0)
	if status < 0 {
		return nil, status
	}
	return attr, 0
}

/// Close notifies the server a v-node's last reference has gone away.
func (c *Client_t) Close(v *Vnode_t) {
	c.roundtrip(CMD_CLOSE, v.Ino, 0, 0, "", nil, 0)
}

/// Create makes a regular file name within dir, exclusively; the server
/// fails with EEXIST if the name is live (spec §8's O_EXCL property).
func (c *Client_t) Create(dir *Vnode_t, name string, mode uint) (*Vnode_t, defs.Err_t) {
	status, attr, _ := c.roundtrip(CMD_CREATE, dir.Ino, int64(mode), 0, name, nil, 0)
	if status < 0 {
		return nil, status
	}
	dir.Sb.Vcache.DNLCInvalidate(dir, name)
	v := dir.Sb.Vcache.Get(attr.Ino)
	fill(v, attr)
	return v, 0
}

/// Read reads up to len(dst) bytes from v at offset off, bypassing the
/// block cache (devices and directories; regular files go through
/// ReadFile).
func (c *Client_t) Read(v *Vnode_t, off int64, dst []byte) (int, defs.Err_t) {
	status, _, data := c.roundtrip(CMD_READ, v.Ino, off, int64(len(dst)), "", nil, len(dst))
	if status < 0 {
		return 0, status
	}
	n := copy(dst, data[:int(status)])
	return n, 0
}

/// Write writes src to v at offset off, bypassing the block cache.
func (c *Client_t) Write(v *Vnode_t, off int64, src []byte) (int, defs.Err_t) {
	status, _, _ := c.roundtrip(CMD_WRITE, v.Ino, off, int64(len(src)), "", src, 0)
	if status < 0 {
		return 0, status
	}
	return int(status), 0
}

/// Readdir fetches the next batch of directory records from dir,
/// starting at the opaque cookie, which the kernel never interprets
/// (spec §4.10). Returns the records and the server's resume cookie.
func (c *Client_t) Readdir(dir *Vnode_t, cookie int64, bufsz int) ([]Dirent_t, int64, defs.Err_t) {
	status, attr, data := c.roundtrip(CMD_READDIR, dir.Ino, cookie, int64(bufsz), "", nil, bufsz)
	if status < 0 {
		return nil, 0, status
	}
	return UnpackDirents(data[:int(status)]), attr.Size, 0
}

/// Mkdir creates directory name within dir.
func (c *Client_t) Mkdir(dir *Vnode_t, name string, mode uint) (*Vnode_t, defs.Err_t) {
	status, attr, _ := c.roundtrip(CMD_MKDIR, dir.Ino, int64(mode), 0, name, nil, 0)
	if status < 0 {
		return nil, status
	}
	dir.Sb.Vcache.DNLCInvalidate(dir, name)
	v := dir.Sb.Vcache.Get(attr.Ino)
	fill(v, attr)
	return v, 0
}

/// Rmdir removes directory name within dir, invalidating its DNLC entry.
func (c *Client_t) Rmdir(dir *Vnode_t, name string) defs.Err_t {
	status, _, _ := c.roundtrip(CMD_RMDIR, dir.Ino, 0, 0, name, nil, 0)
	if status >= 0 {
		dir.Sb.Vcache.DNLCInvalidate(dir, name)
	}
	return errOnly(status)
}

/// Mknod creates name within dir with the given mode/rdev.
func (c *Client_t) Mknod(dir *Vnode_t, name string, mode uint, rdev int64) (*Vnode_t, defs.Err_t) {
	status, attr, _ := c.roundtrip(CMD_MKNOD, dir.Ino, int64(mode), rdev, name, nil, 0)
	if status < 0 {
		return nil, status
	}
	dir.Sb.Vcache.DNLCInvalidate(dir, name)
	v := dir.Sb.Vcache.Get(attr.Ino)
	fill(v, attr)
	return v, 0
}

/// Unlink removes name within dir, invalidating any DNLC entry for it.
func (c *Client_t) Unlink(dir *Vnode_t, name string) defs.Err_t {
	status, _, _ := c.roundtrip(CMD_UNLINK, dir.Ino, 0, 0, name, nil, 0)
	if status >= 0 {
		dir.Sb.Vcache.DNLCInvalidate(dir, name)
	}
	return errOnly(status)
}

/// Rename moves oldname in dir to newname in newdir. The two names
/// travel back to back in the name area: the header's NameLen carries
/// their combined length and Arg2 the length of oldname.
func (c *Client_t) Rename(dir *Vnode_t, oldname string, newdir *Vnode_t, newname string) defs.Err_t {
	both := oldname + newname
	status, _, _ := c.roundtrip(CMD_RENAME, dir.Ino, int64(newdir.Ino), int64(len(oldname)), both, nil, 0)
	if status >= 0 {
		dir.Sb.Vcache.DNLCInvalidate(dir, oldname)
		newdir.Sb.Vcache.DNLCInvalidate(newdir, newname)
	}
	return errOnly(status)
}

/// Truncate resizes v to size through its owning server.
func (c *Client_t) Truncate(v *Vnode_t, size int64) defs.Err_t {
	status, _, _ := c.roundtrip(CMD_TRUNCATE, v.Ino, size, 0, "", nil, 0)
	return errOnly(status)
}

/// Chmod changes v's permission bits.
func (c *Client_t) Chmod(v *Vnode_t, mode uint) defs.Err_t {
	status, _, _ := c.roundtrip(CMD_CHMOD, v.Ino, int64(mode), 0, "", nil, 0)
	return errOnly(status)
}

/// Chown changes v's owner and group.
func (c *Client_t) Chown(v *Vnode_t, uid, gid int) defs.Err_t {
	status, _, _ := c.roundtrip(CMD_CHOWN, v.Ino, int64(uid), int64(gid), "", nil, 0)
	return errOnly(status)
}

/// Isatty asks v's server whether v is a terminal; status 1 means yes.
func (c *Client_t) Isatty(v *Vnode_t) (bool, defs.Err_t) {
	status, _, _ := c.roundtrip(CMD_ISATTY, v.Ino, 0, 0, "", nil, 0)
	if status < 0 {
		return false, status
	}
	return status == 1, 0
}

/// Tcgetattr reads v's termios image into dst.
func (c *Client_t) Tcgetattr(v *Vnode_t, dst []byte) defs.Err_t {
	status, _, data := c.roundtrip(CMD_TCGETATTR, v.Ino, 0, int64(len(dst)), "", nil, len(dst))
	if status < 0 {
		return status
	}
	copy(dst, data)
	return 0
}

/// Tcsetattr writes a termios image to v.
func (c *Client_t) Tcsetattr(v *Vnode_t, src []byte) defs.Err_t {
	status, _, _ := c.roundtrip(CMD_TCSETATTR, v.Ino, 0, int64(len(src)), "", src, 0)
	return errOnly(status)
}

func errOnly(status defs.Err_t) defs.Err_t {
	if status < 0 {
		return status
	}
	return 0
}

/// PortDisk_t carries the block cache's strategy messages (spec §4.9) to
/// a mount's server as ordinary fsreq READ/WRITE roundtrips over the
/// same message port every other VFS operation uses. One worker
/// goroutine drains a request channel so async writes from bdflush never
/// put two kernel messages in flight at once (the port multiplexes
/// in-flight messages by sender pid, spec §4.5).
type PortDisk_t struct {
	client *Client_t

	mu    sync.Mutex
	reqc  chan *Bdev_req_t
	started bool
}

/// MkPortDisk wires a strategy channel over port for the kernel sender
/// pid.
func MkPortDisk(p *msg.Port_t, pid defs.Pid_t) *PortDisk_t {
	return &PortDisk_t{
		client: &Client_t{Port: p, Pid: pid},
		reqc:   make(chan *Bdev_req_t, 64),
	}
}

/// Start enqueues one strategy request; it reports whether the caller
/// should wait on the request's AckCh: true for sync requests, which the
/// worker acks; async requests are never acked.
func (pd *PortDisk_t) Start(req *Bdev_req_t) bool {
	pd.mu.Lock()
	if !pd.started {
		pd.started = true
		go pd.worker()
	}
	pd.mu.Unlock()
	pd.reqc <- req
	return req.Sync
}

func (pd *PortDisk_t) worker() {
	for req := range pd.reqc {
		req.Blks.Apply(func(b *Buf_t) {
			switch req.Cmd {
			case BDEV_READ:
				n, err := pd.client.Read2(b.Ino, int64(b.Off), b.Data)
				if err != 0 {
					b.SetError()
					return
				}
				for i := n; i < len(b.Data); i++ {
					b.Data[i] = 0
				}
			case BDEV_WRITE:
				if _, err := pd.client.Write2(b.Ino, int64(b.Off), b.Data); err != 0 {
					b.SetError()
				}
			case BDEV_FLUSH:
				// server-side persistence is synchronous; nothing to do
			}
		})
		if req.Sync {
			req.AckCh <- true
		}
	}
}

/// Stop drains the worker.
func (pd *PortDisk_t) Stop() {
	pd.mu.Lock()
	if pd.started {
		close(pd.reqc)
		pd.started = false
	}
	pd.mu.Unlock()
}

/// Stats implements Disk_i.
func (pd *PortDisk_t) Stats() string { return "" }

/// Read2/Write2 are the raw-ino strategy variants of Read/Write used by
/// PortDisk_t, which holds bufs, not v-nodes.
func (c *Client_t) Read2(ino uint, off int64, dst []byte) (int, defs.Err_t) {
	status, _, data := c.roundtrip(CMD_READ, ino, off, int64(len(dst)), "", nil, len(dst))
	if status < 0 {
		return 0, status
	}
	return copy(dst, data[:int(status)]), 0
}

func (c *Client_t) Write2(ino uint, off int64, src []byte) (int, defs.Err_t) {
	status, _, _ := c.roundtrip(CMD_WRITE, ino, off, int64(len(src)), "", src, 0)
	if status < 0 {
		return 0, status
	}
	return int(status), 0
}
