// The IFS server: one goroutine per mount draining the mount's message
// port, decoding fsreq records, and mutating an in-memory node tree
// seeded from the boot image. The receive loop is the canonical consumer
// of the partial-message syscalls (get_msg/read_msg/write_msg/seek_msg/
// reply_msg, spec §4.5) and parks on an EVFILT_MSGPORT knote between
// requests (spec §4.6).
package ifs

import (
	"sort"
	"strings"
	"sync"

	"cheviot/src/defs"
	"cheviot/src/fs"
	"cheviot/src/kqueue"
	"cheviot/src/msg"
)

type snode_t struct {
	name     string
	ino      uint
	parent   uint
	perm     uint32
	uid, gid uint
	rdev     int64
	data     []byte
	children map[string]uint
}

func (n *snode_t) isDir() bool { return n.perm&S_IFMT == S_IFDIR }

func (n *snode_t) itype() defs.Itype_t {
	switch n.perm & S_IFMT {
	case S_IFDIR:
		return defs.I_DIR
	case S_IFCHR:
		return defs.I_DEV
	case S_IFLNK:
		return defs.I_SYMLINK
	default:
		return defs.I_FILE
	}
}

/// Srv_t is one running IFS server instance.
type Srv_t struct {
	mu      sync.Mutex
	nodes   map[uint]*snode_t
	nextIno uint

	port *msg.Port_t
	done chan struct{}
}

/// MkServer builds a server whose tree is seeded from image (which may
/// be nil for an empty root, the devfs-style case).
func MkServer(image *Image_t) *Srv_t {
	s := &Srv_t{nodes: make(map[uint]*snode_t), nextIno: 1, done: make(chan struct{})}
	root := &snode_t{name: "/", ino: 0, parent: 0, perm: S_IFDIR | 0755,
		children: make(map[string]uint)}
	s.nodes[0] = root
	if image != nil {
		for _, im := range image.Nodes {
			if im.Ino == 0 {
				root.perm = im.Perm
				continue
			}
			n := &snode_t{
				name:   im.Name,
				ino:    uint(im.Ino),
				parent: uint(im.ParentIno),
				perm:   im.Perm,
				uid:    uint(im.Uid),
				gid:    uint(im.Gid),
			}
			if n.isDir() {
				n.children = make(map[string]uint)
			} else {
				n.data = append([]byte{}, image.Data[im.FileOffset:im.FileOffset+im.FileSize]...)
			}
			s.nodes[n.ino] = n
			if n.ino >= s.nextIno {
				s.nextIno = n.ino + 1
			}
		}
		// second pass: hook children up to their parents
		for _, n := range s.nodes {
			if n.ino == 0 {
				continue
			}
			if p, ok := s.nodes[n.parent]; ok && p.children != nil {
				p.children[n.name] = n.ino
			}
		}
	}
	return s
}

/// Serve drains port until it is aborted. Run it on its own goroutine:
/// go srv.Serve(mnt.Sb.Port).
func (s *Srv_t) Serve(port *msg.Port_t) {
	s.port = port
	kq := kqueue.MkKQueue()
	kq.Register(&port.NoteList_t, port, kqueue.EVFILT_MSGPORT, 0, port.Pending())
	defer close(s.done)
	for {
		if port.Aborted() {
			return
		}
		for s.serveOne(port) {
		}
		if port.Aborted() {
			return
		}
		kq.Kevent(1, -1, nil)
	}
}

/// WaitDone blocks until the serve loop has exited (the port aborted).
func (s *Srv_t) WaitDone() { <-s.done }

/// FileData returns a copy of the named file's current contents, the
/// server-side view tests and tools use to check what actually got
/// persisted.
func (s *Srv_t) FileData(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nodes[0]
	for _, comp := range strings.Split(path, "/") {
		if comp == "" {
			continue
		}
		if n == nil || !n.isDir() {
			return nil, false
		}
		ino, ok := n.children[comp]
		if !ok {
			return nil, false
		}
		n = s.nodes[ino]
	}
	if n == nil || n.isDir() {
		return nil, false
	}
	return append([]byte{}, n.data...), true
}

// serveOne handles a single pending request, reporting whether there was
// one.
func (s *Srv_t) serveOne(port *msg.Port_t) bool {
	hdr := make([]byte, fs.ReqHeaderSz)
	pid, n, ok := port.GetMsg(hdr)
	if !ok {
		return false
	}
	if n < fs.ReqHeaderSz {
		port.ReplyMsg(pid, -defs.EINVAL)
		return true
	}
	req := fs.DecodeReq(hdr)

	name := make([]byte, req.NameLen)
	if req.NameLen > 0 {
		port.ReadMsg(pid, name)
	}
	payload := make([]byte, req.PayloadLen)
	if req.PayloadLen > 0 {
		port.ReadMsg(pid, payload)
	}
	dataOff := fs.ReqHeaderSz + req.NameLen + req.PayloadLen

	status, attr, data := s.handle(req, string(name), payload)

	if len(data) > 0 {
		if len(data) > req.DataLen {
			data = data[:req.DataLen]
		}
		port.WriteMsg(pid, data)
	}
	port.SeekMsg(pid, dataOff+req.DataLen)
	reply := make([]byte, fs.ReplySz)
	if attr != nil {
		fs.EncodeAttr(reply, attr)
	}
	port.WriteMsg(pid, reply)
	port.ReplyMsg(pid, status)
	return true
}

func (s *Srv_t) attrOf(n *snode_t) *fs.Attr_t {
	nlink := uint(1)
	if n.isDir() {
		nlink = uint(2 + len(n.children))
	}
	return &fs.Attr_t{
		Ino:   n.ino,
		Itype: n.itype(),
		Mode:  uint(n.perm & 07777),
		Uid:   n.uid,
		Gid:   n.gid,
		Nlink: nlink,
		Size:  int64(len(n.data)),
		Rdev:  n.rdev,
	}
}

// handle executes one decoded request against the tree.
func (s *Srv_t) handle(req *fs.Req_t, name string, payload []byte) (defs.Err_t, *fs.Attr_t, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[req.Ino]
	if !ok {
		return -defs.ENOENT, nil, nil
	}

	switch req.Cmd {
	case fs.CMD_LOOKUP:
		tgt, err := s.lookup(node, name)
		if err != 0 {
			return err, nil, nil
		}
		return 0, s.attrOf(tgt), nil

	case fs.CMD_CLOSE:
		return 0, nil, nil

	case fs.CMD_CREATE:
		return s.mknode(node, name, S_IFREG|uint32(req.Arg1)&07777, nil)

	case fs.CMD_READ:
		if node.isDir() {
			return -defs.EISDIR, nil, nil
		}
		off, want := int(req.Arg1), int(req.Arg2)
		if off >= len(node.data) {
			return 0, nil, nil
		}
		end := off + want
		if end > len(node.data) {
			end = len(node.data)
		}
		return defs.Err_t(end - off), nil, node.data[off:end]

	case fs.CMD_WRITE:
		if node.isDir() {
			return -defs.EISDIR, nil, nil
		}
		off := int(req.Arg1)
		// extend-then-write: zero-fill between old EOF and the write
		// start (spec §9's straddling-write decision)
		for len(node.data) < off {
			node.data = append(node.data, 0)
		}
		if off+len(payload) > len(node.data) {
			node.data = append(node.data[:off], payload...)
		} else {
			copy(node.data[off:], payload)
		}
		return defs.Err_t(len(payload)), nil, nil

	case fs.CMD_READDIR:
		if !node.isDir() {
			return -defs.ENOTDIR, nil, nil
		}
		return s.readdir(node, int(req.Arg1), int(req.Arg2))

	case fs.CMD_MKDIR:
		return s.mknode(node, name, S_IFDIR|uint32(req.Arg1)&07777, nil)

	case fs.CMD_RMDIR:
		tgt, err := s.lookup(node, name)
		if err != 0 {
			return err, nil, nil
		}
		if !tgt.isDir() {
			return -defs.ENOTDIR, nil, nil
		}
		if len(tgt.children) > 0 {
			return -defs.ENOTEMPTY, nil, nil
		}
		delete(node.children, name)
		delete(s.nodes, tgt.ino)
		return 0, nil, nil

	case fs.CMD_MKNOD:
		st, attr, data := s.mknode(node, name, uint32(req.Arg1), nil)
		if st == 0 {
			s.nodes[attr.Ino].rdev = req.Arg2
			attr.Rdev = req.Arg2
		}
		return st, attr, data

	case fs.CMD_UNLINK:
		tgt, err := s.lookup(node, name)
		if err != 0 {
			return err, nil, nil
		}
		if tgt.isDir() {
			return -defs.EISDIR, nil, nil
		}
		delete(node.children, name)
		delete(s.nodes, tgt.ino)
		return 0, nil, nil

	case fs.CMD_RENAME:
		oldLen := int(req.Arg2)
		if oldLen < 0 || oldLen > len(name) {
			return -defs.EINVAL, nil, nil
		}
		oldname, newname := name[:oldLen], name[oldLen:]
		newdir, ok := s.nodes[uint(req.Arg1)]
		if !ok || !newdir.isDir() {
			return -defs.ENOENT, nil, nil
		}
		tgt, err := s.lookup(node, oldname)
		if err != 0 {
			return err, nil, nil
		}
		if prev, exists := newdir.children[newname]; exists {
			pn := s.nodes[prev]
			if pn.isDir() {
				return -defs.EISDIR, nil, nil
			}
			delete(s.nodes, prev)
		}
		delete(node.children, oldname)
		newdir.children[newname] = tgt.ino
		tgt.name = newname
		tgt.parent = newdir.ino
		return 0, nil, nil

	case fs.CMD_TRUNCATE:
		if node.isDir() {
			return -defs.EISDIR, nil, nil
		}
		sz := int(req.Arg1)
		for len(node.data) < sz {
			node.data = append(node.data, 0)
		}
		node.data = node.data[:sz]
		return 0, nil, nil

	case fs.CMD_CHMOD:
		node.perm = node.perm&S_IFMT | uint32(req.Arg1)&07777
		return 0, nil, nil

	case fs.CMD_CHOWN:
		if req.Arg1 >= 0 {
			node.uid = uint(req.Arg1)
		}
		if req.Arg2 >= 0 {
			node.gid = uint(req.Arg2)
		}
		return 0, nil, nil

	case fs.CMD_ISATTY:
		if node.perm&S_IFMT == S_IFCHR {
			return 1, nil, nil
		}
		return 0, nil, nil

	case fs.CMD_TCGETATTR:
		if node.perm&S_IFMT != S_IFCHR {
			return -defs.EINVAL, nil, nil
		}
		buf := make([]byte, req.DataLen)
		n, err := ttyGetattr(buf)
		if err != 0 {
			return err, nil, nil
		}
		return defs.Err_t(n), nil, buf[:n]

	case fs.CMD_TCSETATTR:
		if node.perm&S_IFMT != S_IFCHR {
			return -defs.EINVAL, nil, nil
		}
		return ttySetattr(payload), nil, nil

	default:
		return -defs.ENOSYS, nil, nil
	}
}

func (s *Srv_t) lookup(dir *snode_t, name string) (*snode_t, defs.Err_t) {
	switch name {
	case ".", "":
		// "." also serves attribute refreshes on non-directories
		return dir, 0
	}
	if !dir.isDir() {
		return nil, -defs.ENOTDIR
	}
	if name == ".." {
		return s.nodes[dir.parent], 0
	}
	ino, ok := dir.children[name]
	if !ok {
		return nil, -defs.ENOENT
	}
	return s.nodes[ino], 0
}

func (s *Srv_t) mknode(dir *snode_t, name string, perm uint32, data []byte) (defs.Err_t, *fs.Attr_t, []byte) {
	if !dir.isDir() {
		return -defs.ENOTDIR, nil, nil
	}
	if name == "" || name == "." || name == ".." {
		return -defs.EINVAL, nil, nil
	}
	if _, exists := dir.children[name]; exists {
		return -defs.EEXIST, nil, nil
	}
	n := &snode_t{name: name, ino: s.nextIno, parent: dir.ino, perm: perm,
		data: data}
	if n.isDir() {
		n.children = make(map[string]uint)
	}
	s.nextIno++
	s.nodes[n.ino] = n
	dir.children[name] = n.ino
	return 0, s.attrOf(n), nil
}

// readdir packs dirent records starting at the opaque cookie, an index
// into the directory's stable sorted listing; the next cookie rides back
// in the attr's Size slot (spec §4.10's READDIR contract).
func (s *Srv_t) readdir(dir *snode_t, cookie, bufsz int) (defs.Err_t, *fs.Attr_t, []byte) {
	names := make([]string, 0, len(dir.children)+2)
	names = append(names, ".", "..")
	for nm := range dir.children {
		names = append(names, nm)
	}
	sort.Strings(names[2:])

	var blob []byte
	i := cookie
	for ; i < len(names); i++ {
		tgt, _ := s.lookup(dir, names[i])
		if tgt == nil {
			continue
		}
		rec := fs.PackDirent(nil, &fs.Dirent_t{Ino: tgt.ino, Cookie: int64(i + 1), Name: names[i]})
		if len(blob)+len(rec) > bufsz {
			break
		}
		blob = append(blob, rec...)
	}
	return defs.Err_t(len(blob)), &fs.Attr_t{Size: int64(i)}, blob
}
