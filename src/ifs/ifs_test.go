package ifs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cheviot/src/defs"
	"cheviot/src/fs"
	"cheviot/src/msg"
)

func testImage() []byte {
	nodes := []Node_t{
		{Name: "/", Ino: 0, ParentIno: -1, Perm: S_IFDIR | 0755},
		{Name: "etc", Ino: 1, ParentIno: 0, Perm: S_IFDIR | 0755},
		{Name: "startup.cfg", Ino: 2, ParentIno: 1, Perm: S_IFREG | 0644},
		{Name: "sbin", Ino: 3, ParentIno: 0, Perm: S_IFDIR | 0755},
		{Name: "console", Ino: 4, ParentIno: 0, Perm: S_IFCHR | 0666},
		{Name: "cfg-link", Ino: 5, ParentIno: 0, Perm: S_IFLNK | 0777},
	}
	datas := [][]byte{
		nil,
		nil,
		[]byte("start /sbin/init\nconsole /dev/console\n"),
		nil,
		nil,
		[]byte("/etc/startup.cfg"),
	}
	return BuildImage(nodes, datas)
}

func TestImageRoundtrip(t *testing.T) {
	img := testImage()
	im, err := ParseImage(img)
	require.Equal(t, defs.Err_t(0), err)
	require.Len(t, im.Nodes, 6)
	require.Equal(t, "etc", im.Nodes[1].Name)
	n := im.Nodes[2]
	require.Equal(t, "startup.cfg", n.Name)
	require.Equal(t, int32(1), n.ParentIno)
	require.Equal(t, "start /sbin/init\nconsole /dev/console\n",
		string(img[n.FileOffset:n.FileOffset+n.FileSize]))
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := ParseImage([]byte("not an image"))
	require.Equal(t, defs.Err_t(-defs.EINVAL), err)
	img := testImage()
	img[0] = 'X'
	_, err = ParseImage(img)
	require.Equal(t, defs.Err_t(-defs.EINVAL), err)
}

// startSrv runs a server over a fresh port and returns a kernel-side
// client for it.
func startSrv(t *testing.T) (*Srv_t, *msg.Port_t, *fs.Client_t, *fs.Superblock_t) {
	im, err := ParseImage(testImage())
	require.Equal(t, defs.Err_t(0), err)
	srv := MkServer(im)
	port := msg.MkPort()
	go srv.Serve(port)
	sb := fs.MkSuperblock(fs.MkPortDisk(port, 0), port)
	t.Cleanup(func() {
		port.Abort()
		srv.WaitDone()
	})
	return srv, port, &fs.Client_t{Port: port, Pid: 1}, sb
}

func vnodeFor(sb *fs.Superblock_t, c *fs.Client_t, dirIno uint, name string) (*fs.Vnode_t, defs.Err_t) {
	dir := sb.Vcache.Get(dirIno)
	if !dir.Valid() {
		dir.MarkValid(defs.I_DIR, 0, 0755, 0, 0, 2)
	}
	return c.Lookup1(dir, name)
}

func TestServerLookupAndRead(t *testing.T) {
	_, _, c, sb := startSrv(t)

	etc, err := vnodeFor(sb, c, 0, "etc")
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, defs.I_DIR, etc.Itype)

	cfg, err := c.Lookup1(etc, "startup.cfg")
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, defs.I_FILE, cfg.Itype)
	require.Equal(t, int64(38), cfg.Size)

	buf := make([]byte, 16)
	n, err := c.Read(cfg, 0, buf)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, "start /sbin/init", string(buf[:n]))

	// offset read
	n, err = c.Read(cfg, 6, buf[:10])
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, "/sbin/init", string(buf[:n]))

	_, err = c.Lookup1(etc, "nope")
	require.Equal(t, defs.Err_t(-defs.ENOENT), err)
}

func TestServerReadlink(t *testing.T) {
	_, _, c, sb := startSrv(t)
	ln, err := vnodeFor(sb, c, 0, "cfg-link")
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, defs.I_SYMLINK, ln.Itype)
	tgt, err := c.Readlink(ln)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, "/etc/startup.cfg", tgt)
}

func TestServerCreateWriteReadBack(t *testing.T) {
	srv, _, c, sb := startSrv(t)

	root := sb.Vcache.Get(0)
	root.MarkValid(defs.I_DIR, 0, 0755, 0, 0, 2)
	f, err := c.Create(root, "new.txt", 0644)
	require.Equal(t, defs.Err_t(0), err)

	// exclusive: creating the same live name fails
	_, err = c.Create(root, "new.txt", 0644)
	require.Equal(t, defs.Err_t(-defs.EEXIST), err)

	n, err := c.Write(f, 0, []byte("payload"))
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 7, n)

	buf := make([]byte, 16)
	n, err = c.Read(f, 0, buf)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, "payload", string(buf[:n]))

	data, ok := srv.FileData("/new.txt")
	require.True(t, ok)
	require.Equal(t, "payload", string(data))
}

func TestServerWritePastEOFZeroFills(t *testing.T) {
	srv, _, c, sb := startSrv(t)
	root := sb.Vcache.Get(0)
	root.MarkValid(defs.I_DIR, 0, 0755, 0, 0, 2)
	f, err := c.Create(root, "gap.bin", 0644)
	require.Equal(t, defs.Err_t(0), err)

	// a write starting past EOF extends first, zero-filling the gap
	_, err = c.Write(f, 10, []byte("tail"))
	require.Equal(t, defs.Err_t(0), err)
	data, ok := srv.FileData("/gap.bin")
	require.True(t, ok)
	require.Equal(t, append(make([]byte, 10), []byte("tail")...), data)
}

func TestServerReaddirCookies(t *testing.T) {
	_, _, c, sb := startSrv(t)
	root := sb.Vcache.Get(0)
	root.MarkValid(defs.I_DIR, 0, 0755, 0, 0, 2)

	var names []string
	cookie := int64(0)
	for {
		ents, next, err := c.Readdir(root, cookie, 64) // tiny buffer forces resume
		require.Equal(t, defs.Err_t(0), err)
		if len(ents) == 0 {
			break
		}
		for _, e := range ents {
			names = append(names, e.Name)
		}
		cookie = next
	}
	require.Equal(t, []string{".", "..", "cfg-link", "console", "etc", "sbin"}, names)
}

func TestServerMkdirRmdirUnlinkRename(t *testing.T) {
	_, _, c, sb := startSrv(t)
	root := sb.Vcache.Get(0)
	root.MarkValid(defs.I_DIR, 0, 0755, 0, 0, 2)

	d, err := c.Mkdir(root, "work", 0755)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, defs.I_DIR, d.Itype)

	_, err = c.Create(d, "f", 0644)
	require.Equal(t, defs.Err_t(0), err)

	// rmdir of a non-empty directory
	require.Equal(t, defs.Err_t(-defs.ENOTEMPTY), c.Rmdir(root, "work"))

	// rename f within the tree
	require.Equal(t, defs.Err_t(0), c.Rename(d, "f", root, "moved"))
	_, err = c.Lookup1(d, "f")
	require.Equal(t, defs.Err_t(-defs.ENOENT), err)
	_, err = c.Lookup1(root, "moved")
	require.Equal(t, defs.Err_t(0), err)

	require.Equal(t, defs.Err_t(0), c.Unlink(root, "moved"))
	require.Equal(t, defs.Err_t(0), c.Rmdir(root, "work"))
	_, err = c.Lookup1(root, "work")
	require.Equal(t, defs.Err_t(-defs.ENOENT), err)

	// mkdir/rmdir/mkdir succeeds again
	_, err = c.Mkdir(root, "work", 0755)
	require.Equal(t, defs.Err_t(0), err)
}

func TestServerTruncateChmodChown(t *testing.T) {
	_, _, c, sb := startSrv(t)
	root := sb.Vcache.Get(0)
	root.MarkValid(defs.I_DIR, 0, 0755, 0, 0, 2)
	f, _ := c.Create(root, "t.bin", 0644)
	c.Write(f, 0, []byte("0123456789"))

	require.Equal(t, defs.Err_t(0), c.Truncate(f, 4))
	buf := make([]byte, 16)
	n, _ := c.Read(f, 0, buf)
	require.Equal(t, 4, n)

	require.Equal(t, defs.Err_t(0), c.Chmod(f, 0600))
	require.Equal(t, defs.Err_t(0), c.Chown(f, 10, 20))
	attr, err := c.GetAttr(f)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, uint(0600), attr.Mode&0777)
	require.Equal(t, uint(10), attr.Uid)
	require.Equal(t, uint(20), attr.Gid)
}

func TestServerIsattyAndTermios(t *testing.T) {
	_, _, c, sb := startSrv(t)
	con, err := vnodeFor(sb, c, 0, "console")
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, defs.I_DEV, con.Itype)

	tty, err := c.Isatty(con)
	require.Equal(t, defs.Err_t(0), err)
	require.True(t, tty)

	buf := make([]byte, TermiosSz)
	require.Equal(t, defs.Err_t(0), c.Tcgetattr(con, buf))
	// whatever came back is accepted on the way down too
	require.Equal(t, defs.Err_t(0), c.Tcsetattr(con, buf))

	cfg, _ := vnodeFor(sb, c, 0, "etc")
	tty, err = c.Isatty(cfg)
	require.Equal(t, defs.Err_t(0), err)
	require.False(t, tty)
}

func TestServerAbortFailsSenders(t *testing.T) {
	_, port, c, sb := startSrv(t)
	root := sb.Vcache.Get(0)
	root.MarkValid(defs.I_DIR, 0, 0755, 0, 0, 2)

	port.Abort()
	time.Sleep(10 * time.Millisecond)
	_, err := c.Lookup1(root, "etc")
	require.Equal(t, defs.Err_t(-defs.EIO), err)
}
