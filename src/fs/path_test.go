package fs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cheviot/src/defs"
	"cheviot/src/msg"
)

// treeResolver_t is an in-memory Resolver_i: a map from (dir ino, name)
// to (ino, type), plus symlink targets, standing in for a server.
type treeResolver_t struct {
	sb      *Superblock_t
	edges   map[uint]map[string]uint
	types   map[uint]defs.Itype_t
	links   map[uint]string
	lookups int
}

func mkTree() (*treeResolver_t, *Vnode_t) {
	sb := MkSuperblock(mkMemdisk(), msg.MkPort())
	tr := &treeResolver_t{
		sb:    sb,
		edges: map[uint]map[string]uint{0: {}},
		types: map[uint]defs.Itype_t{0: defs.I_DIR},
		links: map[uint]string{},
	}
	root := sb.Vcache.Get(0)
	root.MarkValid(defs.I_DIR, 0, 0755, 0, 0, 2)
	root.MarkRoot()
	return tr, root
}

func (tr *treeResolver_t) add(dir uint, name string, ino uint, it defs.Itype_t) {
	if tr.edges[dir] == nil {
		tr.edges[dir] = map[string]uint{}
	}
	tr.edges[dir][name] = ino
	tr.types[ino] = it
	if tr.edges[ino] == nil && it == defs.I_DIR {
		tr.edges[ino] = map[string]uint{}
	}
}

func (tr *treeResolver_t) Lookup1(dir *Vnode_t, name string) (*Vnode_t, defs.Err_t) {
	tr.lookups++
	kids, ok := tr.edges[dir.Ino]
	if !ok {
		return nil, -defs.ENOTDIR
	}
	ino, ok := kids[name]
	if !ok {
		return nil, -defs.ENOENT
	}
	v := dir.Sb.Vcache.Get(ino)
	if !v.Valid() {
		v.MarkValid(tr.types[ino], 0, 0755, 0, 0, 1)
	}
	return v, 0
}

func (tr *treeResolver_t) Readlink(v *Vnode_t) (string, defs.Err_t) {
	tgt, ok := tr.links[v.Ino]
	if !ok {
		return "", -defs.EINVAL
	}
	return tgt, 0
}

func TestResolveSimplePath(t *testing.T) {
	tr, root := mkTree()
	tr.add(0, "etc", 1, defs.I_DIR)
	tr.add(1, "startup.cfg", 2, defs.I_FILE)

	lk, err := ResolvePath(root, root, tr, "/etc/startup.cfg", 0)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, uint(2), lk.Vnode.Ino)

	lk, err = ResolvePath(root, root, tr, "etc", 0)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, uint(1), lk.Vnode.Ino)
}

func TestResolveErrors(t *testing.T) {
	tr, root := mkTree()
	tr.add(0, "f", 1, defs.I_FILE)

	_, err := ResolvePath(root, root, tr, "/missing", 0)
	require.Equal(t, defs.Err_t(-defs.ENOENT), err)

	// traversing through a non-directory
	_, err = ResolvePath(root, root, tr, "/f/below", 0)
	require.Equal(t, defs.Err_t(-defs.ENOTDIR), err)

	long := make([]byte, MAXPATHLEN+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = ResolvePath(root, root, tr, string(long), 0)
	require.Equal(t, defs.Err_t(-defs.ENAMETOOLONG), err)
}

func TestLookupParentOnMissingLast(t *testing.T) {
	tr, root := mkTree()
	tr.add(0, "dir", 1, defs.I_DIR)

	lk, err := ResolvePath(root, root, tr, "/dir/newfile", LOOKUP_PARENT)
	require.Equal(t, defs.Err_t(0), err)
	require.Nil(t, lk.Vnode)
	require.Equal(t, uint(1), lk.Parent.Ino)
	require.Equal(t, "newfile", lk.LastComponent)

	// existing last component returns both
	tr.add(1, "f", 2, defs.I_FILE)
	lk, err = ResolvePath(root, root, tr, "/dir/f", LOOKUP_PARENT)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, uint(2), lk.Vnode.Ino)
	require.Equal(t, uint(1), lk.Parent.Ino)
}

func TestSymlinkFollowAndLoop(t *testing.T) {
	tr, root := mkTree()
	tr.add(0, "dir", 1, defs.I_DIR)
	tr.add(1, "target", 2, defs.I_FILE)
	tr.add(0, "link", 3, defs.I_SYMLINK)
	tr.links[3] = "/dir/target"

	lk, err := ResolvePath(root, root, tr, "/link", 0)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, uint(2), lk.Vnode.Ino)

	// NOFOLLOW returns the symlink itself
	lk, err = ResolvePath(root, root, tr, "/link", LOOKUP_NOFOLLOW)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, uint(3), lk.Vnode.Ino)

	// a self-loop trips ELOOP
	tr.add(0, "loop", 4, defs.I_SYMLINK)
	tr.links[4] = "/loop"
	_, err = ResolvePath(root, root, tr, "/loop", 0)
	require.Equal(t, defs.Err_t(-defs.ELOOP), err)
}

func TestDNLCCachesLookups(t *testing.T) {
	tr, root := mkTree()
	tr.add(0, "etc", 1, defs.I_DIR)

	_, err := ResolvePath(root, root, tr, "/etc", 0)
	require.Equal(t, defs.Err_t(0), err)
	n := tr.lookups

	_, err = ResolvePath(root, root, tr, "/etc", 0)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, n, tr.lookups, "second resolution must hit the DNLC")
}

func TestDNLCNegativeEntries(t *testing.T) {
	tr, root := mkTree()

	_, err := ResolvePath(root, root, tr, "/ghost", 0)
	require.Equal(t, defs.Err_t(-defs.ENOENT), err)
	n := tr.lookups

	_, err = ResolvePath(root, root, tr, "/ghost", 0)
	require.Equal(t, defs.Err_t(-defs.ENOENT), err)
	require.Equal(t, n, tr.lookups, "negative entry must satisfy the retry")

	// creating the name invalidates the negative entry
	tr.add(0, "ghost", 9, defs.I_FILE)
	root.Sb.Vcache.DNLCInvalidate(root, "ghost")
	lk, err := ResolvePath(root, root, tr, "/ghost", 0)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, uint(9), lk.Vnode.Ino)
}

func TestMountTraversal(t *testing.T) {
	tr, root := mkTree()
	tr.add(0, "mnt", 1, defs.I_DIR)

	mnt, err := Mount(root, tr, "/mnt", 0755, 0, 0)
	require.Equal(t, defs.Err_t(0), err)
	defer Unmount(mnt)

	// resolving the covered path lands on the mounted root
	lk, rerr := ResolvePath(root, root, tr, "/mnt", 0)
	require.Equal(t, defs.Err_t(0), rerr)
	require.Equal(t, mnt.Root, lk.Vnode)

	// ".." from the mount root crosses back to the covered side
	lk2, rerr := ResolvePath(root, mnt.Root, tr, "..", 0)
	require.Equal(t, defs.Err_t(0), rerr)
	require.Equal(t, uint(1), lk2.Vnode.Ino)
	require.Equal(t, tr.sb, lk2.Vnode.Sb)
}

func TestMountBusyAndDouble(t *testing.T) {
	tr, root := mkTree()
	tr.add(0, "mnt", 1, defs.I_DIR)

	mnt, err := Mount(root, tr, "/mnt", 0755, 0, 0)
	require.Equal(t, defs.Err_t(0), err)

	// a second mount on the same covered v-node is EBUSY
	_, err = Mount(root, tr, "/mnt", 0755, 0, 0)
	require.Equal(t, defs.Err_t(-defs.EBUSY), err)

	require.Equal(t, defs.Err_t(0), Unmount(mnt))

	// the covered v-node resolves normally again
	lk, rerr := ResolvePath(root, root, tr, "/mnt", 0)
	require.Equal(t, defs.Err_t(0), rerr)
	require.Equal(t, uint(1), lk.Vnode.Ino)
	require.Equal(t, tr.sb, lk.Vnode.Sb)
}

func TestVnodeCacheRecycling(t *testing.T) {
	_, root := mkTree()
	vc := &root.Sb.Vcache

	v := vc.Get(42)
	require.Equal(t, 1, v.Refcnt())
	v2 := vc.Get(42)
	require.Same(t, v, v2)
	require.Equal(t, 2, v.Refcnt())

	closed := 0
	vc.Put(v, nil)
	vc.Put(v2, func(*Vnode_t) { closed++ })
	require.Equal(t, 1, closed, "close callback runs at refcount zero")

	// at zero the vnode sits on the free list; a re-Get revives it
	v3 := vc.Get(42)
	require.Same(t, v, v3)
	require.Equal(t, 1, v3.Refcnt())
}

func TestVnodeLockExcludes(t *testing.T) {
	_, root := mkTree()
	v := root.Sb.Vcache.Get(50)

	v.Lock()
	acquired := make(chan struct{})
	go func() {
		v.Lock()
		close(acquired)
	}()
	time.Sleep(20 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("second Lock acquired a busy vnode")
	default:
	}
	v.Unlock()
	<-acquired
	v.Unlock()
}
