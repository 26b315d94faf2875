// Path resolver (spec §4.8). Walks an in-kernel copy of a path one
// component at a time, consulting the DNLC before asking a server to
// resolve a miss, descending through mount points transparently, and
// bounding symlink expansion. Grounded on original_source's lookup.c
// (Lookup/LookupPath/PathToken/Advance's token-at-a-time walk and its
// parent/last-component bookkeeping for LOOKUP_PARENT); re-expressed
// against this port's Vnode_t/DNLC instead of lookup.c's hand-rolled
// struct Lookup position cursor.
package fs

import (
	"strings"

	"cheviot/src/defs"
)

/// LookupFlags mirrors the path resolver's behavior switches (spec §4.8).
type LookupFlags int

const (
	LOOKUP_PARENT LookupFlags = 1 << iota
	LOOKUP_REMOVE
	LOOKUP_NOFOLLOW
	LOOKUP_KERNEL
)

/// MAX_SYMLINK bounds how many symlinks a single resolution may follow
/// before failing with ELOOP.
const MAX_SYMLINK = 8

/// MAXPATHLEN bounds the length of any path string the resolver accepts.
const MAXPATHLEN = 1024

/// Resolver_i is implemented by a mount's server proxy (the fsreq/fsreply
/// client in proto.go) to perform the one operation the path walker
/// cannot do itself: ask the owning server to resolve a single name
/// within a directory, or to read a symlink's target.
type Resolver_i interface {
	Lookup1(dir *Vnode_t, name string) (*Vnode_t, defs.Err_t)
	Readlink(v *Vnode_t) (string, defs.Err_t)
}

/// Lookup_t is the result of a path resolution: either a resolved v-node
/// (Vnode non-nil, Parent nil unless LOOKUP_PARENT/REMOVE was set) or,
/// for LOOKUP_PARENT on a missing last component, the parent directory
/// and the name that did not exist.
type Lookup_t struct {
	Vnode         *Vnode_t
	Parent        *Vnode_t
	LastComponent string
}

// mountpoint descends through every mount stacked on dir, the transparent
// covered-to-root traversal spec §4.7 describes. It does not touch
// reference counts; crossmount is the flavor for a walk that already
// holds a reference on dir.
func mountpoint(dir *Vnode_t) *Vnode_t {
	for dir.MountedHere != nil {
		dir = dir.MountedHere
	}
	return dir
}

// crossmount descends like mountpoint but moves the caller's reference
// from the covered v-node to the mount root.
func crossmount(dir *Vnode_t) *Vnode_t {
	for dir.MountedHere != nil {
		n := dir.MountedHere
		n.Refup()
		dir.Sb.Vcache.Put(dir, nil)
		dir = n
	}
	return dir
}

/// ResolvePath walks path starting at root (for an absolute path) or cwd
/// (relative), per flags. The caller owns one reference on whichever
/// v-node(s) are returned and must Put them.
func ResolvePath(root, cwd *Vnode_t, rs Resolver_i, path string, flags LookupFlags) (*Lookup_t, defs.Err_t) {
	if len(path) > MAXPATHLEN {
		return nil, -defs.ENAMETOOLONG
	}
	path = strings.TrimRight(path, "/")
	if path == "" {
		if flags&(LOOKUP_PARENT|LOOKUP_REMOVE) != 0 {
			return nil, -defs.EINVAL
		}
		root.Refup()
		return &Lookup_t{Vnode: root}, 0
	}

	var cur *Vnode_t
	if strings.HasPrefix(path, "/") {
		cur = mountpoint(root)
		cur.Refup()
	} else {
		cur = cwd
		cur.Refup()
		cur = crossmount(cur)
	}

	comps := strings.Split(strings.TrimPrefix(path, "/"), "/")
	var nfollowed int

	for i := 0; i < len(comps); i++ {
		name := comps[i]
		isLast := i == len(comps)-1

		if name == "" {
			continue
		}
		if isLast && flags&(LOOKUP_PARENT|LOOKUP_REMOVE) != 0 && (name == "." || name == "..") {
			return nil, -defs.EINVAL
		}

		next, upward, err := advance(cur, name, rs)
		if err != 0 && err != -defs.ENOENT {
			cur.Sb.Vcache.Put(cur, nil)
			return nil, err
		}
		if next == nil {
			if isLast && flags&LOOKUP_PARENT != 0 {
				return &Lookup_t{Parent: cur, LastComponent: name}, 0
			}
			cur.Sb.Vcache.Put(cur, nil)
			return nil, -defs.ENOENT
		}

		if next.Itype == defs.I_SYMLINK {
			if isLast && flags&LOOKUP_NOFOLLOW != 0 {
				if flags&(LOOKUP_PARENT|LOOKUP_REMOVE) != 0 {
					return &Lookup_t{Vnode: next, Parent: cur, LastComponent: name}, 0
				}
				cur.Sb.Vcache.Put(cur, nil)
				return &Lookup_t{Vnode: next}, 0
			}
			nfollowed++
			if nfollowed > MAX_SYMLINK {
				next.Sb.Vcache.Put(next, nil)
				return nil, -defs.ELOOP
			}
			target, lerr := rs.Readlink(next)
			next.Sb.Vcache.Put(next, nil)
			if lerr != 0 {
				return nil, lerr
			}
			rest := strings.Join(comps[i+1:], "/")
			if strings.HasPrefix(target, "/") {
				cur.Sb.Vcache.Put(cur, nil)
				cur = mountpoint(root)
				cur.Refup()
			}
			newpath := target
			if rest != "" {
				newpath = target + "/" + rest
			}
			comps = strings.Split(strings.TrimPrefix(strings.TrimRight(newpath, "/"), "/"), "/")
			i = -1
			continue
		}

		if next.Itype != defs.I_DIR {
			if !isLast {
				next.Sb.Vcache.Put(next, nil)
				cur.Sb.Vcache.Put(cur, nil)
				return nil, -defs.ENOTDIR
			}
			if flags&(LOOKUP_PARENT|LOOKUP_REMOVE) != 0 {
				return &Lookup_t{Vnode: next, Parent: cur, LastComponent: name}, 0
			}
			cur.Sb.Vcache.Put(cur, nil)
			return &Lookup_t{Vnode: next}, 0
		}

		// descend through any mount stacked on the directory, unless the
		// walk just stepped upward out of this mount: ".." lands on the
		// covered v-node itself (spec §4.7), not back inside the mount
		if !upward {
			next = crossmount(next)
		}

		if isLast {
			if flags&(LOOKUP_PARENT|LOOKUP_REMOVE) != 0 {
				return &Lookup_t{Vnode: next, Parent: cur, LastComponent: name}, 0
			}
			cur.Sb.Vcache.Put(cur, nil)
			return &Lookup_t{Vnode: next}, 0
		}
		// drop the intermediate directory's reference as the walk moves
		// past it
		old := cur
		cur = next
		old.Sb.Vcache.Put(old, nil)
	}
	return &Lookup_t{Vnode: cur}, 0
}

// advance resolves one component of name within dir, consulting the DNLC
// before asking the server, and caching the result either way (spec
// §4.8: "consulting DNLC first" / "every successful vfs_lookup inserts").
// "." and ".." are handled without a server round trip: "." returns dir
// itself, ".." on a mount root traverses to the covered v-node (spec
// §4.7), reported via upward so the caller does not immediately descend
// back through the same mount; every other ".." asks the server, which
// owns the parent link for ordinary directories.
func advance(dir *Vnode_t, name string, rs Resolver_i) (v *Vnode_t, upward bool, err defs.Err_t) {
	if name == "." {
		dir.Refup()
		return dir, false, 0
	}
	if name == ".." && dir.Covered != nil {
		dir.Covered.Refup()
		return dir.Covered, true, 0
	}

	if v, found := dir.Sb.Vcache.DNLCLookup(dir, name); found {
		if v == nil {
			return nil, false, -defs.ENOENT
		}
		v.Refup()
		return v, false, 0
	}

	v, err = rs.Lookup1(dir, name)
	if err != 0 {
		if err == -defs.ENOENT {
			dir.Sb.Vcache.DNLCInsert(dir, name, nil)
		}
		return nil, false, err
	}
	dir.Sb.Vcache.DNLCInsert(dir, name, v)
	return v, false, 0
}
