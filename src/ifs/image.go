// Package ifs implements the boot file system: the IFS image format the
// loader hands the first server (spec §6) and a user-space server
// process that speaks the fsreq/fsreply protocol over a mount's message
// port. Adapted from the teacher's ufs package (an out-of-kernel
// filesystem driven over the fs API for mkfs and tests); the on-disk
// layout is the IFS node table instead of ufs's inode/bitmap blocks,
// and the request surface is the wire protocol instead of direct calls.
package ifs

import (
	"cheviot/src/defs"
	"cheviot/src/util"
)

/// Image format constants (spec §6): a 16-byte header, then node_cnt
/// packed node records, then file data. All fields little-endian.
const (
	Magic       = "MAGC"
	HeaderSz    = 4 + 4 + 4 + 4
	NodeSz      = 32 + 4 + 4 + 4 + 4 + 4 + 4 + 4
	MaxNodeName = 32
)

/// Mode type bits carried in an IFSNode's perm word.
const (
	S_IFMT  uint32 = 0170000
	S_IFREG uint32 = 0100000
	S_IFDIR uint32 = 0040000
	S_IFCHR uint32 = 0020000
	S_IFLNK uint32 = 0120000
)

/// Node_t is one decoded IFSNode record.
type Node_t struct {
	Name       string
	Ino        int32
	ParentIno  int32
	Perm       uint32
	Uid        int32
	Gid        int32
	FileOffset uint32
	FileSize   uint32
}

/// Image_t is a parsed IFS image: the node table plus the raw bytes the
/// node file offsets index into.
type Image_t struct {
	Nodes []Node_t
	Data  []byte
}

/// ParseImage validates and decodes an IFS image (spec §6's layout).
func ParseImage(img []byte) (*Image_t, defs.Err_t) {
	if len(img) < HeaderSz || string(img[0:4]) != Magic {
		return nil, -defs.EINVAL
	}
	tblOff := int(util.LE32(img[4:8]))
	cnt := int(int32(util.LE32(img[8:12])))
	size := int(util.LE32(img[12:16]))
	if size > len(img) || cnt < 0 || tblOff < HeaderSz ||
		tblOff+cnt*NodeSz > len(img) {
		return nil, -defs.EINVAL
	}
	im := &Image_t{Data: img}
	for i := 0; i < cnt; i++ {
		rec := img[tblOff+i*NodeSz:]
		name := rec[:MaxNodeName]
		end := 0
		for end < len(name) && name[end] != 0 {
			end++
		}
		n := Node_t{
			Name:       string(name[:end]),
			Ino:        int32(util.LE32(rec[32:36])),
			ParentIno:  int32(util.LE32(rec[36:40])),
			Perm:       util.LE32(rec[40:44]),
			Uid:        int32(util.LE32(rec[44:48])),
			Gid:        int32(util.LE32(rec[48:52])),
			FileOffset: util.LE32(rec[52:56]),
			FileSize:   util.LE32(rec[56:60]),
		}
		if int(n.FileOffset)+int(n.FileSize) > len(img) {
			return nil, -defs.EINVAL
		}
		im.Nodes = append(im.Nodes, n)
	}
	return im, 0
}

/// BuildImage packs nodes and their file contents into an IFS image.
/// datas[i] supplies node i's contents (nil for directories). Used by
/// mkfs and by tests that need a throwaway boot image.
func BuildImage(nodes []Node_t, datas [][]byte) []byte {
	tblOff := HeaderSz
	dataOff := tblOff + len(nodes)*NodeSz
	total := dataOff
	for _, d := range datas {
		total += len(d)
	}

	img := make([]byte, total)
	copy(img[0:4], Magic)
	util.PutLE32(img[4:8], uint32(tblOff))
	util.PutLE32(img[8:12], uint32(len(nodes)))
	util.PutLE32(img[12:16], uint32(total))

	off := dataOff
	for i := range nodes {
		n := nodes[i]
		if datas[i] != nil {
			n.FileOffset = uint32(off)
			n.FileSize = uint32(len(datas[i]))
			copy(img[off:], datas[i])
			off += len(datas[i])
		}
		rec := img[tblOff+i*NodeSz:]
		copy(rec[:MaxNodeName], n.Name)
		util.PutLE32(rec[32:36], uint32(n.Ino))
		util.PutLE32(rec[36:40], uint32(n.ParentIno))
		util.PutLE32(rec[40:44], n.Perm)
		util.PutLE32(rec[44:48], uint32(n.Uid))
		util.PutLE32(rec[48:52], uint32(n.Gid))
		util.PutLE32(rec[52:56], n.FileOffset)
		util.PutLE32(rec[56:60], n.FileSize)
	}
	return img
}
