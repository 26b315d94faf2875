// Cached file I/O (spec §4.9): the read()/write() syscall path through
// the block cache, a cluster at a time. Grounded on original_source's
// cache.c read_from_cache/write_to_cache (the align-down-to-cluster,
// copy-the-overlap, advance-offset loop; async vs delayed write chosen
// by whether the write reaches a cluster boundary).
package fs

import (
	"cheviot/src/defs"
	"cheviot/src/util"
)

// ReadFile copies up to len(dst) bytes from v starting at *offset,
// stopping at end-of-file, advancing *offset by the amount copied.
func ReadFile(v *Vnode_t, dst []byte, offset *int64) (int, defs.Err_t) {
	size := v.Size
	if *offset >= size {
		return 0, 0
	}
	remaining := int(util.Min(int64(len(dst)), size-*offset))
	nread := 0
	for remaining > 0 {
		base := util.Rounddown(*offset, int64(BSIZE))
		coff := int(*offset - base)
		n := util.Min(BSIZE-coff, remaining)

		b, ok := v.Sb.Bread(v.Ino, int(base), int(size))
		if !ok {
			if nread > 0 {
				return nread, 0
			}
			return 0, -defs.EIO
		}
		copy(dst[nread:nread+n], b.Data[coff:coff+n])
		b.Brelse()

		nread += n
		*offset += int64(n)
		remaining -= n
	}
	return nread, 0
}

// WriteFile copies src into v starting at *offset, growing v.Size as
// needed, advancing *offset. A write that fills a cluster to its
// boundary is flushed async (bawrite); a partial-cluster write is
// scheduled delayed (bdwrite), matching cache.c's distinction. A write
// starting past the current end of file extends first: the gap between
// the old EOF and the write start reads back as zeros (the cache
// zero-fills past-EOF clusters on Bread).
func WriteFile(v *Vnode_t, src []byte, offset *int64) (int, defs.Err_t) {
	remaining := len(src)
	nwritten := 0
	for remaining > 0 {
		base := util.Rounddown(*offset, int64(BSIZE))
		coff := int(*offset - base)
		n := util.Min(BSIZE-coff, remaining)

		eof := v.Size
		if *offset+int64(n) > eof {
			eof = *offset + int64(n)
		}
		b, ok := v.Sb.Bread(v.Ino, int(base), int(eof))
		if !ok {
			if nwritten > 0 {
				return nwritten, 0
			}
			return 0, -defs.EIO
		}
		copy(b.Data[coff:coff+n], src[nwritten:nwritten+n])

		nwritten += n
		*offset += int64(n)
		remaining -= n
		if *offset > v.Size {
			v.SetSize(*offset)
		}

		if coff+n == BSIZE {
			b.Bawrite()
		} else {
			b.Bdwrite()
		}
	}
	return nwritten, 0
}
