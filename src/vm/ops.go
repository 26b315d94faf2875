// Region-level address-space operations (spec §4.1's unmap/protect):
// the pieces virtual_free and virtual_protect need beyond the mapping
// and fault paths in as.go.
package vm

import (
	"cheviot/src/defs"
	"cheviot/src/mem"
	"cheviot/src/util"
)

/// Unmap removes every mapping in [start, start+length), dropping page
/// references and deleting any region fully inside the range. A range
/// that splits a region only unmaps its pages; the region bookkeeping
/// keeps the outer bounds, which is harmless since faults on the
/// unmapped pages repopulate them as fresh zero pages for anonymous
/// regions, the same behavior a real munmap-then-touch would produce
/// for this kernel's only caller (virtual_free of whole allocations).
func (as *Vm_t) Unmap(start, length int) defs.Err_t {
	if (start|length)&(mem.PGSIZE-1) != 0 {
		return -defs.EINVAL
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for va := start; va < start+length; va += mem.PGSIZE {
		as.Page_remove(va)
	}
	pgn := uintptr(start) >> mem.PGSHIFT
	pglen := length >> mem.PGSHIFT
	kept := as.Vmregion.regions[:0]
	for _, r := range as.Vmregion.regions {
		if r.Pgn >= pgn && r.Pgn+uintptr(r.Pglen) <= pgn+uintptr(pglen) {
			if r.Mtype == VFILE && r.file.mfile != nil && r.file.mfile.mfops != nil {
				r.file.mfile.mfops.Close()
			}
			continue
		}
		kept = append(kept, r)
	}
	as.Vmregion.regions = kept
	return 0
}

/// Protect changes the permissions of every region overlapping
/// [start, start+length) and downgrades already present writable pages
/// when write permission is dropped; pages needing an upgrade fault it
/// in lazily (spec §4.1's protect).
func (as *Vm_t) Protect(start, length int, perms uint) defs.Err_t {
	if (start|length)&(mem.PGSIZE-1) != 0 {
		return -defs.EINVAL
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	pgn := uintptr(start) >> mem.PGSHIFT
	pglen := util.Roundup(length, mem.PGSIZE) >> mem.PGSHIFT
	found := false
	for _, r := range as.Vmregion.regions {
		if pgn < r.Pgn+uintptr(r.Pglen) && pgn+uintptr(pglen) > r.Pgn {
			r.Perms = perms
			found = true
		}
	}
	if !found {
		return -defs.EINVAL
	}
	if perms&PTE_W == 0 {
		for va := start; va < start+length; va += mem.PGSIZE {
			if pte, ok := as.Pmap.Lookup(uintptr(va)); ok {
				pte.Flags &^= PTE_W
			}
		}
	}
	return 0
}
