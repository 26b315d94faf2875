// Package vm implements a process address space: virtual memory regions
// (anonymous, shared-anonymous, file-backed), copy-on-write fork, the
// page-fault handler that resolves them, and the user<->kernel copy
// helpers every syscall uses to move bytes across the address-space
// boundary (spec §4.1).
//
// The teacher's version walks real x86_64 page tables through a patched
// Go runtime (runtime.Vtop, runtime.Cpuid, runtime.Pml4freeze,
// runtime.Condflush, runtime.Rcr4) and reserves heap via a bounds/res
// "gimme" mechanism before every copy loop iteration to guarantee forward
// progress under the collector. Real MMU/pmap management is a hardware
// collaborator out of scope for this spec (§1 Non-goals), so this port
// keeps the address-space API (Vm_t, Vmadd_*, Sys_pgfault, Userdmap8_inner,
// Userreadn/Userwriten/Userstr, K2user/User2k) and drops the hardware
// paging and heap-reservation machinery entirely; Go's own allocator and
// garbage collector supply the forward-progress guarantee the teacher's
// "gimme" checks were defending against.
package vm

import (
	"sync"
	"time"

	"cheviot/src/defs"
	"cheviot/src/fdops"
	"cheviot/src/mem"
	"cheviot/src/ustr"
	"cheviot/src/util"
)

/// Vm_t represents a process address space. The mutex protects
/// modifications to Vmregion and Pmap.
type Vm_t struct {
	sync.Mutex

	Vmregion Vmregion_t
	Pmap     *Pmap_t

	pgfltaken bool
}

/// MkVm allocates an address space with an empty page table.
func MkVm() *Vm_t {
	return &Vm_t{Pmap: NewPmap()}
}

/// Lock_pmap acquires the address space mutex and marks that a page fault
/// is being handled.
func (as *Vm_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

/// Unlock_pmap releases the address space mutex after page table
/// manipulation is complete.
func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

/// Lockassert_pmap panics if the address space mutex is not held.
func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

/// Userdmap8_inner returns a slice mapping of the user address at va. When
/// k2u is true the memory will be prepared for a kernel write.
func (as *Vm_t) Userdmap8_inner(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()

	voff := va & (mem.PGSIZE - 1)
	uva := uintptr(va)
	vmi, ok := as.Vmregion.Lookup(uva)
	if !ok {
		return nil, -defs.EFAULT
	}
	pte, ok := vmi.Ptefor(as.Pmap, uva)
	if !ok {
		return nil, -defs.ENOMEM
	}
	ecode := uint(PTE_U)
	needfault := true
	isp := pte.valid && pte.Flags&PTE_P != 0
	if k2u {
		ecode |= PTE_W
		iscow := pte.valid && pte.Flags&PTE_COW != 0
		iswritable := pte.valid && pte.Flags&PTE_W != 0
		if isp && iswritable && !iscow {
			needfault = false
		}
	} else {
		if isp {
			needfault = false
		}
	}

	if needfault {
		if err := Sys_pgfault(as, vmi, uva, ecode); err != 0 {
			return nil, err
		}
	}

	pg := mem.Physmem.Dmap(pte.Page)
	bpg := mem.Pg2bytes(pg)
	return bpg[voff:], 0
}

// _userdmap8 must only be used if concurrent modification of the address
// space is impossible.
func (as *Vm_t) _userdmap8(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lock_pmap()
	ret, err := as.Userdmap8_inner(va, k2u)
	as.Unlock_pmap()
	return ret, err
}

/// Userdmap8r maps the user address for reading.
func (as *Vm_t) Userdmap8r(va int) ([]uint8, defs.Err_t) {
	return as._userdmap8(va, false)
}

func (as *Vm_t) usermapped(va, n int) bool {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	_, ok := as.Vmregion.Lookup(uintptr(va))
	return ok
}

/// Userreadn reads n bytes from the user address va.
func (as *Vm_t) Userreadn(va, n int) (int, defs.Err_t) {
	as.Lock_pmap()
	a, b := as.userreadn_inner(va, n)
	as.Unlock_pmap()
	return a, b
}

func (as *Vm_t) userreadn_inner(va, n int) (int, defs.Err_t) {
	as.Lockassert_pmap()
	if n > 8 {
		panic("large n")
	}
	var ret int
	var src []uint8
	var err defs.Err_t
	for i := 0; i < n; i += len(src) {
		src, err = as.Userdmap8_inner(va+i, false)
		if err != 0 {
			return 0, err
		}
		l := n - i
		if len(src) < l {
			l = len(src)
		}
		v := util.Readn(src, l, 0)
		ret |= v << (8 * uint(i))
	}
	return ret, 0
}

/// Userwriten writes n bytes of val to the user address va.
func (as *Vm_t) Userwriten(va, n, val int) defs.Err_t {
	if n > 8 {
		panic("large n")
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	var dst []uint8
	for i := 0; i < n; i += len(dst) {
		v := val >> (8 * uint(i))
		t, err := as.Userdmap8_inner(va+i, true)
		dst = t
		if err != 0 {
			return err
		}
		util.Writen(dst, n-i, 0, v)
	}
	return 0
}

/// Userstr copies a NUL terminated string from user space up to lenmax
/// bytes.
func (as *Vm_t) Userstr(uva int, lenmax int) (ustr.Ustr, defs.Err_t) {
	if lenmax < 0 {
		return nil, 0
	}
	as.Lock_pmap()
	i := 0
	s := ustr.MkUstr()
	for {
		str, err := as.Userdmap8_inner(uva+i, false)
		if err != 0 {
			as.Unlock_pmap()
			return s, err
		}
		for j, c := range str {
			if c == 0 {
				s = append(s, str[:j]...)
				as.Unlock_pmap()
				return s, 0
			}
		}
		s = append(s, str...)
		i += len(str)
		if len(s) >= lenmax {
			as.Unlock_pmap()
			return nil, -defs.ENAMETOOLONG
		}
	}
}

/// Usertimespec reads a timespec structure (seconds, then nanoseconds)
/// from user memory at va.
func (as *Vm_t) Usertimespec(va int) (time.Duration, time.Time, defs.Err_t) {
	var zt time.Time
	secs, err := as.Userreadn(va, 8)
	if err != 0 {
		return 0, zt, err
	}
	nsecs, err := as.Userreadn(va+8, 8)
	if err != 0 {
		return 0, zt, err
	}
	if secs < 0 || nsecs < 0 {
		return 0, zt, -defs.EINVAL
	}
	tot := time.Duration(secs) * time.Second
	tot += time.Duration(nsecs) * time.Nanosecond
	t := time.Unix(int64(secs), int64(nsecs))
	return tot, t, 0
}

/// K2user copies src into the user virtual address space starting at uva.
func (as *Vm_t) K2user(src []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.K2user_inner(src, uva)
	as.Unlock_pmap()
	return ret
}

func (as *Vm_t) K2user_inner(src []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	l := len(src)
	for cnt != l {
		dst, err := as.Userdmap8_inner(uva+cnt, true)
		if err != 0 {
			return err
		}
		ub := len(src)
		if ub > len(dst) {
			ub = len(dst)
		}
		copy(dst, src)
		src = src[ub:]
		cnt += ub
	}
	return 0
}

/// User2k copies len(dst) bytes from the user virtual address uva into dst.
func (as *Vm_t) User2k(dst []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.User2k_inner(dst, uva)
	as.Unlock_pmap()
	return ret
}

func (as *Vm_t) User2k_inner(dst []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	for len(dst) != 0 {
		src, err := as.Userdmap8_inner(uva+cnt, false)
		if err != 0 {
			return err
		}
		did := copy(dst, src)
		dst = dst[did:]
		cnt += did
	}
	return 0
}

func (as *Vm_t) Unusedva_inner(startva, length int) int {
	as.Lockassert_pmap()
	if length < 0 || length > 1<<48 {
		panic("weird len")
	}
	startva = util.Rounddown(startva, mem.PGSIZE)
	if startva < USERMIN {
		startva = USERMIN
	}
	_ret, _l := as.Vmregion.empty(uintptr(startva), uintptr(length))
	ret := int(_ret)
	l := int(_l)
	if startva > ret && startva < ret+l {
		ret = startva
	}
	return ret
}

/// Tlbshoot would invalidate TLB entries on every CPU sharing this pmap.
/// This port runs address spaces as plain Go data structures with no
/// hardware TLB to shoot down; every translation goes through Userdmap8_inner
/// which always consults the current Pmap_t, so there is nothing stale to
/// invalidate. Kept as a no-op method so callers ported from the teacher's
/// fault handler don't need a separate code path.
func (as *Vm_t) Tlbshoot(startva uintptr, pgcount int) {
}

/// Sys_pgfault resolves a page fault for the address space as at the given
/// fault address with the provided error code.
func Sys_pgfault(as *Vm_t, vmi *Vminfo_t, faultaddr uintptr, ecode uint) defs.Err_t {
	isguard := vmi.Perms == 0
	iswrite := ecode&PTE_W != 0
	writeok := vmi.Perms&PTE_W != 0
	if isguard || (iswrite && !writeok) {
		return -defs.EFAULT
	}
	if ecode&PTE_U == 0 {
		panic("kernel page fault")
	}
	if vmi.Mtype == VSANON {
		panic("shared anon pages should always be mapped")
	}

	pte, ok := vmi.Ptefor(as.Pmap, faultaddr)
	if !ok {
		return -defs.ENOMEM
	}
	present := pte.valid && pte.Flags&PTE_P != 0
	wascow := pte.valid && pte.Flags&PTE_WASCOW != 0
	if iswrite && wascow && pte.Flags&PTE_COW == 0 {
		// either a simultaneous fault already upgraded this page, or a
		// protect round-trip dropped PTE_W from an exclusively owned
		// page; restore it
		pte.Flags |= PTE_W | PTE_D
		return 0
	}
	if !iswrite && present {
		// two threads simultaneously faulted on the same page
		return 0
	}

	var p_pg mem.Pa_t
	isblockpage := false
	perms := uint(PTE_U | PTE_P)
	isempty := true

	if vmi.Mtype == VFILE && vmi.file.shared {
		var err defs.Err_t
		_, p_pg, err = vmi.Filepage(faultaddr)
		if err != 0 {
			return err
		}
		isblockpage = true
		if vmi.Perms&PTE_W != 0 {
			perms |= PTE_W
		}
	} else if iswrite {
		if pte.valid && pte.Flags&PTE_W != 0 {
			panic("bad state")
		}
		var pgsrc *mem.Pg_t
		var p_bpg mem.Pa_t
		cow := pte.valid && pte.Flags&PTE_COW != 0
		if cow {
			// if this anonymous COW page is mapped exactly once (i.e.
			// only this mapping maps the page), claim the page, skip
			// the copy, and mark it writable.
			phys := pte.Page
			if vmi.Mtype == VANON && mem.Physmem.Refcnt(phys) == 1 {
				pte.Flags = (pte.Flags &^ PTE_COW) | PTE_W | PTE_WASCOW
				as.Tlbshoot(faultaddr, 1)
				return 0
			}
			pgsrc = mem.Physmem.Dmap(phys)
			isempty = false
		} else {
			if pte.valid {
				panic("no")
			}
			switch vmi.Mtype {
			case VANON:
				pgsrc = mem.Zeropg
			case VFILE:
				var err defs.Err_t
				pgsrc, p_bpg, err = vmi.Filepage(faultaddr)
				if err != 0 {
					return err
				}
				defer mem.Physmem.Refdown(p_bpg)
			default:
				panic("wut")
			}
		}
		var pg *mem.Pg_t
		var ok bool
		pg, p_pg, ok = mem.Physmem.Refpg_new_nozero()
		if !ok {
			return -defs.ENOMEM
		}
		*pg = *pgsrc
		perms |= PTE_WASCOW
		perms |= PTE_W
	} else {
		if pte.valid {
			panic("must be empty")
		}
		switch vmi.Mtype {
		case VANON:
			// shared zero page; a later write COW-faults off it
			p_pg = mem.Zeropa
		case VFILE:
			var err defs.Err_t
			_, p_pg, err = vmi.Filepage(faultaddr)
			if err != 0 {
				return err
			}
			isblockpage = true
		default:
			panic("wut")
		}
		if vmi.Perms&PTE_W != 0 {
			perms |= PTE_COW
		}
	}
	if perms&PTE_W != 0 {
		perms |= PTE_D
	}
	perms |= PTE_A

	var tshoot bool
	if isblockpage {
		tshoot, ok = as.Blockpage_insert(int(faultaddr), p_pg, perms, isempty, pte)
	} else {
		tshoot, ok = as.Page_insert(int(faultaddr), p_pg, perms, isempty, pte)
	}
	if !ok {
		mem.Physmem.Refdown(p_pg)
		return -defs.ENOMEM
	}
	if tshoot {
		as.Tlbshoot(faultaddr, 1)
	}
	return 0
}

/// Page_insert maps the physical page p_pg at va with perms, bumping its
/// refcount. It reports whether an existing mapping was replaced and
/// whether the insertion succeeded.
func (as *Vm_t) Page_insert(va int, p_pg mem.Pa_t, perms uint,
	vempty bool, pte *Pte_t) (bool, bool) {
	return as._page_insert(va, p_pg, perms, vempty, true, pte)
}

/// Blockpage_insert adds a page mapping without increasing the reference
/// count of p_pg (used for shared file-backed block-cache pages).
func (as *Vm_t) Blockpage_insert(va int, p_pg mem.Pa_t, perms uint,
	vempty bool, pte *Pte_t) (bool, bool) {
	return as._page_insert(va, p_pg, perms, vempty, false, pte)
}

func (as *Vm_t) _page_insert(va int, p_pg mem.Pa_t, perms uint,
	vempty, refup bool, pte *Pte_t) (bool, bool) {
	as.Lockassert_pmap()
	if refup {
		mem.Physmem.Refup(p_pg)
	}
	if pte == nil {
		var ok bool
		pte, ok = as.Pmap.Walk(uintptr(va), true)
		if !ok {
			return false, false
		}
	}
	ninval := false
	var p_old mem.Pa_t
	if pte.valid && pte.Flags&PTE_P != 0 {
		if vempty {
			panic("pte not empty")
		}
		ninval = true
		p_old = pte.Page
	}
	pte.Page = p_pg
	pte.Flags = perms | PTE_P
	pte.valid = true
	if ninval {
		mem.Physmem.Refdown(p_old)
	}
	return ninval, true
}

/// Page_remove unmaps the page at va from this address space and returns
/// true if a mapping was removed.
func (as *Vm_t) Page_remove(va int) bool {
	as.Lockassert_pmap()
	remmed := false
	pte, ok := as.Pmap.Lookup(uintptr(va))
	if ok && pte.Flags&PTE_P != 0 {
		mem.Physmem.Refdown(pte.Page)
		as.Pmap.Remove(uintptr(va))
		remmed = true
	}
	return remmed
}

/// Pgfault handles a page fault triggered by tid for the given fault
/// address and error code.
func (as *Vm_t) Pgfault(tid defs.Tid_t, fa uintptr, ecode uint) defs.Err_t {
	as.Lock_pmap()
	vmi, ok := as.Vmregion.Lookup(fa)
	if !ok {
		as.Unlock_pmap()
		return -defs.EFAULT
	}
	ret := Sys_pgfault(as, vmi, fa, ecode)
	as.Unlock_pmap()
	return ret
}

/// Uvmfree releases all user mappings associated with this address space.
func (as *Vm_t) Uvmfree() {
	as.Pmap.Each(func(va uintptr, pte *Pte_t) {
		mem.Physmem.Refdown(pte.Page)
	})
	as.Vmregion.Clear()
}

/// Vmadd_anon creates a private anonymous mapping at the given virtual
/// address range with the supplied permissions.
func (as *Vm_t) Vmadd_anon(start, length int, perms uint) {
	vmi := as._mkvmi(VANON, start, length, perms, 0, nil, nil)
	as.Vmregion.insert(vmi)
}

/// Vmadd_file maps a region backed by the provided file operations at the
/// specified offset.
func (as *Vm_t) Vmadd_file(start, length int, perms uint, fops fdops.Fdops_i,
	foff int) {
	vmi := as._mkvmi(VFILE, start, length, perms, foff, fops, nil)
	as.Vmregion.insert(vmi)
}

/// Vmadd_shareanon inserts a shared anonymous mapping.
func (as *Vm_t) Vmadd_shareanon(start, length int, perms uint) {
	vmi := as._mkvmi(VSANON, start, length, perms, 0, nil, nil)
	as.Vmregion.insert(vmi)
}

/// Vmadd_sharefile creates a shared file-backed mapping using fops
/// starting at the given offset.
func (as *Vm_t) Vmadd_sharefile(start, length int, perms uint, fops fdops.Fdops_i,
	foff int, unpin mem.Unpin_i) {
	vmi := as._mkvmi(VFILE, start, length, perms, foff, fops, unpin)
	as.Vmregion.insert(vmi)
}

// does not increase opencount on fops (Vmregion_t.insert does). perms
// should only carry PTE_U/PTE_W; the fault handler installs COW flags.
// perms == 0 means no mapping can go here (guard pages).
func (as *Vm_t) _mkvmi(mt mtype_t, start, length int, perms uint, foff int,
	fops fdops.Fdops_i, unpin mem.Unpin_i) *Vminfo_t {
	if length <= 0 {
		panic("bad vmi len")
	}
	if (start|length)&(mem.PGSIZE-1) != 0 {
		panic("start and len must be aligned")
	}
	pm := uint(PTE_W | PTE_COW | PTE_WASCOW | PTE_PS | PTE_PCD | PTE_P | PTE_U)
	if r := perms & pm; r != 0 && r != PTE_U && r != (PTE_W|PTE_U) {
		panic("bad perms")
	}
	ret := &Vminfo_t{}
	pgn := uintptr(start) >> mem.PGSHIFT
	pglen := util.Roundup(length, mem.PGSIZE) >> mem.PGSHIFT
	ret.Mtype = mt
	ret.Pgn = pgn
	ret.Pglen = pglen
	ret.Perms = perms
	if mt == VFILE {
		ret.file.foff = foff
		ret.file.mfile = &Mfile_t{}
		ret.file.mfile.foff = foff
		ret.file.mfile.mfops = fops
		ret.file.mfile.unpin = unpin
		ret.file.mfile.mapcount = pglen
		ret.file.shared = unpin != nil
		ret.file.shared = ret.file.shared || ret.file.mfile.shared
	}
	return ret
}

/// Mkuserbuf allocates and initializes a Userbuf_t referencing user memory
/// starting at userva.
func (as *Vm_t) Mkuserbuf(userva, length int) *Userbuf_t {
	ret := &Userbuf_t{}
	ret.ub_init(as, userva, length)
	return ret
}

/// Fork produces a child address space sharing every page with the parent
/// (spec §4.1's fork invariant): both pmaps end up pointing at the same
/// physical pages, private writable pages with PTE_W cleared and PTE_COW
/// set, and every page's refcount is bumped once for the child. Pages of
/// shared mappings (VSANON, shared files) stay aliased with their
/// permissions unchanged.
func (as *Vm_t) Fork() *Vm_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	child := MkVm()
	child.Vmregion.regions = append([]*Vminfo_t{}, as.Vmregion.regions...)
	for _, vmi := range child.Vmregion.regions {
		if vmi.Mtype == VFILE && vmi.file.mfile != nil && vmi.file.mfile.mfops != nil {
			vmi.file.mfile.mfops.Reopen()
		}
	}
	as.Pmap.Each(func(va uintptr, pte *Pte_t) {
		shared := false
		if vmi, ok := as.Vmregion.Lookup(va); ok {
			// MAP_PHYS/shared mappings are aliased, never CoW-copied
			shared = vmi.Mtype == VSANON || (vmi.Mtype == VFILE && vmi.file.shared)
		}
		if !shared && pte.Flags&PTE_W != 0 {
			// private writable page: downgrade both copies to COW; a
			// previously claimed (WASCOW) page goes back to COW too
			pte.Flags = (pte.Flags &^ (PTE_W | PTE_WASCOW)) | PTE_COW
		}
		mem.Physmem.Refup(pte.Page)
		npte, _ := child.Pmap.Walk(va, true)
		npte.Page = pte.Page
		npte.Flags = pte.Flags
		npte.valid = true
	})
	return child
}
