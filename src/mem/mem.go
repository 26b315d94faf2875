// Package mem implements physical page allocation: a fixed arena of
// Pg_t-sized pages, refcounted so that copy-on-write sharing (vm package)
// and the block cache (fs package) can safely hold concurrent references.
//
// The teacher's version is written against a patched Go runtime exposing
// x86_64 paging primitives (runtime.Get_phys, runtime.Cpuid, runtime.Vtop,
// runtime.Pml4freeze, runtime.Rcr4, runtime.CPUHint, runtime.MAXCPUS) and
// walks real PML4/PDPT/PD page tables via a direct-mapped VA window. Real
// MMU/pmap management is a hardware-architecture collaborator this spec
// places out of scope (§1 Non-goals: "pmap/bootloader/driver internals").
// This port keeps the teacher's refcounted-arena API (Physmem_t, Pa_t,
// Pg_t, Page_i, Refup/Refdown/Refpg_new) — everything vm and fs actually
// call — and backs it with a plain Go-allocated arena addressed by a
// synthetic Pa_t index rather than a real physical address, since no
// caller outside this package inspects the numeric value of a Pa_t.
package mem

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"cheviot/src/oom"
)

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

/// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

/// Pa_t is an opaque page handle. Only this package interprets its value;
/// every other package treats it as an opaque token obtained from
/// Refpg_new and passed back to Refup/Refdown/Dmap.
type Pa_t uintptr

/// Bytepg_t is a byte addressed page.
type Bytepg_t [PGSIZE]uint8

/// Pg_t is a generic page of ints, matching the teacher's machine-word
/// view of a page (used for page-table-shaped data in the vm package).
type Pg_t [PGSIZE / 8]int

/// Unpin_i allows unpinning of physical pages held by a caller across an
/// async operation (e.g. an in-flight block write).
type Unpin_i interface {
	Unpin(Pa_t)
}

/// Page_i abstracts physical page allocation so higher layers (vm, fs,
/// circbuf) don't depend on the concrete allocator.
type Page_i interface {
	Refpg_new() (*Pg_t, Pa_t, bool)
	Refpg_new_nozero() (*Pg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Pg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

/// Pg2bytes converts a page of ints to a page of bytes.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

/// Bytepg2pg converts a byte page back to a Pg_t.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

/// Physpg_t describes a single physical page's accounting state.
type Physpg_t struct {
	Refcnt int32
	// index into pgs of next page on the free list; ^uint32(0) means "end"
	nexti uint32
	pg    Pg_t
}

/// Physmem_t manages all physical memory for the system: a fixed arena of
/// pages, a singly linked free list through Physpg_t.nexti, and atomic
/// refcounts so concurrent Refup/Refdown don't need the arena lock.
type Physmem_t struct {
	sync.Mutex
	Pgs     []Physpg_t
	freei   uint32
	freelen int32
	Dmapinit bool
}

/// Refaddr returns the refcount pointer for p_pg.
func (phys *Physmem_t) Refaddr(p_pg Pa_t) (*int32, uint32) {
	idx := uint32(p_pg)
	return &phys.Pgs[idx].Refcnt, idx
}

/// Refcnt returns the current reference count of a page.
func (phys *Physmem_t) Refcnt(p_pg Pa_t) int {
	ref, _ := phys.Refaddr(p_pg)
	return int(atomic.LoadInt32(ref))
}

/// Refup increments the reference count of a page.
func (phys *Physmem_t) Refup(p_pg Pa_t) {
	ref, _ := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, 1)
	if c <= 0 {
		panic("refup of freed page")
	}
}

// _refdec decrements the refcount, returning whether it hit zero.
func (phys *Physmem_t) _refdec(p_pg Pa_t) bool {
	ref, _ := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, -1)
	if c < 0 {
		panic("refdown of unreferenced page")
	}
	return c == 0
}

/// Refdown decrements the reference count of a page, returning true if
/// the page was freed.
func (phys *Physmem_t) Refdown(p_pg Pa_t) bool {
	if !phys._refdec(p_pg) {
		return false
	}
	idx := uint32(p_pg)
	phys.Lock()
	phys.Pgs[idx].nexti = phys.freei
	phys.freei = idx
	phys.freelen++
	phys.Unlock()
	return true
}

/// Zeropg is a global zero-filled page used to initialize fresh
/// allocations; Zeropa is its handle, mapped read-only/COW behind
/// never-written anonymous pages.
var Zeropg *Pg_t
var Zeropa Pa_t

func (phys *Physmem_t) _refpg_new() (*Pg_t, Pa_t, bool) {
	phys.Lock()
	ff := phys.freei
	if ff == ^uint32(0) {
		phys.Unlock()
		return nil, 0, false
	}
	phys.freei = phys.Pgs[ff].nexti
	phys.freelen--
	phys.Unlock()
	atomic.StoreInt32(&phys.Pgs[ff].Refcnt, 0)
	return &phys.Pgs[ff].pg, Pa_t(ff), true
}

/// Refpg_new allocates a zeroed page. Its refcount starts at zero; the
/// caller is expected to Refup it once it is installed somewhere.
func (phys *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	pg, p_pg, ok := phys._refpg_new()
	if !ok {
		// ask a reclaimer (the block caches, via the kernel context) to
		// free pages, then retry once
		resume := make(chan bool, 1)
		select {
		case oom.Ch <- oom.Request{Need: 1, Resume: resume}:
			<-resume
			pg, p_pg, ok = phys._refpg_new()
		default:
		}
	}
	if !ok {
		return nil, 0, false
	}
	if Zeropg != nil {
		*pg = *Zeropg
	} else {
		for i := range pg {
			pg[i] = 0
		}
	}
	return pg, p_pg, true
}

/// Refpg_new_nozero allocates an uninitialized page.
func (phys *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	return phys._refpg_new()
}

/// Dmap returns the page backing physical handle p. Named to match the
/// teacher's direct-map accessor even though this port has no actual
/// virtual-address direct map; it is the one spot every caller goes
/// through to turn a Pa_t back into addressable memory.
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	idx := uint32(p)
	return &phys.Pgs[idx].pg
}

/// Dmap8 returns a byte slice view of the page backing p.
func (phys *Physmem_t) Dmap8(p Pa_t) []uint8 {
	pg := phys.Dmap(p)
	return Pg2bytes(pg)[:]
}

/// Pgcount reports the number of free pages remaining in the arena.
func (phys *Physmem_t) Pgcount() int {
	phys.Lock()
	defer phys.Unlock()
	return int(phys.freelen)
}

/// Physmem is the global physical memory allocator instance.
var Physmem = &Physmem_t{}

/// Phys_init reserves an arena of npages pages and builds the initial free
/// list. The teacher's counterpart walks the bootloader's memory map via
/// runtime.Get_phys(); this port instead commits a fixed Go-heap arena,
/// since no real physical memory map exists on this toolchain.
func Phys_init(npages int) *Physmem_t {
	phys := Physmem
	phys.Pgs = make([]Physpg_t, npages)
	for i := range phys.Pgs {
		phys.Pgs[i].Refcnt = -10
		if i == npages-1 {
			phys.Pgs[i].nexti = ^uint32(0)
		} else {
			phys.Pgs[i].nexti = uint32(i + 1)
		}
	}
	phys.freei = 0
	phys.freelen = int32(npages)
	phys.Dmapinit = true

	zpg, zpa, ok := phys._refpg_new()
	if !ok {
		panic("oom reserving zero page")
	}
	for i := range zpg {
		zpg[i] = 0
	}
	phys.Refup(zpa)
	Zeropg = zpg
	Zeropa = zpa

	fmt.Printf("mem: reserved %v pages (%vMB)\n", npages, npages>>8)
	return phys
}
