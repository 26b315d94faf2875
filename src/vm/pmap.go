package vm

import (
	"sync"

	"cheviot/src/mem"
)

/// Permission/state bits carried by a Pte_t and by Vminfo_t.Perms. The
/// teacher packs these into the low bits of a raw x86_64 PTE word sharing
/// space with the physical address; here the physical handle (mem.Pa_t) is
/// an opaque arena index that cannot be bit-packed with flags, so a PTE is
/// a small struct instead of a machine word.
const (
	PTE_P      = 1 << iota /// present
	PTE_W                  /// writable
	PTE_U                  /// user accessible; always set for user mappings
	PTE_COW                /// anonymous copy-on-write, not yet claimed
	PTE_WASCOW             /// was COW, now exclusively owned and writable
	PTE_D                  /// dirty
	PTE_A                  /// accessed
	PTE_PS                 /// large page (kept for parity; unused by this port)
	PTE_PCD                /// cache-disable (kept for parity; unused)
)

/// Pte_t is one page-table entry.
type Pte_t struct {
	Page  mem.Pa_t
	Flags uint
	valid bool
}

/// Pmap_t is a process's software page table, keyed by page-aligned virtual
/// address. Real hardware radix-tree walking (PML4/PDPT/PD/PT on x86_64,
/// or the ARM MMU's own tables) is a hardware/bootloader collaborator this
/// spec places out of scope (§1 Non-goals); everything the vm layer needs
/// from a page table is a va->pa translation plus per-page permission
/// bits, which this map provides directly.
type Pmap_t struct {
	sync.Mutex
	entries map[uintptr]*Pte_t
}

/// NewPmap allocates an empty page table.
func NewPmap() *Pmap_t {
	return &Pmap_t{entries: make(map[uintptr]*Pte_t)}
}

func pgrounddown(va uintptr) uintptr {
	return va &^ uintptr(mem.PGSIZE-1)
}

/// Walk returns the PTE for the page containing va, allocating an empty
/// (not-present) entry if create is set and none exists yet.
func (pm *Pmap_t) Walk(va uintptr, create bool) (*Pte_t, bool) {
	pm.Lock()
	defer pm.Unlock()
	key := pgrounddown(va)
	pte, ok := pm.entries[key]
	if !ok {
		if !create {
			return nil, false
		}
		pte = &Pte_t{}
		pm.entries[key] = pte
	}
	return pte, true
}

/// Lookup returns the PTE for va only if it is present.
func (pm *Pmap_t) Lookup(va uintptr) (*Pte_t, bool) {
	pm.Lock()
	defer pm.Unlock()
	pte, ok := pm.entries[pgrounddown(va)]
	if !ok || !pte.valid {
		return nil, false
	}
	return pte, true
}

/// Remove deletes any entry for va.
func (pm *Pmap_t) Remove(va uintptr) {
	pm.Lock()
	defer pm.Unlock()
	delete(pm.entries, pgrounddown(va))
}

/// Clone returns a deep copy of the page table. It does not bump refcounts
/// on the mapped pages or mark writable entries COW; Vm_t.Fork does not
/// use it and copies entries itself.
func (pm *Pmap_t) Clone() *Pmap_t {
	pm.Lock()
	defer pm.Unlock()
	np := NewPmap()
	for k, v := range pm.entries {
		cp := *v
		np.entries[k] = &cp
	}
	return np
}

/// Each iterates every present entry, calling f(va, pte). f must not
/// mutate the map.
func (pm *Pmap_t) Each(f func(va uintptr, pte *Pte_t)) {
	pm.Lock()
	defer pm.Unlock()
	for k, v := range pm.entries {
		if v.valid {
			f(k, v)
		}
	}
}
