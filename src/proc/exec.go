// The exec loader (spec §4.11): validate a 32-bit ARM/386 ET_EXEC
// image, rebuild the address space from its PT_LOAD segments, and
// marshal argv/env onto a fresh user stack with the pointers rewritten
// to their stack addresses. ELF parsing uses debug/elf, the same package
// the teacher's chentry tool reaches for when it rewrites kernel image
// headers.
package proc

import (
	"bytes"
	"debug/elf"
	"sync"

	"cheviot/src/defs"
	"cheviot/src/mem"
	"cheviot/src/res"
	"cheviot/src/util"
	"cheviot/src/vm"
)

// the argv/env marshalling pool is a process-wide single-user resource
// (spec §4.11's execargs_rendez + execargs_busy)
const execargsSz = 4 * mem.PGSIZE

var execargsLock sync.Mutex
var execargsBusy bool
var execargsRendez res.Rendez_t
var execargsOnce sync.Once
var execargsPool [execargsSz]byte

func execargsTake() {
	execargsOnce.Do(func() { execargsRendez.Init() })
	for {
		g := execargsRendez.Gen()
		execargsLock.Lock()
		if !execargsBusy {
			execargsBusy = true
			execargsLock.Unlock()
			return
		}
		execargsLock.Unlock()
		execargsRendez.SleepOn(g)
	}
}

func execargsGive() {
	execargsLock.Lock()
	execargsBusy = false
	execargsLock.Unlock()
	execargsRendez.Wakeup()
}

/// USTACK_TOP is the top of the fresh user stack exec maps; STACKPAGES
/// is its initial size.
const (
	USTACK_TOP = 0x7fff0000
	STACKPAGES = 8
)

// ptrSz is the user pointer width: every supported machine (EM_ARM,
// EM_386) is ELFCLASS32.
const ptrSz = 4

/// Exec replaces p's address space with the program image img, passing
/// argv and envp. On success p.Entry/p.Sp hold the initial register
/// state; on failure the old address space is untouched. Descriptors
/// marked close-on-exec are swept only on success (spec §4.4, §4.11).
func (p *Proc_t) Exec(img []byte, argv, envp []string) defs.Err_t {
	f, err := elf.NewFile(bytes.NewReader(img))
	if err != nil {
		return -defs.ENOEXEC
	}
	if f.Class != elf.ELFCLASS32 || f.Type != elf.ET_EXEC ||
		(f.Machine != elf.EM_ARM && f.Machine != elf.EM_386) {
		return -defs.ENOEXEC
	}

	execargsTake()
	defer execargsGive()

	// copy the strings into the pool, computing total marshalled size
	pool := execargsPool[:0]
	nptrs := len(argv) + len(envp) + 2
	total := nptrs * ptrSz
	for _, s := range append(append([]string{}, argv...), envp...) {
		total += len(s) + 1
		if total > execargsSz {
			return -defs.ENAMETOOLONG
		}
		pool = append(pool, s...)
		pool = append(pool, 0)
	}

	oldvm := p.Vm
	p.Vm = vm.MkVm()
	fail := func(e defs.Err_t) defs.Err_t {
		p.Vm.Lock_pmap()
		p.Vm.Uvmfree()
		p.Vm.Unlock_pmap()
		p.Vm = oldvm
		return e
	}

	for _, ph := range f.Progs {
		if ph.Type != elf.PT_LOAD {
			continue
		}
		if ph.Memsz == 0 {
			continue
		}
		start := util.Rounddown(int(ph.Vaddr), mem.PGSIZE)
		end := util.Roundup(int(ph.Vaddr)+int(ph.Memsz), mem.PGSIZE)
		if start < vm.USERMIN || int(ph.Off)+int(ph.Filesz) > len(img) {
			return fail(-defs.ENOEXEC)
		}
		p.Vm.Vmadd_anon(start, end-start, vm.PTE_U|vm.PTE_W)
		filesz := int(ph.Filesz)
		if filesz > 0 {
			seg := img[int(ph.Off) : int(ph.Off)+filesz]
			if e := p.Vm.K2user(seg, int(ph.Vaddr)); e != 0 {
				return fail(e)
			}
		}
		// memsz beyond filesz stays zero: anonymous pages fault in as
		// copies of the zero page
		if ph.Flags&elf.PF_W == 0 {
			p.Vm.Protect(start, end-start, vm.PTE_U)
		}
	}

	// fresh user stack
	stackBottom := USTACK_TOP - STACKPAGES*mem.PGSIZE
	p.Vm.Vmadd_anon(stackBottom, STACKPAGES*mem.PGSIZE, vm.PTE_U|vm.PTE_W)

	// marshal argv/env to the stack top, strings first (top-down), then
	// the two NULL-terminated pointer arrays below them
	strTop := USTACK_TOP
	strBase := strTop - (total - nptrs*ptrSz)
	arrBase := util.Rounddown(strBase-nptrs*ptrSz, 2*ptrSz)

	if e := p.Vm.K2user(pool, strBase); e != 0 {
		return fail(e)
	}
	va := arrBase
	soff := strBase
	writeArr := func(strs []string) defs.Err_t {
		for _, s := range strs {
			if e := p.Vm.Userwriten(va, ptrSz, soff); e != 0 {
				return e
			}
			va += ptrSz
			soff += len(s) + 1
		}
		if e := p.Vm.Userwriten(va, ptrSz, 0); e != 0 {
			return e
		}
		va += ptrSz
		return 0
	}
	if e := writeArr(argv); e != 0 {
		return fail(e)
	}
	if e := writeArr(envp); e != 0 {
		return fail(e)
	}

	// argc and the argv pointer sit just below the arrays
	sp := arrBase - 2*ptrSz
	if e := p.Vm.Userwriten(sp, ptrSz, len(argv)); e != 0 {
		return fail(e)
	}
	if e := p.Vm.Userwriten(sp+ptrSz, ptrSz, arrBase); e != 0 {
		return fail(e)
	}

	oldvm.Lock_pmap()
	oldvm.Uvmfree()
	oldvm.Unlock_pmap()

	p.CloexecSweep()
	p.Entry = uint(f.Entry)
	p.Sp = uint(sp)
	return 0
}
