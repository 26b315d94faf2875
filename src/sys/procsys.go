// Process-control syscalls: fork/exec/exit/waitpid, signal delivery,
// and the virtual_* address-space calls (spec §6, §4.1, §4.11).
package sys

import (
	"cheviot/src/defs"
	"cheviot/src/mem"
	"cheviot/src/proc"
	"cheviot/src/util"
	"cheviot/src/vm"
)

/// Fork clones p (spec §4.1's CoW fork plus §4.4's fd-table copy),
/// returning the child.
func (k *Kernel_t) Fork(p *proc.Proc_t) (*proc.Proc_t, defs.Err_t) {
	k.mu.Lock()
	pid := k.nextPid
	k.nextPid++
	k.mu.Unlock()
	child, err := p.Fork(pid)
	if err != 0 {
		return nil, err
	}
	k.mu.Lock()
	k.procs[pid] = child
	k.mu.Unlock()
	return child, 0
}

/// Exec loads path's ELF image into p (spec §4.11).
func (k *Kernel_t) Exec(p *proc.Proc_t, path string, argv, envp []string) defs.Err_t {
	fdn, err := k.Open(p, path, defs.O_RDONLY, 0)
	if err != 0 {
		return err
	}
	defer p.Close(fdn)

	// read the whole image through the block cache
	var img []byte
	buf := make([]byte, 4096)
	for {
		n, rerr := k.Read(p, fdn, buf)
		if rerr != 0 {
			return rerr
		}
		if n == 0 {
			break
		}
		img = append(img, buf[:n]...)
	}
	if err := p.Exec(img, argv, envp); err != 0 {
		return err
	}
	p.Name = path
	return 0
}

/// Exit terminates p (spec §6).
func (k *Kernel_t) Exit(p *proc.Proc_t, status int) {
	p.Exit(status)
	k.mu.Lock()
	delete(k.procs, p.Pid)
	k.mu.Unlock()
}

/// Waitpid reaps a child of p.
func (k *Kernel_t) Waitpid(p *proc.Proc_t, pid defs.Pid_t, nohang bool) (defs.Pid_t, int, defs.Err_t) {
	return p.Waitpid(pid, nohang)
}

/// Kill delivers sig to the process named pid (spec §6).
func (k *Kernel_t) Kill(p *proc.Proc_t, pid defs.Pid_t, sig int) defs.Err_t {
	tgt, ok := k.ProcFor(pid)
	if !ok {
		return -defs.ENOENT
	}
	if p != nil && p.Uid != 0 && p.Uid != tgt.Uid {
		return -defs.EPERM
	}
	tgt.SignalRaise(sig)
	return 0
}

/// Sigaction, Sigprocmask, Sigsuspend forward to the process's signal
/// state (spec §6; delivery only, per §1's scoping).
func (k *Kernel_t) Sigaction(p *proc.Proc_t, sig int, act *proc.Sigaction_t) (proc.Sigaction_t, defs.Err_t) {
	return p.Sigaction(sig, act)
}

func (k *Kernel_t) Sigprocmask(p *proc.Proc_t, how int, mask uint64) (uint64, defs.Err_t) {
	return p.Sigprocmask(how, mask)
}

func (k *Kernel_t) Sigsuspend(p *proc.Proc_t, mask uint64) defs.Err_t {
	return p.Sigsuspend(mask)
}

/// VirtualAlloc maps length bytes of lazily backed anonymous memory,
/// returning the chosen address (spec §6's virtual_alloc; spec §4.1's
/// anonymous mappings).
func (k *Kernel_t) VirtualAlloc(p *proc.Proc_t, length int, writable bool) (int, defs.Err_t) {
	if length <= 0 {
		return 0, -defs.EINVAL
	}
	length = util.Roundup(length, mem.PGSIZE)
	perms := uint(vm.PTE_U)
	if writable {
		perms |= vm.PTE_W
	}
	p.Vm.Lock_pmap()
	va := p.Vm.Unusedva_inner(vm.USERMIN, length)
	p.Vm.Unlock_pmap()
	p.Vm.Vmadd_anon(va, length, perms)
	return va, 0
}

/// VirtualAllocPhys maps length bytes of eagerly committed, shared
/// memory: the pages exist immediately, are never CoW-copied by fork,
/// and are shared with any forked child (spec §4.1's MAP_PHYS).
func (k *Kernel_t) VirtualAllocPhys(p *proc.Proc_t, length int) (int, defs.Err_t) {
	if length <= 0 {
		return 0, -defs.EINVAL
	}
	length = util.Roundup(length, mem.PGSIZE)
	p.Vm.Lock_pmap()
	defer p.Vm.Unlock_pmap()
	va := p.Vm.Unusedva_inner(vm.USERMIN, length)
	p.Vm.Vmadd_shareanon(va, length, vm.PTE_U|vm.PTE_W)
	for off := 0; off < length; off += mem.PGSIZE {
		_, pa, ok := mem.Physmem.Refpg_new()
		if !ok {
			return 0, -defs.ENOMEM
		}
		if _, ok := p.Vm.Page_insert(va+off, pa, vm.PTE_U|vm.PTE_W, true, nil); !ok {
			return 0, -defs.ENOMEM
		}
	}
	return va, 0
}

/// VirtualFree unmaps [va, va+length) (spec §6's virtual_free).
func (k *Kernel_t) VirtualFree(p *proc.Proc_t, va, length int) defs.Err_t {
	return p.Vm.Unmap(va, util.Roundup(length, mem.PGSIZE))
}

/// VirtualProtect changes a mapping's protection (spec §6).
func (k *Kernel_t) VirtualProtect(p *proc.Proc_t, va, length int, writable bool) defs.Err_t {
	perms := uint(vm.PTE_U)
	if writable {
		perms |= vm.PTE_W
	}
	return p.Vm.Protect(va, util.Roundup(length, mem.PGSIZE), perms)
}
