package proc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cheviot/src/defs"
	"cheviot/src/util"
)

// mkElf32 assembles a minimal one-segment ELF32 executable image.
func mkElf32(machine uint16, entry uint32, vaddr uint32, code []byte, bss uint32) []byte {
	const ehsize = 52
	const phentsize = 32
	img := make([]byte, ehsize+phentsize+len(code))

	// e_ident
	copy(img, []byte{0x7f, 'E', 'L', 'F', 1 /* ELFCLASS32 */, 1 /* LSB */, 1 /* EV_CURRENT */})
	util.PutLE16(img[16:18], 2) // ET_EXEC
	util.PutLE16(img[18:20], machine)
	util.PutLE32(img[20:24], 1) // e_version
	util.PutLE32(img[24:28], entry)
	util.PutLE32(img[28:32], ehsize) // e_phoff
	util.PutLE32(img[32:36], 0)      // e_shoff
	util.PutLE32(img[36:40], 0)      // e_flags
	util.PutLE16(img[40:42], ehsize)
	util.PutLE16(img[42:44], phentsize)
	util.PutLE16(img[44:46], 1) // e_phnum
	util.PutLE16(img[46:48], 40)
	util.PutLE16(img[48:50], 0)
	util.PutLE16(img[50:52], 0)

	ph := img[ehsize:]
	util.PutLE32(ph[0:4], 1) // PT_LOAD
	util.PutLE32(ph[4:8], ehsize+phentsize)
	util.PutLE32(ph[8:12], vaddr)
	util.PutLE32(ph[12:16], vaddr)
	util.PutLE32(ph[16:20], uint32(len(code)))
	util.PutLE32(ph[20:24], uint32(len(code))+bss)
	util.PutLE32(ph[24:28], 7) // PF_R|PF_W|PF_X
	util.PutLE32(ph[28:32], 0x1000)

	copy(img[ehsize+phentsize:], code)
	return img
}

func TestExecLoadsSegments(t *testing.T) {
	p := MkProc(1, "t")
	code := []byte("MACHINECODE segment contents for the loader")
	const vaddr = 0x400000
	img := mkElf32(40 /* EM_ARM */, vaddr+8, vaddr, code, 0x200)

	err := p.Exec(img, []string{"init", "-s"}, []string{"TERM=vt100"})
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, uint(vaddr+8), p.Entry)

	// PT_LOAD contents are mapped at p_vaddr
	got := make([]uint8, len(code))
	require.Equal(t, defs.Err_t(0), p.Vm.User2k(got, vaddr))
	require.Equal(t, code, got)

	// the memsz tail beyond filesz reads as zeros
	tail := make([]uint8, 16)
	require.Equal(t, defs.Err_t(0), p.Vm.User2k(tail, vaddr+len(code)))
	for _, b := range tail {
		require.Zero(t, b)
	}
}

func TestExecMarshalsArgv(t *testing.T) {
	p := MkProc(1, "t")
	img := mkElf32(3 /* EM_386 */, 0x400000, 0x400000, []byte{0xc3}, 0)
	argv := []string{"prog", "arg1", "arg two"}
	envp := []string{"A=1", "B=2"}
	require.Equal(t, defs.Err_t(0), p.Exec(img, argv, envp))

	sp := int(p.Sp)
	argc, err := p.Vm.Userreadn(sp, 4)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, len(argv), argc)

	arrBase, _ := p.Vm.Userreadn(sp+4, 4)
	for i, want := range argv {
		strp, err := p.Vm.Userreadn(arrBase+4*i, 4)
		require.Equal(t, defs.Err_t(0), err)
		s, err := p.Vm.Userstr(strp, 256)
		require.Equal(t, defs.Err_t(0), err)
		require.Equal(t, want, s.String())
	}
	// argv array is NULL terminated, envp follows
	null, _ := p.Vm.Userreadn(arrBase+4*len(argv), 4)
	require.Zero(t, null)
	envBase := arrBase + 4*(len(argv)+1)
	for i, want := range envp {
		strp, _ := p.Vm.Userreadn(envBase+4*i, 4)
		s, err := p.Vm.Userstr(strp, 256)
		require.Equal(t, defs.Err_t(0), err)
		require.Equal(t, want, s.String())
	}
}

func TestExecRejectsBadImages(t *testing.T) {
	p := MkProc(1, "t")
	require.Equal(t, defs.Err_t(-defs.ENOEXEC), p.Exec([]byte("junk"), nil, nil))

	// a 64-bit machine is refused even with valid framing
	img := mkElf32(62 /* EM_X86_64 */, 0x400000, 0x400000, []byte{0xc3}, 0)
	require.Equal(t, defs.Err_t(-defs.ENOEXEC), p.Exec(img, nil, nil))
}

func TestExecSweepsCloexec(t *testing.T) {
	p := MkProc(1, "t")
	keep := &nopfops_t{}
	lose := &nopfops_t{}
	kfd, _ := p.Fd_new(keep, 0, 0)
	lfd, _ := p.Fd_new(lose, 0, 0)
	p.Fcntl(lfd, defs.F_SETFD, 1)

	img := mkElf32(40, 0x400000, 0x400000, []byte{0}, 0)
	require.Equal(t, defs.Err_t(0), p.Exec(img, []string{"x"}, nil))
	require.NotNil(t, p.Fd_get(kfd))
	require.Nil(t, p.Fd_get(lfd))
	require.Equal(t, 1, lose.closes)
}
