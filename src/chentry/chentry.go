// Command chentry rewrites the entry address of a kernel or boot image.
//
// The boot loader jumps to the address in the ELF header; updating it
// after a link lets the build place the real entry trampoline without
// relinking. Used by the image build the way the teacher's build uses
// its own chentry step.
package main

import (
	"debug/elf"
	"fmt"
	"log"
	"os"
	"strconv"

	"cheviot/src/util"
)

// e_entry's offset in an ELF32 header.
const entryOff32 = 24

func usage(me string) {
	fmt.Printf("%s <filename> <addr>\n\nChange the ELF entry point of <filename> to <addr>\n", me)
	os.Exit(1)
}

// chkELF rejects anything but the 32-bit little-endian ARM/386
// executables this kernel's exec loader accepts.
func chkELF(eh *elf.FileHeader) {
	if eh.Data != elf.ELFDATA2LSB {
		log.Fatal("not little-endian")
	}
	if eh.Class != elf.ELFCLASS32 {
		log.Fatal("not a 32-bit elf")
	}
	if eh.Type != elf.ET_EXEC {
		log.Fatal("not an executable elf")
	}
	if eh.Machine != elf.EM_ARM && eh.Machine != elf.EM_386 {
		log.Fatal("not an ARM or 386 elf")
	}
}

func main() {
	if len(os.Args) != 3 {
		usage(os.Args[0])
	}
	fn := os.Args[1]
	addr, err := strconv.ParseUint(os.Args[2], 0, 64)
	if err != nil {
		log.Fatalf("invalid address %q", os.Args[2])
	}
	if addr>>32 != 0 {
		log.Fatal("entry must fit in 32 bits")
	}
	f, err := os.OpenFile(fn, os.O_RDWR, 0)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		log.Fatal(err)
	}
	chkELF(&ef.FileHeader)

	fmt.Printf("using address 0x%x\n", addr)
	var word [4]byte
	util.PutLE32(word[:], uint32(addr))
	if _, err := f.WriteAt(word[:], entryOff32); err != nil {
		log.Fatal(err)
	}
}
