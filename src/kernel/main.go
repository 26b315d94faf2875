// Kernel boot glue (spec §4.12): reserve the physical page arena, parse
// the IFS boot image, splice it in as the root mount with its server
// running, start the clock, and spawn the first user process on
// /sbin/init. The teacher's kernel main does the same dance against real
// hardware (physical-memory inventory from the bootloader, APIC timer,
// root filesystem from the AHCI disk); every hardware step here is the
// spec's out-of-scope collaborator, replaced by its software stand-in.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"cheviot/src/fs"
	"cheviot/src/ifs"
	"cheviot/src/mem"
	"cheviot/src/sys"
)

// memPages sizes the physical arena: 64 MB of 4K pages.
const memPages = 16384

func usage() {
	fmt.Printf("usage: kernel <ifs-image> [image_base image_size]\n")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	img, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Printf("kernel: cannot read IFS image: %v\n", err)
		os.Exit(1)
	}
	// the loader hands the IFS server its window as two argv strings
	// (spec §6); when present they bound the image within a larger blob
	if len(os.Args) >= 4 {
		base, err1 := strconv.ParseUint(os.Args[2], 0, 64)
		size, err2 := strconv.ParseUint(os.Args[3], 0, 64)
		if err1 != nil || err2 != nil || base+size > uint64(len(img)) {
			usage()
		}
		img = img[base : base+size]
	}

	mem.Phys_init(memPages)

	image, ierr := ifs.ParseImage(img)
	if ierr != 0 {
		fmt.Printf("kernel: bad IFS image (%v)\n", ierr)
		os.Exit(1)
	}

	k := sys.MkKernel()
	rootMnt, merr := fs.Mount(nil, nil, "", 0755, 0, 0)
	if merr != 0 {
		panic("root mount failed")
	}
	srv := ifs.MkServer(image)
	go srv.Serve(rootMnt.Sb.Port)
	k.SetRoot(rootMnt)

	stopClock := k.StartClock(10 * time.Millisecond)
	defer close(stopClock)
	stopReclaim := k.StartReclaimer()
	defer close(stopReclaim)

	initp := k.MkInitProc()
	if err := k.Exec(initp, "/sbin/init", []string{"init"}, nil); err != 0 {
		fmt.Printf("kernel: exec /sbin/init: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("boot: init pid %v entry %#x sp %#x\n", initp.Pid, initp.Entry, initp.Sp)

	// with no CPU to return to user mode on, hold the kernel up for its
	// servers until the root server aborts
	srv.WaitDone()
}
