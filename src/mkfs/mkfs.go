// Command mkfs builds an IFS boot image (spec §6's image format) from a
// skeleton directory tree on the host, the image the kernel's boot glue
// mounts as the root filesystem. Replaces the teacher's mkfs, which
// wrote its ufs inode/bitmap layout into a raw disk image; the walk-and-
// copy structure is kept, the output format is the IFS node table.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cheviot/src/ifs"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Printf("Usage: mkfs <output image> <skel dir>\n")
		os.Exit(1)
	}
	out, skel := os.Args[1], os.Args[2]

	var nodes []ifs.Node_t
	var datas [][]byte

	// ino 0 is the root directory
	nodes = append(nodes, ifs.Node_t{Name: "/", Ino: 0, ParentIno: -1,
		Perm: ifs.S_IFDIR | 0755})
	datas = append(datas, nil)

	inoByPath := map[string]int32{"": 0}
	nextIno := int32(1)

	err := filepath.WalkDir(skel, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(path, skel), "/")
		if rel == "" {
			return nil
		}
		parent := inoByPath[filepath.Dir(rel)]
		if filepath.Dir(rel) == "." {
			parent = 0
		}
		name := filepath.Base(rel)
		if len(name) >= ifs.MaxNodeName {
			return fmt.Errorf("name too long: %v", name)
		}

		n := ifs.Node_t{Name: name, Ino: nextIno, ParentIno: parent}
		var data []byte
		info, ierr := d.Info()
		if ierr != nil {
			return ierr
		}
		switch {
		case d.IsDir():
			n.Perm = ifs.S_IFDIR | uint32(info.Mode().Perm())
			inoByPath[rel] = nextIno
		case info.Mode()&os.ModeSymlink != 0:
			tgt, lerr := os.Readlink(path)
			if lerr != nil {
				return lerr
			}
			n.Perm = ifs.S_IFLNK | 0777
			data = []byte(tgt)
		default:
			n.Perm = ifs.S_IFREG | uint32(info.Mode().Perm())
			data, err = os.ReadFile(path)
			if err != nil {
				return err
			}
		}
		nextIno++
		nodes = append(nodes, n)
		datas = append(datas, data)
		return nil
	})
	if err != nil {
		fmt.Printf("mkfs: %v\n", err)
		os.Exit(1)
	}

	img := ifs.BuildImage(nodes, datas)
	if err := os.WriteFile(out, img, 0644); err != nil {
		fmt.Printf("mkfs: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("mkfs: wrote %v nodes, %v bytes\n", len(nodes), len(img))
}
