package util

import "encoding/binary"

// On-disk and on-wire structures (ext2-style superblocks, the IFS image
// header, fsreq payloads) are little-endian regardless of host byte order
// (spec §9). Readn/Writen in util.go operate on native machine words for
// in-kernel copies where host order is correct by construction; anything
// that crosses to a disk or wire format must go through these instead.

// LE16 decodes a little-endian uint16 at the start of b.
func LE16(b []uint8) uint16 { return binary.LittleEndian.Uint16(b) }

// LE32 decodes a little-endian uint32 at the start of b.
func LE32(b []uint8) uint32 { return binary.LittleEndian.Uint32(b) }

// LE64 decodes a little-endian uint64 at the start of b.
func LE64(b []uint8) uint64 { return binary.LittleEndian.Uint64(b) }

// PutLE16 writes v into b in little-endian order.
func PutLE16(b []uint8, v uint16) { binary.LittleEndian.PutUint16(b, v) }

// PutLE32 writes v into b in little-endian order.
func PutLE32(b []uint8, v uint32) { binary.LittleEndian.PutUint32(b, v) }

// PutLE64 writes v into b in little-endian order.
func PutLE64(b []uint8, v uint64) { binary.LittleEndian.PutUint64(b, v) }
