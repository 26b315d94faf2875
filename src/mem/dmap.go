package mem

/// Kept as a placeholder for symmetry with the teacher's split between
/// mem.go (the page arena) and dmap.go (the direct map). This port has no
/// real direct-mapped virtual address window — Dmap in mem.go returns the
/// arena-backed page directly — so there is nothing architecture-specific
/// left to initialize here. Address-space virtual layout constants
/// (USERMIN and friends) live in the vm package instead, since they
/// describe process address spaces rather than the physical arena.
