package vm

/// USERMIN is the lowest virtual address a user mapping may occupy. Kept
/// as a named constant (rather than inlined) since the exec loader and the
/// mmap address-picking logic (Unusedva_inner) both anchor on it.
const USERMIN int = 1 << 21
