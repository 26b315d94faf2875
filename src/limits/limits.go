package limits

import "unsafe"
import "sync/atomic"

/// Lhits counts limit hits, for the stat device to report (ambient, kept
/// from the teacher unchanged).
var Lhits int

/// Sysatomic_t is a numeric limit that can be atomically updated, reused
/// verbatim from the teacher's resource-accounting idiom.
type Sysatomic_t int64

/// Syslimit_t tracks system-wide resource limits. The networking-specific
/// fields the teacher carried (Arpents, Routes, Tcpsegs, Socks) have no
/// home in this spec's VFS/IPC core (networking is an explicit Non-goal,
/// spec §1) and are replaced by limits for v-nodes, message ports, bufs,
/// knotes, and timers. Of the fields below, only Dnlcents (the DNLC) and
/// Pipes (fs.MkPipe) are checked anywhere in this kernel.
type Syslimit_t struct {
	// protected by the process table lock
	Sysprocs int
	// protected by the v-node free-list lock
	Vnodes int
	// protected by the per-port pending-list lock (spec §5)
	Msgports int
	// protected by the kqueue registration lock
	Knotes int
	// protected by the timer-wheel lock
	Timers int
	// total cached dirents in the DNLC
	Dnlcents Sysatomic_t
	// total pipes
	Pipes Sysatomic_t
	// bdev cache blocks (bufs), spec §4.9
	Bufs int
}

/// Syslimit describes the configured system wide limits.
var Syslimit *Syslimit_t = MkSysLimit()

/// MkSysLimit returns a pointer to the default set of limits.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Sysprocs: 1e4,
		Vnodes:   20000,
		Msgports: 4096,
		Knotes:   1 << 16,
		Timers:   1 << 14,
		Dnlcents: 1e5,
		Pipes:    1e4,
		// cache blocks; with a 16K cluster this bounds cache memory to 1.5GB
		Bufs: 100000,
	}
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64(s._aptr(), n)
}

/// Taken tries to decrement the limit by the provided amount.
/// It returns true on success.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	return false
}

/// Take decrements the limit and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}
