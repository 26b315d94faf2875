// Package timer implements the hardclock/softclock timing wheel (spec
// §4.3): a top half that advances a jiffy counter and a bottom half that
// sweeps due buckets and fires each armed timer exactly once.
//
// The teacher has no equivalent package (biscuit times deadlines with
// plain time.Timer/time.AfterFunc scattered through its file code); this
// kernel centralizes timer semantics in one wheel because the block
// cache (bdflush/bdwrite), kqueue's EVFILT_TIMER, and set_timer all need
// the same "fires exactly once per arming" contract. The structure is
// the classic hashed wheel the spec describes: JIFFIES_PER_SECOND
// buckets indexed by expiration jiffy, each timer carrying the seconds
// still to wait; a bucket sweep fires timers whose seconds have run out
// and decrements the rest.
package timer

import (
	"sync"
	"time"
)

/// JIFFIES_PER_SECOND sets the wheel's resolution and bucket count.
const JIFFIES_PER_SECOND = 100

const nbuckets = JIFFIES_PER_SECOND

/// Jiffy_t counts ticks.
type Jiffy_t int64

/// Timeout_i is notified exactly once when an armed timer fires.
type Timeout_i interface {
	Fire()
}

type timer_t struct {
	relative bool
	// for a relative timer, whole bucket revolutions still to wait; for
	// an absolute timer, the softclock second it fires in
	secs int64
	cb   Timeout_i
}

/// Wheel_t is a single timing wheel: Hardclock advances its tick count,
/// Softclock catches the sweep cursor up and fires due timers.
type Wheel_t struct {
	mu      sync.Mutex
	hardSec int64
	hardJif Jiffy_t
	softSec int64
	softJif Jiffy_t
	buckets [nbuckets][]*timer_t
}

/// MkWheel constructs an empty wheel.
func MkWheel() *Wheel_t {
	return &Wheel_t{}
}

/// Hardclock runs in (simulated) interrupt context: advance the tick.
func (w *Wheel_t) Hardclock() {
	w.mu.Lock()
	w.hardJif++
	if w.hardJif == JIFFIES_PER_SECOND {
		w.hardJif = 0
		w.hardSec++
	}
	w.mu.Unlock()
}

/// Softclock runs on kernel exit with preemption disabled: advance the
/// soft cursor toward hardclock one jiffy at a time, and for each jiffy
/// swept fire every due timer in its bucket, disarming it (spec §4.3's
/// exactly-once contract). Callbacks run outside the wheel lock.
func (w *Wheel_t) Softclock() {
	var due []*timer_t
	w.mu.Lock()
	for w.softSec < w.hardSec || (w.softSec == w.hardSec && w.softJif < w.hardJif) {
		w.softJif++
		if w.softJif == JIFFIES_PER_SECOND {
			w.softJif = 0
			w.softSec++
		}
		b := int(w.softJif)
		kept := w.buckets[b][:0]
		for _, t := range w.buckets[b] {
			fire := false
			if t.relative {
				if t.secs == 0 {
					fire = true
				} else {
					t.secs--
				}
			} else if t.secs <= w.softSec {
				fire = true
			}
			if fire {
				due = append(due, t)
			} else {
				kept = append(kept, t)
			}
		}
		w.buckets[b] = kept
	}
	w.mu.Unlock()
	for _, t := range due {
		t.cb.Fire()
	}
}

/// ArmTicks arms a timer to fire after the given number of wheel ticks.
func (w *Wheel_t) ArmTicks(ticks Jiffy_t, cb Timeout_i) {
	if ticks <= 0 {
		ticks = 1
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	// ahead counts ticks from the soft cursor to expiry; the sweep first
	// reaches the expiry bucket first ticks on, then once per revolution
	ahead := Jiffy_t(w.hardSec-w.softSec)*JIFFIES_PER_SECOND + w.hardJif - w.softJif + ticks
	first := (ahead-1)%JIFFIES_PER_SECOND + 1
	expire := w.softJif + ahead
	t := &timer_t{relative: true, secs: int64((ahead - first) / JIFFIES_PER_SECOND), cb: cb}
	w.buckets[int(expire%JIFFIES_PER_SECOND)] = append(
		w.buckets[int(expire%JIFFIES_PER_SECOND)], t)
}

/// ArmRelative arms a timer to fire after duration d of wheel time.
func (w *Wheel_t) ArmRelative(d time.Duration, cb Timeout_i) {
	w.ArmTicks(Jiffy_t(d*JIFFIES_PER_SECOND/time.Second), cb)
}

/// ArmAbsolute arms a timer to fire when the wheel's second counter
/// reaches sec (spec §4.3's absolute timers).
func (w *Wheel_t) ArmAbsolute(sec int64, cb Timeout_i) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t := &timer_t{relative: false, secs: sec, cb: cb}
	w.buckets[0] = append(w.buckets[0], t)
}

/// Now returns the current (seconds, jiffy-within-second) pair.
func (w *Wheel_t) Now() (int64, Jiffy_t) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hardSec, w.hardJif
}

/// Default is the system-wide wheel driven by the kernel's clock
/// interrupt source.
var Default = MkWheel()
