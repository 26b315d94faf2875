// Package res implements the rendez wait-channel primitive described by
// the scheduler (spec §4.2): sleep(rendez)/wakeup(rendez)/wakeup_all and
// a timed variant. On stock Go there is no kernel scheduler to cooperate
// with, so a Rendez_t is a generation counter over a sync.Cond.
//
// The missed-wakeup discipline: a sleeper observes the generation with
// Gen() BEFORE checking its wakeup condition, then parks with SleepOn
// (or TimedSleepOn). A Wakeup that lands between the condition check and
// the park bumps the generation, so SleepOn returns immediately instead
// of stranding the sleeper — the same ordering contract the teacher's
// kernel gets from releasing its spinlock inside sleep().
package res

import (
	"sync"
	"time"
)

/// Rendez_t is a wait-channel: any number of goroutines may sleep on it,
/// woken by Wakeup (at least one) or WakeupAll (every waiter).
type Rendez_t struct {
	mu   sync.Mutex
	cond *sync.Cond
	gen  uint64
}

/// Init must be called before first use (the embedded cond needs its
/// locker).
func (r *Rendez_t) Init() {
	r.cond = sync.NewCond(&r.mu)
}

/// Gen observes the current wakeup generation; pass it to SleepOn after
/// re-checking the sleep condition.
func (r *Rendez_t) Gen() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

/// SleepOn blocks until a wakeup arrives after generation g was
/// observed. If one already has, it returns immediately.
func (r *Rendez_t) SleepOn(g uint64) {
	r.mu.Lock()
	for g == r.gen {
		r.cond.Wait()
	}
	r.mu.Unlock()
}

/// Sleep blocks until the next wakeup. Only correct when the caller has
/// no condition to re-check (or rechecks in a loop around Gen/SleepOn —
/// which is what every kernel sleep site does).
func (r *Rendez_t) Sleep() {
	r.SleepOn(r.Gen())
}

/// TimedSleepOn blocks like SleepOn but gives up after timeout,
/// reporting whether it timed out.
func (r *Rendez_t) TimedSleepOn(g uint64, timeout time.Duration) (timedout bool) {
	if timeout < 0 {
		r.SleepOn(g)
		return false
	}
	deadline := time.Now().Add(timeout)
	done := make(chan struct{})
	tm := time.AfterFunc(timeout, func() {
		select {
		case <-done:
		default:
			r.mu.Lock()
			r.cond.Broadcast()
			r.mu.Unlock()
		}
	})
	defer tm.Stop()
	defer close(done)

	r.mu.Lock()
	for g == r.gen {
		if !time.Now().Before(deadline) {
			r.mu.Unlock()
			return true
		}
		r.cond.Wait()
	}
	r.mu.Unlock()
	return false
}

/// TimedSleep blocks until woken or until timeout elapses.
func (r *Rendez_t) TimedSleep(timeout time.Duration) (timedout bool) {
	return r.TimedSleepOn(r.Gen(), timeout)
}

/// Wakeup wakes at least one sleeper. Every parked goroutine re-checks
/// its generation, so this broadcasts; sleepers whose wakeup this isn't
/// go straight back to sleep via their condition loop.
func (r *Rendez_t) Wakeup() {
	r.mu.Lock()
	r.gen++
	r.cond.Broadcast()
	r.mu.Unlock()
}

/// WakeupAll wakes every sleeper.
func (r *Rendez_t) WakeupAll() {
	r.mu.Lock()
	r.gen++
	r.cond.Broadcast()
	r.mu.Unlock()
}
