package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countFire_t struct {
	n int32
}

func (c *countFire_t) Fire() { atomic.AddInt32(&c.n, 1) }

func (c *countFire_t) count() int { return int(atomic.LoadInt32(&c.n)) }

func tick(w *Wheel_t, n int) {
	for i := 0; i < n; i++ {
		w.Hardclock()
	}
	w.Softclock()
}

func TestRelativeFiresOnce(t *testing.T) {
	w := MkWheel()
	cb := &countFire_t{}
	w.ArmRelative(10*time.Second/JIFFIES_PER_SECOND, cb) // 10 ticks

	tick(w, 9)
	require.Equal(t, 0, cb.count())
	tick(w, 1)
	require.Equal(t, 1, cb.count())
	// a fired timer is disarmed: exactly once per arming
	tick(w, 2 * nbuckets)
	require.Equal(t, 1, cb.count())
}

func TestAbsoluteFires(t *testing.T) {
	w := MkWheel()
	cb := &countFire_t{}
	w.ArmAbsolute(1, cb) // fires once the wheel's second counter hits 1

	tick(w, JIFFIES_PER_SECOND-1)
	require.Equal(t, 0, cb.count())
	tick(w, 1)
	require.Equal(t, 1, cb.count())
	tick(w, 3*JIFFIES_PER_SECOND)
	require.Equal(t, 1, cb.count())
}

func TestSoftclockCatchesUp(t *testing.T) {
	w := MkWheel()
	cb := &countFire_t{}
	w.ArmRelative(3*time.Second/JIFFIES_PER_SECOND, cb)

	// hardclock races ahead; one softclock sweep covers every due jiffy
	for i := 0; i < 50; i++ {
		w.Hardclock()
	}
	w.Softclock()
	require.Equal(t, 1, cb.count())
}

func TestNow(t *testing.T) {
	w := MkWheel()
	for i := 0; i < JIFFIES_PER_SECOND+5; i++ {
		w.Hardclock()
	}
	sec, jif := w.Now()
	require.Equal(t, int64(1), sec)
	require.Equal(t, Jiffy_t(5), jif)
}
