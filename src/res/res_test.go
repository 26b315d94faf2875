package res

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWakeupOne(t *testing.T) {
	var r Rendez_t
	r.Init()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Sleep()
	}()
	// no missed-wakeup even if Wakeup races the sleeper's park
	time.Sleep(10 * time.Millisecond)
	r.Wakeup()
	wg.Wait()
}

func TestWakeupAll(t *testing.T) {
	var r Rendez_t
	r.Init()

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			r.Sleep()
		}()
	}
	time.Sleep(10 * time.Millisecond)
	r.WakeupAll()
	wg.Wait()
}

func TestTimedSleepTimesOut(t *testing.T) {
	var r Rendez_t
	r.Init()

	start := time.Now()
	timedout := r.TimedSleep(50 * time.Millisecond)
	require.True(t, timedout)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestTimedSleepWoken(t *testing.T) {
	var r Rendez_t
	r.Init()

	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Wakeup()
	}()
	timedout := r.TimedSleep(5 * time.Second)
	require.False(t, timedout)
}
