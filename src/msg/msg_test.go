package msg

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cheviot/src/defs"
)

func TestSendReceiveReply(t *testing.T) {
	p := MkPort()
	payload := []byte("hello server")
	buf := &Bytes_t{B: append([]byte{}, payload...)}

	var wg sync.WaitGroup
	wg.Add(1)
	var status defs.Err_t
	go func() {
		defer wg.Done()
		status = p.Send(7, buf)
	}()

	// wait for the message to land on the pending list
	for !p.Pending() {
		time.Sleep(time.Millisecond)
	}

	got := make([]byte, 5)
	pid, n, ok := p.GetMsg(got)
	require.True(t, ok)
	require.Equal(t, defs.Pid_t(7), pid)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(got))

	// cursor advanced; read the rest
	rest := make([]byte, 16)
	n, err := p.ReadMsg(7, rest)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, " server", string(rest[:n]))

	// seek back and overwrite in place
	require.Equal(t, defs.Err_t(0), p.SeekMsg(7, 0))
	_, err = p.WriteMsg(7, []byte("HELLO"))
	require.Equal(t, defs.Err_t(0), err)

	require.Equal(t, defs.Err_t(0), p.ReplyMsg(7, 42))
	wg.Wait()
	require.Equal(t, defs.Err_t(42), status)
	require.Equal(t, "HELLO server", string(buf.B))
}

func TestFIFOOrder(t *testing.T) {
	p := MkPort()
	for i := 1; i <= 3; i++ {
		pid := defs.Pid_t(i)
		go p.Send(pid, &Bytes_t{B: []byte{byte(i)}})
	}
	got := make([]defs.Pid_t, 0, 3)
	deadline := time.Now().Add(time.Second)
	for len(got) < 3 && time.Now().Before(deadline) {
		b := make([]byte, 1)
		if pid, _, ok := p.GetMsg(b); ok {
			require.Equal(t, byte(pid), b[0])
			got = append(got, pid)
			p.ReplyMsg(pid, 0)
		} else {
			time.Sleep(time.Millisecond)
		}
	}
	require.Len(t, got, 3)
}

func TestStateMachineNoRevisit(t *testing.T) {
	p := MkPort()
	go p.Send(1, &Bytes_t{B: []byte("x")})
	for !p.Pending() {
		time.Sleep(time.Millisecond)
	}

	// reply before receive is invalid: the message is still SEND
	require.Equal(t, defs.Err_t(-defs.EINVAL), p.ReplyMsg(1, 0))

	b := make([]byte, 1)
	_, _, ok := p.GetMsg(b)
	require.True(t, ok)
	require.Equal(t, defs.Err_t(0), p.ReplyMsg(1, 0))

	// REPLIED is terminal: every accessor now fails
	require.Equal(t, defs.Err_t(-defs.EINVAL), p.ReplyMsg(1, 0))
	_, err := p.ReadMsg(1, b)
	require.Equal(t, defs.Err_t(-defs.EINVAL), err)
	require.Equal(t, defs.Err_t(-defs.EINVAL), p.SeekMsg(1, 0))
}

func TestAbortWakesSenders(t *testing.T) {
	p := MkPort()
	const n = 4
	var wg sync.WaitGroup
	statuses := make([]defs.Err_t, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			statuses[i] = p.Send(defs.Pid_t(i+1), &Bytes_t{B: []byte("x")})
		}(i)
	}
	deadline := time.Now().Add(time.Second)
	for !p.Pending() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	p.Abort()
	wg.Wait()
	for _, st := range statuses {
		require.Equal(t, defs.Err_t(-defs.EIO), st)
	}
	// further sends fail immediately
	require.Equal(t, defs.Err_t(-defs.EIO), p.Send(9, &Bytes_t{B: []byte("y")}))
}

func TestCancelPendingMessage(t *testing.T) {
	p := MkPort()
	m, err := p.Begin(3, &Bytes_t{B: []byte("x")})
	require.Equal(t, defs.Err_t(0), err)
	require.True(t, p.Cancel(m))
	require.Equal(t, defs.Err_t(-defs.EINTR), m.Wait())

	// a received message cannot be withdrawn
	m2, _ := p.Begin(4, &Bytes_t{B: []byte("y")})
	b := make([]byte, 1)
	_, _, ok := p.GetMsg(b)
	require.True(t, ok)
	require.False(t, p.Cancel(m2))
	p.ReplyMsg(4, 5)
	require.Equal(t, defs.Err_t(5), m2.Wait())
}
