package fs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cheviot/src/defs"
	"cheviot/src/msg"
)

// memdisk_t backs a superblock with a flat in-memory byte store keyed by
// (ino, cluster), standing in for a block-device server.
type memdisk_t struct {
	sync.Mutex
	store  map[string][]byte
	writes int
	reads  int
	fail   bool
}

func mkMemdisk() *memdisk_t {
	return &memdisk_t{store: make(map[string][]byte)}
}

func (d *memdisk_t) Start(req *Bdev_req_t) bool {
	d.Lock()
	defer d.Unlock()
	req.Blks.Apply(func(b *Buf_t) {
		key := bufkey(b.Ino, b.Off)
		switch req.Cmd {
		case BDEV_READ:
			d.reads++
			if d.fail {
				b.SetError()
				return
			}
			if data, ok := d.store[key]; ok {
				copy(b.Data, data)
			} else {
				for i := range b.Data {
					b.Data[i] = 0
				}
			}
		case BDEV_WRITE:
			d.writes++
			if d.fail {
				b.SetError()
				return
			}
			d.store[key] = append([]byte{}, b.Data...)
		}
	})
	if req.Sync {
		go func() { req.AckCh <- true }()
	}
	return req.Sync
}

func (d *memdisk_t) Stats() string { return "" }

func (d *memdisk_t) get(ino uint, off int) ([]byte, bool) {
	d.Lock()
	defer d.Unlock()
	b, ok := d.store[bufkey(ino, off)]
	return b, ok
}

func mkTestSb(d Disk_i) *Superblock_t {
	return MkSuperblock(d, msg.MkPort())
}

func TestBwriteThenBreadObservesBytes(t *testing.T) {
	d := mkMemdisk()
	sb := mkTestSb(d)

	b := sb.Getblk(1, 0)
	copy(b.Data, "written bytes")
	b.Bwrite()

	// a fresh Bread of the same cluster sees the written data
	b2, ok := sb.Bread(1, 0, BSIZE)
	require.True(t, ok)
	require.Equal(t, "written bytes", string(b2.Data[:13]))
	b2.Brelse()
}

func TestBreadMissReadsThroughServer(t *testing.T) {
	d := mkMemdisk()
	d.store[bufkey(5, 0)] = append([]byte("server content"), make([]byte, BSIZE-14)...)
	sb := mkTestSb(d)

	b, ok := sb.Bread(5, 0, BSIZE)
	require.True(t, ok)
	require.Equal(t, "server content", string(b.Data[:14]))
	require.Equal(t, 1, d.reads)
	b.Brelse()

	// cached: a second Bread does not touch the disk
	b, ok = sb.Bread(5, 0, BSIZE)
	require.True(t, ok)
	b.Brelse()
	require.Equal(t, 1, d.reads)
}

func TestBreadErrorReturnsFailure(t *testing.T) {
	d := mkMemdisk()
	d.fail = true
	sb := mkTestSb(d)

	_, ok := sb.Bread(9, 0, BSIZE)
	require.False(t, ok)
}

func TestBreadZeroFillsPastEOF(t *testing.T) {
	d := mkMemdisk()
	sb := mkTestSb(d)

	// cluster entirely past eof never touches the server
	b, ok := sb.Bread(2, BSIZE, BSIZE/2)
	require.True(t, ok)
	for _, c := range b.Data {
		require.Zero(t, c)
	}
	require.Equal(t, 0, d.reads)
	b.Brelse()
}

func TestBdwriteFlushedByWheel(t *testing.T) {
	d := mkMemdisk()
	sb := mkTestSb(d)

	b := sb.Getblk(3, 0)
	copy(b.Data, "delayed")
	b.Bdwrite()
	require.Equal(t, 0, d.writes, "bdwrite must not write immediately")

	// advance the superblock wheel past DELWRI_DELAY_TICKS
	for i := 0; i < DELWRI_DELAY_TICKS+2; i++ {
		sb.wheel.Hardclock()
	}
	sb.wheel.Softclock()
	require.Equal(t, 1, d.writes)
	got, ok := d.get(3, 0)
	require.True(t, ok)
	require.Equal(t, "delayed", string(got[:7]))
}

func TestGetblkDrainsDelwriVictim(t *testing.T) {
	d := mkMemdisk()
	sb := mkTestSb(d)
	sb.maxbufs = 1 // force reuse of the single buf

	b := sb.Getblk(7, 0)
	copy(b.Data, "must not be lost")
	b.Bdwrite()

	// reusing the buf for a different cluster drains the pending write
	b2 := sb.Getblk(8, 0)
	require.Equal(t, 1, d.writes)
	got, ok := d.get(7, 0)
	require.True(t, ok)
	require.Equal(t, "must not be lost", string(got[:16]))
	b2.Brelse()
}

func TestGetblkBusyBlocksSecondCaller(t *testing.T) {
	d := mkMemdisk()
	sb := mkTestSb(d)

	b := sb.Getblk(1, 0)
	gotc := make(chan *Buf_t)
	go func() {
		gotc <- sb.Getblk(1, 0)
	}()
	select {
	case <-gotc:
		t.Fatal("second Getblk acquired a busy buf")
	case <-time.After(50 * time.Millisecond):
	}
	b.Brelse()
	select {
	case b2 := <-gotc:
		b2.Brelse()
	case <-time.After(5 * time.Second):
		t.Fatal("second Getblk never woke")
	}
}

func TestDiscardFromInvalidatesTail(t *testing.T) {
	d := mkMemdisk()
	sb := mkTestSb(d)

	for off := 0; off < 3*BSIZE; off += BSIZE {
		b := sb.Getblk(4, off)
		copy(b.Data, "stale")
		b.Bwrite()
	}
	sb.DiscardFrom(4, int64(BSIZE))

	// the truncated tail rereads as zeros (the store still has data, but
	// eof forces zero-fill); the first cluster is not discarded
	b, ok := sb.Bread(4, BSIZE, BSIZE)
	require.True(t, ok)
	require.Zero(t, b.Data[0])
	b.Brelse()
}

func TestSyncWritesDirtyBufs(t *testing.T) {
	d := mkMemdisk()
	sb := mkTestSb(d)

	b := sb.Getblk(6, 0)
	copy(b.Data, "dirty data")
	b.Bdwrite()
	require.Equal(t, 0, d.writes)

	sb.Sync()
	require.Equal(t, 1, d.writes)
	got, _ := d.get(6, 0)
	require.Equal(t, "dirty data", string(got[:10]))
}

func TestReadWriteFileClusterLoop(t *testing.T) {
	d := mkMemdisk()
	sb := mkTestSb(d)
	v := sb.Vcache.Get(11)
	v.MarkValid(defs.I_FILE, 0, 0644, 0, 0, 1)

	payload := make([]byte, BSIZE+100)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	var off int64
	n, err := WriteFile(v, payload, &off)
	require.Equal(t, 0, int(err))
	require.Equal(t, len(payload), n)
	require.Equal(t, int64(len(payload)), v.Size)

	off = 0
	got := make([]byte, len(payload))
	n, err = ReadFile(v, got, &off)
	require.Equal(t, 0, int(err))
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, got)

	// a short read at eof
	off = int64(len(payload)) - 10
	n, err = ReadFile(v, got, &off)
	require.Equal(t, 0, int(err))
	require.Equal(t, 10, n)
}
