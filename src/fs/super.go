package fs

import (
	"container/list"
	"sync"
	"time"

	"cheviot/src/hashtable"
	"cheviot/src/msg"
	"cheviot/src/timer"
)

/// Superblock_t is the kernel-side handle for one mounted filesystem: its
/// block cache, delayed-write wheel, and the message port connecting it
/// to its user-space server (spec §4.5, §4.9). The teacher's Superblock_t
/// instead exposes raw ext2-style on-disk layout fields (log length,
/// inode bitmap, free-block bitmap) read through an opaque fieldr/fieldw
/// accessor pair — on-disk layout is entirely a server concern under this
/// spec's server-protocol design (§4.10), so those accessors have no
/// place in the kernel-side Superblock_t and are dropped; everything this
/// type keeps is cache/session state the kernel itself must track.
type Superblock_t struct {
	Port *msg.Port_t

	cacheLock sync.Mutex
	cache     *hashtable.Hashtable_t

	freeLock sync.Mutex
	free     *list.List
	nbufs    int
	maxbufs  int

	wheel *timer.Wheel_t
	Disk  Disk_i

	stopc chan struct{}

	Vcache Vnodecache_t
}

/// DEFAULT_MAXBUFS bounds how many cluster-sized buffers one mounted
/// filesystem's cache may hold before Getblk starts recycling the LRU
/// buf instead of growing the cache further.
const DEFAULT_MAXBUFS = 4096

/// MkSuperblock constructs a superblock bound to disk d and server port p.
func MkSuperblock(d Disk_i, p *msg.Port_t) *Superblock_t {
	sb := &Superblock_t{
		Port:    p,
		cache:   hashtable.MkHash(4096),
		free:    list.New(),
		maxbufs: DEFAULT_MAXBUFS,
		wheel:   timer.MkWheel(),
		Disk:    d,
		stopc:   make(chan struct{}),
	}
	sb.Vcache.init(sb)
	return sb
}

/// StartFlusher launches the write-behind flusher goroutine (bdflush):
/// every BDFLUSH_WAKEUP_INTERVAL it advances the wheel's softclock,
/// firing any bufs whose delayed write has matured (spec §4.9).
func (sb *Superblock_t) StartFlusher() {
	go func() {
		t := time.NewTicker(BDFLUSH_WAKEUP_INTERVAL)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				sb.wheel.Hardclock()
				sb.wheel.Softclock()
			case <-sb.stopc:
				return
			}
		}
	}()
}

/// StopFlusher halts the background flusher, used when unmounting.
func (sb *Superblock_t) StopFlusher() {
	close(sb.stopc)
}

/// Sync forces the dirty bufs in the cache out to the server and waits
/// for completion, used by sync()/umount. A dirty buf that is busy (held
/// by a Getblk caller) at the time is skipped and stays dirty.
func (sb *Superblock_t) Sync() {
	var dirty []*Buf_t
	sb.cacheLock.Lock()
	for _, pair := range sb.cache.Elems() {
		b := pair.Value.(*Buf_t)
		b.Lock()
		if b.dirty {
			dirty = append(dirty, b)
		}
		b.Unlock()
	}
	sb.cacheLock.Unlock()
	for _, b := range dirty {
		b.Lock()
		busy := b.busy
		b.Unlock()
		if busy {
			continue
		}
		b.writeSync()
		b.Lock()
		b.dirty = false
		b.delwri = false
		b.Unlock()
	}
}
