// Package oom carries out-of-memory notifications from the page
// allocator to whichever subsystem is positioned to reclaim (the block
// cache, first, by flushing clean and delayed-write bufs; the process
// table next, by killing the largest resident process). Adapted from the
// teacher's oommsg package (same channel-of-requests shape); renamed
// since "oommsg" named the message type rather than the concern.
package oom

/// Ch is the channel the allocator sends a Request on when a Refpg_new
/// fails; a reclaimer goroutine receives, frees what it can, and replies
/// on Resume once progress has been made (or false if none was possible).
var Ch chan Request = make(chan Request)

/// Request describes how many pages the failed allocation needed.
type Request struct {
	Need   int
	Resume chan bool
}
