//go:build linux

package gateway

import (
	"errors"

	"golang.org/x/sys/unix"
)

var errTableFull = errors.New("gateway: connection table full")

// conn is one open client connection: its socket, the request bytes
// accumulated so far, and a mark set once its removal has been scheduled.
type conn struct {
	fd      int32
	buf     []byte // len = bytes used, cap = fixed request budget
	closing bool
}

// connTable is the dense set of open connections, mirrored slot for slot
// into the tail of the poll set: connection i lives at pollfd[connOffset+i].
// Slots [0,count) are always exactly the active connections; removal swaps
// the last slot into the hole, so slot indices are unstable across drains.
//
// The fixed head of the poll set is owned here too, so the whole array the
// loop passes to poll(2) stays in one place, like the C array it descends
// from. Buffers are preallocated once, one per slot, and migrate between
// the active slots and the free stack as connections come and go.
type connTable struct {
	capacity int
	conns    []conn        // cap fixed at capacity; never reallocates
	fds      []unix.PollFd // cap fixed at connOffset+capacity; never reallocates
	free     [][]byte      // spare buffer stack

	// removals holds fds, not slot indices: a drain that has already
	// swapped the table can still resolve every queued connection to its
	// current slot. The closing mark on each conn makes scheduling
	// idempotent, so one connection can never be queued twice per batch.
	removals []int32
}

func newConnTable(capacity, bufSize, wakeFd, listenFd int) *connTable {
	t := &connTable{
		capacity: capacity,
		conns:    make([]conn, 0, capacity),
		fds:      make([]unix.PollFd, connOffset, connOffset+capacity),
		free:     make([][]byte, 0, capacity),
		removals: make([]int32, 0, capacity),
	}
	for i := 0; i < capacity; i++ {
		t.free = append(t.free, make([]byte, 0, bufSize))
	}
	t.fds[pollWake] = unix.PollFd{Fd: int32(wakeFd), Events: unix.POLLIN}
	t.fds[pollListener] = unix.PollFd{Fd: int32(listenFd)}
	return t
}

func (t *connTable) count() int { return len(t.conns) }

func (t *connTable) full() bool { return len(t.conns) == t.capacity }

// pollSet returns the poll array covering the head plus every active
// connection. Adds during an iteration append in place (capacity is
// preallocated), so a snapshot taken before poll(2) stays valid.
func (t *connTable) pollSet() []unix.PollFd { return t.fds }

func (t *connTable) conn(i int) *conn { return &t.conns[i] }

// add appends a connection with a fresh buffer and returns its slot.
func (t *connTable) add(fd int32) (int, error) {
	if t.full() {
		return -1, errTableFull
	}
	buf := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	t.conns = append(t.conns, conn{fd: fd, buf: buf[:0]})
	t.fds = append(t.fds, unix.PollFd{Fd: fd, Events: unix.POLLIN})
	return len(t.conns) - 1, nil
}

// remove swaps the last active slot into slot i and shrinks the table.
// The vacated buffer goes back on the free stack with its length reset.
// Removing the last slot is the degenerate same-slot case of the swap.
func (t *connTable) remove(i int) bool {
	if i < 0 || i >= len(t.conns) {
		return false
	}
	last := len(t.conns) - 1
	t.free = append(t.free, t.conns[i].buf[:0])

	t.conns[i] = t.conns[last]
	t.conns[last] = conn{}
	t.conns = t.conns[:last]

	t.fds[connOffset+i] = t.fds[connOffset+last]
	t.fds = t.fds[:connOffset+last]
	return true
}

// scheduleRemove queues slot i for removal at the end of the current
// iteration. Reports false if this connection was already scheduled.
func (t *connTable) scheduleRemove(i int) bool {
	c := &t.conns[i]
	if c.closing {
		return false
	}
	c.closing = true
	t.removals = append(t.removals, c.fd)
	return true
}

// drainRemovals applies the whole removal batch, then clears it. Queued
// fds are re-resolved to their current slots one at a time, so the swaps
// performed by earlier removals in the batch never retarget later ones.
// Only slots still marked closing match: a connection accepted later in
// the same iteration can carry a just-recycled fd number and must not be
// torn down in its place.
func (t *connTable) drainRemovals() {
	for _, fd := range t.removals {
		if i := t.indexOfClosing(fd); i >= 0 {
			t.remove(i)
		}
	}
	t.removals = t.removals[:0]
}

func (t *connTable) indexOfClosing(fd int32) int {
	for i := range t.conns {
		if t.conns[i].fd == fd && t.conns[i].closing {
			return i
		}
	}
	return -1
}

// closeAll closes every remaining connection socket. Shutdown only.
func (t *connTable) closeAll() {
	for i := range t.conns {
		unix.Close(int(t.conns[i].fd))
	}
	t.conns = t.conns[:0]
	t.fds = t.fds[:connOffset]
	t.removals = t.removals[:0]
}
