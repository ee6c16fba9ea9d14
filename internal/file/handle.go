// Package file implements the per-handle layer over the scheduler: open
// read-only file descriptors with a virtual read position, an async-slot table
// tying in-flight scheduler requests back to their handle, and a
// pause/resume protocol for system suspend.
package file

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/aquariaport/pkgrt/internal/ioreq"
)

var (
	ErrNotFound      = errors.New("file: not found")
	ErrTooManyHandles = errors.New("file: too many open handles")
	ErrNameTooLong   = errors.New("file: name too long")
	ErrInvalid       = errors.New("file: invalid handle or argument")
)

const maxNameLength = 4096

// Whence mirrors io.Seeker's constants for Seek.
type Whence = int

const (
	SeekSet = io.SeekStart
	SeekCur = io.SeekCurrent
	SeekEnd = io.SeekEnd
)

type slotKind int

const (
	slotOpen slotKind = iota
	slotRead
)

// Handle is one open file: a real OS file plus a virtual cursor, guarded by
// its own mutex so concurrent use from multiple goroutines outside this
// package is disallowed, exactly as in the original.
type Handle struct {
	mu       sync.Mutex
	path     string
	f        *os.File
	pf       *preadFile
	size     int64
	position int64

	sched *ioreq.Scheduler
	slots map[int]slotKind

	paused bool
}

// Manager owns the scheduler and opens handles against it.
type Manager struct {
	sched *ioreq.Scheduler

	mu      sync.Mutex
	handles map[*Handle]bool
}

// NewManager starts a scheduler and returns a Manager bound to it.
func NewManager() *Manager {
	return &Manager{sched: ioreq.New(), handles: make(map[*Handle]bool)}
}

// Close shuts down the underlying scheduler.
func (m *Manager) Close() { m.sched.Close() }

// Open opens path for reading and captures its size.
func (m *Manager) Open(path string) (*Handle, error) {
	if len(path) > maxNameLength {
		return nil, ErrNameTooLong
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	h := &Handle{
		path:  path,
		f:     f,
		pf:    newPreadFile(int(f.Fd())),
		size:  info.Size(),
		sched: m.sched,
		slots: make(map[int]slotKind),
	}
	m.mu.Lock()
	m.handles[h] = true
	m.mu.Unlock()
	return h, nil
}

// Dup returns a handle sharing the same path, position, and size, but its
// own OS file descriptor and slot table.
func (m *Manager) Dup(h *Handle) (*Handle, error) {
	h.mu.Lock()
	path, pos := h.path, h.position
	h.mu.Unlock()
	nh, err := m.Open(path)
	if err != nil {
		return nil, err
	}
	nh.mu.Lock()
	nh.position = pos
	nh.mu.Unlock()
	return nh, nil
}

// Size returns the size captured at open time.
func (h *Handle) Size() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// Seek repositions the virtual cursor without touching the kernel fd (the
// scheduler always issues absolute-offset reads).
func (h *Handle) Seek(pos int64, whence Whence) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var np int64
	switch whence {
	case SeekSet:
		np = pos
	case SeekCur:
		np = h.position + pos
	case SeekEnd:
		np = h.size + pos
	default:
		return 0, ErrInvalid
	}
	if np < 0 {
		return 0, ErrInvalid
	}
	h.position = np
	return np, nil
}

// ReadSync submits an immediate request and waits for it, advancing the
// virtual position by the bytes transferred.
func (h *Handle) ReadSync(buf []byte) (int, error) {
	req, err := h.ReadAsync(buf, len(buf), h.currentPos())
	if err != nil {
		return 0, err
	}
	n, result, err := h.Wait(req)
	if err != nil {
		return n, err
	}
	h.mu.Lock()
	h.position += int64(n)
	h.mu.Unlock()
	switch result {
	case ioreq.ResultOK, ioreq.ResultShortRead:
		return n, nil
	case ioreq.ResultCanceled:
		return n, ErrInvalid
	default:
		return n, err
	}
}

func (h *Handle) currentPos() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.position
}

// ReadAsync submits a read at an absolute offset, independent of the
// virtual cursor, and returns a request id for Poll/Wait/Abort.
func (h *Handle) ReadAsync(buf []byte, length int, pos int64) (int, error) {
	h.mu.Lock()
	pf := h.pf
	h.mu.Unlock()
	if pf == nil {
		return 0, ErrInvalid
	}
	id, err := h.sched.Submit(pf, buf, pos, length, time.Time{})
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	h.slots[id] = slotRead
	h.mu.Unlock()
	return id, nil
}

// ReadAsyncDeadline is ReadAsync with a wall-clock deadline, producing a
// Deadline-class request instead of Immediate.
func (h *Handle) ReadAsyncDeadline(buf []byte, length int, pos int64, deadline time.Time) (int, error) {
	h.mu.Lock()
	pf := h.pf
	h.mu.Unlock()
	if pf == nil {
		return 0, ErrInvalid
	}
	id, err := h.sched.Submit(pf, buf, pos, length, deadline)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	h.slots[id] = slotRead
	h.mu.Unlock()
	return id, nil
}

// Poll reports completion of an async request without blocking.
func (h *Handle) Poll(id int) ioreq.Status { return h.sched.Poll(id) }

// Wait blocks for an async request to finish and frees its slot.
func (h *Handle) Wait(id int) (int, ioreq.Result, error) {
	n, result, err := h.sched.Wait(id)
	h.mu.Lock()
	delete(h.slots, id)
	h.mu.Unlock()
	return n, result, err
}

// Abort cooperatively cancels an in-flight request.
func (h *Handle) Abort(id int) { h.sched.Abort(id) }

// Close releases the kernel fd. Pending async requests should be aborted
// and waited on first.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.f == nil {
		return nil
	}
	err := h.f.Close()
	h.f = nil
	h.pf = nil
	return err
}

// Pause drains in-flight waits and closes the kernel fd while preserving
// the virtual position, for system suspend.
func (h *Handle) Pause() {
	h.mu.Lock()
	ids := make([]int, 0, len(h.slots))
	for id := range h.slots {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.sched.Abort(id)
		h.sched.Wait(id)
	}

	h.mu.Lock()
	h.slots = make(map[int]slotKind)
	if h.f != nil {
		h.f.Close()
		h.f = nil
		h.pf = nil
	}
	h.paused = true
	h.mu.Unlock()
}

// Resume reopens the handle's file by path, keeping its virtual position.
func (h *Handle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.paused {
		return nil
	}
	f, err := os.Open(h.path)
	if err != nil {
		return err
	}
	h.f = f
	h.pf = newPreadFile(int(f.Fd()))
	h.paused = false
	return nil
}
