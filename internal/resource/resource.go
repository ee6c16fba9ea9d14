// Package resource implements the async resource-lifecycle manager: a
// dense slot array of ResourceInfo records, mark/sync/wait barriers over
// in-flight loads, alias (link) rings sharing one payload, and strict
// reverse-alloc-order teardown so dependent buffers are never dangling.
package resource

import (
	"sync"

	"github.com/aquariaport/pkgrt/internal/file"
	"github.com/aquariaport/pkgrt/internal/ioreq"
	"github.com/aquariaport/pkgrt/internal/pkgfile"
	"github.com/aquariaport/pkgrt/internal/pool"
	"github.com/aquariaport/pkgrt/internal/rtlog"
)

var log = rtlog.For("resource")

// Type is the resource's payload kind.
type Type int

const (
	TypeUnused Type = iota
	TypeData
	TypeTexture
)

const defaultSlotCount = 100
const slotGrowth = 100
const ringSafetyBound = 10000

// AllocFlag mirrors the public RES_ALLOC_* flags, translated to pool.Flag
// by convertFlags.
type AllocFlag uint8

const (
	AllocClear AllocFlag = 1 << iota
	AllocTop
	AllocTemp
)

func convertFlags(f AllocFlag) pool.Flag {
	var out pool.Flag
	if f&AllocTop != 0 {
		out |= pool.Top
	}
	if f&AllocTemp != 0 {
		out |= pool.Temp
	}
	if f&AllocClear != 0 {
		out |= pool.Clear
	}
	return out
}

// loadInfo is the transient companion to a loading resource.
type loadInfo struct {
	fileData     *pool.Block
	needClose    bool
	needFinish   bool
	align        int
	flags        pool.Flag
	compressed   bool
	compressedSz int
	dataSize     int
	readReq      int
	handle       *file.Handle
	module       pkgfile.Module
	moduleInfo   pkgfile.FileInfo
}

// finalizer produces the user-visible payload from raw loaded bytes (a
// no-op Data finalizer, or a texture parse for Texture resources).
type Finalizer func(data []byte) (payload any, err error)

// info is one slot. dataSlot is the caller's write-back cell.
type info struct {
	typ        Type
	mark       int32
	allocOrder int32
	linkNext   int // index of next alias in the ring; self if unlinked
	load       *loadInfo
	dataSlot   *any
	sizeSlot   *uint32
	finalize   Finalizer
	path       string // debug/log aid

	// payload is the pool allocation backing a Data resource's bytes, kept
	// so Free/FreeAll can return it to the allocator; nil for resources
	// whose payload isn't pool-backed (a parsed texture, a Finalizer's
	// custom object) or that have no payload yet.
	payload *pool.Block
	// destroy, when set, is called instead of pool.Free to release a
	// non-pool-backed payload (e.g. a texture's own destructor).
	destroy func(any)
}

// Manager is one ResourceManager instance.
type Manager struct {
	mu sync.Mutex

	slots      []info
	mark       int32
	allocOrder int32

	pool    *pool.Pool
	fileMgr *file.Manager
	modules []pkgfile.Module

	listing   pkgfile.Module
	listNames []string
	listPos   int
}

// New creates a Manager with hint pre-sized slots (0 = default 100).
func New(p *pool.Pool, fileMgr *file.Manager, modules []pkgfile.Module, hint int) *Manager {
	if hint <= 0 {
		hint = defaultSlotCount
	}
	return &Manager{
		slots:      make([]info, hint),
		pool:       p,
		fileMgr:    fileMgr,
		modules:    modules,
		allocOrder: -0x80000000,
	}
}

func (m *Manager) findModule(path string) (pkgfile.Module, string) {
	for _, mod := range m.modules {
		p := mod.Prefix()
		if len(path) >= len(p) && path[:len(p)] == p {
			return mod, path[len(p):]
		}
	}
	return nil, path
}

// Exists reports whether path resolves to a package entry or a raw file.
func (m *Manager) Exists(path string) bool {
	if mod, rest := m.findModule(path); mod != nil {
		if _, ok := mod.FileInfo(rest); ok {
			return true
		}
		if !mod.HasPath(rest) {
			return false
		}
	}
	h, err := m.fileMgr.Open(path)
	if err != nil {
		return false
	}
	h.Close()
	return true
}

// ListFilesStart begins enumerating one package's contents. Only one
// enumeration may be active at a time; a second call while one is active
// fails without disturbing the first.
func (m *Manager) ListFilesStart(prefix string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listing != nil {
		log.Warn("list_files_start called while an enumeration is active", "prefix", prefix)
		return false
	}
	mod, _ := m.findModule(prefix)
	if mod == nil {
		return false
	}
	m.listing = mod
	m.listNames = mod.ListFiles()
	m.listPos = 0
	return true
}

// ListFilesNext returns the next enumerated name, or "" with ok=false when
// the list is exhausted (which also ends the active enumeration).
func (m *Manager) ListFilesNext() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listing == nil {
		log.Warn("list_files_next called with no active enumeration")
		return "", false
	}
	if m.listPos >= len(m.listNames) {
		m.listing = nil
		return "", false
	}
	name := m.listNames[m.listPos]
	m.listPos++
	return name, true
}

// findSlot returns the index of a live slot backing dataSlot, or -1.
func (m *Manager) findSlot(dataSlot *any) int {
	for i := range m.slots {
		if m.slots[i].typ != TypeUnused && m.slots[i].dataSlot == dataSlot {
			return i
		}
	}
	return -1
}

// addSlot reserves a free slot, growing the slot slice by slotGrowth
// entries if none is free. Alias ring links are slice indices, so they stay
// valid across the growth without any fixup.
func (m *Manager) addSlot(typ Type, dataSlot *any) *info {
	idx := -1
	for i := range m.slots {
		if m.slots[i].typ == TypeUnused {
			idx = i
			break
		}
	}
	if idx < 0 {
		old := m.slots
		grown := make([]info, len(old)+slotGrowth)
		copy(grown, old)
		// Ring pointers are indices into the slots slice, so growing via
		// append-in-place keeps them valid with no fixup needed (unlike
		// the original's pointer-based ring, which must be re-walked and
		// re-stitched after a realloc moves the backing array).
		idx = len(old)
		m.slots = grown
	}

	m.slots[idx] = info{
		typ:        typ,
		dataSlot:   dataSlot,
		linkNext:   idx,
		allocOrder: m.allocOrder,
	}
	m.allocOrder++
	return &m.slots[idx]
}

func (m *Manager) delSlot(idx int) {
	m.slots[idx] = info{typ: TypeUnused}
}

// Mark returns a new monotonic barrier value, never 0.
func (m *Manager) Mark() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mark++
	if m.mark == 0 {
		m.mark++
	}
	return m.mark
}

// before reports a-b<0 using wraparound-safe signed subtraction.
func before(a, mark int32) bool { return a-mark < 0 }

// Sync polls in-flight loads older than mark and finalizes any that have
// completed, without blocking. Reports whether all such loads are done.
func (m *Manager) Sync(mark int32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncLocked(mark)
}

// pendingRead names one slot's in-flight read, captured under m.mu so the
// actual blocking wait can happen with the lock released.
type pendingRead struct {
	load    *loadInfo
	handle  *file.Handle
	readReq int
}

// Wait blocks until all loads older than mark have completed and been
// finalized. The manager lock is held only to snapshot and to update
// slot state; the blocking file-handle wait itself runs unlocked, so
// Sync/NewData/Free/etc. from other callers are never serialized behind
// real I/O completion (spec.md's per-file-handle mutex, not the
// manager's own lock, is what's supposed to gate that).
func (m *Manager) Wait(mark int32) {
	m.mu.Lock()
	var pending []pendingRead
	for i := range m.slots {
		s := &m.slots[i]
		if s.typ == TypeUnused || s.load == nil || s.load.needFinish || !before(s.mark, mark) {
			continue
		}
		pending = append(pending, pendingRead{load: s.load, handle: s.load.handle, readReq: s.load.readReq})
	}
	m.mu.Unlock()

	for _, p := range pending {
		p.handle.Wait(p.readReq)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pending {
		if p.load.readReq == p.readReq {
			p.load.readReq = 0
			p.load.needFinish = true
		}
	}
	for i := len(m.slots) - 1; i >= 0; i-- {
		s := &m.slots[i]
		if s.typ != TypeUnused && s.load != nil && s.load.needFinish && before(s.mark, mark) {
			m.finishLoad(i)
		}
	}
}

func (m *Manager) syncLocked(mark int32) bool {
	for i := range m.slots {
		s := &m.slots[i]
		if s.typ == TypeUnused || s.load == nil || s.load.needFinish || !before(s.mark, mark) {
			continue
		}
		if s.load.handle.Poll(s.load.readReq) == ioreq.StatusDone {
			s.load.handle.Wait(s.load.readReq)
			s.load.readReq = 0
			s.load.needFinish = true
		} else {
			return false
		}
	}

	for i := len(m.slots) - 1; i >= 0; i-- {
		s := &m.slots[i]
		if s.typ != TypeUnused && s.load != nil && s.load.needFinish && before(s.mark, mark) {
			m.finishLoad(i)
		}
	}
	return true
}

