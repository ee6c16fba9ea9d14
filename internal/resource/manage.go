package resource

import (
	"errors"

	"github.com/aquariaport/pkgrt/internal/file"
)

// ErrCompressed is returned by OpenAsFile for an entry stored compressed,
// since a raw seekable handle can't transparently inflate on read.
var ErrCompressed = errors.New("resource: cannot open a compressed entry as a raw file")

// NewData allocates size bytes from the pool and registers them as an
// already-materialized data resource.
func (m *Manager) NewData(dataSlot *any, size, align int, flags AllocFlag) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findSlot(dataSlot) >= 0 {
		log.Warn("attempt to register a data pointer more than once")
		return false
	}
	s := m.addSlot(TypeData, dataSlot)
	b, err := m.pool.Alloc(size, align, convertFlags(flags), "resource")
	if err != nil {
		m.delSlot(m.indexOf(s))
		return false
	}
	s.payload = b
	*dataSlot = b.Bytes
	return true
}

// Strdup copies str into the pool and registers it as a data resource.
func (m *Manager) Strdup(dataSlot *any, str string, flags AllocFlag) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findSlot(dataSlot) >= 0 {
		log.Warn("attempt to register a data pointer more than once")
		return false
	}
	s := m.addSlot(TypeData, dataSlot)
	b, err := m.pool.Strdup(str, convertFlags(flags), "resource")
	if err != nil {
		m.delSlot(m.indexOf(s))
		return false
	}
	s.payload = b
	*dataSlot = b.Bytes
	return true
}

// NewTexture registers an already-constructed texture payload (the caller
// builds it; this just brings it under lifecycle management). destroy, if
// non-nil, is called with the payload on release instead of requiring it to
// implement Destroy().
func (m *Manager) NewTexture(dataSlot *any, payload any, destroy func(any)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findSlot(dataSlot) >= 0 {
		return false
	}
	s := m.addSlot(TypeTexture, dataSlot)
	s.destroy = destroy
	*dataSlot = payload
	return true
}

// TakeData brings an already-materialized, unmanaged data pointer under
// this manager's lifecycle.
func (m *Manager) TakeData(dataSlot *any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findSlot(dataSlot) >= 0 {
		log.Warn("attempt to register a data pointer more than once")
		return false
	}
	m.addSlot(TypeData, dataSlot)
	return true
}

// Link creates an alias of an existing resource owned by (possibly) a
// different manager: new_slot becomes part of old_slot's alias ring and
// shares its payload, destroyed only when the last alias is freed.
func (m *Manager) Link(oldMgr *Manager, oldSlot, newSlot *any) bool {
	m.mu.Lock()
	if oldMgr != m {
		oldMgr.mu.Lock()
		defer oldMgr.mu.Unlock()
	}
	defer m.mu.Unlock()

	oldIdx := oldMgr.findSlot(oldSlot)
	if oldIdx < 0 {
		return false
	}
	newInfoPtr := m.addSlot(oldMgr.slots[oldIdx].typ, newSlot)
	newIdx := m.indexOf(newInfoPtr)

	if oldMgr == m {
		prev := m.slots[oldIdx].linkNext
		tries := ringSafetyBound
		for m.slots[prev].linkNext != oldIdx {
			prev = m.slots[prev].linkNext
			tries--
			if tries <= 0 {
				log.Error("corrupt alias ring detected during link")
				m.delSlot(newIdx)
				return false
			}
		}
		m.slots[prev].linkNext = newIdx
		m.slots[newIdx].linkNext = oldIdx
	} else {
		prev := oldMgr.slots[oldIdx].linkNext
		tries := ringSafetyBound
		for oldMgr.slots[prev].linkNext != oldIdx {
			prev = oldMgr.slots[prev].linkNext
			tries--
			if tries <= 0 {
				log.Error("corrupt alias ring detected during link")
				m.delSlot(newIdx)
				return false
			}
		}
		oldMgr.slots[prev].linkNext = newIdx
		m.slots[newIdx].linkNext = oldIdx
	}

	*newSlot = *oldSlot
	return true
}

// Free releases one resource slot. If the slot is one of several aliases
// it is simply unlinked; the last alias standing releases the payload.
func (m *Manager) Free(dataSlot *any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.findSlot(dataSlot)
	if idx < 0 {
		return
	}
	if m.slots[idx].load != nil && m.slots[idx].load.readReq != 0 && m.slots[idx].load.handle != nil {
		m.slots[idx].load.handle.Abort(m.slots[idx].load.readReq)
	}
	m.freeResource(idx)
	m.delSlot(idx)
}

// freeResource releases payload/load state for slot idx, unlinking it from
// its alias ring first; it does not clear the slot's type (delSlot does).
func (m *Manager) freeResource(idx int) {
	s := &m.slots[idx]

	if s.linkNext != idx {
		prev := s.linkNext
		tries := ringSafetyBound
		for m.slots[prev].linkNext != idx {
			prev = m.slots[prev].linkNext
			tries--
			if tries <= 0 {
				log.Error("corrupt alias ring detected during free; forcing release anyway")
				m.releasePayload(s)
				*s.dataSlot = nil
				return
			}
		}
		m.slots[prev].linkNext = s.linkNext
		// Hand the shared payload's release duty to a remaining alias.
		if m.slots[prev].payload == nil && m.slots[prev].destroy == nil {
			m.slots[prev].payload, m.slots[prev].destroy = s.payload, s.destroy
		}
		s.payload, s.destroy = nil, nil
		s.linkNext = idx
		*s.dataSlot = nil
		return
	}

	m.releasePayload(s)
	*s.dataSlot = nil
}

// releasePayload returns a slot's storage to whatever owns it: the pool
// allocation behind a Data resource, a custom destroy hook, or a payload's
// own Destroy() method.
func (m *Manager) releasePayload(s *info) {
	if s.load != nil {
		if s.load.readReq != 0 && s.load.handle != nil {
			s.load.handle.Wait(s.load.readReq)
		}
		if s.load.fileData != nil {
			m.pool.Free(s.load.fileData)
		}
		s.load = nil
	}

	if s.payload != nil {
		m.pool.Free(s.payload)
		s.payload = nil
		return
	}
	if s.destroy != nil {
		s.destroy(*s.dataSlot)
		s.destroy = nil
		return
	}
	if d, ok := (*s.dataSlot).(interface{ Destroy() }); ok {
		d.Destroy()
	}
}

// FreeAll destroys every managed resource in strict reverse alloc order.
func (m *Manager) FreeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.slots {
		if m.slots[i].typ != TypeUnused && m.slots[i].load != nil {
			li := m.slots[i].load
			if li.readReq != 0 && li.handle != nil {
				li.handle.Abort(li.readReq)
			}
			if li.handle != nil && li.needClose {
				li.handle.Close()
				li.needClose = false
			}
		}
	}

	for {
		best := -1
		for i := range m.slots {
			if m.slots[i].typ == TypeUnused {
				continue
			}
			if best < 0 || m.slots[i].allocOrder-m.slots[best].allocOrder > 0 {
				best = i
			}
		}
		if best < 0 {
			break
		}
		m.freeResource(best)
		m.delSlot(best)
	}
	m.mark = 0
}

// OpenAsFile returns a seekable handle into a packaged or raw file, plus
// the byte offset of the payload and its size. Compressed entries cannot
// be opened this way.
func (m *Manager) OpenAsFile(path string) (h *file.Handle, offset, size int64, err error) {
	if mod, rest := m.findModule(path); mod != nil {
		if fi, ok := mod.FileInfo(rest); ok {
			if fi.Compressed {
				return nil, 0, 0, ErrCompressed
			}
			hd, oerr := m.fileMgr.Open(mod.ArchivePath())
			if oerr != nil {
				return nil, 0, 0, oerr
			}
			return hd, int64(fi.Offset), int64(fi.OrigLen), nil
		}
	}
	hd, oerr := m.fileMgr.Open(path)
	if oerr != nil {
		return nil, 0, 0, oerr
	}
	return hd, 0, hd.Size(), nil
}
