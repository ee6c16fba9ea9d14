package resource

import (
	"github.com/aquariaport/pkgrt/internal/file"
)

// loadFromFile reads an uncompressed file directly from the filesystem,
// via a genuine async scheduler request.
func (m *Manager) loadFromFile(s *info, li *loadInfo, path string) bool {
	h, err := m.fileMgr.Open(path)
	if err != nil {
		if err != file.ErrNotFound {
			log.Warn("open failed", "path", path, "err", err)
		}
		return false
	}

	size := int(h.Size())
	allocSize := size
	if allocSize == 0 {
		allocSize = 1
	}
	data, err := m.pool.Alloc(allocSize, li.align, li.flags, "resource")
	if err != nil {
		log.Error("out of memory for file buffer", "path", path, "bytes", size)
		h.Close()
		return false
	}

	id, err := h.ReadAsync(data.Bytes[:size], size, 0)
	if err != nil {
		log.Error("failed to submit async read", "path", path, "err", err)
		m.pool.Free(data)
		h.Close()
		return false
	}

	li.fileData = data
	li.handle = h
	li.dataSize = size
	li.needClose = true
	li.readReq = id
	s.path = path
	return true
}

// finishLoad applies package decompression and the type-specific
// finalizer to a completed load, then releases the load's scratch state.
func (m *Manager) finishLoad(idx int) {
	s := &m.slots[idx]
	li := s.load

	if li.handle != nil && li.needClose {
		li.handle.Close()
		li.needClose = false
	}

	raw := li.fileData

	if li.compressed && li.module != nil {
		out, err := m.pool.Alloc(li.dataSize, li.align, li.flags, "resource")
		if err != nil {
			log.Error("out of memory for decompression output", "path", s.path)
			m.pool.Free(raw)
			m.abandonLoad(s)
			return
		}
		decompressed, derr := li.module.Decompress(raw.Bytes, li.dataSize)
		if derr != nil {
			log.Error("decompression failed", "path", s.path, "err", derr)
			m.pool.Free(out)
			m.pool.Free(raw)
			m.abandonLoad(s)
			return
		}
		copy(out.Bytes, decompressed)
		li.dataSize = len(decompressed)
		m.pool.Free(raw)
		raw = out
	}

	if s.sizeSlot != nil {
		*s.sizeSlot = uint32(li.dataSize)
	}

	var payload any = raw.Bytes[:li.dataSize]
	s.payload = raw
	if s.finalize != nil {
		parsed, err := s.finalize(raw.Bytes[:li.dataSize])
		if err != nil {
			log.Error("finalize failed", "path", s.path, "err", err)
			m.pool.Free(raw)
			s.payload = nil
			m.abandonLoad(s)
			return
		}
		payload = parsed
		// A finalizer (e.g. texture parse) produces a new payload object
		// from the raw bytes; the raw scratch buffer is no longer needed
		// once parsing succeeds.
		if _, isBytes := parsed.([]byte); !isBytes {
			m.pool.Free(raw)
			s.payload = nil
		}
	}

	*s.dataSlot = payload
	s.load = nil
}

// abandonLoad clears a failed load without releasing the slot: the
// consumer's pointer stays nil but the resource stays registered, per
// spec.md's "failed finalize" contract.
func (m *Manager) abandonLoad(s *info) {
	*s.dataSlot = nil
	s.load = nil
}
