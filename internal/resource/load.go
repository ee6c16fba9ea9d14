package resource

import (
	"github.com/aquariaport/pkgrt/internal/pool"
)

// LoadData registers a general-data resource and starts an async read from
// package or filesystem. dataSlot is written with nil immediately and with
// the payload (or nil on failure) once a later Sync/Wait finalizes it.
func (m *Manager) LoadData(dataSlot *any, sizeSlot *uint32, path string, align int, flags AllocFlag) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findSlot(dataSlot) >= 0 {
		log.Warn("attempt to register a data pointer more than once", "path", path)
		return false
	}
	s := m.addSlot(TypeData, dataSlot)
	s.mark = m.mark
	s.sizeSlot = sizeSlot
	s.path = path
	*dataSlot = nil

	if !m.startLoad(s, path, align, flags, nil) {
		m.delSlot(m.indexOf(s))
		return false
	}
	return true
}

// LoadTexture registers a texture resource with forced 64-byte alignment
// and a texture-parse finalizer.
func (m *Manager) LoadTexture(dataSlot *any, path string, flags AllocFlag, parse Finalizer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findSlot(dataSlot) >= 0 {
		log.Warn("attempt to register a texture pointer more than once", "path", path)
		return false
	}
	s := m.addSlot(TypeTexture, dataSlot)
	s.mark = m.mark
	s.path = path
	*dataSlot = nil

	if !m.startLoad(s, path, 64, flags, parse) {
		m.delSlot(m.indexOf(s))
		return false
	}
	return true
}

func (m *Manager) indexOf(s *info) int {
	for i := range m.slots {
		if &m.slots[i] == s {
			return i
		}
	}
	return -1
}

// startLoad resolves path against the package modules first, then the raw
// filesystem, and submits the async read. Returns false if no source has
// the file.
func (m *Manager) startLoad(s *info, path string, align int, flags AllocFlag, finalize Finalizer) bool {
	li := &loadInfo{align: align, flags: convertFlags(flags)}
	s.load = li
	s.finalize = finalize

	ok, definitely := m.loadFromPackage(s, li, path)
	if ok {
		return true
	}
	if definitely {
		log.Error("resource not found in package", "path", path)
		s.load = nil
		return false
	}
	if m.loadFromFile(s, li, path) {
		return true
	}
	log.Error("resource not found", "path", path)
	s.load = nil
	return false
}

// loadFromPackage returns (true, _) on success, (false, true) if the path
// definitely does not exist (package claimed it but had no entry and no
// has_path fallback), (false, false) otherwise.
//
// Package payloads are fetched via a genuine async read against the
// archive's own path (internal/file, through the scheduler), exactly like
// loadFromFile: the module only resolves name to offset/length, it never
// performs the read itself, so load_* never blocks on I/O.
func (m *Manager) loadFromPackage(s *info, li *loadInfo, path string) (ok, definitely bool) {
	mod, rest := m.findModule(path)
	if mod == nil {
		return false, false
	}
	fi, found := mod.FileInfo(rest)
	if !found {
		if !mod.HasPath(rest) {
			return false, false
		}
		return false, true
	}

	storedLen := int(fi.StoredLen)
	if !fi.Compressed {
		storedLen = int(fi.OrigLen)
	}

	flags := li.flags
	if fi.Compressed {
		// Mirrors the original: flip TOP for the compressed scratch
		// buffer so it lands on the opposite end of the pool from the
		// final decompressed allocation, avoiding fragmentation.
		flags ^= pool.Top
	}
	data, err := m.pool.Alloc(storedLen, li.align, flags, "resource")
	if err != nil {
		log.Error("out of memory loading resource", "path", rest, "err", err)
		return false, true
	}

	h, herr := m.fileMgr.Open(mod.ArchivePath())
	if herr != nil {
		m.pool.Free(data)
		log.Error("package archive open failed", "path", rest, "err", herr)
		return false, true
	}

	id, rerr := h.ReadAsync(data.Bytes[:storedLen], storedLen, int64(fi.Offset))
	if rerr != nil {
		m.pool.Free(data)
		h.Close()
		log.Error("package read submit failed", "path", rest, "err", rerr)
		return false, true
	}

	li.fileData = data
	li.compressed = fi.Compressed
	li.compressedSz = storedLen
	li.dataSize = int(fi.OrigLen)
	li.module = mod
	li.moduleInfo = fi
	li.handle = h
	li.needClose = true
	li.readReq = id
	s.path = rest
	return true, false
}
