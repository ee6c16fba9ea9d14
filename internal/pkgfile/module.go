package pkgfile

import (
	"bytes"
	"os"
)

// FileInfo is what Module.FileInfo resolves a path to.
type FileInfo struct {
	Offset     uint32
	StoredLen  uint32
	Compressed bool
	OrigLen    uint32
}

// Module is the capability record every package backend implements,
// grounded on PackageModuleInfo's function-pointer vtable: init, cleanup,
// file listing, an optional has-path fallback gate, file lookup, and
// decompression.
type Module interface {
	Prefix() string
	Init() error
	Cleanup()
	ListFiles() []string
	// HasPath reports whether this module claims the path at all (even if
	// the file itself is missing), gating fallback to the raw filesystem.
	// A module with no opinion returns true always.
	HasPath(path string) bool
	FileInfo(path string) (FileInfo, bool)
	Decompress(in []byte, outLen int) ([]byte, error)
	// ArchivePath is the filesystem path backing this module's entries;
	// FileInfo.Offset/StoredLen are byte ranges within it. Callers read
	// payloads by opening this path through internal/file and issuing a
	// real async request, the same path a filesystem-backed load takes,
	// rather than through a synchronous module-owned read.
	ArchivePath() string
}

// PKGModule is the PKG archive-backed Module, opened from a single file on
// disk (offsets in FileInfo are relative to that file).
type PKGModule struct {
	prefix string
	path   string
	ar     *Archive
	f      *os.File
}

// NewPKGModule creates an unopened module for archivePath, claiming paths
// under prefix (e.g. "data/").
func NewPKGModule(prefix, archivePath string) *PKGModule {
	return &PKGModule{prefix: prefix, path: archivePath}
}

func (m *PKGModule) Prefix() string { return m.prefix }

func (m *PKGModule) Init() error {
	f, err := os.Open(m.path)
	if err != nil {
		return err
	}
	ar, err := Open(f)
	if err != nil {
		f.Close()
		return err
	}
	m.f = f
	m.ar = ar
	return nil
}

func (m *PKGModule) Cleanup() {
	if m.f != nil {
		m.f.Close()
		m.f = nil
	}
	m.ar = nil
}

func (m *PKGModule) ListFiles() []string { return m.ar.ListNames() }

func (m *PKGModule) HasPath(path string) bool {
	return AquariaHasPath(path)
}

func (m *PKGModule) FileInfo(path string) (FileInfo, bool) {
	e, ok := m.ar.Find(path)
	if !ok {
		return FileInfo{}, false
	}
	return FileInfo{Offset: e.Offset, StoredLen: e.DataLen, Compressed: e.Deflated, OrigLen: e.FileSize}, true
}

// ArchivePath returns the on-disk path of the archive this module was
// opened from, so a caller can read payloads through internal/file's
// async path instead of a synchronous module-owned read.
func (m *PKGModule) ArchivePath() string { return m.path }

func (m *PKGModule) Decompress(in []byte, outLen int) ([]byte, error) {
	return Decompress(in, outLen)
}

var _ Module = (*PKGModule)(nil)

// bytesReader wraps an in-memory archive image as a *bytes.Reader that Open
// can parse without touching disk. Nothing in the package calls it.
func bytesReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }
