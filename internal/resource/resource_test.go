package resource

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquariaport/pkgrt/internal/file"
	"github.com/aquariaport/pkgrt/internal/pkgfile"
	"github.com/aquariaport/pkgrt/internal/pool"
)

func newTestManager(t *testing.T, modules []pkgfile.Module) (*Manager, *file.Manager) {
	t.Helper()
	p := pool.New(1<<20, 1<<16)
	fm := file.NewManager()
	t.Cleanup(fm.Close)
	return New(p, fm, modules, 0), fm
}

func TestNewDataAndFreeRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, nil)

	var data any
	require.True(t, m.NewData(&data, 16, 0, 0))
	require.NotNil(t, data)
	assert.Len(t, data.([]byte), 16)

	m.Free(&data)
	assert.Nil(t, data)
}

func TestNewDataRejectsDoubleRegistration(t *testing.T) {
	m, _ := newTestManager(t, nil)
	var data any
	require.True(t, m.NewData(&data, 16, 0, 0))
	assert.False(t, m.NewData(&data, 16, 0, 0))
}

func TestLoadDataFromFilesystemFinalizesOnWait(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")
	want := []byte("the quick brown fox")
	require.NoError(t, os.WriteFile(path, want, 0o644))

	m, _ := newTestManager(t, nil)

	var data any
	var size uint32
	require.True(t, m.LoadData(&data, &size, path, 0, 0))
	assert.Nil(t, data, "data must stay nil until a Sync/Wait finalizes it")

	// Loads are stamped with the manager's mark at submission time; a Wait
	// needs a strictly later mark to actually cover them.
	m.Wait(m.Mark())
	require.NotNil(t, data)
	assert.Equal(t, want, data.([]byte))
	assert.EqualValues(t, len(want), size)
}

func TestLoadDataMissingFileFails(t *testing.T) {
	m, _ := newTestManager(t, nil)
	var data any
	assert.False(t, m.LoadData(&data, nil, filepath.Join(t.TempDir(), "missing"), 0, 0))
}

func TestFreeAllTearsDownInStrictReverseAllocOrder(t *testing.T) {
	m, _ := newTestManager(t, nil)

	var order []int
	slots := make([]any, 4)
	for i := range slots {
		idx := i
		require.True(t, m.NewTexture(&slots[i], idx, func(any) { order = append(order, idx) }))
	}

	m.FreeAll()
	assert.Equal(t, []int{3, 2, 1, 0}, order)
}

func TestLinkAliasesSharePayloadUntilLastFree(t *testing.T) {
	m, _ := newTestManager(t, nil)

	var original any
	require.True(t, m.NewData(&original, 8, 0, 0))

	var alias any
	require.True(t, m.Link(m, &original, &alias))
	assert.Equal(t, original, alias)

	m.Free(&original)
	assert.Nil(t, original, "the freed alias's own slot pointer is cleared")
	assert.NotNil(t, alias, "the payload survives while another alias remains live")

	m.Free(&alias)
	assert.Nil(t, alias)
}

func TestExistsChecksFilesystemFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "present.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	m, _ := newTestManager(t, nil)
	assert.True(t, m.Exists(path))
	assert.False(t, m.Exists(filepath.Join(dir, "absent.bin")))
}

func TestListFilesEnumeratesOnceAtATime(t *testing.T) {
	mod := &fakeModule{prefix: "data/", names: []string{"data/a.txt", "data/b.txt"}}
	m, _ := newTestManager(t, []pkgfile.Module{mod})

	require.True(t, m.ListFilesStart("data/"))
	assert.False(t, m.ListFilesStart("data/"), "a second enumeration must not start while one is active")

	name, ok := m.ListFilesNext()
	assert.True(t, ok)
	assert.Equal(t, "data/a.txt", name)

	name, ok = m.ListFilesNext()
	assert.True(t, ok)
	assert.Equal(t, "data/b.txt", name)

	_, ok = m.ListFilesNext()
	assert.False(t, ok, "the list is exhausted")

	require.True(t, m.ListFilesStart("data/"), "a finished enumeration frees up a new one")
}

func TestOpenAsFileRejectsCompressedEntries(t *testing.T) {
	mod := &fakeModule{
		prefix: "data/",
		infos:  map[string]pkgfile.FileInfo{"a.pkg": {Compressed: true, OrigLen: 4}},
	}
	m, _ := newTestManager(t, []pkgfile.Module{mod})

	_, _, _, err := m.OpenAsFile("data/a.pkg")
	assert.ErrorIs(t, err, ErrCompressed)
}

func TestLoadDataFromPackageReadsAsyncFromArchiveOffset(t *testing.T) {
	// Two payloads back to back in one archive file, so a correct load has
	// to honor FileInfo.Offset rather than always reading from the start -
	// the same contract a real PKGModule's ArchivePath/FileInfo pair give.
	archive := filepath.Join(t.TempDir(), "archive.pkg")
	first := []byte("AAAA")
	second := []byte("the real payload")
	require.NoError(t, os.WriteFile(archive, append(append([]byte{}, first...), second...), 0o644))

	mod := &fakeModule{
		prefix: "data/",
		infos: map[string]pkgfile.FileInfo{
			"thing.bin": {Offset: uint32(len(first)), StoredLen: uint32(len(second)), OrigLen: uint32(len(second))},
		},
		archivePath: archive,
	}
	m, _ := newTestManager(t, []pkgfile.Module{mod})

	var data any
	var size uint32
	require.True(t, m.LoadData(&data, &size, "data/thing.bin", 0, 0))
	assert.Nil(t, data, "data must stay nil until a Sync/Wait finalizes it")

	m.Wait(m.Mark())
	require.NotNil(t, data)
	assert.Equal(t, second, data.([]byte))
	assert.EqualValues(t, len(second), size)
}

func TestLoadDataDecompressionFailureAbandonsSlotButKeepsItRegistered(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "archive.pkg")
	require.NoError(t, os.WriteFile(archive, []byte{1, 2, 3, 4}, 0o644))

	mod := &fakeModule{
		prefix: "data/",
		infos: map[string]pkgfile.FileInfo{
			"broken.bin": {Offset: 0, StoredLen: 4, Compressed: true, OrigLen: 8},
		},
		archivePath:   archive,
		decompressErr: errors.New("corrupt stream"),
	}
	m, _ := newTestManager(t, []pkgfile.Module{mod})

	var data any
	require.True(t, m.LoadData(&data, nil, "data/broken.bin", 0, 0))

	m.Wait(m.Mark())
	assert.Nil(t, data, "a failed finalize must leave the consumer pointer nil")
	assert.Equal(t, 0, m.findSlot(&data), "the slot stays registered rather than being torn down")
}

// fakeModule is a minimal pkgfile.Module for resource tests. Payload bytes,
// when a test needs any, live in a real file at archivePath so loadFromPackage
// can read them the same way it reads a real PKGModule's archive: a genuine
// async read through internal/file, never a module-owned synchronous read.
type fakeModule struct {
	prefix        string
	names         []string
	infos         map[string]pkgfile.FileInfo
	archivePath   string
	decompressErr error
}

func (f *fakeModule) Prefix() string      { return f.prefix }
func (f *fakeModule) Init() error         { return nil }
func (f *fakeModule) Cleanup()            {}
func (f *fakeModule) ListFiles() []string { return f.names }
func (f *fakeModule) HasPath(path string) bool {
	_, ok := f.infos[path]
	return ok
}
func (f *fakeModule) FileInfo(path string) (pkgfile.FileInfo, bool) {
	fi, ok := f.infos[path]
	return fi, ok
}
func (f *fakeModule) Decompress(in []byte, outLen int) ([]byte, error) {
	if f.decompressErr != nil {
		return nil, f.decompressErr
	}
	return make([]byte, outLen), nil
}
func (f *fakeModule) ArchivePath() string { return f.archivePath }

var _ pkgfile.Module = (*fakeModule)(nil)
