package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestOpenCapturesSize(t *testing.T) {
	path := writeTemp(t, []byte("hello, world"))
	m := NewManager()
	defer m.Close()

	h, err := m.Open(path)
	require.NoError(t, err)
	defer h.Close()
	assert.EqualValues(t, len("hello, world"), h.Size())
}

func TestOpenMissingIsNotFound(t *testing.T) {
	m := NewManager()
	defer m.Close()
	_, err := m.Open(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadSyncAdvancesPosition(t *testing.T) {
	data := []byte("0123456789")
	path := writeTemp(t, data)
	m := NewManager()
	defer m.Close()
	h, err := m.Open(path)
	require.NoError(t, err)
	defer h.Close()

	buf := make([]byte, 4)
	n, err := h.ReadSync(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("0123"), buf)

	n, err = h.ReadSync(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("4567"), buf)
}

func TestReadSyncShortReadAtEOF(t *testing.T) {
	data := []byte("abc")
	path := writeTemp(t, data)
	m := NewManager()
	defer m.Close()
	h, err := m.Open(path)
	require.NoError(t, err)
	defer h.Close()

	buf := make([]byte, 10)
	n, err := h.ReadSync(buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("abc"), buf[:3])
}

func TestSeekWhenceVariants(t *testing.T) {
	path := writeTemp(t, make([]byte, 100))
	m := NewManager()
	defer m.Close()
	h, err := m.Open(path)
	require.NoError(t, err)
	defer h.Close()

	pos, err := h.Seek(10, SeekSet)
	require.NoError(t, err)
	assert.EqualValues(t, 10, pos)

	pos, err = h.Seek(5, SeekCur)
	require.NoError(t, err)
	assert.EqualValues(t, 15, pos)

	pos, err = h.Seek(-20, SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 80, pos)

	_, err = h.Seek(-1000, SeekSet)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestAsyncReadWaitFreesSlot(t *testing.T) {
	data := []byte("async payload data")
	path := writeTemp(t, data)
	m := NewManager()
	defer m.Close()
	h, err := m.Open(path)
	require.NoError(t, err)
	defer h.Close()

	buf := make([]byte, len(data))
	id, err := h.ReadAsync(buf, len(data), 0)
	require.NoError(t, err)
	n, _, err := h.Wait(id)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, buf)

	h.mu.Lock()
	_, stillTracked := h.slots[id]
	h.mu.Unlock()
	assert.False(t, stillTracked)
}

func TestDupSharesPositionNotDescriptor(t *testing.T) {
	path := writeTemp(t, []byte("0123456789"))
	m := NewManager()
	defer m.Close()
	h, err := m.Open(path)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Seek(4, SeekSet)
	require.NoError(t, err)

	nh, err := m.Dup(h)
	require.NoError(t, err)
	defer nh.Close()

	buf := make([]byte, 3)
	n, err := nh.ReadSync(buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("456"), buf)

	assert.NotSame(t, h.f, nh.f)
}

func TestPauseResumePreservesPosition(t *testing.T) {
	data := []byte("pause and resume across suspend")
	path := writeTemp(t, data)
	m := NewManager()
	defer m.Close()
	h, err := m.Open(path)
	require.NoError(t, err)
	defer h.Close()

	buf := make([]byte, 6)
	_, err = h.ReadSync(buf)
	require.NoError(t, err)

	h.Pause()
	require.NoError(t, h.Resume())

	rest := make([]byte, len(data)-6)
	n, err := h.ReadSync(rest)
	require.NoError(t, err)
	assert.Equal(t, len(data)-6, n)
	assert.Equal(t, data[6:], rest)
}
