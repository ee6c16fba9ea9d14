package ioreq

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type memFile struct {
	data []byte
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, errEOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, errEOF
	}
	return n, nil
}

var errEOF = io.EOF

func TestSubmitWaitRoundTrip(t *testing.T) {
	s := New()
	defer s.Close()

	f := &memFile{data: bytes.Repeat([]byte{0x42}, 1000)}
	buf := make([]byte, 100)
	id, err := s.Submit(f, buf, 0, 100, time.Time{})
	require.NoError(t, err)
	require.NotZero(t, id)

	n, result, err := s.Wait(id)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, ResultOK, result)
	assert.Equal(t, bytes.Repeat([]byte{0x42}, 100), buf)
}

func TestShortReadAtEOF(t *testing.T) {
	s := New()
	defer s.Close()

	f := &memFile{data: bytes.Repeat([]byte{1}, 50)}
	buf := make([]byte, 100)
	id, _ := s.Submit(f, buf, 0, 100, time.Time{})
	n, result, _ := s.Wait(id)
	assert.Equal(t, 50, n)
	assert.Equal(t, ResultShortRead, result)
}

func TestAbortCancelsBeforeService(t *testing.T) {
	s := New()
	defer s.Close()
	s.mu.Lock()
	s.mu.Unlock()

	f := &memFile{data: bytes.Repeat([]byte{1}, 1000)}
	buf := make([]byte, 500)
	// A deadline still in the future keeps the worker from servicing the
	// request before Abort reaches it.
	id, _ := s.Submit(f, buf, 0, 500, time.Now().Add(time.Second))
	s.Abort(id)
	_, result, _ := s.Wait(id)
	assert.Equal(t, ResultCanceled, result)
}

func TestZeroLengthReadCompletesImmediately(t *testing.T) {
	s := New()
	defer s.Close()
	f := &memFile{data: []byte{1, 2, 3}}
	id, _ := s.Submit(f, nil, 0, 0, time.Time{})
	n, result, err := s.Wait(id)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, ResultOK, result)
}

func TestDoubleWaitRejected(t *testing.T) {
	s := New()
	defer s.Close()
	f := &memFile{data: bytes.Repeat([]byte{1}, 1000)}
	buf := make([]byte, 500)
	// The future deadline keeps the request pending, so the first Wait has
	// not yet released the slot when the second Wait arrives.
	id, _ := s.Submit(f, buf, 0, 500, time.Now().Add(200*time.Millisecond))

	go func() { s.Wait(id) }()
	time.Sleep(5 * time.Millisecond)
	_, _, err := s.Wait(id)
	if err != nil {
		assert.ErrorIs(t, err, ErrAlreadyWaited)
	}
}

// Invariant 4: every submitted id is eventually returned to the free pool
// by a matching wait.
func TestEverySubmittedIDIsEventuallyFreed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := New()
		defer s.Close()

		n := rapid.IntRange(1, 20).Draw(t, "n")
		f := &memFile{data: bytes.Repeat([]byte{9}, 4096)}
		ids := make([]int, 0, n)
		for i := 0; i < n; i++ {
			buf := make([]byte, 64)
			id, err := s.Submit(f, buf, 0, 64, time.Time{})
			if err == nil {
				ids = append(ids, id)
			}
		}
		for _, id := range ids {
			_, _, _ = s.Wait(id)
		}
		s.mu.Lock()
		freeCount := len(s.free)
		s.mu.Unlock()
		assert.Equal(t, MaxRequests, freeCount)
	})
}
