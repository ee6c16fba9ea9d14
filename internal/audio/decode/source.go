package decode

import (
	"github.com/aquariaport/pkgrt/internal/file"
)

// readBufferSize is the file-source read-ahead window, matching the
// original decoder's fixed staging buffer.
const readBufferSize = 16384

// Source hands a decoder backend raw bytes from wherever the audio data
// actually lives: an in-memory buffer, or a streamed file with read-ahead.
// GetData returns up to length bytes at pos (less only at end of data); a
// file-backed source never returns more than readBufferSize bytes in one
// call.
type Source interface {
	GetData(pos, length uint32) ([]byte, error)
	Len() uint32
	Close()
}

// memSource serves data directly out of an in-memory byte slice.
type memSource struct {
	data []byte
}

// NewMemSource wraps an in-memory buffer as a Source.
func NewMemSource(data []byte) Source { return &memSource{data: data} }

func (s *memSource) Len() uint32 { return uint32(len(s.data)) }

func (s *memSource) GetData(pos, length uint32) ([]byte, error) {
	if pos >= uint32(len(s.data)) {
		return nil, nil
	}
	end := pos + length
	if end > uint32(len(s.data)) {
		end = uint32(len(s.data))
	}
	return s.data[pos:end], nil
}

func (s *memSource) Close() {}

// fileSource streams data from a file handle through a read-ahead buffer,
// grounded on decode_get_data's buffer management: a fixed staging window
// kept one async read ahead of the read cursor, shifted forward (never
// relocated mid-flight) as the decoder advances through the stream.
type fileSource struct {
	h       *file.Handle
	dataOfs uint32
	dataLen uint32

	buf      []byte
	bufPos   uint32 // data-relative offset of buf[0]
	bufLen   uint32 // valid bytes in buf
	asyncReq int
	asyncOfs uint32 // offset within buf where the pending read lands
}

// NewFileSource opens a read-ahead stream over [dataOfs, dataOfs+dataLen)
// of h, with one async read already in flight over the first window.
func NewFileSource(h *file.Handle, dataOfs, dataLen uint32) (Source, error) {
	s := &fileSource{
		h:       h,
		dataOfs: dataOfs,
		dataLen: dataLen,
		buf:     make([]byte, readBufferSize),
	}
	toRead := uint32(readBufferSize)
	if toRead > dataLen {
		toRead = dataLen
	}
	if toRead > 0 {
		id, err := h.ReadAsync(s.buf[:toRead], int(toRead), int64(dataOfs))
		if err != nil {
			return nil, err
		}
		s.asyncReq = id
	}
	return s, nil
}

func (s *fileSource) Len() uint32 { return s.dataLen }

// Close cancels any pending read-ahead and closes the underlying handle,
// which this source owns exclusively for the life of the decode.
func (s *fileSource) Close() {
	if s.asyncReq != 0 {
		s.h.Abort(s.asyncReq)
		s.h.Wait(s.asyncReq)
		s.asyncReq = 0
	}
	s.h.Close()
}

// GetData resolves a byte range against the read-ahead buffer, completing
// or discarding the pending async read as needed, and tops up the next
// window once the buffer empties below capacity.
func (s *fileSource) GetData(pos, length uint32) ([]byte, error) {
	if pos >= s.dataLen {
		return nil, nil
	}
	if length > s.dataLen-pos {
		length = s.dataLen - pos
	}
	if length > readBufferSize {
		length = readBufferSize
	}

	if s.asyncReq != 0 && pos >= s.bufPos && pos+length <= s.bufPos+readBufferSize &&
		pos+length-s.bufPos > s.asyncOfs {
		n, _, err := s.h.Wait(s.asyncReq)
		s.asyncReq = 0
		if err != nil {
			n = 0
		}
		s.bufLen = s.asyncOfs + uint32(n)
	}

	if pos < s.bufPos || pos+length > s.bufPos+s.bufLen {
		if s.asyncReq != 0 {
			s.h.Wait(s.asyncReq)
			s.asyncReq = 0
		}
		s.bufPos = pos
		id, err := s.h.ReadAsync(s.buf[:length], int(length), int64(s.dataOfs+pos))
		if err != nil {
			s.bufLen = 0
			return nil, err
		}
		n, _, werr := s.h.Wait(id)
		if werr != nil {
			s.bufLen = 0
			return nil, werr
		}
		s.bufLen = uint32(n)
		length = uint32(n)
	}

	if s.asyncReq == 0 && pos >= s.bufPos+readBufferSize/2 {
		ofs := pos - s.bufPos
		copy(s.buf, s.buf[ofs:s.bufLen])
		s.bufPos += ofs
		s.bufLen -= ofs
	}

	if s.asyncReq == 0 && s.bufLen < readBufferSize {
		bufEnd := s.bufPos + s.bufLen
		toRead := uint32(readBufferSize) - s.bufLen
		if rem := s.dataLen - bufEnd; toRead > rem {
			toRead = rem
		}
		if toRead > 0 {
			id, err := s.h.ReadAsync(s.buf[s.bufLen:s.bufLen+toRead], int(toRead), int64(s.dataOfs+bufEnd))
			if err == nil {
				s.asyncReq = id
				s.asyncOfs = s.bufLen
			}
		}
	}

	return s.buf[pos-s.bufPos : pos-s.bufPos+length], nil
}
