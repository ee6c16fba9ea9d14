package decode

import (
	"errors"

	"github.com/aquariaport/pkgrt/internal/file"
)

// Format is a decodable audio container/codec, mirroring SOUND_FORMAT_*.
type Format int

const (
	FormatWAV Format = iota
	FormatOgg
	FormatMP3
)

// OpenFunc opens a Backend over src, the same role as decode_handlers'
// open function pointers.
type OpenFunc func(src Source, loopStart uint32, loopLen int32) (Backend, error)

var handlers = map[Format]OpenFunc{
	FormatWAV: OpenWAV,
}

// RegisterFormat installs the opener for format, letting the ogg and mp3
// subpackages (which pull in their own third-party decoders) plug into
// Open/OpenFromFile without this package importing them directly.
func RegisterFormat(format Format, open OpenFunc) {
	handlers[format] = open
}

// Open starts decoding an in-memory audio buffer, resampling to freq.
func Open(format Format, data []byte, loopStart uint32, loopLen int32, freq uint32) (*Decoder, error) {
	if len(data) == 0 || freq == 0 {
		return nil, errors.New("decode: invalid parameters")
	}
	open, ok := handlers[format]
	if !ok {
		return nil, errors.New("decode: unsupported format")
	}
	src := NewMemSource(data)
	backend, err := open(src, loopStart, loopLen)
	if err != nil {
		return nil, err
	}
	return New(src, backend, freq)
}

// OpenFromFile starts decoding audio streamed from an open file handle.
// The handle is taken over by the decoder and closed by Decoder.Close.
func OpenFromFile(format Format, h *file.Handle, dataOfs, dataLen, loopStart uint32, loopLen int32, freq uint32) (*Decoder, error) {
	if h == nil || freq == 0 {
		return nil, errors.New("decode: invalid parameters")
	}
	open, ok := handlers[format]
	if !ok {
		h.Close()
		return nil, errors.New("decode: unsupported format")
	}
	src, err := NewFileSource(h, dataOfs, dataLen)
	if err != nil {
		h.Close()
		return nil, err
	}
	backend, berr := open(src, loopStart, loopLen)
	if berr != nil {
		src.Close()
		h.Close()
		return nil, berr
	}
	return New(src, backend, freq)
}
