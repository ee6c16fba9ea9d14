package decode

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// wavBackend is the RIFF WAVE "decoder" — really a scan-then-memcpy over
// S16LE PCM data, grounded on decode-wav.c.
type wavBackend struct {
	src Source

	stereo     bool
	nativeFreq uint32

	dataOffset uint32
	sampleSize uint32 // bytes per frame: 2 mono, 4 stereo
	length     uint32 // frames
	pos        uint32

	loopStart uint32
	loopLen   int32
}

// OpenWAV scans src for a RIFF WAVE S16LE PCM stream and returns a Backend
// over it. loopLen 0 disables looping; negative loops at the data's own
// end; positive clamps the effective length to loopStart+loopLen.
func OpenWAV(src Source, loopStart uint32, loopLen int32) (Backend, error) {
	const scanLen = 2048
	header, err := src.GetData(0, scanLen)
	if err != nil {
		return nil, err
	}
	b := &wavBackend{src: src, loopStart: loopStart, loopLen: loopLen}
	if err := b.scanHeader(header, src.Len()); err != nil {
		return nil, err
	}
	b.sampleSize = 2
	if b.stereo {
		b.sampleSize = 4
	}
	if loopLen > 0 && b.length > loopStart+uint32(loopLen) {
		b.length = loopStart + uint32(loopLen)
	}
	return b, nil
}

func (b *wavBackend) Stereo() bool      { return b.stereo }
func (b *wavBackend) NativeFreq() uint32 { return b.nativeFreq }
func (b *wavBackend) Reset()            { b.pos = 0 }
func (b *wavBackend) Close()            {}

func (b *wavBackend) GetPCM(pcm []int16) uint32 {
	frameWords := uint32(1)
	if b.stereo {
		frameWords = 2
	}
	pcmLen := uint32(len(pcm)) / frameWords
	var copied uint32

	for copied < pcmLen {
		if b.pos < b.length {
			toCopy := pcmLen - copied
			if avail := b.length - b.pos; toCopy > avail {
				toCopy = avail
			}
			raw, err := b.src.GetData(b.dataOffset+b.pos*b.sampleSize, toCopy*b.sampleSize)
			if err != nil || uint32(len(raw)) != toCopy*b.sampleSize {
				got := uint32(len(raw)) / b.sampleSize
				if got == 0 {
					break
				}
				toCopy = got
				raw = raw[:toCopy*b.sampleSize]
			}
			for i := uint32(0); i < toCopy*frameWords; i++ {
				pcm[copied*frameWords+i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
			}
			copied += toCopy
			b.pos += toCopy
		}
		if b.pos >= b.length {
			if b.loopLen != 0 {
				b.pos = b.loopStart
			} else {
				break
			}
		}
	}
	return copied
}

func (b *wavBackend) scanHeader(buf []byte, totalLen uint32) error {
	if len(buf) < 12 || !bytes.Equal(buf[0:4], []byte("RIFF")) || !bytes.Equal(buf[8:12], []byte("WAVE")) {
		return errors.New("decode: not a RIFF WAVE stream")
	}

	var fmtOffset, dataOffset, dataSize uint32
	pos := uint32(12)
	for dataOffset == 0 && int(pos)+8 <= len(buf) {
		chunkSize := binary.LittleEndian.Uint32(buf[pos+4 : pos+8])
		tag := buf[pos : pos+4]
		switch {
		case bytes.Equal(tag, []byte("fmt ")):
			fmtOffset = pos + 8
		case bytes.Equal(tag, []byte("data")):
			dataOffset = pos + 8
			dataSize = chunkSize
		}
		pos += 8 + chunkSize
	}
	if fmtOffset == 0 || dataOffset == 0 {
		return errors.New("decode: fmt or data chunk not found")
	}
	if int(fmtOffset)+16 > len(buf) {
		return errors.New("decode: fmt chunk truncated")
	}

	format := binary.LittleEndian.Uint16(buf[fmtOffset : fmtOffset+2])
	channels := binary.LittleEndian.Uint16(buf[fmtOffset+2 : fmtOffset+4])
	freq := binary.LittleEndian.Uint32(buf[fmtOffset+4 : fmtOffset+8])
	bits := binary.LittleEndian.Uint16(buf[fmtOffset+14 : fmtOffset+16])

	if format != 1 {
		return errors.New("decode: unsupported WAVE audio format")
	}
	if channels != 1 && channels != 2 {
		return errors.New("decode: unsupported channel count")
	}
	if bits != 16 {
		return errors.New("decode: unsupported bit depth")
	}

	b.stereo = channels == 2
	b.nativeFreq = freq
	b.dataOffset = dataOffset
	if dataSize > 0 && dataSize < totalLen-dataOffset {
		b.length = dataSize / (2 * uint32(channels))
	} else {
		b.length = (totalLen - dataOffset) / (2 * uint32(channels))
	}
	return nil
}
