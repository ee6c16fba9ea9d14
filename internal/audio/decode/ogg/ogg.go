// Package ogg implements the Ogg Vorbis audio-decode backend, grounded on
// decode-ogg.c but delegating bitstream decoding to jfreymuth/oggvorbis
// instead of libvorbisfile.
package ogg

import (
	"io"

	"github.com/jfreymuth/oggvorbis"

	"github.com/aquariaport/pkgrt/internal/audio/decode"
)

// backend streams PCM from an Ogg Vorbis bitstream, re-synthesizing the
// original's ov_pcm_seek loop points (loopStart/loopEnd in frames) by
// skip-reading rather than a native seek, since the wrapped decoder
// exposes no index-based seek of its own.
type backend struct {
	src decode.Source

	r        *oggvorbis.Reader
	stereo   bool
	freq     uint32
	framePos uint32

	loopStart uint32
	loopLen   int32
}

func init() {
	decode.RegisterFormat(decode.FormatOgg, Open)
}

// Open decodes src's Ogg Vorbis header and returns a Backend positioned at
// the start of the stream.
func Open(src decode.Source, loopStart uint32, loopLen int32) (decode.Backend, error) {
	b := &backend{src: src, loopStart: loopStart, loopLen: loopLen}
	if err := b.open(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *backend) open() error {
	r, err := oggvorbis.NewReader(decode.NewSourceReader(b.src))
	if err != nil {
		return err
	}
	channels := r.Channels()
	if channels != 1 && channels != 2 {
		return errUnsupportedChannels
	}
	b.r = r
	b.stereo = channels == 2
	b.freq = uint32(r.SampleRate())
	b.framePos = 0
	return nil
}

func (b *backend) Stereo() bool       { return b.stereo }
func (b *backend) NativeFreq() uint32 { return b.freq }
func (b *backend) Close()             {}

// Reset reopens the bitstream from the start, since the wrapped decoder
// has no seek of its own.
func (b *backend) Reset() {
	if err := b.open(); err != nil {
		b.r = nil
	}
}

func (b *backend) GetPCM(pcm []int16) uint32 {
	if b.r == nil {
		return 0
	}
	channels := 1
	if b.stereo {
		channels = 2
	}
	pcmLen := uint32(len(pcm)) / uint32(channels)
	loopEnd := b.loopStart + uint32(b.loopLen)

	floatBuf := make([]float32, 0, 4096)
	var copied uint32
	for copied < pcmLen {
		toRead := pcmLen - copied
		if b.loopLen > 0 && loopEnd > b.framePos {
			if rem := loopEnd - b.framePos; toRead > rem {
				toRead = rem
			}
		}
		if toRead == 0 {
			b.seekToLoopStart()
			loopEnd = b.loopStart + uint32(b.loopLen)
			continue
		}

		need := int(toRead) * channels
		if cap(floatBuf) < need {
			floatBuf = make([]float32, need)
		}
		floatBuf = floatBuf[:need]

		n, err := io.ReadFull(b.r, floatBuf)
		frames := uint32(n / channels)
		for i := 0; i < int(frames)*channels; i++ {
			pcm[int(copied)*channels+i] = floatToS16(floatBuf[i])
		}
		copied += frames
		b.framePos += frames

		if err != nil {
			if b.loopLen < 0 {
				b.seekToLoopStart()
				loopEnd = b.loopStart + uint32(b.loopLen)
				continue
			}
			break
		}
		if b.loopLen > 0 && b.framePos >= loopEnd {
			b.seekToLoopStart()
			loopEnd = b.loopStart + uint32(b.loopLen)
		}
	}
	return copied
}

// seekToLoopStart reopens the stream and discards frames up to loopStart,
// the closest equivalent of ov_pcm_seek available over a forward-only
// decoder.
func (b *backend) seekToLoopStart() {
	if err := b.open(); err != nil {
		b.r = nil
		return
	}
	channels := 1
	if b.stereo {
		channels = 2
	}
	discard := make([]float32, 4096*channels)
	remaining := b.loopStart
	for remaining > 0 {
		want := uint32(len(discard) / channels)
		if want > remaining {
			want = remaining
		}
		n, err := io.ReadFull(b.r, discard[:want*uint32(channels)])
		frames := uint32(n / channels)
		remaining -= frames
		b.framePos += frames
		if err != nil || frames == 0 {
			break
		}
	}
}

func floatToS16(f float32) int16 {
	v := f * 32768
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

var errUnsupportedChannels = decode.ErrUnsupportedFormat
