// Package decode implements the pull-based audio decode pipeline: a
// format-specific Backend produces native-rate PCM on demand, and Decoder
// wraps it with linear-interpolated resampling to a fixed output rate, the
// same split as the original sound_decode_* layer over its per-format
// handlers.
package decode

import (
	"errors"

	"github.com/aquariaport/pkgrt/internal/rtlog"
)

var log = rtlog.For("decode")

// resampleBuflen is the size, in frames, of the native-rate staging buffer
// used when the output rate differs from the source's.
const resampleBuflen = 1024

var ErrUnsupportedFormat = errors.New("decode: unsupported source data")

// Backend is what a format-specific opener (wav.go, decode/ogg, decode/mp3)
// implements: native-rate PCM production over a Source, restartable and
// closeable. GetPCM returns the number of frames actually produced (a
// short count does not need the caller to clear the remainder).
type Backend interface {
	Reset()
	GetPCM(pcm []int16) uint32
	Close()
	Stereo() bool
	NativeFreq() uint32
}

// Decoder is an open audio stream: a Backend plus the resampling state
// needed when output frequency differs from the backend's native rate.
type Decoder struct {
	src     Source
	backend Backend

	stereo     bool
	nativeFreq uint32
	outputFreq uint32

	samplesGotten uint32

	needResample bool
	resampleEOF  bool
	resamplePos  uint32
	posFrac      uint32
	resampleBuf  []int16
	lastL, lastR int16
}

// New wraps backend (already positioned at the start of its stream) with
// resampling to outputFreq, priming one resample window up front exactly
// as sound_decode_open does.
func New(src Source, backend Backend, outputFreq uint32) (*Decoder, error) {
	if outputFreq == 0 {
		return nil, errors.New("decode: zero output frequency")
	}
	d := &Decoder{
		src:        src,
		backend:    backend,
		stereo:     backend.Stereo(),
		nativeFreq: backend.NativeFreq(),
		outputFreq: outputFreq,
	}
	if d.nativeFreq != 0 && d.nativeFreq != d.outputFreq {
		d.needResample = true
		sampleSize := 1
		if d.stereo {
			sampleSize = 2
		}
		d.resampleBuf = make([]int16, resampleBuflen*sampleSize)
		if d.backend.GetPCM(d.resampleBuf) == 0 {
			d.resampleEOF = true
		}
	}
	return d, nil
}

func (d *Decoder) Stereo() bool      { return d.stereo }
func (d *Decoder) NativeFreq() uint32 { return d.nativeFreq }
func (d *Decoder) OutputFreq() uint32 { return d.outputFreq }

// Position returns, in seconds, the stream position GetPCM will next read
// from.
func (d *Decoder) Position() float64 {
	return float64(d.samplesGotten) / float64(d.outputFreq)
}

// Reset rewinds the stream to its start, including the resample window.
func (d *Decoder) Reset() {
	d.backend.Reset()
	d.samplesGotten = 0
	if d.needResample {
		d.resampleEOF = false
		d.resamplePos = 0
		d.posFrac = 0
		if d.backend.GetPCM(d.resampleBuf) == 0 {
			d.resampleEOF = true
		}
	}
}

// Close releases the backend and its source.
func (d *Decoder) Close() {
	d.backend.Close()
	d.src.Close()
}

// GetPCM fills pcm with the next len(pcm) frames (interleaved if stereo),
// zero-padding any shortfall caused by reaching the end of the stream. It
// reports false only when no frames at all could be produced.
func (d *Decoder) GetPCM(pcm []int16) bool {
	if len(pcm) == 0 {
		return false
	}
	frameWords := 1
	if d.stereo {
		frameWords = 2
	}
	pcmLen := uint32(len(pcm) / frameWords)

	if !d.needResample {
		got := d.backend.GetPCM(pcm[:pcmLen*uint32(frameWords)])
		if got == 0 {
			return false
		}
		d.samplesGotten += got
		if got < pcmLen {
			clear(pcm[got*uint32(frameWords):])
		}
		return true
	}

	if d.resampleEOF {
		return false
	}

	var copied uint32
	for ; copied < pcmLen; copied++ {
		if d.stereo {
			thisL := d.resampleBuf[d.resamplePos*2+0]
			thisR := d.resampleBuf[d.resamplePos*2+1]
			pcm[copied*2+0] = d.lastL + int16((int32(thisL-d.lastL)*int32(d.posFrac))/int32(d.outputFreq))
			pcm[copied*2+1] = d.lastR + int16((int32(thisR-d.lastR)*int32(d.posFrac))/int32(d.outputFreq))
		} else {
			thisL := d.resampleBuf[d.resamplePos]
			pcm[copied] = d.lastL + int16((int32(thisL-d.lastL)*int32(d.posFrac))/int32(d.outputFreq))
		}

		d.posFrac += d.nativeFreq
		for d.posFrac >= d.outputFreq {
			if d.stereo {
				d.lastL = d.resampleBuf[d.resamplePos*2+0]
				d.lastR = d.resampleBuf[d.resamplePos*2+1]
			} else {
				d.lastL = d.resampleBuf[d.resamplePos]
			}
			d.posFrac -= d.outputFreq
			d.resamplePos++
			if d.resamplePos >= resampleBuflen {
				got := d.backend.GetPCM(d.resampleBuf)
				if got == 0 {
					d.resampleEOF = true
					goto breakCopyLoop
				}
				if got < resampleBuflen {
					clear(d.resampleBuf[got*uint32(frameWords):])
				}
				d.resamplePos = 0
			}
		}
	}
breakCopyLoop:

	if copied == 0 {
		return false
	}
	d.samplesGotten += copied
	if copied < pcmLen {
		clear(pcm[copied*uint32(frameWords):])
	}
	return true
}
