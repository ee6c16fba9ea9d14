// Package mp3 implements the MP3 audio-decode backend, grounded on
// sound-mp3.c: Xing/Info header parsing for gapless trim points, delegated
// frame decoding to hajimehoshi/go-mp3 in place of the PSP Media Engine.
package mp3

import (
	"encoding/binary"
	"errors"

	gomp3 "github.com/hajimehoshi/go-mp3"

	"github.com/aquariaport/pkgrt/internal/audio/decode"
)

// mpegKbitrate mirrors the original's bitrate table, indexed
// [version][layer][bitrateIndex].
var mpegKbitrate = [2][3][16]uint16{
	{ // MPEG Version 1
		{0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448},
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384},
		{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320},
	},
	{ // MPEG Version 2, 2.5
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160},
	},
}

var mpegPCMLen = [2][3]int{
	{384, 1152, 1152},
	{384, 1152, 576},
}

var mpegFreq = [2][3]int{
	{44100, 48000, 32000},
	{22050, 24000, 16000},
}

const xingHeaderSize = 194

// frameFreqPCMLen decodes an MPEG frame header (big-endian 4-byte value)
// into its sample rate and samples-per-frame; err is non-nil for a
// malformed header.
func frameFreqPCMLen(header uint32) (freq, pcmLen int, err error) {
	versionIdx := int(header>>19) & 3
	layerIdx := int(header>>17) & 3
	if versionIdx == 1 {
		return 0, 0, errors.New("mp3: bad mpeg version")
	}
	if layerIdx == 0 {
		return 0, 0, errors.New("mp3: bad mpeg layer")
	}
	v := 0
	if versionIdx != 3 {
		v = 1
	}
	l := 3 - layerIdx
	freqIdx := int(header>>10) & 3
	freq = mpegFreq[v][freqIdx]
	if versionIdx == 0 {
		freq /= 2
	}
	return freq, mpegPCMLen[v][l], nil
}

// backend decodes a full MPEG layer 1/2/3 stream via go-mp3 (always stereo
// S16LE output, matching the PSP decoder's behavior for mono sources too),
// trimming the Xing/Info header's encoder delay and padding and applying
// loop points in decoded-sample space.
type backend struct {
	src decode.Source

	dec  *gomp3.Decoder
	freq uint32

	initialSkip int64 // PCM frames to discard at the very start
	fileLen     int64 // total usable frames after trimming, 0 = unknown

	framePos int64 // frames consumed from dec, pre-trim

	loopStart uint32
	loopLen   int32
}

func init() {
	decode.RegisterFormat(decode.FormatMP3, Open)
}

// Open parses src's MP3 header (and optional Xing/Info extension) and
// returns a Backend ready to decode from the first audio frame.
func Open(src decode.Source, loopStart uint32, loopLen int32) (decode.Backend, error) {
	hdr, err := src.GetData(0, 4)
	if err != nil || len(hdr) < 4 {
		return nil, errors.New("mp3: short file")
	}
	header := binary.BigEndian.Uint32(hdr)
	if header>>21 != 0x7FF {
		return nil, errors.New("mp3: frame sync not found")
	}
	freq, pcmLen, ferr := frameFreqPCMLen(header)
	if ferr != nil {
		return nil, ferr
	}

	b := &backend{
		src:         src,
		freq:        uint32(freq),
		initialSkip: int64(pcmLen), // one extra frame of decoder latency
		loopStart:   loopStart,
		loopLen:     loopLen,
	}

	if xing, xerr := src.GetData(0, xingHeaderSize); xerr == nil && len(xing) == xingHeaderSize {
		b.parseXing(xing, header, pcmLen)
	}

	if loopLen > 0 {
		loopEnd := int64(loopStart) + int64(loopLen)
		if b.fileLen == 0 || b.fileLen > loopEnd {
			b.fileLen = loopEnd
		}
	}

	if err := b.openStream(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *backend) openStream() error {
	dec, err := gomp3.NewDecoder(decode.NewSourceReader(b.src))
	if err != nil {
		return err
	}
	b.dec = dec
	b.framePos = 0
	return nil
}

// parseXing locates a Xing/Info extension header following the first
// frame and, if present, reads the precise frame count and gapless-trim
// fields out of it.
func (b *backend) parseXing(data []byte, header uint32, framePCMLen int) {
	versionIdx := int(header>>19) & 3
	modeIdx := int(header>>6) & 3
	var xingOffset int
	if versionIdx == 3 {
		if modeIdx == 3 {
			xingOffset = 4 + 17
		} else {
			xingOffset = 4 + 32
		}
	} else {
		if modeIdx == 3 {
			xingOffset = 4 + 9
		} else {
			xingOffset = 4 + 17
		}
	}
	if xingOffset+8 > len(data) {
		return
	}
	p := data[xingOffset:]
	tag := string(p[0:4])
	if tag != "Xing" && tag != "Info" {
		return
	}
	p = p[4:]
	flags := binary.BigEndian.Uint32(p[0:4])
	p = p[4:]

	if flags&0x1 == 0 {
		return
	}
	numFrames := binary.BigEndian.Uint32(p[0:4])
	p = p[4:]
	if flags&0x2 != 0 {
		p = p[4:]
	}
	if flags&0x4 != 0 {
		p = p[100:]
	}
	if flags&0x8 != 0 {
		p = p[4:]
	}
	if len(p) < 21+3 {
		return
	}
	p = p[21:]

	encoderDelay := uint32(p[0])<<4 | uint32(p[1])>>4
	encoderPadding := (uint32(p[1])&0x0F)<<8 | uint32(p[2])

	if encoderPadding >= 529 {
		b.initialSkip = int64(encoderDelay) + 529
	} else {
		b.initialSkip = int64(encoderDelay) + int64(encoderPadding)
	}
	b.fileLen = int64(numFrames)*int64(framePCMLen) - int64(encoderDelay) - int64(encoderPadding)
	if b.fileLen < 0 {
		b.fileLen = 0
	}
}

func (b *backend) Stereo() bool       { return true }
func (b *backend) NativeFreq() uint32 { return b.freq }
func (b *backend) Close()             {}

func (b *backend) Reset() {
	if err := b.openStream(); err != nil {
		b.dec = nil
	}
}

// GetPCM reads stereo S16LE frames from the decoder, discarding
// initialSkip leading frames and stopping at fileLen (with loop restarts
// handled the same way the file-length trim is), matching the original
// gapless-MP3 contract exactly in decoded-sample space rather than
// file-offset space (the Go decoder has no frame-boundary bookkeeping to
// expose).
func (b *backend) GetPCM(pcm []int16) uint32 {
	if b.dec == nil {
		return 0
	}
	pcmLen := uint32(len(pcm)) / 2
	var copied uint32
	buf := make([]byte, 4*4096)

	for copied < pcmLen {
		n, err := b.dec.Read(buf)
		frames := int64(n / 4)
		if frames == 0 {
			if err != nil && b.loopLen != 0 {
				if b.loopLen < 0 || (b.fileLen > 0 && b.framePos >= b.fileLen) {
					b.seekToLoopStart()
					continue
				}
			}
			break
		}

		for f := int64(0); f < frames; f++ {
			pos := b.framePos
			b.framePos++
			if pos < b.initialSkip {
				continue
			}
			if b.fileLen > 0 && pos-b.initialSkip >= b.fileLen {
				continue
			}
			if copied >= pcmLen {
				continue
			}
			pcm[copied*2+0] = int16(binary.LittleEndian.Uint16(buf[f*4+0:]))
			pcm[copied*2+1] = int16(binary.LittleEndian.Uint16(buf[f*4+2:]))
			copied++
		}

		if b.fileLen > 0 && b.framePos-b.initialSkip >= b.fileLen {
			if b.loopLen != 0 {
				b.seekToLoopStart()
			} else {
				break
			}
		}
	}
	return copied
}

// seekToLoopStart reopens the decoder and discards frames up to
// initialSkip+loopStart, the closest equivalent of the original's
// frame-offset loop restart available over go-mp3's forward-only reader.
func (b *backend) seekToLoopStart() {
	if err := b.openStream(); err != nil {
		b.dec = nil
		return
	}
	target := b.initialSkip + int64(b.loopStart)
	buf := make([]byte, 4*4096)
	for b.framePos < target {
		n, err := b.dec.Read(buf)
		frames := int64(n / 4)
		b.framePos += frames
		if frames == 0 || err != nil {
			break
		}
	}
}
