package mp3

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mpeg1Layer3StereoHeader() uint32 {
	// FF FB 90 00: sync + MPEG1 + Layer III + no CRC + 128kbps + 44100Hz + stereo.
	return binary.BigEndian.Uint32([]byte{0xFF, 0xFB, 0x90, 0x00})
}

func TestFrameFreqPCMLenDecodesStandardMPEG1Layer3Header(t *testing.T) {
	freq, pcmLen, err := frameFreqPCMLen(mpeg1Layer3StereoHeader())
	require.NoError(t, err)
	assert.Equal(t, 44100, freq)
	assert.Equal(t, 1152, pcmLen)
}

func TestFrameFreqPCMLenRejectsReservedVersion(t *testing.T) {
	// Version bits 01 (bits 20-19) is the reserved MPEG version.
	header := mpeg1Layer3StereoHeader()
	header &^= uint32(0b11) << 19
	header |= uint32(0b01) << 19
	_, _, err := frameFreqPCMLen(header)
	assert.Error(t, err)
}

func TestFrameFreqPCMLenRejectsReservedLayer(t *testing.T) {
	header := mpeg1Layer3StereoHeader()
	header &^= uint32(0b11) << 17 // layer bits 00 is reserved
	_, _, err := frameFreqPCMLen(header)
	assert.Error(t, err)
}

// xingPayload builds the bytes parseXing expects following a 4-byte MPEG1
// stereo frame header: 32 bytes of side info, then a Xing tag carrying only
// the frame-count field and the gapless encoder-delay/padding trailer.
func xingPayload(numFrames uint32, encoderDelay, encoderPadding uint16) []byte {
	buf := make([]byte, 0, 4+32+4+4+4+21+3)
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, mpeg1Layer3StereoHeader())
	buf = append(buf, hdr...)
	buf = append(buf, make([]byte, 32)...) // side info, unused by parseXing
	buf = append(buf, "Xing"...)
	flagBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(flagBuf, 0x1) // frame-count field only
	buf = append(buf, flagBuf...)
	frameBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(frameBuf, numFrames)
	buf = append(buf, frameBuf...)
	buf = append(buf, make([]byte, 21)...)
	b0 := byte(encoderDelay >> 4)
	b1 := byte(encoderDelay<<4) | byte(encoderPadding>>8)
	b2 := byte(encoderPadding)
	buf = append(buf, b0, b1, b2)
	return buf
}

func TestParseXingComputesGaplessTrimWhenPaddingBelowThreshold(t *testing.T) {
	data := xingPayload(10, 576, 200)
	b := &backend{}
	b.parseXing(data, mpeg1Layer3StereoHeader(), 1152)

	assert.EqualValues(t, 576+200, b.initialSkip)
	assert.EqualValues(t, 10*1152-576-200, b.fileLen)
}

func TestParseXingClampsPaddingAtOrAboveDelayThreshold(t *testing.T) {
	data := xingPayload(10, 576, 1000)
	b := &backend{}
	b.parseXing(data, mpeg1Layer3StereoHeader(), 1152)

	// encoderPadding >= 529 is clamped to exactly 529 for the skip count,
	// per the Xing spec's reserved-bits caveat on large padding values.
	assert.EqualValues(t, 576+529, b.initialSkip)
	assert.EqualValues(t, 10*1152-576-1000, b.fileLen)
}

func TestParseXingIgnoresMissingFrameCountFlag(t *testing.T) {
	data := xingPayload(10, 576, 200)
	// Clear the frame-count flag bit so parseXing bails out before touching
	// fileLen/initialSkip.
	binary.BigEndian.PutUint32(data[4+32+4:4+32+8], 0)

	b := &backend{initialSkip: 42, fileLen: 99}
	b.parseXing(data, mpeg1Layer3StereoHeader(), 1152)
	assert.EqualValues(t, 42, b.initialSkip, "no frame-count flag means no Xing-derived trim")
	assert.EqualValues(t, 99, b.fileLen)
}

func TestParseXingIgnoresNonXingTag(t *testing.T) {
	data := xingPayload(10, 576, 200)
	copy(data[4+32:4+32+4], "JUNK")

	b := &backend{initialSkip: 42, fileLen: 99}
	b.parseXing(data, mpeg1Layer3StereoHeader(), 1152)
	assert.EqualValues(t, 42, b.initialSkip)
	assert.EqualValues(t, 99, b.fileLen)
}

func TestParseXingFileLenMatchesXingHeaderArithmetic(t *testing.T) {
	data := xingPayload(1000, 576, 1152)
	b := &backend{}
	b.parseXing(data, mpeg1Layer3StereoHeader(), 1152)

	assert.EqualValues(t, 1000*1152-(576+1152), b.fileLen)
}

func TestStereoAndNativeFreqAccessors(t *testing.T) {
	b := &backend{freq: 44100}
	assert.True(t, b.Stereo(), "this decoder always emits stereo output, matching the original's mono-upmix behavior")
	assert.EqualValues(t, 44100, b.NativeFreq())
}
