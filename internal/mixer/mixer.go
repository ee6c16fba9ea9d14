// Package mixer implements the fixed-channel software mixer: per-channel
// volume/pan/fade/trigger state and a mix tick that pulls PCM from each
// playing channel's decoder and sums it into an S16LE stereo buffer,
// grounded on sysdep-psp/sound.c's channel table and sound_generate (its
// SOUNDGEN_C path; the MIPS assembly variant is not reproduced).
package mixer

import (
	"sync"

	"github.com/aquariaport/pkgrt/internal/audio/decode"
	"github.com/aquariaport/pkgrt/internal/file"
	"github.com/aquariaport/pkgrt/internal/rtlog"
)

var log = rtlog.For("mixer")

// NumChannels is the fixed channel count.
const NumChannels = 128

// BufLen is the largest frame count a single mix tick will produce.
const BufLen = 1024

// VolumeUnity is 1.0 gain in Q24.8 (8 fractional bits): 256.
const VolumeUnity int32 = 1 << 8

// VolumeMax is the largest representable Q24.8 gain, mirroring the
// original's VOLUME_MAX clamp (roughly 128x unity) to keep the mix
// multiply below int32 overflow.
const VolumeMax int32 = 32767

// PanMax is hard-right; PanMax/2 is center; 0 is hard-left.
const PanMax int32 = 256

// ampShift is the original's fixed post-multiply attenuation shift.
const ampShift = 17

// TriggerFunc is called when a channel stops — whether by reaching the end
// of its data, by a fade cut, or by an explicit Stop. When Generate fires it
// (end of data or fade cut) it runs under the mixer's lock; from Stop, Start
// or Resume it runs after the lock is released. It must not block and must
// not re-enter the same channel synchronously.
type TriggerFunc func(channel int)

type channel struct {
	decoder *decode.Decoder
	trigger TriggerFunc

	playing bool
	stereo  bool
	fadeCut bool

	volume     int32
	pan        int32
	fadeRate   int32
	fadeTarget int32

	scratch []int16 // 2*BufLen, interleaved
}

// Mixer owns NumChannels independent playback slots and produces mixed
// output on demand from Generate.
type Mixer struct {
	mu         sync.Mutex
	channels   [NumChannels]channel
	sampleRate uint32
}

// New creates a Mixer producing PCM at sampleRate.
func New(sampleRate uint32) *Mixer {
	m := &Mixer{sampleRate: sampleRate}
	for i := range m.channels {
		m.resetChannel(i)
	}
	return m
}

func (m *Mixer) resetChannel(ch int) {
	c := &m.channels[ch]
	c.decoder = nil
	c.trigger = nil
	c.playing = false
	c.stereo = false
	c.fadeCut = false
	c.volume = VolumeUnity
	c.fadeRate = 0
	c.fadeTarget = 0
	c.pan = PanMax / 2
	if c.scratch == nil {
		c.scratch = make([]int16, 2*BufLen)
	}
}

func (m *Mixer) checkChannel(ch int) bool {
	return ch >= 0 && ch < NumChannels
}

// PlayBuffer loads an in-memory audio buffer onto channel ch, stopping
// whatever was previously playing there. Playback does not start until
// Start is called.
func (m *Mixer) PlayBuffer(ch int, format decode.Format, data []byte, loopStart uint32, loopLen int32) bool {
	if !m.checkChannel(ch) || len(data) == 0 {
		log.Warn("invalid play_buffer parameters", "channel", ch)
		return false
	}
	dec, err := decode.Open(format, data, loopStart, loopLen, m.sampleRate)
	if err != nil {
		log.Error("failed to open decode handle", "channel", ch, "err", err)
		return false
	}
	m.stop(ch)
	m.mu.Lock()
	m.channels[ch].decoder = dec
	m.channels[ch].stereo = dec.Stereo()
	m.mu.Unlock()
	return true
}

// PlayFile loads a streamed audio region onto channel ch; h is taken over
// by the decoder and closed when the channel is Reset. Reaching the end of
// the stream only stops the channel.
func (m *Mixer) PlayFile(ch int, format decode.Format, h *file.Handle, dataOfs, dataLen, loopStart uint32, loopLen int32) bool {
	if !m.checkChannel(ch) || h == nil {
		log.Warn("invalid play_file parameters", "channel", ch)
		return false
	}
	dec, err := decode.OpenFromFile(format, h, dataOfs, dataLen, loopStart, loopLen, m.sampleRate)
	if err != nil {
		log.Error("failed to open decode handle", "channel", ch, "err", err)
		return false
	}
	m.stop(ch)
	m.mu.Lock()
	m.channels[ch].decoder = dec
	m.channels[ch].stereo = dec.Stereo()
	m.mu.Unlock()
	return true
}

// SetTrigger installs fn as channel ch's stop callback, replacing any
// previous one.
func (m *Mixer) SetTrigger(ch int, fn TriggerFunc) bool {
	if !m.checkChannel(ch) {
		return false
	}
	m.mu.Lock()
	m.channels[ch].trigger = fn
	m.mu.Unlock()
	return true
}

// SetVolume sets channel ch's gain immediately (0 = silent, 1 = unity),
// clearing any active fade.
func (m *Mixer) SetVolume(ch int, volume float64) bool {
	if !m.checkChannel(ch) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &m.channels[ch]
	c.volume = clampVolume(volume)
	c.fadeRate = 0
	c.fadeCut = false
	return true
}

// SetPan sets channel ch's stereo position for mono sources; pan in
// [-1, 1], -1 hard left, 0 center, 1 hard right.
func (m *Mixer) SetPan(ch int, pan float64) bool {
	if !m.checkChannel(ch) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case pan < -1:
		m.channels[ch].pan = 0
	case pan > 1:
		m.channels[ch].pan = PanMax
	default:
		m.channels[ch].pan = int32((pan + 1) / 2 * float64(PanMax))
	}
	return true
}

// SetFade schedules channel ch's gain to reach target over seconds
// seconds; seconds == 0 applies target immediately (matching the
// "fade time=0 is an immediate set" invariant). cut, when true, stops the
// channel (firing its trigger) the instant volume reaches 0.
func (m *Mixer) SetFade(ch int, target float64, seconds float64, cut bool) bool {
	if !m.checkChannel(ch) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &m.channels[ch]
	if seconds == 0 {
		c.volume = clampVolume(target)
		c.fadeRate = 0
		c.fadeCut = false
		return true
	}
	deltaVolume := clampVolume(target) - c.volume
	samples := int32(seconds * float64(m.sampleRate))
	if samples < 1 {
		samples = 1
	}
	c.fadeRate = deltaVolume / samples
	c.fadeTarget = clampVolume(target)
	c.fadeCut = cut
	return true
}

// Start rewinds channel ch's decoder to the beginning and begins playing,
// or fires the trigger immediately if no data is loaded.
func (m *Mixer) Start(ch int) bool {
	if !m.checkChannel(ch) {
		return false
	}
	m.mu.Lock()
	c := &m.channels[ch]
	if c.decoder != nil {
		c.decoder.Reset()
		c.playing = true
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()
	m.callTrigger(ch)
	return true
}

// Stop halts channel ch without discarding its decoder's position,
// firing its trigger if it was playing.
func (m *Mixer) Stop(ch int) bool {
	if !m.checkChannel(ch) {
		return false
	}
	m.stop(ch)
	return true
}

func (m *Mixer) stop(ch int) {
	m.mu.Lock()
	was := m.channels[ch].playing
	m.channels[ch].playing = false
	m.mu.Unlock()
	if was {
		m.callTrigger(ch)
	}
}

// Resume continues channel ch from wherever Stop left it, or fires the
// trigger immediately if no data is loaded.
func (m *Mixer) Resume(ch int) bool {
	if !m.checkChannel(ch) {
		return false
	}
	m.mu.Lock()
	c := &m.channels[ch]
	if c.decoder != nil {
		c.playing = true
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()
	m.callTrigger(ch)
	return true
}

// Reset stops channel ch and releases its decoder, clearing all other
// per-channel state back to defaults.
func (m *Mixer) Reset(ch int) bool {
	if !m.checkChannel(ch) {
		return false
	}
	m.stop(ch)
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &m.channels[ch]
	if c.decoder != nil {
		c.decoder.Close()
	}
	m.resetChannel(ch)
	return true
}

// IsPlaying reports whether channel ch is currently playing.
func (m *Mixer) IsPlaying(ch int) bool {
	if !m.checkChannel(ch) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[ch].playing
}

// Position returns channel ch's decode position in seconds, or 0 if
// nothing is loaded.
func (m *Mixer) Position(ch int) float64 {
	if !m.checkChannel(ch) {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channels[ch].decoder == nil {
		return 0
	}
	return m.channels[ch].decoder.Position()
}

func (m *Mixer) callTrigger(ch int) {
	m.mu.Lock()
	fn := m.channels[ch].trigger
	m.channels[ch].trigger = nil
	m.mu.Unlock()
	if fn != nil {
		fn(ch)
	}
}

func clampVolume(v float64) int32 {
	if v < 0 {
		return 0
	}
	scaled := v * float64(VolumeUnity)
	if scaled >= float64(VolumeMax) {
		return VolumeMax
	}
	return int32(scaled + 0.5)
}

// Generate produces count frames (count <= BufLen) of mixed S16LE stereo
// PCM into out (len(out) >= 2*count), replacing its previous contents.
// It is the mixer's single point of contention between channel-state
// calls and the audio callback, exactly as the original's sound_mutex
// serializes sys_sound_* against sound_generate.
func (m *Mixer) Generate(out []int16, count int) {
	if count > BufLen {
		count = BufLen
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i < 2*count; i++ {
		out[i] = 0
	}

	for idx := range m.channels {
		c := &m.channels[idx]
		if !c.playing {
			continue
		}

		if c.fadeRate != 0 {
			samplesLeft := (c.fadeTarget - c.volume) / c.fadeRate
			if int32(count) >= samplesLeft {
				c.volume = c.fadeTarget
				c.fadeRate = 0
			} else {
				c.volume += c.fadeRate * int32(count)
			}
		}
		if c.volume == 0 && c.fadeCut {
			c.playing = false
			m.fireTriggerLocked(idx)
			continue
		}

		frameWords := 1
		if c.stereo {
			frameWords = 2
		}
		if !c.decoder.GetPCM(c.scratch[:count*frameWords]) {
			c.playing = false
			m.fireTriggerLocked(idx)
			continue
		}

		volume := c.volume
		panL := PanMax - c.pan
		panR := c.pan
		for i := 0; i < count; i++ {
			if c.stereo {
				out[i*2+0] += int16((int32(c.scratch[i*2+0]) * volume) >> (ampShift - 7))
				out[i*2+1] += int16((int32(c.scratch[i*2+1]) * volume) >> (ampShift - 7))
			} else {
				sample := int32(c.scratch[i]) * volume
				out[i*2+0] += int16((sample * panL) >> ampShift)
				out[i*2+1] += int16((sample * panR) >> ampShift)
			}
		}
	}
}

// fireTriggerLocked runs a channel's trigger while the mixer lock is
// already held by Generate, matching the original's call_trigger being
// invoked directly from inside sound_generate's loop. Callers must keep
// trigger functions non-blocking and must not call back into the mixer.
func (m *Mixer) fireTriggerLocked(ch int) {
	fn := m.channels[ch].trigger
	m.channels[ch].trigger = nil
	if fn != nil {
		fn(ch)
	}
}
