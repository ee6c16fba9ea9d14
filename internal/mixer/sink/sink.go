// Package sink drives the host audio device: it owns a portaudio output
// stream and, on each device callback, asks a Mixer to fill the buffer.
// Lifecycle (Open/Wait/Close) mirrors audio.go's audio_open/audio_wait/
// audio_close shape, swapped from direct ALSA device handles to a
// callback-based portaudio.Stream.
package sink

import (
	"errors"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/aquariaport/pkgrt/internal/mixer"
	"github.com/aquariaport/pkgrt/internal/rtlog"
)

var log = rtlog.For("sink")

// DefaultFramesPerBuffer matches the mixer's own per-tick cap so a single
// Generate call always satisfies one callback.
const DefaultFramesPerBuffer = mixer.BufLen

var initOnce sync.Once
var initErr error

func ensureInit() error {
	initOnce.Do(func() {
		initErr = portaudio.Initialize()
	})
	return initErr
}

// Device owns one open portaudio output stream feeding from a Mixer.
type Device struct {
	stream *portaudio.Stream
	m      *mixer.Mixer

	mu      sync.Mutex
	running bool
}

// Open starts a stereo S16LE output stream at sampleRate pulling mixed
// audio from m, exactly as audio_open brings up the configured device
// before the rest of the system starts feeding it samples.
func Open(m *mixer.Mixer, sampleRate float64) (*Device, error) {
	if m == nil {
		return nil, errors.New("sink: nil mixer")
	}
	if err := ensureInit(); err != nil {
		return nil, err
	}

	d := &Device{m: m}
	stream, err := portaudio.OpenDefaultStream(0, 2, sampleRate, DefaultFramesPerBuffer, d.callback)
	if err != nil {
		return nil, err
	}
	d.stream = stream
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, err
	}
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()
	return d, nil
}

// callback is portaudio's per-buffer pull; out is interleaved stereo
// int16, length 2*frames.
func (d *Device) callback(out []int16) {
	d.m.Generate(out, len(out)/2)
}

// Wait blocks until the stream stops producing callbacks because the
// device was closed, mirroring audio_wait's role of blocking the caller
// until the device drains.
func (d *Device) Wait() {
	for {
		d.mu.Lock()
		running := d.running
		d.mu.Unlock()
		if !running {
			return
		}
		portaudio.Sleep(10)
	}
}

// Close stops and releases the output stream.
func (d *Device) Close() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	if err := d.stream.Stop(); err != nil {
		log.Warn("stream stop failed", "err", err)
	}
	return d.stream.Close()
}
