// Command pkgplay loads a single sound entry out of a .pkg archive (or a
// bare file on disk), decodes it, and plays it through the host's default
// audio device via the mixer and portaudio sink.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	_ "github.com/aquariaport/pkgrt/internal/audio/decode/mp3"
	_ "github.com/aquariaport/pkgrt/internal/audio/decode/ogg"

	"github.com/aquariaport/pkgrt/internal/audio/decode"
	"github.com/aquariaport/pkgrt/internal/mixer"
	"github.com/aquariaport/pkgrt/internal/mixer/sink"
	"github.com/aquariaport/pkgrt/internal/pkgfile"
)

const sampleRate = 44100

func main() {
	archivePath := pflag.StringP("archive", "a", "", "Path to a .pkg archive (omitted: --entry is a plain file on disk).")
	entry := pflag.StringP("entry", "e", "", "Archive-relative path (or disk path if --archive is omitted) to play.")
	volume := pflag.Float64P("volume", "v", 1.0, "Playback gain (0 = silent, 1 = unity).")
	loop := pflag.BoolP("loop", "l", false, "Loop the sound continuously instead of playing once.")
	help := pflag.BoolP("help", "h", false, "Display help text.")
	pflag.Parse()

	if *help || *entry == "" {
		pflag.Usage()
		os.Exit(1)
	}

	if err := run(*archivePath, *entry, *volume, *loop); err != nil {
		fmt.Fprintf(os.Stderr, "pkgplay: %v\n", err)
		os.Exit(1)
	}
}

func loadEntry(archivePath, entry string) ([]byte, error) {
	if archivePath == "" {
		return os.ReadFile(entry)
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ar, err := pkgfile.Open(f)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	e, ok := ar.Find(entry)
	if !ok {
		return nil, fmt.Errorf("entry not found: %s", entry)
	}
	payload := make([]byte, e.DataLen)
	if _, err := f.ReadAt(payload, int64(e.Offset)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	if e.Deflated {
		payload, err = pkgfile.Decompress(payload, int(e.FileSize))
		if err != nil {
			return nil, fmt.Errorf("inflating payload: %w", err)
		}
	}
	return payload, nil
}

func formatOf(entry string) (decode.Format, error) {
	switch strings.ToLower(filepath.Ext(entry)) {
	case ".wav":
		return decode.FormatWAV, nil
	case ".ogg":
		return decode.FormatOgg, nil
	case ".mp3":
		return decode.FormatMP3, nil
	default:
		return 0, errors.New("unrecognized audio extension (want .wav, .ogg, or .mp3)")
	}
}

func run(archivePath, entry string, volume float64, loop bool) error {
	data, err := loadEntry(archivePath, entry)
	if err != nil {
		return err
	}
	format, err := formatOf(entry)
	if err != nil {
		return err
	}

	m := mixer.New(sampleRate)
	loopLen := int32(0)
	if loop {
		loopLen = -1
	}
	if !m.PlayBuffer(0, format, data, 0, loopLen) {
		return errors.New("failed to open decode stream")
	}
	m.SetVolume(0, volume)

	done := make(chan struct{})
	m.SetTrigger(0, func(ch int) { close(done) })
	m.Start(0)

	dev, err := sink.Open(m, sampleRate)
	if err != nil {
		return fmt.Errorf("opening audio device: %w", err)
	}
	defer dev.Close()

	fmt.Printf("playing %s...\n", entry)
	select {
	case <-done:
	case <-time.After(1 * time.Hour):
	}
	return nil
}
