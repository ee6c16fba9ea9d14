package pkgfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/flate"
)

// SourceFile is one file to pack, as given by the build manifest.
type SourceFile struct {
	Name     string // archive-relative path, stored lowercased
	Data     []byte
	Deflate  bool
}

// Build writes a complete PKG archive (header + index + name table +
// payloads) to w, in the byte layout Open expects to read back.
func Build(w io.Writer, files []SourceFile) error {
	if len(files) > 0xFFFF {
		return fmt.Errorf("pkgfile: too many files for a u16 entry_count")
	}

	type built struct {
		name     string
		hash     uint32
		deflated bool
		payload  []byte
		origLen  uint32
	}

	entries := make([]built, len(files))
	for i, f := range files {
		name := asciiLower(f.Name)
		payload := f.Data
		deflated := false
		if f.Deflate {
			var buf bytes.Buffer
			fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
			if err != nil {
				return err
			}
			if _, err := fw.Write(f.Data); err != nil {
				return err
			}
			if err := fw.Close(); err != nil {
				return err
			}
			if buf.Len() < len(f.Data) {
				payload = buf.Bytes()
				deflated = true
			}
		}
		entries[i] = built{
			name:     name,
			hash:     hashName(name),
			deflated: deflated,
			payload:  payload,
			origLen:  uint32(len(f.Data)),
		}
	}

	// Stable so that two source files whose names collide (same hash,
	// same lowercased name) keep the order they were given in, making
	// that order - not sort.Slice's unspecified pivot choice - the
	// tiebreak a reader sees.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].hash != entries[j].hash {
			return entries[i].hash < entries[j].hash
		}
		return entries[i].name < entries[j].name
	})

	var nameTable bytes.Buffer
	nameOffsets := make([]uint32, len(entries))
	for i, e := range entries {
		nameOffsets[i] = uint32(nameTable.Len())
		nameTable.WriteString(e.name)
		nameTable.WriteByte(0)
	}

	dataStart := uint32(headerSize + len(entries)*entrySize + nameTable.Len())
	offsets := make([]uint32, len(entries))
	cursor := dataStart
	for i, e := range entries {
		offsets[i] = cursor
		cursor += uint32(len(e.payload))
	}

	hdr := make([]byte, headerSize)
	copy(hdr[0:4], []byte("PKG\x00"))
	binary.LittleEndian.PutUint32(hdr[4:8], headerSize)
	binary.LittleEndian.PutUint16(hdr[8:10], entrySize)
	binary.LittleEndian.PutUint16(hdr[10:12], uint16(len(entries)))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(nameTable.Len()))
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	for i, e := range entries {
		rec := make([]byte, entrySize)
		binary.LittleEndian.PutUint32(rec[0:4], e.hash)
		nameOfsFlags := nameOffsets[i] & nameOfsMask
		if e.deflated {
			nameOfsFlags |= flagDeflated
		}
		binary.LittleEndian.PutUint32(rec[4:8], nameOfsFlags)
		binary.LittleEndian.PutUint32(rec[8:12], offsets[i])
		binary.LittleEndian.PutUint32(rec[12:16], uint32(len(e.payload)))
		binary.LittleEndian.PutUint32(rec[16:20], e.origLen)
		if _, err := w.Write(rec); err != nil {
			return err
		}
	}

	if _, err := w.Write(nameTable.Bytes()); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := w.Write(e.payload); err != nil {
			return err
		}
	}
	return nil
}
