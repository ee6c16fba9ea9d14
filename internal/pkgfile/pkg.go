// Package pkgfile implements the PKG archive backend: a little-endian
// header, a sorted (hash, case-insensitive name) index, a shared NUL-
// delimited name table, and raw-DEFLATE payload decompression.
package pkgfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/flate"
)

const (
	headerSize = 16
	// entrySize is 20 bytes on disk: hash, nameofs_flags, offset, datalen,
	// filesize, each a u32. (spec.md's prose calls the record "16 bytes"
	// while also listing five 4-byte fields; we follow the field list,
	// since a working binary search needs the real original length.)
	entrySize = 20

	flagDeflated uint32 = 1 << 31
	nameOfsMask  uint32 = (1 << 28) - 1
)

var (
	ErrBadFormat = errors.New("pkgfile: bad archive format")
	ErrNotFound  = errors.New("pkgfile: entry not found")
)

// Entry is one index record, plus its resolved name.
type Entry struct {
	Hash       uint32
	Name       string // lowercased, as stored
	Deflated   bool
	Offset     uint32
	DataLen    uint32 // stored (possibly compressed) length
	FileSize   uint32 // original length
}

// Archive is an opened PKG file's index; it holds no reader, and callers
// read payload bytes themselves via each entry's Offset/DataLen.
type Archive struct {
	Magic   [4]byte
	entries []Entry // sorted by (Hash, Name)
}

// Open parses header + index + name table from r. r must support reads
// from the start; payload bytes are located by absolute Offset and are not
// read here.
func Open(r io.Reader) (*Archive, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("pkgfile: reading header: %w", err)
	}
	a := &Archive{}
	copy(a.Magic[:], hdr[0:4])
	gotHeaderSize := binary.LittleEndian.Uint32(hdr[4:8])
	gotEntrySize := binary.LittleEndian.Uint16(hdr[8:10])
	entryCount := binary.LittleEndian.Uint16(hdr[10:12])
	nameTableSize := binary.LittleEndian.Uint32(hdr[12:16])

	if gotHeaderSize != headerSize || gotEntrySize != entrySize {
		return nil, ErrBadFormat
	}

	rawIndex := make([]byte, int(entryCount)*entrySize)
	if _, err := io.ReadFull(r, rawIndex); err != nil {
		return nil, fmt.Errorf("pkgfile: reading index: %w", err)
	}
	nameTable := make([]byte, nameTableSize)
	if _, err := io.ReadFull(r, nameTable); err != nil {
		return nil, fmt.Errorf("pkgfile: reading name table: %w", err)
	}

	a.entries = make([]Entry, entryCount)
	for i := 0; i < int(entryCount); i++ {
		rec := rawIndex[i*entrySize : (i+1)*entrySize]
		hash := binary.LittleEndian.Uint32(rec[0:4])
		nameOfsFlags := binary.LittleEndian.Uint32(rec[4:8])
		offset := binary.LittleEndian.Uint32(rec[8:12])
		datalen := binary.LittleEndian.Uint32(rec[12:16])
		filesize := binary.LittleEndian.Uint32(rec[16:20])

		nameOfs := nameOfsFlags & nameOfsMask
		deflated := nameOfsFlags&flagDeflated != 0
		name, err := readName(nameTable, nameOfs)
		if err != nil {
			return nil, err
		}

		a.entries[i] = Entry{
			Hash:     hash,
			Name:     name,
			Deflated: deflated,
			Offset:   offset,
			DataLen:  datalen,
			FileSize: filesize,
		}
	}

	// Stable: two entries with genuinely identical (hash, name) keys (a
	// duplicate or a same-lowercased-name collision) must keep the
	// relative order they were read from the on-disk index in, or Find's
	// tiebreak among them would depend on sort.Slice's unspecified
	// pivoting instead of the archive's own build order.
	sort.SliceStable(a.entries, func(i, j int) bool {
		if a.entries[i].Hash != a.entries[j].Hash {
			return a.entries[i].Hash < a.entries[j].Hash
		}
		return a.entries[i].Name < a.entries[j].Name
	})

	return a, nil
}

func readName(table []byte, offset uint32) (string, error) {
	if int(offset) > len(table) {
		return "", ErrBadFormat
	}
	end := bytes.IndexByte(table[offset:], 0)
	if end < 0 {
		return "", ErrBadFormat
	}
	return string(table[offset : int(offset)+end]), nil
}

// hashName computes the archive's name hash. The original treats this as
// a black box reproduced exactly by the tool that built the archive; we
// use a stable FNV-1a variant over the lowercased ASCII bytes, matched by
// Build so round trips through this package are self-consistent.
func hashName(name string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		h ^= uint32(c)
		h *= 16777619
	}
	return h
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

// Find performs the binary search described in spec.md §4.4: primary key
// hash, secondary key case-insensitive (ASCII-only) name.
func (a *Archive) Find(path string) (Entry, bool) {
	lower := asciiLower(path)
	h := hashName(lower)

	lo, hi := 0, len(a.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if a.entries[mid].Hash < h {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	for i := lo; i < len(a.entries) && a.entries[i].Hash == h; i++ {
		if a.entries[i].Name == lower {
			return a.entries[i], true
		}
	}
	return Entry{}, false
}

// ListNames returns all entry names, in index (hash, name) order, matching
// list_files_start/list_files_next enumeration order.
func (a *Archive) ListNames() []string {
	names := make([]string, len(a.entries))
	for i, e := range a.entries {
		names[i] = e.Name
	}
	return names
}

// Decompress inflates a raw-DEFLATE stream of at most outLen bytes; it
// fails if the stream is truncated, or if the output is empty or longer
// than outLen.
func Decompress(compressed []byte, outLen int) ([]byte, error) {
	if outLen <= 0 {
		return nil, ErrBadFormat
	}
	fr := flate.NewReader(bytes.NewReader(compressed))
	defer fr.Close()
	out, err := io.ReadAll(io.LimitReader(fr, int64(outLen)+1))
	n := len(out)
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("pkgfile: inflate: %w", ErrBadFormat)
		}
		return nil, fmt.Errorf("pkgfile: inflate: %w", err)
	}
	if n <= 0 || n > outLen {
		return nil, ErrBadFormat
	}
	return out[:n], nil
}

// AquariaHasPath is the Aquaria-specific override forcing mod files under
// "_mods/" to fall through to the raw filesystem instead of the archive.
func AquariaHasPath(path string) bool {
	const modsPrefix = "_mods/"
	if len(path) >= len(modsPrefix) && path[:len(modsPrefix)] == modsPrefix {
		return false
	}
	return true
}
