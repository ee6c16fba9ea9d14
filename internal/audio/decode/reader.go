package decode

import "io"

// SourceReader adapts a Source to io.Reader, for the third-party stream
// decoders (ogg, mp3) that want to pull their own bytes sequentially
// rather than go through GetData's byte-range interface.
type SourceReader struct {
	src Source
	pos uint32
}

// NewSourceReader wraps src for sequential reading from the start.
func NewSourceReader(src Source) *SourceReader {
	return &SourceReader{src: src}
}

func (r *SourceReader) Read(p []byte) (int, error) {
	if r.pos >= r.src.Len() {
		return 0, io.EOF
	}
	chunk, err := r.src.GetData(r.pos, uint32(len(p)))
	if err != nil {
		return 0, err
	}
	if len(chunk) == 0 {
		return 0, io.EOF
	}
	n := copy(p, chunk)
	r.pos += uint32(n)
	return n, nil
}
