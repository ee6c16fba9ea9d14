package file

import (
	"io"

	"golang.org/x/sys/unix"
)

// preadFile satisfies ioreq.ReaderAt with a direct unix.Pread against the
// raw file descriptor rather than os.File.ReadAt, giving the scheduler the
// same "absolute seek per block, no shared cursor" guarantee the original
// got from a plain POSIX pread() call instead of a stateful seek+read pair.
type preadFile struct {
	fd int
}

func newPreadFile(fd int) *preadFile { return &preadFile{fd: fd} }

func (p *preadFile) ReadAt(buf []byte, off int64) (int, error) {
	n, err := unix.Pread(p.fd, buf, off)
	if err != nil {
		return n, err
	}
	if n == 0 && len(buf) > 0 {
		return 0, io.EOF
	}
	return n, nil
}
