// Package deflate wraps klauspost/compress/zlib as the server's MODE Z
// transmission engine. The deflate transmission mode draft puts a zlib
// header on the wire (not raw flate), so every RETR/LIST/MLSD/NLST body
// sent under MODE Z is wrapped with a Writer, and every STOR/APPE body
// received under MODE Z is unwrapped with a Reader.
//
// Transfers run in their own goroutine (see the server's runTransfer), so
// unlike ftpd's single-threaded reactor this engine can simply block on
// short writes/reads instead of threading EAGAIN/partial-I/O state through
// the deflate stream itself: the server's ring-buffer copy loop pumps bytes
// through a *Writer/Reader, and TCP's own flow control provides the
// backpressure.
package deflate

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// DefaultLevel matches zlib's (and ftpd's) default compression level.
const DefaultLevel = 6

// NewWriter wraps w in a zlib deflate stream at the given level (0-9; other
// values are rejected, matching OPTS MODE Z LEVEL n's validation). Callers
// must Close the returned writer once the source is exhausted to flush the
// final deflate block — this is what ftpd's deflateBuffer(flush=true) does.
func NewWriter(w io.Writer, level int) (*zlib.Writer, error) {
	if level < 0 || level > 9 {
		return nil, fmt.Errorf("deflate: level %d out of range [0,9]", level)
	}
	return zlib.NewWriterLevel(w, level)
}

// NewReader wraps r as a zlib inflate stream. It reads and validates the
// two-byte zlib header immediately, so it can fail fast on a malformed
// MODE Z upload.
func NewReader(r io.Reader) (io.ReadCloser, error) {
	return zlib.NewReader(r)
}
