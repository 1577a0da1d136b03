package server

import (
	"bufio"
	"io"
)

const (
	telnetIAC  = 0xFF // Interpret As Command
	telnetWILL = 0xFB
	telnetWONT = 0xFC
	telnetDO   = 0xFD
	telnetDONT = 0xFE
	telnetDM   = 0xF2 // Data Mark: out-of-band sync point for ABOR/STAT/QUIT
)

// telnetReader strips Telnet negotiation sequences from the control stream
// and reports Data Mark sightings, which is how an FTP client announces
// urgent out-of-band data (ABOR, STAT, QUIT sent ahead of a TCP URG byte)
// per RFC 959's use of the Telnet synch mechanism.
type telnetReader struct {
	reader     *bufio.Reader
	onDataMark func()
}

func newTelnetReader(r io.Reader) *telnetReader {
	return &telnetReader{reader: bufio.NewReader(r)}
}

// Reset rebinds the reader to a new source and clears any buffered bytes,
// so pooled telnetReaders can be reused across sessions.
func (t *telnetReader) Reset(r io.Reader) {
	t.reader.Reset(r)
	t.onDataMark = nil
}

func (t *telnetReader) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	for n < len(p) {
		if n > 0 && t.reader.Buffered() == 0 {
			return n, nil
		}

		b, err := t.reader.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return n, err
		}

		if b == telnetIAC {
			next, err := t.reader.ReadByte()
			if err != nil {
				return n, err
			}

			switch next {
			case telnetIAC:
				p[n] = telnetIAC
				n++
			case telnetDM:
				if t.onDataMark != nil {
					t.onDataMark()
				}
			case telnetWILL, telnetWONT, telnetDO, telnetDONT:
				if _, err := t.reader.ReadByte(); err != nil {
					return n, err
				}
			default:
				// Other two-byte commands: already consumed, ignore.
			}
			continue
		}

		p[n] = b
		n++
	}

	return n, nil
}
