package server

import (
	"bufio"
	"sync"
)

// Control-connection buffers are pooled across sessions: FTP servers on
// constrained hosts see many short-lived sessions, and reusing the
// bufio.Reader/Writer and telnetReader avoids a fresh allocation per
// connect.
var (
	telnetReaderPool = sync.Pool{
		New: func() any { return newTelnetReader(nil) },
	}
	controlReaderPool = sync.Pool{
		New: func() any { return bufio.NewReaderSize(nil, 4096) },
	}
	controlWriterPool = sync.Pool{
		New: func() any { return bufio.NewWriterSize(nil, 4096) },
	}
)
