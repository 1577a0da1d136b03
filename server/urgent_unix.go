//go:build unix

package server

import (
	"net"

	"golang.org/x/sys/unix"
)

// enableOOBInline sets SO_OOBINLINE on conn's underlying socket, if it is a
// *net.TCPConn. Without it, a client that sends a real TCP URG byte ahead
// of the Telnet Data Mark (rather than the Data Mark alone, in-band) leaves
// that byte sitting in the kernel's one-byte OOB buffer, where telnetReader
// never sees it; SO_OOBINLINE splices it back into the normal read stream
// at the mark (RFC 793's urgent pointer), so the existing in-band
// IAC/DM detection in telnetReader.Read picks it up like any other byte.
func enableOOBInline(conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return
	}
	_ = rawConn.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_OOBINLINE, 1)
	})
}
