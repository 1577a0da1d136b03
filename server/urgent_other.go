//go:build !unix

package server

import "net"

// enableOOBInline is a no-op on platforms with no SO_OOBINLINE equivalent
// wired up; the in-band Telnet Data Mark detection in telnetReader.Read
// still handles clients that send the Data Mark without a true TCP URG
// byte, which covers the common case.
func enableOOBInline(net.Conn) {}
