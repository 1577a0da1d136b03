// Package server implements an FTP server: RFC 959 commands plus the
// RFC 3659 extensions (SIZE, MDTM, MLST, MLSD, REST) and an optional
// MODE Z deflate transmission mode.
//
// # Overview
//
// This package provides a modular FTP server that allows you to:
//   - Embed an FTP server into your Go application
//   - Use custom storage backends (Drivers)
//   - Serve files with SIZE/MDTM/MLST/MLSD/REST support
//   - Negotiate MODE Z compressed transfers
//
// # Getting Started
//
// The easiest way to start is using the provided FSDriver to serve a local
// directory:
//
//	package main
//
//	import (
//	    "log"
//
//	    "github.com/gonzalop/goftpd/server"
//	)
//
//	func main() {
//	    driver, err := server.NewFSDriver("/tmp/ftp")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    s, err := server.NewServer(":21", server.WithDriver(driver))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    log.Println("Starting FTP server on :21")
//	    if err := s.ListenAndServe(); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Custom Drivers
//
// You can implement the Driver interface to connect the FTP server to any
// backend, such as cloud storage, an in-memory database, or a custom CMS.
//
//	type Driver interface {
//	    Authenticate(user, pass, host string) (ClientContext, error)
//	}
//
// And the ClientContext interface for file operations:
//
//	type ClientContext interface {
//	    ListDir(path string) ([]os.FileInfo, error)
//	    OpenFile(path string, flag int) (io.ReadWriteCloser, error)
//	    GetSettings() *Settings
//	    // ...
//	}
//
// # Authentication Patterns
//
// The server supports flexible authentication through the Driver interface.
//
// Anonymous-only access (default with FSDriver):
//
//	driver, _ := server.NewFSDriver("/tmp/ftp")
//	// Allows "anonymous" and "ftp" users with read-only access
//
// Custom authentication with per-user directories:
//
//	driver, _ := server.NewFSDriver("/tmp/ftp",
//	    server.WithAuthenticator(func(user, pass, host string) (string, bool, error) {
//	        if !isValidUser(user, pass) {
//	            return "", false, os.ErrPermission
//	        }
//	        userRoot := filepath.Join("/tmp/ftp", user)
//	        readOnly := user == "guest"
//	        return userRoot, readOnly, nil
//	    }),
//	)
//
// Disable anonymous access:
//
//	driver, _ := server.NewFSDriver("/tmp/ftp",
//	    server.WithDisableAnonymous(true),
//	    server.WithAuthenticator(func(user, pass, host string) (string, bool, error) {
//	        return validateAndGetUserRoot(user, pass)
//	    }),
//	)
//
// # Passive Mode Configuration
//
// When behind NAT or in containerized environments, configure passive mode
// settings:
//
//	settings := &server.Settings{
//	    PublicHost:  "ftp.example.com",
//	    PasvMinPort: 30000,
//	    PasvMaxPort: 30100,
//	}
//	driver, _ := server.NewFSDriver("/tmp/ftp",
//	    server.WithSettings(settings),
//	)
//
// The PublicHost is advertised to clients in PASV responses. If not set,
// the server uses the control connection's local address.
//
// Port range configuration is essential for firewall rules:
//   - Ensure the range is large enough for concurrent transfers
//   - Configure your firewall to allow incoming connections on this range
//   - Docker users: map the port range with -p 30000-30100:30000-30100
//
// # Server Configuration
//
// Connection limits and timeouts:
//
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithMaxConnections(100),
//	    server.WithMaxIdleTime(10*time.Minute),
//	)
//
// Custom logging:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithLogger(logger),
//	)
//
// MODE Z compression:
//
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithDeflateLevel(6), // default level when OPTS MODE Z LEVEL is absent
//	)
//
// # Troubleshooting
//
// Problem: Passive mode connections fail
//   - Solution: Set PublicHost in Settings to your public IP/hostname
//   - Solution: Ensure firewall allows passive port range
//   - Solution: For Docker, map passive ports: -p 21:21 -p 30000-30100:30000-30100
//
// Problem: "Permission denied" errors
//   - Solution: Check file system permissions on the root directory
//   - Solution: Verify the user running the server has read/write access
//   - Solution: Review your Authenticator function's readOnly flag
//
// Problem: Connection refused on port 21
//   - Solution: Port 21 requires root/admin privileges on most systems
//   - Solution: Use a higher port (e.g., :2121) for development
//   - Solution: On Linux, use setcap: sudo setcap CAP_NET_BIND_SERVICE=+eip ./ftpd
//
// # RFC Compliance
//
// This server implements the following RFCs:
//   - RFC 959 (Base FTP)
//   - RFC 1123 (Requirements for Internet Hosts - minimum implementation)
//   - RFC 2389 (Feature Negotiation)
//   - RFC 3659 (Extensions: SIZE, MDTM, MLSD, MLST, REST)
//   - draft MODE Z (deflate transmission mode)
//
// FTPS (RFC 4217), IPv6 data connections (RFC 2428), the HOST command
// (RFC 7151), and the MFMT/HASH drafts are outside this server's scope.
package server
