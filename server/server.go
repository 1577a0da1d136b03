// Package server implements the per-session FTP protocol engine and the
// multi-session I/O driver described by RFC 959, RFC 3659, and the MODE Z
// deflate transmission draft.
//
// Concurrency model: the server accepts connections on a net.Listener and
// spawns one goroutine per session (Server.handleSession). Within a
// session, a dedicated reader goroutine feeds command lines to the session
// loop over a channel so ABOR/STAT/NOOP can still be served while
// RETR/STOR/LIST/etc. run in their own background goroutine. This is the
// idiomatic-Go shape of the single-threaded poll/select reactor the
// protocol was originally specified against: the Go runtime's netpoller is
// the multiplexer, SetReadDeadline is the idle-timeout sweep, and a
// cancellable context is the "pending-close" mechanism.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	hcmultierror "github.com/hashicorp/go-multierror"
)

// Server is the FTP server.
//
// Lifecycle:
//  1. Create server with NewServer()
//  2. Start with ListenAndServe() or Serve()
//  3. Server runs until Shutdown() is called or the listener is closed
type Server struct {
	addr   string
	driver Driver
	logger *slog.Logger

	welcomeMessage string
	serverName     string

	maxIdleTime  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	maxConnections      int
	maxConnectionsPerIP int
	activeConns         atomic.Int32

	connsByIP   map[string]int32
	connsByIPMu sync.Mutex

	// nextPassivePort round-robins pasvMinPort..pasvMaxPort for PASV
	// listeners. 0,0 means let the kernel pick an ephemeral port.
	nextPassivePort int32
	pasvMinPort     int
	pasvMaxPort     int
	publicHost      string

	bandwidthLimit   int64 // bytes/sec per data connection, 0 = unlimited
	metricsCollector MetricsCollector
	transferLog      TransferLogger
	enableDirMessage bool
	deflateLevel     int

	pathRedactor PathRedactor
	redactIPs    bool
	config       *Config

	listenerFactory  ListenerFactory
	disabledCommands map[string]bool

	startTime time.Time

	mu         sync.Mutex
	listener   net.Listener
	conns      map[net.Conn]struct{}
	inShutdown atomic.Bool
}

// ListenerFactory creates the net.Listener ListenAndServe accepts
// connections on. The default, DefaultListenerFactory, calls net.Listen.
// A custom factory lets the control channel run over a transport other
// than plain TCP (for example QUIC streams wrapped as a net.Listener).
type ListenerFactory interface {
	Listen(network, address string) (net.Listener, error)
}

// DefaultListenerFactory is the ListenerFactory used when none is set via
// WithListenerFactory; it calls net.Listen directly.
type DefaultListenerFactory struct{}

func (DefaultListenerFactory) Listen(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}

// ErrServerClosed is returned by Serve/ListenAndServe after Shutdown.
var ErrServerClosed = errors.New("ftpd: server closed")

// NewServer creates a new FTP server listening on addr (e.g. ":21" or
// "127.0.0.1:2121"). WithDriver is required.
func NewServer(addr string, options ...Option) (*Server, error) {
	s := &Server{
		addr:            addr,
		logger:          slog.Default(),
		welcomeMessage:  "220 FTP Server Ready",
		serverName:      "UNIX Type: L8",
		maxIdleTime:     60 * time.Second,
		deflateLevel:    6,
		config:          NewConfig(),
		listenerFactory: DefaultListenerFactory{},
		conns:           make(map[net.Conn]struct{}),
		connsByIP:       make(map[string]int32),
		startTime:       time.Now(),
	}

	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.driver == nil {
		return nil, fmt.Errorf("ftpd: driver is required (use WithDriver)")
	}

	return s, nil
}

// ListenAndServe starts the server on the configured address. It blocks
// until the server stops or an error occurs.
func (s *Server) ListenAndServe() error {
	ln, err := s.listenerFactory.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("ftpd: listen on %s: %w", s.addr, err)
	}
	s.logger.Info("ftp server listening", "addr", s.addr)
	return s.Serve(ln)
}

// Shutdown stops accepting new connections and closes every tracked
// connection, aggregating any errors encountered along the way.
func (s *Server) Shutdown() error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	conns := s.conns
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	var merr *hcmultierror.Error
	if ln != nil {
		if err := ln.Close(); err != nil {
			merr = hcmultierror.Append(merr, fmt.Errorf("close listener: %w", err))
		}
	}
	for conn := range maps.Keys(conns) {
		if err := conn.Close(); err != nil {
			merr = hcmultierror.Append(merr, fmt.Errorf("close conn %s: %w", conn.RemoteAddr(), err))
		}
	}
	return merr.ErrorOrNil()
}

// Serve accepts connections on l until it is closed. Each connection runs
// in its own goroutine.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.listener == l {
			s.listener = nil
		}
		s.mu.Unlock()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			s.logger.Error("accept error", "error", err)
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	if !s.trackConnection(conn, true) {
		conn.Close()
		return
	}
	defer s.trackConnection(conn, false)
	s.handleSession(conn)
}

// trackConnection returns false if the server is shutting down.
func (s *Server) trackConnection(conn net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inShutdown.Load() {
		if add {
			conn.Close()
		}
		return false
	}

	ip := ipOf(conn.RemoteAddr())

	if add {
		s.conns[conn] = struct{}{}
		if s.maxConnectionsPerIP > 0 {
			s.connsByIPMu.Lock()
			s.connsByIP[ip]++
			s.connsByIPMu.Unlock()
		}
		return true
	}

	delete(s.conns, conn)
	if s.maxConnectionsPerIP > 0 {
		s.connsByIPMu.Lock()
		s.connsByIP[ip]--
		if s.connsByIP[ip] <= 0 {
			delete(s.connsByIP, ip)
		}
		s.connsByIPMu.Unlock()
	}
	return true
}

func ipOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// trackingConn wraps a data connection so Server.Shutdown closes it too.
type trackingConn struct {
	net.Conn
	server *Server
}

func (c *trackingConn) Close() error {
	c.server.trackConnection(c.Conn, false)
	return c.Conn.Close()
}

func (s *Server) handleSession(conn net.Conn) {
	if s.maxConnections > 0 && s.activeConns.Load() >= int32(s.maxConnections) {
		ip := ipOf(conn.RemoteAddr())
		s.logger.Warn("connection_rejected", "remote_ip", s.redactIP(ip), "reason", "global_limit_reached", "limit", s.maxConnections)
		if s.metricsCollector != nil {
			s.metricsCollector.RecordConnection(false, "global_limit_reached")
		}
		fmt.Fprint(conn, "421 Too many users, sorry.\r\n")
		conn.Close()
		return
	}

	if s.maxConnectionsPerIP > 0 {
		ip := ipOf(conn.RemoteAddr())
		s.connsByIPMu.Lock()
		// trackConnection has already counted conn itself.
		over := s.connsByIP[ip] > int32(s.maxConnectionsPerIP)
		s.connsByIPMu.Unlock()
		if over {
			s.logger.Warn("connection_rejected", "remote_ip", s.redactIP(ip), "reason", "per_ip_limit_reached", "limit", s.maxConnectionsPerIP)
			if s.metricsCollector != nil {
				s.metricsCollector.RecordConnection(false, "per_ip_limit_reached")
			}
			fmt.Fprint(conn, "421 Too many connections from your IP address.\r\n")
			conn.Close()
			return
		}
	}

	if s.metricsCollector != nil {
		s.metricsCollector.RecordConnection(true, "accepted")
	}

	s.activeConns.Add(1)
	defer s.activeConns.Add(-1)

	sess := newSession(s, conn)
	sess.serve()
}

// redactPath applies the custom PathRedactor, if one was installed via
// WithPathRedactor. There is no built-in path redaction.
func (s *Server) redactPath(path string) string {
	if s.pathRedactor == nil {
		return path
	}
	return s.pathRedactor(path)
}

// redactIP masks the trailing component of an IP address (the last IPv4
// octet or the last IPv6 group) with "xxx" when WithRedactIPs(true) is
// set, for logs that shouldn't retain a client's full address.
func (s *Server) redactIP(ip string) string {
	if !s.redactIPs || ip == "" {
		return ip
	}
	if i := strings.LastIndexByte(ip, '.'); i >= 0 {
		return ip[:i+1] + "xxx"
	}
	if i := strings.LastIndexByte(ip, ':'); i >= 0 {
		return ip[:i+1] + "xxx"
	}
	return ip
}
