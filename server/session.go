package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gonzalop/goftpd/internal/command"
	"github.com/gonzalop/goftpd/internal/ratelimit"
)

// MaxCommandLength is the maximum length of a single command line. A
// client that exceeds it receives "500 Command line too long." and the
// session is torn down, mirroring ftpd's fixed command buffer.
const MaxCommandLength = 4096

// sessionState names the three states the protocol engine moves through:
// waiting for a command, waiting for a data connection to be established,
// and actively transferring data. The state is recorded as a transfer
// starts and ends; STAT's reply and the 503 rejection of commands while a
// transfer runs both key off the busy flag instead. The transitions
// themselves live in the goroutine-per-transfer model below.
type sessionState int

const (
	stateCommand sessionState = iota
	stateDataConnect
	stateDataTransfer
)

func (st sessionState) String() string {
	switch st {
	case stateDataConnect:
		return "awaiting data connection"
	case stateDataTransfer:
		return "transferring"
	default:
		return "idle"
	}
}

// session represents one FTP client's control connection and everything
// hanging off it: authentication latches, the working directory, data
// connection setup, and the state of any in-flight transfer.
type session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	tnet   *telnetReader
	mu     sync.Mutex // protects writer, conn, and the fields below

	sessionID string
	remoteIP  string

	// Authentication latches, per §3: authorizedUser is set by USER,
	// authorizedPass by PASS; the session is authenticated only once both
	// are true for a consistent user/pass pair.
	authorizedUser bool
	authorizedPass bool
	pendingUser    string
	isLoggedIn     bool
	user           string

	fs         ClientContext
	cwd        string // canonical absolute virtual path, always resolved
	renameFrom string // staged by RNFR, cleared by any command but RNTO

	restartOffset int64  // set by REST, consumed by the next RETR/STOR/APPE
	transferType  string // "A" (ASCII) or "I" (binary, default)
	structure     string // STRU: always "F" once accepted

	modeZ        bool // MODE Z: wrap transfers in a zlib deflate stream
	deflateLevel int
	mlstFacts    map[string]bool // which MLSx facts OPTS MLST enabled

	state          sessionState
	busy           bool
	transferCtx    context.Context
	transferCancel context.CancelFunc
	transferWG     sync.WaitGroup

	cmdReqChan chan struct{}

	dataConn       net.Conn
	pasvList       net.Listener
	activeIP       string
	activePort     int
	abortRequested bool

	lastPublicHost string
	resolvedIP     net.IP
}

// dispatch is the case-insensitive, binary-searched command table shared
// by every session. USER, PASS, QUIT, and NOOP are handled specially in
// handleCommand before this table is consulted.
var dispatch *command.Table[*session]

func init() {
	dispatch = command.NewTable(map[string]command.Handler[*session]{
		"CWD":  (*session).handleCWD,
		"XCWD": (*session).handleCWD,
		"CDUP": (*session).handleCDUP,
		"XCUP": (*session).handleCDUP,
		"PWD":  (*session).handlePWD,
		"XPWD": (*session).handlePWD,
		"LIST": (*session).handleLIST,
		"NLST": (*session).handleNLST,
		"MKD":  (*session).handleMKD,
		"XMKD": (*session).handleMKD,
		"RMD":  (*session).handleRMD,
		"XRMD": (*session).handleRMD,
		"DELE": (*session).handleDELE,
		"RNFR": (*session).handleRNFR,
		"RNTO": (*session).handleRNTO,

		"RETR": (*session).handleRETR,
		"STOR": (*session).handleSTOR,
		"APPE": (*session).handleAPPE,
		"STOU": (*session).handleSTOU,
		"ALLO": (*session).handleALLO,

		"TYPE": (*session).handleTYPE,
		"PORT": (*session).handlePORT,
		"PASV": (*session).handlePASV,
		"REST": (*session).handleREST,

		"SIZE": (*session).handleSIZE,
		"MDTM": (*session).handleMDTM,
		"FEAT": (*session).handleFEAT,
		"OPTS": (*session).handleOPTS,
		"MLSD": (*session).handleMLSD,
		"MLST": (*session).handleMLST,

		"MODE": (*session).handleMODE,
		"STRU": (*session).handleSTRU,
		"SYST": (*session).handleSYST,
		"STAT": (*session).handleSTAT,
		"HELP": (*session).handleHELP,
		"SITE": (*session).handleSITE,

		"ABOR": (*session).handleABOR,
	})
}

// validateActiveIP rejects PORT targets that don't match the control
// connection's peer address, the classic anti-bounce-attack check.
func (s *session) validateActiveIP(ip net.IP) bool {
	host, _, err := net.SplitHostPort(s.conn.RemoteAddr().String())
	if err != nil {
		host = s.conn.RemoteAddr().String()
	}
	remoteIP := net.ParseIP(host)
	return remoteIP != nil && ip.Equal(remoteIP)
}

func generateSessionID() string {
	return uuid.NewString()
}

func (s *session) redactPath(path string) string { return s.server.redactPath(path) }
func (s *session) redactIP(ip string) string     { return s.server.redactIP(ip) }

// rateLimitReader/Writer wrap a data-connection stream with the server's
// configured bandwidth limit, if any.
func (s *session) rateLimitReader(r io.Reader) io.Reader {
	if s.server.bandwidthLimit <= 0 {
		return r
	}
	return ratelimit.NewReader(r, ratelimit.New(s.server.bandwidthLimit))
}

func (s *session) rateLimitWriter(w io.Writer) io.Writer {
	if s.server.bandwidthLimit <= 0 {
		return w
	}
	return ratelimit.NewWriter(w, ratelimit.New(s.server.bandwidthLimit))
}

func newSession(server *Server, conn net.Conn) *session {
	remoteIP, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		remoteIP = conn.RemoteAddr().String()
	}

	enableOOBInline(conn)

	tr := telnetReaderPool.Get().(*telnetReader)
	tr.Reset(conn)

	reader := controlReaderPool.Get().(*bufio.Reader)
	reader.Reset(tr)

	writer := controlWriterPool.Get().(*bufio.Writer)
	writer.Reset(conn)

	s := &session{
		server:       server,
		conn:         conn,
		reader:       reader,
		writer:       writer,
		tnet:         tr,
		sessionID:    generateSessionID(),
		remoteIP:     remoteIP,
		cwd:          "/",
		transferType: "I",
		structure:    "F",
		deflateLevel: server.deflateLevel,
		mlstFacts: map[string]bool{
			"type": true, "size": true, "modify": true, "perm": true, "unix.mode": true,
		},
		cmdReqChan: make(chan struct{}),
	}

	// The Telnet Data Mark is how a client announces urgent out-of-band
	// data ahead of a TCP URG byte; treat it exactly like an in-band ABOR.
	tr.onDataMark = func() { s.handleABOR("") }

	return s
}

type readResult struct {
	line string
	err  error
}

// serve runs the session until the control connection closes. A reader
// goroutine feeds decoded command lines to this loop over cmdChan so that
// ABOR and STAT can still be served while a RETR/STOR/LIST runs in its
// own background goroutine (see runTransfer). cmdReqChan double-buffers
// the handoff: the reader goroutine waits for the current handler to
// finish before reading the next line, which matters when a handler
// mutates s.reader/s.writer (none do post-FTPS removal, but the
// synchronization is kept because it is also what makes s.mu-guarded
// field access safe across goroutines).
func (s *session) serve() {
	defer s.close()

	s.sendWelcome()
	s.server.logger.Info("session_started", "session_id", s.sessionID, "remote_ip", s.redactIP(s.remoteIP))

	done := make(chan struct{})
	defer close(done)

	cmdChan := s.startCommandReader(done)

	for {
		res, ok := <-cmdChan
		if !ok {
			return
		}

		if res.err != nil {
			if res.err != io.EOF && res.err.Error() != "command too long" {
				s.server.logger.Warn("read error", "session_id", s.sessionID, "remote_ip", s.redactIP(s.remoteIP), "user", s.user, "error", res.err)
			}
			if res.err.Error() == "command too long" {
				s.reply(500, "Command line too long.")
			}
			return
		}

		_ = s.conn.SetReadDeadline(time.Time{})
		if s.server.writeTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
		}

		s.handleCommand(res.line)

		if s.server.writeTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Time{})
		}

		if verb, _ := command.SplitVerb(res.line); strings.EqualFold(verb, "QUIT") && !s.server.disabledCommands["QUIT"] {
			return
		}

		select {
		case s.cmdReqChan <- struct{}{}:
		case <-time.After(time.Second):
		}
	}
}

func (s *session) sendWelcome() {
	msg := s.server.welcomeMessage
	switch {
	case strings.HasPrefix(msg, "220 "):
		s.reply(220, msg[4:])
	case strings.HasPrefix(msg, "220"):
		s.reply(220, msg[3:])
	default:
		s.reply(220, msg)
	}
}

func (s *session) startCommandReader(done chan struct{}) chan readResult {
	out := make(chan readResult)
	go func() {
		defer close(out)
		for {
			if s.server.readTimeout > 0 {
				_ = s.conn.SetReadDeadline(time.Now().Add(s.server.readTimeout))
			} else if s.server.maxIdleTime > 0 {
				_ = s.conn.SetReadDeadline(time.Now().Add(s.server.maxIdleTime))
			}

			line, err := s.readCommand()

			select {
			case out <- readResult{line, err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}

			select {
			case <-s.cmdReqChan:
			case <-done:
				return
			}
		}
	}()
	return out
}

// readCommand reads one line, delimited by CRLF or a bare LF per §4.3.
func (s *session) readCommand() (string, error) {
	var line []byte
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			return string(line), err
		}
		if len(line) >= MaxCommandLength {
			return "", fmt.Errorf("command too long")
		}
		if b == '\n' {
			if n := len(line); n > 0 && line[n-1] == '\r' {
				line = line[:n-1]
			}
			return string(line), nil
		}
		line = append(line, b)
	}
}

func (s *session) close() {
	s.mu.Lock()
	if s.transferCancel != nil {
		s.transferCancel()
	}
	s.mu.Unlock()

	if s.fs != nil {
		s.fs.Close()
	}
	if s.pasvList != nil {
		s.pasvList.Close()
	}
	if s.dataConn != nil {
		s.dataConn.Close()
	}
	s.conn.Close()

	s.transferWG.Wait()

	if s.reader != nil {
		s.reader.Reset(nil)
		controlReaderPool.Put(s.reader)
		s.reader = nil
	}
	if s.writer != nil {
		s.writer.Reset(nil)
		controlWriterPool.Put(s.writer)
		s.writer = nil
	}
	if s.tnet != nil {
		s.tnet.Reset(nil)
		telnetReaderPool.Put(s.tnet)
		s.tnet = nil
	}

	s.server.logger.Debug("session_closed", "session_id", s.sessionID, "remote_ip", s.redactIP(s.remoteIP), "user", s.user)
}

// handleCommand parses and dispatches one already-delimited command line.
func (s *session) handleCommand(line string) {
	if line == "" {
		return
	}

	verb, arg := command.SplitVerb(line)
	verb = strings.ToUpper(verb)

	logArg := arg
	if verb == "PASS" {
		logArg = "***"
	}
	s.server.logger.Debug("command_received", "session_id", s.sessionID, "remote_ip", s.redactIP(s.remoteIP), "user", s.user, "cmd", verb, "arg", logArg)

	s.mu.Lock()
	busy := s.busy
	s.mu.Unlock()

	if busy {
		switch verb {
		case "ABOR", "NOOP", "PWD", "XPWD", "QUIT", "STAT":
		default:
			s.reply(503, "Transfer in progress, please ABOR or wait.")
			return
		}
	}

	if s.server.disabledCommands[verb] {
		s.reply(502, "Command not implemented.")
		return
	}

	// Any command other than RNTO cancels a pending RNFR, per §4.8.
	if verb != "RNTO" {
		s.renameFrom = ""
	}

	start := time.Now()
	success := true

	switch verb {
	case "USER":
		s.handleUSER(arg)
	case "PASS":
		s.handlePASS(arg)
	case "QUIT":
		s.reply(221, "Service closing control connection.")
		success = true
	case "NOOP":
		s.reply(200, "OK.")
	default:
		if handler, ok := dispatch.Lookup(verb); ok {
			handler(s, arg)
		} else {
			s.reply(502, "Command not implemented.")
			success = false
		}
	}

	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordCommand(verb, success, time.Since(start))
	}
}

func (s *session) connData() (net.Conn, error) {
	if s.pasvList != nil {
		return s.connPassive()
	}
	if s.activeIP != "" {
		return s.connActive()
	}
	return nil, fmt.Errorf("no data connection setup")
}

func (s *session) connPassive() (net.Conn, error) {
	s.server.logger.Debug("waiting_for_passive_connection", "session_id", s.sessionID, "remote_ip", s.redactIP(s.remoteIP))
	if t, ok := s.pasvList.(*net.TCPListener); ok {
		_ = t.SetDeadline(time.Now().Add(10 * time.Second))
	}
	conn, err := s.pasvList.Accept()
	if err != nil {
		return nil, err
	}
	s.pasvList.Close()
	s.pasvList = nil
	return s.wrapDataConn(conn)
}

func (s *session) connActive() (net.Conn, error) {
	addr := net.JoinHostPort(s.activeIP, strconv.Itoa(s.activePort))
	s.server.logger.Debug("dialing_active_connection", "session_id", s.sessionID, "remote_ip", s.redactIP(s.remoteIP), "addr", addr)
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	s.activeIP = ""
	return s.wrapDataConn(conn)
}

func (s *session) wrapDataConn(conn net.Conn) (net.Conn, error) {
	if s.server.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.server.readTimeout))
	}
	if s.server.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
	}
	s.server.trackConnection(conn, true)
	return &trackingConn{Conn: conn, server: s.server}, nil
}

// handleABOR aborts an in-progress transfer, or replies immediately if
// none is running. It is also invoked directly when the control stream's
// Telnet Data Mark signals urgent out-of-band data (see telnetReader).
//
// When a transfer is in progress, the reply is the synchronous two-line
// sequence the protocol requires: 225 for ABOR itself, then 426 in place
// of the transfer command's own completion reply. abortRequested tells
// the transfer goroutine in runTransfer to stay silent, since this
// handler has already sent the 426 on its behalf.
func (s *session) handleABOR(_ string) {
	s.mu.Lock()

	if !s.busy {
		s.mu.Unlock()
		s.reply(225, "No transfer in progress.")
		return
	}

	s.server.logger.Info("transfer_abort_requested", "session_id", s.sessionID)
	s.abortRequested = true

	if s.dataConn != nil {
		s.dataConn.Close()
	}
	if s.pasvList != nil {
		s.pasvList.Close()
	}
	if s.transferCancel != nil {
		s.transferCancel()
	}
	s.mu.Unlock()

	s.reply(225, "Aborted.")
	s.reply(426, "Transfer aborted.")
}

func (s *session) handleALLO(_ string) {
	s.reply(202, "Superfluous command.")
}

// replyError maps a ClientContext/filesystem error to a response code.
func (s *session) replyError(err error) {
	switch {
	case os.IsNotExist(err):
		s.reply(550, "File not found.")
	case os.IsPermission(err):
		s.reply(550, "Permission denied.")
	case os.IsExist(err):
		s.reply(550, "File already exists.")
	default:
		s.reply(550, "Action failed: "+err.Error())
	}
}

func (s *session) reply(code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.writer, "%d %s\r\n", code, message)
	s.writer.Flush()
}

// replyMultiline sends a multi-line reply per RFC 959 §4.2: all
// continuation lines are prefixed with the code and a hyphen, and the
// final line repeats the code followed by a space.
func (s *session) replyMultiline(code int, lines []string, final string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range lines {
		fmt.Fprintf(s.writer, "%d-%s\r\n", code, line)
	}
	fmt.Fprintf(s.writer, "%d %s\r\n", code, final)
	s.writer.Flush()
}

// logTransfer writes one xferlog-format line for a completed transfer, if
// a TransferLogger is configured. Format:
// current-time transfer-time remote-host file-size filename transfer-type
// special-action-flag direction access-mode username service-name
// authentication-method authenticated-user-id completion-status
func (s *session) logTransfer(cmd, filename string, bytes int64, duration time.Duration) {
	if s.server.transferLog == nil {
		return
	}

	transferTime := int64(duration.Seconds())
	if transferTime == 0 {
		transferTime = 1
	}

	tType := "b"
	if s.transferType == "A" {
		tType = "a"
	}

	actionFlag := "_"
	if s.modeZ {
		actionFlag = "C"
	}

	direction := "o"
	if cmd == "STOR" || cmd == "APPE" || cmd == "STOU" {
		direction = "i"
	}

	accessMode := "r"
	if s.user == "anonymous" || s.user == "ftp" {
		accessMode = "a"
	}

	line := fmt.Sprintf("%s %d %s %d %s %s %s %s %s %s %s %s %s %s\n",
		time.Now().Format("Mon Jan 02 15:04:05 2006"),
		transferTime,
		s.remoteIP,
		bytes,
		filename,
		tType,
		actionFlag,
		direction,
		accessMode,
		s.user,
		"ftp",
		"0",
		"*",
		"c",
	)

	s.server.transferLog.LogTransfer(line)
}
