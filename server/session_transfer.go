package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gonzalop/goftpd/internal/buffer"
	"github.com/gonzalop/goftpd/internal/deflate"
)

// transferBufSize is the fixed capacity of the ring buffer each transfer
// body pumps bytes through between its source and destination, rather than
// the ad hoc internal buffer io.Copy allocates per call.
const transferBufSize = 32 * 1024

// copyBuffer is retrieveTransfer/storeTransfer's inner loop: read into the
// ring buffer's free area, mark it used, write out its used area, mark it
// free again. Coalesce keeps the free area contiguous across iterations so
// a short write never starves the next read of space.
func copyBuffer(dst io.Writer, src io.Reader, buf *buffer.Buffer) (int64, error) {
	var total int64
	for {
		n, rerr := src.Read(buf.FreeArea())
		if n > 0 {
			buf.MarkUsed(n)
			w, werr := dst.Write(buf.UsedArea())
			buf.MarkFree(w)
			total += int64(w)
			if werr != nil {
				return total, werr
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return total, nil
			}
			return total, rerr
		}
		buf.Coalesce()
	}
}

// runTransfer is the DataChannel's polymorphic transfer pump. It opens
// the armed data connection, replies 150, then runs body in its own
// goroutine so ABOR/STAT/QUIT/NOOP/PWD keep working on the control
// channel per §4.4's "only these commands are accepted while busy" rule.
// body receives the established data connection (each body applies the
// bandwidth limit itself) and must return the byte count transferred.
func (s *session) runTransfer(cmd, target, startMsg string, body func(ctx context.Context, conn net.Conn) (int64, error)) {
	conn, err := s.connData()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.busy = true
	s.dataConn = conn
	s.transferCtx = ctx
	s.transferCancel = cancel
	s.state = stateDataTransfer
	s.mu.Unlock()

	s.reply(150, startMsg)

	s.transferWG.Add(1)
	go func() {
		defer s.transferWG.Done()

		start := time.Now()
		n, err := body(ctx, conn)
		conn.Close()

		s.mu.Lock()
		aborted := s.abortRequested
		s.abortRequested = false
		s.busy = false
		s.dataConn = nil
		s.transferCtx = nil
		s.transferCancel = nil
		s.restartOffset = 0
		s.state = stateCommand
		s.mu.Unlock()
		cancel()

		if aborted {
			// handleABOR already replied 225/426 for this transfer.
			return
		}

		duration := time.Since(start)
		switch {
		case err != nil:
			s.reply(426, "Connection closed; transfer aborted.")
		default:
			s.reply(226, "Transfer complete.")
			s.logTransfer(cmd, target, n, duration)
			if s.server.metricsCollector != nil {
				s.server.metricsCollector.RecordTransfer(cmd, n, duration)
			}
		}
	}()
}

// devZeroPath is a hidden sentinel target, not a real file: RETR against it
// streams endless zeros and STOR/APPE against it discards everything written,
// the same rate-testing escape hatch the original server exposes.
const devZeroPath = "/devZero"

// zeroReader produces an endless stream of zero bytes, stopping as soon as
// ctx is done so a RETR from devZeroPath can still be cut short by ABOR or
// session shutdown instead of running forever.
type zeroReader struct{ ctx context.Context }

func (z zeroReader) Read(p []byte) (int, error) {
	select {
	case <-z.ctx.Done():
		return 0, z.ctx.Err()
	default:
	}
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// deflateDest wraps conn for an outgoing (RETR/LIST/MLSD/NLST) body when
// MODE Z is on; it must be Closed to flush the final deflate block before
// the caller reports completion.
func (s *session) deflateDest(w io.Writer) (io.Writer, func() error, error) {
	if !s.modeZ {
		return w, func() error { return nil }, nil
	}
	zw, err := deflate.NewWriter(w, s.deflateLevel)
	if err != nil {
		return nil, nil, err
	}
	return zw, zw.Close, nil
}

// inflateSrc wraps conn for an incoming (STOR/APPE) body when MODE Z is on.
func (s *session) inflateSrc(r io.Reader) (io.Reader, func() error, error) {
	if !s.modeZ {
		return r, func() error { return nil }, nil
	}
	zr, err := deflate.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	return zr, zr.Close, nil
}

func (s *session) handleRETR(arg string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}

	path, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}

	if path == devZeroPath {
		s.restartOffset = 0
		s.runTransfer("RETR", path, "Opening data connection for RETR.", func(ctx context.Context, conn net.Conn) (int64, error) {
			dst, flush, err := s.deflateDest(s.rateLimitWriter(conn))
			if err != nil {
				return 0, err
			}
			n, err := copyBuffer(dst, zeroReader{ctx: ctx}, buffer.New(transferBufSize))
			if err == context.Canceled {
				err = nil
			}
			if err == nil {
				err = flush()
			}
			return n, err
		})
		return
	}

	file, err := s.fs.OpenFile(path, os.O_RDONLY)
	if err != nil {
		s.replyError(err)
		return
	}

	offset := s.restartOffset
	if offset > 0 {
		seeker, ok := file.(io.Seeker)
		if !ok {
			file.Close()
			s.reply(550, "Resume not supported for this file.")
			s.restartOffset = 0
			return
		}
		if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
			file.Close()
			s.replyError(err)
			return
		}
	}

	msg := "Opening data connection for RETR."
	if offset > 0 {
		msg = fmt.Sprintf("Opening data connection for RETR (restarting at %d).", offset)
	}

	s.runTransfer("RETR", path, msg, func(ctx context.Context, conn net.Conn) (int64, error) {
		defer file.Close()
		dst, flush, err := s.deflateDest(s.rateLimitWriter(conn))
		if err != nil {
			return 0, err
		}
		n, err := copyBuffer(dst, file, buffer.New(transferBufSize))
		if err == nil {
			err = flush()
		}
		return n, err
	})
}

func (s *session) handleSTOR(arg string) {
	s.store(arg, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, "STOR")
}

func (s *session) handleAPPE(arg string) {
	s.store(arg, os.O_WRONLY|os.O_CREATE|os.O_APPEND, "APPE")
}

func (s *session) store(arg string, flags int, cmd string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}

	path, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}

	if path == devZeroPath {
		s.restartOffset = 0
		s.runTransfer(cmd, path, fmt.Sprintf("Opening data connection for %s.", cmd), func(ctx context.Context, conn net.Conn) (int64, error) {
			src, finish, err := s.inflateSrc(s.rateLimitReader(conn))
			if err != nil {
				return 0, err
			}
			n, err := copyBuffer(io.Discard, src, buffer.New(transferBufSize))
			if err == nil {
				err = finish()
			}
			return n, err
		})
		return
	}

	if s.restartOffset > 0 {
		flags = os.O_WRONLY | os.O_CREATE
	}

	file, err := s.fs.OpenFile(path, flags)
	if err != nil {
		s.replyError(err)
		return
	}

	if s.restartOffset > 0 {
		seeker, ok := file.(io.Seeker)
		if !ok {
			file.Close()
			s.reply(550, "Resume not supported for this file.")
			s.restartOffset = 0
			return
		}
		if _, err := seeker.Seek(s.restartOffset, io.SeekStart); err != nil {
			file.Close()
			s.replyError(err)
			return
		}
	}

	s.runTransfer(cmd, path, fmt.Sprintf("Opening data connection for %s.", cmd), func(ctx context.Context, conn net.Conn) (int64, error) {
		defer file.Close()
		src, finish, err := s.inflateSrc(s.rateLimitReader(conn))
		if err != nil {
			return 0, err
		}
		n, err := copyBuffer(file, src, buffer.New(transferBufSize))
		if err == nil {
			err = finish()
		}
		return n, err
	})
}

// handleSTOU replies 502: ftpd's dispatch table never wires STOU, a
// fidelity quirk this server preserves despite the command's RFC 959
// presence.
func (s *session) handleSTOU(_ string) {
	s.reply(502, "Command not implemented.")
}

func (s *session) handleTYPE(arg string) {
	if !s.isLoggedIn {
		s.reply(530, "Please login with USER and PASS.")
		return
	}
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "A", "A N":
		s.transferType = "A"
		s.reply(200, "Type set to A.")
	case "I", "L 8":
		s.transferType = "I"
		s.reply(200, "Type set to I.")
	default:
		s.reply(504, "Type not supported.")
	}
}

func (s *session) handlePORT(arg string) {
	if !s.isLoggedIn {
		s.reply(530, "Please login with USER and PASS.")
		return
	}

	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}

	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		s.reply(501, "Invalid port number.")
		return
	}

	ip := net.ParseIP(strings.Join(parts[0:4], "."))
	if ip == nil {
		s.reply(501, "Invalid IP address.")
		return
	}
	if !s.validateActiveIP(ip) {
		s.reply(500, "Illegal PORT command.")
		return
	}

	if s.pasvList != nil {
		s.pasvList.Close()
		s.pasvList = nil
	}
	s.activeIP = ip.String()
	s.activePort = p1*256 + p2
	s.reply(200, "PORT command successful.")
}

// pasvRange resolves the passive port range and advertised host, giving
// the driver's per-user Settings (if supplied) precedence over the
// server-wide WithPassivePortRange/WithPublicHost options.
func (s *session) pasvRange() (minPort, maxPort int, host string) {
	minPort, maxPort, host = s.server.pasvMinPort, s.server.pasvMaxPort, s.server.publicHost
	if settings := s.fs.GetSettings(); settings != nil {
		if settings.PasvMinPort > 0 {
			minPort = settings.PasvMinPort
		}
		if settings.PasvMaxPort > 0 {
			maxPort = settings.PasvMaxPort
		}
		if settings.PublicHost != "" {
			host = settings.PublicHost
		}
	}
	return minPort, maxPort, host
}

// listenPassive binds a PASV listener, cycling through the configured
// port range (matching a constrained platform's fixed ephemeral-port
// counter) or letting the OS assign one.
func (s *session) listenPassive() (net.Listener, error) {
	minPort, maxPort, _ := s.pasvRange()
	if minPort <= 0 || maxPort < minPort {
		return net.Listen("tcp", ":0")
	}

	rangeLen := int32(maxPort - minPort + 1)
	startOffset := atomic.AddInt32(&s.server.nextPassivePort, 1)

	for i := int32(0); i < rangeLen; i++ {
		port := minPort + int((startOffset+i)%rangeLen)
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return ln, nil
		}
	}
	return nil, fmt.Errorf("no available ports in range [%d, %d]", minPort, maxPort)
}

func (s *session) handlePASV(_ string) {
	if !s.isLoggedIn {
		s.reply(530, "Please login with USER and PASS.")
		return
	}

	if s.pasvList != nil {
		s.pasvList.Close()
		s.pasvList = nil
	}
	s.activeIP = ""

	ln, err := s.listenPassive()
	if err != nil {
		s.reply(425, "Can't open passive connection.")
		return
	}
	s.pasvList = ln

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	_, _, host := s.pasvRange()
	if host == "" {
		host, _, _ = net.SplitHostPort(s.conn.LocalAddr().String())
	}

	ip := s.resolvePublicHost(host)
	ipParts := []string{"0", "0", "0", "0"}
	if ip != nil {
		ipParts = strings.Split(ip.String(), ".")
	}

	arg := fmt.Sprintf("%s,%s,%s,%s,%d,%d", ipParts[0], ipParts[1], ipParts[2], ipParts[3], port/256, port%256)
	s.reply(227, "Entering Passive Mode ("+arg+").")
}

func (s *session) resolvePublicHost(host string) net.IP {
	if ip := net.ParseIP(host); ip != nil {
		if ipv4 := ip.To4(); ipv4 != nil {
			return ipv4
		}
		return nil
	}

	if host == s.lastPublicHost && s.resolvedIP != nil {
		return s.resolvedIP
	}

	addrs, err := net.LookupIP(host)
	if err != nil {
		return nil
	}
	for _, addr := range addrs {
		if ipv4 := addr.To4(); ipv4 != nil {
			s.lastPublicHost = host
			s.resolvedIP = ipv4
			return ipv4
		}
	}
	return nil
}

func (s *session) handleREST(arg string) {
	offset, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || offset < 0 {
		s.reply(501, "Invalid offset.")
		return
	}
	s.restartOffset = offset
	s.reply(350, fmt.Sprintf("Restarting at %d. Send STOR or RETR to initiate transfer.", offset))
}

// runDirList implements listTransfer/globTransfer for LIST and NLST: list
// the target directory (or glob a pattern, for NLST args containing '*'),
// then stream one formatted line per entry, compressed under MODE Z.
func (s *session) runDirList(mode listMode, cmd, arg string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}

	dir, name := arg, ""
	if cmd == "NLST" && strings.ContainsAny(arg, "*?[") {
		dir, name = splitGlobDir(arg)
	}

	path := s.cwd
	if dir != "" {
		resolved, err := s.resolveArg(dir)
		if err != nil {
			s.replyError(err)
			return
		}
		path = resolved
	}

	entries, err := s.fs.ListDir(path)
	if err != nil {
		s.replyError(err)
		return
	}
	if name != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if ok, _ := filepath.Match(name, e.Name()); ok {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	startMsg := "Here comes the directory listing."
	if cmd == "NLST" {
		startMsg = "Here comes the file list."
	}

	now := time.Now()
	s.runTransfer(cmd, path, startMsg, func(ctx context.Context, conn net.Conn) (int64, error) {
		dst, flush, err := s.deflateDest(s.rateLimitWriter(conn))
		if err != nil {
			return 0, err
		}

		var total int64
		for _, entry := range entries {
			n, err := io.WriteString(dst, formatEntry(mode, entry, entry.Name(), s.mlstFacts, now))
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
		return total, flush()
	})
}

func splitGlobDir(arg string) (dir, pattern string) {
	i := strings.LastIndexByte(arg, '/')
	if i < 0 {
		return "", arg
	}
	return arg[:i], arg[i+1:]
}
