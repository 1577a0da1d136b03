package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// handleMODE accepts S (stream, default) and Z (deflate, toggling the
// session's modeZ flag), per §4.5's "STRU F, MODE S/Z" rule.
func (s *session) handleMODE(arg string) {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "S":
		s.modeZ = false
		s.reply(200, "Mode set to Stream.")
	case "Z":
		s.modeZ = true
		s.reply(200, "Mode set to Deflate.")
	case "B":
		s.reply(504, "Block mode not implemented.")
	case "C":
		s.reply(504, "Compressed mode not implemented.")
	default:
		s.reply(504, "Command not implemented for that parameter.")
	}
}

// handleSTRU only accepts F (File structure); R/P are explicit Non-goals.
func (s *session) handleSTRU(arg string) {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "F":
		s.structure = "F"
		s.reply(200, "Structure set to File.")
	case "R":
		s.reply(504, "Record structure not implemented.")
	case "P":
		s.reply(504, "Page structure not implemented.")
	default:
		s.reply(504, "Command not implemented for that parameter.")
	}
}

func (s *session) handleSYST(_ string) {
	s.reply(215, s.server.serverName)
}

// handleSTAT implements all three of §4.5's STAT behaviors: no argument
// reports uptime, an in-progress transfer reports live progress, and an
// argument performs an inline listing over the command channel, reusing
// it as the data channel per §4.4's "dataSocket shares identity with
// commandSocket" rule.
func (s *session) handleSTAT(arg string) {
	if arg != "" {
		s.statListing(arg)
		return
	}

	s.mu.Lock()
	busy := s.busy
	s.mu.Unlock()

	if busy {
		lines := []string{fmt.Sprintf("Transfer in progress for %s", s.remoteIP)}
		if s.server.bandwidthLimit > 0 {
			lines = append(lines, fmt.Sprintf("Bandwidth limit: %d bytes/sec", s.server.bandwidthLimit))
		}
		s.replyMultiline(211, lines, "Status OK")
		return
	}

	s.replyMultiline(211, []string{
		"FTP server status:",
		fmt.Sprintf("Up %s", time.Since(s.server.startTime).Round(time.Second)),
		fmt.Sprintf("Connected to %s", s.remoteIP),
		fmt.Sprintf("Logged in as %s", loggedInAs(s)),
		fmt.Sprintf("TYPE: %s, STRUcture: %s, MODE: %s", s.transferType, s.structure, modeLabel(s.modeZ)),
	}, "End of status")
}

func loggedInAs(s *session) string {
	if !s.isLoggedIn {
		return "not logged in"
	}
	return s.user
}

func modeLabel(modeZ bool) string {
	if modeZ {
		return "Deflate"
	}
	return "Stream"
}

// statListing writes an inline LIST-style listing directly to the
// control connection, never opening a data connection.
func (s *session) statListing(arg string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}

	path, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}

	entries, err := s.fs.ListDir(path)
	if err != nil {
		// Not a directory: treat the argument as a single file.
		info, err2 := s.fs.GetFileInfo(path)
		if err2 != nil {
			s.replyError(err)
			return
		}
		s.replyMultiline(213, []string{lsLine(info, info.Name(), time.Now())}, "End of status")
		return
	}

	now := time.Now()
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, strings.TrimSuffix(lsLine(e, e.Name(), now), "\r\n"))
	}
	s.replyMultiline(213, lines, "End of status")
}

func (s *session) handleHELP(arg string) {
	if arg != "" {
		if _, ok := dispatch.Lookup(strings.ToUpper(arg)); ok {
			s.reply(214, fmt.Sprintf("Syntax: %s.", strings.ToUpper(arg)))
			return
		}
		s.reply(502, fmt.Sprintf("Unknown command %s.", strings.ToUpper(arg)))
		return
	}

	s.replyMultiline(214, []string{
		"The following commands are recognized:",
		"USER PASS QUIT NOOP ALLO",
		"CWD XCWD CDUP XCUP PWD XPWD MKD XMKD RMD XRMD DELE",
		"LIST NLST MLSD MLST",
		"RETR STOR APPE STOU",
		"RNFR RNTO REST",
		"TYPE MODE STRU PORT PASV",
		"SIZE MDTM FEAT OPTS",
		"SYST STAT HELP SITE ABOR",
	}, "Help OK.")
}

// handleSITE implements the vendor-specific USER/PASS/PORT/DEFLATE/HOST/
// MTIME/SAVE subcommands, backed by the server's Config.
func (s *session) handleSITE(arg string) {
	if arg == "" {
		s.reply(501, "SITE command requires parameters.")
		return
	}

	parts := strings.Fields(arg)
	cmd := strings.ToUpper(parts[0])
	cfg := s.server.config

	switch cmd {
	case "USER":
		if len(parts) != 2 {
			s.reply(501, "Syntax: SITE USER <name>.")
			return
		}
		cfg.SetUser(parts[1])
		s.reply(200, "SITE USER command successful.")

	case "PASS":
		if len(parts) != 2 {
			s.reply(501, "Syntax: SITE PASS <password>.")
			return
		}
		if err := cfg.SetPassword(parts[1]); err != nil {
			s.reply(550, err.Error())
			return
		}
		s.reply(200, "SITE PASS command successful.")

	case "PORT":
		if len(parts) != 2 {
			s.reply(501, "Syntax: SITE PORT <port>.")
			return
		}
		port, err := strconv.Atoi(parts[1])
		if err != nil {
			s.reply(501, "Invalid port.")
			return
		}
		if err := cfg.SetPort(port); err != nil {
			s.reply(501, err.Error())
			return
		}
		s.reply(200, "SITE PORT command successful.")

	case "DEFLATE":
		if len(parts) != 2 {
			s.reply(501, "Syntax: SITE DEFLATE <level>.")
			return
		}
		level, err := strconv.Atoi(parts[1])
		if err != nil {
			s.reply(501, "Invalid level.")
			return
		}
		if err := cfg.SetDeflateLevel(level); err != nil {
			s.reply(501, err.Error())
			return
		}
		s.deflateLevel = level
		s.reply(200, "SITE DEFLATE command successful.")

	case "HOST":
		if len(parts) != 2 {
			s.reply(501, "Syntax: SITE HOST <hostname>.")
			return
		}
		cfg.SetHost(parts[1])
		s.reply(200, "SITE HOST command successful.")

	case "MTIME":
		if len(parts) != 2 {
			s.reply(501, "Syntax: SITE MTIME <ON|OFF>.")
			return
		}
		switch strings.ToUpper(parts[1]) {
		case "ON":
			cfg.SetMTimeEnabled(true)
		case "OFF":
			cfg.SetMTimeEnabled(false)
		default:
			s.reply(501, "Syntax: SITE MTIME <ON|OFF>.")
			return
		}
		s.reply(200, "SITE MTIME command successful.")

	case "SAVE":
		if err := cfg.Save(); err != nil {
			s.reply(550, err.Error())
			return
		}
		s.reply(200, "SITE SAVE command successful.")

	default:
		s.reply(502, "SITE command not implemented.")
	}
}
