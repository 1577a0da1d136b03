package server

import (
	"context"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/gonzalop/goftpd/internal/command"
)

func (s *session) handleSIZE(arg string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}

	path, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}

	info, err := s.fs.GetFileInfo(path)
	if err != nil {
		s.replyError(err)
		return
	}
	if !info.Mode().IsRegular() {
		s.reply(550, "Not a regular file.")
		return
	}

	s.reply(213, strconv.FormatInt(info.Size(), 10))
}

// handleMDTM always replies 502: the original implementation lists MDTM
// in FEAT but never actually implements the command, a fidelity quirk
// this server preserves rather than "fixes".
func (s *session) handleMDTM(_ string) {
	s.reply(502, "Command not implemented.")
}

// handleFEAT lists the fixed extension set, flagging the MLST facts
// currently enabled by OPTS MLST with a trailing '*'.
func (s *session) handleFEAT(_ string) {
	mlst := "MLST "
	for _, fact := range []string{"Type", "Size", "Modify", "Perm", "UNIX.mode"} {
		mlst += fact
		if s.mlstFacts[strings.ToLower(fact)] {
			mlst += "*"
		}
		mlst += ";"
	}

	s.replyMultiline(211, []string{
		"Features:",
		"MDTM",
		mlst,
		"MODE Z",
		"PASV",
		"SIZE",
		"TVFS",
		"UTF8",
	}, "End")
}

// handleOPTS accepts UTF8 [ON|NLST], MLST <fact-list>;, and
// MODE Z LEVEL n, per §4.5.
func (s *session) handleOPTS(arg string) {
	verb, rest := command.SplitVerb(arg)
	switch strings.ToUpper(verb) {
	case "UTF8":
		switch strings.ToUpper(strings.TrimSpace(rest)) {
		case "", "ON", "NLST":
			s.reply(200, "UTF8 set to on.")
		default:
			s.reply(501, "Option not understood.")
		}
	case "MLST":
		for k := range s.mlstFacts {
			s.mlstFacts[k] = false
		}
		for _, fact := range strings.Split(strings.Trim(rest, ";"), ";") {
			fact = strings.ToLower(strings.TrimSpace(fact))
			if fact == "" {
				continue
			}
			s.mlstFacts[fact] = true
		}
		s.reply(200, "MLST OPTS command successful.")
	case "MODE":
		parts := strings.Fields(rest)
		if len(parts) != 3 || strings.ToUpper(parts[0]) != "Z" || strings.ToUpper(parts[1]) != "LEVEL" {
			s.reply(501, "Syntax error in parameters or arguments.")
			return
		}
		level, err := strconv.Atoi(parts[2])
		if err != nil || level < 0 || level > 9 {
			s.reply(501, "Level must be between 0 and 9.")
			return
		}
		s.deflateLevel = level
		s.reply(200, "MODE Z LEVEL set.")
	default:
		s.reply(501, "Option not understood.")
	}
}

func (s *session) handleMLSD(arg string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}

	path := s.cwd
	if arg != "" {
		resolved, err := s.resolveArg(arg)
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

	facts := s.mlstFacts
	s.runTransfer("MLSD", path, "Here comes the directory listing.", func(ctx context.Context, conn net.Conn) (int64, error) {
		dst, flush, err := s.deflateDest(s.rateLimitWriter(conn))
		if err != nil {
			return 0, err
		}

		var total int64
		for _, entry := range entries {
			n, err := io.WriteString(dst, mlsxFactLine(entry, entry.Name(), facts))
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
		return total, flush()
	})
}

func (s *session) handleMLST(arg string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}

	path, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}

	info, err := s.fs.GetFileInfo(path)
	if err != nil {
		s.replyError(err)
		return
	}

	line := mlsxFactLine(info, path, s.mlstFacts)
	s.replyMultiline(250, []string{"Listing follows", " " + strings.TrimSuffix(line, "\r\n")}, "End")
}
