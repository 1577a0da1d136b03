package server

import (
	"fmt"
	"io"
	"strings"

	"github.com/gonzalop/goftpd/internal/pathcodec"
)

func (s *session) handlePWD(_ string) {
	if !s.isLoggedIn {
		s.reply(530, "Please login with USER and PASS.")
		return
	}
	s.reply(257, fmt.Sprintf("\"%s\" is the current directory.", pathcodec.EncodePath(s.cwd, true)))
}

func (s *session) handleCWD(arg string) {
	if !s.isLoggedIn {
		s.reply(530, "Please login with USER and PASS.")
		return
	}

	path, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	if err := s.fs.ChangeDir(path); err != nil {
		s.replyError(err)
		return
	}
	s.cwd = path

	if s.server.enableDirMessage && s.sendDirMessage() {
		return
	}
	s.reply(250, "Directory successfully changed.")
}

// sendDirMessage emits a ".message" file's contents as 250- continuation
// lines followed by CWD's final 250 line, and reports whether it did; a
// classic (non-protocol) ftpd convenience carried over from the teacher
// repo and gated behind WithDirMessage.
func (s *session) sendDirMessage() bool {
	f, err := s.fs.OpenFile(".message", 0)
	if err != nil {
		return false
	}
	defer f.Close()

	b, _ := io.ReadAll(io.LimitReader(f, 2048))
	if len(b) == 0 {
		return false
	}

	lines := strings.Split(strings.TrimRight(string(b), "\r\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	s.replyMultiline(250, append([]string{"Message:"}, lines...), "Directory successfully changed.")
	return true
}

func (s *session) handleCDUP(_ string) {
	s.handleCWD("..")
}

func (s *session) handleLIST(arg string) {
	s.runDirList(modeLIST, "LIST", arg)
}

func (s *session) handleNLST(arg string) {
	s.runDirList(modeNLST, "NLST", arg)
}

func (s *session) handleMKD(arg string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}
	path, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	if err := s.fs.MakeDir(path); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("directory_created", "session_id", s.sessionID, "remote_ip", s.redactIP(s.remoteIP), "user", s.user, "path", s.redactPath(path))
	s.reply(257, fmt.Sprintf("\"%s\" created.", pathcodec.EncodePath(path, true)))
}

func (s *session) handleRMD(arg string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}
	path, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	if err := s.fs.RemoveDir(path); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("directory_removed", "session_id", s.sessionID, "remote_ip", s.redactIP(s.remoteIP), "user", s.user, "path", s.redactPath(path))
	s.reply(250, "Directory removed.")
}

func (s *session) handleDELE(arg string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}
	path, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	if err := s.fs.DeleteFile(path); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("file_deleted", "session_id", s.sessionID, "remote_ip", s.redactIP(s.remoteIP), "user", s.user, "path", s.redactPath(path))
	s.reply(250, "File deleted.")
}

func (s *session) handleRNFR(arg string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}
	path, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	if _, err := s.fs.GetFileInfo(path); err != nil {
		s.replyError(err)
		return
	}
	s.renameFrom = path
	s.reply(350, "Requested file action pending further information.")
}

func (s *session) handleRNTO(arg string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}
	if s.renameFrom == "" {
		s.reply(503, "Bad sequence of commands. Send RNFR first.")
		return
	}

	path, err := s.resolveArg(arg)
	if err != nil {
		s.renameFrom = ""
		s.replyError(err)
		return
	}

	err = s.fs.Rename(s.renameFrom, path)
	s.renameFrom = ""
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "Requested file action successful, file renamed.")
}
