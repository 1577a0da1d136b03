package server

import "errors"

// handleUSER sets the authorizedUser latch per §3's two-step login
// invariant. Any previously authorizedPass latch is cleared: a new USER
// always demands a fresh PASS.
func (s *session) handleUSER(user string) {
	s.pendingUser = user
	s.authorizedUser = true
	s.authorizedPass = false
	s.reply(331, "User name okay, need password.")
}

// handlePASS sets the authorizedPass latch. The session becomes
// authenticated only once both latches are true for the same pending
// user; a mismatch resets both latches and the client must start over
// with USER.
func (s *session) handlePASS(pass string) {
	if !s.authorizedUser {
		s.reply(503, "Login with USER first.")
		return
	}

	ctx, err := s.server.driver.Authenticate(s.pendingUser, pass, "")
	if err != nil {
		s.authorizedUser = false
		s.authorizedPass = false
		s.server.logger.Warn("authentication_failed", "session_id", s.sessionID, "remote_ip", s.redactIP(s.remoteIP), "user", s.pendingUser, "reason", err.Error())
		if s.server.metricsCollector != nil {
			s.server.metricsCollector.RecordAuthentication(false, s.pendingUser)
		}
		// §7: 530 for "not logged in" failures, 430 specifically for a bad
		// user/pass pair, never disclosing which of the two was wrong.
		if errors.Is(err, ErrBadCredentials) {
			s.reply(430, "Invalid username or password.")
		} else {
			s.reply(530, "Login incorrect.")
		}
		return
	}

	s.authorizedPass = true
	s.user = s.pendingUser
	s.fs = ctx
	s.isLoggedIn = true

	s.server.logger.Info("authentication_success", "session_id", s.sessionID, "remote_ip", s.redactIP(s.remoteIP), "user", s.user)
	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordAuthentication(true, s.user)
	}
	s.reply(230, "User logged in, proceed.")
}
