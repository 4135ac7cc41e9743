package application

import (
	"strings"

	"minitalk/internal/domain"
	"minitalk/internal/protocol"
)

// handleLine advances the session owning ep by one received line.
func (s *RelayService) handleLine(ep *endpoint, line string) {
	id, ok := s.dir.FindByConn(ep.conn)
	if !ok {
		s.log.Error("Connection has no session", "fd", ep.conn)
		s.markClosed(ep, "no session", domain.ErrStaleSession)
		return
	}
	sess, _ := s.dir.Session(id)

	switch sess.State() {
	case domain.StateUnauthenticated:
		s.handleLogin(ep, sess, line)
	case domain.StateAwaitingTarget:
		s.handleTargetSelection(ep, sess, line)
	case domain.StateRelaying:
		s.handleChat(ep, sess, line)
	}
}

func (s *RelayService) handleLogin(ep *endpoint, sess domain.Session, line string) {
	name := protocol.SanitizeUsername(line, s.opts.MaxUsernameLength)
	if name == "" {
		s.send(ep, protocol.EmptyLogin)
		s.send(ep, protocol.LoginPrompt)
		return
	}
	if _, taken := s.dir.FindByName(name); taken {
		s.log.Info("Login refused", "fd", ep.conn, "user", name, "reason", "name taken")
		s.send(ep, protocol.NameTaken(name))
		s.send(ep, protocol.LoginPrompt)
		return
	}
	if err := s.dir.SetUsername(sess.ID, name); err != nil {
		s.log.Error("Failed to set username", "fd", ep.conn, "user", name, "error", err)
		return
	}

	s.log.Info("User logged in", "fd", ep.conn, "user", name)
	s.broadcastAll(protocol.Connected(name))
	s.send(ep, protocol.TargetPrompt)
	s.sendUserList(ep)
}

func (s *RelayService) handleTargetSelection(ep *endpoint, sess domain.Session, line string) {
	name := strings.TrimSpace(line)

	tid, found := s.dir.FindByName(name)
	switch {
	case !found:
		s.send(ep, protocol.UnknownUser(name))
	case tid == sess.ID:
		s.send(ep, protocol.SelfTarget)
	default:
		target, _ := s.dir.Session(tid)
		if err := s.dir.SetTarget(sess.ID, target.Conn); err != nil {
			s.log.Error("Failed to set target", "fd", ep.conn, "target", name, "error", err)
			return
		}
		s.log.Info("Target selected", "user", sess.Username, "target", name)
		s.send(ep, protocol.TalkingTo(name))
		return
	}

	s.send(ep, protocol.TargetPrompt)
	s.sendUserList(ep)
}

func (s *RelayService) handleChat(ep *endpoint, sess domain.Session, line string) {
	target := s.endpoints[sess.Target]
	switch {
	case target == nil:
		// The peer vanished without the cascade reaching us.
		s.dir.ClearTarget(sess.ID)
		s.send(ep, protocol.PeerDisconnected)
		s.sendUserList(ep)
	case target.closing != "":
		// Teardown is pending; the cascade will notify this session.
	default:
		s.send(target, protocol.Chat(sess.Username, line))
	}
}
