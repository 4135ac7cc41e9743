package application

import (
	"minitalk/internal/domain"
	"minitalk/internal/protocol"
)

// broadcastAll sends text to every live session, sender included.
func (s *RelayService) broadcastAll(text string) {
	for _, conn := range s.dir.Conns() {
		s.send(s.endpoints[conn], text)
	}
}

func (s *RelayService) sendUserList(ep *endpoint) {
	s.send(ep, protocol.UserList(s.dir.Usernames()))
}

// notifyDisconnectCascade resets every session that was talking to
// closed. The closed session must already be out of the directory.
func (s *RelayService) notifyDisconnectCascade(closed domain.ConnID) {
	for _, id := range s.dir.TargetingConn(closed) {
		sess, ok := s.dir.Session(id)
		if !ok {
			continue
		}
		if err := s.dir.ClearTarget(id); err != nil {
			s.log.Error("Failed to reset target", "fd", sess.Conn, "error", err)
			continue
		}
		ep := s.endpoints[sess.Conn]
		s.send(ep, protocol.PeerDisconnected)
		s.sendUserList(ep)
	}
}
