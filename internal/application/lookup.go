package application

import (
	"errors"

	"minitalk/internal/domain"
)

func (s *RelayService) lookupPeer(ep *endpoint) {
	if s.resolver == nil || ep.peer.IP == nil || ep.closing != "" {
		return
	}
	id, err := s.resolver.Lookup(ep.peer.IP)
	if err != nil {
		s.log.Debug("Peer lookup not sent", "fd", ep.conn, "peer", ep.peer, "error", err)
		return
	}
	if prev := s.lookups[id]; prev != nil {
		prev.lookupPending = false
	}
	s.lookups[id] = ep
	ep.lookupID = id
	ep.lookupPending = true
}

func (s *RelayService) processLookupAnswer() {
	id, host, err := s.resolver.Answer()
	if errors.Is(err, domain.ErrWouldBlock) {
		return
	}

	ep, ok := s.lookups[id]
	if !ok {
		if err != nil {
			s.log.Debug("Unreadable lookup answer", "error", err)
		}
		return
	}
	delete(s.lookups, id)
	ep.lookupPending = false

	if err != nil {
		s.log.Debug("Peer lookup failed", "fd", ep.conn, "peer", ep.peer, "error", err)
		return
	}
	ep.host = host
	s.log.Info("Peer resolved", "fd", ep.conn, "peer", ep.peer, "host", host)
}
