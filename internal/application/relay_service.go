package application

import (
	"errors"
	"fmt"
	"log/slog"

	"minitalk/internal/directory"
	"minitalk/internal/domain"
	"minitalk/internal/protocol"
)

const readBufferSize = 512

type Options struct {
	Capacity          int
	MaxUsernameLength int
	MaxLineLength     int
	MaxPendingBytes   int

	// Resolver, when set, looks up the host name of every accepted
	// client for logging.
	Resolver domain.PeerResolver
}

func (o Options) validate() error {
	switch {
	case o.Capacity <= 0:
		return fmt.Errorf("capacity must be positive, got %d", o.Capacity)
	case o.MaxUsernameLength <= 0:
		return fmt.Errorf("max username length must be positive, got %d", o.MaxUsernameLength)
	case o.MaxLineLength <= 0:
		return fmt.Errorf("max line length must be positive, got %d", o.MaxLineLength)
	case o.MaxPendingBytes <= 0:
		return fmt.Errorf("max pending bytes must be positive, got %d", o.MaxPendingBytes)
	}
	return nil
}

// endpoint is the I/O side of one client connection. The protocol side
// lives in the directory.
type endpoint struct {
	conn domain.ConnID
	peer domain.Peer
	host string

	in         *protocol.LineBuffer
	out        []byte
	writeArmed bool

	lookupID      uint16
	lookupPending bool

	closing  string
	closeErr error
}

// RelayService runs the chat relay on top of an event loop. Every
// method is called from the loop goroutine, so no state is locked.
type RelayService struct {
	log        *slog.Logger
	loop       domain.EventLoop
	transport  domain.Transport
	resolver   domain.PeerResolver
	listenerFD int
	opts       Options

	dir       *directory.Directory
	endpoints map[domain.ConnID]*endpoint
	lookups   map[uint16]*endpoint
	doomed    []*endpoint
	readBuf   []byte
}

func NewRelayService(loop domain.EventLoop, transport domain.Transport, listenerFD int, logger *slog.Logger, opts Options) (*RelayService, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid relay options: %w", err)
	}

	return &RelayService{
		log:        logger,
		loop:       loop,
		transport:  transport,
		resolver:   opts.Resolver,
		listenerFD: listenerFD,
		opts:       opts,
		dir:        directory.New(opts.Capacity),
		endpoints:  make(map[domain.ConnID]*endpoint),
		lookups:    make(map[uint16]*endpoint),
		readBuf:    make([]byte, readBufferSize),
	}, nil
}

func (s *RelayService) Start() error {
	s.log.Info("Registering server sockets in EventLoop", "listener_fd", s.listenerFD)

	if err := s.loop.Register(s.listenerFD, domain.EventRead); err != nil {
		return err
	}
	if s.resolver != nil {
		if err := s.loop.Register(s.resolver.FD(), domain.EventRead); err != nil {
			return err
		}
		s.log.Info("Peer name resolution enabled", "resolver_fd", s.resolver.FD())
	}

	s.log.Info("Relay service is running loop...", "capacity", s.opts.Capacity)
	return s.loop.Run(s)
}

// Close drops every client and releases the listener. Call it once the
// loop has stopped.
func (s *RelayService) Close() {
	for conn := range s.endpoints {
		s.loop.Unregister(int(conn))
		s.transport.Close(conn)
	}
	clear(s.endpoints)
	s.transport.Close(domain.ConnID(s.listenerFD))
	if s.resolver != nil {
		s.resolver.Close()
	}
	s.log.Info("Relay service closed")
}

func (s *RelayService) HandleEvent(fd int, event domain.EventType) error {
	defer s.reap()

	if fd == s.listenerFD {
		return s.acceptNewClient()
	}
	if s.resolver != nil && fd == s.resolver.FD() {
		s.processLookupAnswer()
		return nil
	}

	ep := s.endpoints[domain.ConnID(fd)]
	if ep == nil {
		return nil
	}
	if event&domain.EventWrite != 0 {
		s.flush(ep)
	}
	if event&domain.EventRead != 0 && ep.closing == "" {
		s.readClient(ep)
	}
	return nil
}

func (s *RelayService) acceptNewClient() error {
	conn, peer, err := s.transport.Accept(s.listenerFD)
	if errors.Is(err, domain.ErrWouldBlock) {
		return nil
	}
	if err != nil {
		return &domain.ConnError{Op: "accept", Conn: domain.ConnID(s.listenerFD), Err: err}
	}

	id, err := s.dir.Register(conn)
	if err != nil {
		s.log.Warn("Rejecting client", "fd", conn, "peer", peer, "error", err)
		s.transport.Write(conn, []byte(protocol.ServerFull))
		s.transport.Close(conn)
		return nil
	}

	if err := s.loop.Register(int(conn), domain.EventRead); err != nil {
		s.dir.Remove(id)
		s.transport.Close(conn)
		return fmt.Errorf("register fd %d: %w", conn, err)
	}

	ep := &endpoint{
		conn: conn,
		peer: peer,
		in:   protocol.NewLineBuffer(s.opts.MaxLineLength),
	}
	s.endpoints[conn] = ep

	s.log.Info("New client accepted", "fd", conn, "peer", peer, "slot", id.Slot)
	s.send(ep, protocol.LoginPrompt)
	s.lookupPeer(ep)
	return nil
}

func (s *RelayService) readClient(ep *endpoint) {
	n, err := s.transport.Read(ep.conn, s.readBuf)
	switch {
	case errors.Is(err, domain.ErrWouldBlock):
		return
	case err != nil:
		s.markClosed(ep, "read failed", &domain.ConnError{Op: "read", Conn: ep.conn, Err: err})
		return
	case n == 0:
		if pending := ep.in.Pending(); pending > 0 {
			s.log.Debug("Discarding unterminated line", "fd", ep.conn, "bytes", pending)
		}
		s.markClosed(ep, "connection closed by peer", nil)
		return
	}

	for _, line := range ep.in.Feed(s.readBuf[:n]) {
		if ep.closing != "" {
			return
		}
		s.handleLine(ep, line)
	}
}

// send writes msg immediately when nothing is queued and buffers what
// the socket did not take.
func (s *RelayService) send(ep *endpoint, msg string) {
	if ep == nil || ep.closing != "" || msg == "" {
		return
	}

	if len(ep.out) == 0 {
		n, err := s.transport.Write(ep.conn, []byte(msg))
		if err != nil && !errors.Is(err, domain.ErrWouldBlock) {
			s.markClosed(ep, "write failed", &domain.ConnError{Op: "write", Conn: ep.conn, Err: err})
			return
		}
		msg = msg[n:]
		if msg == "" {
			return
		}
	}

	if len(ep.out)+len(msg) > s.opts.MaxPendingBytes {
		s.markClosed(ep, "output queue overflow", nil)
		return
	}
	ep.out = append(ep.out, msg...)
	s.armWrite(ep, true)
}

func (s *RelayService) flush(ep *endpoint) {
	for len(ep.out) > 0 {
		n, err := s.transport.Write(ep.conn, ep.out)
		if errors.Is(err, domain.ErrWouldBlock) || (err == nil && n == 0) {
			return
		}
		if err != nil {
			s.markClosed(ep, "write failed", &domain.ConnError{Op: "write", Conn: ep.conn, Err: err})
			return
		}
		ep.out = ep.out[n:]
	}
	ep.out = nil
	s.armWrite(ep, false)
}

func (s *RelayService) armWrite(ep *endpoint, on bool) {
	if ep.writeArmed == on || ep.closing != "" {
		return
	}
	events := domain.EventRead
	if on {
		events |= domain.EventWrite
	}
	if err := s.loop.Modify(int(ep.conn), events); err != nil {
		s.markClosed(ep, "event registration failed", err)
		return
	}
	ep.writeArmed = on
}

// markClosed schedules ep for teardown once the current event has been
// handled, so broadcasts in progress never see the directory shrink.
func (s *RelayService) markClosed(ep *endpoint, reason string, err error) {
	if ep.closing != "" {
		return
	}
	ep.closing = reason
	ep.closeErr = err
	s.doomed = append(s.doomed, ep)
}

func (s *RelayService) reap() {
	for len(s.doomed) > 0 {
		ep := s.doomed[0]
		s.doomed = s.doomed[1:]
		s.closeClient(ep)
	}
	s.doomed = nil
}

func (s *RelayService) closeClient(ep *endpoint) {
	var sess domain.Session
	if id, ok := s.dir.FindByConn(ep.conn); ok {
		removed, err := s.dir.Remove(id)
		if err != nil {
			s.log.Error("Directory out of sync", "fd", ep.conn, "error", err)
		}
		sess = removed
	}

	delete(s.endpoints, ep.conn)
	if ep.lookupPending {
		delete(s.lookups, ep.lookupID)
	}
	if err := s.loop.Unregister(int(ep.conn)); err != nil {
		s.log.Debug("Unregister failed", "fd", ep.conn, "error", err)
	}
	if err := s.transport.Close(ep.conn); err != nil {
		s.log.Debug("Close failed", "fd", ep.conn, "error", err)
	}

	attrs := []any{"fd", ep.conn, "reason", ep.closing}
	if sess.Username != "" {
		attrs = append(attrs, "user", sess.Username)
	}
	if ep.host != "" {
		attrs = append(attrs, "host", ep.host)
	}
	if ep.closeErr != nil {
		attrs = append(attrs, "error", ep.closeErr)
	}
	s.log.Info("Closing session", attrs...)

	if sess.Username != "" {
		s.broadcastAll(protocol.Disconnected(sess.Username))
	}
	s.notifyDisconnectCascade(ep.conn)
}

// LogDirectory writes one log record per live session.
func (s *RelayService) LogDirectory() {
	sessions := s.dir.Sessions()
	s.log.Info("Directory", "live", len(sessions), "capacity", s.dir.Cap())
	for _, sess := range sessions {
		attrs := []any{"slot", sess.ID.Slot, "fd", sess.Conn, "state", sess.State().String()}
		if sess.Username != "" {
			attrs = append(attrs, "user", sess.Username)
		}
		if sess.Target != domain.NoConn {
			attrs = append(attrs, "target_fd", sess.Target)
		}
		if ep := s.endpoints[sess.Conn]; ep != nil {
			attrs = append(attrs, "peer", ep.peer.String())
			if ep.host != "" {
				attrs = append(attrs, "host", ep.host)
			}
		}
		s.log.Info("Session", attrs...)
	}
}
