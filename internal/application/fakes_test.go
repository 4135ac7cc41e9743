package application

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"

	"minitalk/internal/domain"
)

const testListenerFD = 3

type fakeLoop struct {
	registered map[int]domain.EventType
	modified   []domain.EventType
	ran        bool
}

func newFakeLoop() *fakeLoop {
	return &fakeLoop{registered: make(map[int]domain.EventType)}
}

func (l *fakeLoop) Register(fd int, ev domain.EventType) error {
	if _, ok := l.registered[fd]; ok {
		return errors.New("already registered")
	}
	l.registered[fd] = ev
	return nil
}

func (l *fakeLoop) Modify(fd int, ev domain.EventType) error {
	if _, ok := l.registered[fd]; !ok {
		return errors.New("not registered")
	}
	l.registered[fd] = ev
	l.modified = append(l.modified, ev)
	return nil
}

func (l *fakeLoop) Unregister(fd int) error {
	if _, ok := l.registered[fd]; !ok {
		return errors.New("not registered")
	}
	delete(l.registered, fd)
	return nil
}

func (l *fakeLoop) Run(domain.EventHandler) error {
	l.ran = true
	return nil
}

func (l *fakeLoop) Stop() {}

type fakeClient struct {
	conn    domain.ConnID
	peer    domain.Peer
	inbox   [][]byte
	eof     bool
	readErr error

	// writeBudget caps how many more bytes Write accepts; negative
	// means unlimited.
	writeBudget int
	writeErr    error
	out         bytes.Buffer
	closed      bool
}

// take returns everything written to the client since the last call.
func (c *fakeClient) take() string {
	s := c.out.String()
	c.out.Reset()
	return s
}

type fakeTransport struct {
	backlog []*fakeClient
	clients map[domain.ConnID]*fakeClient
	nextFD  domain.ConnID
	closed  []domain.ConnID
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{clients: make(map[domain.ConnID]*fakeClient), nextFD: 10}
}

func (t *fakeTransport) dial() *fakeClient {
	c := &fakeClient{
		conn:        t.nextFD,
		peer:        domain.Peer{IP: net.IPv4(192, 0, 2, byte(t.nextFD)), Port: 40000 + int(t.nextFD)},
		writeBudget: -1,
	}
	t.nextFD++
	t.backlog = append(t.backlog, c)
	return c
}

func (t *fakeTransport) Accept(int) (domain.ConnID, domain.Peer, error) {
	if len(t.backlog) == 0 {
		return domain.NoConn, domain.Peer{}, domain.ErrWouldBlock
	}
	c := t.backlog[0]
	t.backlog = t.backlog[1:]
	t.clients[c.conn] = c
	return c.conn, c.peer, nil
}

func (t *fakeTransport) Read(conn domain.ConnID, buf []byte) (int, error) {
	c := t.clients[conn]
	switch {
	case c == nil:
		return 0, errors.New("bad fd")
	case c.readErr != nil:
		return 0, c.readErr
	case len(c.inbox) > 0:
		n := copy(buf, c.inbox[0])
		if n == len(c.inbox[0]) {
			c.inbox = c.inbox[1:]
		} else {
			c.inbox[0] = c.inbox[0][n:]
		}
		return n, nil
	case c.eof:
		return 0, nil
	}
	return 0, domain.ErrWouldBlock
}

func (t *fakeTransport) Write(conn domain.ConnID, p []byte) (int, error) {
	c := t.clients[conn]
	if c == nil || c.closed {
		return 0, errors.New("bad fd")
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	n := len(p)
	if c.writeBudget >= 0 && n > c.writeBudget {
		n = c.writeBudget
	}
	if n == 0 && len(p) > 0 {
		return 0, domain.ErrWouldBlock
	}
	if c.writeBudget >= 0 {
		c.writeBudget -= n
	}
	c.out.Write(p[:n])
	return n, nil
}

func (t *fakeTransport) Close(conn domain.ConnID) error {
	t.closed = append(t.closed, conn)
	if c := t.clients[conn]; c != nil {
		c.closed = true
	}
	return nil
}

type fakeAnswer struct {
	id   uint16
	host string
	err  error
}

type fakeResolver struct {
	queries []net.IP
	answers []fakeAnswer
	closed  bool
}

func (r *fakeResolver) FD() int { return 5 }

func (r *fakeResolver) Lookup(ip net.IP) (uint16, error) {
	r.queries = append(r.queries, ip)
	return uint16(len(r.queries)), nil
}

func (r *fakeResolver) Answer() (uint16, string, error) {
	if len(r.answers) == 0 {
		return 0, "", domain.ErrWouldBlock
	}
	a := r.answers[0]
	r.answers = r.answers[1:]
	return a.id, a.host, a.err
}

func (r *fakeResolver) Close() error {
	r.closed = true
	return nil
}

type harness struct {
	t    *testing.T
	svc  *RelayService
	loop *fakeLoop
	tr   *fakeTransport
}

func testOptions(capacity int) Options {
	return Options{
		Capacity:          capacity,
		MaxUsernameLength: domain.DefaultMaxUsernameLength,
		MaxLineLength:     domain.DefaultMaxLineLength,
		MaxPendingBytes:   domain.DefaultMaxPendingBytes,
	}
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	loop := newFakeLoop()
	tr := newFakeTransport()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewRelayService(loop, tr, testListenerFD, log, opts)
	if err != nil {
		t.Fatalf("NewRelayService: %v", err)
	}
	return &harness{t: t, svc: svc, loop: loop, tr: tr}
}

// connect accepts a new client and discards the login prompt.
func (h *harness) connect() *fakeClient {
	h.t.Helper()
	c := h.tr.dial()
	if err := h.svc.HandleEvent(testListenerFD, domain.EventRead); err != nil {
		h.t.Fatalf("accept: %v", err)
	}
	c.take()
	return c
}

func (h *harness) send(c *fakeClient, text string) {
	h.t.Helper()
	c.inbox = append(c.inbox, []byte(text))
	if err := h.svc.HandleEvent(int(c.conn), domain.EventRead); err != nil {
		h.t.Fatalf("read fd %d: %v", c.conn, err)
	}
}

func (h *harness) hangup(c *fakeClient) {
	h.t.Helper()
	c.eof = true
	if err := h.svc.HandleEvent(int(c.conn), domain.EventRead); err != nil {
		h.t.Fatalf("hangup fd %d: %v", c.conn, err)
	}
}

// login connects a client, names it and discards everything it was sent.
func (h *harness) login(name string) *fakeClient {
	h.t.Helper()
	c := h.connect()
	h.send(c, name+"\n")
	c.take()
	return c
}

func (h *harness) session(c *fakeClient) domain.Session {
	h.t.Helper()
	id, ok := h.svc.dir.FindByConn(c.conn)
	if !ok {
		h.t.Fatalf("fd %d has no session", c.conn)
	}
	sess, _ := h.svc.dir.Session(id)
	return sess
}
