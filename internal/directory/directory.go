// Package directory keeps the table of live sessions.
//
// Sessions live in a fixed number of slots so a SessionID stays stable
// for the session's lifetime; lookups by username and by connection go
// through hash indices. The table is not safe for concurrent use: the
// relay service mutates it only from the event loop goroutine.
package directory

import (
	"fmt"

	"minitalk/internal/domain"
)

type slot struct {
	live bool
	sess domain.Session
}

type Directory struct {
	slots  []slot
	free   []int // stack of free slot indices, lowest on top
	byName map[string]int
	byConn map[domain.ConnID]int
	gen    uint32
}

func New(capacity int) *Directory {
	if capacity <= 0 {
		panic(fmt.Sprintf("directory: capacity must be positive, got %d", capacity))
	}
	d := &Directory{
		slots:  make([]slot, capacity),
		free:   make([]int, 0, capacity),
		byName: make(map[string]int),
		byConn: make(map[domain.ConnID]int, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		d.free = append(d.free, i)
	}
	return d
}

func (d *Directory) Cap() int { return len(d.slots) }
func (d *Directory) Len() int { return len(d.byConn) }

// Register allocates the lowest free slot for conn.
func (d *Directory) Register(conn domain.ConnID) (domain.SessionID, error) {
	if _, ok := d.byConn[conn]; ok {
		return domain.SessionID{}, fmt.Errorf("register fd %d: %w", conn, domain.ErrAlreadyRegistered)
	}
	if len(d.free) == 0 {
		return domain.SessionID{}, fmt.Errorf("register fd %d: %w", conn, domain.ErrCapacityExceeded)
	}

	i := d.free[len(d.free)-1]
	d.free = d.free[:len(d.free)-1]

	d.gen++
	id := domain.SessionID{Slot: i, Gen: d.gen}
	d.slots[i] = slot{
		live: true,
		sess: domain.Session{ID: id, Conn: conn, Target: domain.NoConn},
	}
	d.byConn[conn] = i
	return id, nil
}

func (d *Directory) lookup(id domain.SessionID) (*slot, error) {
	if id.Slot < 0 || id.Slot >= len(d.slots) {
		return nil, domain.ErrStaleSession
	}
	s := &d.slots[id.Slot]
	if !s.live || s.sess.ID.Gen != id.Gen {
		return nil, domain.ErrStaleSession
	}
	return s, nil
}

// SetUsername names a session once. The name index refuses a name held
// by another live session.
func (d *Directory) SetUsername(id domain.SessionID, name string) error {
	s, err := d.lookup(id)
	if err != nil {
		return err
	}
	if s.sess.Username != "" {
		return domain.ErrUsernameSet
	}
	if _, ok := d.byName[name]; ok {
		return fmt.Errorf("%q: %w", name, domain.ErrNameTaken)
	}
	s.sess.Username = name
	d.byName[name] = id.Slot
	return nil
}

// SetTarget points id at the session owning conn, which must be live
// and named.
func (d *Directory) SetTarget(id domain.SessionID, conn domain.ConnID) error {
	s, err := d.lookup(id)
	if err != nil {
		return err
	}
	i, ok := d.byConn[conn]
	if !ok || d.slots[i].sess.Username == "" {
		return fmt.Errorf("target fd %d: %w", conn, domain.ErrNotFound)
	}
	s.sess.Target = conn
	return nil
}

func (d *Directory) ClearTarget(id domain.SessionID) error {
	s, err := d.lookup(id)
	if err != nil {
		return err
	}
	s.sess.Target = domain.NoConn
	return nil
}

func (d *Directory) FindByName(name string) (domain.SessionID, bool) {
	i, ok := d.byName[name]
	if !ok {
		return domain.SessionID{}, false
	}
	return d.slots[i].sess.ID, true
}

func (d *Directory) FindByConn(conn domain.ConnID) (domain.SessionID, bool) {
	i, ok := d.byConn[conn]
	if !ok {
		return domain.SessionID{}, false
	}
	return d.slots[i].sess.ID, true
}

// Session returns a copy of the session stored under id.
func (d *Directory) Session(id domain.SessionID) (domain.Session, bool) {
	s, err := d.lookup(id)
	if err != nil {
		return domain.Session{}, false
	}
	return s.sess, true
}

// Remove frees the slot and drops the session from both indices.
// Sessions still targeting the removed connection are left alone; the
// caller resets them.
func (d *Directory) Remove(id domain.SessionID) (domain.Session, error) {
	s, err := d.lookup(id)
	if err != nil {
		return domain.Session{}, err
	}
	sess := s.sess
	delete(d.byConn, sess.Conn)
	if sess.Username != "" {
		delete(d.byName, sess.Username)
	}
	*s = slot{}
	d.releaseSlot(id.Slot)
	return sess, nil
}

// releaseSlot keeps the free stack sorted so Register always hands out
// the lowest index.
func (d *Directory) releaseSlot(i int) {
	pos := len(d.free)
	for pos > 0 && d.free[pos-1] < i {
		pos--
	}
	d.free = append(d.free, 0)
	copy(d.free[pos+1:], d.free[pos:])
	d.free[pos] = i
}

// Usernames lists named sessions in slot order.
func (d *Directory) Usernames() []string {
	names := make([]string, 0, len(d.byName))
	for i := range d.slots {
		if d.slots[i].live && d.slots[i].sess.Username != "" {
			names = append(names, d.slots[i].sess.Username)
		}
	}
	return names
}

// Conns lists the connection of every live session in slot order.
func (d *Directory) Conns() []domain.ConnID {
	conns := make([]domain.ConnID, 0, len(d.byConn))
	for i := range d.slots {
		if d.slots[i].live {
			conns = append(conns, d.slots[i].sess.Conn)
		}
	}
	return conns
}

// Sessions returns copies of all live sessions in slot order.
func (d *Directory) Sessions() []domain.Session {
	out := make([]domain.Session, 0, len(d.byConn))
	for i := range d.slots {
		if d.slots[i].live {
			out = append(out, d.slots[i].sess)
		}
	}
	return out
}

// TargetingConn returns the sessions whose target is conn.
func (d *Directory) TargetingConn(conn domain.ConnID) []domain.SessionID {
	var ids []domain.SessionID
	for i := range d.slots {
		if d.slots[i].live && d.slots[i].sess.Target == conn {
			ids = append(ids, d.slots[i].sess.ID)
		}
	}
	return ids
}
