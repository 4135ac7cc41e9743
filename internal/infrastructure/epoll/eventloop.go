//go:build linux

package epoll

import (
	"encoding/binary"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sys/unix"
	"minitalk/internal/domain"
)

const maxEvents = 128

// LinuxEventLoop is a level-triggered epoll reactor. Ready descriptors
// of one EpollWait batch are dispatched in ascending fd order. Work
// handed over from other goroutines through Submit runs on the loop
// goroutine between batches.
type LinuxEventLoop struct {
	log     *slog.Logger
	epollFD int
	wakeFD  int

	mu      sync.Mutex
	tasks   []func()
	stopped bool
}

func New(log *slog.Logger) (*LinuxEventLoop, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	l := &LinuxEventLoop{log: log, epollFD: fd, wakeFD: wfd}
	if err := l.Register(wfd, domain.EventRead); err != nil {
		unix.Close(wfd)
		unix.Close(fd)
		return nil, err
	}
	return l, nil
}

func (l *LinuxEventLoop) Register(fd int, events domain.EventType) error {
	evt := &unix.EpollEvent{
		Events: uint32(events),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_ADD, fd, evt)
}

func (l *LinuxEventLoop) Modify(fd int, events domain.EventType) error {
	evt := &unix.EpollEvent{
		Events: uint32(events),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_MOD, fd, evt)
}

func (l *LinuxEventLoop) Unregister(fd int) error {
	return unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_DEL, fd, nil)
}

// Submit queues fn to run on the loop goroutine. It is safe to call
// from any goroutine.
func (l *LinuxEventLoop) Submit(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.wake()
}

// Stop makes Run return nil once the current batch is finished.
func (l *LinuxEventLoop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.wake()
}

// Close releases the epoll and eventfd descriptors. Call it after Run
// has returned.
func (l *LinuxEventLoop) Close() error {
	unix.Close(l.wakeFD)
	return unix.Close(l.epollFD)
}

func (l *LinuxEventLoop) wake() {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(l.wakeFD, one[:]); err != nil && err != unix.EAGAIN {
		l.log.Error("Event loop wake-up failed", "error", err)
	}
}

func (l *LinuxEventLoop) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(l.wakeFD, buf[:]); err != nil {
			return
		}
	}
}

// runTasks executes queued work and reports whether Stop was called.
func (l *LinuxEventLoop) runTasks() bool {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	stopped := l.stopped
	l.mu.Unlock()

	for _, fn := range tasks {
		fn()
	}
	return stopped
}

func (l *LinuxEventLoop) Run(handler domain.EventHandler) error {
	events := make([]unix.EpollEvent, maxEvents)
	for {
		if l.runTasks() {
			return nil
		}

		n, err := unix.EpollWait(l.epollFD, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		batch := events[:n]
		slices.SortFunc(batch, func(a, b unix.EpollEvent) int {
			return int(a.Fd) - int(b.Fd)
		})

		for i := range batch {
			fd := int(batch[i].Fd)
			if fd == l.wakeFD {
				l.drainWake()
				continue
			}

			if err := handler.HandleEvent(fd, translate(batch[i].Events)); err != nil {
				l.log.Error("Error handling event", "fd", fd, "error", err)
			}
		}
	}
}

// translate maps an epoll mask to domain events. Hang-ups and errors
// surface as read readiness so the next read observes them.
func translate(mask uint32) domain.EventType {
	var ev domain.EventType
	if mask&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0 {
		ev |= domain.EventRead
	}
	if mask&unix.EPOLLOUT != 0 {
		ev |= domain.EventWrite
	}
	return ev
}
