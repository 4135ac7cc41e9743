//go:build linux

package network

import (
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"golang.org/x/sys/unix"
	"minitalk/internal/domain"
)

// retry polls op until it stops returning ErrWouldBlock.
func retry(t *testing.T, op func() error) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := op()
		if !errors.Is(err, domain.ErrWouldBlock) {
			if err != nil {
				t.Fatal(err)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("operation kept blocking")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSocketTransportRoundTrip(t *testing.T) {
	lfd, err := ListenTCP("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer unix.Close(lfd)

	port, err := LocalPort(lfd)
	if err != nil || port == 0 {
		t.Fatalf("LocalPort = %d, %v", port, err)
	}

	var tr SocketTransport
	if _, _, err := tr.Accept(lfd); !errors.Is(err, domain.ErrWouldBlock) {
		t.Fatalf("Accept with no pending client = %v, want ErrWouldBlock", err)
	}

	client, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	var conn domain.ConnID
	var peer domain.Peer
	retry(t, func() (err error) {
		conn, peer, err = tr.Accept(lfd)
		return err
	})
	defer tr.Close(conn)

	if !peer.IP.Equal(net.IPv4(127, 0, 0, 1)) || peer.Port == 0 {
		t.Errorf("peer = %v", peer)
	}

	client.Write([]byte("alice\n"))
	buf := make([]byte, 64)
	var n int
	retry(t, func() (err error) {
		n, err = tr.Read(conn, buf)
		return err
	})
	if got := string(buf[:n]); got != "alice\n" {
		t.Errorf("Read = %q", got)
	}

	if _, err := tr.Write(conn, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = client.Read(buf)
	if err != nil || string(buf[:n]) != "hello" {
		t.Errorf("client read = %q, %v", buf[:n], err)
	}

	client.Close()
	retry(t, func() (err error) {
		n, err = tr.Read(conn, buf)
		return err
	})
	if n != 0 {
		t.Errorf("Read after client close = %d bytes, want 0", n)
	}
}

func TestListenTCPRejectsBadHost(t *testing.T) {
	if _, err := ListenTCP("not-an-ip", 0); err == nil {
		t.Error("expected error for invalid host")
	}
}

func TestSockaddrFamilies(t *testing.T) {
	sa, err := Sockaddr("::1", 53)
	if err != nil {
		t.Fatal(err)
	}
	if a, ok := sa.(*unix.SockaddrInet6); !ok || a.Port != 53 {
		t.Errorf("Sockaddr(::1) = %#v", sa)
	}
	sa, err = Sockaddr("8.8.8.8", 53)
	if err != nil {
		t.Fatal(err)
	}
	if a, ok := sa.(*unix.SockaddrInet4); !ok || a.Addr != [4]byte{8, 8, 8, 8} {
		t.Errorf("Sockaddr(8.8.8.8) = %#v", sa)
	}
}
