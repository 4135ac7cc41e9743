//go:build linux

// Package resolver resolves client addresses to host names without
// blocking the event loop: queries go out on a non-blocking UDP socket
// whose answers are read when the loop reports it readable.
package resolver

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/miekg/dns"
	"golang.org/x/sys/unix"
	"minitalk/internal/domain"
	"minitalk/internal/infrastructure/network"
)

var ErrNoRecord = errors.New("no PTR record in answer")

type PTRResolver struct {
	fd     int
	server unix.Sockaddr
}

// NewPTRResolver opens the query socket for the given server, written
// as "ip:port".
func NewPTRResolver(server string) (*PTRResolver, error) {
	host, portStr, err := net.SplitHostPort(server)
	if err != nil {
		return nil, fmt.Errorf("dns server %q: %w", server, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("dns server port %q: %w", portStr, err)
	}
	sa, err := network.Sockaddr(host, port)
	if err != nil {
		return nil, err
	}

	fd, err := network.BindUDP(net.ParseIP(host))
	if err != nil {
		return nil, fmt.Errorf("failed to bind udp: %w", err)
	}
	return &PTRResolver{fd: fd, server: sa}, nil
}

func (r *PTRResolver) FD() int { return r.fd }

func (r *PTRResolver) Lookup(ip net.IP) (uint16, error) {
	m, err := NewPTRQuery(ip)
	if err != nil {
		return 0, err
	}
	packed, err := m.Pack()
	if err != nil {
		return 0, err
	}
	if err := unix.Sendto(r.fd, packed, 0, r.server); err != nil {
		return 0, err
	}
	return m.Id, nil
}

// Answer reads one datagram, or returns domain.ErrWouldBlock when none
// is queued. The returned id is valid whenever the datagram parsed,
// even if it carried no PTR record.
func (r *PTRResolver) Answer() (uint16, string, error) {
	buf := make([]byte, dns.MaxMsgSize)
	n, _, err := unix.Recvfrom(r.fd, buf, 0)
	if err == unix.EAGAIN {
		return 0, "", domain.ErrWouldBlock
	}
	if err != nil {
		return 0, "", err
	}
	return ParsePTRAnswer(buf[:n])
}

func (r *PTRResolver) Close() error {
	return unix.Close(r.fd)
}

func NewPTRQuery(ip net.IP) (*dns.Msg, error) {
	name, err := dns.ReverseAddr(ip.String())
	if err != nil {
		return nil, err
	}
	m := new(dns.Msg)
	m.SetQuestion(name, dns.TypePTR)
	m.RecursionDesired = true
	return m, nil
}

func ParsePTRAnswer(b []byte) (uint16, string, error) {
	msg := new(dns.Msg)
	if err := msg.Unpack(b); err != nil {
		return 0, "", fmt.Errorf("failed to unpack DNS response: %w", err)
	}
	if msg.Rcode != dns.RcodeSuccess {
		return msg.Id, "", fmt.Errorf("lookup failed: %s", dns.RcodeToString[msg.Rcode])
	}
	for _, ans := range msg.Answer {
		if ptr, ok := ans.(*dns.PTR); ok {
			return msg.Id, dns.CanonicalName(ptr.Ptr), nil
		}
	}
	return msg.Id, "", ErrNoRecord
}
