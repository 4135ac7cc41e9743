//go:build linux

package resolver

import (
	"errors"
	"net"
	"testing"

	"github.com/miekg/dns"
	"minitalk/internal/domain"
)

func TestNewPTRQuery(t *testing.T) {
	m, err := NewPTRQuery(net.IPv4(192, 0, 2, 10))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Question) != 1 {
		t.Fatalf("questions = %d", len(m.Question))
	}
	q := m.Question[0]
	if q.Name != "10.2.0.192.in-addr.arpa." || q.Qtype != dns.TypePTR {
		t.Errorf("question = %v", q)
	}
	if !m.RecursionDesired {
		t.Error("recursion not requested")
	}
}

func answerFor(t *testing.T, q *dns.Msg, rcode int, rrs ...dns.RR) []byte {
	t.Helper()
	resp := new(dns.Msg)
	resp.SetRcode(q, rcode)
	resp.Answer = rrs
	b, err := resp.Pack()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestParsePTRAnswer(t *testing.T) {
	q, _ := NewPTRQuery(net.IPv4(192, 0, 2, 10))
	rr, err := dns.NewRR("10.2.0.192.in-addr.arpa. 300 IN PTR Host.Example.")
	if err != nil {
		t.Fatal(err)
	}

	id, host, err := ParsePTRAnswer(answerFor(t, q, dns.RcodeSuccess, rr))
	if err != nil {
		t.Fatal(err)
	}
	if id != q.Id || host != "host.example." {
		t.Errorf("ParsePTRAnswer = %d, %q; want %d, host.example.", id, host, q.Id)
	}
}

func TestParsePTRAnswerFailures(t *testing.T) {
	q, _ := NewPTRQuery(net.IPv4(192, 0, 2, 10))

	id, _, err := ParsePTRAnswer(answerFor(t, q, dns.RcodeSuccess))
	if !errors.Is(err, ErrNoRecord) || id != q.Id {
		t.Errorf("empty answer = %d, %v", id, err)
	}

	id, _, err = ParsePTRAnswer(answerFor(t, q, dns.RcodeNameError))
	if err == nil || id != q.Id {
		t.Errorf("NXDOMAIN answer = %d, %v", id, err)
	}

	if _, _, err := ParsePTRAnswer([]byte{0x01}); err == nil {
		t.Error("garbage should not parse")
	}
}

func TestNewPTRResolverBadServer(t *testing.T) {
	for _, s := range []string{"8.8.8.8", "8.8.8.8:dns", "resolver:53"} {
		if _, err := NewPTRResolver(s); err == nil {
			t.Errorf("NewPTRResolver(%q) succeeded", s)
		}
	}
}

func TestPTRResolverOpenClose(t *testing.T) {
	r, err := NewPTRResolver("127.0.0.1:53")
	if err != nil {
		t.Fatal(err)
	}
	if r.FD() <= 0 {
		t.Errorf("FD() = %d", r.FD())
	}
	if err := r.Close(); err != nil {
		t.Error(err)
	}
}

func TestAnswerWouldBlockWhenIdle(t *testing.T) {
	r, err := NewPTRResolver("127.0.0.1:53")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, _, err := r.Answer(); !errors.Is(err, domain.ErrWouldBlock) {
		t.Errorf("Answer() on idle socket = %v, want ErrWouldBlock", err)
	}
}
