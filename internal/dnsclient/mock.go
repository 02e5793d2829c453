package dnsclient

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
)

// MockTransport answers through Responder and counts exchanges.
type MockTransport struct {
	Responder func(server string, msg *dns.Msg) (*dns.Msg, time.Duration, error)
	calls     atomic.Int64
}

func (m *MockTransport) Exchange(ctx context.Context, server string, msg *dns.Msg) (*dns.Msg, time.Duration, error) {
	m.calls.Add(1)
	if m.Responder == nil {
		return nil, 0, nil
	}
	return m.Responder(server, msg)
}

func (m *MockTransport) Calls() int64 {
	return m.calls.Load()
}

// PTRReply builds a successful answer to a PTR query.
func PTRReply(req *dns.Msg, target string) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Answer = append(resp.Answer, &dns.PTR{
		Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 300},
		Ptr: dns.Fqdn(target),
	})
	return resp
}
