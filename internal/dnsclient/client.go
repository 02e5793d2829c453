// Package dnsclient sends reverse lookups to recursive resolvers.
package dnsclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

type Mode string

const (
	ModeUDP  Mode = "udp"
	ModeTCP  Mode = "tcp"
	ModeAuto Mode = "auto"
)

// ErrNoPTR is returned when a resolver answers without a PTR record.
var ErrNoPTR = errors.New("no PTR record")

type Options struct {
	Mode      Mode
	Timeout   time.Duration
	Retries   int
	EDNS0Size uint16
	Logger    *zap.Logger
}

type Client struct {
	opts Options
	udp  Transport
	tcp  Transport
}

func New(opts Options) *Client {
	return NewWithTransports(opts, &netTransport{network: "udp", timeout: opts.Timeout}, &netTransport{network: "tcp", timeout: opts.Timeout})
}

func NewWithTransports(opts Options, udp Transport, tcp Transport) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Retries == 0 {
		opts.Retries = 1
	}
	if opts.EDNS0Size == 0 {
		opts.EDNS0Size = 1232
	}
	if opts.Mode == "" {
		opts.Mode = ModeAuto
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		opts: opts,
		udp:  udp,
		tcp:  tcp,
	}
}

// BuildPTR builds a recursive PTR query for an IPv4 or IPv6 address.
func (c *Client) BuildPTR(addr string) (*dns.Msg, error) {
	name, err := dns.ReverseAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("reverse name for %q: %w", addr, err)
	}
	msg := &dns.Msg{}
	msg.SetQuestion(name, dns.TypePTR)
	msg.RecursionDesired = true
	msg.SetEdns0(c.opts.EDNS0Size, false)
	return msg, nil
}

// LookupPTR asks server for the PTR of addr and returns the first target
// without its trailing dot.
func (c *Client) LookupPTR(ctx context.Context, server, addr string) (string, error) {
	query, err := c.BuildPTR(addr)
	if err != nil {
		return "", err
	}

	ctxReq, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	resp, _, err := c.Exchange(ctxReq, server, query)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", ErrNoPTR
	}
	if resp.Rcode != dns.RcodeSuccess {
		if resp.Rcode == dns.RcodeNameError {
			return "", ErrNoPTR
		}
		return "", fmt.Errorf("%s answered %s", server, dns.RcodeToString[resp.Rcode])
	}
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", ErrNoPTR
}

// Exchange sends msg and reports which transport produced the answer. In
// auto mode a truncated UDP answer is retried over TCP.
func (c *Client) Exchange(ctx context.Context, server string, msg *dns.Msg) (*dns.Msg, string, error) {
	server = NormalizeServer(server)
	switch c.opts.Mode {
	case ModeTCP:
		resp, err := c.exchangeWithRetries(ctx, c.tcp, server, msg, "tcp")
		return resp, "tcp", err
	case ModeUDP:
		resp, err := c.exchangeWithRetries(ctx, c.udp, server, msg, "udp")
		return resp, "udp", err
	case ModeAuto:
		resp, err := c.exchangeWithRetries(ctx, c.udp, server, msg, "udp")
		if err == nil && resp != nil && resp.Truncated {
			c.opts.Logger.Debug("udp truncated, retrying with tcp", zap.String("server", server))
			resp, err = c.exchangeWithRetries(ctx, c.tcp, server, msg, "tcp")
			return resp, "tcp", err
		}
		return resp, "udp", err
	default:
		return nil, "", fmt.Errorf("unsupported transport mode: %s", c.opts.Mode)
	}
}

func (c *Client) exchangeWithRetries(ctx context.Context, transport Transport, server string, msg *dns.Msg, mode string) (*dns.Msg, error) {
	var lastErr error
	for i := 0; i < c.opts.Retries; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, rtt, err := transport.Exchange(ctx, server, msg.Copy())
		if err == nil {
			c.opts.Logger.Debug("dns exchange",
				zap.String("transport", mode),
				zap.String("server", server),
				zap.String("question", questionName(msg)),
				zap.Duration("rtt", rtt),
			)
			return resp, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("dns exchange failed")
	}
	return nil, lastErr
}

func questionName(msg *dns.Msg) string {
	if len(msg.Question) == 0 {
		return ""
	}
	return msg.Question[0].Name
}

// NormalizeServer appends the default port, bracketing bare IPv6 literals.
func NormalizeServer(server string) string {
	if server == "" {
		return server
	}
	if strings.HasPrefix(server, "[") {
		if strings.Contains(server, "]:") {
			return server
		}
		return server + ":53"
	}
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	if strings.Contains(server, ":") {
		return "[" + server + "]:53"
	}
	return server + ":53"
}
