package rdns

import (
	"bufio"
	"io"
	"net/netip"
	"os"
	"strings"
)

var DefaultPublicResolvers = []string{
	"1.1.1.1",
	"8.8.8.8",
	"9.9.9.9",
}

const systemResolvConf = "/etc/resolv.conf"

// ResolverChain returns the configured resolvers when any are usable,
// otherwise the system nameservers followed by the public defaults. Entries
// that are not IP addresses (optionally with a port) are dropped.
func ResolverChain(configured []string) []string {
	if chain := resolverSet(configured); len(chain) > 0 {
		return chain
	}
	var system []string
	if f, err := os.Open(systemResolvConf); err == nil {
		system = nameservers(f)
		f.Close()
	}
	return resolverSet(append(system, DefaultPublicResolvers...))
}

// nameservers reads the nameserver lines of a resolv.conf. search, domain,
// options and sortlist lines carry no resolver and are ignored.
func nameservers(r io.Reader) []string {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexAny(line, "#;"); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != "nameserver" {
			continue
		}
		out = append(out, fields[1])
	}
	return out
}

// resolverSet normalizes and deduplicates resolver entries in order.
func resolverSet(entries []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, entry := range entries {
		server, ok := normalizeResolver(entry)
		if !ok || seen[server] {
			continue
		}
		seen[server] = true
		out = append(out, server)
	}
	return out
}

func normalizeResolver(entry string) (string, bool) {
	entry = strings.TrimSpace(entry)
	if ap, err := netip.ParseAddrPort(entry); err == nil {
		if ap.Port() == 53 {
			return ap.Addr().String(), true
		}
		return ap.String(), true
	}
	if addr, err := netip.ParseAddr(entry); err == nil {
		return addr.String(), true
	}
	return "", false
}
