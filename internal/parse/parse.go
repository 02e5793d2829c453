// Package parse turns raw traceroute-style text into an ordered hop sequence.
package parse

import (
	"bufio"
	"io"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jaxxstorm/hopwatch/internal/model"
)

var (
	hopLine     = regexp.MustCompile(`^\s*(\d+)\s+(.*)$`)
	parenAddr   = regexp.MustCompile(`\(([0-9A-Za-z:.%]+)\)`)
	latencyMark = regexp.MustCompile(`(?:^|[\s<])(\d+(?:\.\d+)?)\s*ms\b`)
)

// noReplyMarkers are host unreachable and administratively prohibited. The bare
// "*" field is checked separately.
// MaxLineBytes is the longest input line ParseReader accepts. A longer line
// stops the scan; the hops read before it are returned with the error.
const MaxLineBytes = 1024 * 1024

var noReplyMarkers = []string{"!H", "!X"}

// Parse reads one complete diagnostic run. Lines that do not start with a hop
// number are skipped, and so are hops with neither an address nor a no-reply
// marker. Input is cut short at the first line over MaxLineBytes; callers
// that need to know use ParseReader.
func Parse(raw string) []model.HopObservation {
	hops, _ := ParseReader(strings.NewReader(raw))
	return hops
}

// ParseRun wraps Parse into a ProbeRun for target.
func ParseRun(target, raw string, at time.Time) model.ProbeRun {
	return model.ProbeRun{Target: target, Hops: Parse(raw), ObservedAt: at}
}

func ParseReader(r io.Reader) ([]model.HopObservation, error) {
	hops := []model.HopObservation{}
	last := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
	for scanner.Scan() {
		hop, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		if hop.HopNumber <= last {
			continue
		}
		last = hop.HopNumber
		hops = append(hops, hop)
	}
	if err := scanner.Err(); err != nil {
		return hops, err
	}
	return hops, nil
}

func parseLine(line string) (model.HopObservation, bool) {
	m := hopLine.FindStringSubmatch(line)
	if m == nil {
		return model.HopObservation{}, false
	}
	number, err := strconv.Atoi(m[1])
	if err != nil || number <= 0 {
		return model.HopObservation{}, false
	}
	rest := m[2]

	hop := model.HopObservation{HopNumber: number}
	if addr, start, ok := firstAddress(rest); ok {
		hop.Address = addr
		hop.Hostname = precedingToken(rest[:start])
	}

	if latency, ok := firstLatency(rest); ok {
		hop.LatencyMs = &latency
	} else if hasNoReplyMarker(rest) {
		hop.TimedOut = true
	}

	if !hop.HasAddress() && !hop.TimedOut {
		return model.HopObservation{}, false
	}
	return hop, true
}

// firstAddress returns the first parenthesized IP literal and the offset of
// its opening parenthesis.
func firstAddress(s string) (string, int, bool) {
	for _, loc := range parenAddr.FindAllStringSubmatchIndex(s, -1) {
		literal := s[loc[2]:loc[3]]
		addr, err := netip.ParseAddr(literal)
		if err != nil {
			continue
		}
		return addr.String(), loc[0], true
	}
	return "", 0, false
}

func precedingToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	token := fields[len(fields)-1]
	if token == "*" || token == "ms" || strings.HasPrefix(token, "!") {
		return ""
	}
	return token
}

func firstLatency(s string) (float64, bool) {
	m := latencyMark.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func hasNoReplyMarker(s string) bool {
	if strings.Contains(s, "Request timed out") {
		return true
	}
	for _, field := range strings.Fields(s) {
		if field == "*" {
			return true
		}
		for _, marker := range noReplyMarkers {
			if strings.HasPrefix(field, marker) {
				return true
			}
		}
	}
	return false
}
