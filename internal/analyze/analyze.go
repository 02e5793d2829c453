package analyze

import (
	"time"

	"github.com/google/uuid"
	"github.com/jaxxstorm/hopwatch/internal/model"
)

const (
	DefaultHighLatencyMs = 200
	DefaultPacketLossPct = 3
)

// Thresholds holds the classifier limits. A nil field takes its default; an
// explicit zero is honoured.
type Thresholds struct {
	HighLatencyMs *float64
	PacketLossPct *float64
}

type limits struct {
	highLatencyMs float64
	packetLossPct float64
}

func (t Thresholds) resolve() limits {
	l := limits{highLatencyMs: DefaultHighLatencyMs, packetLossPct: DefaultPacketLossPct}
	if t.HighLatencyMs != nil {
		l.highLatencyMs = *t.HighLatencyMs
	}
	if t.PacketLossPct != nil {
		l.packetLossPct = *t.PacketLossPct
	}
	return l
}

// Classification is the verdict for one run. ProblemHop is 0 and IssueKind is
// empty when there are no findings.
type Classification struct {
	Findings           []model.AnomalyFinding `json:"findings"`
	Stats              model.RunStats         `json:"stats"`
	ReachedDestination bool                   `json:"reached_destination"`
	DestinationAddr    string                 `json:"destination_addr,omitempty"`
	ProblemHop         int                    `json:"problem_hop,omitempty"`
	IssueKind          model.IssueKind        `json:"issue_kind,omitempty"`
}

func (c Classification) Anomalous() bool {
	return len(c.Findings) > 0
}

func Classify(hops []model.HopObservation, thresholds Thresholds) Classification {
	l := thresholds.resolve()
	result := Classification{Findings: []model.AnomalyFinding{}}

	if n := len(hops); n > 0 {
		last := hops[n-1]
		result.ReachedDestination = last.HasLatency()
		if result.ReachedDestination {
			result.DestinationAddr = last.Address
		}
	}

	for i, hop := range hops {
		if hop.HasLatency() && *hop.LatencyMs > l.highLatencyMs {
			value := *hop.LatencyMs
			result.Findings = append(result.Findings, model.AnomalyFinding{
				Kind:      model.FindingHighLatency,
				HopNumber: hop.HopNumber,
				Value:     &value,
				Threshold: l.highLatencyMs,
			})
		}
		if i == len(hops)-1 && hop.TimedOut && hop.HasAddress() && !result.ReachedDestination {
			result.Findings = append(result.Findings, model.AnomalyFinding{
				Kind:      model.FindingTimeout,
				HopNumber: hop.HopNumber,
			})
		}
	}

	result.Stats = Stats(hops)
	result.ProblemHop = problemHop(result.Findings)
	if result.Anomalous() {
		result.IssueKind = issueKind(result.Findings, result.Stats, l)
	}
	return result
}

// Stats computes mean latency over answered hops and loss over address-bearing
// hops that either answered or timed out. Address-less hops, and addressed hops
// with neither a latency nor a timeout, never count towards loss.
func Stats(hops []model.HopObservation) model.RunStats {
	var sum float64
	var answered, addressed, lost int
	for _, hop := range hops {
		if hop.HasLatency() {
			sum += *hop.LatencyMs
			answered++
		}
		if hop.HasAddress() && (hop.TimedOut || hop.HasLatency()) {
			addressed++
			if hop.TimedOut {
				lost++
			}
		}
	}

	stats := model.RunStats{}
	if answered > 0 {
		mean := sum / float64(answered)
		stats.MeanLatencyMs = &mean
	}
	if addressed > 0 {
		stats.LossPct = float64(lost) / float64(addressed) * 100
	}
	return stats
}

func problemHop(findings []model.AnomalyFinding) int {
	hop := 0
	worst := -1.0
	for _, finding := range findings {
		if finding.Kind == model.FindingTimeout {
			return finding.HopNumber
		}
		if finding.Value != nil && *finding.Value > worst {
			worst = *finding.Value
			hop = finding.HopNumber
		}
	}
	return hop
}

func issueKind(findings []model.AnomalyFinding, stats model.RunStats, l limits) model.IssueKind {
	for _, finding := range findings {
		if finding.Kind == model.FindingTimeout {
			return model.IssueTimeout
		}
	}
	if stats.LossPct > l.packetLossPct {
		return model.IssuePacketLoss
	}
	return model.IssueHighLatency
}

// BuildEvent snapshots an anomalous run into an event ready for persistence.
func BuildEvent(target string, hops []model.HopObservation, c Classification, now time.Time) model.AnomalyEvent {
	snapshot := make([]model.HopObservation, len(hops))
	copy(snapshot, hops)
	return model.AnomalyEvent{
		ID:              uuid.NewString(),
		Target:          target,
		DestinationAddr: c.DestinationAddr,
		IssueKind:       c.IssueKind,
		HopCount:        len(hops),
		ProblemHop:      c.ProblemHop,
		MeanLatencyMs:   c.Stats.MeanLatencyMs,
		LossPct:         c.Stats.LossPct,
		CreatedAt:       now.UTC(),
		Hops:            snapshot,
	}
}
