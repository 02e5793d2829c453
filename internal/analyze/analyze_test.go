package analyze

import (
	"math"
	"testing"
	"time"

	"github.com/jaxxstorm/hopwatch/internal/model"
	"github.com/jaxxstorm/hopwatch/internal/parse"
)

func hop(n int, addr string, latency float64) model.HopObservation {
	return model.HopObservation{HopNumber: n, Address: addr, LatencyMs: model.Float(latency)}
}

func timeout(n int, addr string) model.HopObservation {
	return model.HopObservation{HopNumber: n, Address: addr, TimedOut: true}
}

func TestClassifyHealthyRunHasNoFindings(t *testing.T) {
	c := Classify([]model.HopObservation{hop(1, "10.0.0.1", 5), hop(2, "10.0.0.2", 200)}, Thresholds{})
	if c.Anomalous() || c.IssueKind != "" || c.ProblemHop != 0 {
		t.Fatalf("expected no findings, got %#v", c)
	}
	if !c.ReachedDestination || c.DestinationAddr != "10.0.0.2" {
		t.Fatalf("expected destination reached: %#v", c)
	}
}

func TestClassifyHighLatency(t *testing.T) {
	c := Classify([]model.HopObservation{hop(1, "A", 5), hop(2, "B", 250), hop(3, "C", 10)}, Thresholds{HighLatencyMs: model.Float(200)})
	if len(c.Findings) != 1 {
		t.Fatalf("expected one finding, got %#v", c.Findings)
	}
	f := c.Findings[0]
	if f.Kind != model.FindingHighLatency || f.HopNumber != 2 || *f.Value != 250 || f.Threshold != 200 {
		t.Fatalf("unexpected finding: %#v", f)
	}
	if c.ProblemHop != 2 || c.IssueKind != model.IssueHighLatency {
		t.Fatalf("problem=%d issue=%s", c.ProblemHop, c.IssueKind)
	}
	if math.Abs(*c.Stats.MeanLatencyMs-265.0/3) > 1e-9 {
		t.Fatalf("mean=%v", *c.Stats.MeanLatencyMs)
	}
}

func TestClassifyWorstLatencyWins(t *testing.T) {
	c := Classify([]model.HopObservation{hop(1, "A", 300), hop(2, "B", 450), hop(3, "C", 220)}, Thresholds{})
	if len(c.Findings) != 3 || c.ProblemHop != 2 {
		t.Fatalf("unexpected: %#v", c)
	}
}

func TestClassifyTrailingTimeoutOutranksLatency(t *testing.T) {
	hops := []model.HopObservation{hop(1, "A", 5), hop(2, "B", 900), timeout(3, "Z")}
	c := Classify(hops, Thresholds{})

	timeouts := 0
	for _, f := range c.Findings {
		if f.Kind == model.FindingTimeout {
			timeouts++
			if f.HopNumber != 3 || f.Value != nil {
				t.Fatalf("unexpected timeout finding: %#v", f)
			}
		}
	}
	if timeouts != 1 {
		t.Fatalf("expected one timeout finding, got %d", timeouts)
	}
	if c.ProblemHop != 3 || c.IssueKind != model.IssueTimeout {
		t.Fatalf("problem=%d issue=%s", c.ProblemHop, c.IssueKind)
	}
	if c.ReachedDestination || c.DestinationAddr != "" {
		t.Fatalf("destination should not be reached")
	}
}

func TestClassifyIgnoresIntermediateTimeoutWhenReached(t *testing.T) {
	c := Classify([]model.HopObservation{hop(1, "A", 5), timeout(2, "B"), hop(3, "C", 8)}, Thresholds{})
	if c.Anomalous() {
		t.Fatalf("expected no findings, got %#v", c.Findings)
	}
}

func TestClassifyAddresslessTrailingTimeoutIsNotAFinding(t *testing.T) {
	c := Classify([]model.HopObservation{hop(1, "A", 5), {HopNumber: 2, TimedOut: true}}, Thresholds{})
	if c.Anomalous() {
		t.Fatalf("expected no findings, got %#v", c.Findings)
	}
}

func TestLossExcludesAddresslessHops(t *testing.T) {
	hops := []model.HopObservation{
		hop(1, "A", 5),
		{HopNumber: 2, TimedOut: true},
		{HopNumber: 3, TimedOut: true},
		timeout(4, "D"),
		hop(5, "E", 7),
	}
	stats := Stats(hops)
	if math.Abs(stats.LossPct-100.0/3) > 1e-9 {
		t.Fatalf("loss=%v", stats.LossPct)
	}
}

func TestStatsIgnoresAmbiguousHops(t *testing.T) {
	hops := parse.Parse(" 1 a (10.0.0.1) 5.0 ms\n 2 b (10.0.0.2)\n 3 c (10.0.0.3) * * *")
	if len(hops) != 3 {
		t.Fatalf("expected 3 hops, got %d", len(hops))
	}
	stats := Stats(hops)
	if math.Abs(stats.LossPct-50) > 1e-9 {
		t.Fatalf("loss=%v want 50", stats.LossPct)
	}
	if stats.MeanLatencyMs == nil || *stats.MeanLatencyMs != 5 {
		t.Fatalf("mean=%v", stats.MeanLatencyMs)
	}

	if lone := Stats([]model.HopObservation{{HopNumber: 1, Address: "A"}}); lone.MeanLatencyMs != nil || lone.LossPct != 0 {
		t.Fatalf("unexpected stats: %#v", lone)
	}
	if empty := Stats(nil); empty.MeanLatencyMs != nil || empty.LossPct != 0 {
		t.Fatalf("unexpected stats for empty run: %#v", empty)
	}
}

func TestAmbiguousHopsDoNotDiluteLossIntoHighLatency(t *testing.T) {
	// 1 lost of 3 counted hops is 33%; counting the two silent hops would
	// give 20%, under the 30% limit.
	hops := []model.HopObservation{
		hop(1, "A", 250),
		{HopNumber: 2, Address: "B"},
		{HopNumber: 3, Address: "C"},
		timeout(4, "D"),
		hop(5, "E", 9),
	}
	c := Classify(hops, Thresholds{PacketLossPct: model.Float(30)})
	if c.IssueKind != model.IssuePacketLoss {
		t.Fatalf("expected packet_loss, got %s (loss=%v)", c.IssueKind, c.Stats.LossPct)
	}
}

func TestExplicitZeroThresholdsAreHonoured(t *testing.T) {
	hops := []model.HopObservation{hop(1, "A", 0.5), timeout(2, "B"), hop(3, "C", 1)}

	c := Classify(hops, Thresholds{HighLatencyMs: model.Float(0), PacketLossPct: model.Float(0)})
	if len(c.Findings) != 2 {
		t.Fatalf("expected every answered hop flagged at a zero latency limit, got %#v", c.Findings)
	}
	if c.IssueKind != model.IssuePacketLoss {
		t.Fatalf("expected packet_loss at a zero loss limit, got %s", c.IssueKind)
	}

	if d := Classify(hops, Thresholds{}); d.Anomalous() {
		t.Fatalf("defaults should not flag this run: %#v", d.Findings)
	}
}

func TestIssueKindPacketLoss(t *testing.T) {
	hops := []model.HopObservation{hop(1, "A", 250), timeout(2, "B"), hop(3, "C", 9)}
	c := Classify(hops, Thresholds{PacketLossPct: model.Float(3)})
	if c.IssueKind != model.IssuePacketLoss {
		t.Fatalf("expected packet_loss, got %s", c.IssueKind)
	}
}

func TestBuildEventSnapshotsHops(t *testing.T) {
	hops := []model.HopObservation{hop(1, "A", 5), hop(2, "B", 250)}
	c := Classify(hops, Thresholds{})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := BuildEvent("example.com", hops, c, now)
	hops[0].Address = "mutated"

	if ev.ID == "" || ev.HopCount != 2 || ev.ProblemHop != 2 || ev.IssueKind != model.IssueHighLatency {
		t.Fatalf("unexpected event: %#v", ev)
	}
	if ev.Hops[0].Address != "A" {
		t.Fatalf("event hops alias caller slice")
	}
	if ev.DestinationAddr != "B" || !ev.CreatedAt.Equal(now) {
		t.Fatalf("unexpected destination/time: %#v", ev)
	}
}
